package broker

import (
	"time"

	"github.com/google/uuid"

	order "main/internal/domain/entity/order"
	pool "main/internal/domain/entity/pool"
)

// TriggerEventMessage is the wire form of one pool trigger event published
// by the upstream chain watcher.
type TriggerEventMessage struct {
	Pool        string    `json:"pool"`
	TxHash      string    `json:"tx_hash"`
	TxTimestamp time.Time `json:"tx_timestamp"`
}

func (m TriggerEventMessage) toEntity() pool.TriggerEvent {
	return pool.TriggerEvent{
		Pool:        m.Pool,
		TxHash:      m.TxHash,
		TxTimestamp: m.TxTimestamp,
	}
}

// OrderEventMessage is the wire form of one order-changed notification sent
// to the downstream indexing pipeline after persistence.
type OrderEventMessage struct {
	EventID       uuid.UUID           `json:"event_id"`
	OrderID       string              `json:"order_id"`
	TxHash        string              `json:"tx_hash"`
	TriggerReason order.TriggerReason `json:"trigger_reason"`
	OccurredAt    time.Time           `json:"occurred_at"`
}
