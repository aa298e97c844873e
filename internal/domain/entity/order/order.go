package order

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents which direction of the pool's curve an order prices.
type Side string

const (
	// SideBuy is the pool selling inventory to a taker.
	SideBuy Side = "buy"
	// SideSell is the pool bidding on a specific item from a taker.
	SideSell Side = "sell"
)

// FillabilityStatus tracks whether the pool can currently service the order.
type FillabilityStatus string

const (
	FillabilityFillable  FillabilityStatus = "fillable"
	FillabilityNoBalance FillabilityStatus = "no-balance"
)

// TriggerReason tags a reconciliation result for downstream deduplication.
type TriggerReason string

const (
	ReasonNewOrder TriggerReason = "new-order"
	ReasonReprice  TriggerReason = "reprice"
)

// TakerOpen marks an order fillable by anyone.
const TakerOpen = "0x0000000000000000000000000000000000000000"

// FeeEntry is one component of an order's fee breakdown.
type FeeEntry struct {
	Kind      string `json:"kind"`
	Recipient string `json:"recipient"`
	Bps       int64  `json:"bps"`
}

// MissingRoyalty records a royalty amount that is not embedded in the pool's
// own fee and was folded into the normalized value instead.
type MissingRoyalty struct {
	Bps       int64           `json:"bps"`
	Amount    decimal.Decimal `json:"amount"`
	Recipient string          `json:"recipient"`
}

// DerivedOrder is the persisted, normalized representation of one synthetic
// pool order. Exactly one row exists per identity; repeated reconciliation
// updates the row in place.
type DerivedOrder struct {
	ID                string            `json:"id"`
	Side              Side              `json:"side"`
	Pool              string            `json:"pool"`
	Collection        string            `json:"collection"`
	Maker             string            `json:"maker"`
	Taker             string            `json:"taker"`
	ItemID            *string           `json:"item_id,omitempty"`
	Price             decimal.Decimal   `json:"price"`
	Value             decimal.Decimal   `json:"value"`
	NormalizedValue   decimal.Decimal   `json:"normalized_value"`
	Currency          string            `json:"currency"`
	FeeBps            int64             `json:"fee_bps"`
	FeeBreakdown      []FeeEntry        `json:"fee_breakdown"`
	MissingRoyalties  []MissingRoyalty  `json:"missing_royalties,omitempty"`
	QuantityRemaining int64             `json:"quantity_remaining"`
	TokenSetID        string            `json:"token_set_id"`
	SourceID          int64             `json:"source_id"`
	ValidFrom         time.Time         `json:"valid_from"`
	ValidUntil        *time.Time        `json:"valid_until,omitempty"`
	Fillability       FillabilityStatus `json:"fillability_status"`
	RawOrder          json.RawMessage   `json:"raw_order"`
}

// Update carries the fields refreshed when an existing identity is repriced.
// All fields are written together from one self-consistent sample, so
// last-write-wins between concurrent updates is acceptable.
type Update struct {
	ID                string
	Price             decimal.Decimal
	Value             decimal.Decimal
	NormalizedValue   decimal.Decimal
	FeeBps            int64
	FeeBreakdown      []FeeEntry
	MissingRoyalties  []MissingRoyalty
	QuantityRemaining int64
	ValidFrom         time.Time
	RawOrder          json.RawMessage
}

// Result describes one successfully processed order within a batch.
type Result struct {
	ID            string        `json:"id"`
	TxHash        string        `json:"tx_hash"`
	Status        string        `json:"status"`
	TriggerReason TriggerReason `json:"trigger_reason"`
}

// StatusSuccess is the only status a Result carries; failed units are
// dropped from the result list and reported through logs.
const StatusSuccess = "success"
