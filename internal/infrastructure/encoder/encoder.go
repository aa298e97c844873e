package encoder

import (
	"encoding/json"
	"errors"
	"strings"

	order "main/internal/domain/entity/order"
	interfaces "main/internal/domain/interfaces"
)

// Encoder renders the opaque settlement payload stored alongside each
// derived order. The payload carries everything the settlement router needs
// to fill the order against the pool later; this service never interprets it
// again after writing it.
type Encoder struct{}

func New() *Encoder {
	return &Encoder{}
}

type payload struct {
	Version  string `json:"version"`
	Pool     string `json:"pool"`
	VaultID  int64  `json:"vault_id"`
	Side     string `json:"side"`
	ItemID   string `json:"item_id,omitempty"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
}

func (e *Encoder) Encode(params interfaces.EncodeParams) (json.RawMessage, error) {
	if params.Pool == "" {
		return nil, errors.New("pool address is required")
	}
	if params.Side == order.SideSell && params.ItemID == "" {
		return nil, errors.New("item id is required for sell orders")
	}
	return json.Marshal(payload{
		Version:  "v1",
		Pool:     strings.ToLower(params.Pool),
		VaultID:  params.VaultID,
		Side:     string(params.Side),
		ItemID:   params.ItemID,
		Price:    params.Price.String(),
		Currency: params.Currency,
	})
}
