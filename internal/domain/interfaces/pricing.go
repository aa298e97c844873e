package interfaces

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	order "main/internal/domain/entity/order"
	pool "main/internal/domain/entity/pool"
)

// PriceOracle quotes the pool's bonding curve at one depth level. Depth n
// assumes levels 1..n-1 are already filled, so callers must quote levels
// sequentially.
type PriceOracle interface {
	Quote(ctx context.Context, poolAddress string, depth int, slippageBps int64) (*pool.PriceQuote, error)
}

// PoolProvider exposes pool details and the pool's current item inventory.
type PoolProvider interface {
	Details(ctx context.Context, poolAddress string) (*pool.Pool, error)
	ItemsHeld(ctx context.Context, collection, poolAddress string) ([]string, error)
}

// EncodeParams are the normalized fields the encoder needs to produce the
// settlement payload for one derived order.
type EncodeParams struct {
	Pool     string
	Side     order.Side
	ItemID   string
	Price    decimal.Decimal
	Currency string
	VaultID  int64
}

// OrderEncoder produces the opaque on-chain settlement payload stored as the
// order's raw encoded form.
type OrderEncoder interface {
	Encode(params EncodeParams) (json.RawMessage, error)
}

// EventPublisher emits one downstream order-changed event per successfully
// processed order, after the batch has been persisted.
type EventPublisher interface {
	Publish(ctx context.Context, result order.Result) error
}
