package interfaces

import (
	"context"
	"errors"
	"time"

	order "main/internal/domain/entity/order"
)

// ErrOrderNotFound is returned by OrderRepository.GetByID when no row exists
// for the requested identity.
var ErrOrderNotFound = errors.New("order not found")

// OrderRepository is the relational order store. Consistency across
// concurrent reconciliations comes from the identity-keyed
// insert-or-update protocol, not from cross-order transactions.
type OrderRepository interface {
	// GetByID returns ErrOrderNotFound when no row exists for the identity.
	GetByID(ctx context.Context, id string) (*order.DerivedOrder, error)

	// InsertBatch bulk-inserts new orders with a conflict-ignore policy keyed
	// on id: when two reconciliations race to create the same identity, the
	// first row wins and the duplicate is dropped silently.
	InsertBatch(ctx context.Context, orders []order.DerivedOrder) error

	// Update refreshes the priced fields of an existing identity in place.
	Update(ctx context.Context, update order.Update) error

	// MarkUnfillable tombstones an order whose side the pool can no longer
	// service. The row is kept, never deleted.
	MarkUnfillable(ctx context.Context, id string, validUntil time.Time) error

	Close()
}

// RoyaltyShare is one recipient of a collection's default royalty schedule.
type RoyaltyShare struct {
	Recipient string `json:"recipient"`
	Bps       int64  `json:"bps"`
}

// RoyaltyRegistry looks up default royalty schedules by collection.
type RoyaltyRegistry interface {
	DefaultRoyalties(ctx context.Context, collection string) ([]RoyaltyShare, error)
}

// TokenSetRegistry registers the token set an order applies to and returns
// its stable id. Registration is idempotent.
type TokenSetRegistry interface {
	// RegisterCollectionWide covers every token of a collection (buy orders).
	RegisterCollectionWide(ctx context.Context, collection string) (string, error)
	// RegisterSingleItem covers exactly one token (sell orders).
	RegisterSingleItem(ctx context.Context, collection, itemID string) (string, error)
}

// SourceRegistry resolves a human-readable source name to its attribution id,
// creating the source on first use.
type SourceRegistry interface {
	Resolve(ctx context.Context, name string) (int64, error)
}
