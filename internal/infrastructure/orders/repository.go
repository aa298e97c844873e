package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	order "main/internal/domain/entity/order"
	interfaces "main/internal/domain/interfaces"
)

// Schema is the DDL for the order store, applied statement by statement by
// cmd/migrate (pgx runs one statement per Exec).
var Schema = []string{`
	CREATE TABLE IF NOT EXISTS orders (
		id text PRIMARY KEY,
		side text NOT NULL,
		pool text NOT NULL,
		collection text NOT NULL,
		maker text NOT NULL,
		taker text NOT NULL,
		item_id text,
		price numeric NOT NULL,
		value numeric NOT NULL,
		normalized_value numeric NOT NULL,
		currency text NOT NULL,
		fee_bps bigint NOT NULL,
		fee_breakdown jsonb,
		missing_royalties jsonb,
		quantity_remaining bigint NOT NULL,
		token_set_id text NOT NULL,
		source_id bigint NOT NULL,
		valid_from timestamptz NOT NULL,
		valid_until timestamptz,
		fillability_status text NOT NULL,
		raw_order jsonb,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS orders_pool_side_idx ON orders (pool, side)`,
	`CREATE INDEX IF NOT EXISTS orders_token_set_idx ON orders (token_set_id)`,
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

const selectOrderQuery = `
	SELECT id, side, pool, collection, maker, taker, item_id,
	       price, value, normalized_value, currency,
	       fee_bps, fee_breakdown, missing_royalties,
	       quantity_remaining, token_set_id, source_id,
	       valid_from, valid_until, fillability_status, raw_order
	FROM orders
	WHERE id = $1`

func (r *Repository) GetByID(ctx context.Context, id string) (*order.DerivedOrder, error) {
	row := r.pool.QueryRow(ctx, selectOrderQuery, id)
	derived, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrOrderNotFound
		}
		return nil, err
	}
	return derived, nil
}

const insertOrderQuery = `
	INSERT INTO orders (
		id, side, pool, collection, maker, taker, item_id,
		price, value, normalized_value, currency,
		fee_bps, fee_breakdown, missing_royalties,
		quantity_remaining, token_set_id, source_id,
		valid_from, valid_until, fillability_status, raw_order
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	ON CONFLICT (id) DO NOTHING`

// InsertBatch bulk-inserts new orders. Conflicts on id are dropped silently:
// when two reconciliations race to create the same identity, the row written
// first wins.
func (r *Repository) InsertBatch(ctx context.Context, orders []order.DerivedOrder) error {
	if len(orders) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range orders {
		o := &orders[i]
		fees, err := marshalJSON(o.FeeBreakdown)
		if err != nil {
			return fmt.Errorf("marshal fee breakdown for %s: %w", o.ID, err)
		}
		royalties, err := marshalJSON(o.MissingRoyalties)
		if err != nil {
			return fmt.Errorf("marshal missing royalties for %s: %w", o.ID, err)
		}
		batch.Queue(insertOrderQuery,
			o.ID,
			o.Side,
			o.Pool,
			o.Collection,
			o.Maker,
			o.Taker,
			o.ItemID,
			o.Price,
			o.Value,
			o.NormalizedValue,
			o.Currency,
			o.FeeBps,
			fees,
			royalties,
			o.QuantityRemaining,
			o.TokenSetID,
			o.SourceID,
			o.ValidFrom,
			o.ValidUntil,
			o.Fillability,
			[]byte(o.RawOrder),
		)
	}
	return execBatch(ctx, r.pool, batch)
}

const updateOrderQuery = `
	UPDATE orders SET
		price = $2,
		value = $3,
		normalized_value = $4,
		fee_bps = $5,
		fee_breakdown = $6,
		missing_royalties = $7,
		quantity_remaining = $8,
		valid_from = $9,
		valid_until = NULL,
		fillability_status = $10,
		raw_order = $11,
		updated_at = now()
	WHERE id = $1`

func (r *Repository) Update(ctx context.Context, update order.Update) error {
	fees, err := marshalJSON(update.FeeBreakdown)
	if err != nil {
		return fmt.Errorf("marshal fee breakdown for %s: %w", update.ID, err)
	}
	royalties, err := marshalJSON(update.MissingRoyalties)
	if err != nil {
		return fmt.Errorf("marshal missing royalties for %s: %w", update.ID, err)
	}
	tag, err := r.pool.Exec(ctx, updateOrderQuery,
		update.ID,
		update.Price,
		update.Value,
		update.NormalizedValue,
		update.FeeBps,
		fees,
		royalties,
		update.QuantityRemaining,
		update.ValidFrom,
		order.FillabilityFillable,
		[]byte(update.RawOrder),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrOrderNotFound
	}
	return nil
}

const markUnfillableQuery = `
	UPDATE orders SET
		fillability_status = $2,
		valid_until = $3,
		updated_at = now()
	WHERE id = $1`

func (r *Repository) MarkUnfillable(ctx context.Context, id string, validUntil time.Time) error {
	tag, err := r.pool.Exec(ctx, markUnfillableQuery, id, order.FillabilityNoBalance, validUntil)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrOrderNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (*order.DerivedOrder, error) {
	var (
		itemID     sql.NullString
		validUntil sql.NullTime
		fees       []byte
		royalties  []byte
		raw        []byte
	)
	o := &order.DerivedOrder{}
	err := row.Scan(
		&o.ID,
		&o.Side,
		&o.Pool,
		&o.Collection,
		&o.Maker,
		&o.Taker,
		&itemID,
		&o.Price,
		&o.Value,
		&o.NormalizedValue,
		&o.Currency,
		&o.FeeBps,
		&fees,
		&royalties,
		&o.QuantityRemaining,
		&o.TokenSetID,
		&o.SourceID,
		&o.ValidFrom,
		&validUntil,
		&o.Fillability,
		&raw,
	)
	if err != nil {
		return nil, err
	}
	if itemID.Valid {
		value := itemID.String
		o.ItemID = &value
	}
	if validUntil.Valid {
		t := validUntil.Time
		o.ValidUntil = &t
	}
	if len(fees) > 0 {
		if err := json.Unmarshal(fees, &o.FeeBreakdown); err != nil {
			return nil, fmt.Errorf("decode fee breakdown: %w", err)
		}
	}
	if len(royalties) > 0 {
		if err := json.Unmarshal(royalties, &o.MissingRoyalties); err != nil {
			return nil, fmt.Errorf("decode missing royalties: %w", err)
		}
	}
	o.RawOrder = json.RawMessage(raw)
	return o, nil
}

func execBatch(ctx context.Context, pool *pgxpool.Pool, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	results := pool.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}
