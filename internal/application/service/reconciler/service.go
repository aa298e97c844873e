package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"main/internal/config"
	order "main/internal/domain/entity/order"
	pool "main/internal/domain/entity/pool"
	interfaces "main/internal/domain/interfaces"
)

// ErrPoolNotAllowed marks a trigger event whose pool is outside the
// configured allow-list.
var ErrPoolNotAllowed = errors.New("pool is not on the allow-list")

const defaultConcurrency = 20

// Collaborators groups the external contracts the reconciler consumes.
type Collaborators struct {
	Oracle    interfaces.PriceOracle
	Pools     interfaces.PoolProvider
	Royalties interfaces.RoyaltyRegistry
	TokenSets interfaces.TokenSetRegistry
	Sources   interfaces.SourceRegistry
	Encoder   interfaces.OrderEncoder
	Orders    interfaces.OrderRepository
	Publisher interfaces.EventPublisher
}

// Service reconciles pool trigger events into the order store. One buy order
// identity per pool, one sell order identity per (pool, item); repeated
// reconciliation of an identity updates the existing row in place.
type Service struct {
	cfg    config.ReconcileConfig
	deps   Collaborators
	logger *logrus.Entry
}

func NewService(cfg config.ReconcileConfig, deps Collaborators, logger *logrus.Logger) *Service {
	return &Service{
		cfg:    cfg,
		deps:   deps,
		logger: logger.WithField("component", "reconciler"),
	}
}

// Reconcile processes a batch of trigger events with bounded fan-out and
// returns one result per successfully processed order. Failed events, legs
// and items are absent from the results; their detail goes to the logs.
// New orders are buffered and bulk-inserted once after every event has
// finished; updates are applied immediately by the legs.
func (s *Service) Reconcile(ctx context.Context, events []pool.TriggerEvent) ([]order.Result, error) {
	if len(events) == 0 {
		return nil, nil
	}

	workers := s.cfg.Concurrency
	if workers <= 0 {
		workers = defaultConcurrency
	}
	if workers > len(events) {
		workers = len(events)
	}

	collector := newInsertCollector()
	workCh := make(chan pool.TriggerEvent, len(events))
	resultCh := make(chan order.Result, len(events)*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for event := range workCh {
				results, err := s.processEvent(ctx, event, collector)
				if err != nil {
					s.logger.WithFields(logrus.Fields{
						"pool":    event.Pool,
						"tx_hash": event.TxHash,
					}).WithError(err).Warn("skipping pool event")
					continue
				}
				for _, res := range results {
					resultCh <- res
				}
			}
		}()
	}

	for _, event := range events {
		workCh <- event
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]order.Result, 0, len(events))
	for res := range resultCh {
		results = append(results, res)
	}

	inserts := collector.drain()
	if len(inserts) > 0 {
		if err := s.deps.Orders.InsertBatch(ctx, inserts); err != nil {
			return nil, fmt.Errorf("flush new orders: %w", err)
		}
	}

	for _, res := range results {
		if err := s.deps.Publisher.Publish(ctx, res); err != nil {
			s.logger.WithField("order_id", res.ID).WithError(err).Warn("publish order event failed")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"events":  len(events),
		"orders":  len(results),
		"inserts": len(inserts),
	}).Info("reconcile batch complete")

	return results, nil
}

// processEvent runs one pool event to completion. The buy and sell legs are
// independent: a failure in one is logged and does not abort the other.
func (s *Service) processEvent(ctx context.Context, event pool.TriggerEvent, collector *insertCollector) ([]order.Result, error) {
	if !s.cfg.Allowed(event.Pool) {
		return nil, ErrPoolNotAllowed
	}

	details, err := s.deps.Pools.Details(ctx, event.Pool)
	if err != nil {
		return nil, fmt.Errorf("pool details: %w", err)
	}

	ladder, err := sampleLadder(ctx, s.deps.Oracle, details.Address, s.cfg.QuoteDepth, s.cfg.SlippageBps)
	if err != nil {
		return nil, fmt.Errorf("sample quote ladder: %w", err)
	}

	sourceID, err := s.deps.Sources.Resolve(ctx, s.cfg.SourceName)
	if err != nil {
		return nil, fmt.Errorf("resolve source %q: %w", s.cfg.SourceName, err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"pool":    details.Address,
		"tx_hash": event.TxHash,
	})

	var results []order.Result

	buyResults, err := s.buyLeg(ctx, event, details, ladder, sourceID, collector)
	if err != nil {
		log.WithError(err).Warn("buy leg failed")
	} else {
		results = append(results, buyResults...)
	}

	sellResults, err := s.sellLeg(ctx, event, details, ladder, sourceID, collector, log)
	if err != nil {
		log.WithError(err).Warn("sell leg failed")
	} else {
		results = append(results, sellResults...)
	}

	return results, nil
}

// legPricing is the pricing shared by every order a leg derives. The curve
// price is per unit, not per item, so the sell leg computes it once.
type legPricing struct {
	price      decimal.Decimal
	value      decimal.Decimal
	normalized decimal.Decimal
	currency   string
	feeBps     int64
	fees       []order.FeeEntry
	missing    []order.MissingRoyalty
}

func (s *Service) pricingFor(ctx context.Context, details *pool.Pool, quote pool.PriceQuote, price decimal.Decimal, side order.Side) (*legPricing, error) {
	feeBps := quote.SellFeeBps
	if side == order.SideSell {
		feeBps = quote.BuyFeeBps
	}

	defaults, err := s.deps.Royalties.DefaultRoyalties(ctx, details.Collection)
	if err != nil {
		return nil, fmt.Errorf("default royalties for %s: %w", details.Collection, err)
	}
	normalized, missing := applyRoyalties(defaults, price, side)

	return &legPricing{
		price:      price,
		value:      price,
		normalized: normalized,
		currency:   quote.Currency,
		feeBps:     feeBps,
		fees: []order.FeeEntry{{
			Kind:      "marketplace",
			Recipient: details.Address,
			Bps:       feeBps,
		}},
		missing: missing,
	}, nil
}

// buyLeg maintains the pool's single collection-wide buy order, driven by
// the ladder's sell-direction prices.
func (s *Service) buyLeg(ctx context.Context, event pool.TriggerEvent, details *pool.Pool, ladder pool.QuoteLadder, sourceID int64, collector *insertCollector) ([]order.Result, error) {
	if len(ladder) == 0 {
		return nil, nil
	}

	id := order.BuyOrderID(details.Address)

	if ladder[0].SellPrice == nil {
		// The pool cannot currently sell to a taker. Tombstone an existing
		// buy order; a pool that was never fillable has nothing to touch.
		_, err := s.deps.Orders.GetByID(ctx, id)
		if errors.Is(err, interfaces.ErrOrderNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("lookup buy order: %w", err)
		}
		if err := s.deps.Orders.MarkUnfillable(ctx, id, event.TxTimestamp); err != nil {
			return nil, fmt.Errorf("mark buy order unfillable: %w", err)
		}
		return nil, nil
	}

	prices := ladder.SellPrices()
	pricing, err := s.pricingFor(ctx, details, ladder[0], prices[0], order.SideBuy)
	if err != nil {
		return nil, err
	}

	raw, err := s.deps.Encoder.Encode(interfaces.EncodeParams{
		Pool:     details.Address,
		Side:     order.SideBuy,
		Price:    pricing.price,
		Currency: pricing.currency,
		VaultID:  details.VaultID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode buy order: %w", err)
	}

	existing, err := s.deps.Orders.GetByID(ctx, id)
	if err != nil && !errors.Is(err, interfaces.ErrOrderNotFound) {
		return nil, fmt.Errorf("lookup buy order: %w", err)
	}

	if existing == nil {
		tokenSetID, err := s.deps.TokenSets.RegisterCollectionWide(ctx, details.Collection)
		if err != nil {
			return nil, fmt.Errorf("register collection token set: %w", err)
		}
		collector.add(order.DerivedOrder{
			ID:                id,
			Side:              order.SideBuy,
			Pool:              details.Address,
			Collection:        details.Collection,
			Maker:             details.Address,
			Taker:             order.TakerOpen,
			Price:             pricing.price,
			Value:             pricing.value,
			NormalizedValue:   pricing.normalized,
			Currency:          pricing.currency,
			FeeBps:            pricing.feeBps,
			FeeBreakdown:      pricing.fees,
			MissingRoyalties:  pricing.missing,
			QuantityRemaining: int64(len(prices)),
			TokenSetID:        tokenSetID,
			SourceID:          sourceID,
			ValidFrom:         event.TxTimestamp,
			Fillability:       order.FillabilityFillable,
			RawOrder:          raw,
		})
		return []order.Result{{
			ID:            id,
			TxHash:        event.TxHash,
			Status:        order.StatusSuccess,
			TriggerReason: order.ReasonNewOrder,
		}}, nil
	}

	if err := s.deps.Orders.Update(ctx, order.Update{
		ID:                id,
		Price:             pricing.price,
		Value:             pricing.value,
		NormalizedValue:   pricing.normalized,
		FeeBps:            pricing.feeBps,
		FeeBreakdown:      pricing.fees,
		MissingRoyalties:  pricing.missing,
		QuantityRemaining: int64(len(prices)),
		ValidFrom:         event.TxTimestamp,
		RawOrder:          raw,
	}); err != nil {
		return nil, fmt.Errorf("update buy order: %w", err)
	}
	return []order.Result{{
		ID:            id,
		TxHash:        event.TxHash,
		Status:        order.StatusSuccess,
		TriggerReason: order.ReasonReprice,
	}}, nil
}

// sellLeg maintains one sell order per item the pool currently holds, driven
// by the ladder's buy-direction prices. Items are processed independently;
// one item's failure never touches its siblings.
func (s *Service) sellLeg(ctx context.Context, event pool.TriggerEvent, details *pool.Pool, ladder pool.QuoteLadder, sourceID int64, collector *insertCollector, log *logrus.Entry) ([]order.Result, error) {
	if len(ladder) == 0 || ladder[0].BuyPrice == nil {
		// The pool has no bid: leave any existing sell orders untouched.
		return nil, nil
	}

	prices := ladder.BuyPrices()
	pricing, err := s.pricingFor(ctx, details, ladder[0], prices[0], order.SideSell)
	if err != nil {
		return nil, err
	}

	items, err := s.deps.Pools.ItemsHeld(ctx, details.Collection, details.Address)
	if err != nil {
		return nil, fmt.Errorf("items held: %w", err)
	}

	results := make([]order.Result, 0, len(items))
	for _, itemID := range items {
		res, err := s.sellItem(ctx, event, details, itemID, pricing, sourceID, collector)
		if err != nil {
			log.WithField("item_id", itemID).WithError(err).Warn("skipping sell item")
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Service) sellItem(ctx context.Context, event pool.TriggerEvent, details *pool.Pool, itemID string, pricing *legPricing, sourceID int64, collector *insertCollector) (order.Result, error) {
	id := order.SellOrderID(details.Address, itemID)

	raw, err := s.deps.Encoder.Encode(interfaces.EncodeParams{
		Pool:     details.Address,
		Side:     order.SideSell,
		ItemID:   itemID,
		Price:    pricing.price,
		Currency: pricing.currency,
		VaultID:  details.VaultID,
	})
	if err != nil {
		return order.Result{}, fmt.Errorf("encode sell order: %w", err)
	}

	existing, err := s.deps.Orders.GetByID(ctx, id)
	if err != nil && !errors.Is(err, interfaces.ErrOrderNotFound) {
		return order.Result{}, fmt.Errorf("lookup sell order: %w", err)
	}

	if existing == nil {
		tokenSetID, err := s.deps.TokenSets.RegisterSingleItem(ctx, details.Collection, itemID)
		if err != nil {
			return order.Result{}, fmt.Errorf("register item token set: %w", err)
		}
		item := itemID
		collector.add(order.DerivedOrder{
			ID:                id,
			Side:              order.SideSell,
			Pool:              details.Address,
			Collection:        details.Collection,
			Maker:             details.Address,
			Taker:             order.TakerOpen,
			ItemID:            &item,
			Price:             pricing.price,
			Value:             pricing.value,
			NormalizedValue:   pricing.normalized,
			Currency:          pricing.currency,
			FeeBps:            pricing.feeBps,
			FeeBreakdown:      pricing.fees,
			MissingRoyalties:  pricing.missing,
			QuantityRemaining: 1,
			TokenSetID:        tokenSetID,
			SourceID:          sourceID,
			ValidFrom:         event.TxTimestamp,
			Fillability:       order.FillabilityFillable,
			RawOrder:          raw,
		})
		return order.Result{
			ID:            id,
			TxHash:        event.TxHash,
			Status:        order.StatusSuccess,
			TriggerReason: order.ReasonNewOrder,
		}, nil
	}

	if err := s.deps.Orders.Update(ctx, order.Update{
		ID:                id,
		Price:             pricing.price,
		Value:             pricing.value,
		NormalizedValue:   pricing.normalized,
		FeeBps:            pricing.feeBps,
		FeeBreakdown:      pricing.fees,
		MissingRoyalties:  pricing.missing,
		QuantityRemaining: 1,
		ValidFrom:         event.TxTimestamp,
		RawOrder:          raw,
	}); err != nil {
		return order.Result{}, fmt.Errorf("update sell order: %w", err)
	}
	return order.Result{
		ID:            id,
		TxHash:        event.TxHash,
		Status:        order.StatusSuccess,
		TriggerReason: order.ReasonReprice,
	}, nil
}
