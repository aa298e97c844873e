package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/config"
	order "main/internal/domain/entity/order"
	pool "main/internal/domain/entity/pool"
	interfaces "main/internal/domain/interfaces"
)

const (
	testPool       = "0xpool0000000000000000000000000000000000aa"
	testCollection = "0xc011ec7100000000000000000000000000000001"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func eth(n int64) decimal.Decimal {
	// Prices are carried in base units (wei); n is in milliether here to
	// keep ladder fixtures readable.
	return decimal.NewFromInt(n).Mul(decimal.New(1, 15))
}

func quotePtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// --- fakes ---

type fakeOracle struct {
	mu      sync.Mutex
	quotes  map[string][]pool.PriceQuote // pool -> ladder, indexed by depth-1
	calls   map[string][]int
	failFor map[string]bool
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		quotes:  make(map[string][]pool.PriceQuote),
		calls:   make(map[string][]int),
		failFor: make(map[string]bool),
	}
}

func (f *fakeOracle) Quote(_ context.Context, poolAddress string, depth int, _ int64) (*pool.PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[poolAddress] {
		return nil, errors.New("oracle unreachable")
	}
	f.calls[poolAddress] = append(f.calls[poolAddress], depth)
	ladder := f.quotes[poolAddress]
	if depth > len(ladder) {
		return &pool.PriceQuote{Depth: depth, Currency: "ETH"}, nil
	}
	quote := ladder[depth-1]
	quote.Depth = depth
	return &quote, nil
}

type fakePools struct {
	details map[string]*pool.Pool
	items   map[string][]string
}

func (f *fakePools) Details(_ context.Context, poolAddress string) (*pool.Pool, error) {
	details, ok := f.details[poolAddress]
	if !ok {
		return nil, errors.New("pool details unavailable")
	}
	return details, nil
}

func (f *fakePools) ItemsHeld(_ context.Context, _, poolAddress string) ([]string, error) {
	return f.items[poolAddress], nil
}

type fakeRoyalties struct {
	shares []interfaces.RoyaltyShare
}

func (f *fakeRoyalties) DefaultRoyalties(_ context.Context, _ string) ([]interfaces.RoyaltyShare, error) {
	return f.shares, nil
}

type fakeTokenSets struct {
	mu      sync.Mutex
	failFor map[string]bool
	created []string
}

func (f *fakeTokenSets) RegisterCollectionWide(_ context.Context, collection string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "contract:" + collection
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeTokenSets) RegisterSingleItem(_ context.Context, collection, itemID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[itemID] {
		return "", errors.New("token set unavailable")
	}
	id := fmt.Sprintf("token:%s:%s", collection, itemID)
	f.created = append(f.created, id)
	return id, nil
}

type fakeSources struct{}

func (fakeSources) Resolve(_ context.Context, _ string) (int64, error) {
	return 7, nil
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(params interfaces.EncodeParams) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"pool":%q,"side":%q}`, params.Pool, params.Side)), nil
}

type fakeRepo struct {
	mu         sync.Mutex
	rows       map[string]order.DerivedOrder
	unfillable map[string]time.Time
	inserted   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rows:       make(map[string]order.DerivedOrder),
		unfillable: make(map[string]time.Time),
	}
}

func (f *fakeRepo) GetByID(_ context.Context, id string) (*order.DerivedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, interfaces.ErrOrderNotFound
	}
	return &row, nil
}

func (f *fakeRepo) InsertBatch(_ context.Context, batch []order.DerivedOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range batch {
		f.inserted++
		if _, exists := f.rows[o.ID]; exists {
			continue // conflict-ignore
		}
		f.rows[o.ID] = o
	}
	return nil
}

func (f *fakeRepo) Update(_ context.Context, update order.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[update.ID]
	if !ok {
		return interfaces.ErrOrderNotFound
	}
	row.Price = update.Price
	row.Value = update.Value
	row.NormalizedValue = update.NormalizedValue
	row.FeeBps = update.FeeBps
	row.FeeBreakdown = update.FeeBreakdown
	row.MissingRoyalties = update.MissingRoyalties
	row.QuantityRemaining = update.QuantityRemaining
	row.ValidFrom = update.ValidFrom
	row.ValidUntil = nil
	row.Fillability = order.FillabilityFillable
	row.RawOrder = update.RawOrder
	f.rows[update.ID] = row
	return nil
}

func (f *fakeRepo) MarkUnfillable(_ context.Context, id string, validUntil time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return interfaces.ErrOrderNotFound
	}
	row.Fillability = order.FillabilityNoBalance
	row.ValidUntil = &validUntil
	f.rows[id] = row
	f.unfillable[id] = validUntil
	return nil
}

func (f *fakeRepo) Close() {}

type fakePublisher struct {
	mu     sync.Mutex
	events []order.Result
}

func (f *fakePublisher) Publish(_ context.Context, result order.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, result)
	return nil
}

// --- harness ---

type harness struct {
	service   *Service
	oracle    *fakeOracle
	pools     *fakePools
	royalties *fakeRoyalties
	tokenSets *fakeTokenSets
	repo      *fakeRepo
	publisher *fakePublisher
}

func newHarness(depth int) *harness {
	h := &harness{
		oracle: newFakeOracle(),
		pools: &fakePools{
			details: map[string]*pool.Pool{
				testPool: {Address: testPool, Collection: testCollection, VaultID: 11},
			},
			items: map[string][]string{},
		},
		royalties: &fakeRoyalties{},
		tokenSets: &fakeTokenSets{failFor: map[string]bool{}},
		repo:      newFakeRepo(),
		publisher: &fakePublisher{},
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h.service = NewService(config.ReconcileConfig{
		QuoteDepth:   depth,
		Concurrency:  4,
		SourceName:   "poolswap",
		AllowedPools: map[string]bool{testPool: true},
	}, Collaborators{
		Oracle:    h.oracle,
		Pools:     h.pools,
		Royalties: h.royalties,
		TokenSets: h.tokenSets,
		Sources:   fakeSources{},
		Encoder:   fakeEncoder{},
		Orders:    h.repo,
		Publisher: h.publisher,
	}, logger)
	return h
}

func (h *harness) setSellLadder(prices ...int64) {
	ladder := make([]pool.PriceQuote, len(prices))
	for i, p := range prices {
		ladder[i] = pool.PriceQuote{
			SellPrice:  quotePtr(eth(p)),
			SellFeeBps: 50,
			BuyFeeBps:  50,
			Currency:   "ETH",
		}
	}
	h.oracle.quotes[testPool] = ladder
}

func trigger() pool.TriggerEvent {
	return pool.TriggerEvent{Pool: testPool, TxHash: "0xtx1", TxTimestamp: testTime}
}

// --- tests ---

func TestReconcile_CreatesNewBuyOrder(t *testing.T) {
	h := newHarness(3)
	h.setSellLadder(1000, 1100, 1200)

	results, err := h.service.Reconcile(context.Background(), []pool.TriggerEvent{trigger()})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, order.BuyOrderID(testPool), res.ID)
	assert.Equal(t, "0xtx1", res.TxHash)
	assert.Equal(t, order.StatusSuccess, res.Status)
	assert.Equal(t, order.ReasonNewOrder, res.TriggerReason)

	row, err := h.repo.GetByID(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, order.SideBuy, row.Side)
	assert.True(t, row.Price.Equal(eth(1000)))
	assert.True(t, row.Value.Equal(eth(1000)))
	assert.True(t, row.NormalizedValue.Equal(eth(1000)))
	assert.Equal(t, int64(3), row.QuantityRemaining)
	assert.Equal(t, int64(50), row.FeeBps)
	assert.Equal(t, "contract:"+testCollection, row.TokenSetID)
	assert.Equal(t, int64(7), row.SourceID)
	assert.Equal(t, testTime, row.ValidFrom)
	assert.Nil(t, row.ValidUntil)
	assert.Empty(t, row.MissingRoyalties)
	assert.Nil(t, row.ItemID)

	// No items held: the sell leg must not create anything.
	assert.Len(t, h.repo.rows, 1)
	assert.Len(t, h.publisher.events, 1)
}

func TestReconcile_SamplesLadderSequentially(t *testing.T) {
	h := newHarness(3)
	h.setSellLadder(1000, 1100, 1200)

	_, err := h.service.Reconcile(context.Background(), []pool.TriggerEvent{trigger()})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, h.oracle.calls[testPool])
}

func TestReconcile_SecondPassRepricesInPlace(t *testing.T) {
	h := newHarness(3)
	h.setSellLadder(1000, 1100, 1200)

	_, err := h.service.Reconcile(context.Background(), []pool.TriggerEvent{trigger()})
	require.NoError(t, err)

	h.setSellLadder(900, 1000, 1100)
	results, err := h.service.Reconcile(context.Background(), []pool.TriggerEvent{trigger()})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, order.ReasonReprice, results[0].TriggerReason)

	// Still exactly one row for the identity.
	assert.Len(t, h.repo.rows, 1)
	row, err := h.repo.GetByID(context.Background(), order.BuyOrderID(testPool))
	require.NoError(t, err)
	assert.True(t, row.Price.Equal(eth(900)))
}

func TestReconcile_DuplicateEventsInOneBatchKeepSingleRow(t *testing.T) {
	h := newHarness(3)
	h.setSellLadder(1000, 1100, 1200)

	results, err := h.service.Reconcile(context.Background(), []pool.TriggerEvent{trigger(), trigger()})
	require.NoError(t, err)

	// Both events produce a result, but the conflict-ignore insert keeps a
	// single row for the shared identity.
	assert.Len(t, results, 2)
	assert.Len(t, h.repo.rows, 1)
}

func TestReconcile_PartialLadderShrinksQuantity(t *testing.T) {
	h := newHarness(3)
	h.oracle.quotes[testPool] = []pool.PriceQuote{
		{SellPrice: quotePtr(eth(1000)), SellFeeBps: 50, Currency: "ETH"},
		{SellPrice: quotePtr(eth(1100)), SellFeeBps: 50, Currency: "ETH"},
		{Currency: "ETH"}, // pool runs out of inventory at depth 3
	}

	results, err := h.service.Reconcile(context.Background(), []pool.TriggerEvent{trigger()})
	require.NoError(t, err)
	require.Len(t, results, 1)

	row, err := h.repo.GetByID(context.Background(), results[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), row.QuantityRemaining)
}

func TestReconcile_NoSellPriceTombstonesExistingBuyOrder(t *testing.T) {
	h := newHarness(3)
	h.setSellLadder(1000, 1100, 1200)
	_, err := h.service.Reconcile(context.Background(), []pool.TriggerEvent{trigger()})
	require.NoError(t, err)

	// Pool can no longer sell to takers.
	h.oracle.quotes[testPool] = []pool.PriceQuote{{Currency: "ETH"}, {Currency: "ETH"}, {Currency: "ETH"}}
	later := pool.TriggerEvent{Pool: testPool, TxHash: "0xtx2", TxTimestamp: testTime.Add(time.Hour)}
	results, err := h.service.Reconcile(context.Background(), []pool.TriggerEvent{later})
	require.NoError(t, err)
	assert.Empty(t, results)

	id := order.BuyOrderID(testPool)
	row, err := h.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, order.FillabilityNoBalance, row.Fillability)
	require.NotNil(t, row.ValidUntil)
	assert.Equal(t, later.TxTimestamp, *row.ValidUntil)
}

func TestReconcile_NoSellPriceWithoutExistingOrderDoesNothing(t *testing.T) {
	h := newHarness(2)
	h.oracle.quotes[testPool] = []pool.PriceQuote{{Currency: "ETH"}, {Currency: "ETH"}}

	results, err := h.service.Reconcile(context.Background(), []pool.TriggerEvent{trigger()})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, h.repo.rows)
	assert.Empty(t, h.repo.unfillable)
}

func TestReconcile_SellLegCreatesOrderPerHeldItem(t *testing.T) {
	h := newHarness(2)
	h.oracle.quotes[testPool] = []pool.PriceQuote{
		{BuyPrice: quotePtr(eth(800)), SellPrice: quotePtr(eth(1000)), BuyFeeBps: 50, SellFeeBps: 50, Currency: "ETH"},
		{BuyPrice: quotePtr(eth(700)), SellPrice: quotePtr(eth(1100)), BuyFeeBps: 50, SellFeeBps: 50, Currency: "ETH"},
	}
	h.pools.items[testPool] = []string{"11", "12"}

	results, err := h.service.Reconcile(context.Background(), []pool.TriggerEvent{trigger()})
	require.NoError(t, err)
	assert.Len(t, results, 3) // one buy + two sells
	assert.Len(t, h.repo.rows, 3)

	for _, itemID := range []string{"11", "12"} {
		row, err := h.repo.GetByID(context.Background(), order.SellOrderID(testPool, itemID))
		require.NoError(t, err)
		assert.Equal(t, order.SideSell, row.Side)
		require.NotNil(t, row.ItemID)
		assert.Equal(t, itemID, *row.ItemID)
		assert.True(t, row.Price.Equal(eth(800)))
		assert.Equal(t, int64(1), row.QuantityRemaining)
		assert.Equal(t, fmt.Sprintf("token:%s:%s", testCollection, itemID), row.TokenSetID)
	}
}

func TestReconcile_NoBidSkipsSellLegEntirely(t *testing.T) {
	h := newHarness(1)
	// Sell orders exist from a previous pass.
	h.oracle.quotes[testPool] = []pool.PriceQuote{
		{BuyPrice: quotePtr(eth(800)), SellPrice: quotePtr(eth(1000)), BuyFeeBps: 50, SellFeeBps: 50, Currency: "ETH"},
	}
	h.pools.items[testPool] = []string{"11"}
	_, err := h.service.Reconcile(context.Background(), []pool.TriggerEvent{trigger()})
	require.NoError(t, err)

	sellID := order.SellOrderID(testPool, "11")
	before, err := h.repo.GetByID(context.Background(), sellID)
	require.NoError(t, err)

	// Bid disappears: sell orders are left untouched, not tombstoned.
	h.oracle.quotes[testPool] = []pool.PriceQuote{
		{SellPrice: quotePtr(eth(1000)), SellFeeBps: 50, Currency: "ETH"},
	}
	_, err = h.service.Reconcile(context.Background(), []pool.TriggerEvent{trigger()})
	require.NoError(t, err)

	after, err := h.repo.GetByID(context.Background(), sellID)
	require.NoError(t, err)
	assert.Equal(t, before.Fillability, after.Fillability)
	assert.True(t, before.Price.Equal(after.Price))
	assert.Empty(t, h.repo.unfillable)
}

func TestReconcile_ItemFailureDoesNotAffectSiblings(t *testing.T) {
	h := newHarness(1)
	h.oracle.quotes[testPool] = []pool.PriceQuote{
		{BuyPrice: quotePtr(eth(800)), SellPrice: quotePtr(eth(1000)), BuyFeeBps: 50, SellFeeBps: 50, Currency: "ETH"},
	}
	h.pools.items[testPool] = []string{"11", "bad", "12"}
	h.tokenSets.failFor["bad"] = true

	results, err := h.service.Reconcile(context.Background(), []pool.TriggerEvent{trigger()})
	require.NoError(t, err)

	// Buy order plus the two healthy items; the failed item is absent.
	assert.Len(t, results, 3)
	_, err = h.repo.GetByID(context.Background(), order.SellOrderID(testPool, "bad"))
	assert.ErrorIs(t, err, interfaces.ErrOrderNotFound)
}

func TestReconcile_RoyaltyGapNormalizesBothSides(t *testing.T) {
	h := newHarness(1)
	h.royalties.shares = []interfaces.RoyaltyShare{{Recipient: "0xroyalty", Bps: 500}}
	h.oracle.quotes[testPool] = []pool.PriceQuote{
		{BuyPrice: quotePtr(eth(800)), SellPrice: quotePtr(eth(1000)), BuyFeeBps: 50, SellFeeBps: 50, Currency: "ETH"},
	}
	h.pools.items[testPool] = []string{"11"}

	_, err := h.service.Reconcile(context.Background(), []pool.TriggerEvent{trigger()})
	require.NoError(t, err)

	buy, err := h.repo.GetByID(context.Background(), order.BuyOrderID(testPool))
	require.NoError(t, err)
	assert.True(t, buy.NormalizedValue.LessThan(buy.Value))
	require.Len(t, buy.MissingRoyalties, 1)
	assert.Equal(t, "0xroyalty", buy.MissingRoyalties[0].Recipient)

	sell, err := h.repo.GetByID(context.Background(), order.SellOrderID(testPool, "11"))
	require.NoError(t, err)
	assert.True(t, sell.NormalizedValue.GreaterThan(sell.Value))
}

func TestReconcile_PoolOutsideAllowListIsSkipped(t *testing.T) {
	h := newHarness(1)
	h.setSellLadder(1000)

	other := pool.TriggerEvent{Pool: "0xdeadbeef", TxHash: "0xtx9", TxTimestamp: testTime}
	results, err := h.service.Reconcile(context.Background(), []pool.TriggerEvent{other})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, h.repo.rows)
}

func TestReconcile_OracleFailureSkipsOnlyThatEvent(t *testing.T) {
	h := newHarness(1)
	h.setSellLadder(1000)

	// Second pool is allowed but its oracle quotes fail.
	brokenPool := "0xbroken000000000000000000000000000000000b"
	h.service.cfg.AllowedPools[brokenPool] = true
	h.pools.details[brokenPool] = &pool.Pool{Address: brokenPool, Collection: testCollection, VaultID: 12}
	h.oracle.failFor[brokenPool] = true

	events := []pool.TriggerEvent{
		trigger(),
		{Pool: brokenPool, TxHash: "0xtx2", TxTimestamp: testTime},
	}
	results, err := h.service.Reconcile(context.Background(), events)
	require.NoError(t, err)

	// The healthy pool's buy order still lands.
	require.Len(t, results, 1)
	assert.Equal(t, order.BuyOrderID(testPool), results[0].ID)
}

func TestReconcile_EmptyBatch(t *testing.T) {
	h := newHarness(1)
	results, err := h.service.Reconcile(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestReconcile_PublishesAfterFlush(t *testing.T) {
	h := newHarness(1)
	h.oracle.quotes[testPool] = []pool.PriceQuote{
		{BuyPrice: quotePtr(eth(800)), SellPrice: quotePtr(eth(1000)), BuyFeeBps: 50, SellFeeBps: 50, Currency: "ETH"},
	}
	h.pools.items[testPool] = []string{"11"}

	results, err := h.service.Reconcile(context.Background(), []pool.TriggerEvent{trigger()})
	require.NoError(t, err)
	assert.Len(t, h.publisher.events, len(results))
	for _, ev := range h.publisher.events {
		_, err := h.repo.GetByID(context.Background(), ev.ID)
		assert.NoError(t, err, "published order must already be persisted")
	}
}
