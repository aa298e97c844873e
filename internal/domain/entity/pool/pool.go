package pool

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pool describes an AMM liquidity pool as reported by the pool detail
// provider. Details are fetched fresh on every reconciliation pass and are
// never cached by this service.
type Pool struct {
	Address    string `json:"address"`
	Collection string `json:"collection"`
	VaultID    int64  `json:"vault_id"`
}

// PriceQuote is one sampled point of the pool's bonding curve. Prices are in
// the settlement currency's base units (wei for ETH). BuyPrice and SellPrice
// are nil when the pool cannot service that side at this depth.
type PriceQuote struct {
	Depth      int              `json:"depth"`
	BuyPrice   *decimal.Decimal `json:"buy_price,omitempty"`
	SellPrice  *decimal.Decimal `json:"sell_price,omitempty"`
	BuyFeeBps  int64            `json:"buy_fee_bps"`
	SellFeeBps int64            `json:"sell_fee_bps"`
	Currency   string           `json:"currency"`
}

// QuoteLadder is the ordered sequence of quotes for depths 1..K from a single
// sampling pass. Quotes are curve-dependent: level n assumes levels 1..n-1
// are already filled.
type QuoteLadder []PriceQuote

// SellPrices returns every sell-direction price present in the ladder, in
// ladder order.
func (l QuoteLadder) SellPrices() []decimal.Decimal {
	prices := make([]decimal.Decimal, 0, len(l))
	for _, quote := range l {
		if quote.SellPrice != nil {
			prices = append(prices, *quote.SellPrice)
		}
	}
	return prices
}

// BuyPrices returns every buy-direction price present in the ladder, in
// ladder order.
func (l QuoteLadder) BuyPrices() []decimal.Decimal {
	prices := make([]decimal.Decimal, 0, len(l))
	for _, quote := range l {
		if quote.BuyPrice != nil {
			prices = append(prices, *quote.BuyPrice)
		}
	}
	return prices
}

// TriggerEvent is one on-chain event that requests reconciliation of a pool.
// The same event may be redelivered; reconciliation is idempotent.
type TriggerEvent struct {
	Pool        string    `json:"pool"`
	TxHash      string    `json:"tx_hash"`
	TxTimestamp time.Time `json:"tx_timestamp"`
}
