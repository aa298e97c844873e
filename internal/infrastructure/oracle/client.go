package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	pool "main/internal/domain/entity/pool"
)

const requestTimeout = 10 * time.Second

// Client talks to the pricing oracle over HTTP. Requests are paced with a
// token-bucket limiter so sequential ladder sampling across many concurrent
// pool reconciliations cannot overwhelm the oracle.
type Client struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
}

func NewClient(endpoint string, ratePerSecond int) *Client {
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: requestTimeout},
		limiter:  rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond),
	}
}

type quoteResponse struct {
	BuyPrice   *string `json:"buy_price"`
	SellPrice  *string `json:"sell_price"`
	BuyFeeBps  int64   `json:"buy_fee_bps"`
	SellFeeBps int64   `json:"sell_fee_bps"`
	Currency   string  `json:"currency"`
}

// Quote fetches the marginal price at one depth level of the pool's curve.
// Prices come back as decimal strings in the settlement currency's base
// units; a nil price means the pool cannot service that side at this depth.
func (c *Client) Quote(ctx context.Context, poolAddress string, depth int, slippageBps int64) (*pool.PriceQuote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/pools/%s/quote?%s", c.endpoint, url.PathEscape(poolAddress), url.Values{
		"depth":        {strconv.Itoa(depth)},
		"slippage_bps": {strconv.FormatInt(slippageBps, 10)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	var payload quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}

	quote := &pool.PriceQuote{
		Depth:      depth,
		BuyFeeBps:  payload.BuyFeeBps,
		SellFeeBps: payload.SellFeeBps,
		Currency:   payload.Currency,
	}
	if payload.BuyPrice != nil {
		price, err := decimal.NewFromString(*payload.BuyPrice)
		if err != nil {
			return nil, fmt.Errorf("parse buy price %q: %w", *payload.BuyPrice, err)
		}
		quote.BuyPrice = &price
	}
	if payload.SellPrice != nil {
		price, err := decimal.NewFromString(*payload.SellPrice)
		if err != nil {
			return nil, fmt.Errorf("parse sell price %q: %w", *payload.SellPrice, err)
		}
		quote.SellPrice = &price
	}
	return quote, nil
}
