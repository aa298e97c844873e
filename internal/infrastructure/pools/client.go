package pools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	pool "main/internal/domain/entity/pool"
)

const requestTimeout = 10 * time.Second

// Client fetches pool details and pool inventory from the chain indexer.
// Nothing is cached: an order's presence must be a pure function of the
// pool's current state, so every reconciliation asks again.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: requestTimeout},
	}
}

// Details returns the pool's address, collection contract and vault id.
func (c *Client) Details(ctx context.Context, poolAddress string) (*pool.Pool, error) {
	endpoint := fmt.Sprintf("%s/pools/%s", c.endpoint, url.PathEscape(poolAddress))
	var details pool.Pool
	if err := c.getJSON(ctx, endpoint, &details); err != nil {
		return nil, fmt.Errorf("pool details for %s: %w", poolAddress, err)
	}
	return &details, nil
}

type itemsResponse struct {
	Items []string `json:"items"`
}

// ItemsHeld returns the ids of the collection's items currently held by the
// pool.
func (c *Client) ItemsHeld(ctx context.Context, collection, poolAddress string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/collections/%s/pools/%s/items",
		c.endpoint, url.PathEscape(collection), url.PathEscape(poolAddress))
	var payload itemsResponse
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, fmt.Errorf("items held by %s: %w", poolAddress, err)
	}
	return payload.Items, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
