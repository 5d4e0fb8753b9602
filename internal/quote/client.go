// Package quote supplies current market prices. The core only depends on the
// GetCurrentPrice contract; this package provides a thin REST client plus a
// cache-backed layering, both honouring a hard timeout so valuation never
// blocks on an unresponsive feed.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quantrail/alertledger/internal/domain"
)

// defaultTimeout bounds a single quote lookup.
const defaultTimeout = 2 * time.Second

// Client is the REST client for the quote feed. It expects a JSON endpoint
// of the form GET {base}/quotes/{symbol} returning {"symbol":..,"price":..}.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a quote feed client. apiKey may be empty for
// unauthenticated feeds. A non-positive timeout falls back to the 2s default.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type apiQuote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// GetCurrentPrice fetches the current price for a symbol. ok is false for an
// unknown symbol or an unusable payload; transport failures return an error
// wrapping domain.ErrPriceUnavailable so callers can treat them as the same
// recoverable condition.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, bool, error) {
	u := c.baseURL + "/quotes/" + url.PathEscape(symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, false, fmt.Errorf("quote: build request for %s: %w", symbol, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("quote: fetch %s: %w: %v", symbol, domain.ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("quote: fetch %s: %w: status %d",
			symbol, domain.ErrPriceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, false, fmt.Errorf("quote: read %s: %w: %v", symbol, domain.ErrPriceUnavailable, err)
	}

	var q apiQuote
	if err := json.Unmarshal(body, &q); err != nil {
		return 0, false, fmt.Errorf("quote: decode %s: %w: %v", symbol, domain.ErrPriceUnavailable, err)
	}
	if q.Price <= 0 {
		return 0, false, nil
	}

	return q.Price, true, nil
}

// CachedSource layers the quote cache in front of a feed client: cache hits
// are served directly, misses go to the feed and backfill the cache. Feed
// failures degrade to a miss rather than an error.
type CachedSource struct {
	cache domain.QuoteCache
	feed  domain.PriceSource
}

// NewCachedSource creates a CachedSource. feed may be nil, in which case
// only cached quotes are served.
func NewCachedSource(cache domain.QuoteCache, feed domain.PriceSource) *CachedSource {
	return &CachedSource{cache: cache, feed: feed}
}

// GetCurrentPrice implements domain.PriceSource.
func (s *CachedSource) GetCurrentPrice(ctx context.Context, symbol string) (float64, bool, error) {
	price, _, err := s.cache.GetQuote(ctx, symbol)
	if err == nil && price > 0 {
		return price, true, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return 0, false, fmt.Errorf("quote: cache lookup %s: %w", symbol, err)
	}

	if s.feed == nil {
		return 0, false, nil
	}

	price, ok, err := s.feed.GetCurrentPrice(ctx, symbol)
	if err != nil || !ok {
		return 0, false, err
	}

	// Best effort backfill; a cache write failure does not lose the quote.
	_ = s.cache.SetQuote(ctx, symbol, price, time.Now().UTC())
	return price, true, nil
}

// Compile-time interface checks.
var (
	_ domain.PriceSource = (*Client)(nil)
	_ domain.PriceSource = (*CachedSource)(nil)
)
