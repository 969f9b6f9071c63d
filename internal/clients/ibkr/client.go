// Package ibkr implements domain.MarketGateway against a Client
// Portal-style REST API, with bounded retries, a short-TTL price cache and
// an optional market data websocket stream.
package ibkr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarmlab/apiary/internal/domain"
	"github.com/swarmlab/apiary/pkg/logger"
)

const (
	// maxRetries bounds transient-failure retries per call.
	maxRetries = 3

	// priceCacheTTL is how long a snapshot price stays fresh. Agents poll
	// far more often than the gateway should be hit.
	priceCacheTTL = 30 * time.Second

	defaultTimeout = 10 * time.Second
)

// Config holds gateway connection settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is a concurrency-safe REST market gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger

	cacheMu sync.RWMutex
	cache   map[string]cachedPrice
}

type cachedPrice struct {
	price     float64
	fetchedAt time.Time
}

// New creates a gateway client.
func New(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.Component(log, "ibkr_client"),
		cache:      make(map[string]cachedPrice),
	}
}

// CurrentPrice returns the last trade price for a symbol, served from the
// cache while fresh.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	c.cacheMu.RLock()
	entry, ok := c.cache[symbol]
	c.cacheMu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < priceCacheTTL {
		return entry.price, nil
	}

	var snap snapshotResponse
	path := fmt.Sprintf("/marketdata/%s/snapshot", url.PathEscape(symbol))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &snap); err != nil {
		return 0, err
	}
	if snap.Last <= 0 {
		return 0, fmt.Errorf("no last price for %s", symbol)
	}

	c.setCachedPrice(symbol, snap.Last)
	return snap.Last, nil
}

// OptionChain fetches the strike/expiration surface for a symbol.
func (c *Client) OptionChain(ctx context.Context, symbol string) (*domain.OptionChain, error) {
	var chain chainResponse
	path := fmt.Sprintf("/options/%s/chain", url.PathEscape(symbol))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &chain); err != nil {
		return nil, err
	}
	return &domain.OptionChain{
		Symbol:      symbol,
		Strikes:     chain.Strikes,
		Expirations: chain.Expirations,
	}, nil
}

// SubmitOrder places an order and reports the fill.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderFill, error) {
	if req.Symbol == "" || req.Size <= 0 {
		return nil, fmt.Errorf("invalid order: symbol=%q size=%v", req.Symbol, req.Size)
	}

	side := "BUY"
	if req.Direction == domain.DirectionShort {
		side = "SELL"
	}

	var resp orderResponse
	payload := orderPayload{
		Symbol:     req.Symbol,
		Side:       side,
		Quantity:   req.Size,
		LimitPrice: req.LimitPrice,
	}
	if err := c.doJSON(ctx, http.MethodPost, "/orders", payload, &resp); err != nil {
		return nil, err
	}

	return &domain.OrderFill{
		OrderID: resp.OrderID,
		Filled:  resp.Status == "filled",
		Price:   resp.AvgPrice,
	}, nil
}

// ClosePosition closes the position opened by the given order.
func (c *Client) ClosePosition(ctx context.Context, orderID string) (*domain.CloseResult, error) {
	var resp closeResponse
	path := fmt.Sprintf("/orders/%s/close", url.PathEscape(orderID))
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &domain.CloseResult{
		OrderID:     resp.OrderID,
		RealizedPnL: resp.RealizedPnL,
	}, nil
}

// setCachedPrice stores a price with the current timestamp. Also used by
// the stream to keep the cache warm between polls.
func (c *Client) setCachedPrice(symbol string, price float64) {
	c.cacheMu.Lock()
	c.cache[symbol] = cachedPrice{price: price, fetchedAt: time.Now()}
	c.cacheMu.Unlock()
}

// doJSON performs one API call with bounded retries. Transport errors and
// 5xx responses retry with exponential backoff plus jitter; after the last
// attempt they surface as domain.ErrUnavailable so agents skip the cycle.
// 4xx responses are not retried.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			// 1s, 2s, 4s... plus up to 500ms jitter.
			delay := time.Duration(1<<(attempt-1))*time.Second + time.Duration(rand.Intn(500))*time.Millisecond
			select {
			case <-ctx.Done():
				return domain.ErrUnavailable
			case <-time.After(delay):
			}
		}

		retryable, err := c.attempt(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		c.log.Debug().Err(err).Int("attempt", attempt+1).Str("path", path).Msg("Request failed, retrying")
	}

	c.log.Warn().Err(lastErr).Str("path", path).Msg("Request failed after retries")
	return fmt.Errorf("%w: %v", domain.ErrUnavailable, lastErr)
}

// attempt performs a single request. The boolean reports whether the error
// is worth retrying.
func (c *Client) attempt(ctx context.Context, method, path string, body, out interface{}) (bool, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, domain.ErrUnavailable
		}
		return true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("server error: %s", resp.Status)
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("request rejected: %s: %s", resp.Status, data)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return false, nil
}
