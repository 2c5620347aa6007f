// Package futures is the REST client for the upstream perpetual-futures
// contract API, built on top of an endpointpool.Pool for failover.
package futures

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/riftline/confluence-sentinel/internal/providers/endpointpool"
)

const (
	pathTicker24hr   = "/fapi/v1/ticker/24hr"
	pathPremiumIndex = "/fapi/v1/premiumIndex"
	pathOpenInterest = "/fapi/v1/openInterest"
	pathExchangeInfo = "/fapi/v1/exchangeInfo"
)

// Client wraps an endpoint pool with typed accessors for the four upstream
// endpoints the Market Snapshot Fetcher needs.
type Client struct {
	pool *endpointpool.Pool
}

// NewClient builds a Client over the given pool.
func NewClient(pool *endpointpool.Pool) *Client {
	return &Client{pool: pool}
}

// Ticker24hr fetches the full-market 24hr rolling ticker window.
func (c *Client) Ticker24hr(ctx context.Context) ([]Ticker24hr, error) {
	start := time.Now()
	body, err := c.pool.Fetch(ctx, pathTicker24hr, nil)
	if err != nil {
		return nil, fmt.Errorf("futures: ticker/24hr: %w", err)
	}
	log.Debug().Dur("elapsed", time.Since(start)).Msg("fetched ticker/24hr")

	var out []Ticker24hr
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("futures: decode ticker/24hr: %w", err)
	}
	return out, nil
}

// PremiumIndex fetches the full-market funding/mark-price snapshot.
func (c *Client) PremiumIndex(ctx context.Context) ([]PremiumIndex, error) {
	start := time.Now()
	body, err := c.pool.Fetch(ctx, pathPremiumIndex, nil)
	if err != nil {
		return nil, fmt.Errorf("futures: premiumIndex: %w", err)
	}
	log.Debug().Dur("elapsed", time.Since(start)).Msg("fetched premiumIndex")

	var out []PremiumIndex
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("futures: decode premiumIndex: %w", err)
	}
	return out, nil
}

// OpenInterest fetches the current open interest for a single symbol.
func (c *Client) OpenInterest(ctx context.Context, symbol string) (OpenInterest, error) {
	params := url.Values{"symbol": {symbol}}
	body, err := c.pool.Fetch(ctx, pathOpenInterest, params)
	if err != nil {
		return OpenInterest{}, fmt.Errorf("futures: openInterest(%s): %w", symbol, err)
	}

	var out OpenInterest
	if err := json.Unmarshal(body, &out); err != nil {
		return OpenInterest{}, fmt.Errorf("futures: decode openInterest(%s): %w", symbol, err)
	}
	return out, nil
}

// ExchangeInfo fetches the exchange metadata, used to filter tradable
// USDT-margined symbols.
func (c *Client) ExchangeInfo(ctx context.Context) (ExchangeInfo, error) {
	body, err := c.pool.Fetch(ctx, pathExchangeInfo, nil)
	if err != nil {
		return ExchangeInfo{}, fmt.Errorf("futures: exchangeInfo: %w", err)
	}

	var out ExchangeInfo
	if err := json.Unmarshal(body, &out); err != nil {
		return ExchangeInfo{}, fmt.Errorf("futures: decode exchangeInfo: %w", err)
	}
	return out, nil
}
