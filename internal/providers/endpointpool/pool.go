// Package endpointpool hides upstream endpoint volatility behind a single
// fetch(path, params) contract that rotates across functionally-equivalent
// base URLs on geo-block or rate-limit responses.
package endpointpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/riftline/confluence-sentinel/internal/metrics"
)

// ErrAllEndpointsUnavailable is returned when every endpoint in one
// round-trip classifies as geo-block or rate-limit.
var ErrAllEndpointsUnavailable = errors.New("endpointpool: all endpoints unavailable")

const (
	requestTimeout = 10 * time.Second
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// Pool maintains an ordered list of base URLs and a current-index cursor
// mutated only by Fetch's failover logic.
type Pool struct {
	bases      []string
	cursor     uint64 // atomic
	httpClient *http.Client
	breakers   []*gobreaker.CircuitBreaker
	metrics    *metrics.Registry
}

// SetMetrics attaches a metrics registry. Circuit state and fetch latency
// are reported against it once set; nil-safe when never called.
func (p *Pool) SetMetrics(m *metrics.Registry) {
	p.metrics = m
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// New builds a pool over the given base URLs. Panics if bases is empty —
// that is a startup misconfiguration, not a runtime condition.
func New(bases []string) *Pool {
	if len(bases) == 0 {
		panic("endpointpool: at least one base URL is required")
	}

	p := &Pool{
		bases: append([]string(nil), bases...),
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    20,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		breakers: make([]*gobreaker.CircuitBreaker, len(bases)),
	}

	for i, base := range bases {
		name := base
		p.breakers[i] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        fmt.Sprintf("endpoint:%s", name),
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}

	return p
}

// isGeoBlockOrRateLimit classifies the HTTP status codes that should rotate
// the cursor and retry the next base URL, per spec.md §4.1.
func isGeoBlockOrRateLimit(status int) bool {
	switch status {
	case http.StatusForbidden, http.StatusUnavailableForLegalReasons, // 403, 451
		http.StatusTooManyRequests, http.StatusIAmATeapot: // 429, 418
		return true
	default:
		return false
	}
}

func (p *Pool) advance(from int) {
	next := uint64(from+1) % uint64(len(p.bases))
	atomic.StoreUint64(&p.cursor, next)
}

func (p *Pool) currentIndex() int {
	return int(atomic.LoadUint64(&p.cursor) % uint64(len(p.bases)))
}

// Fetch attempts the request starting from the current-index cursor,
// rotating on geo-block/rate-limit responses or an open circuit breaker and
// retrying the next base URL. Any other error propagates to the caller
// without rotating. If every endpoint in this round-trip is geo-blocked,
// rate-limited or circuit-open, ErrAllEndpointsUnavailable is returned.
func (p *Pool) Fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	start := p.currentIndex()
	var lastErr error

	for attempt := 0; attempt < len(p.bases); attempt++ {
		idx := (start + attempt) % len(p.bases)
		base := p.bases[idx]

		body, status, err := p.doRequest(ctx, idx, base, path, params)
		if err == nil {
			if idx != p.currentIndex() {
				atomic.StoreUint64(&p.cursor, uint64(idx))
			}
			return body, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) {
			log.Warn().Str("endpoint", base).Msg("endpoint circuit open, rotating")
			p.advance(idx)
			lastErr = ErrAllEndpointsUnavailable
			continue
		}

		if status != 0 && isGeoBlockOrRateLimit(status) {
			log.Warn().Str("endpoint", base).Int("status", status).Msg("endpoint geo-blocked or rate-limited, rotating")
			p.advance(idx)
			lastErr = ErrAllEndpointsUnavailable
			continue
		}

		// Any other error propagates immediately — the Scheduler's next
		// tick retries, per spec.md §4.1.
		return nil, err
	}

	return nil, lastErr
}

func (p *Pool) doRequest(ctx context.Context, idx int, base, path string, params url.Values) ([]byte, int, error) {
	reqURL := base + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var body []byte
	var status int
	start := time.Now()

	breakerErr := p.withBreaker(idx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = b

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("endpointpool: %s returned HTTP %d", reqURL, resp.StatusCode)
		}
		return nil
	})

	if p.metrics != nil {
		p.metrics.FetchDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		p.metrics.SetCircuitState(base, breakerStateValue(p.breakers[idx].State()))
	}

	if breakerErr != nil {
		return nil, status, breakerErr
	}
	return body, status, nil
}

func (p *Pool) withBreaker(idx int, fn func() error) error {
	_, err := p.breakers[idx].Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// CurrentIndex exposes the cursor for diagnostics and tests.
func (p *Pool) CurrentIndex() int {
	return p.currentIndex()
}

// Len returns the number of configured base URLs.
func (p *Pool) Len() int {
	return len(p.bases)
}
