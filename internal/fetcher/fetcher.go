// Package fetcher produces one MarketObservation snapshot per invocation by
// joining the upstream ticker and funding-index feeds and batch-fetching
// open interest for the most liquid symbols.
package fetcher

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/riftline/confluence-sentinel/internal/cache"
	"github.com/riftline/confluence-sentinel/internal/domain"
	"github.com/riftline/confluence-sentinel/internal/metrics"
	"github.com/riftline/confluence-sentinel/internal/providers/futures"
)

const (
	tickerCacheTTL   = 5 * time.Second
	oiBatchSize      = 10
	oiBatchDelay     = 100 * time.Millisecond
	exchangeInfoTTL  = time.Hour
)

// Fetcher retrieves a snapshot of MarketObservations across the top-N most
// liquid symbols for the configured quote asset.
type Fetcher struct {
	client     *futures.Client
	cache      cache.Manager
	quoteAsset string
	topN       int
	metrics    *metrics.Registry

	mu            sync.RWMutex
	tradableSyms  map[string]bool
	lastExchgPoll time.Time
}

// New builds a Fetcher over client, read-through caching responses in c.
// reg may be nil, in which case fetch/cache metrics are not recorded.
func New(client *futures.Client, c cache.Manager, quoteAsset string, topN int, reg *metrics.Registry) *Fetcher {
	return &Fetcher{
		client:       client,
		cache:        c,
		quoteAsset:   quoteAsset,
		topN:         topN,
		metrics:      reg,
		tradableSyms: make(map[string]bool),
	}
}

// RefreshExchangeInfo fetches the tradable-symbol filter set. Called once at
// startup and hourly in the background thereafter.
func (f *Fetcher) RefreshExchangeInfo(ctx context.Context) error {
	info, err := f.client.ExchangeInfo(ctx)
	if err != nil {
		return err
	}

	tradable := make(map[string]bool, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "TRADING" && s.ContractType == "PERPETUAL" && s.QuoteAsset == f.quoteAsset {
			tradable[s.Symbol] = true
		}
	}

	f.mu.Lock()
	f.tradableSyms = tradable
	f.lastExchgPoll = time.Now()
	f.mu.Unlock()

	log.Info().Int("symbols", len(tradable)).Msg("refreshed exchange info")
	return nil
}

// RunExchangeInfoRefresher blocks, refreshing exchange info hourly until ctx
// is cancelled.
func (f *Fetcher) RunExchangeInfoRefresher(ctx context.Context) {
	ticker := time.NewTicker(exchangeInfoTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.RefreshExchangeInfo(ctx); err != nil {
				log.Warn().Err(err).Msg("exchange info refresh failed")
			}
		}
	}
}

func (f *Fetcher) isTradable(symbol string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.tradableSyms) == 0 {
		// exchangeInfo hasn't been populated yet — do not filter out
		// everything before the first refresh completes.
		return true
	}
	return f.tradableSyms[symbol]
}

// Snapshot produces a MarketObservation per retained symbol. Returns an
// empty slice, not an error, when every upstream endpoint fails — failures
// are logged, per spec.md §4.2.
func (f *Fetcher) Snapshot(ctx context.Context) []domain.MarketObservation {
	now := time.Now()

	tickers, err := f.cachedTicker24hr(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("snapshot: ticker/24hr failed")
		return nil
	}

	premiums, err := f.cachedPremiumIndex(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("snapshot: premiumIndex failed")
		return nil
	}

	premiumBySymbol := make(map[string]futures.PremiumIndex, len(premiums))
	for _, p := range premiums {
		premiumBySymbol[p.Symbol] = p
	}

	type joined struct {
		ticker  futures.Ticker24hr
		premium futures.PremiumIndex
	}

	var candidates []joined
	for _, t := range tickers {
		if !f.isTradable(t.Symbol) {
			continue
		}
		p, ok := premiumBySymbol[t.Symbol]
		if !ok {
			continue
		}
		candidates = append(candidates, joined{ticker: t, premium: p})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return parseFloat(candidates[i].ticker.QuoteVolume) > parseFloat(candidates[j].ticker.QuoteVolume)
	})

	if len(candidates) > f.topN {
		candidates = candidates[:f.topN]
	}

	observations := make([]domain.MarketObservation, 0, len(candidates))
	var obsMu sync.Mutex
	if f.metrics != nil {
		defer func() { f.metrics.ObservationsFetched.Set(float64(len(observations))) }()
	}

	for batchStart := 0; batchStart < len(candidates); batchStart += oiBatchSize {
		batchEnd := batchStart + oiBatchSize
		if batchEnd > len(candidates) {
			batchEnd = len(candidates)
		}
		batch := candidates[batchStart:batchEnd]

		var wg sync.WaitGroup
		for _, c := range batch {
			wg.Add(1)
			go func(c joined) {
				defer wg.Done()
				oi, err := f.client.OpenInterest(ctx, c.ticker.Symbol)
				if err != nil {
					log.Warn().Err(err).Str("symbol", c.ticker.Symbol).Msg("snapshot: openInterest failed, skipping symbol")
					return
				}
				obs := buildObservation(now, c.ticker, c.premium, oi)
				if !obs.Valid() {
					return
				}
				obsMu.Lock()
				observations = append(observations, obs)
				obsMu.Unlock()
			}(c)
		}
		wg.Wait()

		if batchEnd < len(candidates) {
			select {
			case <-ctx.Done():
				return observations
			case <-time.After(oiBatchDelay):
			}
		}
	}

	return observations
}

func (f *Fetcher) recordCache(key string, hit bool) {
	if f.metrics == nil {
		return
	}
	if hit {
		f.metrics.RecordCacheHit(key)
	} else {
		f.metrics.RecordCacheMiss(key)
	}
}

func (f *Fetcher) cachedTicker24hr(ctx context.Context) ([]futures.Ticker24hr, error) {
	var cached []futures.Ticker24hr
	if hit, err := f.cache.Get(ctx, "ticker24hr", &cached); err == nil && hit {
		f.recordCache("ticker24hr", true)
		return cached, nil
	}
	f.recordCache("ticker24hr", false)

	fresh, err := f.client.Ticker24hr(ctx)
	if err != nil {
		return nil, err
	}
	if err := f.cache.Set(ctx, "ticker24hr", fresh, tickerCacheTTL); err != nil {
		log.Debug().Err(err).Msg("ticker24hr cache set failed")
	}
	return fresh, nil
}

func (f *Fetcher) cachedPremiumIndex(ctx context.Context) ([]futures.PremiumIndex, error) {
	var cached []futures.PremiumIndex
	if hit, err := f.cache.Get(ctx, "premiumIndex", &cached); err == nil && hit {
		f.recordCache("premiumIndex", true)
		return cached, nil
	}
	f.recordCache("premiumIndex", false)

	fresh, err := f.client.PremiumIndex(ctx)
	if err != nil {
		return nil, err
	}
	if err := f.cache.Set(ctx, "premiumIndex", fresh, tickerCacheTTL); err != nil {
		log.Debug().Err(err).Msg("premiumIndex cache set failed")
	}
	return fresh, nil
}

func buildObservation(now time.Time, t futures.Ticker24hr, p futures.PremiumIndex, oi futures.OpenInterest) domain.MarketObservation {
	price := parseFloat(t.LastPrice)
	volume := parseFloat(t.Volume)
	takerBuy := parseFloat(t.TakerBuyBaseVolume)
	cvd := takerBuy - (volume - takerBuy)
	oiBase := parseFloat(oi.OpenInterest)

	return domain.MarketObservation{
		Symbol:             t.Symbol,
		Timestamp:          now.UnixMilli(),
		Price:              price,
		PriceChange24h:     parseFloat(t.PriceChange),
		PriceChangePct24h:  parseFloat(t.PriceChangePercent),
		Volume:             volume,
		QuoteVolume:        parseFloat(t.QuoteVolume),
		FundingRate:        parseFloat(p.LastFundingRate),
		OpenInterest:       oiBase,
		OpenInterestValue:  oiBase * price,
		CVD:                cvd,
		High24h:            parseFloat(t.HighPrice),
		Low24h:             parseFloat(t.LowPrice),
		Trades24h:          t.Count,
		NextFundingTime:    p.NextFundingTime,
	}
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
