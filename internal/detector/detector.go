// Package detector translates time-series state into confluence alert
// candidates. It holds no long-lived state beyond its Config; all history
// reads go through the Time-Series Store.
package detector

import (
	"fmt"
	"sort"
	"time"

	"github.com/riftline/confluence-sentinel/internal/domain"
	"github.com/riftline/confluence-sentinel/internal/timeseries"
)

// Config tunes the liquidity filter and the emit threshold.
type Config struct {
	MinVolumeQuote float64
	MinOIValue     float64
	ScoreThreshold int
	TopLiquidity   int
}

// DefaultConfig returns the spec.md §4.4 default thresholds.
func DefaultConfig() Config {
	return Config{
		MinVolumeQuote: 50_000_000,
		MinOIValue:     10_000_000,
		ScoreThreshold: 75,
		TopLiquidity:   20,
	}
}

// Detector evaluates the three setup templates against the Time-Series
// Store's current state.
type Detector struct {
	store *timeseries.Store
	cfg   Config
}

// New builds a Detector reading from store under cfg.
func New(store *timeseries.Store, cfg Config) *Detector {
	return &Detector{store: store, cfg: cfg}
}

// CooldownChecker reports whether symbol is presently within its emitter
// cooldown window. The Emitter owns this state; the Detector only reads it
// to avoid wasted evaluation work, per spec.md §4.4.
type CooldownChecker func(symbol string) bool

// Evaluate runs one detection cycle over observations, returning zero or
// more Alert candidates sorted by confluenceScore descending, ties broken
// by symbol ascending (spec.md §4.4 tie-break rule).
func (d *Detector) Evaluate(now time.Time, observations []domain.MarketObservation, cooldownActive CooldownChecker) []domain.Alert {
	retained := d.liquidityFilter(observations)

	var candidates []domain.Alert
	for _, obs := range retained {
		if cooldownActive != nil && cooldownActive(obs.Symbol) {
			continue
		}
		if !d.store.HasMinimumHistory(obs.Symbol, now) {
			continue
		}

		alert, ok := d.evaluateSymbol(now, obs)
		if ok {
			candidates = append(candidates, alert)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ConfluenceScore != candidates[j].ConfluenceScore {
			return candidates[i].ConfluenceScore > candidates[j].ConfluenceScore
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})

	return candidates
}

// liquidityFilter keeps symbols with quoteVolume > MinVolumeQuote AND
// openInterestValue > MinOIValue, then the top TopLiquidity by
// openInterestValue.
func (d *Detector) liquidityFilter(observations []domain.MarketObservation) []domain.MarketObservation {
	var retained []domain.MarketObservation
	for _, obs := range observations {
		if obs.QuoteVolume > d.cfg.MinVolumeQuote && obs.OpenInterestValue > d.cfg.MinOIValue {
			retained = append(retained, obs)
		}
	}

	sort.Slice(retained, func(i, j int) bool {
		return retained[i].OpenInterestValue > retained[j].OpenInterestValue
	})

	if len(retained) > d.cfg.TopLiquidity {
		retained = retained[:d.cfg.TopLiquidity]
	}
	return retained
}

// evaluateSymbol runs the fixed Short Squeeze → Long Flush → Capitulation
// Reversal sequence, stopping at the first setup that both accumulates
// signals.length >= 3 and score >= ScoreThreshold.
func (d *Detector) evaluateSymbol(now time.Time, latest domain.MarketObservation) (domain.Alert, bool) {
	evaluators := []struct {
		setup domain.SetupType
		eval  func(now time.Time, obs domain.MarketObservation) (int, []string, bool)
	}{
		{domain.ShortSqueeze, d.evaluateShortSqueeze},
		{domain.LongFlush, d.evaluateLongFlush},
		{domain.CapitulationReversal, d.evaluateCapitulationReversal},
	}

	for _, e := range evaluators {
		score, signals, gatePassed := e.eval(now, latest)
		if !gatePassed {
			continue
		}
		if len(signals) >= 3 && score >= d.cfg.ScoreThreshold {
			return d.buildAlert(now, latest, e.setup, score, signals), true
		}
	}
	return domain.Alert{}, false
}

func (d *Detector) buildAlert(now time.Time, obs domain.MarketObservation, setup domain.SetupType, score int, signals []string) domain.Alert {
	if score > 100 {
		score = 100
	}

	ts := now.UnixMilli()
	severity := domain.SeverityForScore(score)
	if setup == domain.CapitulationReversal {
		severity = domain.SeverityCritical
	}

	fundingAPR := domain.FundingAPR(obs.FundingRate)
	oiChange8h := d.store.OIChange(obs.Symbol, int64(8*time.Hour/time.Millisecond), now)
	vdelta1h := d.store.VDelta(obs.Symbol, int64(time.Hour/time.Millisecond), now)
	priceChange1h := d.store.PriceChange(obs.Symbol, int64(time.Hour/time.Millisecond), now)

	return domain.Alert{
		ID:              domain.NewAlertID(obs.Symbol, setup, ts),
		Symbol:          obs.Symbol,
		SetupType:       setup,
		Severity:        severity,
		Title:           fmt.Sprintf("%s: %s", obs.Symbol, setup),
		Description:     fmt.Sprintf("%s confluence score %d for %s", setup, score, obs.Symbol),
		Signals:         signals,
		ConfluenceScore: score,
		Timestamp:       ts,
		Payload: domain.AlertPayload{
			Funding:           obs.FundingRate,
			FundingAPR:        fundingAPR,
			FundingPercentile: d.store.PercentileOfFunding(obs.Symbol, obs.FundingRate, now),
			OIChange8hr:       oiChange8h,
			VDelta1hr:         vdelta1h,
			PriceChange:       priceChange1h,
			Volume24h:         obs.Volume,
		},
	}
}
