package detector

import (
	"fmt"
	"math"
	"time"

	"github.com/riftline/confluence-sentinel/internal/domain"
)

const (
	hourMs = int64(time.Hour / time.Millisecond)
	day4Ms = int64(4 * time.Hour / time.Millisecond)
	hour8  = int64(8 * time.Hour / time.Millisecond)
	hour24 = int64(24 * time.Hour / time.Millisecond)
)

// evaluateShortSqueeze implements the spec.md §4.4.1 ladder. Returns
// gatePassed=false when the entry gate fails; the caller treats that as "no
// candidate" without consuming the ladder further.
func (d *Detector) evaluateShortSqueeze(now time.Time, obs domain.MarketObservation) (int, []string, bool) {
	fundingPct := d.store.PercentileOfFunding(obs.Symbol, obs.FundingRate, now)
	if fundingPct > 10 {
		return 0, nil, false
	}

	score := 30
	signals := []string{fmt.Sprintf("funding rate in bottom 10%% of history (pct=%.1f)", fundingPct)}
	if fundingPct <= 5 {
		score += 10
		signals = append(signals, fmt.Sprintf("funding rate within bottom 5%% of history (pct=%.1f)", fundingPct))
	}

	oiChange8h := d.store.OIChange(obs.Symbol, hour8, now)
	if oiChange8h > 5 {
		score += 25
		signals = append(signals, fmt.Sprintf("open interest up %.1f%% over 8h", oiChange8h))
		if oiChange8h > 10 {
			score += 10
		}
	}

	priceChange1h := d.store.PriceChange(obs.Symbol, hourMs, now)
	vdelta1h := d.store.VDelta(obs.Symbol, hourMs, now)
	vdeltaRatio := ratioPct(vdelta1h, obs.Volume)
	if priceChange1h < 0 && vdelta1h > 0 && vdeltaRatio > 3 {
		score += 25
		signals = append(signals, fmt.Sprintf("bullish volume divergence against falling price (vdelta/vol=%.1f%%)", vdeltaRatio))
		if vdeltaRatio > 10 {
			score += 10
		}
	}

	fundingMomentum := d.store.FundingMomentum(obs.Symbol)
	if fundingMomentum < -0.00005 {
		score += 10
	}

	return score, signals, true
}

// evaluateLongFlush implements the spec.md §4.4.2 ladder, mirroring Short
// Squeeze on the positive side.
func (d *Detector) evaluateLongFlush(now time.Time, obs domain.MarketObservation) (int, []string, bool) {
	fundingPct := d.store.PercentileOfFunding(obs.Symbol, obs.FundingRate, now)
	if fundingPct < 90 {
		return 0, nil, false
	}

	score := 30
	signals := []string{fmt.Sprintf("funding rate in top 10%% of history (pct=%.1f)", fundingPct)}
	if fundingPct >= 95 {
		score += 10
		signals = append(signals, fmt.Sprintf("funding rate within top 5%% of history (pct=%.1f)", fundingPct))
	}

	oiStats := d.store.OIStats(obs.Symbol, 24*time.Hour, now)
	currentOIValue := obs.OpenInterest * obs.Price
	if oiStats.Stddev > 0 {
		sigmaDistance := (currentOIValue - oiStats.Mean) / oiStats.Stddev
		if sigmaDistance > 1 {
			score += 25
			signals = append(signals, fmt.Sprintf("open interest %.1fσ above mean", sigmaDistance))
			if sigmaDistance > 2 {
				score += 10
			}
		}
	}

	priceChange1h := d.store.PriceChange(obs.Symbol, hourMs, now)
	vdelta1h := d.store.VDelta(obs.Symbol, hourMs, now)
	vdeltaRatio := ratioPct(math.Abs(vdelta1h), obs.Volume)
	if priceChange1h > 0 && vdelta1h <= 0 && vdeltaRatio > 3 {
		score += 25
		signals = append(signals, fmt.Sprintf("bearish volume divergence against rising price (|vdelta|/vol=%.1f%%)", vdeltaRatio))
		if vdeltaRatio > 10 {
			score += 10
		}
	}

	fundingMomentum := d.store.FundingMomentum(obs.Symbol)
	if fundingMomentum > 0.00005 {
		score += 10
	}

	return score, signals, true
}

// evaluateCapitulationReversal implements the spec.md §4.4.3 ladder. This
// setup always emits at CRITICAL severity (handled by buildAlert).
func (d *Detector) evaluateCapitulationReversal(now time.Time, obs domain.MarketObservation) (int, []string, bool) {
	oiChange24h := d.store.OIChange(obs.Symbol, hour24, now)
	if oiChange24h >= -10 {
		return 0, nil, false
	}

	score := 30
	signals := []string{fmt.Sprintf("open interest down %.1f%% over 24h (capitulation)", oiChange24h)}
	if oiChange24h < -20 {
		score += 10
	}

	fundingMomentum := d.store.FundingMomentum(obs.Symbol)
	if math.Abs(fundingMomentum) < 0.00003 && math.Abs(obs.FundingRate) < 0.0003 {
		score += 25
		signals = append(signals, "funding rate and momentum flattened near zero")
	}

	priceChange4h := d.store.PriceChange(obs.Symbol, day4Ms, now)
	vdelta1h := d.store.VDelta(obs.Symbol, hourMs, now)
	vdeltaRatio := ratioPct(vdelta1h, obs.Volume)
	if priceChange4h < -5 && vdelta1h > 0 && vdeltaRatio > 3 {
		score += 30
		signals = append(signals, fmt.Sprintf("bullish volume divergence after a %.1f%% 4h selloff", priceChange4h))
		if vdeltaRatio > 10 {
			score += 15
		}
	}

	return score, signals, true
}

// ratioPct divides numerator by denominator and scales to percent, 0 when
// the denominator is zero.
func ratioPct(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator * 100
}
