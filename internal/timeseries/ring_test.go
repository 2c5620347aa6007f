package timeseries

import (
	"testing"
	"time"

	"github.com/riftline/confluence-sentinel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obsAt(symbol string, ts time.Time, funding, oiValue, price, cvd float64) domain.MarketObservation {
	return domain.MarketObservation{
		Symbol:            symbol,
		Timestamp:         ts.UnixMilli(),
		Price:             price,
		FundingRate:       funding,
		OpenInterestValue: oiValue,
		OpenInterest:      oiValue / price,
		CVD:               cvd,
		Volume:            1,
		QuoteVolume:       1,
	}
}

func TestStore_AppendMonotonic(t *testing.T) {
	s := NewStore(30 * 24 * time.Hour)
	now := time.Now()

	s.Append("BTCUSDT", obsAt("BTCUSDT", now, 0.0001, 1000, 100, 0))
	s.Append("BTCUSDT", obsAt("BTCUSDT", now.Add(-time.Minute), 0.0001, 1000, 100, 0))
	s.Append("BTCUSDT", obsAt("BTCUSDT", now.Add(time.Minute), 0.0002, 1100, 101, 5))

	last, ok := s.Last("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Minute).UnixMilli(), last.Timestamp)
}

func TestStore_HasMinimumHistory(t *testing.T) {
	s := NewStore(30 * 24 * time.Hour)
	now := time.Now()

	s.Append("ETHUSDT", obsAt("ETHUSDT", now.Add(-(7*24*time.Hour+time.Minute)), 0, 0, 1, 0))
	assert.True(t, s.HasMinimumHistory("ETHUSDT", now))

	s2 := NewStore(30 * 24 * time.Hour)
	s2.Append("SOLUSDT", obsAt("SOLUSDT", now.Add(-(7*24*time.Hour-time.Minute)), 0, 0, 1, 0))
	assert.False(t, s2.HasMinimumHistory("SOLUSDT", now))
}

func TestStore_PercentileOfFunding_InsufficientHistorySentinel(t *testing.T) {
	s := NewStore(30 * 24 * time.Hour)
	now := time.Now()
	s.Append("XRPUSDT", obsAt("XRPUSDT", now, 0.0001, 0, 1, 0))

	assert.Equal(t, 50.0, s.PercentileOfFunding("XRPUSDT", 0.0001, now))
}

func TestStore_PercentileOfFunding_Rank(t *testing.T) {
	s := NewStore(30 * 24 * time.Hour)
	now := time.Now()
	start := now.Add(-8 * 24 * time.Hour)

	// 700 points, ascending funding rate so the current value's rank is
	// deterministic.
	for i := 0; i < 700; i++ {
		ts := start.Add(time.Duration(i) * time.Minute)
		funding := float64(i) / 700.0
		s.Append("BTCUSDT", obsAt("BTCUSDT", ts, funding, 1000, 100, 0))
	}

	pct := s.PercentileOfFunding("BTCUSDT", 3.0/700.0, now)
	assert.InDelta(t, 0.57, pct, 0.2)
}

func TestStore_OIStats_EmptyWindow(t *testing.T) {
	s := NewStore(30 * 24 * time.Hour)
	stats := s.OIStats("NOPE", time.Hour, time.Now())
	assert.Equal(t, OIStats{}, stats)
}

func TestStore_OIStats_PopulationFormula(t *testing.T) {
	s := NewStore(30 * 24 * time.Hour)
	now := time.Now()
	values := []float64{10, 20, 30, 40}
	for i, v := range values {
		s.Append("BTCUSDT", obsAt("BTCUSDT", now.Add(-time.Duration(len(values)-i)*time.Minute), 0, v, 1, 0))
	}

	stats := s.OIStats("BTCUSDT", time.Hour, now)
	assert.InDelta(t, 25.0, stats.Mean, 0.001)
	assert.InDelta(t, 11.18, stats.Stddev, 0.01)
}

func TestStore_VDelta_FewerThanTwoEntries(t *testing.T) {
	s := NewStore(30 * 24 * time.Hour)
	now := time.Now()
	s.Append("BTCUSDT", obsAt("BTCUSDT", now, 0, 0, 1, 42))
	assert.Equal(t, 0.0, s.VDelta("BTCUSDT", int64(time.Hour/time.Millisecond), now))
}

func TestStore_VDelta_Computed(t *testing.T) {
	s := NewStore(30 * 24 * time.Hour)
	now := time.Now()
	s.Append("BTCUSDT", obsAt("BTCUSDT", now.Add(-30*time.Minute), 0, 0, 1, 10))
	s.Append("BTCUSDT", obsAt("BTCUSDT", now, 0, 0, 1, 35))

	delta := s.VDelta("BTCUSDT", int64(time.Hour/time.Millisecond), now)
	assert.Equal(t, 25.0, delta)
}

func TestStore_OIChange_UnresolvableReturnsZero(t *testing.T) {
	s := NewStore(30 * 24 * time.Hour)
	now := time.Now()
	s.Append("BTCUSDT", obsAt("BTCUSDT", now, 0, 1000, 100, 0))

	assert.Equal(t, 0.0, s.OIChange("BTCUSDT", int64(8*time.Hour/time.Millisecond), now))
}

func TestStore_OIChange_ResolvedWithinTolerance(t *testing.T) {
	s := NewStore(30 * 24 * time.Hour)
	now := time.Now()
	windowMs := int64(8 * time.Hour / time.Millisecond)

	s.Append("BTCUSDT", obsAt("BTCUSDT", now.Add(-8*time.Hour+2*time.Minute), 0, 1000, 100, 0))
	s.Append("BTCUSDT", obsAt("BTCUSDT", now, 0, 1125, 100, 0))

	change := s.OIChange("BTCUSDT", windowMs, now)
	assert.InDelta(t, 12.5, change, 0.01)
}

func TestStore_Evict_DropsOldEntries(t *testing.T) {
	s := NewStore(time.Hour)
	now := time.Now()

	s.Append("BTCUSDT", obsAt("BTCUSDT", now.Add(-2*time.Hour), 0, 0, 1, 0))
	s.Append("BTCUSDT", obsAt("BTCUSDT", now, 0, 0, 1, 0))

	s.Evict(now)

	first, ok := s.First("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, now.UnixMilli(), first.Timestamp)
}

func TestStore_Evict_DeletesEmptySymbols(t *testing.T) {
	s := NewStore(time.Hour)
	now := time.Now()
	s.Append("BTCUSDT", obsAt("BTCUSDT", now.Add(-2*time.Hour), 0, 0, 1, 0))

	s.Evict(now)

	_, ok := s.Last("BTCUSDT")
	assert.False(t, ok)
	assert.Empty(t, s.Symbols())
}

func TestStore_FundingMomentum(t *testing.T) {
	s := NewStore(30 * 24 * time.Hour)
	now := time.Now()

	rates := []float64{0.0001, 0.0002, 0.0003, 0.0004, 0.0005, 0.0006}
	for i, r := range rates {
		s.Append("BTCUSDT", obsAt("BTCUSDT", now.Add(time.Duration(i)*time.Minute), r, 0, 1, 0))
	}

	assert.InDelta(t, 0.0005, s.FundingMomentum("BTCUSDT"), 1e-9)
}
