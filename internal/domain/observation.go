// Package domain holds the core value types shared across the confluence
// detection pipeline: market observations and alerts.
package domain

import "math"

// MarketObservation is one symbol's market state acquired during a single
// fetch cycle.
type MarketObservation struct {
	Symbol             string
	Timestamp          int64 // ms since epoch
	Price              float64
	PriceChange24h     float64
	PriceChangePct24h  float64
	Volume             float64 // base
	QuoteVolume        float64 // quote
	FundingRate        float64 // fraction, e.g. 0.0001
	OpenInterest       float64 // base units
	OpenInterestValue  float64 // quote units = OpenInterest * Price
	CVD                float64 // takerBuyVolume - takerSellVolume approximation
	High24h            float64
	Low24h             float64
	Trades24h          int64
	NextFundingTime    int64 // ms since epoch
}

// Valid reports whether the observation satisfies the data-model invariants
// in spec.md §3: finite numerics, non-negative volume and open interest.
func (o MarketObservation) Valid() bool {
	fields := []float64{
		o.Price, o.PriceChange24h, o.PriceChangePct24h, o.Volume, o.QuoteVolume,
		o.FundingRate, o.OpenInterest, o.OpenInterestValue, o.CVD, o.High24h, o.Low24h,
	}
	for _, f := range fields {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return o.Volume >= 0 && o.OpenInterest >= 0 && o.Symbol != "" && o.Timestamp > 0
}

// FundingAPR annualizes the funding rate assuming three funding intervals
// per day, expressed as a percent.
func FundingAPR(rate float64) float64 {
	return rate * 3 * 365 * 100
}
