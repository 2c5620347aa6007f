package domain

import "fmt"

// SetupType identifies which confluence template produced an alert.
type SetupType string

const (
	ShortSqueeze         SetupType = "SHORT_SQUEEZE"
	LongFlush            SetupType = "LONG_FLUSH"
	CapitulationReversal SetupType = "CAPITULATION_REVERSAL"
)

// Severity is derived from the confluence score band.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityForScore derives severity from a 0-100 confluence score per
// spec.md §3: CRITICAL iff score >= 90, else HIGH for the 75-89 emit band.
func SeverityForScore(score int) Severity {
	switch {
	case score >= 90:
		return SeverityCritical
	case score >= 75:
		return SeverityHigh
	case score >= 50:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AlertPayload snapshots the contributing numerics behind a scored alert.
type AlertPayload struct {
	Funding           float64 `json:"funding"`
	FundingAPR        float64 `json:"fundingAPR"`
	FundingPercentile float64 `json:"fundingPercentile"`
	OIChange8hr       float64 `json:"oiChange8hr"`
	VDelta1hr         float64 `json:"vdelta1hr"`
	PriceChange       float64 `json:"priceChange"`
	Volume24h         float64 `json:"volume24h"`
}

// Alert is a compact confluence-setup record, scored 0-100.
type Alert struct {
	ID              string       `json:"id"`
	Symbol          string       `json:"symbol"`
	SetupType       SetupType    `json:"setupType"`
	Severity        Severity     `json:"severity"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Signals         []string     `json:"signals"`
	ConfluenceScore int          `json:"confluenceScore"`
	Timestamp       int64        `json:"timestamp"` // ms, emission time
	Payload         AlertPayload `json:"payload"`
}

// NewAlertID builds the deterministic id "{symbol}-{setup}-{timestamp}".
func NewAlertID(symbol string, setup SetupType, timestamp int64) string {
	return fmt.Sprintf("%s-%s-%d", symbol, setup, timestamp)
}
