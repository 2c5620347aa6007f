// Package persistence defines the storage contract for confluence alerts,
// independent of any particular database driver.
package persistence

import (
	"context"
	"time"

	"github.com/riftline/confluence-sentinel/internal/domain"
)

// TimeRange bounds a query window.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// AlertRepo persists and queries confluence alerts.
type AlertRepo interface {
	// Insert writes alert, treating a primary-key conflict as a no-op. It
	// does not report whether a row was written; the Emitter calls Exists
	// before Insert to tell new alerts from stored ones, so a submit is a
	// read followed by a write.
	Insert(ctx context.Context, alert domain.Alert) error

	// Exists reports whether an alert with id is already stored.
	Exists(ctx context.Context, id string) (bool, error)

	// ListAll returns alerts within tr ordered by timestamp desc.
	ListAll(ctx context.Context, tr TimeRange) ([]domain.Alert, error)

	// ListBySymbol returns alerts for symbol within tr.
	ListBySymbol(ctx context.Context, symbol string, tr TimeRange) ([]domain.Alert, error)

	// ListBySeverity returns alerts at severity within tr.
	ListBySeverity(ctx context.Context, severity domain.Severity, tr TimeRange) ([]domain.Alert, error)

	// Stats summarizes counts by severity and setup type within tr.
	Stats(ctx context.Context, tr TimeRange) (Stats, error)

	// Prune deletes alerts older than cutoff, returning the count removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	// Health reports connectivity.
	Health(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}

// Stats summarizes alert counts grouped by severity and setup type.
type Stats struct {
	Total       int64                      `json:"totalAlerts"`
	BySeverity  map[domain.Severity]int64  `json:"bySeverity"`
	BySetupType map[domain.SetupType]int64 `json:"bySetupType"`
}
