// Package alerts owns the cooldown and persistence boundary between the
// Detector and storage: it decides whether a candidate is actually emitted.
package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/riftline/confluence-sentinel/internal/domain"
	"github.com/riftline/confluence-sentinel/internal/metrics"
	"github.com/riftline/confluence-sentinel/internal/persistence"
)

// Emitter deduplicates and persists alert candidates. The cooldown map is
// mutated only here; the Detector only reads it through IsOnCooldown.
type Emitter struct {
	repo     persistence.AlertRepo
	cooldown time.Duration
	retain   time.Duration
	metrics  *metrics.Registry

	mu       sync.Mutex
	lastEmit map[string]time.Time
}

// New builds an Emitter persisting through repo, with cooldown between
// repeat alerts on the same symbol and retain as the prune horizon.
func New(repo persistence.AlertRepo, cooldown, retain time.Duration, reg *metrics.Registry) *Emitter {
	return &Emitter{
		repo:     repo,
		cooldown: cooldown,
		retain:   retain,
		metrics:  reg,
		lastEmit: make(map[string]time.Time),
	}
}

// IsOnCooldown reports whether symbol emitted within the cooldown window as
// of now. Passed to the Detector as a CooldownChecker.
func (e *Emitter) IsOnCooldown(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	last, ok := e.lastEmit[symbol]
	if !ok {
		return false
	}
	return time.Since(last) < e.cooldown
}

// Submit persists each candidate not already stored, logging and continuing
// past individual failures rather than aborting the batch. lastEmit is only
// advanced on a successful write, so a failed persist is retried next cycle
// instead of silently falling onto cooldown.
func (e *Emitter) Submit(ctx context.Context, candidates []domain.Alert) int {
	emitted := 0
	for _, alert := range candidates {
		exists, err := e.repo.Exists(ctx, alert.ID)
		if err != nil {
			log.Warn().Err(err).Str("alert_id", alert.ID).Msg("alerts: exists check failed, skipping")
			continue
		}
		if exists {
			continue
		}

		if err := e.repo.Insert(ctx, alert); err != nil {
			log.Warn().Err(err).Str("alert_id", alert.ID).Msg("alerts: insert failed")
			continue
		}

		e.mu.Lock()
		e.lastEmit[alert.Symbol] = time.Now()
		e.mu.Unlock()

		if e.metrics != nil {
			e.metrics.RecordAlert(string(alert.SetupType), string(alert.Severity))
		}

		log.Info().
			Str("symbol", alert.Symbol).
			Str("setup", string(alert.SetupType)).
			Str("severity", string(alert.Severity)).
			Int("score", alert.ConfluenceScore).
			Msg("alerts: emitted")
		emitted++
	}
	return emitted
}

// Prune deletes alerts older than the retention window, returning the count
// removed.
func (e *Emitter) Prune(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-e.retain)
	removed, err := e.repo.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("alerts: pruned")
		if e.metrics != nil {
			e.metrics.AlertsPruned.Add(float64(removed))
		}
	}
	return removed, nil
}
