// Package scheduler drives the periodic detection and prune cycles and
// owns the process lifecycle state machine.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the scheduler's lifecycle state.
type State int32

const (
	StateInit State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

const (
	shutdownGrace  = 5 * time.Second
	minBackoff     = time.Second
	maxBackoff     = 30 * time.Second
)

// Config tunes cadence. Detect and Prune are the tick intervals; the
// scheduler never queues a second tick while the previous one is still
// running — a slow cycle simply skips the ticks it overruns.
type Config struct {
	DetectInterval time.Duration
	PruneInterval  time.Duration
}

// DetectFunc runs one detection cycle: fetch, evaluate, persist.
type DetectFunc func(ctx context.Context) error

// PruneFunc runs one retention sweep.
type PruneFunc func(ctx context.Context) error

// ReconnectFunc re-establishes the persistent store connection. Called with
// exponential backoff (capped at 30s) whenever a cycle reports the store is
// unreachable.
type ReconnectFunc func(ctx context.Context) error

// Scheduler runs DetectFunc on DetectInterval and PruneFunc on PruneInterval,
// skipping a tick if the previous run of the same kind is still in flight.
type Scheduler struct {
	cfg     Config
	detect  DetectFunc
	prune   PruneFunc
	reconn  ReconnectFunc

	state      atomic.Int32
	detectBusy atomic.Bool
	pruneBusy  atomic.Bool
}

// New builds a Scheduler in StateInit.
func New(cfg Config, detect DetectFunc, prune PruneFunc, reconn ReconnectFunc) *Scheduler {
	s := &Scheduler{cfg: cfg, detect: detect, prune: prune, reconn: reconn}
	s.state.Store(int32(StateInit))
	return s
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run drives both tick loops until ctx is cancelled, then drains: in-flight
// ticks get shutdownGrace to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.state.Store(int32(StateRunning))
	log.Info().
		Dur("detect_interval", s.cfg.DetectInterval).
		Dur("prune_interval", s.cfg.PruneInterval).
		Msg("scheduler: running")

	detectTicker := time.NewTicker(s.cfg.DetectInterval)
	defer detectTicker.Stop()
	pruneTicker := time.NewTicker(s.cfg.PruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.state.Store(int32(StateDraining))
			log.Info().Msg("scheduler: draining")
			s.drain()
			s.state.Store(int32(StateStopped))
			log.Info().Msg("scheduler: stopped")
			return nil

		case <-detectTicker.C:
			if s.detectBusy.Load() {
				log.Warn().Msg("scheduler: detect tick skipped, previous cycle still running")
				continue
			}
			go s.runDetect(ctx)

		case <-pruneTicker.C:
			if s.pruneBusy.Load() {
				log.Warn().Msg("scheduler: prune tick skipped, previous cycle still running")
				continue
			}
			go s.runPrune(ctx)
		}
	}
}

func (s *Scheduler) runDetect(ctx context.Context) {
	s.detectBusy.Store(true)
	defer s.detectBusy.Store(false)

	start := time.Now()
	if err := s.detect(ctx); err != nil {
		log.Error().Err(err).Msg("scheduler: detect cycle failed")
		s.reconnectWithBackoff(ctx)
		return
	}
	log.Debug().Dur("elapsed", time.Since(start)).Msg("scheduler: detect cycle complete")
}

func (s *Scheduler) runPrune(ctx context.Context) {
	s.pruneBusy.Store(true)
	defer s.pruneBusy.Store(false)

	if err := s.prune(ctx); err != nil {
		log.Error().Err(err).Msg("scheduler: prune cycle failed")
		s.reconnectWithBackoff(ctx)
	}
}

// reconnectWithBackoff retries ReconnectFunc with exponential backoff capped
// at maxBackoff, stopping early if ctx is cancelled.
func (s *Scheduler) reconnectWithBackoff(ctx context.Context) {
	if s.reconn == nil {
		return
	}

	backoff := minBackoff
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := s.reconn(ctx); err != nil {
			log.Warn().Err(err).Dur("backoff", backoff).Msg("scheduler: reconnect failed, retrying")
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		log.Info().Msg("scheduler: reconnect succeeded")
		return
	}
}

// drain waits up to shutdownGrace for any in-flight ticks to finish.
func (s *Scheduler) drain() {
	deadline := time.Now().Add(shutdownGrace)
	for time.Now().Before(deadline) {
		if !s.detectBusy.Load() && !s.pruneBusy.Load() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	log.Warn().Msg("scheduler: drain deadline exceeded, stopping with work in flight")
}
