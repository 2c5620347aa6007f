// Package core wires every component into one owned instance — there are no
// package-level singletons anywhere in this process.
package core

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/riftline/confluence-sentinel/internal/alerts"
	"github.com/riftline/confluence-sentinel/internal/cache"
	"github.com/riftline/confluence-sentinel/internal/config"
	"github.com/riftline/confluence-sentinel/internal/detector"
	"github.com/riftline/confluence-sentinel/internal/fetcher"
	"github.com/riftline/confluence-sentinel/internal/httpapi"
	"github.com/riftline/confluence-sentinel/internal/metrics"
	"github.com/riftline/confluence-sentinel/internal/persistence/postgres"
	"github.com/riftline/confluence-sentinel/internal/providers/endpointpool"
	"github.com/riftline/confluence-sentinel/internal/providers/futures"
	"github.com/riftline/confluence-sentinel/internal/scheduler"
	"github.com/riftline/confluence-sentinel/internal/timeseries"
)

const dbQueryTimeout = 10 * time.Second

// Core owns every long-lived component, constructed once from a resolved
// Config. Nothing here is package-level state.
type Core struct {
	cfg config.Config

	pool    *endpointpool.Pool
	cache   cache.Manager
	client  *futures.Client
	fetcher *fetcher.Fetcher
	store   *timeseries.Store
	detect  *detector.Detector
	emitter *alerts.Emitter
	repo    *postgres.AlertRepo
	sched   *scheduler.Scheduler
	metrics *metrics.Registry
	http    *httpapi.Server
}

// New builds every component. Postgres connects lazily (see
// persistence/postgres.Open): a failed initial attempt is logged, not
// returned as an error, so the HTTP listener, Fetcher, and Scheduler all
// start regardless of whether the store is reachable yet — persistence
// availability is never a startup gate. The Scheduler's failure-triggered
// reconnect loop (see reconnect below) heals the connection in the
// background.
func New(cfg config.Config) *Core {
	reg := metrics.NewRegistry()

	pool := endpointpool.New(cfg.EndpointBases)
	pool.SetMetrics(reg)

	client := futures.NewClient(pool)

	var cacheManager cache.Manager
	if cfg.RedisAddr != "" {
		redisMgr := cache.NewRedisManager(cfg.RedisAddr, "", 0)
		cacheManager = cache.NewFallback(redisMgr, cache.NewInMemoryManager())
	} else {
		cacheManager = cache.NewInMemoryManager()
	}

	f := fetcher.New(client, cacheManager, cfg.QuoteAsset, cfg.TopN, reg)

	store := timeseries.NewStore(cfg.Lookback)

	det := detector.New(store, detector.Config{
		MinVolumeQuote: cfg.MinVolumeQuote,
		MinOIValue:     cfg.MinOIValue,
		ScoreThreshold: cfg.ScoreThreshold,
		TopLiquidity:   20,
	})

	repo := postgres.Open(cfg.DatabaseDSN(), dbQueryTimeout)

	emitter := alerts.New(repo, cfg.AlertCooldown, cfg.Retention, reg)

	httpServer := httpapi.New(httpapi.DefaultConfig(cfg.Port, cfg.FrontendURL), repo, emitter)

	c := &Core{
		cfg:     cfg,
		pool:    pool,
		cache:   cacheManager,
		client:  client,
		fetcher: f,
		store:   store,
		detect:  det,
		emitter: emitter,
		repo:    repo,
		metrics: reg,
		http:    httpServer,
	}

	c.sched = scheduler.New(
		scheduler.Config{DetectInterval: cfg.DetectInterval, PruneInterval: cfg.PruneInterval},
		c.runDetectionCycle,
		c.runPruneCycle,
		c.reconnect,
	)

	return c
}

// Run starts the background exchange-info refresher, the scheduler, and the
// HTTP server, blocking until ctx is cancelled.
func (c *Core) Run(ctx context.Context) error {
	if err := c.fetcher.RefreshExchangeInfo(ctx); err != nil {
		log.Warn().Err(err).Msg("core: initial exchange info refresh failed, continuing unfiltered")
	}
	go c.fetcher.RunExchangeInfoRefresher(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.http.Start()
	}()

	schedErr := c.sched.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.http.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("core: http server shutdown error")
	}

	if err := <-errCh; err != nil {
		return err
	}
	return schedErr
}

// Close releases the repository connection.
func (c *Core) Close() error {
	return c.repo.Close()
}

func (c *Core) runDetectionCycle(ctx context.Context) error {
	timer := c.metrics.StartCycleTimer()
	defer timer.Stop()

	observations := c.fetcher.Snapshot(ctx)
	if len(observations) == 0 {
		return nil
	}

	now := time.Now()
	for _, obs := range observations {
		c.store.Append(obs.Symbol, obs)
	}

	candidates := c.detect.Evaluate(now, observations, c.emitter.IsOnCooldown)
	if len(candidates) == 0 {
		return nil
	}

	emitted := c.emitter.Submit(ctx, candidates)
	log.Info().Int("candidates", len(candidates)).Int("emitted", emitted).Msg("core: detection cycle complete")
	return nil
}

func (c *Core) runPruneCycle(ctx context.Context) error {
	now := time.Now()
	c.store.Evict(now)
	_, err := c.emitter.Prune(ctx, now)
	return err
}

func (c *Core) reconnect(ctx context.Context) error {
	return c.repo.Health(ctx)
}
