// Package engine implements the Integration Engine: a poller goroutine
// feeding a fixed worker pool that executes HubSoft integration jobs with
// optimistic leasing, exponential-backoff retry, a Redis-backed rate-limit
// pause window, and a HubSoft health monitor that drives offline-ticket
// reconciliation.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devco/sentinela/internal/cache"
	"github.com/devco/sentinela/internal/domain/integration"
	"github.com/devco/sentinela/internal/eventbus"
	"github.com/devco/sentinela/internal/hubsoft"
	"github.com/devco/sentinela/internal/repository"
)

const (
	orphanMultiplier    = 2
	healthCheckInterval = 5 * time.Minute
	reconcileInterval   = 10 * time.Minute
)

// Engine is the worker-mode background process. One value is constructed
// per `worker` process; the scheduler and workers share it.
type Engine struct {
	integrations repository.IntegrationRepository
	tickets      repository.TicketRepository
	users        repository.UserRepository
	hubsoft      *hubsoft.Client
	rdb          *redis.Client
	cache        *cache.Cache
	bus          *eventbus.Bus
	logger       *slog.Logger

	workerCount  int
	pollInterval time.Duration
	batchSize    int

	healthy bool
	lostAt  time.Time
}

// Config tunes the engine's worker pool and poll cadence.
type Config struct {
	WorkerCount  int
	PollInterval time.Duration
	BatchSize    int
}

// New constructs the Integration Engine. rdb may be nil — no rate-limit
// pause window is kept and no health transitions are published to Redis
// when so, which keeps the engine usable without Redis in tests.
func New(
	integrations repository.IntegrationRepository,
	tickets repository.TicketRepository,
	users repository.UserRepository,
	hs *hubsoft.Client,
	rdb *redis.Client,
	c *cache.Cache,
	bus *eventbus.Bus,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Engine{
		integrations: integrations,
		tickets:      tickets,
		users:        users,
		hubsoft:      hs,
		rdb:          rdb,
		cache:        c,
		bus:          bus,
		logger:       logger,
		workerCount:  cfg.WorkerCount,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		healthy:      true,
	}
}

// Run reconciles orphaned jobs, then starts the poller, the worker pool, and
// the health monitor. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("integration engine started",
		"workers", e.workerCount, "poll_interval", e.pollInterval, "batch_size", e.batchSize)

	if err := e.reconcileOrphans(ctx); err != nil {
		e.logger.Error("orphan reconciliation failed", "error", err)
	}

	jobs := make(chan *integration.Integration, e.batchSize)
	defer close(jobs)

	for i := 0; i < e.workerCount; i++ {
		go e.worker(ctx, jobs)
	}
	go e.dispatchLoop(ctx, jobs)
	go e.healthMonitorLoop(ctx)
	go e.reconcileLoop(ctx)

	<-ctx.Done()
	e.logger.Info("integration engine stopped")
	return nil
}

// reconcileOrphans fails-and-reschedules any job left IN_PROGRESS from a
// prior process that crashed mid-execution: started more than 2x its own
// timeout ago.
func (e *Engine) reconcileOrphans(ctx context.Context) error {
	active, err := e.integrations.FindActive(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now()
	orphaned := 0
	for _, job := range active {
		if job.StartedAt == nil {
			continue
		}
		deadline := job.StartedAt.Add(time.Duration(orphanMultiplier*job.TimeoutSeconds) * time.Second)
		if now.Before(deadline) {
			continue
		}
		if err := job.MarkOrphaned(now); err != nil {
			e.logger.Warn("failed to mark job orphaned", "integration_id", job.ID, "error", err)
			continue
		}
		job.ScheduledAt = addTime(now, job.NextRetryDelay())
		if err := e.integrations.Save(ctx, job); err != nil {
			e.logger.Warn("failed to persist orphaned job", "integration_id", job.ID, "error", err)
			continue
		}
		e.bus.PublishMany(job.PendingEvents())
		orphaned++
	}
	if orphaned > 0 {
		e.logger.Warn("reconciled orphaned integration jobs", "count", orphaned)
	}
	return nil
}

func addTime(now time.Time, d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}
