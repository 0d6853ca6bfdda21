package engine

import (
	"context"
	"time"

	"github.com/devco/sentinela/internal/domain/integration"
)

// dispatchLoop pulls due jobs on each tick, leases each one (optimistic
// version bump), and hands leased jobs to the worker pool. A paused rate
// limit window (set by a worker after a 429) skips the tick entirely so no
// worker hammers HubSoft while it's shedding load.
func (e *Engine) dispatchLoop(ctx context.Context, jobs chan<- *integration.Integration) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.rateLimitPaused(ctx) {
				continue
			}
			e.dispatchOnce(ctx, jobs)
		}
	}
}

func (e *Engine) dispatchOnce(ctx context.Context, jobs chan<- *integration.Integration) {
	due, err := e.integrations.FindScheduledUntil(ctx, time.Now(), e.batchSize)
	if err != nil {
		e.logger.Error("listing scheduled integrations", "error", err)
		return
	}

	for _, job := range due {
		ok, err := e.integrations.Lease(ctx, job.ID, job.Version)
		if err != nil {
			e.logger.Error("leasing integration", "integration_id", job.ID, "error", err)
			continue
		}
		if !ok {
			// Another worker (possibly in a different process) already
			// leased this job this tick.
			continue
		}
		job.Version++

		select {
		case jobs <- job:
		case <-ctx.Done():
			return
		}
	}
}

// worker drains jobs until the channel is closed or ctx is cancelled.
func (e *Engine) worker(ctx context.Context, jobs <-chan *integration.Integration) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			e.process(ctx, job)
		}
	}
}
