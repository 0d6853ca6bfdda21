package engine

import (
	"context"
	"time"

	"github.com/devco/sentinela/internal/domain/events"
)

const healthPubSubChannel = "sentinela:hubsoft:health"

// healthMonitorLoop polls HubSoft's reachability on a fixed interval and
// publishes a restored/lost transition event exactly once per state change,
// triggering offline-ticket reconciliation the moment connectivity returns.
func (e *Engine) healthMonitorLoop(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkHealth(ctx)
		}
	}
}

func (e *Engine) checkHealth(ctx context.Context) {
	now := time.Now()
	err := e.hubsoft.CheckAPIHealth(ctx)
	wasHealthy := e.healthy
	e.healthy = err == nil

	if wasHealthy && !e.healthy {
		e.logger.Warn("hubsoft connectivity lost")
		e.lostAt = now
		e.bus.Publish(events.HubSoftConnectionLost{LostAt: now})
		if e.rdb != nil {
			e.rdb.Publish(ctx, healthPubSubChannel, "down")
		}
		return
	}

	if !wasHealthy && e.healthy {
		var downtime time.Duration
		if !e.lostAt.IsZero() {
			downtime = now.Sub(e.lostAt)
		}
		e.logger.Info("hubsoft connectivity restored", "downtime", downtime)
		e.bus.Publish(events.HubSoftConnectionRestored{DowntimeDuration: downtime, RestoredAt: now})
		if e.rdb != nil {
			e.rdb.Publish(ctx, healthPubSubChannel, "up")
		}
		if _, err := e.reconcileOfflineTickets(ctx); err != nil {
			e.logger.Error("post-recovery reconciliation", "error", err)
		}
	}
}
