package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/devco/sentinela/internal/domain/integration"
	"github.com/devco/sentinela/internal/domain/valueobjects"
	"github.com/devco/sentinela/internal/hubsoft"
	"github.com/devco/sentinela/internal/telemetry"
)

// process executes one leased job end to end: Start, dispatch to the
// type-specific handler, record the attempt, and persist the result.
func (e *Engine) process(ctx context.Context, job *integration.Integration) {
	now := time.Now()
	if err := job.Start(now); err != nil {
		e.logger.Error("starting integration", "integration_id", job.ID, "error", err)
		return
	}
	if err := e.integrations.Save(ctx, job); err != nil {
		e.logger.Error("persisting started integration", "integration_id", job.ID, "error", err)
		return
	}
	e.bus.PublishMany(job.PendingEvents())

	started := time.Now()
	response, err := e.execute(ctx, job)
	duration := time.Since(started)
	telemetry.IntegrationAttemptDuration.WithLabelValues(string(job.Type)).Observe(duration.Seconds())

	if err == nil {
		e.finishAttempt(ctx, job, true, "", response, duration, "", now)
		return
	}

	errType, retryAfter := classify(err)
	if errType == "rate_limit" {
		e.pauseRateLimit(ctx, retryAfter)
		telemetry.HubSoftRateLimitHitsTotal.Inc()
	}
	e.finishAttempt(ctx, job, false, err.Error(), nil, duration, errType, now)
}

func (e *Engine) finishAttempt(ctx context.Context, job *integration.Integration, success bool, errMsg string, response json.RawMessage, duration time.Duration, errType string, now time.Time) {
	if err := job.RecordAttempt(success, errMsg, response, duration.Milliseconds(), errType, now); err != nil {
		e.logger.Error("recording integration attempt", "integration_id", job.ID, "error", err)
		return
	}

	switch job.Status {
	case valueobjects.IntegrationRetryScheduled:
		job.ScheduledAt = addTime(now, job.NextRetryDelay())
		telemetry.IntegrationRetriesTotal.WithLabelValues(string(job.Type)).Inc()
	case valueobjects.IntegrationCompleted:
		telemetry.IntegrationsCompletedTotal.WithLabelValues(string(job.Type), "success").Inc()
	case valueobjects.IntegrationFailed:
		telemetry.IntegrationsCompletedTotal.WithLabelValues(string(job.Type), "failure").Inc()
	}

	if err := e.integrations.Save(ctx, job); err != nil {
		e.logger.Error("persisting integration attempt", "integration_id", job.ID, "error", err)
		return
	}
	e.bus.PublishMany(job.PendingEvents())

	if success && job.Type == valueobjects.IntegrationTicketSync {
		e.attachTicketSyncResult(ctx, job, response)
	}
}

// classify maps a transport/upstream error to a retry-eligible error type
// (see domain/integration.IsRetryable) and, for a rate-limit hit, the
// upstream-reported reset window.
func classify(err error) (errType string, retryAfter time.Duration) {
	var rateLimit *hubsoft.RateLimitError
	if errors.As(err, &rateLimit) {
		return "rate_limit", rateLimit.ResetAfter
	}
	var upstream *hubsoft.UpstreamError
	if errors.As(err, &upstream) {
		if upstream.StatusCode >= 500 {
			return "server_error", 0
		}
		return "upstream_permanent", 0
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", 0
	}
	return "connection_error", 0
}
