// Package integration implements the HubSoft integration job aggregate:
// scheduling, leasing, attempt recording, and exponential-backoff retry.
package integration

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/devco/sentinela/internal/domain/errors"
	"github.com/devco/sentinela/internal/domain/events"
	"github.com/devco/sentinela/internal/domain/valueobjects"
)

const baseRetryDelaySeconds = 60
const maxRetryDelaySeconds = 3600

var retryableErrors = map[string]bool{
	"timeout": true, "connection_error": true, "rate_limit": true,
	"server_error": true, "temporary_unavailable": true,
}

// IsRetryable reports whether errorType is one of the kinds the Engine
// retries rather than failing permanently.
func IsRetryable(errorType string) bool { return retryableErrors[errorType] }

// Attempt is one execution attempt against HubSoft.
type Attempt struct {
	AttemptedAt  time.Time
	Success      bool
	ErrorMessage string
	ResponseData json.RawMessage
	DurationMS   int64
}

// Integration is the job aggregate mediating one call to HubSoft. Zero
// value is not valid; use Schedule.
type Integration struct {
	ID             uuid.UUID
	Type           valueobjects.IntegrationType
	Priority       valueobjects.IntegrationPriority
	Status         valueobjects.IntegrationStatus
	Payload        json.RawMessage
	Metadata       map[string]string
	MaxRetries     int
	TimeoutSeconds int
	Attempts       []Attempt
	ScheduledAt    *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	HubSoftResponse json.RawMessage
	ErrorDetails    string
	Version         int64 // optimistic-concurrency lease token

	pendingEvents []any
}

// New constructs a PENDING integration job, not yet scheduled.
func New(id uuid.UUID, itype valueobjects.IntegrationType, priority valueobjects.IntegrationPriority, payload json.RawMessage, maxRetries, timeoutSeconds int) *Integration {
	return &Integration{
		ID:             id,
		Type:           itype,
		Priority:       priority,
		Status:         valueobjects.IntegrationPending,
		Payload:        payload,
		Metadata:       make(map[string]string),
		MaxRetries:     maxRetries,
		TimeoutSeconds: timeoutSeconds,
	}
}

// Schedule sets scheduled_at and emits IntegrationScheduled. at defaults to
// now when zero.
func (i *Integration) Schedule(at time.Time, now time.Time) error {
	if i.Status != valueobjects.IntegrationPending {
		return errors.IllegalState("cannot schedule integration with status " + string(i.Status))
	}
	if at.IsZero() {
		at = now
	}
	i.ScheduledAt = &at
	i.record(events.IntegrationScheduled{
		IntegrationID: i.ID,
		Type:          i.Type,
		Priority:      i.Priority,
		ScheduledAt:   at,
	})
	return nil
}

// Start transitions PENDING or RETRY_SCHEDULED to IN_PROGRESS.
func (i *Integration) Start(now time.Time) error {
	if i.Status != valueobjects.IntegrationPending && i.Status != valueobjects.IntegrationRetryScheduled {
		return errors.IllegalState("cannot start integration with status " + string(i.Status))
	}
	i.Status = valueobjects.IntegrationInProgress
	i.StartedAt = &now
	i.record(events.IntegrationStarted{IntegrationID: i.ID, StartedAt: now})
	return nil
}

// CanRetry reports whether another attempt is permitted (P3/P8 support).
func (i *Integration) CanRetry() bool {
	terminalRetryable := i.Status == valueobjects.IntegrationFailed || i.Status == valueobjects.IntegrationRetryScheduled
	return terminalRetryable && len(i.Attempts) < i.MaxRetries
}

// NextRetryDelay is the exponential backoff delay for the next attempt:
// min(60*2^attempt_count, 3600) seconds.
func (i *Integration) NextRetryDelay() time.Duration {
	delay := baseRetryDelaySeconds
	for n := 0; n < len(i.Attempts); n++ {
		delay *= 2
		if delay >= maxRetryDelaySeconds {
			delay = maxRetryDelaySeconds
			break
		}
	}
	return time.Duration(delay) * time.Second
}

// RecordAttempt appends an attempt and routes to completion or failure
// handling.
func (i *Integration) RecordAttempt(success bool, errMsg string, response json.RawMessage, durationMS int64, errorType string, now time.Time) error {
	if len(i.Attempts) >= i.MaxRetries+1 {
		return errors.IllegalState("attempt limit exceeded")
	}
	i.Attempts = append(i.Attempts, Attempt{
		AttemptedAt:  now,
		Success:      success,
		ErrorMessage: errMsg,
		ResponseData: response,
		DurationMS:   durationMS,
	})

	if success {
		return i.CompleteWithSuccess(response, now)
	}
	return i.handleFailure(errMsg, errorType, now)
}

// CompleteWithSuccess finalizes the integration as COMPLETED.
func (i *Integration) CompleteWithSuccess(response json.RawMessage, now time.Time) error {
	if i.Status != valueobjects.IntegrationInProgress {
		return errors.IllegalState("cannot complete integration with status " + string(i.Status))
	}
	i.Status = valueobjects.IntegrationCompleted
	i.CompletedAt = &now
	i.HubSoftResponse = response
	i.record(events.IntegrationCompleted{IntegrationID: i.ID, CompletedAt: now})
	return nil
}

func (i *Integration) handleFailure(errMsg, errorType string, now time.Time) error {
	return i.Fail(errMsg, "", IsRetryable(errorType), now)
}

// Fail applies retry-or-terminate failure handling. When retryable and
// attempts remain below max_retries, the job moves to RETRY_SCHEDULED;
// otherwise it terminates as FAILED. Unlike CanRetry, this decides from the
// attempt count directly — it runs while the job is still IN_PROGRESS, the
// moment a failure becomes known, not after a prior terminal state.
func (i *Integration) Fail(message, details string, retryable bool, now time.Time) error {
	if i.Status.IsTerminal() {
		return errors.IllegalState("integration is already terminal")
	}
	if retryable && len(i.Attempts) < i.MaxRetries {
		i.Status = valueobjects.IntegrationRetryScheduled
		return nil
	}
	i.Status = valueobjects.IntegrationFailed
	i.CompletedAt = &now
	i.ErrorDetails = details
	i.record(events.IntegrationFailed{
		IntegrationID: i.ID,
		Reason:        message,
		Retryable:     false,
		FailedAt:      now,
	})
	return nil
}

// Cancel terminates a non-finished integration.
func (i *Integration) Cancel(reason string, now time.Time) error {
	if i.Status == valueobjects.IntegrationCompleted || i.Status == valueobjects.IntegrationFailed {
		return errors.IllegalState("cannot cancel a finished integration")
	}
	i.Status = valueobjects.IntegrationCancelled
	i.CompletedAt = &now
	i.Metadata["cancel_reason"] = reason
	return nil
}

// UpdatePriority changes priority without resetting attempt history.
// Forbidden once the job has terminated.
func (i *Integration) UpdatePriority(newPriority valueobjects.IntegrationPriority, reason string) error {
	if i.Status.IsTerminal() {
		return errors.IllegalState("cannot change priority of a terminated integration")
	}
	i.Priority = newPriority
	i.Metadata["priority_change_reason"] = reason
	return nil
}

// MarkOrphaned fails a crashed-mid-execution job through the normal retry
// policy: RETRY_SCHEDULED while retries remain, FAILED once they are
// exhausted. Called by the Engine's startup
// reconciliation for jobs stuck IN_PROGRESS past 2x their timeout.
func (i *Integration) MarkOrphaned(now time.Time) error {
	if i.Status != valueobjects.IntegrationInProgress {
		return errors.IllegalState("only in-progress integrations can be orphaned")
	}
	return i.Fail("orphaned", "", true, now)
}

func (i *Integration) record(e any) {
	i.pendingEvents = append(i.pendingEvents, e)
}

// PendingEvents drains and returns events recorded since the last call.
func (i *Integration) PendingEvents() []any {
	pending := i.pendingEvents
	i.pendingEvents = nil
	return pending
}
