package integration

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/devco/sentinela/internal/domain/valueobjects"
)

func newTestIntegration(t *testing.T, maxRetries int) *Integration {
	t.Helper()
	i := New(uuid.New(), valueobjects.IntegrationTicketSync, valueobjects.PriorityNormal, nil, maxRetries, 30)
	i.PendingEvents()
	return i
}

func TestSchedule(t *testing.T) {
	i := newTestIntegration(t, 3)
	now := time.Now()
	if err := i.Schedule(time.Time{}, now); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if i.ScheduledAt == nil || !i.ScheduledAt.Equal(now) {
		t.Error("ScheduledAt should default to now when zero")
	}
}

func TestSchedule_OnlyFromPending(t *testing.T) {
	i := newTestIntegration(t, 3)
	i.Schedule(time.Time{}, time.Now())
	i.Start(time.Now())
	if err := i.Schedule(time.Time{}, time.Now()); err == nil {
		t.Error("expected error scheduling an already-started integration")
	}
}

func TestStart(t *testing.T) {
	i := newTestIntegration(t, 3)
	if err := i.Start(time.Now()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if i.Status != valueobjects.IntegrationInProgress {
		t.Errorf("status = %v, want IN_PROGRESS", i.Status)
	}
}

func TestNextRetryDelay(t *testing.T) {
	i := newTestIntegration(t, 10)
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 60 * time.Second},
		{1, 120 * time.Second},
		{2, 240 * time.Second},
		{3, 480 * time.Second},
		{6, 3600 * time.Second}, // 60*2^6=3840, clamps to 3600
		{20, 3600 * time.Second},
	}
	for _, tt := range tests {
		i.Attempts = make([]Attempt, tt.attempts)
		if got := i.NextRetryDelay(); got != tt.want {
			t.Errorf("NextRetryDelay() at %d attempts = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestRecordAttempt_Success(t *testing.T) {
	i := newTestIntegration(t, 3)
	i.Start(time.Now())
	if err := i.RecordAttempt(true, "", []byte(`{"ok":true}`), 120, "", time.Now()); err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}
	if i.Status != valueobjects.IntegrationCompleted {
		t.Errorf("status = %v, want COMPLETED", i.Status)
	}
}

func TestRecordAttempt_RetryableFailureSchedulesRetry(t *testing.T) {
	i := newTestIntegration(t, 3)
	i.Start(time.Now())
	if err := i.RecordAttempt(false, "timed out", nil, 30000, "timeout", time.Now()); err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}
	if i.Status != valueobjects.IntegrationRetryScheduled {
		t.Errorf("status = %v, want RETRY_SCHEDULED", i.Status)
	}
}

func TestRecordAttempt_ExhaustsRetriesFails(t *testing.T) {
	i := newTestIntegration(t, 2)
	i.Start(time.Now())
	i.RecordAttempt(false, "timed out", nil, 100, "timeout", time.Now())
	i.Status = valueobjects.IntegrationInProgress // simulate the Engine restarting the job for its next attempt
	if err := i.RecordAttempt(false, "timed out", nil, 100, "timeout", time.Now()); err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}
	if i.Status != valueobjects.IntegrationFailed {
		t.Errorf("status = %v, want FAILED after exhausting retries", i.Status)
	}
}

func TestRecordAttempt_NonRetryableFailsImmediately(t *testing.T) {
	i := newTestIntegration(t, 5)
	i.Start(time.Now())
	if err := i.RecordAttempt(false, "client rejected", nil, 50, "invalid_request", time.Now()); err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}
	if i.Status != valueobjects.IntegrationFailed {
		t.Errorf("status = %v, want FAILED for a non-retryable error", i.Status)
	}
}

func TestCanRetry(t *testing.T) {
	i := newTestIntegration(t, 3)
	i.Status = valueobjects.IntegrationRetryScheduled
	i.Attempts = []Attempt{{}}
	if !i.CanRetry() {
		t.Error("CanRetry() should be true with attempts below MaxRetries")
	}
	i.Attempts = []Attempt{{}, {}, {}}
	if i.CanRetry() {
		t.Error("CanRetry() should be false once attempts reach MaxRetries")
	}
}

func TestCancel(t *testing.T) {
	i := newTestIntegration(t, 3)
	if err := i.Cancel("superseded", time.Now()); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if i.Status != valueobjects.IntegrationCancelled {
		t.Errorf("status = %v, want CANCELLED", i.Status)
	}
}

func TestCancel_RejectsFinished(t *testing.T) {
	i := newTestIntegration(t, 3)
	i.Start(time.Now())
	i.RecordAttempt(true, "", nil, 10, "", time.Now())
	if err := i.Cancel("too late", time.Now()); err == nil {
		t.Error("expected error cancelling a completed integration")
	}
}

func TestMarkOrphaned(t *testing.T) {
	i := newTestIntegration(t, 3)
	i.Start(time.Now())
	if err := i.MarkOrphaned(time.Now()); err != nil {
		t.Fatalf("MarkOrphaned() error = %v", err)
	}
	if i.Status != valueobjects.IntegrationRetryScheduled {
		t.Errorf("status = %v, want RETRY_SCHEDULED (orphan treated as retryable)", i.Status)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable("timeout") || !IsRetryable("rate_limit") {
		t.Error("timeout and rate_limit should be retryable")
	}
	if IsRetryable("invalid_request") {
		t.Error("invalid_request should not be retryable")
	}
}

// TestRecordAttempt_NeverExceedsMaxRetriesPlusOneAttempts drives a job
// through repeated retryable failures and checks the attempt log never
// grows past MaxRetries+1, whatever the exhaustion point.
func TestRecordAttempt_NeverExceedsMaxRetriesPlusOneAttempts(t *testing.T) {
	const maxRetries = 4
	i := newTestIntegration(t, maxRetries)
	i.Start(time.Now())
	for i.Status != valueobjects.IntegrationFailed && i.Status != valueobjects.IntegrationCompleted {
		if err := i.RecordAttempt(false, "timed out", nil, 50, "timeout", time.Now()); err != nil {
			t.Fatalf("RecordAttempt() error = %v", err)
		}
		if len(i.Attempts) > maxRetries+1 {
			t.Fatalf("attempts = %d, want at most %d", len(i.Attempts), maxRetries+1)
		}
		if i.Status == valueobjects.IntegrationRetryScheduled {
			i.Status = valueobjects.IntegrationInProgress // simulate the Engine picking the retry back up
		}
	}
	if i.Status != valueobjects.IntegrationFailed {
		t.Fatalf("status = %v, want FAILED once retries are exhausted", i.Status)
	}
	if len(i.Attempts) != maxRetries {
		t.Errorf("attempts = %d, want exactly %d when retries exhaust", len(i.Attempts), maxRetries)
	}
}

// TestRecordAttempt_CompletedAlwaysEndsOnASuccessfulAttempt verifies that
// whenever a job reaches COMPLETED, its most recent attempt is the one
// that succeeded — a job never completes on the strength of an earlier try.
func TestRecordAttempt_CompletedAlwaysEndsOnASuccessfulAttempt(t *testing.T) {
	i := newTestIntegration(t, 3)
	i.Start(time.Now())
	i.RecordAttempt(false, "timed out", nil, 50, "timeout", time.Now())
	i.Status = valueobjects.IntegrationInProgress
	if err := i.RecordAttempt(true, "", []byte(`{"ok":true}`), 80, "", time.Now()); err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}
	if i.Status != valueobjects.IntegrationCompleted {
		t.Fatalf("status = %v, want COMPLETED", i.Status)
	}
	last := i.Attempts[len(i.Attempts)-1]
	if !last.Success {
		t.Error("last attempt on a COMPLETED job must have Success = true")
	}
}
