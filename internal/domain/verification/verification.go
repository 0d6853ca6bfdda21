// Package verification implements the CPF verification aggregate: a
// per-user identity-check lifecycle with attempt limiting and a 24-hour
// expiration window.
package verification

import (
	"time"

	"github.com/google/uuid"

	"github.com/devco/sentinela/internal/domain/errors"
	"github.com/devco/sentinela/internal/domain/events"
	"github.com/devco/sentinela/internal/domain/valueobjects"
)

const (
	maxAttempts = 3
	ttl         = 24 * time.Hour
)

// ClientData is the upstream subscriber snapshot attached on success.
type ClientData struct {
	ClientName    string
	ServiceName   string
	ServiceStatus string
}

// Verification is the identity-check aggregate. Zero value is not valid;
// use Start.
type Verification struct {
	ID            uuid.UUID
	UserID        valueobjects.ChatUserId
	Username      string
	UserMention   string
	Type          valueobjects.VerificationType
	SourceAction  string
	Status        valueobjects.VerificationStatus
	CreatedAt     time.Time
	ExpiresAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	AttemptCount  int
	MaxAttempts   int
	CPFVerified   *valueobjects.CPF
	ClientData    *ClientData
	FailureReason string

	pendingEvents []any
}

// Start creates a new verification in PENDING status, expiring in 24h.
func Start(id uuid.UUID, userID valueobjects.ChatUserId, username, mention string, vtype valueobjects.VerificationType, sourceAction string, now time.Time) *Verification {
	v := &Verification{
		ID:           id,
		UserID:       userID,
		Username:     username,
		UserMention:  mention,
		Type:         vtype,
		SourceAction: sourceAction,
		Status:       valueobjects.VerificationPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		MaxAttempts:  maxAttempts,
	}
	v.record(events.VerificationStarted{
		VerificationID: id,
		UserID:         userID,
		Type:           vtype,
		StartedAt:      now,
	})
	return v
}

// Begin transitions PENDING to IN_PROGRESS.
func (v *Verification) Begin(now time.Time) error {
	if v.Status != valueobjects.VerificationPending {
		return errors.IllegalState("verification can only begin from PENDING")
	}
	v.Status = valueobjects.VerificationInProgress
	v.StartedAt = &now
	return nil
}

// RecordAttempt increments the attempt counter and either completes,
// continues, or exhausts the verification.
func (v *Verification) RecordAttempt(success bool, failureReason string, cpf *valueobjects.CPF, data *ClientData, now time.Time) error {
	if v.Status.IsTerminal() {
		return errors.IllegalState("verification is already terminal")
	}
	v.AttemptCount++
	v.record(events.VerificationAttemptMade{
		VerificationID: v.ID,
		AttemptCount:   v.AttemptCount,
		Success:        success,
		FailureReason:  failureReason,
	})

	if success {
		return v.CompleteWithSuccess(cpf, data, now)
	}
	if v.AttemptCount >= v.MaxAttempts {
		return v.Fail("attempts_exhausted", now)
	}
	return nil
}

// CompleteWithSuccess finalizes the verification with the bound CPF and
// upstream client snapshot.
func (v *Verification) CompleteWithSuccess(cpf *valueobjects.CPF, data *ClientData, now time.Time) error {
	if v.Status.IsTerminal() {
		return errors.IllegalState("verification is already terminal")
	}
	v.Status = valueobjects.VerificationCompleted
	v.CPFVerified = cpf
	v.ClientData = data
	v.CompletedAt = &now
	v.record(events.VerificationCompleted{
		VerificationID: v.ID,
		UserID:         v.UserID,
		CompletedAt:    now,
	})
	return nil
}

// Fail terminates the verification as FAILED with the given reason.
func (v *Verification) Fail(reason string, now time.Time) error {
	if v.Status.IsTerminal() {
		return errors.IllegalState("verification is already terminal")
	}
	v.Status = valueobjects.VerificationFailed
	v.FailureReason = reason
	v.CompletedAt = &now
	v.record(events.VerificationFailed{
		VerificationID: v.ID,
		UserID:         v.UserID,
		Reason:         reason,
		FailedAt:       now,
	})
	return nil
}

// Expire terminates a non-terminal verification whose expiry has passed.
func (v *Verification) Expire(now time.Time) error {
	if v.Status.IsTerminal() {
		return errors.IllegalState("verification is already terminal")
	}
	if now.Before(v.ExpiresAt) {
		return errors.IllegalState("verification has not yet expired")
	}
	v.Status = valueobjects.VerificationExpired
	v.CompletedAt = &now
	v.record(events.VerificationExpired{
		VerificationID: v.ID,
		UserID:         v.UserID,
		ExpiredAt:      now,
	})
	return nil
}

// Cancel terminates a non-terminal verification, e.g. because it was
// superseded by a newer one.
func (v *Verification) Cancel(reason string, now time.Time) error {
	if v.Status.IsTerminal() {
		return errors.IllegalState("verification is already terminal")
	}
	v.Status = valueobjects.VerificationCancelled
	v.FailureReason = reason
	v.CompletedAt = &now
	v.record(events.VerificationCancelled{
		VerificationID: v.ID,
		UserID:         v.UserID,
		Reason:         reason,
	})
	return nil
}

// IsExpired reports whether now has passed the verification's expiry.
func (v *Verification) IsExpired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}

func (v *Verification) record(e any) {
	v.pendingEvents = append(v.pendingEvents, e)
}

// PendingEvents drains and returns events recorded since the last call.
func (v *Verification) PendingEvents() []any {
	pending := v.pendingEvents
	v.pendingEvents = nil
	return pending
}
