// Package events defines the domain events emitted by aggregates and
// dispatched through the event bus.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/devco/sentinela/internal/domain/valueobjects"
)

type TicketCreated struct {
	TicketID  valueobjects.TicketId
	UserID    valueobjects.ChatUserId
	Category  valueobjects.TicketCategory
	Urgency   valueobjects.Urgency
	CreatedAt time.Time
}

type TicketAssigned struct {
	TicketID   valueobjects.TicketId
	Technician string
	Notes      string
	ByAdmin    valueobjects.ChatUserId
	AssignedAt time.Time
}

type TicketStatusChanged struct {
	TicketID  valueobjects.TicketId
	From      valueobjects.TicketStatus
	To        valueobjects.TicketStatus
	By        string
	ChangedAt time.Time
}

type HubSoftTicketSynced struct {
	TicketID        valueobjects.TicketId
	HubSoftTicketID string
	HubSoftProtocol string
	SyncStatus      valueobjects.SyncStatus
	SyncedAt        time.Time
}

type VerificationStarted struct {
	VerificationID uuid.UUID
	UserID         valueobjects.ChatUserId
	Type           valueobjects.VerificationType
	StartedAt      time.Time
}

type VerificationAttemptMade struct {
	VerificationID uuid.UUID
	AttemptCount   int
	Success        bool
	FailureReason  string
}

type VerificationCompleted struct {
	VerificationID uuid.UUID
	UserID         valueobjects.ChatUserId
	CompletedAt    time.Time
}

type VerificationFailed struct {
	VerificationID uuid.UUID
	UserID         valueobjects.ChatUserId
	Reason         string
	FailedAt       time.Time
}

type VerificationExpired struct {
	VerificationID uuid.UUID
	UserID         valueobjects.ChatUserId
	ExpiredAt      time.Time
}

type VerificationCancelled struct {
	VerificationID uuid.UUID
	UserID         valueobjects.ChatUserId
	Reason         string
}

type CPFValidated struct {
	UserID      valueobjects.ChatUserId
	CPFMasked   string
	ClientName  string
	ValidatedAt time.Time
}

type CPFDuplicateDetected struct {
	VerificationID    uuid.UUID
	NewUserID         valueobjects.ChatUserId
	ExistingUserID    valueobjects.ChatUserId
	CPFMasked         string
	DetectedAt        time.Time
}

type CPFRemapped struct {
	OldUserID valueobjects.ChatUserId
	NewUserID valueobjects.ChatUserId
	CPFMasked string
	Reason    string
	RemappedAt time.Time
}

type IntegrationScheduled struct {
	IntegrationID uuid.UUID
	Type          valueobjects.IntegrationType
	Priority      valueobjects.IntegrationPriority
	ScheduledAt   time.Time
}

type IntegrationStarted struct {
	IntegrationID uuid.UUID
	StartedAt     time.Time
}

type IntegrationFailed struct {
	IntegrationID uuid.UUID
	Reason        string
	Retryable     bool
	FailedAt      time.Time
}

type IntegrationCompleted struct {
	IntegrationID uuid.UUID
	CompletedAt   time.Time
}

type HubSoftBulkSyncCompleted struct {
	Total      int
	Successful int
	Failed     int
	CompletedAt time.Time
}

type HubSoftRateLimitHit struct {
	ResetAfter time.Duration
	HitAt      time.Time
}

type HubSoftConnectionRestored struct {
	DowntimeDuration time.Duration
	RestoredAt       time.Time
}

type HubSoftConnectionLost struct {
	LostAt time.Time
}

type UserBanned struct {
	UserID   valueobjects.ChatUserId
	ByAdmin  valueobjects.ChatUserId
	Reason   string
	Duration time.Duration
	BannedAt time.Time
}

type AdminSyncCompleted struct {
	TotalAdmins int
	NewAdmins   int
	RemovedIDs  []valueobjects.ChatUserId
	SyncedAt    time.Time
}
