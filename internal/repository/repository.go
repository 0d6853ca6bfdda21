// Package repository defines the persistence contracts consumed by
// Sentinela's use cases. Concrete implementations live in
// internal/repository/sqlite.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/devco/sentinela/internal/domain/integration"
	"github.com/devco/sentinela/internal/domain/ticket"
	"github.com/devco/sentinela/internal/domain/valueobjects"
	"github.com/devco/sentinela/internal/domain/verification"
)

// User is the collaborator entity shared across repositories: a chat
// account, optionally bound to a verified CPF.
type User struct {
	ChatUserID       valueobjects.ChatUserId
	Username         string
	CPF              *valueobjects.CPF
	ClientName       string
	ServiceName      string
	ServiceStatus    string
	IsActive         bool
	CreatedAt        time.Time
	LastVerification *time.Time
}

// TicketRepository persists and queries the ticket aggregate.
type TicketRepository interface {
	Save(ctx context.Context, t *ticket.Ticket) error
	NextID(ctx context.Context) (valueobjects.TicketId, error)
	FindByID(ctx context.Context, id valueobjects.TicketId) (*ticket.Ticket, error)
	FindActiveByUser(ctx context.Context, userID valueobjects.ChatUserId) (*ticket.Ticket, error)
	FindByUser(ctx context.Context, userID valueobjects.ChatUserId, limit int) ([]*ticket.Ticket, error)
	FindOfflineTickets(ctx context.Context) ([]*ticket.Ticket, error)
	FindActiveWithHubSoftID(ctx context.Context) ([]*ticket.Ticket, error)
	List(ctx context.Context, filter TicketFilter, limit int) ([]*ticket.Ticket, error)
}

// TicketFilter narrows TicketRepository.List for the admin listing endpoint.
type TicketFilter struct {
	Status   valueobjects.TicketStatus
	Category valueobjects.TicketCategory
	UserID   valueobjects.ChatUserId
}

// VerificationRepository persists and queries the verification aggregate.
type VerificationRepository interface {
	Save(ctx context.Context, v *verification.Verification) error
	FindByID(ctx context.Context, id uuid.UUID) (*verification.Verification, error)
	FindPendingByUser(ctx context.Context, userID valueobjects.ChatUserId) (*verification.Verification, error)
	FindExpiredPending(ctx context.Context, now time.Time) ([]*verification.Verification, error)
	FindByStatus(ctx context.Context, status valueobjects.VerificationStatus, limit int) ([]*verification.Verification, error)
}

// IntegrationRepository persists and queries the integration job aggregate.
// Lease acquires the optimistic-lock version so only one worker advances a
// given job; it returns ok=false if another worker already holds it.
type IntegrationRepository interface {
	Save(ctx context.Context, i *integration.Integration) error
	FindByID(ctx context.Context, id uuid.UUID) (*integration.Integration, error)
	FindPending(ctx context.Context, itype *valueobjects.IntegrationType, limit int) ([]*integration.Integration, error)
	FindScheduledUntil(ctx context.Context, ts time.Time, limit int) ([]*integration.Integration, error)
	FindActive(ctx context.Context, itype *valueobjects.IntegrationType) ([]*integration.Integration, error)
	FindFailed(ctx context.Context, limit int) ([]*integration.Integration, error)
	CountByStatus(ctx context.Context, since *time.Time) (map[valueobjects.IntegrationStatus]int, error)
	FindByMetadata(ctx context.Context, key, value string, status *valueobjects.IntegrationStatus) ([]*integration.Integration, error)
	CleanupCompleted(ctx context.Context, olderThan time.Time, batch int) (int, error)
	Lease(ctx context.Context, id uuid.UUID, expectedVersion int64) (bool, error)
}

// Invite is a time-limited group invite issued to a verified subscriber.
type Invite struct {
	InviteID  uuid.UUID
	UserID    valueobjects.ChatUserId
	CPF       valueobjects.CPF
	URL       string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
	ClientName string
	PlanName   string
}

// Valid reports whether the invite is still usable.
func (i Invite) Valid(now time.Time) bool { return !i.Used && now.Before(i.ExpiresAt) }

// InviteRepository persists and queries group invites.
type InviteRepository interface {
	Save(ctx context.Context, invite *Invite) error
	FindByID(ctx context.Context, id uuid.UUID) (*Invite, error)
	FindByUser(ctx context.Context, userID valueobjects.ChatUserId) ([]*Invite, error)
	MarkUsed(ctx context.Context, id uuid.UUID, now time.Time) error
	FindExpired(ctx context.Context, now time.Time) ([]*Invite, error)
	CleanupOld(ctx context.Context, olderThanDays int) (int, error)
}

// Admin is a cached administrator record.
type Admin struct {
	ChatUserID valueobjects.ChatUserId
	Username   string
	FirstName  string
	LastName   string
	Status     string // owner | administrator
	DetectedAt time.Time
}

// AdminRepository maintains the administrator cache driving authorization.
type AdminRepository interface {
	ReplaceAll(ctx context.Context, admins []Admin) error
	List(ctx context.Context) ([]Admin, error)
	IsAdmin(ctx context.Context, userID valueobjects.ChatUserId) (bool, error)
}

// UserRepository persists and queries the User collaborator entity.
type UserRepository interface {
	Save(ctx context.Context, u *User) error
	FindByChatUserID(ctx context.Context, id valueobjects.ChatUserId) (*User, error)
	FindByCPF(ctx context.Context, cpf valueobjects.CPF) (*User, error)
	Deactivate(ctx context.Context, id valueobjects.ChatUserId) error
	RebindCPF(ctx context.Context, fromUser, toUser valueobjects.ChatUserId, cpf valueobjects.CPF) error
}
