// Package ticketuc implements the support ticket use case: access gating,
// the one-active-ticket invariant, ticket creation with HubSoft sync
// enqueueing, and status/listing queries for the presentation adapter.
package ticketuc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	domainerrors "github.com/devco/sentinela/internal/domain/errors"
	"github.com/devco/sentinela/internal/domain/integration"
	"github.com/devco/sentinela/internal/domain/ticket"
	"github.com/devco/sentinela/internal/domain/valueobjects"
	"github.com/devco/sentinela/internal/eventbus"
	"github.com/devco/sentinela/internal/hubsoft"
	"github.com/devco/sentinela/internal/repository"
)

const (
	ticketSyncMaxRetries     = 5
	ticketSyncTimeoutSeconds = 30
	hubsoftTopicThreadID     = 148
)

// Service implements the support ticket use case.
type Service struct {
	tickets      repository.TicketRepository
	integrations repository.IntegrationRepository
	users        repository.UserRepository
	hubsoft      *hubsoft.Client
	bus          *eventbus.Bus
	logger       *slog.Logger
}

// New constructs the ticket use case.
func New(
	tickets repository.TicketRepository,
	integrations repository.IntegrationRepository,
	users repository.UserRepository,
	hs *hubsoft.Client,
	bus *eventbus.Bus,
	logger *slog.Logger,
) *Service {
	return &Service{tickets: tickets, integrations: integrations, users: users, hubsoft: hs, bus: bus, logger: logger}
}

// CreateTicketRequest is the fully collected conversational form. The
// presentation adapter owns the CATEGORY→GAME→TIMING→DESCRIPTION→
// ATTACHMENTS→CONFIRMATION state machine; the use case only sees the
// finished result.
type CreateTicketRequest struct {
	UserID       valueobjects.ChatUserId
	Category     valueobjects.TicketCategory
	AffectedGame string
	Timing       valueobjects.ProblemTiming
	Description  string
	Attachments  []string
}

// CreateTicket enforces the access gate and the one-active-ticket
// invariant, persists the new ticket, and enqueues a TICKET_SYNC job at a
// priority reflecting both urgency and current HubSoft health.
func (s *Service) CreateTicket(ctx context.Context, req CreateTicketRequest) (*ticket.Ticket, error) {
	user, err := s.users.FindByChatUserID(ctx, req.UserID)
	if err != nil && !domainerrors.Is(err, domainerrors.KindNotFound) {
		return nil, err
	}
	if user == nil || !user.IsActive || user.CPF == nil {
		return nil, domainerrors.Conflict("user must complete cpf verification before opening a ticket")
	}

	active, err := s.tickets.FindActiveByUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, domainerrors.Conflict(fmt.Sprintf("user already has an active ticket: %s", active.LocalProtocol))
	}

	id, err := s.tickets.NextID(ctx)
	if err != nil {
		return nil, err
	}

	t, err := ticket.Create(id, req.UserID, req.Category, req.AffectedGame, req.Timing, req.Description, req.Attachments, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.tickets.Save(ctx, t); err != nil {
		return nil, err
	}
	s.bus.PublishMany(t.PendingEvents())

	if err := s.enqueueTicketSync(ctx, t, user); err != nil {
		s.logger.Warn("failed to enqueue ticket sync job", "ticket_id", int64(t.ID), "error", err)
	}

	return t, nil
}

func (s *Service) enqueueTicketSync(ctx context.Context, t *ticket.Ticket, user *repository.User) error {
	priority := s.syncPriority(ctx, t.Urgency)

	payload, err := json.Marshal(map[string]any{
		"ticket_id":    int64(t.ID),
		"cpf":          user.CPF.String(),
		"client_name":  user.ClientName,
		"description":  t.Description,
		"category":     string(t.Category),
		"affected_game": t.AffectedGame,
	})
	if err != nil {
		return err
	}

	job := integration.New(uuid.New(), valueobjects.IntegrationTicketSync, priority, payload, ticketSyncMaxRetries, ticketSyncTimeoutSeconds)
	job.Metadata["ticket_id"] = fmt.Sprintf("%d", int64(t.ID))
	if err := job.Schedule(time.Time{}, time.Now()); err != nil {
		return err
	}
	if err := s.integrations.Save(ctx, job); err != nil {
		return err
	}
	s.bus.PublishMany(job.PendingEvents())
	return nil
}

// syncPriority escalates to HIGH when the urgency itself is high, or when
// HubSoft is currently healthy (so the job is dispatched promptly instead of
// sitting behind normal-priority work while the API can actually take it).
func (s *Service) syncPriority(ctx context.Context, urgency valueobjects.Urgency) valueobjects.IntegrationPriority {
	if urgency == valueobjects.UrgencyHigh {
		return valueobjects.PriorityHigh
	}
	if s.hubsoft != nil {
		if err := s.hubsoft.CheckAPIHealth(ctx); err == nil {
			return valueobjects.PriorityHigh
		}
	}
	return valueobjects.PriorityNormal
}

// AddAttachment appends an attachment reference to an existing ticket.
func (s *Service) AddAttachment(ctx context.Context, ticketID valueobjects.TicketId, attachment string) error {
	t, err := s.tickets.FindByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if t == nil {
		return domainerrors.NotFound("ticket not found")
	}
	t.Attachments = append(t.Attachments, attachment)
	t.UpdatedAt = time.Now()
	return s.tickets.Save(ctx, t)
}

// ActiveTicket is the status-query projection: status, days open, and the
// protocol (HubSoft's once synced, else the local one).
type ActiveTicket struct {
	Protocol      string
	StatusLabel   string
	Category      valueobjects.TicketCategory
	DaysOpen      int
	Urgency       valueobjects.Urgency
	HubSoftSynced bool
}

// GetActiveTicket returns the user's single active ticket, if any.
func (s *Service) GetActiveTicket(ctx context.Context, userID valueobjects.ChatUserId) (*ActiveTicket, error) {
	t, err := s.tickets.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	return projectActive(t, time.Now()), nil
}

// ListTickets returns the user's ticket history, most recent first.
func (s *Service) ListTickets(ctx context.Context, userID valueobjects.ChatUserId, limit int) ([]*ActiveTicket, error) {
	tickets, err := s.tickets.FindByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]*ActiveTicket, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, projectActive(t, now))
	}
	return out, nil
}

func projectActive(t *ticket.Ticket, now time.Time) *ActiveTicket {
	protocol := t.LocalProtocol
	synced := t.HubSoftProtocol != ""
	if synced {
		protocol = t.HubSoftProtocol
	}
	return &ActiveTicket{
		Protocol:      protocol,
		StatusLabel:   t.Status.PortugueseName(),
		Category:      t.Category,
		DaysOpen:      t.DaysOpen(now),
		Urgency:       t.Urgency,
		HubSoftSynced: synced,
	}
}
