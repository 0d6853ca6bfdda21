// Package admin implements the administrator command surface: ticket
// listing, assignment, status overrides, bans, system stats, and bulk
// ticket actions. Every command is authorized against the administrator
// cache before it touches an aggregate.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/devco/sentinela/internal/domain/errors"
	"github.com/devco/sentinela/internal/domain/events"
	"github.com/devco/sentinela/internal/domain/integration"
	"github.com/devco/sentinela/internal/domain/valueobjects"
	"github.com/devco/sentinela/internal/eventbus"
	"github.com/devco/sentinela/pkg/chatservice"
	"github.com/devco/sentinela/internal/repository"
)

// Service implements the admin command surface (C11).
type Service struct {
	tickets      repository.TicketRepository
	admins       repository.AdminRepository
	users        repository.UserRepository
	integrations repository.IntegrationRepository
	chat         chatservice.Service
	bus          *eventbus.Bus
	logger       *slog.Logger
	groupChatID  int64
}

// New constructs the admin Service. groupChatID is the chat the bot
// moderates — used for GetChatAdministrators sync and bans.
func New(
	tickets repository.TicketRepository,
	admins repository.AdminRepository,
	users repository.UserRepository,
	integrations repository.IntegrationRepository,
	chat chatservice.Service,
	bus *eventbus.Bus,
	groupChatID int64,
	logger *slog.Logger,
) *Service {
	return &Service{
		tickets:      tickets,
		admins:       admins,
		users:        users,
		integrations: integrations,
		chat:         chat,
		bus:          bus,
		groupChatID:  groupChatID,
		logger:       logger,
	}
}

func (s *Service) authorize(ctx context.Context, adminUserID valueobjects.ChatUserId) error {
	ok, err := s.admins.IsAdmin(ctx, adminUserID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Forbidden("user is not an administrator")
	}
	return nil
}

// ListTickets returns tickets matching filter, authorized against adminUserID.
func (s *Service) ListTickets(ctx context.Context, adminUserID valueobjects.ChatUserId, filter repository.TicketFilter, limit int) ([]*TicketSummary, error) {
	if err := s.authorize(ctx, adminUserID); err != nil {
		return nil, err
	}
	tickets, err := s.tickets.List(ctx, filter, limit)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	summaries := make([]*TicketSummary, 0, len(tickets))
	for _, t := range tickets {
		summaries = append(summaries, &TicketSummary{
			TicketID:   t.ID,
			UserID:     t.UserID,
			Category:   t.Category,
			Status:     t.Status,
			Urgency:    t.Urgency,
			DaysOpen:   t.DaysOpen(now),
			SyncStatus: t.SyncStatus,
		})
	}
	return summaries, nil
}

// TicketSummary is the admin listing projection — a read model, not the
// ticket aggregate itself.
type TicketSummary struct {
	TicketID   valueobjects.TicketId
	UserID     valueobjects.ChatUserId
	Category   valueobjects.TicketCategory
	Status     valueobjects.TicketStatus
	Urgency    valueobjects.Urgency
	DaysOpen   int
	SyncStatus valueobjects.SyncStatus
}

// AssignTicket assigns technician to ticketID, authorized against adminUserID.
func (s *Service) AssignTicket(ctx context.Context, adminUserID valueobjects.ChatUserId, ticketID valueobjects.TicketId, technician, notes string) error {
	if err := s.authorize(ctx, adminUserID); err != nil {
		return err
	}
	t, err := s.tickets.FindByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if t == nil {
		return errors.NotFound("ticket not found")
	}
	now := time.Now()
	if err := t.Assign(technician, adminUserID, notes, now); err != nil {
		return err
	}
	if err := s.tickets.Save(ctx, t); err != nil {
		return err
	}
	s.bus.PublishMany(t.PendingEvents())
	return nil
}

// UpdateTicketStatus moves ticketID to newStatus via the state machine,
// authorized against adminUserID. reason is recorded as the ChangeStatus
// actor label.
func (s *Service) UpdateTicketStatus(ctx context.Context, adminUserID valueobjects.ChatUserId, ticketID valueobjects.TicketId, newStatus valueobjects.TicketStatus, reason string) error {
	if err := s.authorize(ctx, adminUserID); err != nil {
		return err
	}
	t, err := s.tickets.FindByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if t == nil {
		return errors.NotFound("ticket not found")
	}
	by := "admin:" + reason
	if err := t.ChangeStatus(newStatus, by, time.Now()); err != nil {
		return err
	}
	if err := s.tickets.Save(ctx, t); err != nil {
		return err
	}
	s.bus.PublishMany(t.PendingEvents())
	return nil
}

// BanUser removes userID from the group and deactivates its account,
// authorized against adminUserID. The ban is not lifted automatically;
// duration is only recorded on the UserBanned event (zero for permanent).
func (s *Service) BanUser(ctx context.Context, adminUserID, userID valueobjects.ChatUserId, reason string, duration time.Duration) error {
	if err := s.authorize(ctx, adminUserID); err != nil {
		return err
	}
	if s.chat != nil && s.groupChatID != 0 {
		if err := s.chat.BanChatMember(ctx, s.groupChatID, int64(userID)); err != nil {
			return errors.UpstreamTransient("banning chat member", err)
		}
	}
	if err := s.users.Deactivate(ctx, userID); err != nil {
		return err
	}
	now := time.Now()
	s.bus.Publish(events.UserBanned{
		UserID: userID, ByAdmin: adminUserID, Reason: reason, Duration: duration, BannedAt: now,
	})
	s.logger.Warn("user banned", "user_id", userID, "by_admin", adminUserID, "reason", reason)
	return nil
}

// DateRange bounds GetSystemStats to a window; a zero value means all time.
type DateRange struct {
	From time.Time
	To   time.Time
}

// SystemStats is the GetSystemStats report.
type SystemStats struct {
	TotalTickets       int
	TicketsByStatus    map[valueobjects.TicketStatus]int
	IntegrationsByStatus map[valueobjects.IntegrationStatus]int
	TicketDetails      []*TicketSummary // populated only when includeDetails
}

// GetSystemStats aggregates ticket counts over dateRange and integration
// counts scheduled since dateRange.From (To is not applied to
// integrations), authorized against adminUserID.
func (s *Service) GetSystemStats(ctx context.Context, adminUserID valueobjects.ChatUserId, dateRange DateRange, includeDetails bool) (*SystemStats, error) {
	if err := s.authorize(ctx, adminUserID); err != nil {
		return nil, err
	}

	var since *time.Time
	if !dateRange.From.IsZero() {
		since = &dateRange.From
	}
	integrationCounts, err := s.integrations.CountByStatus(ctx, since)
	if err != nil {
		return nil, err
	}

	allTickets, err := s.tickets.List(ctx, repository.TicketFilter{}, 0)
	if err != nil {
		return nil, err
	}
	stats := &SystemStats{
		TicketsByStatus:      make(map[valueobjects.TicketStatus]int),
		IntegrationsByStatus: integrationCounts,
	}
	now := time.Now()
	for _, t := range allTickets {
		if !dateRange.From.IsZero() && t.CreatedAt.Before(dateRange.From) {
			continue
		}
		if !dateRange.To.IsZero() && t.CreatedAt.After(dateRange.To) {
			continue
		}
		stats.TotalTickets++
		stats.TicketsByStatus[t.Status]++
		if includeDetails {
			stats.TicketDetails = append(stats.TicketDetails, &TicketSummary{
				TicketID: t.ID, UserID: t.UserID, Category: t.Category,
				Status: t.Status, Urgency: t.Urgency, DaysOpen: t.DaysOpen(now), SyncStatus: t.SyncStatus,
			})
		}
	}
	return stats, nil
}

// BulkAction is the action applied to every ticket id in BulkUpdateTickets.
type BulkAction string

const (
	BulkActionAssign       BulkAction = "assign"
	BulkActionChangeStatus BulkAction = "change_status"
	BulkActionOverrideUrgency BulkAction = "override_urgency"
)

// BulkParams carries the per-action payload for BulkUpdateTickets.
type BulkParams struct {
	Technician string
	Notes      string
	NewStatus  valueobjects.TicketStatus
	Reason     string
	Urgency    valueobjects.Urgency
}

// BulkItemResult is one ticket's outcome within a bulk operation.
type BulkItemResult struct {
	TicketID valueobjects.TicketId
	Error    error
}

// BulkUpdateTickets applies action to every id independently: one item's
// failure doesn't abort the batch or affect the others' results.
func (s *Service) BulkUpdateTickets(ctx context.Context, adminUserID valueobjects.ChatUserId, ids []valueobjects.TicketId, action BulkAction, params BulkParams) ([]BulkItemResult, error) {
	if err := s.authorize(ctx, adminUserID); err != nil {
		return nil, err
	}

	results := make([]BulkItemResult, 0, len(ids))
	for _, id := range ids {
		err := s.applyBulkItem(ctx, adminUserID, id, action, params)
		results = append(results, BulkItemResult{TicketID: id, Error: err})
		if err != nil {
			s.logger.Warn("bulk ticket update item failed", "ticket_id", id, "action", action, "error", err)
		}
	}
	return results, nil
}

func (s *Service) applyBulkItem(ctx context.Context, adminUserID valueobjects.ChatUserId, id valueobjects.TicketId, action BulkAction, params BulkParams) error {
	t, err := s.tickets.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return errors.NotFound("ticket not found")
	}
	now := time.Now()
	switch action {
	case BulkActionAssign:
		if err := t.Assign(params.Technician, adminUserID, params.Notes, now); err != nil {
			return err
		}
	case BulkActionChangeStatus:
		by := "admin:" + params.Reason
		if err := t.ChangeStatus(params.NewStatus, by, now); err != nil {
			return err
		}
	case BulkActionOverrideUrgency:
		t.OverrideUrgency(params.Urgency, now)
	default:
		return errors.InvalidInput("unknown bulk action " + string(action))
	}
	if err := s.tickets.Save(ctx, t); err != nil {
		return err
	}
	s.bus.PublishMany(t.PendingEvents())
	return nil
}

const (
	bulkSyncMaxRetries     = 5
	bulkSyncTimeoutSeconds = 300
)

// TriggerBulkSync enqueues a BULK_SYNC job resyncing every id in ids
// against HubSoft, batchSize at a time with delayBetweenBatches between
// batches, picked up by the Integration Engine's worker pool.
func (s *Service) TriggerBulkSync(ctx context.Context, adminUserID valueobjects.ChatUserId, ids []valueobjects.TicketId, batchSize, delayBetweenBatches int) (uuid.UUID, error) {
	if err := s.authorize(ctx, adminUserID); err != nil {
		return uuid.UUID{}, err
	}
	if len(ids) == 0 {
		return uuid.UUID{}, errors.InvalidInput("ticket_ids must not be empty")
	}

	ticketIDs := make([]int64, len(ids))
	for i, id := range ids {
		ticketIDs[i] = int64(id)
	}
	payload, err := json.Marshal(struct {
		TicketIDs           []int64 `json:"ticket_ids"`
		BatchSize           int     `json:"batch_size"`
		DelayBetweenBatches int     `json:"delay_between_batches"`
	}{ticketIDs, batchSize, delayBetweenBatches})
	if err != nil {
		return uuid.UUID{}, err
	}

	job := integration.New(uuid.New(), valueobjects.IntegrationBulkSync, valueobjects.PriorityNormal, payload, bulkSyncMaxRetries, bulkSyncTimeoutSeconds)
	if err := job.Schedule(time.Time{}, time.Now()); err != nil {
		return uuid.UUID{}, err
	}
	if err := s.integrations.Save(ctx, job); err != nil {
		return uuid.UUID{}, err
	}
	s.bus.PublishMany(job.PendingEvents())
	return job.ID, nil
}
