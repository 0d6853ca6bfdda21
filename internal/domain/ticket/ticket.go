// Package ticket implements the support ticket aggregate: construction,
// status transitions, and HubSoft sync attachment, each emitting a domain
// event.
package ticket

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/devco/sentinela/internal/domain/errors"
	"github.com/devco/sentinela/internal/domain/events"
	"github.com/devco/sentinela/internal/domain/valueobjects"
)

const (
	minDescriptionLen = 10
	maxDescriptionLen = 500
	maxAttachments    = 3
)

// Ticket is the support-request aggregate. Zero value is not valid; use
// Create.
type Ticket struct {
	ID                 valueobjects.TicketId
	UserID             valueobjects.ChatUserId
	Category           valueobjects.TicketCategory
	AffectedGame       string
	ProblemTiming      valueobjects.ProblemTiming
	Description        string
	Attachments        []string
	Urgency            valueobjects.Urgency
	Status             valueobjects.TicketStatus
	LocalProtocol      string
	HubSoftTicketID    string
	HubSoftProtocol    string
	SyncStatus         valueobjects.SyncStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
	AssignedTechnician string
	AssignmentNotes    string

	pendingEvents []any
}

// Create builds a new ticket in PENDING status. id must already be assigned
// by the repository (sequence-backed) so the local protocol can be derived.
func Create(
	id valueobjects.TicketId,
	userID valueobjects.ChatUserId,
	category valueobjects.TicketCategory,
	game string,
	timing valueobjects.ProblemTiming,
	description string,
	attachments []string,
	now time.Time,
) (*Ticket, error) {
	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(description) < minDescriptionLen {
		return nil, errors.InvalidInput("description must be at least 10 characters")
	}
	if utf8.RuneCountInString(description) > maxDescriptionLen {
		runes := []rune(description)
		description = string(runes[:maxDescriptionLen-1]) + "…"
	}
	if len(attachments) > maxAttachments {
		return nil, errors.InvalidInput("at most 3 attachments are allowed")
	}

	t := &Ticket{
		ID:            id,
		UserID:        userID,
		Category:      category,
		AffectedGame:  game,
		ProblemTiming: timing,
		Description:   description,
		Attachments:   attachments,
		Urgency:       valueobjects.DeriveUrgency(category, strings.ToLower(game)),
		Status:        valueobjects.TicketPending,
		LocalProtocol: id.LocalProtocol(),
		SyncStatus:    valueobjects.SyncPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	t.record(events.TicketCreated{
		TicketID:  t.ID,
		UserID:    t.UserID,
		Category:  t.Category,
		Urgency:   t.Urgency,
		CreatedAt: now,
	})
	return t, nil
}

// Assign sets the assigned technician and moves the ticket to IN_PROGRESS.
// Allowed only from PENDING or OPEN. notes is an optional free-text
// assignment note (e.g. "prioritize", triage context for the technician).
func (t *Ticket) Assign(technician string, byAdmin valueobjects.ChatUserId, notes string, now time.Time) error {
	if t.Status != valueobjects.TicketPending && t.Status != valueobjects.TicketOpen {
		return errors.IllegalState("ticket cannot be assigned from status " + string(t.Status))
	}
	t.Status = valueobjects.TicketInProgress
	t.AssignedTechnician = technician
	t.AssignmentNotes = notes
	t.UpdatedAt = now
	t.record(events.TicketAssigned{
		TicketID:   t.ID,
		Technician: technician,
		Notes:      notes,
		ByAdmin:    byAdmin,
		AssignedAt: now,
	})
	return nil
}

// ChangeStatus validates and applies a status transition.
func (t *Ticket) ChangeStatus(newStatus valueobjects.TicketStatus, by string, now time.Time) error {
	if newStatus == t.Status {
		return errors.InvalidInput("new status equals current status")
	}
	if !t.Status.CanTransition(newStatus) {
		return errors.IllegalState("illegal transition from " + string(t.Status) + " to " + string(newStatus))
	}
	from := t.Status
	t.Status = newStatus
	t.UpdatedAt = now
	t.record(events.TicketStatusChanged{
		TicketID:  t.ID,
		From:      from,
		To:        newStatus,
		By:        by,
		ChangedAt: now,
	})
	return nil
}

// AttachHubSoft records the upstream identifiers once a TICKET_SYNC job
// succeeds or a correlation is found.
func (t *Ticket) AttachHubSoft(hubsoftID, hubsoftProtocol string, syncStatus valueobjects.SyncStatus, now time.Time) {
	t.HubSoftTicketID = hubsoftID
	t.HubSoftProtocol = hubsoftProtocol
	t.SyncStatus = syncStatus
	t.UpdatedAt = now
	t.record(events.HubSoftTicketSynced{
		TicketID:        t.ID,
		HubSoftTicketID: hubsoftID,
		HubSoftProtocol: hubsoftProtocol,
		SyncStatus:      syncStatus,
		SyncedAt:        now,
	})
}

// OverrideUrgency lets an admin replace the derived urgency.
func (t *Ticket) OverrideUrgency(u valueobjects.Urgency, now time.Time) {
	t.Urgency = u
	t.UpdatedAt = now
}

func (t *Ticket) record(e any) {
	t.pendingEvents = append(t.pendingEvents, e)
}

// PendingEvents drains and returns events recorded since the last call.
func (t *Ticket) PendingEvents() []any {
	pending := t.pendingEvents
	t.pendingEvents = nil
	return pending
}

// DaysOpen is the projection helper used by status queries.
func (t *Ticket) DaysOpen(now time.Time) int {
	return int(now.Sub(t.CreatedAt).Hours() / 24)
}
