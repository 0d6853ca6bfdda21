// Package sqlite implements Sentinela's repository contracts over a
// modernc.org/sqlite-backed database accessed through sqlx.
package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/devco/sentinela/internal/domain/errors"
	"github.com/devco/sentinela/internal/domain/ticket"
	"github.com/devco/sentinela/internal/domain/valueobjects"
	"github.com/devco/sentinela/internal/repository"
)

type TicketRepository struct {
	db *sqlx.DB
}

func NewTicketRepository(db *sqlx.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

type ticketRow struct {
	ID                 int64          `db:"id"`
	UserID              int64          `db:"user_id"`
	Category            string         `db:"category"`
	AffectedGame        string         `db:"affected_game"`
	ProblemTiming       string         `db:"problem_timing"`
	Description         string         `db:"description"`
	Attachments         string         `db:"attachments"` // comma-joined file refs
	Urgency             string         `db:"urgency"`
	Status              string         `db:"status"`
	LocalProtocol       string         `db:"local_protocol"`
	HubSoftTicketID     sql.NullString `db:"hubsoft_ticket_id"`
	HubSoftProtocol     sql.NullString `db:"hubsoft_protocol"`
	SyncStatus          string         `db:"sync_status"`
	CreatedAt           int64          `db:"created_at"`
	UpdatedAt           int64          `db:"updated_at"`
	AssignedTechnician  sql.NullString `db:"assigned_technician"`
	AssignmentNotes     sql.NullString `db:"assignment_notes"`
}

func toRow(t *ticket.Ticket) ticketRow {
	var attachments string
	if len(t.Attachments) > 0 {
		attachments = strings.Join(t.Attachments, ",")
	}
	return ticketRow{
		ID:                 int64(t.ID),
		UserID:             int64(t.UserID),
		Category:           string(t.Category),
		AffectedGame:       t.AffectedGame,
		ProblemTiming:      string(t.ProblemTiming),
		Description:        t.Description,
		Attachments:        attachments,
		Urgency:            string(t.Urgency),
		Status:             string(t.Status),
		LocalProtocol:      t.LocalProtocol,
		HubSoftTicketID:    nullableString(t.HubSoftTicketID),
		HubSoftProtocol:    nullableString(t.HubSoftProtocol),
		SyncStatus:         string(t.SyncStatus),
		CreatedAt:          t.CreatedAt.Unix(),
		UpdatedAt:          t.UpdatedAt.Unix(),
		AssignedTechnician: nullableString(t.AssignedTechnician),
		AssignmentNotes:    nullableString(t.AssignmentNotes),
	}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func (r *ticketRow) toDomain() *ticket.Ticket {
	var attachments []string
	if r.Attachments != "" {
		attachments = strings.Split(r.Attachments, ",")
	}
	return &ticket.Ticket{
		ID:                 valueobjects.TicketId(r.ID),
		UserID:             valueobjects.ChatUserId(r.UserID),
		Category:           valueobjects.TicketCategory(r.Category),
		AffectedGame:       r.AffectedGame,
		ProblemTiming:      valueobjects.ProblemTiming(r.ProblemTiming),
		Description:        r.Description,
		Attachments:        attachments,
		Urgency:            valueobjects.Urgency(r.Urgency),
		Status:             valueobjects.TicketStatus(r.Status),
		LocalProtocol:      r.LocalProtocol,
		HubSoftTicketID:    r.HubSoftTicketID.String,
		HubSoftProtocol:    r.HubSoftProtocol.String,
		SyncStatus:         valueobjects.SyncStatus(r.SyncStatus),
		CreatedAt:          unixTime(r.CreatedAt),
		UpdatedAt:          unixTime(r.UpdatedAt),
		AssignedTechnician: r.AssignedTechnician.String,
		AssignmentNotes:    r.AssignmentNotes.String,
	}
}

func (r *TicketRepository) NextID(ctx context.Context) (valueobjects.TicketId, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO ticket_sequence DEFAULT VALUES`)
	if err != nil {
		return 0, errors.Storage("allocating ticket id", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Storage("reading allocated ticket id", err)
	}
	return valueobjects.TicketId(id), nil
}

func (r *TicketRepository) Save(ctx context.Context, t *ticket.Ticket) error {
	row := toRow(t)
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO support_tickets (
			id, user_id, category, affected_game, problem_timing, description,
			attachments, urgency, status, local_protocol, hubsoft_ticket_id,
			hubsoft_protocol, sync_status, created_at, updated_at, assigned_technician,
			assignment_notes
		) VALUES (
			:id, :user_id, :category, :affected_game, :problem_timing, :description,
			:attachments, :urgency, :status, :local_protocol, :hubsoft_ticket_id,
			:hubsoft_protocol, :sync_status, :created_at, :updated_at, :assigned_technician,
			:assignment_notes
		)
		ON CONFLICT(id) DO UPDATE SET
			category=excluded.category, affected_game=excluded.affected_game,
			problem_timing=excluded.problem_timing, description=excluded.description,
			attachments=excluded.attachments, urgency=excluded.urgency,
			status=excluded.status, hubsoft_ticket_id=excluded.hubsoft_ticket_id,
			hubsoft_protocol=excluded.hubsoft_protocol, sync_status=excluded.sync_status,
			updated_at=excluded.updated_at, assigned_technician=excluded.assigned_technician,
			assignment_notes=excluded.assignment_notes
	`, row)
	if err != nil {
		return errors.Storage("saving ticket", err)
	}
	return nil
}

func (r *TicketRepository) FindByID(ctx context.Context, id valueobjects.TicketId) (*ticket.Ticket, error) {
	var row ticketRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM support_tickets WHERE id = ?`, int64(id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("ticket not found")
	}
	if err != nil {
		return nil, errors.Storage("loading ticket", err)
	}
	return row.toDomain(), nil
}

func (r *TicketRepository) FindActiveByUser(ctx context.Context, userID valueobjects.ChatUserId) (*ticket.Ticket, error) {
	var row ticketRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM support_tickets
		WHERE user_id = ? AND status IN ('PENDING','OPEN','IN_PROGRESS')
		ORDER BY created_at DESC LIMIT 1
	`, int64(userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Storage("loading active ticket", err)
	}
	return row.toDomain(), nil
}

func (r *TicketRepository) FindByUser(ctx context.Context, userID valueobjects.ChatUserId, limit int) ([]*ticket.Ticket, error) {
	var rows []ticketRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM support_tickets WHERE user_id = ? ORDER BY created_at DESC LIMIT ?
	`, int64(userID), limit)
	if err != nil {
		return nil, errors.Storage("listing tickets by user", err)
	}
	return toDomainSlice(rows), nil
}

func (r *TicketRepository) FindOfflineTickets(ctx context.Context) ([]*ticket.Ticket, error) {
	var rows []ticketRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM support_tickets
		WHERE hubsoft_ticket_id IS NULL AND sync_status IN ('pending','failed')
	`)
	if err != nil {
		return nil, errors.Storage("listing offline tickets", err)
	}
	return toDomainSlice(rows), nil
}

func (r *TicketRepository) FindActiveWithHubSoftID(ctx context.Context) ([]*ticket.Ticket, error) {
	var rows []ticketRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM support_tickets
		WHERE hubsoft_ticket_id IS NOT NULL AND status IN ('PENDING','OPEN','IN_PROGRESS')
	`)
	if err != nil {
		return nil, errors.Storage("listing active synced tickets", err)
	}
	return toDomainSlice(rows), nil
}

func (r *TicketRepository) List(ctx context.Context, filter repository.TicketFilter, limit int) ([]*ticket.Ticket, error) {
	query := `SELECT * FROM support_tickets WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(filter.Category))
	}
	if filter.UserID != 0 {
		query += ` AND user_id = ?`
		args = append(args, int64(filter.UserID))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []ticketRow
	err := r.db.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, errors.Storage("listing tickets", err)
	}
	return toDomainSlice(rows), nil
}

func toDomainSlice(rows []ticketRow) []*ticket.Ticket {
	out := make([]*ticket.Ticket, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out
}
