package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/devco/sentinela/internal/domain/errors"
	"github.com/devco/sentinela/internal/domain/valueobjects"
	"github.com/devco/sentinela/internal/repository"
)

type InviteRepository struct {
	db *sqlx.DB
}

func NewInviteRepository(db *sqlx.DB) *InviteRepository {
	return &InviteRepository{db: db}
}

type inviteRow struct {
	InviteID   string        `db:"invite_id"`
	UserID     int64         `db:"user_id"`
	CPF        string        `db:"cpf"`
	URL        string        `db:"invite_url"`
	CreatedAt  int64         `db:"created_at"`
	ExpiresAt  int64         `db:"expires_at"`
	Used       bool          `db:"used"`
	UsedAt     sql.NullInt64 `db:"used_at"`
	ClientName string        `db:"client_name"`
	PlanName   string        `db:"plan_name"`
}

func (row *inviteRow) toDomain() (*repository.Invite, error) {
	id, err := uuid.Parse(row.InviteID)
	if err != nil {
		return nil, errors.Storage("parsing invite id", err)
	}
	cpf, _ := valueobjects.NewCPF(row.CPF)
	inv := &repository.Invite{
		InviteID:   id,
		UserID:     valueobjects.ChatUserId(row.UserID),
		CPF:        cpf,
		URL:        row.URL,
		CreatedAt:  unixTime(row.CreatedAt),
		ExpiresAt:  unixTime(row.ExpiresAt),
		Used:       row.Used,
		ClientName: row.ClientName,
		PlanName:   row.PlanName,
	}
	if row.UsedAt.Valid {
		t := unixTime(row.UsedAt.Int64)
		inv.UsedAt = &t
	}
	return inv, nil
}

func (r *InviteRepository) Save(ctx context.Context, inv *repository.Invite) error {
	row := inviteRow{
		InviteID:   inv.InviteID.String(),
		UserID:     int64(inv.UserID),
		CPF:        inv.CPF.String(),
		URL:        inv.URL,
		CreatedAt:  inv.CreatedAt.Unix(),
		ExpiresAt:  inv.ExpiresAt.Unix(),
		Used:       inv.Used,
		ClientName: inv.ClientName,
		PlanName:   inv.PlanName,
	}
	if inv.UsedAt != nil {
		row.UsedAt = sql.NullInt64{Int64: inv.UsedAt.Unix(), Valid: true}
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO group_invites (
			invite_id, user_id, cpf, invite_url, created_at, expires_at, used, used_at, client_name, plan_name
		) VALUES (
			:invite_id, :user_id, :cpf, :invite_url, :created_at, :expires_at, :used, :used_at, :client_name, :plan_name
		)
		ON CONFLICT(invite_id) DO UPDATE SET used=excluded.used, used_at=excluded.used_at
	`, row)
	if err != nil {
		return errors.Storage("saving invite", err)
	}
	return nil
}

func (r *InviteRepository) FindByID(ctx context.Context, id uuid.UUID) (*repository.Invite, error) {
	var row inviteRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM group_invites WHERE invite_id = ?`, id.String())
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("invite not found")
	}
	if err != nil {
		return nil, errors.Storage("loading invite", err)
	}
	return row.toDomain()
}

func (r *InviteRepository) FindByUser(ctx context.Context, userID valueobjects.ChatUserId) ([]*repository.Invite, error) {
	var rows []inviteRow
	err := r.db.SelectContext(ctx, &rows, `SELECT * FROM group_invites WHERE user_id = ? ORDER BY created_at DESC`, int64(userID))
	if err != nil {
		return nil, errors.Storage("listing invites by user", err)
	}
	out := make([]*repository.Invite, 0, len(rows))
	for i := range rows {
		v, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *InviteRepository) MarkUsed(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE group_invites SET used = 1, used_at = ? WHERE invite_id = ?`, now.Unix(), id.String())
	if err != nil {
		return errors.Storage("marking invite used", err)
	}
	return nil
}

func (r *InviteRepository) FindExpired(ctx context.Context, now time.Time) ([]*repository.Invite, error) {
	var rows []inviteRow
	err := r.db.SelectContext(ctx, &rows, `SELECT * FROM group_invites WHERE used = 0 AND expires_at <= ?`, now.Unix())
	if err != nil {
		return nil, errors.Storage("listing expired invites", err)
	}
	out := make([]*repository.Invite, 0, len(rows))
	for i := range rows {
		v, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *InviteRepository) CleanupOld(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays).Unix()
	res, err := r.db.ExecContext(ctx, `DELETE FROM group_invites WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Storage("cleaning up old invites", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
