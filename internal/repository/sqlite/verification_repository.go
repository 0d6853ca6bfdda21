package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/devco/sentinela/internal/domain/errors"
	"github.com/devco/sentinela/internal/domain/valueobjects"
	"github.com/devco/sentinela/internal/domain/verification"
)

type VerificationRepository struct {
	db *sqlx.DB
}

func NewVerificationRepository(db *sqlx.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

type verificationRow struct {
	ID            string         `db:"id"`
	UserID        int64          `db:"user_id"`
	Username      string         `db:"username"`
	UserMention   string         `db:"user_mention"`
	Type          string         `db:"type"`
	SourceAction  string         `db:"source_action"`
	Status        string         `db:"status"`
	CreatedAt     int64          `db:"created_at"`
	ExpiresAt     int64          `db:"expires_at"`
	StartedAt     sql.NullInt64  `db:"started_at"`
	CompletedAt   sql.NullInt64  `db:"completed_at"`
	AttemptCount  int            `db:"attempt_count"`
	MaxAttempts   int            `db:"max_attempts"`
	CPFVerified   sql.NullString `db:"cpf_verified"`
	ClientDataRaw sql.NullString `db:"client_data"`
	FailureReason string         `db:"failure_reason"`
}

func (r *VerificationRepository) Save(ctx context.Context, v *verification.Verification) error {
	row := verificationRow{
		ID:            v.ID.String(),
		UserID:        int64(v.UserID),
		Username:      v.Username,
		UserMention:   v.UserMention,
		Type:          string(v.Type),
		SourceAction:  v.SourceAction,
		Status:        string(v.Status),
		CreatedAt:     v.CreatedAt.Unix(),
		ExpiresAt:     v.ExpiresAt.Unix(),
		AttemptCount:  v.AttemptCount,
		MaxAttempts:   v.MaxAttempts,
		FailureReason: v.FailureReason,
	}
	if v.StartedAt != nil {
		row.StartedAt = sql.NullInt64{Int64: v.StartedAt.Unix(), Valid: true}
	}
	if v.CompletedAt != nil {
		row.CompletedAt = sql.NullInt64{Int64: v.CompletedAt.Unix(), Valid: true}
	}
	if v.CPFVerified != nil {
		row.CPFVerified = sql.NullString{String: v.CPFVerified.String(), Valid: true}
	}
	if v.ClientData != nil {
		b, _ := json.Marshal(v.ClientData)
		row.ClientDataRaw = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO pending_cpf_verifications (
			id, user_id, username, user_mention, type, source_action, status,
			created_at, expires_at, started_at, completed_at, attempt_count,
			max_attempts, cpf_verified, client_data, failure_reason
		) VALUES (
			:id, :user_id, :username, :user_mention, :type, :source_action, :status,
			:created_at, :expires_at, :started_at, :completed_at, :attempt_count,
			:max_attempts, :cpf_verified, :client_data, :failure_reason
		)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, started_at=excluded.started_at,
			completed_at=excluded.completed_at, attempt_count=excluded.attempt_count,
			cpf_verified=excluded.cpf_verified, client_data=excluded.client_data,
			failure_reason=excluded.failure_reason
	`, row)
	if err != nil {
		return errors.Storage("saving verification", err)
	}
	return nil
}

func (row *verificationRow) toDomain() (*verification.Verification, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, errors.Storage("parsing verification id", err)
	}
	v := &verification.Verification{
		ID:            id,
		UserID:        valueobjects.ChatUserId(row.UserID),
		Username:      row.Username,
		UserMention:   row.UserMention,
		Type:          valueobjects.VerificationType(row.Type),
		SourceAction:  row.SourceAction,
		Status:        valueobjects.VerificationStatus(row.Status),
		CreatedAt:     unixTime(row.CreatedAt),
		ExpiresAt:     unixTime(row.ExpiresAt),
		AttemptCount:  row.AttemptCount,
		MaxAttempts:   row.MaxAttempts,
		FailureReason: row.FailureReason,
	}
	if row.StartedAt.Valid {
		t := unixTime(row.StartedAt.Int64)
		v.StartedAt = &t
	}
	if row.CompletedAt.Valid {
		t := unixTime(row.CompletedAt.Int64)
		v.CompletedAt = &t
	}
	if row.CPFVerified.Valid {
		cpf, ok := valueobjects.NewCPF(row.CPFVerified.String)
		if ok {
			v.CPFVerified = &cpf
		}
	}
	if row.ClientDataRaw.Valid {
		var data verification.ClientData
		if err := json.Unmarshal([]byte(row.ClientDataRaw.String), &data); err == nil {
			v.ClientData = &data
		}
	}
	return v, nil
}

func (r *VerificationRepository) FindByID(ctx context.Context, id uuid.UUID) (*verification.Verification, error) {
	var row verificationRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM pending_cpf_verifications WHERE id = ?`, id.String())
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("verification not found")
	}
	if err != nil {
		return nil, errors.Storage("loading verification", err)
	}
	return row.toDomain()
}

func (r *VerificationRepository) FindPendingByUser(ctx context.Context, userID valueobjects.ChatUserId) (*verification.Verification, error) {
	var row verificationRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM pending_cpf_verifications
		WHERE user_id = ? AND status IN ('PENDING','IN_PROGRESS')
		ORDER BY created_at DESC LIMIT 1
	`, int64(userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Storage("loading pending verification", err)
	}
	return row.toDomain()
}

func (r *VerificationRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]*verification.Verification, error) {
	var rows []verificationRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM pending_cpf_verifications
		WHERE status IN ('PENDING','IN_PROGRESS') AND expires_at <= ?
	`, now.Unix())
	if err != nil {
		return nil, errors.Storage("listing expired verifications", err)
	}
	return verificationSlice(rows)
}

func (r *VerificationRepository) FindByStatus(ctx context.Context, status valueobjects.VerificationStatus, limit int) ([]*verification.Verification, error) {
	var rows []verificationRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM pending_cpf_verifications WHERE status = ? ORDER BY created_at DESC LIMIT ?
	`, string(status), limit)
	if err != nil {
		return nil, errors.Storage("listing verifications by status", err)
	}
	return verificationSlice(rows)
}

func verificationSlice(rows []verificationRow) ([]*verification.Verification, error) {
	out := make([]*verification.Verification, 0, len(rows))
	for i := range rows {
		v, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
