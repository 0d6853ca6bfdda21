package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/devco/sentinela/internal/domain/errors"
	"github.com/devco/sentinela/internal/domain/valueobjects"
	"github.com/devco/sentinela/internal/repository"
)

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

type userRow struct {
	ChatUserID       int64          `db:"user_id"`
	Username         string         `db:"username"`
	CPF              sql.NullString `db:"cpf"`
	ClientName       string         `db:"client_name"`
	ServiceName      string         `db:"service_name"`
	ServiceStatus    string         `db:"service_status"`
	IsActive         bool           `db:"is_active"`
	CreatedAt        int64          `db:"created_at"`
	LastVerification sql.NullInt64  `db:"last_verification"`
}

func (row *userRow) toDomain() *repository.User {
	u := &repository.User{
		ChatUserID:    valueobjects.ChatUserId(row.ChatUserID),
		Username:      row.Username,
		ClientName:    row.ClientName,
		ServiceName:   row.ServiceName,
		ServiceStatus: row.ServiceStatus,
		IsActive:      row.IsActive,
		CreatedAt:     unixTime(row.CreatedAt),
	}
	if row.CPF.Valid {
		if cpf, ok := valueobjects.NewCPF(row.CPF.String); ok {
			u.CPF = &cpf
		}
	}
	if row.LastVerification.Valid {
		t := unixTime(row.LastVerification.Int64)
		u.LastVerification = &t
	}
	return u
}

func (r *UserRepository) Save(ctx context.Context, u *repository.User) error {
	row := userRow{
		ChatUserID:    int64(u.ChatUserID),
		Username:      u.Username,
		ClientName:    u.ClientName,
		ServiceName:   u.ServiceName,
		ServiceStatus: u.ServiceStatus,
		IsActive:      u.IsActive,
		CreatedAt:     u.CreatedAt.Unix(),
	}
	if u.CPF != nil {
		row.CPF = sql.NullString{String: u.CPF.String(), Valid: true}
	}
	if u.LastVerification != nil {
		row.LastVerification = sql.NullInt64{Int64: u.LastVerification.Unix(), Valid: true}
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO users (
			user_id, username, cpf, client_name, service_name, service_status,
			is_active, created_at, last_verification
		) VALUES (
			:user_id, :username, :cpf, :client_name, :service_name, :service_status,
			:is_active, :created_at, :last_verification
		)
		ON CONFLICT(user_id) DO UPDATE SET
			username=excluded.username, cpf=excluded.cpf, client_name=excluded.client_name,
			service_name=excluded.service_name, service_status=excluded.service_status,
			is_active=excluded.is_active, last_verification=excluded.last_verification
	`, row)
	if err != nil {
		return errors.Storage("saving user", err)
	}
	return nil
}

func (r *UserRepository) FindByChatUserID(ctx context.Context, id valueobjects.ChatUserId) (*repository.User, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM users WHERE user_id = ?`, int64(id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("user not found")
	}
	if err != nil {
		return nil, errors.Storage("loading user", err)
	}
	return row.toDomain(), nil
}

func (r *UserRepository) FindByCPF(ctx context.Context, cpf valueobjects.CPF) (*repository.User, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM users WHERE cpf = ? AND is_active = 1`, cpf.String())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Storage("loading user by cpf", err)
	}
	return row.toDomain(), nil
}

func (r *UserRepository) Deactivate(ctx context.Context, id valueobjects.ChatUserId) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET is_active = 0 WHERE user_id = ?`, int64(id))
	if err != nil {
		return errors.Storage("deactivating user", err)
	}
	return nil
}

// RebindCPF atomically moves a CPF binding from the loser account to the
// primary account, deactivating the loser — used by duplicate-CPF conflict
// resolution (P2 must hold after the transaction commits).
func (r *UserRepository) RebindCPF(ctx context.Context, fromUser, toUser valueobjects.ChatUserId, cpf valueobjects.CPF) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Storage("starting cpf rebind", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx, `UPDATE users SET is_active = 0, cpf = NULL WHERE user_id = ?`, int64(fromUser)); err != nil {
		return errors.Storage("deactivating loser user", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (user_id, cpf, is_active, created_at, last_verification)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET cpf=excluded.cpf, is_active=1, last_verification=excluded.last_verification
	`, int64(toUser), cpf.String(), now, now)
	if err != nil {
		return errors.Storage("binding cpf to primary user", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.Storage("committing cpf rebind", err)
	}
	return nil
}
