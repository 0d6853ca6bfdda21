package sqlite

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/devco/sentinela/internal/domain/errors"
	"github.com/devco/sentinela/internal/domain/valueobjects"
	"github.com/devco/sentinela/internal/repository"
)

type AdminRepository struct {
	db *sqlx.DB
}

func NewAdminRepository(db *sqlx.DB) *AdminRepository {
	return &AdminRepository{db: db}
}

type adminRow struct {
	ChatUserID int64  `db:"chat_user_id"`
	Username   string `db:"username"`
	FirstName  string `db:"first_name"`
	LastName   string `db:"last_name"`
	Status     string `db:"status"`
	DetectedAt int64  `db:"detected_at"`
}

// ReplaceAll atomically swaps the admin cache for the freshly computed
// union set (configured IDs ∪ chat-server-detected admins).
func (r *AdminRepository) ReplaceAll(ctx context.Context, admins []repository.Admin) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Storage("starting admin cache replace", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM admin_cache`); err != nil {
		return errors.Storage("clearing admin cache", err)
	}
	for _, a := range admins {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO admin_cache (chat_user_id, username, first_name, last_name, status, detected_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, int64(a.ChatUserID), a.Username, a.FirstName, a.LastName, a.Status, a.DetectedAt.Unix())
		if err != nil {
			return errors.Storage("inserting admin cache row", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Storage("committing admin cache replace", err)
	}
	return nil
}

func (r *AdminRepository) List(ctx context.Context) ([]repository.Admin, error) {
	var rows []adminRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM admin_cache`); err != nil {
		return nil, errors.Storage("listing admins", err)
	}
	out := make([]repository.Admin, len(rows))
	for i, row := range rows {
		out[i] = repository.Admin{
			ChatUserID: valueobjects.ChatUserId(row.ChatUserID),
			Username:   row.Username,
			FirstName:  row.FirstName,
			LastName:   row.LastName,
			Status:     row.Status,
			DetectedAt: unixTime(row.DetectedAt),
		}
	}
	return out, nil
}

func (r *AdminRepository) IsAdmin(ctx context.Context, userID valueobjects.ChatUserId) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM admin_cache WHERE chat_user_id = ?`, int64(userID))
	if err != nil {
		return false, errors.Storage("checking admin status", err)
	}
	return n > 0, nil
}
