package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/devco/sentinela/internal/domain/errors"
	"github.com/devco/sentinela/internal/domain/integration"
	"github.com/devco/sentinela/internal/domain/valueobjects"
)

type IntegrationRepository struct {
	db *sqlx.DB
}

func NewIntegrationRepository(db *sqlx.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

type integrationRow struct {
	ID              string         `db:"id"`
	Type            string         `db:"type"`
	Priority        string         `db:"priority"`
	Status          string         `db:"status"`
	Payload         string         `db:"payload"`
	Metadata        string         `db:"metadata"`
	MaxRetries      int            `db:"max_retries"`
	TimeoutSeconds  int            `db:"timeout_seconds"`
	Attempts        string         `db:"attempts"`
	ScheduledAt     sql.NullInt64  `db:"scheduled_at"`
	StartedAt       sql.NullInt64  `db:"started_at"`
	CompletedAt     sql.NullInt64  `db:"completed_at"`
	HubSoftResponse sql.NullString `db:"hubsoft_response"`
	ErrorDetails    string         `db:"error_details"`
	Version         int64          `db:"version"`
}

func (r *IntegrationRepository) Save(ctx context.Context, i *integration.Integration) error {
	metadata, _ := json.Marshal(i.Metadata)
	attempts, _ := json.Marshal(i.Attempts)

	row := integrationRow{
		ID:             i.ID.String(),
		Type:           string(i.Type),
		Priority:       string(i.Priority),
		Status:         string(i.Status),
		Payload:        string(i.Payload),
		Metadata:       string(metadata),
		MaxRetries:     i.MaxRetries,
		TimeoutSeconds: i.TimeoutSeconds,
		Attempts:       string(attempts),
		ErrorDetails:   i.ErrorDetails,
		Version:        i.Version + 1,
	}
	if i.ScheduledAt != nil {
		row.ScheduledAt = sql.NullInt64{Int64: i.ScheduledAt.Unix(), Valid: true}
	}
	if i.StartedAt != nil {
		row.StartedAt = sql.NullInt64{Int64: i.StartedAt.Unix(), Valid: true}
	}
	if i.CompletedAt != nil {
		row.CompletedAt = sql.NullInt64{Int64: i.CompletedAt.Unix(), Valid: true}
	}
	if i.HubSoftResponse != nil {
		row.HubSoftResponse = sql.NullString{String: string(i.HubSoftResponse), Valid: true}
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO integrations (
			id, type, priority, status, payload, metadata, max_retries, timeout_seconds,
			attempts, scheduled_at, started_at, completed_at, hubsoft_response, error_details, version
		) VALUES (
			:id, :type, :priority, :status, :payload, :metadata, :max_retries, :timeout_seconds,
			:attempts, :scheduled_at, :started_at, :completed_at, :hubsoft_response, :error_details, :version
		)
		ON CONFLICT(id) DO UPDATE SET
			priority=excluded.priority, status=excluded.status, metadata=excluded.metadata,
			attempts=excluded.attempts, scheduled_at=excluded.scheduled_at,
			started_at=excluded.started_at, completed_at=excluded.completed_at,
			hubsoft_response=excluded.hubsoft_response, error_details=excluded.error_details,
			version=excluded.version
	`, row)
	if err != nil {
		return errors.Storage("saving integration", err)
	}
	i.Version = row.Version
	return nil
}

// Lease attempts to optimistically claim the job for processing by bumping
// its version, so at most one worker advances a given integration at a
// time. ok=false if expectedVersion no longer matches (another worker
// already leased it).
func (r *IntegrationRepository) Lease(ctx context.Context, id uuid.UUID, expectedVersion int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE integrations SET version = version + 1 WHERE id = ? AND version = ?
	`, id.String(), expectedVersion)
	if err != nil {
		return false, errors.Storage("leasing integration", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Storage("reading lease result", err)
	}
	return n == 1, nil
}

func (row *integrationRow) toDomain() (*integration.Integration, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, errors.Storage("parsing integration id", err)
	}
	i := &integration.Integration{
		ID:             id,
		Type:           valueobjects.IntegrationType(row.Type),
		Priority:       valueobjects.IntegrationPriority(row.Priority),
		Status:         valueobjects.IntegrationStatus(row.Status),
		Payload:        json.RawMessage(row.Payload),
		MaxRetries:     row.MaxRetries,
		TimeoutSeconds: row.TimeoutSeconds,
		ErrorDetails:   row.ErrorDetails,
		Version:        row.Version,
	}
	_ = json.Unmarshal([]byte(row.Metadata), &i.Metadata)
	if i.Metadata == nil {
		i.Metadata = make(map[string]string)
	}
	_ = json.Unmarshal([]byte(row.Attempts), &i.Attempts)
	if row.ScheduledAt.Valid {
		t := unixTime(row.ScheduledAt.Int64)
		i.ScheduledAt = &t
	}
	if row.StartedAt.Valid {
		t := unixTime(row.StartedAt.Int64)
		i.StartedAt = &t
	}
	if row.CompletedAt.Valid {
		t := unixTime(row.CompletedAt.Int64)
		i.CompletedAt = &t
	}
	if row.HubSoftResponse.Valid {
		i.HubSoftResponse = json.RawMessage(row.HubSoftResponse.String)
	}
	return i, nil
}

func (r *IntegrationRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.Integration, error) {
	var row integrationRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM integrations WHERE id = ?`, id.String())
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("integration not found")
	}
	if err != nil {
		return nil, errors.Storage("loading integration", err)
	}
	return row.toDomain()
}

func (r *IntegrationRepository) FindPending(ctx context.Context, itype *valueobjects.IntegrationType, limit int) ([]*integration.Integration, error) {
	query := `SELECT * FROM integrations WHERE status = 'PENDING'`
	var args []any
	if itype != nil {
		query += ` AND type = ?`
		args = append(args, string(*itype))
	}
	query += ` ORDER BY
		CASE priority WHEN 'URGENT' THEN 3 WHEN 'HIGH' THEN 2 WHEN 'NORMAL' THEN 1 ELSE 0 END DESC,
		scheduled_at ASC LIMIT ?`
	args = append(args, limit)

	var rows []integrationRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Storage("listing pending integrations", err)
	}
	return integrationSlice(rows)
}

func (r *IntegrationRepository) FindScheduledUntil(ctx context.Context, ts time.Time, limit int) ([]*integration.Integration, error) {
	var rows []integrationRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM integrations
		WHERE status IN ('PENDING','RETRY_SCHEDULED') AND scheduled_at <= ?
		ORDER BY
			CASE priority WHEN 'URGENT' THEN 3 WHEN 'HIGH' THEN 2 WHEN 'NORMAL' THEN 1 ELSE 0 END DESC,
			scheduled_at ASC
		LIMIT ?
	`, ts.Unix(), limit)
	if err != nil {
		return nil, errors.Storage("listing scheduled integrations", err)
	}
	return integrationSlice(rows)
}

func (r *IntegrationRepository) FindActive(ctx context.Context, itype *valueobjects.IntegrationType) ([]*integration.Integration, error) {
	query := `SELECT * FROM integrations WHERE status = 'IN_PROGRESS'`
	var args []any
	if itype != nil {
		query += ` AND type = ?`
		args = append(args, string(*itype))
	}
	var rows []integrationRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Storage("listing active integrations", err)
	}
	return integrationSlice(rows)
}

func (r *IntegrationRepository) FindFailed(ctx context.Context, limit int) ([]*integration.Integration, error) {
	var rows []integrationRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM integrations WHERE status = 'FAILED' ORDER BY completed_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Storage("listing failed integrations", err)
	}
	return integrationSlice(rows)
}

func (r *IntegrationRepository) CountByStatus(ctx context.Context, since *time.Time) (map[valueobjects.IntegrationStatus]int, error) {
	query := `SELECT status, COUNT(*) as n FROM integrations`
	var args []any
	if since != nil {
		query += ` WHERE scheduled_at >= ?`
		args = append(args, since.Unix())
	}
	query += ` GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Storage("counting integrations by status", err)
	}
	defer rows.Close()

	counts := make(map[valueobjects.IntegrationStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Storage("scanning status count", err)
		}
		counts[valueobjects.IntegrationStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *IntegrationRepository) FindByMetadata(ctx context.Context, key, value string, status *valueobjects.IntegrationStatus) ([]*integration.Integration, error) {
	query := `SELECT * FROM integrations WHERE json_extract(metadata, '$.' || ?) = ?`
	args := []any{key, value}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	var rows []integrationRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Storage("finding integrations by metadata", err)
	}
	return integrationSlice(rows)
}

func (r *IntegrationRepository) CleanupCompleted(ctx context.Context, olderThan time.Time, batch int) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM integrations WHERE id IN (
			SELECT id FROM integrations
			WHERE status IN ('COMPLETED','CANCELLED') AND completed_at < ?
			LIMIT ?
		)
	`, olderThan.Unix(), batch)
	if err != nil {
		return 0, errors.Storage("cleaning up completed integrations", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Storage("reading cleanup result", err)
	}
	return int(n), nil
}

func integrationSlice(rows []integrationRow) ([]*integration.Integration, error) {
	out := make([]*integration.Integration, 0, len(rows))
	for i := range rows {
		v, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
