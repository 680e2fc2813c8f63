package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evergreen-live/backend/internal/models"
)

// Repository persists audit log rows. Writes are append-only.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an audit repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record appends one audit row. details is marshalled to JSON; nil is stored
// as an empty object.
func (r *Repository) Record(ctx context.Context, userID uuid.UUID, webinarID *uuid.UUID, action string, details interface{}) error {
	body, err := json.Marshal(details)
	if err != nil || details == nil {
		body = []byte(`{}`)
	}
	const q = `INSERT INTO audit_logs (user_id, webinar_id, action, details) VALUES ($1, $2, $3, $4)`
	_, err = r.pool.Exec(ctx, q, userID, webinarID, action, body)
	return err
}

// List returns the newest audit rows first, capped at limit.
func (r *Repository) List(ctx context.Context, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `SELECT id, user_id, webinar_id, action, details, created_at
		FROM audit_logs ORDER BY created_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.WebinarID, &l.Action, &l.Details, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ListByWebinar returns the newest audit rows for one webinar.
func (r *Repository) ListByWebinar(ctx context.Context, webinarID uuid.UUID, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `SELECT id, user_id, webinar_id, action, details, created_at
		FROM audit_logs WHERE webinar_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, webinarID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.WebinarID, &l.Action, &l.Details, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
