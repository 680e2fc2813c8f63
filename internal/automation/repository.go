package automation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evergreen-live/backend/internal/models"
)

// ErrNotFound is returned when an automation event does not exist.
var ErrNotFound = errors.New("automation event not found")

// Repository persists automation timeline events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an automation repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const eventColumns = `id, webinar_id, kind, trigger_offset_seconds, payload, enabled, fired_at, created_at, updated_at`

func scanEvent(row pgx.Row) (*models.AutomationEvent, error) {
	var e models.AutomationEvent
	err := row.Scan(&e.ID, &e.WebinarID, &e.Kind, &e.TriggerOffsetSeconds, &e.Payload,
		&e.Enabled, &e.FiredAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// Create inserts a new event and fills the generated fields.
func (r *Repository) Create(ctx context.Context, e *models.AutomationEvent) error {
	const q = `INSERT INTO automation_events (webinar_id, kind, trigger_offset_seconds, payload, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, e.WebinarID, e.Kind, e.TriggerOffsetSeconds, e.Payload, e.Enabled).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// GetByID fetches one event.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.AutomationEvent, error) {
	const q = `SELECT ` + eventColumns + ` FROM automation_events WHERE id = $1`
	return scanEvent(r.pool.QueryRow(ctx, q, id))
}

// ListByWebinar returns every event for a webinar ordered by trigger offset.
func (r *Repository) ListByWebinar(ctx context.Context, webinarID uuid.UUID) ([]models.AutomationEvent, error) {
	const q = `SELECT ` + eventColumns + ` FROM automation_events
		WHERE webinar_id = $1 ORDER BY trigger_offset_seconds, created_at`
	return r.list(ctx, q, webinarID)
}

// ListPending returns enabled, unfired timeline events for a webinar ordered by
// trigger offset. Keyword replies are excluded: they fire on chat content, not
// on the clock.
func (r *Repository) ListPending(ctx context.Context, webinarID uuid.UUID) ([]models.AutomationEvent, error) {
	const q = `SELECT ` + eventColumns + ` FROM automation_events
		WHERE webinar_id = $1 AND enabled AND fired_at IS NULL AND kind <> $2
		ORDER BY trigger_offset_seconds, created_at`
	return r.list(ctx, q, webinarID, models.KindKeywordReply)
}

// ListKeywordReplies returns the enabled keyword rules for a webinar. Rules are
// reusable and never claimed; a rule may reply to many messages in one session.
func (r *Repository) ListKeywordReplies(ctx context.Context, webinarID uuid.UUID) ([]models.AutomationEvent, error) {
	const q = `SELECT ` + eventColumns + ` FROM automation_events
		WHERE webinar_id = $1 AND enabled AND kind = $2
		ORDER BY created_at`
	return r.list(ctx, q, webinarID, models.KindKeywordReply)
}

func (r *Repository) list(ctx context.Context, q string, args ...interface{}) ([]models.AutomationEvent, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.AutomationEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// Update modifies the mutable fields of an event.
func (r *Repository) Update(ctx context.Context, e *models.AutomationEvent) error {
	const q = `UPDATE automation_events
		SET kind = $2, trigger_offset_seconds = $3, payload = $4, enabled = $5, updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, e.ID, e.Kind, e.TriggerOffsetSeconds, e.Payload, e.Enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an event.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM automation_events WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Claim marks an event fired if and only if it has not fired yet. The
// conditional update is the at-most-once guarantee: under concurrent attempts
// exactly one caller sees true.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE automation_events SET fired_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND fired_at IS NULL`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ResetFiredForEnded clears fired flags for events of ENDED webinars so a
// future replay of the session fires them again. Returns the number of events
// reset.
func (r *Repository) ResetFiredForEnded(ctx context.Context) (int64, error) {
	const q = `UPDATE automation_events e SET fired_at = NULL, updated_at = NOW()
		FROM webinars w
		WHERE e.webinar_id = w.id AND w.status = $1 AND e.fired_at IS NOT NULL`
	tag, err := r.pool.Exec(ctx, q, models.StatusEnded)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReplaceForWebinar swaps the webinar's entire timeline for the given events in
// one transaction. Import semantics are replace, not merge.
func (r *Repository) ReplaceForWebinar(ctx context.Context, webinarID uuid.UUID, events []models.AutomationEvent) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM automation_events WHERE webinar_id = $1`, webinarID); err != nil {
		return err
	}

	const insert = `INSERT INTO automation_events (webinar_id, kind, trigger_offset_seconds, payload, enabled)
		VALUES ($1, $2, $3, $4, $5)`
	for i := range events {
		e := &events[i]
		if _, err := tx.Exec(ctx, insert, webinarID, e.Kind, e.TriggerOffsetSeconds, e.Payload, e.Enabled); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
