package webinars

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evergreen-live/backend/internal/models"
)

// ErrNotFound is returned when a webinar does not exist.
var ErrNotFound = errors.New("webinar not found")

// ErrSlugTaken is returned when the requested slug is already in use.
var ErrSlugTaken = errors.New("slug already in use")

// Repository persists webinars.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a webinar repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const webinarColumns = `id, title, slug, description, scheduled_at, timezone, duration_minutes,
	video_url, thumbnail_url, accent_color, status, host_id, created_at, updated_at`

func scanWebinar(row pgx.Row) (*models.Webinar, error) {
	var w models.Webinar
	err := row.Scan(&w.ID, &w.Title, &w.Slug, &w.Description, &w.ScheduledAt, &w.Timezone,
		&w.DurationMinutes, &w.VideoURL, &w.ThumbnailURL, &w.AccentColor, &w.Status,
		&w.HostID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

// Create inserts a webinar and fills the generated fields.
func (r *Repository) Create(ctx context.Context, w *models.Webinar) error {
	const q = `INSERT INTO webinars (title, slug, description, scheduled_at, timezone, duration_minutes,
			video_url, thumbnail_url, accent_color, status, host_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, w.Title, w.Slug, w.Description, w.ScheduledAt, w.Timezone,
		w.DurationMinutes, w.VideoURL, w.ThumbnailURL, w.AccentColor, w.Status, w.HostID).
		Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrSlugTaken
	}
	return err
}

// GetByID fetches one webinar.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Webinar, error) {
	const q = `SELECT ` + webinarColumns + ` FROM webinars WHERE id = $1`
	return scanWebinar(r.pool.QueryRow(ctx, q, id))
}

// GetBySlug fetches one webinar by its public slug.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*models.Webinar, error) {
	const q = `SELECT ` + webinarColumns + ` FROM webinars WHERE slug = $1`
	return scanWebinar(r.pool.QueryRow(ctx, q, slug))
}

// List returns all webinars, newest scheduled first.
func (r *Repository) List(ctx context.Context) ([]models.Webinar, error) {
	const q = `SELECT ` + webinarColumns + ` FROM webinars ORDER BY scheduled_at DESC`
	return r.list(ctx, q)
}

// ListByStatus returns webinars in one lifecycle state.
func (r *Repository) ListByStatus(ctx context.Context, status models.WebinarStatus) ([]models.Webinar, error) {
	const q = `SELECT ` + webinarColumns + ` FROM webinars WHERE status = $1 ORDER BY scheduled_at`
	return r.list(ctx, q, status)
}

// ListDueScheduled returns SCHEDULED webinars whose start time is at or before
// the sweep horizon (now plus one sweep period of lookahead).
func (r *Repository) ListDueScheduled(ctx context.Context, now time.Time) ([]models.Webinar, error) {
	const q = `SELECT ` + webinarColumns + ` FROM webinars
		WHERE status = $1 AND scheduled_at <= $2 ORDER BY scheduled_at`
	return r.list(ctx, q, models.StatusScheduled, now.Add(time.Minute))
}

func (r *Repository) list(ctx context.Context, q string, args ...interface{}) ([]models.Webinar, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var webinars []models.Webinar
	for rows.Next() {
		w, err := scanWebinar(rows)
		if err != nil {
			return nil, err
		}
		webinars = append(webinars, *w)
	}
	return webinars, rows.Err()
}

// Update modifies a webinar's editable fields.
func (r *Repository) Update(ctx context.Context, w *models.Webinar) error {
	const q = `UPDATE webinars SET title = $2, slug = $3, description = $4, scheduled_at = $5,
			timezone = $6, duration_minutes = $7, video_url = $8, thumbnail_url = $9,
			accent_color = $10, updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, w.ID, w.Title, w.Slug, w.Description, w.ScheduledAt,
		w.Timezone, w.DurationMinutes, w.VideoURL, w.ThumbnailURL, w.AccentColor)
	if isUniqueViolation(err) {
		return ErrSlugTaken
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionStatus flips status from -> to, returning whether this caller won.
// The conditional update is the lifecycle guard: two concurrent starts cannot
// both succeed.
func (r *Repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.WebinarStatus) (bool, error) {
	const q = `UPDATE webinars SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`
	tag, err := r.pool.Exec(ctx, q, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes a webinar and, via FK cascade, its dependent rows.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM webinars WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
