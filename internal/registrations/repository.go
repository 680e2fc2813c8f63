package registrations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evergreen-live/backend/internal/models"
)

// ErrNotFound is returned when a registration does not exist.
var ErrNotFound = errors.New("registration not found")

// ErrAlreadyRegistered is returned when the email is already registered for
// the webinar.
var ErrAlreadyRegistered = errors.New("email already registered for webinar")

// Repository persists attendee registrations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a registration repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const registrationColumns = `id, webinar_id, name, email, phone, consent, unique_link, attended_at, created_at, updated_at`

func scanRegistration(row pgx.Row) (*models.Registration, error) {
	var reg models.Registration
	err := row.Scan(&reg.ID, &reg.WebinarID, &reg.Name, &reg.Email, &reg.Phone, &reg.Consent,
		&reg.UniqueLink, &reg.AttendedAt, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &reg, nil
}

// Create inserts a registration. The unique join link is generated by the
// database.
func (r *Repository) Create(ctx context.Context, reg *models.Registration) error {
	const q = `INSERT INTO registrations (webinar_id, name, email, phone, consent)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, unique_link, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, reg.WebinarID, reg.Name, reg.Email, reg.Phone, reg.Consent).
		Scan(&reg.ID, &reg.UniqueLink, &reg.CreatedAt, &reg.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyRegistered
	}
	return err
}

// GetByLink fetches a registration by its join-link token.
func (r *Repository) GetByLink(ctx context.Context, link string) (*models.Registration, error) {
	const q = `SELECT ` + registrationColumns + ` FROM registrations WHERE unique_link = $1`
	return scanRegistration(r.pool.QueryRow(ctx, q, link))
}

// ListByWebinar returns all registrations for a webinar, newest first.
func (r *Repository) ListByWebinar(ctx context.Context, webinarID uuid.UUID) ([]models.Registration, error) {
	const q = `SELECT ` + registrationColumns + ` FROM registrations
		WHERE webinar_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, webinarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []models.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// MarkAttended stamps the first time an attendee joins while the webinar is
// live. Later joins keep the original timestamp.
func (r *Repository) MarkAttended(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE registrations SET attended_at = $2, updated_at = NOW()
		WHERE id = $1 AND attended_at IS NULL`
	_, err := r.pool.Exec(ctx, q, id, at)
	return err
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
