package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evergreen-live/backend/internal/models"
)

// ErrNotFound is returned when a chat message does not exist.
var ErrNotFound = errors.New("chat message not found")

// SnapshotLimit is how many recent messages a joining viewer receives.
const SnapshotLimit = 100

// Repository persists chat messages. Deletion is soft: moderated messages keep
// their row with is_deleted set and vanish from viewer-facing reads.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chat repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const messageColumns = `id, webinar_id, user_id, sender_name, content, offset_seconds, is_pinned, is_deleted, is_automated, created_at`

func scanMessage(row pgx.Row) (*models.ChatMessage, error) {
	var m models.ChatMessage
	err := row.Scan(&m.ID, &m.WebinarID, &m.UserID, &m.SenderName, &m.Content,
		&m.OffsetSeconds, &m.IsPinned, &m.IsDeleted, &m.IsAutomated, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// Create inserts a viewer message and fills the generated fields.
func (r *Repository) Create(ctx context.Context, m *models.ChatMessage) error {
	const q = `INSERT INTO chat_messages (webinar_id, user_id, sender_name, content, offset_seconds, is_automated)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, m.WebinarID, m.UserID, m.SenderName, m.Content, m.OffsetSeconds, m.IsAutomated).
		Scan(&m.ID, &m.CreatedAt)
}

// CreateAutomated inserts a bot message at the given session offset.
func (r *Repository) CreateAutomated(ctx context.Context, webinarID uuid.UUID, senderName, content string, offsetSeconds int) (*models.ChatMessage, error) {
	m := &models.ChatMessage{
		WebinarID:     webinarID,
		SenderName:    senderName,
		Content:       content,
		OffsetSeconds: offsetSeconds,
		IsAutomated:   true,
	}
	if err := r.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListRecent returns the newest non-deleted messages in chronological order,
// capped at limit. This is the join snapshot.
func (r *Repository) ListRecent(ctx context.Context, webinarID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = SnapshotLimit
	}
	const q = `SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + ` FROM chat_messages
			WHERE webinar_id = $1 AND NOT is_deleted
			ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at ASC`
	return r.list(ctx, q, webinarID, limit)
}

// ListAll returns every message for a webinar, deleted included, for the
// moderation view.
func (r *Repository) ListAll(ctx context.Context, webinarID uuid.UUID) ([]models.ChatMessage, error) {
	const q = `SELECT ` + messageColumns + ` FROM chat_messages
		WHERE webinar_id = $1 ORDER BY created_at ASC`
	return r.list(ctx, q, webinarID)
}

func (r *Repository) list(ctx context.Context, q string, args ...interface{}) ([]models.ChatMessage, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// GetByID fetches one message.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.ChatMessage, error) {
	const q = `SELECT ` + messageColumns + ` FROM chat_messages WHERE id = $1`
	return scanMessage(r.pool.QueryRow(ctx, q, id))
}

// GetPinned returns the webinar's pinned message, or ErrNotFound if none.
func (r *Repository) GetPinned(ctx context.Context, webinarID uuid.UUID) (*models.ChatMessage, error) {
	const q = `SELECT ` + messageColumns + ` FROM chat_messages
		WHERE webinar_id = $1 AND is_pinned AND NOT is_deleted`
	return scanMessage(r.pool.QueryRow(ctx, q, webinarID))
}

// Pin pins one message, unpinning any previous pin in the same transaction so
// at most one message per webinar is pinned. A partial unique index on
// (webinar_id) WHERE is_pinned backstops the invariant.
func (r *Repository) Pin(ctx context.Context, webinarID, messageID uuid.UUID) (*models.ChatMessage, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const unpin = `UPDATE chat_messages SET is_pinned = FALSE
		WHERE webinar_id = $1 AND is_pinned AND id <> $2`
	if _, err := tx.Exec(ctx, unpin, webinarID, messageID); err != nil {
		return nil, err
	}

	const pin = `UPDATE chat_messages SET is_pinned = TRUE
		WHERE id = $2 AND webinar_id = $1 AND NOT is_deleted`
	tag, err := tx.Exec(ctx, pin, webinarID, messageID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, messageID)
}

// Unpin clears the webinar's pinned message.
func (r *Repository) Unpin(ctx context.Context, webinarID uuid.UUID) error {
	const q = `UPDATE chat_messages SET is_pinned = FALSE WHERE webinar_id = $1 AND is_pinned`
	_, err := r.pool.Exec(ctx, q, webinarID)
	return err
}

// SoftDelete hides a message from viewers; a pinned message is unpinned as it
// is deleted.
func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE chat_messages SET is_deleted = TRUE, is_pinned = FALSE WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
