package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/evergreen-live/backend/internal/models"
)

// ErrNotFound is returned when no session state exists for a webinar.
var ErrNotFound = errors.New("session state not found")

const (
	stateKeyPrefix = "webinar:"
	stateKeySuffix = ":state"
)

func stateKey(webinarID uuid.UUID) string {
	return stateKeyPrefix + webinarID.String() + stateKeySuffix
}

// Store is the durable+cached session state record, one per webinar.
// Postgres is the source of truth; Redis mirrors it for sub-second reads
// during the broadcast tick and gateway join. The mirror can be cleared at any
// time: a cache miss falls back to Postgres and repopulates.
type Store struct {
	rdb    *redis.Client
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore creates a session state store.
func NewStore(rdb *redis.Client, pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{rdb: rdb, pool: pool, logger: logger}
}

// EnsureState creates the not-live state row for a newly scheduled webinar.
func (s *Store) EnsureState(ctx context.Context, webinarID uuid.UUID) error {
	const q = `INSERT INTO webinar_states (webinar_id, is_live, last_known_offset_seconds)
		VALUES ($1, FALSE, 0) ON CONFLICT (webinar_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, webinarID)
	return err
}

// Get returns session state, cache-first with Postgres fallback. A cache miss
// repopulates the mirror.
func (s *Store) Get(ctx context.Context, webinarID uuid.UUID) (*models.SessionState, error) {
	raw, err := s.rdb.Get(ctx, stateKey(webinarID)).Result()
	if err == nil {
		var st models.SessionState
		if jsonErr := json.Unmarshal([]byte(raw), &st); jsonErr == nil {
			return &st, nil
		}
		// corrupt mirror entry; fall through to Postgres
		s.logger.Warn("corrupt session state cache entry", zap.String("webinar_id", webinarID.String()))
	} else if err != redis.Nil {
		s.logger.Warn("session state cache read failed", zap.Error(err))
	}

	st, err := s.getDurable(ctx, webinarID)
	if err != nil {
		return nil, err
	}
	if st.IsLive {
		s.writeCache(ctx, st)
	}
	return st, nil
}

func (s *Store) getDurable(ctx context.Context, webinarID uuid.UUID) (*models.SessionState, error) {
	const q = `SELECT webinar_id, is_live, started_at, ended_at, last_known_offset_seconds, updated_at
		FROM webinar_states WHERE webinar_id = $1`
	var st models.SessionState
	err := s.pool.QueryRow(ctx, q, webinarID).
		Scan(&st.WebinarID, &st.IsLive, &st.StartedAt, &st.EndedAt, &st.LastKnownOffsetSeconds, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

// SetLive persists the go-live transition (startedAt set, offset reset to 0)
// and populates the cache mirror.
func (s *Store) SetLive(ctx context.Context, webinarID uuid.UUID, startedAt time.Time) error {
	const q = `INSERT INTO webinar_states (webinar_id, is_live, started_at, ended_at, last_known_offset_seconds, updated_at)
		VALUES ($1, TRUE, $2, NULL, 0, NOW())
		ON CONFLICT (webinar_id) DO UPDATE SET
			is_live = TRUE, started_at = $2, ended_at = NULL, last_known_offset_seconds = 0, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, q, webinarID, startedAt); err != nil {
		return err
	}
	s.writeCache(ctx, &models.SessionState{
		WebinarID: webinarID,
		IsLive:    true,
		StartedAt: &startedAt,
		UpdatedAt: time.Now(),
	})
	return nil
}

// SetEnded persists the end transition with the final offset and clears the
// cache mirror so the live index no longer lists the session.
func (s *Store) SetEnded(ctx context.Context, webinarID uuid.UUID, endedAt time.Time, finalOffset int) error {
	const q = `UPDATE webinar_states SET is_live = FALSE, ended_at = $2, last_known_offset_seconds = $3, updated_at = NOW()
		WHERE webinar_id = $1`
	if _, err := s.pool.Exec(ctx, q, webinarID, endedAt, finalOffset); err != nil {
		return err
	}
	s.ClearCache(ctx, webinarID)
	return nil
}

// CacheOffset refreshes the mirror's last known offset. Called every broadcast
// tick; best-effort.
func (s *Store) CacheOffset(ctx context.Context, st *models.SessionState, offset int) {
	cp := *st
	cp.LastKnownOffsetSeconds = offset
	s.writeCache(ctx, &cp)
}

// PersistOffset writes the last known offset to Postgres. Coalesced by the
// broadcaster (not every tick); a lost write only costs a few seconds of
// resume position after a crash.
func (s *Store) PersistOffset(ctx context.Context, webinarID uuid.UUID, offset int) error {
	const q = `UPDATE webinar_states SET last_known_offset_seconds = $2, updated_at = NOW() WHERE webinar_id = $1`
	_, err := s.pool.Exec(ctx, q, webinarID, offset)
	return err
}

// ClearCache removes only the cache mirror; the durable row is untouched.
func (s *Store) ClearCache(ctx context.Context, webinarID uuid.UUID) {
	if err := s.rdb.Del(ctx, stateKey(webinarID)).Err(); err != nil {
		s.logger.Warn("session state cache clear failed", zap.Error(err), zap.String("webinar_id", webinarID.String()))
	}
}

// LiveWebinarIDs enumerates live sessions from the cache index. Used by the
// sync broadcaster every tick, so it must stay a pure cache read.
func (s *Store) LiveWebinarIDs(ctx context.Context) ([]uuid.UUID, error) {
	keys, err := s.rdb.Keys(ctx, stateKeyPrefix+"*"+stateKeySuffix).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(keys))
	for _, key := range keys {
		idStr := strings.TrimSuffix(strings.TrimPrefix(key, stateKeyPrefix), stateKeySuffix)
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) writeCache(ctx context.Context, st *models.SessionState) {
	body, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, stateKey(st.WebinarID), body, 0).Err(); err != nil {
		s.logger.Warn("session state cache write failed", zap.Error(err), zap.String("webinar_id", st.WebinarID.String()))
	}
}
