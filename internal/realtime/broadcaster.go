package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evergreen-live/backend/internal/models"
	"github.com/evergreen-live/backend/internal/observability"
	"github.com/evergreen-live/backend/internal/session"
)

// StateSync is the session state access the sync broadcaster needs.
type StateSync interface {
	LiveWebinarIDs(ctx context.Context) ([]uuid.UUID, error)
	Get(ctx context.Context, webinarID uuid.UUID) (*models.SessionState, error)
	CacheOffset(ctx context.Context, st *models.SessionState, offset int)
	PersistOffset(ctx context.Context, webinarID uuid.UUID, offset int) error
}

// LocalSender delivers an event to this instance's viewers.
type LocalSender interface {
	LocalBroadcast(webinarID uuid.UUID, event string, payload interface{})
}

// SyncBroadcaster pushes the authoritative clock to every live session once a
// second. A time.Ticker drops ticks when a pass runs long, so a slow pass
// never piles up a backlog. Offsets are mirrored to the cache every tick and
// persisted to Postgres every persistEvery ticks; losing the tail costs a few
// seconds of resume position at worst.
type SyncBroadcaster struct {
	states StateSync
	hub    LocalSender
	logger *zap.Logger

	interval     time.Duration
	persistEvery int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSyncBroadcaster creates the sync broadcaster. intervalMS at or below zero
// defaults to 1000, persistEvery to 5.
func NewSyncBroadcaster(states StateSync, hub LocalSender, intervalMS, persistEvery int, logger *zap.Logger) *SyncBroadcaster {
	if intervalMS <= 0 {
		intervalMS = 1000
	}
	if persistEvery <= 0 {
		persistEvery = 5
	}
	return &SyncBroadcaster{
		states:       states,
		hub:          hub,
		logger:       logger,
		interval:     time.Duration(intervalMS) * time.Millisecond,
		persistEvery: persistEvery,
	}
}

// Start begins the tick loop.
func (b *SyncBroadcaster) Start() {
	if b.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(ctx)
	b.logger.Info("sync broadcaster started", zap.Duration("interval", b.interval))
}

// Stop halts the tick loop.
func (b *SyncBroadcaster) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
	b.cancel = nil
	b.logger.Info("sync broadcaster stopped")
}

func (b *SyncBroadcaster) run(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			b.pass(ctx, tick%b.persistEvery == 0)
		}
	}
}

// pass pushes one sync frame to each live session.
func (b *SyncBroadcaster) pass(ctx context.Context, persist bool) {
	ids, err := b.states.LiveWebinarIDs(ctx)
	if err != nil {
		b.logger.Warn("live session enumeration failed", zap.Error(err))
		return
	}

	now := time.Now()
	for _, id := range ids {
		st, err := b.states.Get(ctx, id)
		if err != nil {
			continue
		}
		if !st.IsLive {
			continue
		}
		offset := session.Elapsed(st, now)

		b.hub.LocalBroadcast(id, "sync", map[string]interface{}{
			"elapsed_seconds": offset,
			"server_time":     now.UTC(),
		})
		observability.IncSyncBroadcast()

		b.states.CacheOffset(ctx, st, offset)
		if persist {
			if err := b.states.PersistOffset(ctx, id, offset); err != nil {
				b.logger.Warn("offset persist failed", zap.Error(err), zap.String("webinar_id", id.String()))
			}
		}
	}
}
