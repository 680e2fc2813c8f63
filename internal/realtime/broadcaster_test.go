package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/evergreen-live/backend/internal/models"
)

type fakeStateSync struct {
	mu       sync.Mutex
	states   map[uuid.UUID]*models.SessionState
	cached   map[uuid.UUID]int
	persists map[uuid.UUID][]int
}

func newFakeStateSync() *fakeStateSync {
	return &fakeStateSync{
		states:   make(map[uuid.UUID]*models.SessionState),
		cached:   make(map[uuid.UUID]int),
		persists: make(map[uuid.UUID][]int),
	}
}

func (f *fakeStateSync) setLive(id uuid.UUID, startedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = &models.SessionState{WebinarID: id, IsLive: true, StartedAt: &startedAt}
}

func (f *fakeStateSync) LiveWebinarIDs(_ context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id, st := range f.states {
		if st.IsLive {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStateSync) Get(_ context.Context, id uuid.UUID) (*models.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.states[id]
	return &cp, nil
}

func (f *fakeStateSync) CacheOffset(_ context.Context, st *models.SessionState, offset int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached[st.WebinarID] = offset
}

func (f *fakeStateSync) PersistOffset(_ context.Context, id uuid.UUID, offset int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persists[id] = append(f.persists[id], offset)
	return nil
}

type localRecorder struct {
	mu     sync.Mutex
	frames []struct {
		webinarID uuid.UUID
		event     string
		payload   interface{}
	}
}

func (r *localRecorder) LocalBroadcast(webinarID uuid.UUID, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, struct {
		webinarID uuid.UUID
		event     string
		payload   interface{}
	}{webinarID, event, payload})
}

func TestSyncPassBroadcastsToLiveSessions(t *testing.T) {
	states := newFakeStateSync()
	hub := &localRecorder{}
	b := NewSyncBroadcaster(states, hub, 1000, 5, zap.NewNop())

	liveID := uuid.New()
	states.setLive(liveID, time.Now().Add(-30500*time.Millisecond))

	b.pass(context.Background(), false)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	assert.Len(t, hub.frames, 1)
	assert.Equal(t, liveID, hub.frames[0].webinarID)
	assert.Equal(t, "sync", hub.frames[0].event)
	payload := hub.frames[0].payload.(map[string]interface{})
	assert.Equal(t, 30, payload["elapsed_seconds"])
}

func TestSyncPassRefreshesCacheEveryTick(t *testing.T) {
	states := newFakeStateSync()
	hub := &localRecorder{}
	b := NewSyncBroadcaster(states, hub, 1000, 5, zap.NewNop())

	liveID := uuid.New()
	states.setLive(liveID, time.Now().Add(-10*time.Second))

	b.pass(context.Background(), false)

	states.mu.Lock()
	defer states.mu.Unlock()
	assert.Equal(t, 10, states.cached[liveID])
	assert.Empty(t, states.persists[liveID], "non-persist ticks must not touch durable storage")
}

func TestSyncPassPersistsOnPersistTicks(t *testing.T) {
	states := newFakeStateSync()
	hub := &localRecorder{}
	b := NewSyncBroadcaster(states, hub, 1000, 5, zap.NewNop())

	liveID := uuid.New()
	states.setLive(liveID, time.Now().Add(-60*time.Second))

	b.pass(context.Background(), true)

	states.mu.Lock()
	defer states.mu.Unlock()
	assert.Equal(t, []int{60}, states.persists[liveID])
}

func TestSyncPassSkipsEndedSessions(t *testing.T) {
	states := newFakeStateSync()
	hub := &localRecorder{}
	b := NewSyncBroadcaster(states, hub, 1000, 5, zap.NewNop())

	endedID := uuid.New()
	states.mu.Lock()
	states.states[endedID] = &models.SessionState{WebinarID: endedID, IsLive: false, LastKnownOffsetSeconds: 99}
	states.mu.Unlock()

	b.pass(context.Background(), true)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	assert.Empty(t, hub.frames)
}
