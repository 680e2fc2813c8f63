package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evergreen-live/backend/internal/models"
)

type fakeStates struct {
	mu     sync.Mutex
	states map[uuid.UUID]*models.SessionState
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: make(map[uuid.UUID]*models.SessionState)}
}

func (f *fakeStates) Get(_ context.Context, id uuid.UUID) (*models.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (f *fakeStates) SetLive(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = &models.SessionState{WebinarID: id, IsLive: true, StartedAt: &startedAt}
	return nil
}

func (f *fakeStates) SetEnded(_ context.Context, id uuid.UUID, endedAt time.Time, finalOffset int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[id]
	if !ok {
		st = &models.SessionState{WebinarID: id}
		f.states[id] = st
	}
	st.IsLive = false
	st.EndedAt = &endedAt
	st.LastKnownOffsetSeconds = finalOffset
	return nil
}

type fakeWebinars struct {
	mu       sync.Mutex
	webinars map[uuid.UUID]*models.Webinar
}

func newFakeWebinars(ws ...*models.Webinar) *fakeWebinars {
	f := &fakeWebinars{webinars: make(map[uuid.UUID]*models.Webinar)}
	for _, w := range ws {
		f.webinars[w.ID] = w
	}
	return f
}

func (f *fakeWebinars) GetByID(_ context.Context, id uuid.UUID) (*models.Webinar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.webinars[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (f *fakeWebinars) TransitionStatus(_ context.Context, id uuid.UUID, from, to models.WebinarStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.webinars[id]
	if !ok || w.Status != from {
		return false, nil
	}
	w.Status = to
	return true, nil
}

func (f *fakeWebinars) ListByStatus(_ context.Context, status models.WebinarStatus) ([]models.Webinar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Webinar
	for _, w := range f.webinars {
		if w.Status == status {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (f *fakeWebinars) ListDueScheduled(_ context.Context, now time.Time) ([]models.Webinar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Webinar
	for _, w := range f.webinars {
		if w.Status == models.StatusScheduled && !w.ScheduledAt.After(now.Add(time.Minute)) {
			out = append(out, *w)
		}
	}
	return out, nil
}

type broadcastRecord struct {
	webinarID uuid.UUID
	event     string
	payload   interface{}
}

type fakeHub struct {
	mu     sync.Mutex
	events []broadcastRecord
}

func (f *fakeHub) BroadcastToWebinar(id uuid.UUID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, broadcastRecord{id, event, payload})
}

func (f *fakeHub) eventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.events))
	for i, e := range f.events {
		names[i] = e.event
	}
	return names
}

type fakeAudit struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeAudit) Record(_ context.Context, _ uuid.UUID, _ *uuid.UUID, action string, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

type fakeDetacher struct {
	mu       sync.Mutex
	detached []uuid.UUID
}

func (f *fakeDetacher) Detach(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, id)
}

func newTestController(webinars *fakeWebinars) (*Controller, *fakeStates, *fakeHub, *fakeAudit) {
	states := newFakeStates()
	hub := &fakeHub{}
	audit := &fakeAudit{}
	c := NewController(states, webinars, hub, audit, "/webinar-ended", 30, zap.NewNop())
	return c, states, hub, audit
}

func scheduledWebinar() *models.Webinar {
	return &models.Webinar{
		ID:              uuid.New(),
		Title:           "Launch Training",
		ScheduledAt:     time.Now().Add(-time.Minute),
		DurationMinutes: 60,
		Status:          models.StatusScheduled,
		HostID:          uuid.New(),
	}
}

func TestStartTransitionsToLive(t *testing.T) {
	w := scheduledWebinar()
	c, states, hub, audit := newTestController(newFakeWebinars(w))

	require.NoError(t, c.Start(context.Background(), w.ID, w.HostID, false))

	st, err := states.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.True(t, st.IsLive)
	require.NotNil(t, st.StartedAt)
	assert.Equal(t, []string{"started"}, hub.eventNames())
	assert.Equal(t, []string{models.ActionWebinarStarted}, audit.actions)
}

func TestStartTwiceKeepsRunningClock(t *testing.T) {
	w := scheduledWebinar()
	c, states, hub, _ := newTestController(newFakeWebinars(w))

	require.NoError(t, c.Start(context.Background(), w.ID, w.HostID, false))
	first, err := states.Get(context.Background(), w.ID)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background(), w.ID, w.HostID, false))
	second, err := states.Get(context.Background(), w.ID)
	require.NoError(t, err)

	assert.Equal(t, first.StartedAt, second.StartedAt)
	assert.Equal(t, []string{"started"}, hub.eventNames(), "repeat start must not re-broadcast")
}

func TestStartAfterEndedRejected(t *testing.T) {
	w := scheduledWebinar()
	w.Status = models.StatusEnded
	c, _, hub, _ := newTestController(newFakeWebinars(w))

	err := c.Start(context.Background(), w.ID, w.HostID, false)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Empty(t, hub.eventNames())
}

func TestStopEndsSessionAndDetachesTimeline(t *testing.T) {
	w := scheduledWebinar()
	webinars := newFakeWebinars(w)
	c, states, hub, audit := newTestController(webinars)
	detacher := &fakeDetacher{}
	c.SetTimelineDetacher(detacher)

	require.NoError(t, c.Start(context.Background(), w.ID, w.HostID, false))

	started := time.Now().Add(-42 * time.Second)
	states.mu.Lock()
	states.states[w.ID].StartedAt = &started
	states.mu.Unlock()

	require.NoError(t, c.Stop(context.Background(), w.ID, w.HostID, "", false))

	assert.Equal(t, []uuid.UUID{w.ID}, detacher.detached)

	st, err := states.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.False(t, st.IsLive)
	assert.Equal(t, 42, st.LastKnownOffsetSeconds)

	assert.Equal(t, []string{"started", "ended"}, hub.eventNames())
	hub.mu.Lock()
	payload := hub.events[1].payload.(map[string]interface{})
	hub.mu.Unlock()
	assert.Equal(t, ReasonManuallyEnded, payload["reason"])
	assert.Equal(t, "/webinar-ended/"+w.ID.String(), payload["redirect_url"])
	assert.Equal(t, []string{models.ActionWebinarStarted, models.ActionWebinarStopped}, audit.actions)
}

func TestStopBeforeStartRejected(t *testing.T) {
	w := scheduledWebinar()
	c, _, _, _ := newTestController(newFakeWebinars(w))

	err := c.Stop(context.Background(), w.ID, w.HostID, "", false)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAutoEndOverdueSession(t *testing.T) {
	w := scheduledWebinar()
	w.DurationMinutes = 1
	webinars := newFakeWebinars(w)
	c, states, hub, audit := newTestController(webinars)

	require.NoError(t, c.Start(context.Background(), w.ID, w.HostID, false))

	started := time.Now().Add(-2 * time.Minute)
	states.mu.Lock()
	states.states[w.ID].StartedAt = &started
	states.mu.Unlock()

	c.autoEndOverdue(context.Background(), time.Now())

	got, err := webinars.GetByID(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnded, got.Status)

	assert.Contains(t, hub.eventNames(), "ended")
	hub.mu.Lock()
	payload := hub.events[len(hub.events)-1].payload.(map[string]interface{})
	hub.mu.Unlock()
	assert.Equal(t, ReasonAutoEnded, payload["reason"])
	assert.Contains(t, audit.actions, models.ActionWebinarStoppedAuto)
}

func TestAutoEndSkipsSessionsWithinDuration(t *testing.T) {
	w := scheduledWebinar()
	w.DurationMinutes = 60
	webinars := newFakeWebinars(w)
	c, _, _, _ := newTestController(webinars)

	require.NoError(t, c.Start(context.Background(), w.ID, w.HostID, false))

	c.autoEndOverdue(context.Background(), time.Now())

	got, err := webinars.GetByID(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLive, got.Status)
}

func TestStartNotifierInvoked(t *testing.T) {
	w := scheduledWebinar()
	c, _, _, _ := newTestController(newFakeWebinars(w))

	var mu sync.Mutex
	var notified []uuid.UUID
	c.SetStartNotifier(func(_ context.Context, w *models.Webinar) {
		mu.Lock()
		notified = append(notified, w.ID)
		mu.Unlock()
	})

	require.NoError(t, c.Start(context.Background(), w.ID, w.HostID, false))
	assert.Equal(t, []uuid.UUID{w.ID}, notified)
}
