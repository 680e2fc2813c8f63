package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evergreen-live/backend/internal/models"
	"github.com/evergreen-live/backend/internal/session"
)

type fakeStateReader struct {
	mu     sync.Mutex
	states map[uuid.UUID]*models.SessionState
}

func (f *fakeStateReader) Get(_ context.Context, id uuid.UUID) (*models.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

type fakeChatStore struct {
	mu      sync.Mutex
	recent  []models.ChatMessage
	pinned  *models.ChatMessage
	created []models.ChatMessage
}

func (f *fakeChatStore) Create(_ context.Context, m *models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	f.created = append(f.created, *m)
	return nil
}

func (f *fakeChatStore) ListRecent(_ context.Context, _ uuid.UUID, _ int) ([]models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recent, nil
}

func (f *fakeChatStore) GetPinned(_ context.Context, _ uuid.UUID) (*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pinned == nil {
		return nil, errors.New("no pinned message")
	}
	return f.pinned, nil
}

type fakeRegs struct {
	mu       sync.Mutex
	byLink   map[string]*models.Registration
	attended []uuid.UUID
}

func (f *fakeRegs) GetByLink(_ context.Context, link string) (*models.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.byLink[link]
	if !ok {
		return nil, errors.New("registration not found")
	}
	return reg, nil
}

func (f *fakeRegs) MarkAttended(_ context.Context, id uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attended = append(f.attended, id)
	return nil
}

func newTestGateway(states *fakeStateReader, chat *fakeChatStore, regs *fakeRegs) (*Gateway, *Hub) {
	hub := NewHub(nil, zap.NewNop())
	g := NewGateway(hub, states, chat, regs, nil, zap.NewNop())
	return g, hub
}

func attachClient(g *Gateway) *Client {
	return &Client{
		ID:          uuid.New().String(),
		role:        RoleGuest,
		displayName: "Dana",
		send:        make(chan []byte, sendBuffer),
		gateway:     g,
	}
}

func decodeData(t *testing.T, env Envelope) map[string]interface{} {
	t.Helper()
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data
}

func TestJoinSendsStateSnapshot(t *testing.T) {
	webinarID := uuid.New()
	started := time.Now().Add(-42500 * time.Millisecond)
	states := &fakeStateReader{states: map[uuid.UUID]*models.SessionState{
		webinarID: {WebinarID: webinarID, IsLive: true, StartedAt: &started},
	}}
	chat := &fakeChatStore{recent: []models.ChatMessage{
		{ID: uuid.New(), WebinarID: webinarID, SenderName: "Ann", Content: "hi"},
		{ID: uuid.New(), WebinarID: webinarID, SenderName: "Bot", Content: "welcome", IsAutomated: true},
	}}
	g, hub := newTestGateway(states, chat, &fakeRegs{})

	c := attachClient(g)
	payload, _ := json.Marshal(joinPayload{WebinarID: webinarID})
	g.handleJoin(c, payload)

	require.True(t, c.joined)
	assert.Equal(t, 1, hub.ViewerCount(webinarID))

	env := drainFrame(t, c)
	require.Equal(t, "state", env.Event)
	data := decodeData(t, env)
	assert.Equal(t, true, data["is_live"])
	assert.Equal(t, float64(42), data["elapsed_seconds"])
	assert.Equal(t, float64(1), data["viewer_count"])
	assert.Len(t, data["messages"], 2)
	assert.Nil(t, data["pinned_message"])
}

func TestJoinUnknownWebinarSendsError(t *testing.T) {
	states := &fakeStateReader{states: map[uuid.UUID]*models.SessionState{}}
	g, hub := newTestGateway(states, &fakeChatStore{}, &fakeRegs{})

	c := attachClient(g)
	payload, _ := json.Marshal(joinPayload{WebinarID: uuid.New()})
	g.handleJoin(c, payload)

	assert.False(t, c.joined)
	env := drainFrame(t, c)
	assert.Equal(t, "error", env.Event)
	assert.Equal(t, 0, hub.ViewerCount(c.webinarID))
}

func TestJoinMarksAttendeeWhenLive(t *testing.T) {
	webinarID := uuid.New()
	started := time.Now().Add(-time.Minute)
	states := &fakeStateReader{states: map[uuid.UUID]*models.SessionState{
		webinarID: {WebinarID: webinarID, IsLive: true, StartedAt: &started},
	}}
	regs := &fakeRegs{byLink: map[string]*models.Registration{}}
	g, _ := newTestGateway(states, &fakeChatStore{}, regs)

	regID := uuid.New()
	c := attachClient(g)
	c.role = RoleAttendee
	c.registrationID = &regID

	payload, _ := json.Marshal(joinPayload{WebinarID: webinarID})
	g.handleJoin(c, payload)

	regs.mu.Lock()
	defer regs.mu.Unlock()
	assert.Equal(t, []uuid.UUID{regID}, regs.attended)
}

func TestChatSendRejectsBlank(t *testing.T) {
	webinarID := uuid.New()
	started := time.Now()
	states := &fakeStateReader{states: map[uuid.UUID]*models.SessionState{
		webinarID: {WebinarID: webinarID, IsLive: true, StartedAt: &started},
	}}
	chat := &fakeChatStore{}
	g, _ := newTestGateway(states, chat, &fakeRegs{})

	c := attachClient(g)
	payload, _ := json.Marshal(joinPayload{WebinarID: webinarID})
	g.handleJoin(c, payload)
	drainFrame(t, c) // state snapshot

	msg, _ := json.Marshal(chatSendPayload{Text: "   "})
	g.handleChatSend(c, msg)

	env := drainFrame(t, c)
	assert.Equal(t, "error", env.Event)
	chat.mu.Lock()
	defer chat.mu.Unlock()
	assert.Empty(t, chat.created)
}

func TestChatSendPersistsAndFansOutToOthers(t *testing.T) {
	webinarID := uuid.New()
	started := time.Now().Add(-75 * time.Second)
	states := &fakeStateReader{states: map[uuid.UUID]*models.SessionState{
		webinarID: {WebinarID: webinarID, IsLive: true, StartedAt: &started},
	}}
	chat := &fakeChatStore{}
	g, _ := newTestGateway(states, chat, &fakeRegs{})

	var hookMu sync.Mutex
	var hookTexts []string
	g.SetChatReceivedHandler(func(id uuid.UUID, text string) {
		hookMu.Lock()
		hookTexts = append(hookTexts, text)
		hookMu.Unlock()
	})

	sender, other := attachClient(g), attachClient(g)
	joinBody, _ := json.Marshal(joinPayload{WebinarID: webinarID})
	g.handleJoin(sender, joinBody)
	g.handleJoin(other, joinBody)
	drainFrame(t, sender)
	drainFrame(t, other)

	msg, _ := json.Marshal(chatSendPayload{Text: "is there a replay?"})
	g.handleChatSend(sender, msg)

	env := drainFrame(t, other)
	assert.Equal(t, "chat:message", env.Event)
	data := decodeData(t, env)
	assert.Equal(t, "is there a replay?", data["content"])
	assert.Equal(t, float64(75), data["offset_seconds"])
	assert.Empty(t, sender.send, "sender renders its own message locally")

	chat.mu.Lock()
	require.Len(t, chat.created, 1)
	assert.Equal(t, 75, chat.created[0].OffsetSeconds)
	chat.mu.Unlock()

	require.Eventually(t, func() bool {
		hookMu.Lock()
		defer hookMu.Unlock()
		return len(hookTexts) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestChatSendRequiresJoin(t *testing.T) {
	states := &fakeStateReader{states: map[uuid.UUID]*models.SessionState{}}
	chat := &fakeChatStore{}
	g, _ := newTestGateway(states, chat, &fakeRegs{})

	c := attachClient(g)
	msg, _ := json.Marshal(chatSendPayload{Text: "hello"})
	g.handleChatSend(c, msg)

	env := drainFrame(t, c)
	assert.Equal(t, "error", env.Event)
	chat.mu.Lock()
	defer chat.mu.Unlock()
	assert.Empty(t, chat.created)
}
