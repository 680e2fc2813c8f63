package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evergreen-live/backend/internal/middleware"
	"github.com/evergreen-live/backend/internal/models"
)

// fakeStore mirrors the repository's pin semantics: pinning a message unpins
// any previous pin in the same step, so at most one message per webinar is
// ever pinned.
type fakeStore struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*models.ChatMessage
}

func newFakeStore(msgs ...*models.ChatMessage) *fakeStore {
	f := &fakeStore{messages: make(map[uuid.UUID]*models.ChatMessage)}
	for _, m := range msgs {
		f.messages[m.ID] = m
	}
	return f
}

func (f *fakeStore) ListAll(_ context.Context, webinarID uuid.UUID) ([]models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChatMessage
	for _, m := range f.messages {
		if m.WebinarID == webinarID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeStore) Pin(_ context.Context, webinarID, messageID uuid.UUID) (*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.messages[messageID]
	if !ok || target.WebinarID != webinarID || target.IsDeleted {
		return nil, ErrNotFound
	}
	for _, m := range f.messages {
		if m.WebinarID == webinarID {
			m.IsPinned = false
		}
	}
	target.IsPinned = true
	cp := *target
	return &cp, nil
}

func (f *fakeStore) Unpin(_ context.Context, webinarID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.WebinarID == webinarID {
			m.IsPinned = false
		}
	}
	return nil
}

func (f *fakeStore) SoftDelete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.IsDeleted = true
	m.IsPinned = false
	return nil
}

func (f *fakeStore) pinnedIDs(webinarID uuid.UUID) []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for _, m := range f.messages {
		if m.WebinarID == webinarID && m.IsPinned {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeHub) BroadcastToWebinar(_ uuid.UUID, event string, _ interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
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

func message(webinarID uuid.UUID, content string) *models.ChatMessage {
	return &models.ChatMessage{ID: uuid.New(), WebinarID: webinarID, SenderName: "Ann", Content: content}
}

func modContext(t *testing.T, params gin.Params) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = params
	c.Set(middleware.ContextUserID, uuid.New())
	return c, w
}

func TestPinReplacesPreviousPin(t *testing.T) {
	webinarID := uuid.New()
	first, second := message(webinarID, "old pin"), message(webinarID, "new pin")
	store := newFakeStore(first, second)
	hub := &fakeHub{}
	h := NewHandler(store, hub, &fakeAudit{}, zap.NewNop())

	for _, m := range []*models.ChatMessage{first, second} {
		c, w := modContext(t, gin.Params{
			{Key: "id", Value: webinarID.String()},
			{Key: "messageId", Value: m.ID.String()},
		})
		h.Pin(c)
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, []uuid.UUID{second.ID}, store.pinnedIDs(webinarID),
		"pinning a second message must replace the first pin")
	assert.Equal(t, []string{"chat:pinned", "chat:pinned"}, hub.events)
}

func TestPinDeletedMessageRejected(t *testing.T) {
	webinarID := uuid.New()
	m := message(webinarID, "gone")
	m.IsDeleted = true
	store := newFakeStore(m)
	hub := &fakeHub{}
	h := NewHandler(store, hub, &fakeAudit{}, zap.NewNop())

	c, w := modContext(t, gin.Params{
		{Key: "id", Value: webinarID.String()},
		{Key: "messageId", Value: m.ID.String()},
	})
	h.Pin(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, store.pinnedIDs(webinarID))
	assert.Empty(t, hub.events)
}

func TestUnpinClearsPin(t *testing.T) {
	webinarID := uuid.New()
	m := message(webinarID, "pinned")
	m.IsPinned = true
	store := newFakeStore(m)
	hub := &fakeHub{}
	audit := &fakeAudit{}
	h := NewHandler(store, hub, audit, zap.NewNop())

	c, w := modContext(t, gin.Params{{Key: "id", Value: webinarID.String()}})
	h.Unpin(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, store.pinnedIDs(webinarID))
	assert.Equal(t, []string{"chat:unpinned"}, hub.events)
	assert.Equal(t, []string{models.ActionChatMessageUnpinned}, audit.actions)
}

func TestDeleteUnpinsPinnedMessage(t *testing.T) {
	webinarID := uuid.New()
	m := message(webinarID, "to be removed")
	m.IsPinned = true
	store := newFakeStore(m)
	hub := &fakeHub{}
	h := NewHandler(store, hub, &fakeAudit{}, zap.NewNop())

	c, w := modContext(t, gin.Params{
		{Key: "id", Value: webinarID.String()},
		{Key: "messageId", Value: m.ID.String()},
	})
	h.Delete(c)
	c.Writer.WriteHeaderNow()

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, store.pinnedIDs(webinarID))
	store.mu.Lock()
	assert.True(t, store.messages[m.ID].IsDeleted)
	store.mu.Unlock()
	assert.Equal(t, []string{"chat:deleted"}, hub.events)
}
