package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient() *Client {
	return &Client{
		ID:   uuid.New().String(),
		send: make(chan []byte, sendBuffer),
	}
}

func drainFrame(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case raw := <-c.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	default:
		t.Fatal("expected a frame, send buffer empty")
		return Envelope{}
	}
}

func TestHubJoinLeaveCounts(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	webinarID := uuid.New()

	a, b := newTestClient(), newTestClient()
	h.Join(webinarID, a)
	h.Join(webinarID, b)
	assert.Equal(t, 2, h.ViewerCount(webinarID))

	h.Leave(webinarID, a)
	assert.Equal(t, 1, h.ViewerCount(webinarID))

	// leaving twice is harmless
	h.Leave(webinarID, a)
	assert.Equal(t, 1, h.ViewerCount(webinarID))

	h.Leave(webinarID, b)
	assert.Equal(t, 0, h.ViewerCount(webinarID))
}

func TestHubBroadcastReachesAllMembers(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	webinarID := uuid.New()

	a, b := newTestClient(), newTestClient()
	h.Join(webinarID, a)
	h.Join(webinarID, b)

	h.BroadcastToWebinar(webinarID, "started", map[string]interface{}{"webinar_id": webinarID})

	for _, c := range []*Client{a, b} {
		env := drainFrame(t, c)
		assert.Equal(t, "started", env.Event)
	}
}

func TestHubBroadcastToOthersSkipsSender(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	webinarID := uuid.New()

	sender, other := newTestClient(), newTestClient()
	h.Join(webinarID, sender)
	h.Join(webinarID, other)

	h.BroadcastToOthers(webinarID, sender.ID, "chat:message", map[string]interface{}{"content": "hi"})

	env := drainFrame(t, other)
	assert.Equal(t, "chat:message", env.Event)
	assert.Empty(t, sender.send, "sender must not receive its own message")
}

func TestHubBroadcastScopedToGroup(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	roomA, roomB := uuid.New(), uuid.New()

	a, b := newTestClient(), newTestClient()
	h.Join(roomA, a)
	h.Join(roomB, b)

	h.BroadcastToWebinar(roomA, "sync", map[string]interface{}{"elapsed_seconds": 10})

	env := drainFrame(t, a)
	assert.Equal(t, "sync", env.Event)
	assert.Empty(t, b.send, "other groups must not receive the event")
}

func TestHubViewerCountHandler(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	webinarID := uuid.New()

	var counts []int
	h.SetViewerCountHandler(func(id uuid.UUID, count int) {
		assert.Equal(t, webinarID, id)
		counts = append(counts, count)
	})

	a, b := newTestClient(), newTestClient()
	h.Join(webinarID, a)
	h.Join(webinarID, b)
	h.Leave(webinarID, a)
	h.Leave(webinarID, b)

	assert.Equal(t, []int{1, 2, 1, 0}, counts)
}
