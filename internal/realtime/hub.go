package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evergreen-live/backend/internal/observability"
)

// Envelope is the wire frame for both directions: an event name plus payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Hub tracks viewer connections per webinar broadcast group and fans events
// out to them. With a pub/sub bridge attached, broadcasts travel through Redis
// so every server instance delivers to its own connections; without one the
// hub is local-only.
type Hub struct {
	mu     sync.RWMutex
	groups map[uuid.UUID]map[string]*Client
	subs   map[uuid.UUID]func()

	pubsub *RedisPubSub
	logger *zap.Logger

	onViewerCount func(webinarID uuid.UUID, count int)
}

// NewHub creates a hub. pubsub may be nil for single-instance deployments.
func NewHub(pubsub *RedisPubSub, logger *zap.Logger) *Hub {
	return &Hub{
		groups: make(map[uuid.UUID]map[string]*Client),
		subs:   make(map[uuid.UUID]func()),
		pubsub: pubsub,
		logger: logger,
	}
}

// SetViewerCountHandler sets the callback invoked whenever a group's viewer
// count changes.
func (h *Hub) SetViewerCountHandler(fn func(webinarID uuid.UUID, count int)) {
	h.onViewerCount = fn
}

// Join adds a client to a webinar's broadcast group. The first member of a
// group opens the cross-instance subscription.
func (h *Hub) Join(webinarID uuid.UUID, c *Client) {
	h.mu.Lock()
	group, ok := h.groups[webinarID]
	if !ok {
		group = make(map[string]*Client)
		h.groups[webinarID] = group
	}
	group[c.ID] = c
	count := len(group)
	needSub := !ok && h.pubsub != nil
	h.mu.Unlock()

	if needSub {
		cancel, err := h.pubsub.SubscribeWebinar(webinarID, func(event string, payload []byte, exclude string) {
			h.deliverRaw(webinarID, event, payload, exclude)
		})
		if err != nil {
			h.logger.Warn("pubsub subscribe failed", zap.Error(err), zap.String("webinar_id", webinarID.String()))
		} else {
			h.mu.Lock()
			h.subs[webinarID] = cancel
			h.mu.Unlock()
		}
	}

	observability.IncWSActive()
	h.notifyViewerCount(webinarID, count)
}

// Leave removes a client from its broadcast group. The last member closes the
// subscription.
func (h *Hub) Leave(webinarID uuid.UUID, c *Client) {
	h.mu.Lock()
	group, ok := h.groups[webinarID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, member := group[c.ID]; !member {
		h.mu.Unlock()
		return
	}
	delete(group, c.ID)
	count := len(group)
	var cancel func()
	if count == 0 {
		delete(h.groups, webinarID)
		cancel = h.subs[webinarID]
		delete(h.subs, webinarID)
	}
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	observability.DecWSActive()
	h.notifyViewerCount(webinarID, count)
}

// ViewerCount returns the number of connections in a webinar's group on this
// instance.
func (h *Hub) ViewerCount(webinarID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[webinarID])
}

// BroadcastToWebinar sends an event to every member of a webinar's group,
// across instances when the pub/sub bridge is attached.
func (h *Hub) BroadcastToWebinar(webinarID uuid.UUID, event string, payload interface{}) {
	h.broadcast(webinarID, event, payload, "")
}

// BroadcastToOthers sends an event to every group member except the sender.
func (h *Hub) BroadcastToOthers(webinarID uuid.UUID, senderID, event string, payload interface{}) {
	h.broadcast(webinarID, event, payload, senderID)
}

func (h *Hub) broadcast(webinarID uuid.UUID, event string, payload interface{}, exclude string) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("broadcast payload marshal failed", zap.Error(err), zap.String("event", event))
		return
	}
	if h.pubsub != nil {
		if err := h.pubsub.PublishWebinarEvent(webinarID, event, data, exclude); err == nil {
			return // delivery happens via the subscription
		}
		h.logger.Warn("pubsub publish failed, delivering locally", zap.String("event", event))
	}
	h.deliverRaw(webinarID, event, data, exclude)
}

// LocalBroadcast sends an event to this instance's group members only. The
// sync tick uses it: every instance runs its own ticker, so routing sync
// frames through Redis would deliver them once per instance.
func (h *Hub) LocalBroadcast(webinarID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("broadcast payload marshal failed", zap.Error(err), zap.String("event", event))
		return
	}
	h.deliverRaw(webinarID, event, data, "")
}

func (h *Hub) deliverRaw(webinarID uuid.UUID, event string, data []byte, exclude string) {
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.groups[webinarID]))
	for id, c := range h.groups[webinarID] {
		if id == exclude {
			continue
		}
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(frame)
	}
	if len(clients) > 0 {
		observability.IncWSEvent(event)
	}
}

func (h *Hub) notifyViewerCount(webinarID uuid.UUID, count int) {
	if h.onViewerCount != nil {
		h.onViewerCount(webinarID, count)
	}
}
