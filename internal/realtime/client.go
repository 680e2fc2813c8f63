package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/evergreen-live/backend/internal/auth"
	"github.com/evergreen-live/backend/internal/models"
	"github.com/evergreen-live/backend/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// ViewerRole classifies a connection once at upgrade time.
type ViewerRole string

const (
	RoleOperator ViewerRole = "operator"
	RoleAttendee ViewerRole = "attendee"
	RoleGuest    ViewerRole = "guest"
)

// StateReader reads session state for joins and chat offsets.
type StateReader interface {
	Get(ctx context.Context, webinarID uuid.UUID) (*models.SessionState, error)
}

// ChatStore persists and reads chat for the gateway.
type ChatStore interface {
	Create(ctx context.Context, m *models.ChatMessage) error
	ListRecent(ctx context.Context, webinarID uuid.UUID, limit int) ([]models.ChatMessage, error)
	GetPinned(ctx context.Context, webinarID uuid.UUID) (*models.ChatMessage, error)
}

// RegistrationSource resolves join-link tokens and attendance.
type RegistrationSource interface {
	GetByLink(ctx context.Context, link string) (*models.Registration, error)
	MarkAttended(ctx context.Context, id uuid.UUID, at time.Time) error
}

// TokenValidator verifies operator JWTs.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Client is one websocket connection.
type Client struct {
	ID          string
	role        ViewerRole
	displayName string

	userID         *uuid.UUID
	registrationID *uuid.UUID

	webinarID uuid.UUID
	joined    bool

	conn    *websocket.Conn
	send    chan []byte
	gateway *Gateway
}

// enqueue hands a frame to the write pump. A viewer that cannot drain its
// buffer is dropped rather than stalling the broadcast.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		if c.gateway != nil {
			c.gateway.logger.Warn("viewer send buffer full, dropping connection",
				zap.String("client_id", c.ID))
		}
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

func (c *Client) sendEvent(event string, payload interface{}) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func (c *Client) sendError(message string) {
	c.sendEvent("error", gin.H{"message": message})
}

// Gateway upgrades viewer connections and routes their inbound events.
type Gateway struct {
	hub    *Hub
	states StateReader
	chat   ChatStore
	regs   RegistrationSource
	jwt    TokenValidator
	logger *zap.Logger

	onChat func(webinarID uuid.UUID, text string)

	upgrader websocket.Upgrader
}

// NewGateway creates the live channel gateway.
func NewGateway(hub *Hub, states StateReader, chat ChatStore, regs RegistrationSource, jwt TokenValidator, logger *zap.Logger) *Gateway {
	return &Gateway{
		hub:    hub,
		states: states,
		chat:   chat,
		regs:   regs,
		jwt:    jwt,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetChatReceivedHandler sets the hook invoked for every viewer chat message
// (the keyword-reply trigger).
func (g *Gateway) SetChatReceivedHandler(fn func(webinarID uuid.UUID, text string)) {
	g.onChat = fn
}

// HandleWS upgrades the connection and starts the pumps. Identity comes from
// query parameters and is fixed for the connection's lifetime: an operator
// JWT, a registration join link, or a guest display name, in that order.
func (g *Gateway) HandleWS(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:      uuid.New().String(),
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		gateway: g,
	}
	g.classify(c, client)

	go client.writePump()
	go client.readPump()
}

func (g *Gateway) classify(c *gin.Context, client *Client) {
	if token := c.Query("token"); token != "" && g.jwt != nil {
		if claims, err := g.jwt.Validate(token); err == nil {
			id := claims.UserID
			client.role = RoleOperator
			client.userID = &id
			client.displayName = claims.Email
			return
		}
	}
	if link := c.Query("link"); link != "" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if reg, err := g.regs.GetByLink(ctx, link); err == nil {
			id := reg.ID
			client.role = RoleAttendee
			client.registrationID = &id
			client.displayName = reg.Name
			return
		}
	}
	client.role = RoleGuest
	client.displayName = strings.TrimSpace(c.Query("name"))
	if client.displayName == "" {
		client.displayName = "Guest"
	}
}

func (c *Client) readPump() {
	defer func() {
		if c.joined {
			c.gateway.hub.Leave(c.webinarID, c)
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.sendError("malformed frame")
			continue
		}
		c.gateway.route(c, &env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) route(c *Client, env *Envelope) {
	switch env.Event {
	case "join":
		g.handleJoin(c, env.Data)
	case "chat:send":
		g.handleChatSend(c, env.Data)
	case "reaction:send":
		g.handleReaction(c, env.Data)
	case "qa:submit":
		g.handleQA(c, env.Data)
	case "chat:typing":
		g.relayTyping(c, "chat:userTyping")
	case "chat:stopTyping":
		g.relayTyping(c, "chat:userStoppedTyping")
	default:
		// unknown inbound events are dropped
	}
}

type joinPayload struct {
	WebinarID uuid.UUID `json:"webinar_id"`
}

// handleJoin adds the viewer to the broadcast group and sends the one-time
// state snapshot: clock position, recent chat, pinned message, viewer count.
func (g *Gateway) handleJoin(c *Client, data json.RawMessage) {
	if c.joined {
		return
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.WebinarID == uuid.Nil {
		c.sendError("join requires a webinar_id")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := g.states.Get(ctx, p.WebinarID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.sendError("unknown webinar")
			return
		}
		g.logger.Error("session state read failed", zap.Error(err))
		c.sendError("failed to load session")
		return
	}

	c.webinarID = p.WebinarID
	c.joined = true
	g.hub.Join(p.WebinarID, c)

	messages, err := g.chat.ListRecent(ctx, p.WebinarID, 100)
	if err != nil {
		g.logger.Warn("chat snapshot load failed", zap.Error(err))
	}
	var pinned *models.ChatMessage
	if m, err := g.chat.GetPinned(ctx, p.WebinarID); err == nil {
		pinned = m
	}

	now := time.Now()
	c.sendEvent("state", gin.H{
		"webinar_id":      p.WebinarID,
		"is_live":         st.IsLive,
		"started_at":      st.StartedAt,
		"ended_at":        st.EndedAt,
		"elapsed_seconds": session.Elapsed(st, now),
		"server_time":     now.UTC(),
		"viewer_count":    g.hub.ViewerCount(p.WebinarID),
		"messages":        messages,
		"pinned_message":  pinned,
	})

	if st.IsLive && c.registrationID != nil {
		if err := g.regs.MarkAttended(ctx, *c.registrationID, now); err != nil {
			g.logger.Warn("attendance mark failed", zap.Error(err))
		}
	}
}

type chatSendPayload struct {
	Text string `json:"text"`
}

// handleChatSend persists the message at the current clock offset and fans it
// out to the other group members; the sender already rendered its own copy.
func (g *Gateway) handleChatSend(c *Client, data json.RawMessage) {
	if !c.joined {
		c.sendError("join a webinar first")
		return
	}
	var p chatSendPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError("malformed chat message")
		return
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		c.sendError("empty message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := g.states.Get(ctx, c.webinarID)
	if err != nil {
		g.logger.Error("session state read failed", zap.Error(err))
		c.sendError("failed to send message")
		return
	}

	msg := &models.ChatMessage{
		WebinarID:     c.webinarID,
		UserID:        c.userID,
		SenderName:    c.displayName,
		Content:       text,
		OffsetSeconds: session.Elapsed(st, time.Now()),
	}
	if err := g.chat.Create(ctx, msg); err != nil {
		g.logger.Error("chat persist failed", zap.Error(err))
		c.sendError("failed to send message")
		return
	}

	g.hub.BroadcastToOthers(c.webinarID, c.ID, "chat:message", msg)

	if g.onChat != nil {
		go g.onChat(c.webinarID, text)
	}
}

type reactionPayload struct {
	Emoji string `json:"emoji"`
}

func (g *Gateway) handleReaction(c *Client, data json.RawMessage) {
	if !c.joined {
		return
	}
	var p reactionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Emoji == "" {
		return
	}
	g.hub.BroadcastToOthers(c.webinarID, c.ID, "reaction:received", gin.H{
		"emoji": p.Emoji,
		"name":  c.displayName,
	})
}

type qaPayload struct {
	Question string `json:"question"`
}

func (g *Gateway) handleQA(c *Client, data json.RawMessage) {
	if !c.joined {
		return
	}
	var p qaPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	question := strings.TrimSpace(p.Question)
	if question == "" {
		c.sendError("empty question")
		return
	}
	g.hub.BroadcastToWebinar(c.webinarID, "qa:new", gin.H{
		"question": question,
		"name":     c.displayName,
		"at":       time.Now().UTC(),
	})
}

func (g *Gateway) relayTyping(c *Client, event string) {
	if !c.joined {
		return
	}
	g.hub.BroadcastToOthers(c.webinarID, c.ID, event, gin.H{"name": c.displayName})
}
