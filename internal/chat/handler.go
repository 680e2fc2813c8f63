package chat

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evergreen-live/backend/internal/middleware"
	"github.com/evergreen-live/backend/internal/models"
	"github.com/evergreen-live/backend/pkg/response"
)

// Broadcaster pushes a moderation event to the webinar's viewers.
type Broadcaster interface {
	BroadcastToWebinar(webinarID uuid.UUID, event string, payload interface{})
}

// Auditor writes audit log rows for moderation actions.
type Auditor interface {
	Record(ctx context.Context, userID uuid.UUID, webinarID *uuid.UUID, action string, details interface{}) error
}

// Store is the chat persistence the moderation handler needs.
type Store interface {
	ListAll(ctx context.Context, webinarID uuid.UUID) ([]models.ChatMessage, error)
	Pin(ctx context.Context, webinarID, messageID uuid.UUID) (*models.ChatMessage, error)
	Unpin(ctx context.Context, webinarID uuid.UUID) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// Handler exposes the admin chat moderation endpoints.
type Handler struct {
	repo   Store
	hub    Broadcaster
	audit  Auditor
	logger *zap.Logger
}

// NewHandler creates the chat moderation handler.
func NewHandler(repo Store, hub Broadcaster, audit Auditor, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, hub: hub, audit: audit, logger: logger}
}

// RegisterRoutes mounts the moderation endpoints on an admin-protected group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/webinars/:id/chat", h.List)
	rg.POST("/webinars/:id/chat/:messageId/pin", h.Pin)
	rg.POST("/webinars/:id/chat/unpin", h.Unpin)
	rg.DELETE("/webinars/:id/chat/:messageId", h.Delete)
}

// List returns the full moderation view, deleted messages included.
func (h *Handler) List(c *gin.Context) {
	webinarID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	messages, err := h.repo.ListAll(c.Request.Context(), webinarID)
	if err != nil {
		h.logger.Error("chat list failed", zap.Error(err))
		response.Internal(c, "failed to list chat messages")
		return
	}
	response.OK(c, messages)
}

// Pin pins a message and announces it to the room.
func (h *Handler) Pin(c *gin.Context) {
	webinarID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}

	msg, err := h.repo.Pin(c.Request.Context(), webinarID, messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "message not found")
			return
		}
		h.logger.Error("chat pin failed", zap.Error(err))
		response.Internal(c, "failed to pin message")
		return
	}

	h.hub.BroadcastToWebinar(webinarID, "chat:pinned", msg)
	h.recordAudit(c, webinarID, models.ActionChatMessagePinned, messageID)
	response.OK(c, msg)
}

// Unpin clears the pinned message and announces it.
func (h *Handler) Unpin(c *gin.Context) {
	webinarID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	if err := h.repo.Unpin(c.Request.Context(), webinarID); err != nil {
		h.logger.Error("chat unpin failed", zap.Error(err))
		response.Internal(c, "failed to unpin message")
		return
	}

	h.hub.BroadcastToWebinar(webinarID, "chat:unpinned", gin.H{"webinar_id": webinarID})
	h.recordAudit(c, webinarID, models.ActionChatMessageUnpinned, uuid.Nil)
	response.OK(c, gin.H{"unpinned": true})
}

// Delete soft-deletes a message and tells viewers to drop it.
func (h *Handler) Delete(c *gin.Context) {
	webinarID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}

	if err := h.repo.SoftDelete(c.Request.Context(), messageID); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "message not found")
			return
		}
		h.logger.Error("chat delete failed", zap.Error(err))
		response.Internal(c, "failed to delete message")
		return
	}

	h.hub.BroadcastToWebinar(webinarID, "chat:deleted", gin.H{"message_id": messageID})
	h.recordAudit(c, webinarID, models.ActionChatMessageDeleted, messageID)
	response.NoContent(c)
}

func (h *Handler) recordAudit(c *gin.Context, webinarID uuid.UUID, action string, messageID uuid.UUID) {
	actorID, ok := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if !ok {
		return
	}
	details := map[string]interface{}{}
	if messageID != uuid.Nil {
		details["message_id"] = messageID
	}
	if err := h.audit.Record(c.Request.Context(), actorID, &webinarID, action, details); err != nil {
		h.logger.Warn("audit log write failed", zap.Error(err))
	}
}
