package automation

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evergreen-live/backend/internal/middleware"
	"github.com/evergreen-live/backend/internal/models"
	"github.com/evergreen-live/backend/pkg/response"
)

// Auditor writes audit log rows for admin actions.
type Auditor interface {
	Record(ctx context.Context, userID uuid.UUID, webinarID *uuid.UUID, action string, details interface{}) error
}

// Handler exposes the admin automation endpoints.
type Handler struct {
	repo      *Repository
	scheduler *Scheduler
	hub       Broadcaster
	audit     Auditor
	logger    *zap.Logger
}

// NewHandler creates the automation handler.
func NewHandler(repo *Repository, scheduler *Scheduler, hub Broadcaster, audit Auditor, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, scheduler: scheduler, hub: hub, audit: audit, logger: logger}
}

// RegisterRoutes mounts the automation endpoints on an admin-protected group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/webinars/:id/automations", h.List)
	rg.POST("/webinars/:id/automations", h.Create)
	rg.POST("/webinars/:id/automations/csv", h.ImportCSV)
	rg.POST("/webinars/:id/cta", h.ManualCTA)
	rg.PUT("/automations/:id", h.Update)
	rg.DELETE("/automations/:id", h.Delete)
}

type eventRequest struct {
	Kind                 models.AutomationKind `json:"kind" binding:"required"`
	TriggerOffsetSeconds int                   `json:"trigger_offset_seconds"`
	Payload              json.RawMessage       `json:"payload" binding:"required"`
	Enabled              *bool                 `json:"enabled"`
}

func validKind(k models.AutomationKind) bool {
	switch k {
	case models.KindTimedMessage, models.KindCTAPopup, models.KindOfferBanner, models.KindKeywordReply:
		return true
	}
	return false
}

// List returns a webinar's full timeline.
func (h *Handler) List(c *gin.Context) {
	webinarID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	events, err := h.repo.ListByWebinar(c.Request.Context(), webinarID)
	if err != nil {
		h.logger.Error("automation list failed", zap.Error(err))
		response.Internal(c, "failed to list automations")
		return
	}
	response.OK(c, events)
}

// Create adds one event to a webinar's timeline.
func (h *Handler) Create(c *gin.Context) {
	webinarID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !validKind(req.Kind) {
		response.BadRequest(c, "unknown automation kind")
		return
	}
	if req.TriggerOffsetSeconds < 0 {
		response.BadRequest(c, "trigger offset must not be negative")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	e := &models.AutomationEvent{
		WebinarID:            webinarID,
		Kind:                 req.Kind,
		TriggerOffsetSeconds: req.TriggerOffsetSeconds,
		Payload:              req.Payload,
		Enabled:              enabled,
	}
	if err := h.repo.Create(c.Request.Context(), e); err != nil {
		h.logger.Error("automation create failed", zap.Error(err))
		response.Internal(c, "failed to create automation")
		return
	}
	response.Created(c, e)
}

// Update modifies an existing event. Events added or moved while the webinar
// is live take effect on the next timeline attach, not retroactively.
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid automation id")
		return
	}
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !validKind(req.Kind) {
		response.BadRequest(c, "unknown automation kind")
		return
	}

	e, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "automation not found")
			return
		}
		h.logger.Error("automation fetch failed", zap.Error(err))
		response.Internal(c, "failed to load automation")
		return
	}

	e.Kind = req.Kind
	e.TriggerOffsetSeconds = req.TriggerOffsetSeconds
	e.Payload = req.Payload
	if req.Enabled != nil {
		e.Enabled = *req.Enabled
	}
	if err := h.repo.Update(c.Request.Context(), e); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "automation not found")
			return
		}
		h.logger.Error("automation update failed", zap.Error(err))
		response.Internal(c, "failed to update automation")
		return
	}
	response.OK(c, e)
}

// Delete removes an event from the timeline.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid automation id")
		return
	}
	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "automation not found")
			return
		}
		h.logger.Error("automation delete failed", zap.Error(err))
		response.Internal(c, "failed to delete automation")
		return
	}
	response.NoContent(c)
}

// ImportCSV replaces a webinar's entire timeline with the uploaded file.
// Replace, not merge: existing events for the webinar are dropped first.
func (h *Handler) ImportCSV(c *gin.Context) {
	webinarID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		response.BadRequest(c, "missing csv file upload")
		return
	}
	defer file.Close()

	events, err := ParseCSV(file)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if len(events) == 0 {
		response.BadRequest(c, "csv contains no events")
		return
	}

	if err := h.repo.ReplaceForWebinar(c.Request.Context(), webinarID, events); err != nil {
		h.logger.Error("automation import failed", zap.Error(err))
		response.Internal(c, "failed to import automations")
		return
	}

	actorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.audit.Record(c.Request.Context(), actorID, &webinarID, models.ActionAutomationsImported, map[string]interface{}{
		"count": len(events),
	}); err != nil {
		h.logger.Warn("audit log write failed", zap.Error(err))
	}

	response.OK(c, gin.H{"imported": len(events)})
}

type manualCTARequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	ButtonText      string `json:"button_text"`
	URL             string `json:"url"`
	DurationSeconds int    `json:"duration_seconds"`
}

// ManualCTA broadcasts a one-off CTA popup to the webinar's viewers without
// touching the timeline.
func (h *Handler) ManualCTA(c *gin.Context) {
	webinarID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	var req manualCTARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	body, _ := json.Marshal(req)
	h.hub.BroadcastToWebinar(webinarID, "automation:cta", DecodeCTA(body))
	response.OK(c, gin.H{"sent": true})
}
