package webinars

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evergreen-live/backend/internal/middleware"
	"github.com/evergreen-live/backend/internal/models"
	"github.com/evergreen-live/backend/internal/session"
	"github.com/evergreen-live/backend/pkg/response"
)

// Lifecycle drives start/stop transitions.
type Lifecycle interface {
	Start(ctx context.Context, webinarID, actorID uuid.UUID, auto bool) error
	Stop(ctx context.Context, webinarID, actorID uuid.UUID, reason string, auto bool) error
}

// Auditor writes audit log rows for admin actions.
type Auditor interface {
	Record(ctx context.Context, userID uuid.UUID, webinarID *uuid.UUID, action string, details interface{}) error
}

// Handler exposes the webinar CRUD and lifecycle endpoints.
type Handler struct {
	repo      *Repository
	states    *session.Store
	lifecycle Lifecycle
	audit     Auditor
	logger    *zap.Logger
}

// NewHandler creates the webinar handler.
func NewHandler(repo *Repository, states *session.Store, lifecycle Lifecycle, audit Auditor, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, states: states, lifecycle: lifecycle, audit: audit, logger: logger}
}

// RegisterPublicRoutes mounts the viewer-facing endpoints.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.GET("/webinars", h.List)
	rg.GET("/webinars/:id", h.Get)
	rg.GET("/webinars/slug/:slug", h.GetBySlug)
}

// RegisterAdminRoutes mounts the operator endpoints.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/webinars", h.Create)
	rg.PUT("/webinars/:id", h.Update)
	rg.DELETE("/webinars/:id", h.Delete)
	rg.POST("/webinars/:id/start", h.Start)
	rg.POST("/webinars/:id/stop", h.Stop)
	rg.GET("/webinars/:id/elapsed", h.Elapsed)
}

type webinarRequest struct {
	Title           string    `json:"title" binding:"required"`
	Slug            string    `json:"slug"`
	Description     string    `json:"description"`
	ScheduledAt     time.Time `json:"scheduled_at" binding:"required"`
	Timezone        string    `json:"timezone"`
	DurationMinutes int       `json:"duration_minutes"`
	VideoURL        string    `json:"video_url"`
	ThumbnailURL    string    `json:"thumbnail_url"`
	AccentColor     string    `json:"accent_color"`
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugStrip.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// List returns all webinars.
func (h *Handler) List(c *gin.Context) {
	webinars, err := h.repo.List(c.Request.Context())
	if err != nil {
		h.logger.Error("webinar list failed", zap.Error(err))
		response.Internal(c, "failed to list webinars")
		return
	}
	response.OK(c, webinars)
}

// Get returns one webinar by id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	w, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondFetchError(c, err)
		return
	}
	response.OK(c, w)
}

// GetBySlug returns one webinar by public slug.
func (h *Handler) GetBySlug(c *gin.Context) {
	w, err := h.repo.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.respondFetchError(c, err)
		return
	}
	response.OK(c, w)
}

// Create schedules a new webinar and seeds its session state row.
func (h *Handler) Create(c *gin.Context) {
	var req webinarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.DurationMinutes < 0 {
		response.BadRequest(c, "duration must not be negative")
		return
	}

	slug := req.Slug
	if slug == "" {
		slug = slugify(req.Title)
	}
	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	actorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	w := &models.Webinar{
		Title:           req.Title,
		Slug:            slug,
		Description:     req.Description,
		ScheduledAt:     req.ScheduledAt,
		Timezone:        timezone,
		DurationMinutes: req.DurationMinutes,
		VideoURL:        req.VideoURL,
		ThumbnailURL:    req.ThumbnailURL,
		AccentColor:     req.AccentColor,
		Status:          models.StatusScheduled,
		HostID:          actorID,
	}
	if err := h.repo.Create(c.Request.Context(), w); err != nil {
		if errors.Is(err, ErrSlugTaken) {
			response.Conflict(c, "slug already in use")
			return
		}
		h.logger.Error("webinar create failed", zap.Error(err))
		response.Internal(c, "failed to create webinar")
		return
	}

	if err := h.states.EnsureState(c.Request.Context(), w.ID); err != nil {
		h.logger.Warn("session state seed failed", zap.Error(err), zap.String("webinar_id", w.ID.String()))
	}
	h.recordAudit(c, actorID, w.ID, models.ActionWebinarCreated, map[string]interface{}{"title": w.Title})
	response.Created(c, w)
}

// Update edits a webinar's metadata. Status is never edited here; lifecycle
// transitions go through start/stop.
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	var req webinarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	w, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondFetchError(c, err)
		return
	}

	w.Title = req.Title
	if req.Slug != "" {
		w.Slug = req.Slug
	}
	w.Description = req.Description
	w.ScheduledAt = req.ScheduledAt
	if req.Timezone != "" {
		w.Timezone = req.Timezone
	}
	w.DurationMinutes = req.DurationMinutes
	w.VideoURL = req.VideoURL
	w.ThumbnailURL = req.ThumbnailURL
	w.AccentColor = req.AccentColor

	if err := h.repo.Update(c.Request.Context(), w); err != nil {
		if errors.Is(err, ErrSlugTaken) {
			response.Conflict(c, "slug already in use")
			return
		}
		h.logger.Error("webinar update failed", zap.Error(err))
		response.Internal(c, "failed to update webinar")
		return
	}

	actorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	h.recordAudit(c, actorID, w.ID, models.ActionWebinarUpdated, map[string]interface{}{"title": w.Title})
	response.OK(c, w)
}

// Delete removes a webinar.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		h.respondFetchError(c, err)
		return
	}
	h.states.ClearCache(c.Request.Context(), id)

	actorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	h.recordAudit(c, actorID, id, models.ActionWebinarDeleted, nil)
	response.NoContent(c)
}

// Start flips the webinar live.
func (h *Handler) Start(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	actorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	if err := h.lifecycle.Start(c.Request.Context(), id, actorID, false); err != nil {
		if errors.Is(err, session.ErrInvalidState) {
			response.Conflict(c, "webinar cannot be started from its current state")
			return
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, session.ErrNotFound) {
			response.NotFound(c, "webinar not found")
			return
		}
		h.logger.Error("webinar start failed", zap.Error(err))
		response.Internal(c, "failed to start webinar")
		return
	}
	response.OK(c, gin.H{"status": models.StatusLive})
}

// Stop ends the webinar.
func (h *Handler) Stop(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	actorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	if err := h.lifecycle.Stop(c.Request.Context(), id, actorID, session.ReasonManuallyEnded, false); err != nil {
		if errors.Is(err, session.ErrInvalidState) {
			response.Conflict(c, "webinar is not live")
			return
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, session.ErrNotFound) {
			response.NotFound(c, "webinar not found")
			return
		}
		h.logger.Error("webinar stop failed", zap.Error(err))
		response.Internal(c, "failed to stop webinar")
		return
	}
	response.OK(c, gin.H{"status": models.StatusEnded})
}

// Elapsed returns the server-side clock position for a webinar.
func (h *Handler) Elapsed(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	st, err := h.states.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			response.NotFound(c, "no session state for webinar")
			return
		}
		h.logger.Error("session state read failed", zap.Error(err))
		response.Internal(c, "failed to read session state")
		return
	}
	response.OK(c, gin.H{
		"is_live":         st.IsLive,
		"started_at":      st.StartedAt,
		"elapsed_seconds": session.Elapsed(st, time.Now()),
		"server_time":     time.Now().UTC(),
	})
}

func (h *Handler) respondFetchError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "webinar not found")
		return
	}
	h.logger.Error("webinar fetch failed", zap.Error(err))
	response.Internal(c, "failed to load webinar")
}

func (h *Handler) recordAudit(c *gin.Context, actorID, webinarID uuid.UUID, action string, details interface{}) {
	if err := h.audit.Record(c.Request.Context(), actorID, &webinarID, action, details); err != nil {
		h.logger.Warn("audit log write failed", zap.Error(err))
	}
}
