package registrations

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evergreen-live/backend/internal/models"
	"github.com/evergreen-live/backend/internal/webinars"
	"github.com/evergreen-live/backend/pkg/response"
)

// Handler exposes public registration endpoints and the admin listing.
type Handler struct {
	repo     *Repository
	webinars *webinars.Repository
	logger   *zap.Logger
}

// NewHandler creates the registration handler.
func NewHandler(repo *Repository, webinarRepo *webinars.Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, webinars: webinarRepo, logger: logger}
}

// RegisterPublicRoutes mounts the attendee-facing endpoints.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.POST("/webinars/:id/register", h.Register)
	rg.GET("/registrations/:token/validate", h.Validate)
}

// RegisterAdminRoutes mounts the operator endpoints.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/webinars/:id/registrations", h.List)
}

type registerRequest struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email" binding:"required,email"`
	Phone   string `json:"phone"`
	Consent *bool  `json:"consent"`
}

// Register signs an attendee up for a webinar and returns the join link token.
// Registering for an ended webinar is rejected.
func (h *Handler) Register(c *gin.Context) {
	webinarID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	w, err := h.webinars.GetByID(c.Request.Context(), webinarID)
	if err != nil {
		if errors.Is(err, webinars.ErrNotFound) {
			response.NotFound(c, "webinar not found")
			return
		}
		h.logger.Error("webinar fetch failed", zap.Error(err))
		response.Internal(c, "failed to load webinar")
		return
	}
	if w.Status == models.StatusEnded {
		response.Conflict(c, "webinar has already ended")
		return
	}

	consent := true
	if req.Consent != nil {
		consent = *req.Consent
	}
	reg := &models.Registration{
		WebinarID: webinarID,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Consent:   consent,
	}
	if err := h.repo.Create(c.Request.Context(), reg); err != nil {
		if errors.Is(err, ErrAlreadyRegistered) {
			response.Conflict(c, "email already registered for this webinar")
			return
		}
		h.logger.Error("registration create failed", zap.Error(err))
		response.Internal(c, "failed to register")
		return
	}
	response.Created(c, reg)
}

// Validate resolves a join-link token to its registration and webinar.
func (h *Handler) Validate(c *gin.Context) {
	reg, err := h.repo.GetByLink(c.Request.Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "invalid join link")
			return
		}
		h.logger.Error("registration lookup failed", zap.Error(err))
		response.Internal(c, "failed to validate link")
		return
	}

	w, err := h.webinars.GetByID(c.Request.Context(), reg.WebinarID)
	if err != nil {
		h.logger.Error("webinar fetch failed", zap.Error(err))
		response.Internal(c, "failed to load webinar")
		return
	}
	response.OK(c, gin.H{"registration": reg, "webinar": w})
}

// List returns all registrations for a webinar.
func (h *Handler) List(c *gin.Context) {
	webinarID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	regs, err := h.repo.ListByWebinar(c.Request.Context(), webinarID)
	if err != nil {
		h.logger.Error("registration list failed", zap.Error(err))
		response.Internal(c, "failed to list registrations")
		return
	}
	response.OK(c, regs)
}
