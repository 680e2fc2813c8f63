package audit

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evergreen-live/backend/pkg/response"
)

// Handler exposes the admin audit log listing.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates the audit handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// RegisterRoutes mounts the audit endpoints on an admin-protected group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/logs", h.List)
}

// List returns recent audit rows, optionally filtered by webinar_id.
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	if raw := c.Query("webinar_id"); raw != "" {
		webinarID, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid webinar_id")
			return
		}
		logs, err := h.repo.ListByWebinar(c.Request.Context(), webinarID, limit)
		if err != nil {
			h.logger.Error("audit list failed", zap.Error(err))
			response.Internal(c, "failed to list logs")
			return
		}
		response.OK(c, logs)
		return
	}

	logs, err := h.repo.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("audit list failed", zap.Error(err))
		response.Internal(c, "failed to list logs")
		return
	}
	response.OK(c, logs)
}
