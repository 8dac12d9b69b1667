package progress

import (
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medreport/medreport/internal/platform/apperr"
	"github.com/medreport/medreport/internal/platform/auth"
)

type Handler struct {
	reg *Registry
	now func() time.Time
}

func NewHandler(reg *Registry) *Handler {
	return &Handler{reg: reg, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/uploads/:session_id/progress", h.GetProgress)
	api.DELETE("/uploads/:session_id", h.Acknowledge)
	api.GET("/uploads", h.ListSessions, auth.RoleMiddleware(auth.RoleAdmin))
}

func (h *Handler) GetProgress(c echo.Context) error {
	p, err := auth.RequireAuthenticated(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	id := c.Param("session_id")
	s, ok := h.reg.GetSession(id)
	// Sessions of other users are indistinguishable from missing ones.
	if !ok || !s.VisibleTo(p.Subject, p.Role == auth.RoleAdmin) {
		return apperr.ToHTTP(apperr.NotFound("upload session %q not found", id))
	}
	return c.JSON(http.StatusOK, s.ToResponse(h.now()))
}

// Acknowledge is called by the client once it has seen the terminal state.
// Acknowledging an unknown session is a no-op.
func (h *Handler) Acknowledge(c echo.Context) error {
	p, err := auth.RequireAuthenticated(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	id := c.Param("session_id")
	if s, ok := h.reg.GetSession(id); ok {
		if !s.VisibleTo(p.Subject, p.Role == auth.RoleAdmin) {
			return apperr.ToHTTP(apperr.NotFound("upload session %q not found", id))
		}
		h.reg.CleanupSession(id)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListSessions(c echo.Context) error {
	sessions := h.reg.GetAllSessions()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})

	now := h.now()
	out := make([]SessionResponse, len(sessions))
	for i, s := range sessions {
		out[i] = s.ToResponse(now)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": out,
		"total":    len(out),
	})
}
