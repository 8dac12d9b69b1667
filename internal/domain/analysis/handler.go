package analysis

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medreport/medreport/internal/platform/apperr"
	"github.com/medreport/medreport/internal/platform/auth"
	"github.com/medreport/medreport/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/reports", h.ListReports)
	api.GET("/reports/:id", h.GetReport)
	api.POST("/reports/summary", h.MetaSummary)
	api.GET("/profile", h.GetProfile)
	api.PUT("/profile", h.UpdateProfile)
}

func (h *Handler) ListReports(c echo.Context) error {
	p, err := auth.RequirePatient(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListReports(c.Request().Context(), p.Subject, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Report{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg, c.Path()))
}

func (h *Handler) GetReport(c echo.Context) error {
	p, err := auth.RequireAuthenticated(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(apperr.InvalidInput("invalid report id"))
	}
	view, err := h.svc.GetReport(c.Request().Context(), p, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) MetaSummary(c echo.Context) error {
	p, err := auth.RequirePatient(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	sum, err := h.svc.MetaSummary(c.Request().Context(), p.Subject)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) GetProfile(c echo.Context) error {
	p, err := auth.RequirePatient(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	prof, err := h.svc.GetProfile(c.Request().Context(), p.Subject)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, prof)
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	p, err := auth.RequirePatient(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var u ProfileUpdate
	if err := c.Bind(&u); err != nil {
		return apperr.ToHTTP(apperr.InvalidInput("invalid request body: %v", err))
	}
	prof, err := h.svc.UpdateProfile(c.Request().Context(), p, u)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, prof)
}
