package accessgrant

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medreport/medreport/internal/platform/apperr"
	"github.com/medreport/medreport/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/access-requests", h.RequestAccess)
	api.GET("/access-requests", h.ListRequests)
	api.POST("/access-requests/respond", h.Respond)
	api.GET("/access-requests/sent", h.ListSent)
	api.GET("/access-grants/active", h.ListActive)
	api.PUT("/institution", h.UpsertInstitution)
}

type requestAccessBody struct {
	PatientEmail string `json:"patient_email"`
}

type respondBody struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
}

type institutionBody struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (h *Handler) RequestAccess(c echo.Context) error {
	p, err := auth.RequireInstitution(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var body requestAccessBody
	if err := c.Bind(&body); err != nil {
		return apperr.ToHTTP(apperr.InvalidInput("invalid request body: %v", err))
	}
	g, err := h.svc.RequestAccess(c.Request().Context(), p, body.PatientEmail)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, g)
}

func (h *Handler) ListRequests(c echo.Context) error {
	p, err := auth.RequirePatient(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	items, err := h.svc.ListRequestsForPatient(c.Request().Context(), p)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"requests": items})
}

func (h *Handler) Respond(c echo.Context) error {
	p, err := auth.RequirePatient(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var body respondBody
	if err := c.Bind(&body); err != nil {
		return apperr.ToHTTP(apperr.InvalidInput("invalid request body: %v", err))
	}
	id, err := uuid.Parse(body.RequestID)
	if err != nil {
		return apperr.ToHTTP(apperr.InvalidInput("invalid request_id"))
	}
	action, err := ParseAction(body.Action)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	g, err := h.svc.Respond(c.Request().Context(), p, id, action)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) ListSent(c echo.Context) error {
	p, err := auth.RequireInstitution(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	items, err := h.svc.ListForInstitution(c.Request().Context(), p)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Grant{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"requests": items})
}

func (h *Handler) ListActive(c echo.Context) error {
	p, err := auth.RequirePatient(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	items, err := h.svc.ListActiveForPatient(c.Request().Context(), p)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"grants": items})
}

func (h *Handler) UpsertInstitution(c echo.Context) error {
	p, err := auth.RequireInstitution(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var body institutionBody
	if err := c.Bind(&body); err != nil {
		return apperr.ToHTTP(apperr.InvalidInput("invalid request body: %v", err))
	}
	inst, err := h.svc.UpsertInstitution(c.Request().Context(), p, body.Name, body.Email)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inst)
}
