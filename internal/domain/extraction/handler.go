package extraction

import (
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medreport/medreport/internal/domain/progress"
	"github.com/medreport/medreport/internal/platform/apperr"
	"github.com/medreport/medreport/internal/platform/auth"
	"github.com/medreport/medreport/internal/platform/middleware"
)

// multipartOverhead is allowed on top of the file limit for form framing.
const multipartOverhead = 1 << 20

type Handler struct {
	pipeline *Pipeline
	reg      *progress.Registry
	maxBytes int64
}

func NewHandler(pipeline *Pipeline, reg *progress.Registry, maxBytes int64) *Handler {
	return &Handler{pipeline: pipeline, reg: reg, maxBytes: maxBytes}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/uploads", h.Upload, middleware.BodyLimit(h.maxBytes+multipartOverhead))
}

type uploadResponse struct {
	SessionID string `json:"session_id"`
	Topic     string `json:"topic"`
}

// Upload accepts a multipart "file" and answers 202 as soon as the session
// is registered; extraction continues in the background.
func (h *Handler) Upload(c echo.Context) error {
	p, err := auth.RequirePatient(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return apperr.ToHTTP(apperr.InvalidInput("file is required"))
	}

	autoAnalyze := true
	if v := c.FormValue("auto_analyze"); v != "" {
		if autoAnalyze, err = strconv.ParseBool(v); err != nil {
			return apperr.ToHTTP(apperr.InvalidInput("auto_analyze must be a boolean"))
		}
	}

	f, err := fh.Open()
	if err != nil {
		return apperr.ToHTTP(apperr.InvalidInput("read file: %v", err))
	}
	defer f.Close()

	// One byte past the limit is enough for validation to reject it.
	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	if err != nil {
		return apperr.ToHTTP(apperr.InvalidInput("read file: %v", err))
	}

	sessionID := c.FormValue("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if !h.reg.CreateOwnedSession(sessionID, fh.Filename, p.Subject) {
		return apperr.ToHTTP(apperr.InvalidInput("session %q already exists", sessionID))
	}
	h.pipeline.Start(c.Request().Context(), Upload{
		SessionID:   sessionID,
		PatientID:   p.Subject,
		FileName:    fh.Filename,
		Data:        data,
		AutoAnalyze: autoAnalyze,
	})

	return c.JSON(http.StatusAccepted, uploadResponse{
		SessionID: sessionID,
		Topic:     progress.Topic(sessionID),
	})
}
