package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medreport/medreport/internal/platform/auth"
)

var patient = auth.Principal{Subject: "pat-1", Email: "p@example.com", Role: auth.RolePatient}

func newRequestContext(e *echo.Echo, method, target, body string, p *auth.Principal) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_ListReports(t *testing.T) {
	f := newFixture()
	for i := 0; i < 3; i++ {
		_, err := f.svc.SaveAndAnalyze(context.Background(), SaveRequest{PatientID: "pat-1", Attributes: sampleAttributes()})
		require.NoError(t, err)
	}
	_, err := f.svc.SaveAndAnalyze(context.Background(), SaveRequest{PatientID: "pat-2", Attributes: sampleAttributes()})
	require.NoError(t, err)

	h := NewHandler(f.svc)
	e := echo.New()
	c, rec := newRequestContext(e, http.MethodGet, "/api/v1/reports?limit=2", "", &patient)

	require.NoError(t, h.ListReports(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data    []Report `json:"data"`
		Total   int      `json:"total"`
		HasMore bool     `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	assert.Len(t, body.Data, 2)
	assert.True(t, body.HasMore)
	for _, r := range body.Data {
		assert.Equal(t, "pat-1", r.PatientID)
	}
}

func TestHandler_ListReports_InstitutionDenied(t *testing.T) {
	h := NewHandler(newFixture().svc)
	e := echo.New()
	inst := auth.Principal{Subject: "hosp-1", Role: auth.RoleInstitution}
	c, _ := newRequestContext(e, http.MethodGet, "/api/v1/reports", "", &inst)

	err := h.ListReports(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, httpErr.Code)
}

func TestHandler_GetReport_BadID(t *testing.T) {
	h := NewHandler(newFixture().svc)
	e := echo.New()
	c, _ := newRequestContext(e, http.MethodGet, "/api/v1/reports/nope", "", &patient)
	c.SetParamNames("id")
	c.SetParamValues("nope")

	err := h.GetReport(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestHandler_MetaSummary_NothingToSummarize(t *testing.T) {
	h := NewHandler(newFixture().svc)
	e := echo.New()
	c, _ := newRequestContext(e, http.MethodPost, "/api/v1/reports/summary", "", &patient)

	err := h.MetaSummary(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestHandler_UpdateProfile(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	c, rec := newRequestContext(e, http.MethodPut, "/api/v1/profile",
		`{"name":"Ada","preferences":"no jargon","biodata":{"age":"36"}}`, &patient)

	require.NoError(t, h.UpdateProfile(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	stored := f.profiles.items["pat-1"]
	require.NotNil(t, stored)
	assert.Equal(t, "Ada", stored.Name)
	assert.Equal(t, "no jargon", stored.Preferences)
	assert.Equal(t, "36", stored.Biodata["age"])
}

func TestHandler_GetProfile_NotFound(t *testing.T) {
	h := NewHandler(newFixture().svc)
	e := echo.New()
	c, _ := newRequestContext(e, http.MethodGet, "/api/v1/profile", "", &patient)

	err := h.GetProfile(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}
