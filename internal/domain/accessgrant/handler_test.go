package accessgrant

import (
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

func newRequestContext(method, target, body string, p *auth.Principal) (echo.Context, *httptest.ResponseRecorder) {
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
	return echo.New().NewContext(req, rec), rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected *echo.HTTPError, got %v", err)
	return httpErr.Code
}

func TestHandler_RequestAccess(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)

	c, rec := newRequestContext(http.MethodPost, "/api/v1/access-requests", `{"patient_email":"Jane@Example.com"}`, &hospital1)
	require.NoError(t, h.RequestAccess(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var g Grant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
	assert.Equal(t, StatusPending, g.Status)
	assert.Equal(t, "jane@example.com", g.PatientEmail)
}

func TestHandler_RequestAccess_Denied(t *testing.T) {
	svc, store := newTestService()
	h := NewHandler(svc)

	c, _ := newRequestContext(http.MethodPost, "/api/v1/access-requests", `{"patient_email":"jane@example.com"}`, &patient)
	assert.Equal(t, http.StatusForbidden, httpCode(t, h.RequestAccess(c)))

	c, _ = newRequestContext(http.MethodPost, "/api/v1/access-requests", `{"patient_email":"jane@example.com"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, httpCode(t, h.RequestAccess(c)))

	c, _ = newRequestContext(http.MethodPost, "/api/v1/access-requests", `{"patient_email":""}`, &hospital1)
	assert.Equal(t, http.StatusBadRequest, httpCode(t, h.RequestAccess(c)))

	assert.Empty(t, store.grants)
}

func TestHandler_ListRequests(t *testing.T) {
	svc, _ := newTestService()
	requestFrom(t, svc, hospital1)
	h := NewHandler(svc)

	c, rec := newRequestContext(http.MethodGet, "/api/v1/access-requests", "", &patient)
	require.NoError(t, h.ListRequests(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Requests []struct {
			ID          string           `json:"id"`
			Status      Status           `json:"status"`
			Institution *InstitutionInfo `json:"institution"`
		} `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Requests, 1)
	assert.Equal(t, StatusPending, body.Requests[0].Status)
	require.NotNil(t, body.Requests[0].Institution)
	assert.Equal(t, "General Hospital", body.Requests[0].Institution.Name)
}

func TestHandler_Respond(t *testing.T) {
	svc, store := newTestService()
	g := requestFrom(t, svc, hospital1)
	h := NewHandler(svc)

	body := `{"request_id":"` + g.ID.String() + `","action":"approve"}`
	c, rec := newRequestContext(http.MethodPost, "/api/v1/access-requests/respond", body, &patient)
	require.NoError(t, h.Respond(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusApproved, store.grant(g.ID).Status)

	// Approving again is an illegal transition.
	c, _ = newRequestContext(http.MethodPost, "/api/v1/access-requests/respond", body, &patient)
	assert.Equal(t, http.StatusConflict, httpCode(t, h.Respond(c)))
}

func TestHandler_Respond_Errors(t *testing.T) {
	svc, _ := newTestService()
	g := requestFrom(t, svc, hospital1)
	h := NewHandler(svc)

	tests := []struct {
		name string
		body string
		p    auth.Principal
		want int
	}{
		{"bad id", `{"request_id":"nope","action":"approve"}`, patient, http.StatusBadRequest},
		{"bad action", `{"request_id":"` + g.ID.String() + `","action":"delete"}`, patient, http.StatusBadRequest},
		{"other patient", `{"request_id":"` + g.ID.String() + `","action":"approve"}`, stranger, http.StatusNotFound},
		{"institution caller", `{"request_id":"` + g.ID.String() + `","action":"approve"}`, hospital1, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.p
			c, _ := newRequestContext(http.MethodPost, "/api/v1/access-requests/respond", tt.body, &p)
			assert.Equal(t, tt.want, httpCode(t, h.Respond(c)))
		})
	}
}

func TestHandler_ListActiveAndSent(t *testing.T) {
	svc, _ := newTestService()
	g := requestFrom(t, svc, hospital1)
	requestFrom(t, svc, hospital2)
	h := NewHandler(svc)

	c, _ := newRequestContext(http.MethodPost, "/api/v1/access-requests/respond",
		`{"request_id":"`+g.ID.String()+`","action":"approve"}`, &patient)
	require.NoError(t, h.Respond(c))

	c, rec := newRequestContext(http.MethodGet, "/api/v1/access-grants/active", "", &patient)
	require.NoError(t, h.ListActive(c))
	var active struct {
		Grants []struct {
			ID         string `json:"id"`
			ApprovedAt string `json:"approved_at"`
		} `json:"grants"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	require.Len(t, active.Grants, 1)
	assert.Equal(t, g.ID.String(), active.Grants[0].ID)
	assert.NotEmpty(t, active.Grants[0].ApprovedAt)

	c, rec = newRequestContext(http.MethodGet, "/api/v1/access-requests/sent", "", &hospital2)
	require.NoError(t, h.ListSent(c))
	var sent struct {
		Requests []Grant `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sent))
	require.Len(t, sent.Requests, 1)
	assert.Equal(t, StatusPending, sent.Requests[0].Status)
}

func TestHandler_UpsertInstitution(t *testing.T) {
	svc, store := newTestService()
	h := NewHandler(svc)

	c, rec := newRequestContext(http.MethodPut, "/api/v1/institution", `{"name":"North Clinic","email":"desk@north.org"}`, &hospital2)
	require.NoError(t, h.UpsertInstitution(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "North Clinic", store.institutions["hosp-2"].Name)
}
