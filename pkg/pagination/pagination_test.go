package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithQuery(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports?"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"limit=5&offset=10", 5, 10},
		{"limit=0", DefaultLimit, 0},
		{"limit=-3", DefaultLimit, 0},
		{"limit=1000", MaxLimit, 0},
		{"offset=-1", DefaultLimit, 0},
		{"limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := FromContext(contextWithQuery(tt.query))
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got limit=%d offset=%d, want limit=%d offset=%d", p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]int{1, 2}, 5, Params{Limit: 2, Offset: 0}, "/api/v1/reports")
	if !r.HasMore {
		t.Error("expected HasMore")
	}
	if r.Next != "/api/v1/reports?limit=2&offset=2" {
		t.Errorf("unexpected next link %q", r.Next)
	}

	last := NewResponse([]int{5}, 5, Params{Limit: 2, Offset: 4}, "/api/v1/reports")
	if last.HasMore || last.Next != "" {
		t.Errorf("expected last page, got %+v", last)
	}
}
