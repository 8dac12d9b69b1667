package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// PublicSkipper lets health probes and CORS preflight requests through
// without a bearer token; neither ever carries credentials.
func PublicSkipper(c echo.Context) bool {
	if c.Request().Method == http.MethodOptions {
		return true
	}
	switch c.Path() {
	case "/health", "/health/db":
		return true
	}
	return false
}
