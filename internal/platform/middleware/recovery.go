package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medreport/medreport/internal/platform/apperr"
	"github.com/medreport/medreport/internal/platform/auth"
)

// Recovery turns a handler panic into a 500 carrying the standard error body.
// The stack is logged together with the request id and, when known, the
// caller's subject.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				ev := logger.Error().
					Str("request_id", fmt.Sprint(c.Get("request_id"))).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Interface("panic", r).
					Bytes("stack", debug.Stack())
				if p, ok := auth.PrincipalFromContext(c.Request().Context()); ok {
					ev = ev.Str("subject", p.Subject)
				}
				ev.Msg("panic recovered")

				err = apperr.ToHTTP(fmt.Errorf("panic: %v", r))
			}()
			return next(c)
		}
	}
}
