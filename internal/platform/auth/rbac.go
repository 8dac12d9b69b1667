package auth

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/medreport/medreport/internal/platform/apperr"
)

// RequireRole is the guard every handler calls first. It returns the caller
// when authenticated with one of roles, an unauthenticated error when no
// principal is present, and a permission error otherwise.
func RequireRole(ctx context.Context, roles ...Role) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Subject == "" {
		return Principal{}, apperr.Unauthenticated("authentication required")
	}
	for _, r := range roles {
		if p.Role == r {
			return p, nil
		}
	}

	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return Principal{}, apperr.PermissionDenied("required role: %s", strings.Join(names, " or "))
}

func RequireInstitution(ctx context.Context) (Principal, error) {
	return RequireRole(ctx, RoleInstitution)
}

// RequirePatient additionally insists on an email, which is the key grants
// are addressed to.
func RequirePatient(ctx context.Context) (Principal, error) {
	p, err := RequireRole(ctx, RolePatient)
	if err != nil {
		return p, err
	}
	if p.Email == "" {
		return Principal{}, apperr.PermissionDenied("patient identity has no email")
	}
	return p, nil
}

func RequireAdmin(ctx context.Context) (Principal, error) {
	return RequireRole(ctx, RoleAdmin)
}

// RoleMiddleware applies RequireRole to a whole route group.
func RoleMiddleware(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, err := RequireRole(c.Request().Context(), roles...); err != nil {
				return apperr.ToHTTP(err)
			}
			return next(c)
		}
	}
}

// RequireAuthenticated accepts any verified caller.
func RequireAuthenticated(ctx context.Context) (Principal, error) {
	return RequireRole(ctx, RolePatient, RoleInstitution, RoleAdmin)
}
