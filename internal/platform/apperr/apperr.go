// Package apperr defines the error taxonomy shared by the medreport services.
//
// Every error that crosses a service boundary is marked with one of the
// sentinel kinds below using github.com/cockroachdb/errors, so that handlers
// can map it to a stable code and HTTP status no matter how many times it was
// wrapped on the way up.
package apperr

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
)

// Code is the stable, client-visible error code.
type Code string

const (
	CodeInvalidInput        Code = "invalid_input"
	CodeUnauthenticated     Code = "unauthenticated"
	CodePermissionDenied    Code = "permission_denied"
	CodeNotFound            Code = "not_found"
	CodeInvalidTransition   Code = "invalid_transition"
	CodeCollaboratorFailure Code = "collaborator_failure"
	CodeInternal            Code = "internal"
)

var (
	errInvalidInput        = errors.New("invalid input")
	errUnauthenticated     = errors.New("unauthenticated")
	errPermissionDenied    = errors.New("permission denied")
	errNotFound            = errors.New("not found")
	errInvalidTransition   = errors.New("invalid transition")
	errCollaboratorFailure = errors.New("collaborator failure")
)

var kinds = []struct {
	mark   error
	code   Code
	status int
}{
	{errInvalidInput, CodeInvalidInput, http.StatusBadRequest},
	{errUnauthenticated, CodeUnauthenticated, http.StatusUnauthorized},
	{errPermissionDenied, CodePermissionDenied, http.StatusForbidden},
	{errNotFound, CodeNotFound, http.StatusNotFound},
	{errInvalidTransition, CodeInvalidTransition, http.StatusConflict},
	{errCollaboratorFailure, CodeCollaboratorFailure, http.StatusBadGateway},
}

func InvalidInput(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), errInvalidInput)
}

func Unauthenticated(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), errUnauthenticated)
}

func PermissionDenied(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), errPermissionDenied)
}

func NotFound(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), errNotFound)
}

func InvalidTransition(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), errInvalidTransition)
}

// Collaborator marks err as a failure of an external collaborator (document
// store, generation model, OCR engine) and adds msg as context.
func Collaborator(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), errCollaboratorFailure)
}

// Wrap adds context to err while preserving its kind.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

func IsInvalidInput(err error) bool        { return errors.Is(err, errInvalidInput) }
func IsUnauthenticated(err error) bool     { return errors.Is(err, errUnauthenticated) }
func IsPermissionDenied(err error) bool    { return errors.Is(err, errPermissionDenied) }
func IsNotFound(err error) bool            { return errors.Is(err, errNotFound) }
func IsInvalidTransition(err error) bool   { return errors.Is(err, errInvalidTransition) }
func IsCollaboratorFailure(err error) bool { return errors.Is(err, errCollaboratorFailure) }

// CodeOf returns the code of the first kind found on err's chain, or
// CodeInternal when err carries no kind.
func CodeOf(err error) Code {
	for _, k := range kinds {
		if errors.Is(err, k.mark) {
			return k.code
		}
	}
	return CodeInternal
}

// HTTPStatus maps err to the HTTP status a handler should answer with.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.mark) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// Body is the JSON error payload returned to clients.
type Body struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// ToHTTP converts err into an *echo.HTTPError carrying a Body. Internal
// errors are reported with a generic message so that driver details do not
// leak to clients.
func ToHTTP(err error) *echo.HTTPError {
	code := CodeOf(err)
	msg := err.Error()
	if code == CodeInternal {
		msg = "internal server error"
	}
	return echo.NewHTTPError(HTTPStatus(err), Body{Code: code, Message: msg})
}
