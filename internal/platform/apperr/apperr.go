// Package apperr classifies domain errors so that handlers can map them to
// HTTP responses without knowing which service produced them.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind is the category of a domain error.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindForbidden           Kind = "forbidden"
	KindUnauthenticated     Kind = "unauthenticated"
	KindNotFound            Kind = "not_found"
	KindInvalidTransition   Kind = "invalid_transition"
	KindProvisioningFailure Kind = "provisioning_failure"
	KindUnavailable         Kind = "unavailable"
	KindInternal            Kind = "internal"
)

// Error is a classified domain error.
type Error struct {
	Kind    Kind              `json:"kind"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports malformed or duplicate input. fields maps a field name
// to a human readable problem and may be nil.
func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Code: "VALIDATION_FAILED", Message: message, Fields: fields}
}

// FieldError is shorthand for a single-field validation failure.
func FieldError(field, problem string) *Error {
	return Validation(field+" "+problem, map[string]string{field: problem})
}

// Denied reports an authorization failure. The reason is kept for logging
// and metrics, the rendered message is always generic.
func Denied(reason string) *Error {
	return &Error{Kind: KindForbidden, Code: reason, Message: "not permitted"}
}

// Unauthenticated reports a missing or rejected identity.
func Unauthenticated(code, message string) *Error {
	return &Error{Kind: KindUnauthenticated, Code: code, Message: message}
}

func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: resource + " not found"}
}

// InvalidTransition reports an appointment state machine violation.
func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Code:    "INVALID_TRANSITION",
		Message: fmt.Sprintf("cannot move appointment from %s to %s", from, to),
	}
}

// ProvisioningFailure reports a partial account write that was rolled back.
func ProvisioningFailure(err error) *Error {
	return &Error{Kind: KindProvisioningFailure, Code: "PROVISIONING_FAILED", Message: "account could not be created", Err: err}
}

// Unavailable reports a failed call to an external collaborator.
func Unavailable(service string, err error) *Error {
	return &Error{Kind: KindUnavailable, Code: "UPSTREAM_UNAVAILABLE", Message: service + " is unavailable", Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: "INTERNAL", Message: "internal error", Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is a classified error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

var statusByKind = map[Kind]int{
	KindValidation:          http.StatusBadRequest,
	KindForbidden:           http.StatusForbidden,
	KindUnauthenticated:     http.StatusUnauthorized,
	KindNotFound:            http.StatusNotFound,
	KindInvalidTransition:   http.StatusConflict,
	KindProvisioningFailure: http.StatusInternalServerError,
	KindUnavailable:         http.StatusBadGateway,
	KindInternal:            http.StatusInternalServerError,
}

// HTTPError converts err into an echo error carrying a JSON body. Internal
// details never reach the client.
func HTTPError(err error) *echo.HTTPError {
	var e *Error
	if !errors.As(err, &e) {
		e = Internal(err)
	}
	body := map[string]interface{}{
		"kind":    e.Kind,
		"code":    e.Code,
		"message": e.Message,
	}
	if e.Kind == KindForbidden {
		// the reason code stays server-side
		body["code"] = "FORBIDDEN"
	}
	if len(e.Fields) > 0 {
		body["fields"] = e.Fields
	}
	he := echo.NewHTTPError(statusByKind[e.Kind], body)
	he.Internal = err
	return he
}
