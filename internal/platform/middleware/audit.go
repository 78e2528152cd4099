package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/portal/internal/platform/auth"
)

// AuditEntry records who touched which record collection and with what
// outcome.
type AuditEntry struct {
	UserID     string
	Role       string
	Resource   string
	RecordID   string
	Action     string
	Method     string
	Path       string
	IPAddress  string
	UserAgent  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error { return f(entry) }

// Audit logs every /api/v1 call after it completes. Anonymous calls are
// logged with an empty user id.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: status,
				Action:     methodToAction(req.Method, req.URL.Path),
			}
			entry.Resource, entry.RecordID = splitResource(req.URL.Path)
			entry.RequestID = requestIDOf(c)

			// the principal is attached by JWTMiddleware further down the chain
			if p := auth.PrincipalFromContext(c.Request().Context()); p != nil {
				entry.UserID = p.UserID.String()
				entry.Role = string(p.Role)
			}

			for _, rec := range recorders {
				if rec == nil {
					continue
				}
				if recErr := rec.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			evt := logger.Info()
			if status == http.StatusForbidden || status == http.StatusUnauthorized {
				evt = logger.Warn()
			}
			evt.
				Str("type", "access_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("role", entry.Role).
				Str("resource", entry.Resource).
				Str("record_id", entry.RecordID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("record_access")

			return err
		}
	}
}

// methodToAction maps a request onto the policy vocabulary. Sub-resource
// verbs such as /appointments/:id/cancel take precedence over the method.
func methodToAction(method, path string) string {
	switch {
	case strings.HasSuffix(path, "/status"):
		return "set_status"
	case strings.HasSuffix(path, "/cancel"):
		return "cancel"
	case strings.HasSuffix(path, "/payment-session"):
		return "pay"
	}
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// splitResource returns the collection name and, when present, the record
// id from an /api/v1 path.
func splitResource(path string) (string, string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "unknown", ""
	}
	if len(segments) > 1 {
		if _, err := uuid.Parse(segments[1]); err == nil {
			return segments[0], segments[1]
		}
	}
	return segments[0], ""
}
