package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/portal/internal/platform/apperr"
	"github.com/hospital/portal/internal/platform/auth"
)

// Recovery turns a handler panic into a 500 and logs the stack along with
// who made the request.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				evt := logger.Error().
					Str("request_id", requestIDOf(c)).
					Str("method", c.Request().Method).
					Str("path", c.Request().URL.Path).
					Interface("panic", r).
					Bytes("stack", debug.Stack())
				if p := auth.CurrentPrincipal(c); p != nil {
					evt = evt.Str("user_id", p.UserID.String())
				}
				evt.Msg("panic recovered")
				err = apperr.HTTPError(apperr.Internal(fmt.Errorf("panic: %v", r)))
			}()
			return next(c)
		}
	}
}

func requestIDOf(c echo.Context) string {
	rid, _ := c.Get("request_id").(string)
	return rid
}
