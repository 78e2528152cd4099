package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/portal/internal/platform/apperr"
)

// ErrorHandler renders every error as JSON. Classified domain errors that
// reach it unconverted are mapped through apperr; 5xx causes are logged.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if !errors.As(err, &he) {
			he = apperr.HTTPError(err)
		}

		if he.Code >= http.StatusInternalServerError {
			rid := requestIDOf(c)
			cause := he.Internal
			if cause == nil {
				cause = err
			}
			logger.Error().Err(cause).Str("request_id", rid).Int("status", he.Code).Msg("request failed")
		}

		body := he.Message
		if msg, ok := body.(string); ok {
			body = map[string]interface{}{"message": msg}
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(he.Code)
		} else {
			werr = c.JSON(he.Code, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}
