package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a logged 500. A panic after the
// response was committed is logged only, since the status line is gone.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
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

				cause, ok := r.(error)
				if !ok {
					cause = fmt.Errorf("%v", r)
				}
				committed := c.Response().Committed
				logger.Error().
					Str("request_id", requestID(c)).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Str("panic", cause.Error()).
					Bool("committed", committed).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				if committed {
					return
				}
				he := echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				err = he.SetInternal(cause)
			}()
			return next(c)
		}
	}
}

// requestID prefers the value set by RequestID and falls back to the
// response header for handlers mounted without it.
func requestID(c echo.Context) string {
	if rid, ok := c.Get("request_id").(string); ok && rid != "" {
		return rid
	}
	return c.Response().Header().Get(RequestIDHeader)
}
