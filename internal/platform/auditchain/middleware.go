package auditchain

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/psims/psims/internal/platform/auth"
)

// DenialRecorder records a standalone chain entry for every request rejected
// with 403. Denials have no business transaction to piggyback on, so a
// failed append here is logged rather than turned into a server error.
func DenialRecorder(rec *Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code != http.StatusForbidden {
				return err
			}

			ctx := c.Request().Context()
			roles := auth.RolesFromContext(ctx)
			role := ""
			if len(roles) > 0 {
				role = roles[0]
			}
			actor := Actor{
				ID:        auth.UserIDFromContext(ctx),
				Role:      role,
				Name:      auth.UserNameFromContext(ctx),
				IP:        c.RealIP(),
				UserAgent: c.Request().UserAgent(),
			}
			path := c.Request().URL.Path
			ev := NewEvent(KindPermission, actor, "route", &path, ResultDenied)
			ev.Detail = map[string]any{"method": c.Request().Method}
			if _, recErr := rec.Record(ctx, ev); recErr != nil {
				log.Error().Err(recErr).Str("path", path).Msg("failed to record permission denial")
			}
			return err
		}
	}
}
