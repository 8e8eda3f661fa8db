package guard

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
)

// SourceFunc returns the Session Context for a request, or nil when the
// request carries no console session.
type SourceFunc func(c echo.Context) Source

const userKey = "guard.user"

// Middleware protects every route under it with the guard that ForPath
// picks for the request path. Denied requests get a 303 to the login page;
// nothing is written while the decision is still unknown.
func Middleware(lookup SourceFunc, log logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			g, ok := ForPath(path)
			if !ok {
				return next(c)
			}

			src := lookup(c)
			if src == nil {
				return c.Redirect(http.StatusSeeOther, LoginRedirect(path))
			}

			ctx := c.Request().Context()
			d := g.Check(ctx, src, path)
			switch d.Outcome {
			case Granted:
				c.Set(userKey, d.User)
				return next(c)
			case Denied:
				log.Info(ctx, "route denied", "guard", g.Name(), "path", path)
				return c.Redirect(http.StatusSeeOther, d.Redirect)
			default:
				return nil
			}
		}
	}
}

// UserFrom returns the user a guard granted for this request.
func UserFrom(c echo.Context) *identity.ResolvedUser {
	u, _ := c.Get(userKey).(*identity.ResolvedUser)
	return u
}
