package httpapi

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/guard"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
)

type Options struct {
	// ServiceName enables otelecho tracing when set.
	ServiceName string
	Limiter     *RateLimiter
}

// NewServer builds the echo instance serving the console.
func NewServer(h *Handlers, opts Options, l logging.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	if opts.ServiceName != "" {
		e.Use(otelecho.Middleware(opts.ServiceName))
	}

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ctx := c.Request().Context()
			if v.Error == nil {
				l.Info(ctx, "request completed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds())
			} else {
				l.Error(ctx, "request failed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds(),
					"error", v.Error.Error())
			}
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(SecurityHeaders())
	e.Use(h.Hold)

	// Every unauthenticated POST may create a console session.
	limited := []echo.MiddlewareFunc{}
	if opts.Limiter != nil {
		limited = append(limited, opts.Limiter.Middleware())
	}

	e.GET(common.PathRoot, h.Shell)
	e.GET(common.PathLogin, h.LoginPage)
	e.POST(common.PathLogin, h.Login, limited...)
	e.POST(common.PathLogout, h.Logout)
	e.POST(common.PathSignup, h.Signup, limited...)
	e.POST(common.PathForgotPassword, h.ForgotPassword, limited...)
	e.POST(common.PathResetPassword, h.ResetPassword, limited...)
	e.GET("/session", h.Session)
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	guarded := guard.Middleware(h.Source, l)
	for _, section := range []string{common.PathSuperadmin, common.PathAdmin, common.PathClient} {
		g := e.Group(section, guarded)
		g.GET("", h.Dashboard)
		g.GET("/*", h.Dashboard)
	}
	e.POST(common.PathAdmin+"/clients", h.CreateClient, guarded)

	return e
}

// SecurityHeaders adds security-related HTTP headers to all responses.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}
