package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/guard"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
	"github.com/dmitrijs2005/consentdesk/internal/metrics"
	"github.com/dmitrijs2005/consentdesk/internal/sessionctx"
)

type credentials struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	From     string `json:"from" form:"from"`
}

type signupForm struct {
	Email        string `json:"email" form:"email"`
	Password     string `json:"password" form:"password"`
	Name         string `json:"name" form:"name"`
	Role         string `json:"role" form:"role"`
	Organization string `json:"organization" form:"organization"`
}

type forgotForm struct {
	Email string `json:"email" form:"email"`
}

type resetForm struct {
	AccessToken  string `json:"access_token" form:"access_token"`
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
	Password     string `json:"password" form:"password"`
}

type redirectBody struct {
	User     *identity.ResolvedUser `json:"user,omitempty"`
	Redirect string                 `json:"redirect"`
}

// Handlers serves the console routes on top of the session registry.
type Handlers struct {
	registry *Registry
	secure   bool
	logger   logging.Logger
}

func NewHandlers(reg *Registry, secureCookies bool, l logging.Logger) *Handlers {
	return &Handlers{registry: reg, secure: secureCookies, logger: l.With("module", "httpapi")}
}

const heldKey = "consentdesk.held"

// Hold releases every bundle a request acquired once its handler returns.
func (h *Handlers) Hold(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		defer func() {
			held, _ := c.Get(heldKey).([]*Bundle)
			for _, b := range held {
				h.registry.Release(b)
			}
		}()
		return next(c)
	}
}

func (h *Handlers) hold(c echo.Context, b *Bundle) {
	held, _ := c.Get(heldKey).([]*Bundle)
	c.Set(heldKey, append(held, b))
}

// lookup returns the bundle named by the request cookie, held until the
// request ends.
func (h *Handlers) lookup(c echo.Context) (*Bundle, bool) {
	ck, err := c.Cookie(common.ConsoleSessionCookie)
	if err != nil || ck.Value == "" {
		return nil, false
	}
	b, ok := h.registry.Acquire(ck.Value)
	if ok {
		h.hold(c, b)
	}
	return b, ok
}

// ensure returns the request's bundle, creating one and setting the cookie
// when there is none.
func (h *Handlers) ensure(c echo.Context) (*Bundle, error) {
	if b, ok := h.lookup(c); ok {
		return b, nil
	}
	b, err := h.registry.AcquireNew(c.Request().Context())
	if err != nil {
		return nil, mapError(err, "")
	}
	h.hold(c, b)
	c.SetCookie(&http.Cookie{
		Name:     common.ConsoleSessionCookie,
		Value:    b.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return b, nil
}

// Source adapts the registry to the route guards. A page load counts as a
// navigation and re-initialises the console session first.
func (h *Handlers) Source(c echo.Context) guard.Source {
	b, ok := h.lookup(c)
	if !ok {
		return nil
	}
	if c.Request().Method == http.MethodGet {
		b.Session.Navigate(c.Request().Context(), c.Request().URL.Path)
	}
	return b.Session
}

func (h *Handlers) Shell(c echo.Context) error {
	b, ok := h.lookup(c)
	if !ok {
		return c.Redirect(http.StatusSeeOther, common.PathLogin)
	}
	b.Session.Navigate(c.Request().Context(), common.PathRoot)
	sec, redirect := guard.Shell(b.Session)
	if redirect != "" {
		return c.Redirect(http.StatusSeeOther, redirect)
	}
	return c.JSON(http.StatusOK, sec)
}

// LoginPage reports whether the console is already signed in, so a client
// can skip the form.
func (h *Handlers) LoginPage(c echo.Context) error {
	if b, ok := h.lookup(c); ok {
		if u := b.Session.User(); u != nil {
			return c.Redirect(http.StatusSeeOther, guard.HomeFor(u.Role))
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"from": localPath(c.QueryParam("from"))})
}

func (h *Handlers) Login(c echo.Context) error {
	var req credentials
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed request.")
	}
	b, err := h.ensure(c)
	if err != nil {
		return err
	}

	u, err := b.Session.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		metrics.RecordLoginAttempt("failure")
		return mapError(err, b.Session.Error())
	}
	metrics.RecordLoginAttempt("success")

	if u == nil {
		// Signed in but no identity could be resolved.
		return c.JSON(http.StatusOK, redirectBody{Redirect: common.PathLogin})
	}

	target, ok := b.Session.TakeRedirect()
	if !ok {
		target = localPath(req.From)
	}
	target = guard.AfterLogin(target, u.Role)
	return c.JSON(http.StatusOK, redirectBody{User: u, Redirect: target})
}

func (h *Handlers) Logout(c echo.Context) error {
	b, ok := h.lookup(c)
	if !ok {
		return c.JSON(http.StatusOK, redirectBody{Redirect: common.PathLogin})
	}
	return c.JSON(http.StatusOK, redirectBody{Redirect: b.Session.Logout(c.Request().Context())})
}

func (h *Handlers) Signup(c echo.Context) error {
	return h.signup(c, common.PathSignup)
}

// CreateClient lets an admin create an account without switching identity.
func (h *Handlers) CreateClient(c echo.Context) error {
	return h.signup(c, c.Request().URL.Path)
}

func (h *Handlers) signup(c echo.Context, actingPath string) error {
	var req signupForm
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed request.")
	}
	b, err := h.ensure(c)
	if err != nil {
		return err
	}

	res, err := b.Session.Signup(c.Request().Context(), sessionctx.SignupRequest{
		Email:        req.Email,
		Password:     req.Password,
		Name:         req.Name,
		Role:         identity.Role(strings.TrimSpace(req.Role)),
		Organization: req.Organization,
		ActingPath:   actingPath,
	})
	if err != nil {
		return mapError(err, b.Session.Error())
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handlers) ForgotPassword(c echo.Context) error {
	var req forgotForm
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed request.")
	}
	b, err := h.ensure(c)
	if err != nil {
		return err
	}
	if err := b.Session.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return mapError(err, b.Session.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "If an account exists for this email, a reset link is on its way.",
	})
}

// ResetPassword sets a new password. Tokens from the recovery link are
// exchanged first when present; otherwise the current session is used.
func (h *Handlers) ResetPassword(c echo.Context) error {
	var req resetForm
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed request.")
	}
	b, err := h.ensure(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if req.AccessToken != "" {
		if err := b.Session.VerifyRecovery(ctx, req.AccessToken, req.RefreshToken); err != nil {
			return mapError(err, b.Session.Error())
		}
	}
	if err := b.Session.ResetPassword(ctx, req.Password); err != nil {
		return mapError(err, b.Session.Error())
	}
	return c.JSON(http.StatusOK, redirectBody{Redirect: common.PathLogin})
}

func (h *Handlers) Session(c echo.Context) error {
	b, ok := h.lookup(c)
	if !ok {
		return c.JSON(http.StatusOK, sessionctx.Snapshot{})
	}
	return c.JSON(http.StatusOK, b.Session.Snapshot())
}

// Dashboard renders the section a guard let through.
func (h *Handlers) Dashboard(c echo.Context) error {
	u := guard.UserFrom(c)
	return c.JSON(http.StatusOK, guard.Section{Name: string(u.Role), Home: guard.HomeFor(u.Role), User: u})
}

func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// localPath accepts only same-origin absolute paths as redirect targets.
func localPath(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, `\`) {
		return ""
	}
	return p
}
