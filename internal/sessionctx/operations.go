package sessionctx

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/dmitrijs2005/consentdesk/internal/authclient"
	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
)

// SignupRequest describes an account to create. ActingPath is the console
// path the request was made from; together with the acting user's role it
// decides whether this is an admin creating an account for someone else.
type SignupRequest struct {
	Email        string
	Password     string
	Name         string
	Role         identity.Role
	Organization string
	ActingPath   string
}

// SignupResult describes the created account.
type SignupResult struct {
	UserID string        `json:"user_id"`
	Email  string        `json:"email"`
	Role   identity.Role `json:"role"`
	// OnBehalf is set when an admin created the account; the acting session
	// is left untouched.
	OnBehalf bool `json:"on_behalf"`
	// Adopted is set when a self sign-up switched the console to the new session.
	Adopted bool `json:"adopted"`
}

// Login signs in and resolves the new session.
func (c *Context) Login(ctx context.Context, email, password string) (*identity.ResolvedUser, error) {
	c.subscribe()
	c.begin()
	defer c.leave()

	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, c.fail(ctx, "login", invalid("email and password are required"))
	}

	seq := c.nextSeq()
	s, err := c.auth.SignInWithPassword(opCtx, email, password)
	if err != nil {
		return nil, c.fail(ctx, "login", err)
	}

	u := c.resolve(opCtx, s)
	c.apply(seq, u)
	if u != nil {
		c.log.Info(ctx, "signed in", "user_id", u.ID, "role", string(u.Role))
	}
	return copyUser(u), nil
}

// Logout always clears the local user and the remembered redirect; a
// failing backend call is only logged. It returns the login path.
func (c *Context) Logout(ctx context.Context) string {
	c.begin()
	defer c.leave()

	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	seq := c.nextSeq()
	if err := c.auth.SignOut(opCtx); err != nil {
		c.log.Warn(ctx, "sign out failed, clearing local state anyway", "error", err)
	}
	c.apply(seq, nil)

	c.flags.Delete(common.FlagRedirectTo)
	return common.PathLogin
}

// Signup creates an account. From an admin context the new profile is
// written and the acting session is kept; a self sign-up adopts the returned
// session, if any.
//
// Self sign-up always creates a client. Admins may create clients;
// superadmins may create any role.
func (c *Context) Signup(ctx context.Context, req SignupRequest) (*SignupResult, error) {
	c.subscribe()
	c.begin()
	defer c.leave()

	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	acting := c.User()
	onBehalf := isAdminPath(req.ActingPath) && acting != nil && acting.Role.IsAdmin()

	role, err := signupRole(req.Role, acting, onBehalf)
	if err != nil {
		return nil, c.fail(ctx, "signup", err)
	}
	if err := validateSignup(req); err != nil {
		return nil, c.fail(ctx, "signup", err)
	}

	meta := map[string]any{"name": req.Name, "role": string(role)}
	if req.Organization != "" {
		meta["organization"] = req.Organization
	}

	res, err := c.auth.SignUp(opCtx, strings.TrimSpace(req.Email), req.Password, meta)
	if err != nil {
		return nil, c.fail(ctx, "signup", err)
	}

	out := &SignupResult{UserID: res.User.ID, Email: res.User.Email, Role: role, OnBehalf: onBehalf}
	if out.Email == "" {
		out.Email = strings.TrimSpace(req.Email)
	}

	if out.UserID != "" {
		err := c.profiles.Upsert(opCtx, &identity.Profile{
			ID:           out.UserID,
			Name:         req.Name,
			Organization: req.Organization,
			Role:         role,
		})
		if err != nil {
			c.log.Warn(ctx, "profile write failed after sign-up", "user_id", out.UserID, "error", err)
		}
	}

	if onBehalf {
		c.log.Info(ctx, "account created on behalf", "by", acting.ID, "user_id", out.UserID, "role", string(role))
		return out, nil
	}

	if res.Session != nil {
		seq := c.nextSeq()
		if err := c.auth.SetSession(opCtx, res.Session); err != nil {
			return nil, c.fail(ctx, "signup", err)
		}
		c.apply(seq, c.resolve(opCtx, res.Session))
		out.Adopted = true
	}
	return out, nil
}

// ForgotPassword asks the backend to send a recovery link pointing at the
// console's reset page.
func (c *Context) ForgotPassword(ctx context.Context, email string) error {
	c.begin()
	defer c.leave()

	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return c.fail(ctx, "forgot password", invalid("invalid email"))
	}

	redirectTo := strings.TrimRight(c.siteURL, "/") + common.PathResetPassword
	if err := c.auth.ResetPasswordForEmail(opCtx, email, redirectTo); err != nil {
		return c.fail(ctx, "forgot password", err)
	}
	return nil
}

// VerifyRecovery adopts the session from a recovery link so that
// ResetPassword can run.
func (c *Context) VerifyRecovery(ctx context.Context, accessToken, refreshToken string) error {
	c.subscribe()
	c.begin()
	defer c.leave()

	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.auth.VerifyRecovery(opCtx, accessToken, refreshToken); err != nil {
		return c.fail(ctx, "verify recovery", err)
	}
	return nil
}

// ResetPassword sets a new password for the current (recovery) session.
func (c *Context) ResetPassword(ctx context.Context, newPassword string) error {
	c.begin()
	defer c.leave()

	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if len(newPassword) < minPasswordLen {
		return c.fail(ctx, "reset password", invalid(fmt.Sprintf("password must be at least %d characters", minPasswordLen)))
	}

	pw := newPassword
	if _, err := c.auth.UpdateUser(opCtx, authclient.UserPatch{Password: &pw}); err != nil {
		return c.fail(ctx, "reset password", err)
	}
	return nil
}

const minPasswordLen = 6

// begin marks an operation as in flight and clears the error slot.
func (c *Context) begin() {
	c.mu.Lock()
	c.inflight++
	c.errMsg = ""
	c.mu.Unlock()
}

// fail records err in the error slot and returns it.
func (c *Context) fail(ctx context.Context, op string, err error) error {
	c.log.Warn(ctx, op+" failed", "error", err)
	c.setError(humanize(err))
	return err
}

func isAdminPath(path string) bool {
	for _, p := range []string{common.PathAdmin, common.PathSuperadmin} {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func signupRole(requested identity.Role, acting *identity.ResolvedUser, onBehalf bool) (identity.Role, error) {
	if requested == "" {
		requested = identity.RoleClient
	}
	if !requested.Valid() {
		return "", invalid(fmt.Sprintf("unknown role %q", requested))
	}
	if !onBehalf {
		return identity.RoleClient, nil
	}
	if acting.Role == identity.RoleSuperadmin || requested == identity.RoleClient {
		return requested, nil
	}
	return "", &formError{msg: "admins can only create client accounts", kind: common.ErrForbidden}
}

func validateSignup(req SignupRequest) error {
	if _, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil {
		return invalid("invalid email")
	}
	if len(req.Password) < minPasswordLen {
		return invalid(fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}
	if strings.TrimSpace(req.Name) == "" {
		return invalid("name is required")
	}
	return nil
}

// formError is a failure whose message is meant for the user as is.
type formError struct {
	msg  string
	kind error
}

func (e *formError) Error() string { return e.kind.Error() + ": " + e.msg }
func (e *formError) Unwrap() error { return e.kind }

func invalid(msg string) error {
	return &formError{msg: msg, kind: common.ErrValidation}
}

// humanize turns an error into the message shown inline to the user.
func humanize(err error) string {
	var fe *formError
	if errors.As(err, &fe) {
		return capitalize(fe.msg) + "."
	}
	switch {
	case errors.Is(err, common.ErrValidation):
		return "Please check the form and try again."
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken):
		return "Invalid email or password."
	case errors.Is(err, common.ErrAlreadyExists):
		return "An account with this email already exists."
	case errors.Is(err, common.ErrForbidden):
		return "You are not allowed to do that."
	case errors.Is(err, common.ErrNoSession), errors.Is(err, common.ErrRefreshTokenExpired), errors.Is(err, common.ErrRecoveryExpired):
		return "Your session has expired. Please start again."
	case errors.Is(err, common.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return "The authentication service is not reachable. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
