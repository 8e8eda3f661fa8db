package cli

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/guard"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/sessionctx"
)

func (app *App) Login(ctx context.Context) error {
	email, err := GetSimpleText(app.reader, "-Enter email", app.out)
	if err != nil {
		return err
	}
	password, err := GetPassword(app.out, "Enter password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	u, err := app.session.Login(ctx, email, string(password))
	if err != nil {
		fmt.Fprintln(app.out, app.session.Error())
		return err
	}
	if u == nil {
		fmt.Fprintln(app.out, "Signed in, but the account could not be resolved.")
		return nil
	}
	fmt.Fprintf(app.out, "Signed in as %s (%s)\n", u.Email, u.Role)

	target, _ := app.session.TakeRedirect()
	return app.Go(ctx, guard.AfterLogin(target, u.Role))
}

func (app *App) Logout(ctx context.Context) error {
	app.path = app.session.Logout(ctx)
	fmt.Fprintln(app.out, "Signed out")
	return nil
}

// Signup creates an account. From an admin section the account is created
// for someone else and the role may be chosen; otherwise the console signs
// in as the new client.
func (app *App) Signup(ctx context.Context) error {
	req := sessionctx.SignupRequest{ActingPath: app.path}

	var err error
	if req.Email, err = GetSimpleText(app.reader, "-Enter email", app.out); err != nil {
		return err
	}
	password, err := GetPassword(app.out, "Choose password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)
	req.Password = string(password)

	if req.Name, err = GetSimpleText(app.reader, "-Enter name", app.out); err != nil {
		return err
	}
	if req.Organization, err = GetSimpleText(app.reader, "-Enter organization (optional)", app.out); err != nil {
		return err
	}
	if u := app.session.User(); u != nil && u.Role.IsAdmin() && inAdminSection(app.path) {
		role, err := GetSimpleText(app.reader, "-Enter role (client, admin, superadmin; empty for client)", app.out)
		if err != nil {
			return err
		}
		req.Role = identity.Role(role)
	}

	res, err := app.session.Signup(ctx, req)
	if err != nil {
		fmt.Fprintln(app.out, app.session.Error())
		return err
	}

	switch {
	case res.OnBehalf:
		fmt.Fprintf(app.out, "Created %s account for %s\n", res.Role, res.Email)
	case res.Adopted:
		fmt.Fprintf(app.out, "Account created, signed in as %s\n", res.Email)
		return app.Go(ctx, guard.HomeFor(res.Role))
	default:
		fmt.Fprintf(app.out, "Account created for %s; check your email to confirm it\n", res.Email)
	}
	return nil
}

func (app *App) Forgot(ctx context.Context) error {
	email, err := GetSimpleText(app.reader, "-Enter email", app.out)
	if err != nil {
		return err
	}
	if err := app.session.ForgotPassword(ctx, email); err != nil {
		fmt.Fprintln(app.out, app.session.Error())
		return err
	}
	fmt.Fprintln(app.out, "If an account exists for this email, a reset link is on its way.")
	return nil
}

// Reset sets a new password. A pasted recovery link (or bare token) is
// exchanged for a session first; with no input the current session is used.
func (app *App) Reset(ctx context.Context) error {
	link, err := GetSimpleText(app.reader, "-Paste the recovery link (empty to use the current session)", app.out)
	if err != nil {
		return err
	}
	if accessToken, refreshToken := parseRecoveryLink(link); accessToken != "" {
		if err := app.session.VerifyRecovery(ctx, accessToken, refreshToken); err != nil {
			fmt.Fprintln(app.out, app.session.Error())
			return err
		}
	}

	password, err := GetPassword(app.out, "New password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := app.session.ResetPassword(ctx, string(password)); err != nil {
		fmt.Fprintln(app.out, app.session.Error())
		return err
	}
	fmt.Fprintln(app.out, "Password updated")
	return nil
}

func (app *App) Whoami(ctx context.Context) error {
	u := app.session.User()
	if u == nil {
		fmt.Fprintln(app.out, "Not signed in")
		return nil
	}
	line := fmt.Sprintf("%s <%s> role=%s", u.Name, u.Email, u.Role)
	if u.Organization != "" {
		line += " org=" + u.Organization
	}
	if u.Override {
		line += " (override)"
	}
	fmt.Fprintln(app.out, line)
	return nil
}

// Go navigates to path through the same guards the web console uses.
func (app *App) Go(ctx context.Context, path string) error {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	app.session.Navigate(ctx, path)

	if path == common.PathRoot {
		sec, redirect := guard.Shell(app.session)
		if redirect != "" {
			app.path = redirect
			fmt.Fprintln(app.out, "Not signed in; use 'login'")
			return nil
		}
		path = sec.Home
	}

	g, ok := guard.ForPath(path)
	if !ok {
		app.path = path
		return nil
	}

	d := g.Check(ctx, app.session, path)
	switch d.Outcome {
	case guard.Granted:
		app.path = path
		fmt.Fprintf(app.out, "%s section\n", d.User.Role)
		return nil
	case guard.Denied:
		app.path = common.PathLogin
		fmt.Fprintf(app.out, "Access to %s denied; sign in with an account that may see it\n", path)
		return common.ErrForbidden
	default:
		return ctx.Err()
	}
}

func inAdminSection(path string) bool {
	for _, p := range []string{common.PathAdmin, common.PathSuperadmin} {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// parseRecoveryLink extracts the tokens from a recovery link. The tokens
// travel in the URL fragment; a bare string is taken as the access token.
func parseRecoveryLink(link string) (accessToken, refreshToken string) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", ""
	}
	frag := link
	if i := strings.IndexByte(link, '#'); i >= 0 {
		frag = link[i+1:]
	} else if !strings.Contains(link, "=") {
		return link, ""
	}
	v, err := url.ParseQuery(frag)
	if err != nil {
		return "", ""
	}
	return v.Get("access_token"), v.Get("refresh_token")
}
