package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/supabase-community/supabase-go"

	"github.com/dmitrijs2005/consentdesk/internal/authclient"
	"github.com/dmitrijs2005/consentdesk/internal/bootstrap"
	"github.com/dmitrijs2005/consentdesk/internal/client/client"
	"github.com/dmitrijs2005/consentdesk/internal/client/config"
	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/credstore"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
	"github.com/dmitrijs2005/consentdesk/internal/override"
	"github.com/dmitrijs2005/consentdesk/internal/profiles"
	"github.com/dmitrijs2005/consentdesk/internal/resolver"
	srvconfig "github.com/dmitrijs2005/consentdesk/internal/server/config"
	"github.com/dmitrijs2005/consentdesk/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/consentdesk/internal/server/services"
	"github.com/dmitrijs2005/consentdesk/internal/sessionctx"
)

// console is the part of the Session Context the commands use.
type console interface {
	Login(ctx context.Context, email, password string) (*identity.ResolvedUser, error)
	Logout(ctx context.Context) string
	Signup(ctx context.Context, req sessionctx.SignupRequest) (*sessionctx.SignupResult, error)
	ForgotPassword(ctx context.Context, email string) error
	VerifyRecovery(ctx context.Context, accessToken, refreshToken string) error
	ResetPassword(ctx context.Context, newPassword string) error
	Navigate(ctx context.Context, path string) sessionctx.Snapshot
	Reverify(ctx context.Context) *identity.ResolvedUser
	RememberRedirect(path string)
	TakeRedirect() (string, bool)
	User() *identity.ResolvedUser
	Error() string
	Close()
}

type App struct {
	config  *config.Config
	logger  logging.Logger
	session console
	reader  *bufio.Reader
	out     io.Writer
	path    string
	closers []func()
}

// NewApp opens the credential database, picks the auth backend, runs the
// bootstrapper and initialises the Session Context, in that order.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stderr, c.LogLevel)
	app := &App{config: c, logger: logger, reader: bufio.NewReader(os.Stdin), out: os.Stdout}

	db, err := client.InitDatabase(ctx, c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	app.closers = append(app.closers, func() { db.Close() })

	store := credstore.NewSQLiteStore(db, c.Namespace)
	flags := credstore.NewFlags()

	auth, profileStore, err := app.backend(ctx, store)
	if err != nil {
		app.Close()
		return nil, err
	}

	policy := override.NewPolicy(c.OverrideEmail, identity.Role(c.OverrideRole))
	boot := bootstrap.New(store, flags, policy, auth.StorageKey(), logger)
	res := boot.Run(ctx)

	rs := resolver.NewService(profileStore, policy, override.NewLogAuditor(logger), logger, c.OpTimeout)
	sess := sessionctx.New(auth, rs, profileStore, flags, logger, sessionctx.Config{
		SiteURL:   c.SiteURL,
		OpTimeout: c.OpTimeout,
		Bootstrap: boot,
	})
	sess.Bootstrapped(ctx, res)
	sess.Init(ctx)

	app.session = sess
	app.closers = append(app.closers, sess.Close)
	app.path = common.PathRoot
	return app, nil
}

func (app *App) backend(ctx context.Context, store credstore.Store) (*authclient.Keeper, profiles.Store, error) {
	c := app.config
	switch c.AuthBackend {
	case config.BackendLocal:
		db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("db init error: %w", err)
		}
		app.closers = append(app.closers, func() { db.Close() })
		return app.local(db, store)

	case config.BackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			return nil, nil, errors.New("supabase backend needs a URL and an anon key")
		}
		sb, err := supabase.NewClient(c.SupabaseURL, c.SupabaseKey, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("supabase client error: %w", err)
		}
		ref := c.SupabaseProjectRef
		if ref == "" {
			ref = authclient.ProjectRefFromURL(c.SupabaseURL)
		}
		return authclient.NewSupabase(sb, ref, store, app.logger), profiles.NewSupabaseStore(sb), nil

	default:
		return nil, nil, fmt.Errorf("unknown auth backend %q", c.AuthBackend)
	}
}

// local runs the account service in-process against the console database.
func (app *App) local(db *sql.DB, store credstore.Store) (*authclient.Keeper, profiles.Store, error) {
	sc := &srvconfig.Config{}
	sc.LoadDefaults()
	sc.SecretKey = app.config.SecretKey
	sc.SiteURL = app.config.SiteURL

	rm := repomanager.NewPostgresRepositoryManager()
	accounts := services.NewAccountService(db, rm, sc, services.LogMailer{Log: app.logger}, app.logger)
	return authclient.NewLocal(accounts, store, app.logger), rm.Profiles(db), nil
}

func (app *App) Run(ctx context.Context) {
	defer app.Close()

	fmt.Fprintln(app.out, "consentdesk console (type 'help' for commands)")
	_ = app.Whoami(ctx)
	runREPL(ctx, app, app.getStatus, app.reader, app.out)
}

// Close releases resources in reverse order of acquisition.
func (app *App) Close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
	app.closers = nil
}

func (app *App) isLoggedIn() bool {
	return app.session.User() != nil
}

func (app *App) getStatus() string {
	s := app.path
	if u := app.session.User(); u != nil {
		s = fmt.Sprintf("(%s %s) %s", u.Email, u.Role, s)
	}
	return s
}
