// Package server wires the console backend together: storage, the auth
// backend, role resolution, the console session registry and the HTTP and
// gRPC health listeners.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/supabase-community/supabase-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/consentdesk/internal/authclient"
	"github.com/dmitrijs2005/consentdesk/internal/bootstrap"
	"github.com/dmitrijs2005/consentdesk/internal/credstore"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
	"github.com/dmitrijs2005/consentdesk/internal/override"
	"github.com/dmitrijs2005/consentdesk/internal/profiles"
	"github.com/dmitrijs2005/consentdesk/internal/resolver"
	"github.com/dmitrijs2005/consentdesk/internal/server/config"
	gs "github.com/dmitrijs2005/consentdesk/internal/server/grpc"
	"github.com/dmitrijs2005/consentdesk/internal/server/httpapi"
	"github.com/dmitrijs2005/consentdesk/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/consentdesk/internal/server/services"
	"github.com/dmitrijs2005/consentdesk/internal/server/telemetry"
	"github.com/dmitrijs2005/consentdesk/internal/sessionctx"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	newAuth  func(store credstore.Store) *authclient.Keeper
	profiles profiles.Store
	resolver *resolver.Service
	policy   override.Policy
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)
	app := &App{config: c, logger: logger}

	switch c.AuthBackend {
	case config.BackendLocal:
		if err := app.initLocal(ctx); err != nil {
			return nil, err
		}
	case config.BackendSupabase:
		if err := app.initSupabase(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown auth backend %q", c.AuthBackend)
	}

	auditor, err := app.auditor(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.policy = override.NewPolicy(c.OverrideEmail, identity.Role(c.OverrideRole))
	app.resolver = resolver.NewService(app.profiles, app.policy, auditor, logger, c.OpTimeout)
	return app, nil
}

func (app *App) initLocal(ctx context.Context) error {
	db, err := repomanager.OpenPostgres(ctx, app.config.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}
	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("migrations error: %w", err)
	}

	accounts := services.NewAccountService(db, rm, app.config, services.LogMailer{Log: app.logger}, app.logger)
	app.db = db
	app.profiles = rm.Profiles(db)
	app.newAuth = func(store credstore.Store) *authclient.Keeper {
		return authclient.NewLocal(accounts, store, app.logger)
	}
	return nil
}

func (app *App) initSupabase() error {
	c := app.config
	if c.SupabaseURL == "" || c.SupabaseKey == "" {
		return errors.New("supabase backend needs a URL and an anon key")
	}
	client, err := supabase.NewClient(c.SupabaseURL, c.SupabaseKey, nil)
	if err != nil {
		return fmt.Errorf("supabase client error: %w", err)
	}

	ref := c.SupabaseProjectRef
	if ref == "" {
		ref = authclient.ProjectRefFromURL(c.SupabaseURL)
	}
	app.profiles = profiles.NewSupabaseStore(client)
	app.newAuth = func(store credstore.Store) *authclient.Keeper {
		return authclient.NewSupabase(client, ref, store, app.logger)
	}
	return nil
}

// auditor logs every override event and also ships it to S3 when a bucket
// is configured.
func (app *App) auditor(ctx context.Context) (override.Auditor, error) {
	c := app.config
	logAuditor := override.NewLogAuditor(app.logger)
	if c.S3Bucket == "" {
		return logAuditor, nil
	}
	s3a, err := override.NewS3AuditorFromConfig(ctx, override.S3Config{
		Region:       c.S3Region,
		Endpoint:     c.S3BaseEndpoint,
		AccessKey:    c.S3AccessKey,
		SecretKey:    c.S3SecretKey,
		Bucket:       c.S3Bucket,
		Prefix:       c.S3Prefix,
		UsePathStyle: c.S3BaseEndpoint != "",
	})
	if err != nil {
		return nil, fmt.Errorf("audit storage error: %w", err)
	}
	return override.MultiAuditor{logAuditor, s3a}, nil
}

// buildBundle gives a new console session its own credential namespace and
// Session Context. The bootstrapper runs before the context initialises and
// again on every page load, against the bundle's own store.
func (app *App) buildBundle(ctx context.Context, id string) (*httpapi.Bundle, error) {
	store := credstore.NewMemoryStore()
	flags := credstore.NewFlags()
	auth := app.newAuth(store)
	log := app.logger.With("console_session", id)

	boot := bootstrap.New(store, flags, app.policy, auth.StorageKey(), log)
	res := boot.Run(ctx)

	sess := sessionctx.New(auth, app.resolver, app.profiles, flags, log, sessionctx.Config{
		SiteURL:   app.config.SiteURL,
		OpTimeout: app.config.OpTimeout,
		Bootstrap: boot,
	})
	sess.Bootstrapped(ctx, res)
	sess.Init(ctx)

	return &httpapi.Bundle{Store: store, Flags: flags, Auth: auth, Session: sess}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	app.initSignalHandler(cancelFunc)

	app.logger.Info(ctx, "Starting app...", "backend", app.config.AuthBackend)

	shutdownTracing, err := telemetry.Init(ctx, app.config.OTLPEndpoint)
	if err != nil {
		app.logger.Warn(ctx, "tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	serviceName := ""
	if app.config.OTLPEndpoint != "" {
		serviceName = telemetry.ServiceName
	}

	registry := httpapi.NewRegistry(app.buildBundle, app.config.SessionTTL, app.logger)
	limiter := httpapi.NewRateLimiter(rate.Limit(app.config.LoginRate), app.config.LoginBurst)
	handlers := httpapi.NewHandlers(registry, strings.HasPrefix(app.config.SiteURL, "https://"), app.logger)
	e := httpapi.NewServer(handlers, httpapi.Options{ServiceName: serviceName, Limiter: limiter}, app.logger)
	health := gs.NewHealthServer(app.config.GRPCHealthAddr, app.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return registry.Run(gctx) })
	g.Go(func() error { return limiter.Run(gctx) })
	g.Go(func() error { return health.Run(gctx) })
	g.Go(func() error { return app.serveHTTP(gctx, e, health) })

	g.Go(func() error {
		<-gctx.Done()
		health.SetServing(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(shutdownCtx, "http shutdown failed", "error", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			app.logger.Error(shutdownCtx, "tracing shutdown failed", "error", err)
		}
		return nil
	})

	err = g.Wait()
	app.Close()
	app.logger.Info(context.Background(), "Stopped")
	return err
}

func (app *App) serveHTTP(ctx context.Context, e *echo.Echo, health *gs.HealthServer) error {
	ln, err := net.Listen("tcp", app.config.HTTPAddr)
	if err != nil {
		return err
	}
	e.Listener = ln
	health.SetServing(true)

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.HTTPAddr)
	if err := e.Start(app.config.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (app *App) Close() {
	if app.db != nil {
		app.db.Close()
	}
}
