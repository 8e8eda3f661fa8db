package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/consentdesk/internal/authclient"
	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/credstore"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
	"github.com/dmitrijs2005/consentdesk/internal/override"
	"github.com/dmitrijs2005/consentdesk/internal/profiles"
	"github.com/dmitrijs2005/consentdesk/internal/resolver"
	"github.com/dmitrijs2005/consentdesk/internal/server/config"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.LogLevel = "error"
	return c
}

func TestNewApp_UnknownBackend(t *testing.T) {
	c := testConfig()
	c.AuthBackend = "ldap"

	_, err := NewApp(context.Background(), c)
	assert.ErrorContains(t, err, `unknown auth backend "ldap"`)
}

func TestNewApp_SupabaseNeedsURL(t *testing.T) {
	c := testConfig()
	c.AuthBackend = config.BackendSupabase
	c.SupabaseURL = ""

	_, err := NewApp(context.Background(), c)
	assert.Error(t, err)
}

func TestNewApp_SupabaseBundle(t *testing.T) {
	c := testConfig()
	c.AuthBackend = config.BackendSupabase
	c.SupabaseURL = "https://abcdef.supabase.co"
	c.SupabaseKey = "anon"
	c.S3Bucket = ""

	app, err := NewApp(context.Background(), c)
	require.NoError(t, err)
	defer app.Close()

	b, err := app.buildBundle(context.Background(), "console-1")
	require.NoError(t, err)
	defer b.Session.Close()

	keeper, ok := b.Auth.(*authclient.Keeper)
	require.True(t, ok)
	assert.Equal(t, common.AuthTokenKey("abcdef"), keeper.StorageKey())
	assert.Nil(t, b.Session.User())
	assert.False(t, b.Session.Loading())
}

func TestApp_AuditorWithoutBucket(t *testing.T) {
	app := &App{config: testConfig(), logger: logging.Nop{}}
	app.config.S3Bucket = ""

	a, err := app.auditor(context.Background())
	require.NoError(t, err)
	_, ok := a.(*override.LogAuditor)
	assert.True(t, ok)
}

func TestApp_AuditorWithBucket(t *testing.T) {
	app := &App{config: testConfig(), logger: logging.Nop{}}
	app.config.S3Bucket = "audit"
	app.config.S3AccessKey = "ak"
	app.config.S3SecretKey = "sk"
	app.config.S3BaseEndpoint = "http://localhost:9000"

	a, err := app.auditor(context.Background())
	require.NoError(t, err)
	m, ok := a.(override.MultiAuditor)
	require.True(t, ok)
	assert.Len(t, m, 2)
}

type stubAccounts struct {
	authclient.Backend
}

func (stubAccounts) SignIn(_ context.Context, email, _ string) (*identity.Session, error) {
	return &identity.Session{
		AccessToken:  "at-" + email,
		RefreshToken: "rt-" + email,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		User:         identity.User{ID: "u-" + email, Email: email},
	}, nil
}

func overrideApp(email string) *App {
	c := testConfig()
	c.OpTimeout = time.Second
	app := &App{
		config:   c,
		logger:   logging.Nop{},
		profiles: profiles.NewMemoryStore(),
		policy:   override.NewPolicy(email, identity.RoleSuperadmin),
	}
	app.newAuth = func(store credstore.Store) *authclient.Keeper {
		return authclient.NewLocal(stubAccounts{}, store, logging.Nop{})
	}
	app.resolver = resolver.NewService(app.profiles, app.policy, override.NewLogAuditor(logging.Nop{}), logging.Nop{}, time.Second)
	return app
}

func TestBuildBundle_PageLoadArmsOverrideAfterSignIn(t *testing.T) {
	ctx := context.Background()
	app := overrideApp("ops@x.io")

	b, err := app.buildBundle(ctx, "console-1")
	require.NoError(t, err)
	defer b.Session.Close()

	u, err := b.Session.Login(ctx, "ops@x.io", "pw")
	require.NoError(t, err)
	assert.Equal(t, identity.RoleClient, u.Role)

	snap := b.Session.Navigate(ctx, "/superadmin")
	require.NotNil(t, snap.User)
	assert.Equal(t, identity.RoleSuperadmin, snap.User.Role)
	assert.True(t, snap.User.Override)

	armed, ok := b.Flags.Get(common.FlagOverrideArmed)
	require.True(t, ok)
	assert.Equal(t, "ops@x.io", armed)
}

func TestBuildBundle_OverrideNeverElevatesOthers(t *testing.T) {
	ctx := context.Background()
	app := overrideApp("ops@x.io")

	b, err := app.buildBundle(ctx, "console-2")
	require.NoError(t, err)
	defer b.Session.Close()

	_, err = b.Session.Login(ctx, "bob@x.io", "pw")
	require.NoError(t, err)

	snap := b.Session.Navigate(ctx, "/superadmin")
	require.NotNil(t, snap.User)
	assert.Equal(t, identity.RoleClient, snap.User.Role)
	assert.False(t, snap.User.Override)
	_, ok := b.Flags.Get(common.FlagOverrideArmed)
	assert.False(t, ok)
}
