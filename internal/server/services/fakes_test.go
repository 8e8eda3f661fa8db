package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/dbx"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
	"github.com/dmitrijs2005/consentdesk/internal/profiles"
	"github.com/dmitrijs2005/consentdesk/internal/server/config"
	"github.com/dmitrijs2005/consentdesk/internal/server/models"
	"github.com/dmitrijs2005/consentdesk/internal/server/repositories/recoverytokens"
	"github.com/dmitrijs2005/consentdesk/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/consentdesk/internal/server/repositories/users"
)

// memRepos is an in-memory RepositoryManager; every DBTX shares one state.
type memRepos struct {
	mu       sync.Mutex
	nextID   int
	users    map[string]*models.User
	refresh  map[string]*models.RefreshToken
	recovery map[string]*models.RecoveryToken

	getErr    error
	createErr error
}

func newMemRepos() *memRepos {
	return &memRepos{
		users:    map[string]*models.User{},
		refresh:  map[string]*models.RefreshToken{},
		recovery: map[string]*models.RecoveryToken{},
	}
}

func (m *memRepos) RunMigrations(context.Context, *sql.DB) error          { return nil }
func (m *memRepos) Users(dbx.DBTX) users.Repository                       { return memUsers{m} }
func (m *memRepos) RefreshTokens(dbx.DBTX) refreshtokens.Repository       { return memRefresh{m} }
func (m *memRepos) RecoveryTokens(dbx.DBTX) recoverytokens.Repository     { return memRecovery{m} }
func (m *memRepos) Profiles(dbx.DBTX) profiles.Store                      { return profiles.NewMemoryStore() }

type memUsers struct{ m *memRepos }

func (r memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.createErr != nil {
		return nil, r.m.createErr
	}
	for _, x := range r.m.users {
		if x.Email == u.Email {
			return nil, common.ErrAlreadyExists
		}
	}
	r.m.nextID++
	u.ID = fmt.Sprintf("u-%d", r.m.nextID)
	u.CreatedAt = time.Now()
	c := *u
	r.m.users[u.ID] = &c
	return u, nil
}

func (r memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.getErr != nil {
		return nil, r.m.getErr
	}
	for _, x := range r.m.users {
		if x.Email == email {
			c := *x
			return &c, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	x, ok := r.m.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *x
	return &c, nil
}

func (r memUsers) UpdateVerifier(_ context.Context, id, verifier string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	x, ok := r.m.users[id]
	if !ok {
		return common.ErrNotFound
	}
	x.Verifier = verifier
	return nil
}

func (r memUsers) UpdateMetadata(_ context.Context, id string, meta map[string]any) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	x, ok := r.m.users[id]
	if !ok {
		return common.ErrNotFound
	}
	x.Metadata = meta
	return nil
}

type memRefresh struct{ m *memRepos }

func (r memRefresh) Create(_ context.Context, userID, token string, validity time.Duration) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.refresh[token] = &models.RefreshToken{UserID: userID, Token: token, Expires: time.Now().Add(validity)}
	return nil
}

func (r memRefresh) Find(_ context.Context, token string) (*models.RefreshToken, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.refresh[token]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r memRefresh) Delete(_ context.Context, token string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.refresh, token)
	return nil
}

func (r memRefresh) DeleteForUser(_ context.Context, userID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for k, t := range r.m.refresh {
		if t.UserID == userID {
			delete(r.m.refresh, k)
		}
	}
	return nil
}

type memRecovery struct{ m *memRepos }

func (r memRecovery) Create(_ context.Context, userID, token string, validity time.Duration) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.recovery[token] = &models.RecoveryToken{UserID: userID, Token: token, Expires: time.Now().Add(validity)}
	return nil
}

func (r memRecovery) Consume(_ context.Context, token string) (string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.recovery[token]
	if !ok || t.UsedAt != nil || t.Expires.Before(time.Now()) {
		return "", common.ErrRecoveryExpired
	}
	now := time.Now()
	t.UsedAt = &now
	return t.UserID, nil
}

type fakeMailer struct {
	mu    sync.Mutex
	email string
	link  string
	err   error
}

func (f *fakeMailer) SendRecovery(_ context.Context, email, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.email, f.link = email, link
	return f.err
}

// newAccountService runs against an in-memory SQLite handle so transactions
// begin and commit for real while the repositories stay in memory.
func newAccountService(t *testing.T) (*AccountService, *memRepos, *fakeMailer) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		SecretKey:                     "k",
		AccessTokenValidityDuration:   time.Hour,
		RefreshTokenValidityDuration:  2 * time.Hour,
		RecoveryTokenValidityDuration: time.Hour,
	}
	repos := newMemRepos()
	mailer := &fakeMailer{}
	return NewAccountService(db, repos, cfg, mailer, logging.Nop{}), repos, mailer
}
