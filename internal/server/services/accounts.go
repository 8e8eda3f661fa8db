// Package services contains server-side business logic. AccountService is
// the self-hosted auth backend: accounts with argon2id password verifiers,
// HS256 access tokens, rotated server-stored refresh tokens and one-time
// password recovery tokens. It implements authclient.Backend.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/consentdesk/internal/authclient"
	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/cryptox"
	"github.com/dmitrijs2005/consentdesk/internal/dbx"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
	"github.com/dmitrijs2005/consentdesk/internal/server/auth"
	"github.com/dmitrijs2005/consentdesk/internal/server/config"
	"github.com/dmitrijs2005/consentdesk/internal/server/models"
	"github.com/dmitrijs2005/consentdesk/internal/server/repositories/repomanager"
)

const minPasswordLen = 6

// Mailer delivers password recovery links.
type Mailer interface {
	SendRecovery(ctx context.Context, email, link string) error
}

// LogMailer writes recovery links to the log instead of sending them.
type LogMailer struct {
	Log logging.Logger
}

func (m LogMailer) SendRecovery(ctx context.Context, email, link string) error {
	m.Log.Info(ctx, "password recovery link", "email", email, "link", link)
	return nil
}

type AccountService struct {
	db                            *sql.DB
	repomanager                   repomanager.RepositoryManager
	jwtSecret                     []byte
	accessTokenValidityDuration   time.Duration
	refreshTokenValidityDuration  time.Duration
	recoveryTokenValidityDuration time.Duration
	mailer                        Mailer
	logger                        logging.Logger
}

var _ authclient.Backend = (*AccountService)(nil)

func NewAccountService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, mailer Mailer, l logging.Logger) *AccountService {
	if mailer == nil {
		mailer = LogMailer{Log: l}
	}
	return &AccountService{
		db:                            db,
		repomanager:                   m,
		jwtSecret:                     []byte(cfg.SecretKey),
		accessTokenValidityDuration:   cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration:  cfg.RefreshTokenValidityDuration,
		recoveryTokenValidityDuration: cfg.RecoveryTokenValidityDuration,
		mailer:                        mailer,
		logger:                        l.With("module", "accounts"),
	}
}

// SignIn verifies the password and issues a new session. Unknown emails and
// wrong passwords are indistinguishable.
func (s *AccountService) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			_, _ = cryptox.VerifyPassword([]byte(password), dummyVerifier())
			return nil, common.ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}

	ok, err := cryptox.VerifyPassword([]byte(password), user.Verifier)
	if err != nil || !ok {
		return nil, common.ErrUnauthorized
	}
	return s.issueSession(ctx, s.db, user)
}

// Refresh rotates the refresh token transactionally and issues a new
// session. Unknown or expired tokens yield common.ErrRefreshTokenExpired.
func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (*identity.Session, error) {
	hashed := cryptox.HashToken(refreshToken)

	token, err := s.repomanager.RefreshTokens(s.db).Find(ctx, hashed)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrRefreshTokenExpired
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	if token.Expires.Before(time.Now()) {
		_ = s.repomanager.RefreshTokens(s.db).Delete(ctx, hashed)
		return nil, common.ErrRefreshTokenExpired
	}

	var session *identity.Session
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.RefreshTokens(tx).Delete(ctx, hashed); err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}
		user, err := s.repomanager.Users(tx).GetByID(ctx, token.UserID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return common.ErrRefreshTokenExpired
			}
			return err
		}
		session, err = s.issueSession(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// SignUp creates an account. The local backend needs no email confirmation,
// so a session for the new account is issued right away; it is up to the
// caller whether to adopt it.
func (s *AccountService) SignUp(ctx context.Context, email, password string, data map[string]any) (*authclient.SignUpResult, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", common.ErrValidation)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password too short", common.ErrValidation)
	}

	user := &models.User{
		Email:    email,
		Verifier: cryptox.HashPassword([]byte(password)),
		Metadata: maps.Clone(data),
	}

	var session *identity.Session
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		created, err := s.repomanager.Users(tx).Create(ctx, user)
		if err != nil {
			return err
		}
		session, err = s.issueSession(ctx, tx, created)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.logger.Info(ctx, "account created", "user_id", user.ID)
	return &authclient.SignUpResult{User: session.User, Session: session}, nil
}

// SignOut revokes the session's refresh token.
func (s *AccountService) SignOut(ctx context.Context, session *identity.Session) error {
	if session == nil || session.RefreshToken == "" {
		return nil
	}
	return s.repomanager.RefreshTokens(s.db).Delete(ctx, cryptox.HashToken(session.RefreshToken))
}

// Recover issues a recovery token and mails a link to redirectTo carrying
// it. Unknown emails succeed silently.
func (s *AccountService) Recover(ctx context.Context, email, redirectTo string) error {
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.logger.Info(ctx, "recovery requested for unknown email")
			return nil
		}
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}

	token, err := common.MakeRandHexString(32)
	if err != nil {
		return common.ErrInternal
	}
	if err := s.repomanager.RecoveryTokens(s.db).Create(ctx, user.ID, cryptox.HashToken(token), s.recoveryTokenValidityDuration); err != nil {
		return err
	}

	return s.mailer.SendRecovery(ctx, user.Email, RecoveryLink(redirectTo, token))
}

// RecoveryLink appends the recovery token to redirectTo in the fragment
// layout the hosted backend uses.
func RecoveryLink(redirectTo, token string) string {
	v := url.Values{}
	v.Set("access_token", token)
	v.Set("type", "recovery")
	return redirectTo + "#" + v.Encode()
}

// RecoverSession consumes a recovery token (passed as the access token) and
// issues a session for its owner.
func (s *AccountService) RecoverSession(ctx context.Context, accessToken, _ string) (*identity.Session, error) {
	var session *identity.Session
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		userID, err := s.repomanager.RecoveryTokens(tx).Consume(ctx, cryptox.HashToken(accessToken))
		if err != nil {
			return err
		}
		user, err := s.repomanager.Users(tx).GetByID(ctx, userID)
		if err != nil {
			return err
		}
		session, err = s.issueSession(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// UpdateUser changes the password and/or merges metadata for the owner of
// accessToken.
func (s *AccountService) UpdateUser(ctx context.Context, accessToken string, patch authclient.UserPatch) (*identity.User, error) {
	claims, err := auth.ParseToken(accessToken, s.jwtSecret)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, common.ErrNoSession
		}
		return nil, err
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}

	if patch.Password != nil {
		if len(*patch.Password) < minPasswordLen {
			return nil, fmt.Errorf("%w: password too short", common.ErrValidation)
		}
		if err := repo.UpdateVerifier(ctx, user.ID, cryptox.HashPassword([]byte(*patch.Password))); err != nil {
			return nil, err
		}
	}
	if len(patch.Data) > 0 {
		meta := maps.Clone(user.Metadata)
		if meta == nil {
			meta = map[string]any{}
		}
		maps.Copy(meta, patch.Data)
		if err := repo.UpdateMetadata(ctx, user.ID, meta); err != nil {
			return nil, err
		}
		user.Metadata = meta
	}

	u := toIdentity(user)
	return &u, nil
}

func (s *AccountService) issueSession(ctx context.Context, db dbx.DBTX, user *models.User) (*identity.Session, error) {
	access, expires, err := auth.GenerateToken(user.ID, user.Email, user.Metadata, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrInternal
	}
	refresh, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, common.ErrInternal
	}
	if err := s.repomanager.RefreshTokens(db).Create(ctx, user.ID, cryptox.HashToken(refresh), s.refreshTokenValidityDuration); err != nil {
		return nil, err
	}
	return &identity.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresAt:    expires.Unix(),
		User:         toIdentity(user),
	}, nil
}

func toIdentity(u *models.User) identity.User {
	return identity.User{ID: u.ID, Email: u.Email, UserMetadata: maps.Clone(u.Metadata)}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var dummyVerifier = sync.OnceValue(func() string {
	return cryptox.HashPassword([]byte("not-a-real-password"))
})
