package identity

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedSession is returned when a persisted session cannot be decoded.
var ErrMalformedSession = errors.New("malformed session")

// User is the raw identity embedded in a session.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

// Session is the token pair plus identity issued by the auth backend. The
// JSON layout matches what the hosted SDK persists in browser storage, so a
// stored value can be read back by any component.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	User         User   `json:"user"`
}

// Claims are the identity claims embedded in a session.
type Claims struct {
	Subject string
	Email   string
	// Role is the raw role claim; it may be empty or invalid.
	Role string
}

// tokenClaims is the access-token payload shape of the hosted backend.
type tokenClaims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
}

// Claims extracts the embedded claims. The access token payload is decoded
// without verification; the backend that issued it owns verification. When
// the token cannot be decoded the raw user metadata is used instead.
func (s *Session) Claims() Claims {
	c := Claims{Subject: s.User.ID, Email: s.User.Email}

	tc := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, tc); err == nil {
		if tc.Subject != "" {
			c.Subject = tc.Subject
		}
		if tc.Email != "" {
			c.Email = tc.Email
		}
		c.Role = roleFromMetadata(tc.AppMetadata, tc.UserMetadata)
		if c.Role != "" {
			return c
		}
	}

	c.Role = roleFromMetadata(s.User.AppMetadata, s.User.UserMetadata)
	return c
}

// Expired reports whether the access token expires before now+margin.
// A session without an expiry never expires.
func (s *Session) Expired(now time.Time, margin time.Duration) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return now.Add(margin).Unix() >= s.ExpiresAt
}

// roleFromMetadata returns the first non-empty "role" in sources. Callers
// pass app_metadata first: only the backend's service role can write it,
// while user_metadata is writable by the user through sign-up and
// updateUser. user_metadata is still read because the local backend and
// admin-created accounts carry the role there.
func roleFromMetadata(sources ...map[string]any) string {
	for _, m := range sources {
		if v, ok := m["role"].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// ParseStoredSession decodes a persisted session. Two layouts are accepted:
// the session object itself, and the cookie layout, a JSON array whose first
// two items are the access and refresh tokens.
func ParseStoredSession(raw []byte) (*Session, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, ErrMalformedSession
	}

	if strings.HasPrefix(trimmed, "[") {
		var items []*string
		if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
			return nil, errors.Join(ErrMalformedSession, err)
		}
		if len(items) == 0 || items[0] == nil || *items[0] == "" {
			return nil, ErrMalformedSession
		}
		s := &Session{AccessToken: *items[0]}
		if len(items) > 1 && items[1] != nil {
			s.RefreshToken = *items[1]
		}
		fillFromToken(s)
		return s, nil
	}

	s := &Session{}
	if err := json.Unmarshal([]byte(trimmed), s); err != nil {
		return nil, errors.Join(ErrMalformedSession, err)
	}
	if s.AccessToken == "" {
		return nil, ErrMalformedSession
	}
	if s.User.ID == "" || s.User.Email == "" {
		fillFromToken(s)
	}
	return s, nil
}

// fillFromToken copies identity fields out of the token payload when the
// stored value does not carry them.
func fillFromToken(s *Session) {
	tc := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, tc); err != nil {
		return
	}
	if s.User.ID == "" {
		s.User.ID = tc.Subject
	}
	if s.User.Email == "" {
		s.User.Email = tc.Email
	}
	if s.User.UserMetadata == nil {
		s.User.UserMetadata = tc.UserMetadata
	}
	if s.User.AppMetadata == nil {
		s.User.AppMetadata = tc.AppMetadata
	}
	if s.ExpiresAt == 0 && tc.ExpiresAt != nil {
		s.ExpiresAt = tc.ExpiresAt.Unix()
	}
}

// Marshal encodes the session in its persisted layout.
func (s *Session) Marshal() ([]byte, error) {
	return json.Marshal(s)
}
