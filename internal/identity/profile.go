package identity

import (
	"strings"
	"time"
)

// Profile is the persisted per-user record, keyed by the session subject.
type Profile struct {
	ID           string
	Name         string
	Organization string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ResolvedUser is the normalized identity the console works with. It is a
// plain value: replace it, never mutate it.
type ResolvedUser struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         Role   `json:"role"`
	Organization string `json:"organization,omitempty"`
	// Override is set when the role came from the superuser override policy.
	Override bool `json:"override,omitempty"`
}

// LocalPart returns the part of an email before '@' (the whole string if
// there is none).
func LocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}
