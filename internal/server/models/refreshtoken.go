package models

import "time"

// RefreshToken is a stored refresh token. Token holds the sha256 of the
// opaque value handed to the client.
type RefreshToken struct {
	UserID    string
	Token     string
	Expires   time.Time
	CreatedAt time.Time
}

// RecoveryToken is a one-time password recovery token, stored hashed.
type RecoveryToken struct {
	UserID  string
	Token   string
	Expires time.Time
	UsedAt  *time.Time
}
