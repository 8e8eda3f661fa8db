package models

import "time"

// User is an account of the local auth backend. Verifier is the encoded
// argon2id password verifier; Metadata is the user metadata echoed into
// access tokens (name, role, organization).
type User struct {
	ID        string
	Email     string
	Verifier  string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}
