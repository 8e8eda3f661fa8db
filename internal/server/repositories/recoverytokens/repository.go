// Package recoverytokens stores one-time password recovery tokens.
package recoverytokens

import (
	"context"
	"time"
)

// Repository issues and consumes recovery tokens. Tokens are passed in
// already hashed.
type Repository interface {
	Create(ctx context.Context, userID, token string, validity time.Duration) error

	// Consume marks token used and returns its owner. Unknown, used and
	// expired tokens all yield common.ErrRecoveryExpired.
	Consume(ctx context.Context, token string) (string, error)
}
