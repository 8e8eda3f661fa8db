// Package credstore persists the serialized auth session and holds the
// session-scoped transient flags (redirect target, override arming).
package credstore

import "context"

// Store is a persistent key/value store. Get on a missing key returns
// (nil, nil).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}
