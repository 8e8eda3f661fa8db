// Package profiles reads and writes the per-user profile records that carry
// display name, organization and role.
package profiles

import (
	"context"

	"github.com/dmitrijs2005/consentdesk/internal/identity"
)

// Store looks profiles up by subject id. Get returns common.ErrNotFound when
// there is no row. Upsert inserts or updates; a duplicate-key outcome is not
// an error.
type Store interface {
	Get(ctx context.Context, id string) (*identity.Profile, error)
	Upsert(ctx context.Context, p *identity.Profile) error
}
