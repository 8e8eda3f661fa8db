package profiles

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
)

const profilesTable = "profiles"

// profileRow is the PostgREST representation of a profiles row.
type profileRow struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Organization *string   `json:"organization"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type profileInsert struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Organization *string `json:"organization"`
	Role         string  `json:"role"`
}

// SupabaseStore reads and writes profiles through the project's REST API.
// Requests are issued with the project key; row level security applies.
type SupabaseStore struct {
	client *supabase.Client
}

func NewSupabaseStore(client *supabase.Client) *SupabaseStore {
	return &SupabaseStore{client: client}
}

func (s *SupabaseStore) Get(ctx context.Context, id string) (*identity.Profile, error) {
	var rows []profileRow
	err := run(ctx, func() error {
		_, err := s.client.From(profilesTable).Select("*", "", false).Eq("id", id).ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("select profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, common.ErrNotFound
	}

	r := rows[0]
	p := &identity.Profile{
		ID:        r.ID,
		Name:      r.Name,
		Role:      identity.Role(r.Role),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Organization != nil {
		p.Organization = *r.Organization
	}
	return p, nil
}

func (s *SupabaseStore) Upsert(ctx context.Context, p *identity.Profile) error {
	payload := profileInsert{ID: p.ID, Name: p.Name, Role: string(p.Role)}
	if p.Organization != "" {
		org := p.Organization
		payload.Organization = &org
	}

	err := run(ctx, func() error {
		_, _, err := s.client.From(profilesTable).Insert(payload, true, "id", "minimal", "").Execute()
		return err
	})
	if err != nil {
		if isDuplicateKey(err) {
			return nil
		}
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// run executes fn in its own goroutine; the REST client takes no context.
func run(ctx context.Context, fn func() error) error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", common.ErrUnavailable, ctx.Err())
	case err := <-ch:
		return err
	}
}

// isDuplicateKey recognises the REST rendering of a unique violation.
func isDuplicateKey(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}
