package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/dbx"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*identity.Profile, error) {
	query :=
		`SELECT id, name, organization, role, created_at, updated_at FROM profiles
		 WHERE id = $1
		 `

	p := &identity.Profile{}
	var org sql.NullString
	var role string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &org, &role, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	p.Organization = org.String
	p.Role = identity.Role(role)

	return p, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, p *identity.Profile) error {
	query :=
		`INSERT INTO profiles (id, name, organization, role)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET name = EXCLUDED.name, organization = EXCLUDED.organization, role = EXCLUDED.role, updated_at = now()
		 `

	_, err := r.db.ExecContext(ctx, query, p.ID, p.Name, nullable(p.Organization), string(p.Role))
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
