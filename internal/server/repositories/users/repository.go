// Package users declares the repository contract for local auth accounts.
package users

import (
	"context"

	"github.com/dmitrijs2005/consentdesk/internal/server/models"
)

// Repository defines persistence operations for accounts.
type Repository interface {
	// Create inserts user and fills its ID and timestamps. A taken email
	// yields common.ErrAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetByEmail and GetByID return common.ErrNotFound when there is no row.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)

	// UpdateVerifier replaces the password verifier.
	UpdateVerifier(ctx context.Context, id, verifier string) error

	// UpdateMetadata replaces the user metadata.
	UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error
}
