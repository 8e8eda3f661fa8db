package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/consentdesk/internal/dbx"
	"github.com/dmitrijs2005/consentdesk/internal/profiles"
	"github.com/dmitrijs2005/consentdesk/internal/server/repositories/recoverytokens"
	"github.com/dmitrijs2005/consentdesk/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/consentdesk/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code
// runs inside and outside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	RecoveryTokens(db dbx.DBTX) recoverytokens.Repository
	Profiles(db dbx.DBTX) profiles.Store
}
