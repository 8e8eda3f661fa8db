package authclient

import (
	"github.com/dmitrijs2005/consentdesk/internal/credstore"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
)

// LocalStorageKey is the Credential Store key used with the self-hosted
// account service.
const LocalStorageKey = "sb-local-auth-token"

// NewLocal returns a Keeper over the self-hosted account service running in
// the same process.
func NewLocal(accounts Backend, store credstore.Store, log logging.Logger, opts ...Option) *Keeper {
	return NewKeeper(accounts, store, LocalStorageKey, log, opts...)
}
