// Package client holds the terminal console's local persistence: an SQLite
// database with embedded goose migrations that backs the Credential Store.
//
// InitDatabase opens (or creates) the file and applies pending migrations.
// RunMigrations is idempotent and may be called on an already open handle.
package client
