// Package cli provides the interactive terminal console.
//
// It wires configuration, the local Credential Store, the auth backend and
// one Session Context for the lifetime of the process, then runs a REPL over
// the same guarded routes the web console serves. Typical flow: bootstrap the
// stored session, initialise the context, prompt for commands.
//
// Commands:
//   - login / logout
//   - signup (self sign-up, or account creation from an admin section)
//   - forgot / reset (password recovery)
//   - whoami
//   - go <path> (guarded navigation)
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
