package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/consentdesk/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-f", "-b", "-d", "-u", "-o", "-t"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DBPath, "f", cfg.DBPath, "credential database file")
	fs.StringVar(&cfg.AuthBackend, "b", cfg.AuthBackend, "auth backend (local|supabase)")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database DSN")
	fs.StringVar(&cfg.SupabaseURL, "u", cfg.SupabaseURL, "hosted auth backend URL")
	fs.StringVar(&cfg.OverrideEmail, "o", cfg.OverrideEmail, "superuser override email")
	opTimeout := fs.Int("t", int(cfg.OpTimeout.Seconds()), "operation timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OpTimeout = time.Duration(*opTimeout) * time.Second
}
