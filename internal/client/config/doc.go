// Package config loads runtime configuration for the terminal console.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults), secrets possibly from
//     the environment (CONSOLE_SECRET_KEY, SUPABASE_URL, SUPABASE_ANON_KEY,
//     SUPABASE_PROJECT_REF and their *_FILE variants).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-f string   path of the SQLite credential database
//	-b string   auth backend: local | supabase
//	-d string   PostgreSQL DSN (local backend)
//	-u string   hosted backend URL (supabase backend)
//	-o string   superuser override email
//	-t int      operation timeout (seconds)
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "15s" or integer nanoseconds:
//
//	{
//	  "db_path": "console.db",
//	  "auth_backend": "supabase",
//	  "supabase_url": "https://abcdef.supabase.co",
//	  "op_timeout": "15s"
//	}
package config
