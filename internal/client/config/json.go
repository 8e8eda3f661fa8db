package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/consentdesk/internal/flagx"
	"github.com/dmitrijs2005/consentdesk/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
type JsonConfig struct {
	DBPath             string         `json:"db_path"`
	Namespace          string         `json:"namespace"`
	AuthBackend        string         `json:"auth_backend"`
	DatabaseDSN        string         `json:"database_dsn"`
	SecretKey          string         `json:"secret_key"`
	SupabaseURL        string         `json:"supabase_url"`
	SupabaseKey        string         `json:"supabase_key"`
	SupabaseProjectRef string         `json:"supabase_project_ref"`
	SiteURL            string         `json:"site_url"`
	OverrideEmail      string         `json:"override_email"`
	OverrideRole       string         `json:"override_role"`
	OpTimeout          timex.Duration `json:"op_timeout"`
	LogLevel           string         `json:"log_level"`
}

// parseJson overlays Config with values loaded from the file named by -c or
// -config. Only fields present in the file replace the defaults. Panics on
// read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := applyJson(cfg, data); err != nil {
		panic(err)
	}
}

func applyJson(cfg *Config, data []byte) error {
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return err
	}

	setString(&cfg.DBPath, jc.DBPath)
	setString(&cfg.Namespace, jc.Namespace)
	setString(&cfg.AuthBackend, jc.AuthBackend)
	setString(&cfg.DatabaseDSN, jc.DatabaseDSN)
	setString(&cfg.SecretKey, jc.SecretKey)
	setString(&cfg.SupabaseURL, jc.SupabaseURL)
	setString(&cfg.SupabaseKey, jc.SupabaseKey)
	setString(&cfg.SupabaseProjectRef, jc.SupabaseProjectRef)
	setString(&cfg.SiteURL, jc.SiteURL)
	setString(&cfg.OverrideEmail, jc.OverrideEmail)
	setString(&cfg.OverrideRole, jc.OverrideRole)
	setString(&cfg.LogLevel, jc.LogLevel)
	if jc.OpTimeout.Duration != 0 {
		cfg.OpTimeout = jc.OpTimeout.Duration
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
