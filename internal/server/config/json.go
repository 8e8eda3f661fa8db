package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/consentdesk/internal/flagx"
	"github.com/dmitrijs2005/consentdesk/internal/timex"
)

// JsonConfig is the on-disk layout of the server config file. Durations use
// timex.Duration so both "15m" and integer nanoseconds are accepted.
// Absent fields leave the current value untouched.
type JsonConfig struct {
	HTTPAddr                      string         `json:"http_addr"`
	GRPCHealthAddr                string         `json:"grpc_health_addr"`
	DatabaseDSN                   string         `json:"database_dsn"`
	AuthBackend                   string         `json:"auth_backend"`
	SupabaseURL                   string         `json:"supabase_url"`
	SupabaseKey                   string         `json:"supabase_key"`
	SupabaseProjectRef            string         `json:"supabase_project_ref"`
	SecretKey                     string         `json:"secret_key"`
	AccessTokenValidityDuration   timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration  timex.Duration `json:"refresh_token_validity_duration"`
	RecoveryTokenValidityDuration timex.Duration `json:"recovery_token_validity_duration"`
	SiteURL                       string         `json:"site_url"`
	OverrideEmail                 string         `json:"override_email"`
	OverrideRole                  string         `json:"override_role"`
	S3AccessKey                   string         `json:"s3_access_key"`
	S3SecretKey                   string         `json:"s3_secret_key"`
	S3Bucket                      string         `json:"s3_bucket"`
	S3Prefix                      string         `json:"s3_prefix"`
	S3Region                      string         `json:"s3_region"`
	S3BaseEndpoint                string         `json:"s3_base_endpoint"`
	SessionTTL                    timex.Duration `json:"session_ttl"`
	OpTimeout                     timex.Duration `json:"op_timeout"`
	LoginRate                     float64        `json:"login_rate"`
	LoginBurst                    int            `json:"login_burst"`
	OTLPEndpoint                  string         `json:"otlp_endpoint"`
	LogLevel                      string         `json:"log_level"`
}

// parseJson loads the file named by -c/-config, if any, over config.
// An unreadable file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCHealthAddr, c.GRPCHealthAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.AuthBackend, c.AuthBackend)
	setString(&config.SupabaseURL, c.SupabaseURL)
	setString(&config.SupabaseKey, c.SupabaseKey)
	setString(&config.SupabaseProjectRef, c.SupabaseProjectRef)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setDuration(&config.RecoveryTokenValidityDuration, c.RecoveryTokenValidityDuration)
	setString(&config.SiteURL, c.SiteURL)
	setString(&config.OverrideEmail, c.OverrideEmail)
	setString(&config.OverrideRole, c.OverrideRole)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Prefix, c.S3Prefix)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setDuration(&config.SessionTTL, c.SessionTTL)
	setDuration(&config.OpTimeout, c.OpTimeout)
	if c.LoginRate > 0 {
		config.LoginRate = c.LoginRate
	}
	if c.LoginBurst > 0 {
		config.LoginBurst = c.LoginBurst
	}
	setString(&config.OTLPEndpoint, c.OTLPEndpoint)
	setString(&config.LogLevel, c.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
