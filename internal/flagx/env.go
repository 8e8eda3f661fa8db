package flagx

import (
	"os"
	"strings"
)

// EnvOr returns the value of the environment variable key, or fallback when
// it is unset. If key_FILE is set, the trimmed contents of that file win; this
// is how secrets are mounted in containers.
func EnvOr(key, fallback string) string {
	if path := os.Getenv(key + "_FILE"); path != "" {
		if b, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
