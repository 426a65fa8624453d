package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig       = "CLOUDSTACK_CONFIG"
	EnvBaseURL      = "CLOUDSTACK_BASE_URL"
	EnvSessionStore = "CLOUDSTACK_SESSION_STORE"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string // CLOUDSTACK_CONFIG
	BaseURL      string // CLOUDSTACK_BASE_URL
	SessionStore string // CLOUDSTACK_SESSION_STORE
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		BaseURL:      os.Getenv(EnvBaseURL),
		SessionStore: os.Getenv(EnvSessionStore),
	}
}
