// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for cloudstack. Values resolve through
// four layers: defaults, then the config file, then environment, then CLI
// flags.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	API       APIConfig       `toml:"api"`
	Session   SessionConfig   `toml:"session"`
	Transfers TransfersConfig `toml:"transfers"`
	Logging   LoggingConfig   `toml:"logging"`
}

// APIConfig locates the CloudStack API and shapes the HTTP client.
// Timeout applies to metadata calls only; uploads and downloads are bounded
// by the caller's context instead.
type APIConfig struct {
	BaseURL   string `toml:"base_url"`
	Timeout   string `toml:"timeout"`
	UserAgent string `toml:"user_agent"`
}

// TimeoutDuration returns the parsed timeout. Callers run Validate first, so
// a parse failure here means zero (no timeout).
func (a APIConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(a.Timeout)
	if err != nil {
		return 0
	}

	return d
}

// SessionConfig selects where the token pair is kept. An empty Path means
// the backend's default location under the data directory.
type SessionConfig struct {
	Store string `toml:"store"`
	Path  string `toml:"path"`
}

// TransfersConfig controls upload parallelism and throughput.
// BandwidthLimit is a rate such as "5MB/s"; "0" means unlimited.
type TransfersConfig struct {
	ParallelUploads int    `toml:"parallel_uploads"`
	BandwidthLimit  string `toml:"bandwidth_limit"`
}

// LoggingConfig controls log output level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Empty strings mean "not specified".
type CLIOverrides struct {
	ConfigPath string // --config
	BaseURL    string // --base-url
}
