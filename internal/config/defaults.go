package config

// Default values for configuration options: layer 0 of the override chain.
const (
	defaultBaseURL         = "http://localhost:7000/api"
	defaultTimeout         = "30s"
	defaultSessionStore    = "file"
	defaultParallelUploads = 4
	defaultBandwidthLimit  = "0"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: defaultBaseURL,
			Timeout: defaultTimeout,
		},
		Session: SessionConfig{
			Store: defaultSessionStore,
		},
		Transfers: TransfersConfig{
			ParallelUploads: defaultParallelUploads,
			BandwidthLimit:  defaultBandwidthLimit,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
