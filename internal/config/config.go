// Package config provides the configuration schema and loader for the
// Voxdesk voice assistant.
package config

// LogLevel controls log verbosity for the Voxdesk server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Voxdesk.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Live   LiveConfig   `yaml:"live"`
	Store  StoreConfig  `yaml:"store"`
	Audio  AudioConfig  `yaml:"audio"`
}

// ServerConfig holds network and logging settings for the admin endpoint.
type ServerConfig struct {
	// ListenAddr is the TCP address the health/metrics server listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LiveConfig configures the Gemini Live speech session.
type LiveConfig struct {
	// APIKey authenticates against the Gemini API. When empty, the
	// GEMINI_API_KEY environment variable is used instead.
	APIKey string `yaml:"api_key"`

	// Model selects the live model. Empty uses the built-in default.
	Model string `yaml:"model"`

	// BaseURL overrides the WebSocket endpoint, mainly for testing.
	BaseURL string `yaml:"base_url"`

	// Voice selects the prebuilt reply voice (e.g., "Puck").
	Voice string `yaml:"voice"`
}

// StoreConfig configures the dashboard database.
type StoreConfig struct {
	// PostgresDSN is the connection string for the dashboard database.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// AudioConfig tunes the capture pipeline.
type AudioConfig struct {
	// FrameSamples is the number of 16 kHz samples per outbound frame.
	// 0 uses the default (4096, roughly a quarter second).
	FrameSamples int `yaml:"frame_samples"`

	// OutputSampleRate is the playback device rate in Hz. 0 uses 24000,
	// the rate reply audio arrives at.
	OutputSampleRate int `yaml:"output_sample_rate"`
}

// Default returns a Config with sensible defaults for local use.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Live: LiveConfig{
			Voice: "Puck",
		},
		Audio: AudioConfig{
			FrameSamples:     4096,
			OutputSampleRate: 24000,
		},
	}
}
