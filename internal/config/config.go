// Package config provides the configuration schema, loader, and file watcher
// for the perch companion client.
package config

import "time"

// LogLevel controls log verbosity.
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

// Config is the root configuration structure for perch.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Playback PlaybackConfig `yaml:"playback"`
	Feed     FeedConfig     `yaml:"feed"`
	Settings SettingsConfig `yaml:"settings"`
	Status   StatusConfig   `yaml:"status"`
	LogLevel LogLevel       `yaml:"log_level"`
}

// ServerConfig describes the detection server perch connects to.
type ServerConfig struct {
	// BaseURL is the root of the server's HTTP API (e.g.,
	// "http://birdnet.local:8080").
	BaseURL string `yaml:"base_url"`

	// Token is an optional Bearer token sent with every request.
	Token string `yaml:"token"`

	// RequestTimeout bounds each API request. Zero means the client default.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Breaker tunes the circuit breaker guarding API calls.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the API circuit breaker. Zero-value fields use the
// breaker defaults.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration `yaml:"cooldown"`
}

// PlaybackConfig tunes clip playback.
type PlaybackConfig struct {
	// FetchTimeout bounds each clip download. Zero means the player default.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// FeedConfig tunes the detection feed.
type FeedConfig struct {
	// PageSize is the number of detections fetched per request.
	PageSize int `yaml:"page_size"`

	// PrefetchThreshold is how close the consumer may get to the end of the
	// loaded window before the next page is fetched.
	PrefetchThreshold int `yaml:"prefetch_threshold"`

	// StartDate and EndDate bound the listing, formatted YYYY-MM-DD.
	// Empty means unbounded.
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
}

// SettingsConfig tunes the settings auto-saver.
type SettingsConfig struct {
	// Debounce is how long the saver waits after the last edit before
	// writing a domain out. Zero means the saver default.
	Debounce time.Duration `yaml:"debounce"`

	// SaveTimeout bounds each settings write. Zero means the saver default.
	SaveTimeout time.Duration `yaml:"save_timeout"`
}

// StatusConfig configures the local status endpoint.
type StatusConfig struct {
	// Enabled turns the status server on.
	Enabled bool `yaml:"enabled"`

	// ListenAddr is the TCP address the status server listens on
	// (e.g., ":9090").
	ListenAddr string `yaml:"listen_addr"`
}
