package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.BaseURL == "" {
		errs = append(errs, errors.New("server.base_url is required"))
	} else if u, err := url.Parse(cfg.Server.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("server.base_url %q is not a valid URL: %w", cfg.Server.BaseURL, err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("server.base_url scheme %q is invalid; use http or https", u.Scheme))
	}
	if cfg.Server.RequestTimeout < 0 {
		errs = append(errs, errors.New("server.request_timeout must not be negative"))
	}
	if cfg.Server.Breaker.FailureThreshold < 0 {
		errs = append(errs, errors.New("server.breaker.failure_threshold must not be negative"))
	}
	if cfg.Server.Breaker.Cooldown < 0 {
		errs = append(errs, errors.New("server.breaker.cooldown must not be negative"))
	}

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Feed
	if cfg.Feed.PageSize < 0 {
		errs = append(errs, errors.New("feed.page_size must not be negative"))
	}
	if cfg.Feed.PrefetchThreshold < 0 {
		errs = append(errs, errors.New("feed.prefetch_threshold must not be negative"))
	}
	if cfg.Feed.PageSize > 0 && cfg.Feed.PrefetchThreshold >= cfg.Feed.PageSize {
		slog.Warn("feed.prefetch_threshold is at least feed.page_size; every cursor move will trigger a fetch",
			"page_size", cfg.Feed.PageSize,
			"prefetch_threshold", cfg.Feed.PrefetchThreshold,
		)
	}
	errs = append(errs, validateDate("feed.start_date", cfg.Feed.StartDate)...)
	errs = append(errs, validateDate("feed.end_date", cfg.Feed.EndDate)...)
	if cfg.Feed.StartDate != "" && cfg.Feed.EndDate != "" && cfg.Feed.StartDate > cfg.Feed.EndDate {
		errs = append(errs, fmt.Errorf("feed.start_date %q is after feed.end_date %q", cfg.Feed.StartDate, cfg.Feed.EndDate))
	}

	// Settings saver
	if cfg.Settings.Debounce < 0 {
		errs = append(errs, errors.New("settings.debounce must not be negative"))
	}
	if cfg.Settings.SaveTimeout < 0 {
		errs = append(errs, errors.New("settings.save_timeout must not be negative"))
	}

	// Status server
	if cfg.Status.Enabled && cfg.Status.ListenAddr == "" {
		errs = append(errs, errors.New("status.listen_addr is required when status.enabled is true"))
	}

	return errors.Join(errs...)
}

// validateDate checks a YYYY-MM-DD field. Empty is allowed.
func validateDate(field, value string) []error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", value); err != nil {
		return []error{fmt.Errorf("%s %q is not a valid YYYY-MM-DD date", field, value)}
	}
	return nil
}
