package config_test

import (
	"testing"

	"github.com/perchkit/perch/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{BaseURL: "http://birdnet.local:8080"},
		Feed: config.FeedConfig{
			PageSize:          20,
			PrefetchThreshold: 5,
			StartDate:         "2026-08-01",
			EndDate:           "2026-08-24",
		},
		LogLevel: config.LogInfo,
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	d := config.Diff(old, new)
	if d.Changed() {
		t.Errorf("identical configs should produce an empty diff, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged should be true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel: got %q, want %q", d.NewLogLevel, config.LogDebug)
	}
	if d.FeedTuningChanged || d.FeedRangeChanged {
		t.Error("feed flags should be false for a log level change")
	}
}

func TestDiff_FeedTuning(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Feed.PageSize = 50

	d := config.Diff(old, new)
	if !d.FeedTuningChanged {
		t.Fatal("FeedTuningChanged should be true")
	}
	if d.FeedRangeChanged {
		t.Error("FeedRangeChanged should be false when only tuning changed")
	}
	if d.NewFeed.PageSize != 50 {
		t.Errorf("NewFeed.PageSize: got %d, want 50", d.NewFeed.PageSize)
	}
}

func TestDiff_FeedRange(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Feed.EndDate = "2026-08-31"

	d := config.Diff(old, new)
	if !d.FeedRangeChanged {
		t.Fatal("FeedRangeChanged should be true")
	}
	if d.FeedTuningChanged {
		t.Error("FeedTuningChanged should be false when only the range changed")
	}
	if d.NewFeed.EndDate != "2026-08-31" {
		t.Errorf("NewFeed.EndDate: got %q", d.NewFeed.EndDate)
	}
}

func TestDiff_IgnoresRestartOnlyFields(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.BaseURL = "http://other:8080"
	new.Status.Enabled = true
	new.Status.ListenAddr = ":9090"

	if d := config.Diff(old, new); d.Changed() {
		t.Errorf("restart-only fields must not appear in the diff, got %+v", d)
	}
}
