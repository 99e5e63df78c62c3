package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (server address, status listener) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// FeedTuningChanged is set when page size or prefetch threshold changed.
	FeedTuningChanged bool

	// FeedRangeChanged is set when the date range changed; the feed window
	// must be reset and refetched.
	FeedRangeChanged bool

	NewFeed FeedConfig
}

// Changed reports whether the diff carries any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.FeedTuningChanged || d.FeedRangeChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	if old.Feed.PageSize != new.Feed.PageSize ||
		old.Feed.PrefetchThreshold != new.Feed.PrefetchThreshold {
		d.FeedTuningChanged = true
	}
	if old.Feed.StartDate != new.Feed.StartDate || old.Feed.EndDate != new.Feed.EndDate {
		d.FeedRangeChanged = true
	}
	if d.FeedTuningChanged || d.FeedRangeChanged {
		d.NewFeed = new.Feed
	}

	return d
}
