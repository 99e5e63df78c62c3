// Package settings mirrors the detection server's settings domains and
// provides the debounced auto-saver that writes edits back to the server.
//
// Each domain (audio, security, integrations, notifications, species,
// support) is an independent document on the server, read and written as a
// whole. The [Saver] coalesces rapid successive edits so that a burst of
// changes produces a single PATCH per domain, and suppresses writes whose
// content is identical to what the server already has.
package settings

// Audio configures clip export and retention on the server.
type Audio struct {
	Export    Export    `json:"export"`
	Retention Retention `json:"retention"`
}

// Export controls how detection clips are written to disk.
type Export struct {
	Enabled bool   `json:"enabled"`
	Type    string `json:"type"`    // wav, flac, mp3, opus
	Bitrate string `json:"bitrate"` // only for lossy types, e.g. "96k"
	Path    string `json:"path"`
}

// Retention controls automatic cleanup of stored clips.
type Retention struct {
	Policy   string `json:"policy"` // none, age, usage
	MaxAge   string `json:"maxAge"`
	MaxUsage string `json:"maxUsage"`
	MinClips int    `json:"minClips"`
}

// Security configures access control on the server.
type Security struct {
	Host              string       `json:"host"`
	AutoTLS           bool         `json:"autoTls"`
	BasicAuth         BasicAuth    `json:"basicAuth"`
	AllowSubnetBypass SubnetBypass `json:"allowSubnetBypass"`
}

// BasicAuth enables password protection for the server UI and API.
type BasicAuth struct {
	Enabled  bool   `json:"enabled"`
	Password string `json:"password"`
}

// SubnetBypass exempts a subnet from authentication.
type SubnetBypass struct {
	Enabled bool   `json:"enabled"`
	Subnet  string `json:"subnet"`
}

// Integrations configures forwarding of detections to external services.
type Integrations struct {
	BirdWeather BirdWeather `json:"birdweather"`
	MQTT        MQTT        `json:"mqtt"`
}

// BirdWeather forwards detections to the BirdWeather network.
type BirdWeather struct {
	Enabled   bool    `json:"enabled"`
	ID        string  `json:"id"`
	Threshold float64 `json:"threshold"`
}

// MQTT publishes detections to an MQTT broker.
type MQTT struct {
	Enabled  bool   `json:"enabled"`
	Broker   string `json:"broker"`
	Topic    string `json:"topic"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Notifications configures detection push notifications.
type Notifications struct {
	Enabled   bool                   `json:"enabled"`
	Providers []NotificationProvider `json:"providers"`
}

// NotificationProvider is one delivery channel for notifications.
type NotificationProvider struct {
	Type          string  `json:"type"` // e.g. "webhook", "telegram"
	Enabled       bool    `json:"enabled"`
	Target        string  `json:"target"`
	MinConfidence float64 `json:"minConfidence"`
}

// Species configures per-species inclusion and actions.
type Species struct {
	// Include forces species onto the detection list regardless of range
	// filtering. Entries are canonical "Scientific_Common" names.
	Include []string `json:"include"`

	// Exclude hides species from results entirely.
	Exclude []string `json:"exclude"`

	// Config holds per-species overrides keyed by canonical name.
	Config map[string]SpeciesConfig `json:"config"`
}

// SpeciesConfig overrides detection behaviour for one species.
type SpeciesConfig struct {
	Threshold float64 `json:"threshold"`
	Interval  int     `json:"interval"` // seconds between repeated notifications
}

// Support configures diagnostics sharing.
type Support struct {
	TelemetryEnabled bool `json:"telemetryEnabled"`
	UploadLogs       bool `json:"uploadLogs"`
}
