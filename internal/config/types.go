package config

type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Relay     RelayConfig     `json:"relay"`
	Batching  BatchingConfig  `json:"batching,omitempty"`
	Events    EventsConfig    `json:"events,omitempty"`
	Directory DirectoryConfig `json:"directory"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// ServerConfig controls the admin/webhook HTTP server.
//
// AuthSecret signs and verifies bearer tokens for the admin surface.
// ExternalURL is what registered devices should use to reach this server.
type ServerConfig struct {
	Addr        string `json:"addr"`
	ExternalURL string `json:"external_url,omitempty"`
	AuthSecret  string `json:"auth_secret"`

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// RelayConfig controls the outbound push relay client.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type RelayConfig struct {
	URL        string `json:"url"`
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// BatchingConfig controls episode-added debouncing.
//
// Window is the rolling debounce window (reset by every new episode of the
// same series); MaxWindow is the absolute ceiling measured from the first
// episode of a batch.
type BatchingConfig struct {
	Window    string `json:"window,omitempty"`
	MaxWindow string `json:"max_window,omitempty"`
}

// EventsConfig holds the admin-level per-event-kind switches.
//
// A disabled kind is silenced for everyone; per-user preferences only apply
// when the kind is enabled here.
type EventsConfig struct {
	ItemAdded     *bool `json:"item_added,omitempty"`
	PlaybackStart *bool `json:"playback_start,omitempty"`
	PlaybackStop  *bool `json:"playback_stop,omitempty"`

	// ConfirmRegistrations sends a one-device confirmation push when a new
	// token is registered.
	ConfirmRegistrations bool `json:"confirm_registrations,omitempty"`

	// Language selects the notification language ("en" when omitted).
	Language string `json:"language,omitempty"`
}

// DirectoryConfig controls the user/token store.
//
// Driver values:
//   - "file": JSON file backend (default)
//   - "sqlite": SQLite database file (optional build tag)
type DirectoryConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RateLimitConfig controls admission limits on the registration and
// broadcast endpoints. Windows are Go duration strings.
type RateLimitConfig struct {
	RegistrationMax    int    `json:"registration_max,omitempty"`
	RegistrationWindow string `json:"registration_window,omitempty"`
	BroadcastMax       int    `json:"broadcast_max,omitempty"`
	BroadcastWindow    string `json:"broadcast_window,omitempty"`

	// Staleness controls when unused buckets are garbage-collected.
	Staleness string `json:"staleness,omitempty"`
}
