package config

// Config is the agent's configuration file shape.
//
// The file may be JSON or YAML (YAML is coerced to JSON bytes before decoding).
// Unknown keys are rejected so typos are caught on reload instead of silently
// ignored.
type Config struct {
	Device  DeviceConfig  `json:"device"`
	Logging LoggingConfig `json:"logging"`

	Streams StreamsConfig `json:"streams"`
	Uplink  UplinkConfig  `json:"uplink"`

	Commands  CommandsConfig  `json:"commands"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Export    ExportConfig    `json:"export,omitempty"`
	Heartbeat HeartbeatConfig `json:"heartbeat,omitempty"`
}

// DeviceConfig identifies this installation to both backends.
// ID is required; the rest is carried verbatim in device registration calls.
type DeviceConfig struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Model string `json:"model,omitempty"`
	Phone string `json:"phone,omitempty"`
	Code  string `json:"code,omitempty"`
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

type StreamsConfig struct {
	SMS           StreamConfig `json:"sms"`
	Notifications StreamConfig `json:"notifications"`
}

// StreamConfig controls one capture stream.
//
// Enabled is a pointer so we can distinguish "omitted" (default true)
// from an explicit false.
//
// FlushTimeout is in whole seconds and is clamped to [1, 3600] when applied;
// out-of-range values are never a reload error.
//
// Filter is a single "word~mode" rule (mode defaults to "contains"), or the
// literal "~DISABLED~" to drop every event on this stream.
type StreamConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	FlushTimeout int    `json:"flush_timeout,omitempty"`
	Filter       string `json:"filter,omitempty"`
}

// On reports the effective enabled flag (default true when omitted).
func (s StreamConfig) On() bool { return s.Enabled == nil || *s.Enabled }

type UplinkConfig struct {
	Realtime RealtimeConfig `json:"realtime"`
	Batch    BatchConfig    `json:"batch"`
}

// RealtimeConfig configures the low-latency keypath store
// (one write per event in immediate mode).
type RealtimeConfig struct {
	BaseURL string `json:"base_url"`
	Root    string `json:"root,omitempty"`
	Auth    string `json:"auth,omitempty"` // query token (do not log)

	RatePerSec int `json:"rate_per_sec,omitempty"`

	// Timeout is a Go duration string (e.g. "10s").
	Timeout  string `json:"timeout,omitempty"`
	RetryMax int    `json:"retry_max,omitempty"`
}

// BatchConfig configures the REST batch API (one call per flush).
type BatchConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"` // bearer (do not log)

	// Timeout is a Go duration string (e.g. "15s").
	Timeout string `json:"timeout,omitempty"`
}

type CommandsConfig struct {
	// PollEvery is a Go duration string. Empty disables command polling.
	PollEvery string `json:"poll_every,omitempty"`
}

// StorageConfig controls the optional local capture archive.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./agent_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	KeepEvents  int    `json:"keep_events,omitempty"`  // per-stream cap; 0 means default
}

// ExportConfig controls the backup export job.
type ExportConfig struct {
	// Schedule is a cron spec ("0 3 * * *", "@daily", "@every 6h") or empty to
	// disable the recurring job. The export command still works when empty.
	Schedule string `json:"schedule,omitempty"`
	Format   string `json:"format,omitempty"` // "json" (default) or "csv"
	Dir      string `json:"dir,omitempty"`
}

type HeartbeatConfig struct {
	// Every is a Go duration string. Empty disables the heartbeat.
	Every string `json:"every,omitempty"`

	// BatteryPercentage is reported as-is; the agent has no battery probe.
	BatteryPercentage int `json:"battery_percentage,omitempty"`
}
