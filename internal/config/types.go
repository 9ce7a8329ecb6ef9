package config

// Config is the whole bot configuration. All durations are Go duration
// strings (e.g. "500ms", "10s", "6h").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Engine controls the scheduled-notification core.
	Engine EngineConfig `json:"engine"`

	// Storage is the engine's durable task store.
	Storage StorageConfig `json:"storage"`

	Notifier     *NotifierConfig     `json:"notifier,omitempty"`
	Housekeeping *HousekeepingConfig `json:"housekeeping,omitempty"`
	Pprof        *PprofConfig        `json:"pprof,omitempty"`

	Features FeaturesConfig `json:"features"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"` // default "10s"
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"` // TRACE..ERROR, default INFO
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// EngineConfig controls scheduling policy.
//
// Defaults (when fields are omitted/zero):
//   - retry_delay: "1m"  (one-shot re-attempt delay after a failed fire)
//   - min_interval: "1m" (smallest accepted recurrence)
type EngineConfig struct {
	RetryDelay  string `json:"retry_delay,omitempty"`
	MinInterval string `json:"min_interval,omitempty"`
}

// StorageConfig selects the task store driver.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/tasks.json" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // "file" (default) or "sqlite"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// NotifierConfig controls the async delivery pipeline. If the whole section
// is omitted, the notifier defaults to enabled.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// HousekeepingConfig controls cron-driven maintenance jobs.
//
// Schedules are cron specs or "@every <duration>".
type HousekeepingConfig struct {
	Enabled        bool   `json:"enabled"`
	Timezone       string `json:"timezone,omitempty"`        // IANA TZ for cron specs
	BackupSchedule string `json:"backup_schedule,omitempty"` // default "@every 6h"
	PruneSchedule  string `json:"prune_schedule,omitempty"`  // default "@every 1h"
	StatsSchedule  string `json:"stats_schedule,omitempty"`  // default "0 9 * * *"
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note: prefer binding to localhost. If you bind to a non-loopback
// address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

type FeaturesConfig struct {
	Reminder   ReminderConfig   `json:"reminder"`
	PriceWatch PriceWatchConfig `json:"price_watch"`
	Weather    WeatherConfig    `json:"weather"`
	Currency   CurrencyConfig   `json:"currency"`
	Movies     MoviesConfig     `json:"movies"`
}

type ReminderConfig struct {
	Enabled bool `json:"enabled"`
	// MaxPerOwner caps live reminders per user. 0 = default 50.
	MaxPerOwner int `json:"max_per_owner,omitempty"`
}

type PriceWatchConfig struct {
	Enabled bool `json:"enabled"`
	// MaxPerOwner caps tracked products per user. 0 = default 10.
	MaxPerOwner int `json:"max_per_owner,omitempty"`
	// PollInterval is the fixed re-check recurrence. 0 = default "6h".
	// Users cannot override it per task.
	PollInterval string `json:"poll_interval,omitempty"`
	// HTTPTimeout bounds one shop API call. 0 = default "10s".
	HTTPTimeout string `json:"http_timeout,omitempty"`
}

type WeatherConfig struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"api_key,omitempty"`
}

type CurrencyConfig struct {
	Enabled bool `json:"enabled"`
}

type MoviesConfig struct {
	Enabled bool `json:"enabled"`
}
