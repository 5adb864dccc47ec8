package config

// Config is the root of sentinel's configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Source     SourceConfig     `json:"source"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Channels   ChannelsConfig   `json:"channels"`
	HTTP       HTTPConfig       `json:"http"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	JSON    bool              `json:"json,omitempty"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SourceConfig selects and tunes the activity source.
//
// Defaults (when fields are omitted/zero):
//   - kind: "github"
//   - base_url: "https://api.github.com"
//   - timeout: "30s"
//   - rate_per_sec: 5
//   - caps: commits 50, pull_requests 25, issues 25, releases 25
//   - meta_cache_ttl: "1h"
//
// Token may be left empty and supplied through SENTINEL_GITHUB_TOKEN.
type SourceConfig struct {
	Kind         string     `json:"kind,omitempty"`
	BaseURL      string     `json:"base_url,omitempty"`
	FeedBaseURL  string     `json:"feed_base_url,omitempty"`
	Token        string     `json:"token,omitempty"`
	Timeout      string     `json:"timeout,omitempty"`
	RatePerSec   float64    `json:"rate_per_sec,omitempty"`
	SSRFGuard    bool       `json:"ssrf_guard,omitempty"`
	Caps         CapsConfig `json:"caps"`
	MetaCacheTTL string     `json:"meta_cache_ttl,omitempty"`
}

type CapsConfig struct {
	Commits      int `json:"commits,omitempty"`
	PullRequests int `json:"pull_requests,omitempty"`
	Issues       int `json:"issues,omitempty"`
	Releases     int `json:"releases,omitempty"`
}

// StorageConfig selects the subscription store.
//
// Driver is one of "sqlite" (default), "postgres" or "memory".
// For sqlite, DSN is a file path; for postgres, a connection URL.
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the tick cadence and cycle execution.
//
// Defaults:
//   - tick: "@every 1m" (any robfig/cron spec, or a plain duration)
//   - timezone: "UTC"
//   - default_lookback: "168h"
//   - max_concurrent_cycles: 4
//   - top_n: 10
//   - history_size: 200
type SchedulerConfig struct {
	Tick                string        `json:"tick,omitempty"`
	Timezone            string        `json:"timezone,omitempty"`
	DefaultLookback     string        `json:"default_lookback,omitempty"`
	MaxConcurrentCycles int           `json:"max_concurrent_cycles,omitempty"`
	TopN                int           `json:"top_n,omitempty"`
	HistorySize         int           `json:"history_size,omitempty"`
	Breaker             BreakerConfig `json:"breaker"`
}

// BreakerConfig pauses subscriptions whose repository keeps coming back as
// not found. trip_failures < 0 disables it.
//
// Defaults: trip_failures 3, base_delay "5m", max_delay "6h", reset_after "24h".
type BreakerConfig struct {
	TripFailures int    `json:"trip_failures,omitempty"`
	BaseDelay    string `json:"base_delay,omitempty"`
	MaxDelay     string `json:"max_delay,omitempty"`
	ResetAfter   string `json:"reset_after,omitempty"`
}

// DispatcherConfig controls channel delivery.
//
// Defaults:
//   - max_attempts: 3
//   - retry_base: "2s"
//   - retry_max_delay: "1m"
//   - send_timeout: "30s"
//   - rate_per_sec: 5
//   - ledger: "sql" ("memory" when storage is memory; "redis" needs redis.addr)
type DispatcherConfig struct {
	MaxAttempts   int         `json:"max_attempts,omitempty"`
	RetryBase     string      `json:"retry_base,omitempty"`
	RetryMaxDelay string      `json:"retry_max_delay,omitempty"`
	SendTimeout   string      `json:"send_timeout,omitempty"`
	RatePerSec    float64     `json:"rate_per_sec,omitempty"`
	HistorySize   int         `json:"history_size,omitempty"`
	Ledger        string      `json:"ledger,omitempty"`
	Redis         RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	// TTL bounds how long a delivered marker is kept. Default "720h".
	TTL string `json:"ttl,omitempty"`
}

type ChannelsConfig struct {
	Email       EmailConfig       `json:"email"`
	ChatWebhook HTTPChannelConfig `json:"chat_webhook"`
	Webhook     HTTPChannelConfig `json:"webhook"`
	Telegram    TelegramConfig    `json:"telegram"`
}

type EmailConfig struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from,omitempty"`
}

// HTTPChannelConfig tunes webhook-style channels. Timeout defaults to "15s".
type HTTPChannelConfig struct {
	Timeout   string `json:"timeout,omitempty"`
	SSRFGuard bool   `json:"ssrf_guard,omitempty"`
}

// TelegramConfig enables the telegram channel. Timeout bounds each Bot API
// request and defaults to "15s".
type TelegramConfig struct {
	Token   string `json:"token,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// HTTPConfig controls the ops endpoint. Empty addr disables it.
//
// A non-loopback addr requires token or allow_insecure. The token may be
// supplied through SENTINEL_HTTP_TOKEN.
type HTTPConfig struct {
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
