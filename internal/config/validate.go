package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	var errs *multierror.Error

	durations := map[string]string{
		"source.timeout":                cfg.Source.Timeout,
		"source.meta_cache_ttl":         cfg.Source.MetaCacheTTL,
		"storage.busy_timeout":          cfg.Storage.BusyTimeout,
		"scheduler.default_lookback":    cfg.Scheduler.DefaultLookback,
		"scheduler.breaker.base_delay":  cfg.Scheduler.Breaker.BaseDelay,
		"scheduler.breaker.max_delay":   cfg.Scheduler.Breaker.MaxDelay,
		"scheduler.breaker.reset_after": cfg.Scheduler.Breaker.ResetAfter,
		"dispatcher.retry_base":         cfg.Dispatcher.RetryBase,
		"dispatcher.retry_max_delay":    cfg.Dispatcher.RetryMaxDelay,
		"dispatcher.send_timeout":       cfg.Dispatcher.SendTimeout,
		"dispatcher.redis.ttl":          cfg.Dispatcher.Redis.TTL,
		"channels.chat_webhook.timeout": cfg.Channels.ChatWebhook.Timeout,
		"channels.webhook.timeout":      cfg.Channels.Webhook.Timeout,
		"channels.telegram.timeout":     cfg.Channels.Telegram.Timeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Source.Kind)) {
	case "", "github", "atom":
	default:
		errs = multierror.Append(errs, fmt.Errorf("source.kind: unknown %q (want github|atom)", cfg.Source.Kind))
	}
	if cfg.Source.RatePerSec < 0 {
		errs = multierror.Append(errs, fmt.Errorf("source.rate_per_sec: must be >= 0"))
	}
	caps := cfg.Source.Caps
	if caps.Commits < 0 || caps.PullRequests < 0 || caps.Issues < 0 || caps.Releases < 0 {
		errs = multierror.Append(errs, fmt.Errorf("source.caps: must be >= 0"))
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch driver {
	case "", "sqlite", "sqlite3", "memory":
	case "postgres", "postgresql":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = multierror.Append(errs, fmt.Errorf("storage.dsn: required for postgres"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if cfg.Scheduler.MaxConcurrentCycles < 0 {
		errs = multierror.Append(errs, fmt.Errorf("scheduler.max_concurrent_cycles: must be >= 0"))
	}
	if cfg.Scheduler.TopN < 0 {
		errs = multierror.Append(errs, fmt.Errorf("scheduler.top_n: must be >= 0"))
	}

	if cfg.Dispatcher.MaxAttempts < 0 {
		errs = multierror.Append(errs, fmt.Errorf("dispatcher.max_attempts: must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Dispatcher.Ledger)) {
	case "", "sql", "memory":
	case "redis":
		if strings.TrimSpace(cfg.Dispatcher.Redis.Addr) == "" {
			errs = multierror.Append(errs, fmt.Errorf("dispatcher.redis.addr: required for redis ledger"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("dispatcher.ledger: unknown %q (want sql|redis|memory)", cfg.Dispatcher.Ledger))
	}
	if driver == "memory" && strings.EqualFold(strings.TrimSpace(cfg.Dispatcher.Ledger), "sql") {
		errs = multierror.Append(errs, fmt.Errorf("dispatcher.ledger: sql ledger needs a sql storage driver"))
	}

	if e := cfg.Channels.Email; e.Host != "" && (e.Port <= 0 || e.Port > 65535) {
		errs = multierror.Append(errs, fmt.Errorf("channels.email.port: out of range"))
	}

	return errs.ErrorOrNil()
}
