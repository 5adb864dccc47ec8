package config

import (
	"reflect"

	logx "sentinel/pkg/logx"
)

// SummarizeChange returns the names of changed top-level sections and safe
// log fields describing them. Secrets (tokens, passwords) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Source, newCfg.Source) {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.kind", newCfg.Source.Kind),
			logx.Bool("source.token_set", newCfg.Source.Token != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick", newCfg.Scheduler.Tick),
			logx.Int("scheduler.max_concurrent_cycles", newCfg.Scheduler.MaxConcurrentCycles),
		)
	}
	if !reflect.DeepEqual(oldCfg.Dispatcher, newCfg.Dispatcher) {
		changed = append(changed, "dispatcher")
		attrs = append(attrs,
			logx.Int("dispatcher.max_attempts", newCfg.Dispatcher.MaxAttempts),
			logx.String("dispatcher.ledger", newCfg.Dispatcher.Ledger),
		)
	}
	if !reflect.DeepEqual(oldCfg.Channels, newCfg.Channels) {
		changed = append(changed, "channels")
		attrs = append(attrs,
			logx.Bool("channels.email", newCfg.Channels.Email.Host != ""),
			logx.Bool("channels.telegram", newCfg.Channels.Telegram.Token != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr))
	}
	return changed, attrs
}

// RequiresRestart reports whether a change cannot be applied live.
// Logging, scheduler, dispatcher and http are applied live.
func RequiresRestart(changed []string) bool {
	for _, c := range changed {
		switch c {
		case "logging", "scheduler", "dispatcher", "http":
		default:
			return true
		}
	}
	return false
}
