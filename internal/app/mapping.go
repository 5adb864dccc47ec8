package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/notify"
	"sentinel/internal/observability/httpserver"
	"sentinel/internal/scheduler"
	"sentinel/internal/source"
	"sentinel/internal/storage"
	logx "sentinel/pkg/logx"
)

func mapLogConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		JSON:    c.JSON,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	dsn := strings.TrimSpace(sc.DSN)
	switch driver {
	case "", "sqlite", "sqlite3":
		driver = "sqlite"
	case "postgres", "postgresql":
		driver = "postgres"
		if dsn == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
	case "memory":
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, DSN: dsn, BusyTimeout: busy}, nil
}

func mapSource(cfg *config.Config, log logx.Logger) (source.Source, error) {
	sc := cfg.Source
	timeout, err := config.ParseDurationOrDefault("source.timeout", sc.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	metaTTL, err := config.ParseDurationOrDefault("source.meta_cache_ttl", sc.MetaCacheTTL, time.Hour)
	if err != nil {
		return nil, err
	}
	caps := source.Caps{
		Commits:      sc.Caps.Commits,
		PullRequests: sc.Caps.PullRequests,
		Issues:       sc.Caps.Issues,
		Releases:     sc.Caps.Releases,
	}
	switch strings.ToLower(strings.TrimSpace(sc.Kind)) {
	case "", "github":
		return source.NewGitHub(source.GitHubOptions{
			BaseURL:    sc.BaseURL,
			Token:      sc.Token,
			Timeout:    timeout,
			RatePerSec: sc.RatePerSec,
			Caps:       caps,
			MetaTTL:    metaTTL,
			SSRFGuard:  sc.SSRFGuard,
			Log:        log,
		}), nil
	case "atom":
		return source.NewFeed(source.FeedOptions{
			BaseURL:    sc.FeedBaseURL,
			Timeout:    timeout,
			RatePerSec: sc.RatePerSec,
			Caps:       caps,
			SSRFGuard:  sc.SSRFGuard,
			Log:        log,
		}), nil
	default:
		return nil, fmt.Errorf("unknown source.kind: %s", sc.Kind)
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	lookback, err := config.ParseDurationOrDefault("scheduler.default_lookback", sc.DefaultLookback, 7*24*time.Hour)
	if err != nil {
		return scheduler.Config{}, err
	}
	base, err := config.ParseDurationField("scheduler.breaker.base_delay", sc.Breaker.BaseDelay)
	if err != nil {
		return scheduler.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("scheduler.breaker.max_delay", sc.Breaker.MaxDelay)
	if err != nil {
		return scheduler.Config{}, err
	}
	reset, err := config.ParseDurationField("scheduler.breaker.reset_after", sc.Breaker.ResetAfter)
	if err != nil {
		return scheduler.Config{}, err
	}
	if _, err := scheduler.ParseTick(sc.Tick); err != nil {
		return scheduler.Config{}, fmt.Errorf("scheduler.tick: %w", err)
	}
	return scheduler.Config{
		DefaultLookback:     lookback,
		MaxConcurrent:       sc.MaxConcurrentCycles,
		TopN:                sc.TopN,
		HistorySize:         sc.HistorySize,
		BreakerTripFailures: sc.Breaker.TripFailures,
		BreakerBaseDelay:    base,
		BreakerMaxDelay:     maxDelay,
		BreakerResetAfter:   reset,
	}, nil
}

func mapDispatcherConfig(cfg *config.Config) (notify.Config, error) {
	dc := cfg.Dispatcher
	base, err := config.ParseDurationField("dispatcher.retry_base", dc.RetryBase)
	if err != nil {
		return notify.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("dispatcher.retry_max_delay", dc.RetryMaxDelay)
	if err != nil {
		return notify.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("dispatcher.send_timeout", dc.SendTimeout)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		MaxAttempts:   dc.MaxAttempts,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   sendTimeout,
		RatePerSec:    dc.RatePerSec,
		HistorySize:   dc.HistorySize,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) httpserver.Config {
	return httpserver.Config{
		Addr:          cfg.HTTP.Addr,
		Token:         cfg.HTTP.Token,
		AllowInsecure: cfg.HTTP.AllowInsecure,
		Pprof:         cfg.HTTP.Pprof,
	}
}

// validateConfig rejects a reload that any component would refuse.
func validateConfig(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDispatcherConfig(cfg); err != nil {
		return err
	}
	if _, err := buildChannels(cfg); err != nil {
		return err
	}
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
