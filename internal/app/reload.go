package app

import (
	"context"
	"strings"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/eventbus"
	logx "sentinel/pkg/logx"
	"sentinel/pkg/systemd"
)

// reloadLoop applies validated config edits until ctx ends.
func (a *App) reloadLoop(ctx context.Context, updates <-chan *config.Config) error {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-updates:
			if !ok {
				return nil
			}
			// Coalesce bursts: only the newest edit matters.
		drain:
			for {
				select {
				case newer := <-updates:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			if next == nil {
				continue
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig pushes the live-reloadable sections into running components.
// Sections that need a restart are only reported.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	changed, attrs := config.SummarizeChange(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reload received, no effective changes")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	for _, section := range changed {
		switch section {
		case "logging":
			a.logs.Apply(mapLogConfig(next.Logging))
		case "scheduler":
			if sc, err := mapSchedulerConfig(next); err != nil {
				a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
			} else {
				a.sched.Apply(sc)
			}
			if err := a.runner.Reschedule(ctx, next.Scheduler.Tick, next.Scheduler.Timezone); err != nil {
				a.log.Warn("invalid tick; keeping previous", logx.Err(err))
			}
		case "dispatcher":
			if nc, err := mapDispatcherConfig(next); err != nil {
				a.log.Warn("invalid dispatcher config; keeping previous", logx.Err(err))
			} else {
				a.disp.Apply(nc)
			}
			if prev.Dispatcher.Ledger != next.Dispatcher.Ledger || prev.Dispatcher.Redis != next.Dispatcher.Redis {
				a.log.Warn("dispatcher ledger changed; restart required")
			}
		case "http":
			rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := a.http.Reconfigure(rctx, mapHTTPConfig(next)); err != nil {
				a.log.Error("ops endpoint reconfigure failed", logx.Err(err))
			}
			cancel()
		default:
			a.log.Warn("config section changed; restart required", logx.String("section", section))
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: changed})
	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
