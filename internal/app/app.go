// Package app wires configuration into the running pipeline: store, source,
// dispatcher, scheduler, metrics and the ops endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"sentinel/internal/config"
	"sentinel/internal/eventbus"
	"sentinel/internal/metrics"
	"sentinel/internal/notify"
	"sentinel/internal/observability/httpserver"
	rtsup "sentinel/internal/runtime/supervisor"
	"sentinel/internal/scheduler"
	"sentinel/internal/source"
	"sentinel/internal/storage"
	logx "sentinel/pkg/logx"
	"sentinel/pkg/systemd"
)

var ErrNotStarted = errors.New("app: not started")

type App struct {
	cfgm *config.ConfigManager
	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus
	now  func() time.Time

	store       storage.Store
	src         source.Source
	disp        *notify.Dispatcher
	sched       *scheduler.Service
	runner      *scheduler.Runner
	closeLedger func() error

	reg     *prometheus.Registry
	metrics *metrics.Collector
	http    *httpserver.Server

	mu        sync.Mutex
	sup       *rtsup.Supervisor
	startedAt time.Time
	stopped   bool
}

type Option func(*App)

// WithClock overrides the clock used for ad hoc windows and subscription
// bookkeeping.
func WithClock(now func() time.Time) Option { return func(a *App) { a.now = now } }

// WithSource replaces the configured activity source.
func WithSource(src source.Source) Option { return func(a *App) { a.src = src } }

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start; CLI commands use the components directly and call Stop.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, now: time.Now}
	for _, o := range opts {
		o(a)
	}

	a.logs, a.log = logx.New(mapLogConfig(cfg.Logging))
	a.log = a.log.With(logx.String("comp", "app"))
	a.bus = eventbus.New()

	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewCollector(a.reg)
	a.logs.OnLevel(a.metrics.LogHook())

	if err := a.build(cfg); err != nil {
		_ = a.logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) (err error) {
	// Undo partial construction on failure.
	defer func() {
		if err == nil {
			return
		}
		if a.closeLedger != nil {
			_ = a.closeLedger()
		}
		if a.store != nil {
			_ = a.store.Close()
		}
	}()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if a.store, err = storage.Open(sc, a.log); err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	if a.src == nil {
		if a.src, err = mapSource(cfg, a.log); err != nil {
			return err
		}
	}

	channels, err := buildChannels(cfg)
	if err != nil {
		return err
	}
	ledger, closeLedger, err := buildLedger(cfg, a.store)
	a.closeLedger = closeLedger
	if err != nil {
		return err
	}
	ncfg, err := mapDispatcherConfig(cfg)
	if err != nil {
		return err
	}
	a.disp = notify.New(ncfg, channels,
		notify.WithLogger(a.log.With(logx.String("comp", "notify"))),
		notify.WithBus(a.bus),
		notify.WithLedger(ledger),
	)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	a.sched = scheduler.New(schedCfg, a.store, a.src, a.disp,
		scheduler.WithLogger(a.log.With(logx.String("comp", "scheduler"))),
		scheduler.WithBus(a.bus),
		scheduler.WithClock(a.now),
	)
	if a.runner, err = scheduler.NewRunner(a.sched, cfg.Scheduler.Tick, cfg.Scheduler.Timezone,
		a.log.With(logx.String("comp", "runner"))); err != nil {
		return err
	}

	metrics.RegisterGauges(a.reg, metrics.Gauges{
		InFlight:     func() float64 { return float64(len(a.sched.Snapshot().InFlight)) },
		CircuitsOpen: func() float64 { return float64(a.sched.Snapshot().CircuitOpen) },
		BusDropped:   func() float64 { return float64(a.bus.Dropped()) },
		Subscriptions: func() map[string]float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			counts, err := a.store.CountByStatus(ctx)
			if err != nil {
				return nil
			}
			out := make(map[string]float64, len(counts))
			for st, n := range counts {
				out[string(st)] = float64(n)
			}
			return out
		},
	})

	a.http = httpserver.New(mapHTTPConfig(cfg), httpserver.Deps{
		Ready: a.Ready,
		Status: func(ctx context.Context) (any, error) {
			return a.Status(ctx, 20)
		},
		Metrics: metrics.Handler(a.reg),
		Observe: a.metrics.ObserveHTTP,
	}, a.log)
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() logx.Logger { return a.log }

// Bus exposes pipeline events, e.g. for progress output.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed once the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Err()
}

// Start runs the daemon: tick runner, metrics consumer, config hot reload,
// the ops endpoint and the systemd watchdog.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.sup != nil || a.stopped {
		a.mu.Unlock()
		return errors.New("app: already started")
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.sup = sup
	a.startedAt = a.now()
	a.mu.Unlock()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validateConfig(cfg) })

	sup.Go("metrics.bus", func(c context.Context) error { return a.metrics.Run(c, a.bus) })

	if err := a.http.Start(sup.Context()); err != nil {
		sup.Cancel()
		return fmt.Errorf("ops endpoint: %w", err)
	}

	a.runner.Start(sup.Context())

	reload := a.cfgm.Subscribe(8)
	sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(reload)
		return a.reloadLoop(c, reload)
	})
	// A broken watcher only stops hot reload, so it never fails the app.
	sup.GoRestart("config.watch", a.cfgm.Watch, rtsup.WithRestartBackoff(time.Second, time.Minute))
	sup.Go("systemd.watchdog", systemd.Watchdog)

	a.log.Info("app started",
		logx.String("host", hostname()),
		logx.String("tick", a.runner.Spec()),
		logx.Strs("channels", channelKinds(a.disp)),
	)
	return nil
}

func channelKinds(d *notify.Dispatcher) []string {
	kinds := d.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// Stop shuts down in dependency order: no new ticks, running cycles finish,
// pending deliveries finish, then the store closes. Each step is bounded so
// one component cannot stall the rest. Stop is safe on an app that never
// started.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	sup := a.sup
	a.mu.Unlock()

	var errs *multierror.Error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step failed", logx.String("step", name), logx.Err(err))
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", time.Since(start)))
	}

	step("runner", 2*time.Second, func(c context.Context) error { a.runner.Stop(c); return nil })
	step("scheduler", 10*time.Second, a.sched.Close)
	step("dispatcher", 10*time.Second, a.disp.Close)
	step("http", 3*time.Second, a.http.Stop)
	if sup != nil {
		step("supervisor", 3*time.Second, sup.Stop)
	}
	step("ledger", time.Second, func(context.Context) error { return a.closeLedger() })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errs.ErrorOrNil()
}

// Ready reports whether the daemon can run cycles.
func (a *App) Ready(ctx context.Context) error {
	a.mu.Lock()
	started, stopped := a.sup != nil, a.stopped
	a.mu.Unlock()
	if stopped {
		return errors.New("stopping")
	}
	if !started {
		return ErrNotStarted
	}
	_, err := a.store.CountByStatus(ctx)
	return err
}
