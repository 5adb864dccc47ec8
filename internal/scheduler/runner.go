package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sentinel/internal/domain"
	logx "sentinel/pkg/logx"
)

// Runner triggers Service.Tick on a cron schedule.
type Runner struct {
	svc *Service
	log logx.Logger

	mu    sync.Mutex
	spec  string
	tz    string
	loc   *time.Location
	c     *cron.Cron
	entry cron.EntryID
}

// NewRunner validates spec (see ParseTick) and timezone.
func NewRunner(svc *Service, spec, timezone string, log logx.Logger) (*Runner, error) {
	norm, err := ParseTick(spec)
	if err != nil {
		return nil, err
	}
	loc, err := loadLocation(timezone)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{svc: svc, log: log, spec: norm, tz: timezone, loc: loc}, nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

// Start begins triggering. It is idempotent.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return
	}
	r.startLocked(ctx)
}

func (r *Runner) startLocked(ctx context.Context) {
	r.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(r.loc))
	job := cron.FuncJob(func() { r.fire(ctx) })

	if strings.HasPrefix(r.spec, "@every") {
		if every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(r.spec, "@every"))); err == nil && every > 0 {
			sched, delay := everyWithOffset(every, time.Now().In(r.loc))
			r.entry = r.c.Schedule(sched, job)
			r.c.Start()
			r.log.Info("runner started", logx.String("tick", r.spec), logx.Duration("first_in", delay), logx.String("tz", r.loc.String()))
			return
		}
	}
	sched, _ := cronParser.Parse(r.spec)
	r.entry = r.c.Schedule(sched, job)
	r.c.Start()
	r.log.Info("runner started", logx.String("tick", r.spec), logx.String("tz", r.loc.String()))
}

func (r *Runner) fire(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("tick panicked", logx.Any("panic", p), logx.Stack(logx.StackTrace(3, 32)))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	if _, err := r.svc.Tick(ctx, domain.MustUTC(time.Now())); err != nil {
		r.log.Warn("tick failed", logx.Any("err", err))
	}
}

// Stop halts triggering and waits for a running trigger to return.
// Cycles already started keep running; use Service.Close for those.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	r.log.Info("runner stopped")
}

// Reschedule swaps the tick spec and timezone, restarting triggering if it
// was running.
func (r *Runner) Reschedule(ctx context.Context, spec, timezone string) error {
	norm, err := ParseTick(spec)
	if err != nil {
		return err
	}
	loc, err := loadLocation(timezone)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if norm == r.spec && timezone == r.tz {
		return nil
	}
	r.spec, r.tz, r.loc = norm, timezone, loc
	if r.c == nil {
		return nil
	}
	<-r.c.Stop().Done()
	r.startLocked(ctx)
	return nil
}

// Next returns the next trigger time, or zero when not running.
func (r *Runner) Next() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c == nil {
		return time.Time{}
	}
	return r.c.Entry(r.entry).Next
}

func (r *Runner) Spec() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spec
}
