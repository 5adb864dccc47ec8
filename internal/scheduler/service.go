package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"sentinel/internal/domain"
	"sentinel/internal/eventbus"
	"sentinel/internal/source"
	logx "sentinel/pkg/logx"
)

var ErrClosed = errors.New("scheduler: closed")

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }
func WithBus(bus eventbus.Bus) Option  { return func(s *Service) { s.bus = bus } }

// WithClock overrides the time source used for cycle bookkeeping. Windows
// always end at the tick time.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithIDs overrides cycle id generation.
func WithIDs(next func() string) Option { return func(s *Service) { s.newID = next } }

// Service runs cycles for due subscriptions.
//
// It is safe for concurrent use.
type Service struct {
	mu  sync.Mutex
	cfg Config
	sem *semaphore.Weighted

	store      Store
	source     source.Source
	dispatcher Dispatcher
	log        logx.Logger
	bus        eventbus.Bus
	now        func() time.Time
	newID      func() string

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup

	running  inflight
	circuits *breaker
	lastTick *TickResult

	hmu     sync.Mutex
	history []domain.CycleRecord
}

func New(cfg Config, store Store, src source.Source, d Dispatcher, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:        cfg,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		store:      store,
		source:     src,
		dispatcher: d,
		now:        time.Now,
		newID:      uuid.NewString,
		ctx:        ctx,
		cancel:     cancel,
		circuits:   newBreaker(cfg),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.bus == nil {
		s.bus = eventbus.Nop{}
	}
	return s
}

// Apply updates lookback, sample size and history size. Concurrency and
// breaker settings apply on the next New.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg.DefaultLookback = cfg.DefaultLookback
	s.cfg.TopN = cfg.TopN
	s.cfg.HistorySize = cfg.HistorySize
	s.mu.Unlock()
}

// Tick starts a cycle for every due subscription that is not already
// running and whose circuit is closed. It returns without waiting for the
// cycles.
func (s *Service) Tick(ctx context.Context, now domain.UTCTime) (TickResult, error) {
	return s.tick(ctx, now, nil)
}

// TickFrequency is Tick restricted to subscriptions of one cadence.
func (s *Service) TickFrequency(ctx context.Context, now domain.UTCTime, f domain.Frequency) (TickResult, error) {
	if _, err := f.Period(); err != nil {
		return TickResult{At: now}, err
	}
	return s.tick(ctx, now, func(sub domain.Subscription) bool { return sub.Frequency == f })
}

func (s *Service) tick(ctx context.Context, now domain.UTCTime, keep func(domain.Subscription) bool) (TickResult, error) {
	res := TickResult{At: now}
	if now.IsZero() {
		return res, domain.ErrZeroTime
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return res, ErrClosed
	}

	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		s.log.Error("list due subscriptions failed", logx.Any("err", err))
		return res, fmt.Errorf("scheduler: list due: %w", err)
	}
	if keep != nil {
		kept := due[:0]
		for _, sub := range due {
			if keep(sub) {
				kept = append(kept, sub)
			}
		}
		due = kept
	}
	res.Due = len(due)

	for _, sub := range due {
		if open, until := s.circuits.isOpen(now.Time(), sub.ID); open {
			res.SkippedBreaker = append(res.SkippedBreaker, sub.ID)
			s.log.Debug("cycle skipped: circuit open", logx.String("sub", sub.ID), logx.Time("until", until))
			s.publishSkip(sub, "circuit_open")
			continue
		}
		if !s.running.tryAdd(sub.ID) {
			res.SkippedInFlight = append(res.SkippedInFlight, sub.ID)
			s.log.Debug("cycle skipped: in flight", logx.String("sub", sub.ID))
			s.publishSkip(sub, "in_flight")
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			s.running.remove(sub.ID)
			return res, ErrClosed
		}
		s.wg.Add(1)
		s.mu.Unlock()

		res.Started = append(res.Started, sub.ID)
		go s.runCycle(sub, now)
	}

	s.mu.Lock()
	last := res
	s.lastTick = &last
	s.mu.Unlock()
	if len(res.Started) > 0 || len(res.SkippedInFlight) > 0 {
		s.log.Info("tick",
			logx.Int("due", res.Due),
			logx.Int("started", len(res.Started)),
			logx.Int("skipped_in_flight", len(res.SkippedInFlight)),
			logx.Int("skipped_breaker", len(res.SkippedBreaker)),
		)
	}
	return res, nil
}

func (s *Service) runCycle(sub domain.Subscription, now domain.UTCTime) {
	defer s.wg.Done()
	defer s.running.remove(sub.ID)

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		s.log.Debug("cycle abandoned before start", logx.String("sub", sub.ID), logx.Any("err", err))
		return
	}
	defer s.sem.Release(1)
	s.bus.Publish(eventbus.Event{Type: eventbus.CycleStarted, Time: s.now(), Data: CycleEvent{
		SubscriptionID: sub.ID,
		Repo:           sub.Repo,
	}})

	defer func() {
		if p := recover(); p != nil {
			s.log.Error("cycle panicked",
				logx.String("sub", sub.ID),
				logx.Any("panic", p),
				logx.Stack(logx.StackTrace(3, 32)),
			)
			rec := s.newRecord(sub, domain.Window{}, s.now())
			s.finishRecord(&rec, domain.CycleInvalid, fmt.Errorf("panic: %v", p))
			s.observe(rec)
		}
	}()

	rec := s.cycle(s.ctx, sub, now)
	s.observe(rec)
}

// Wait blocks until every started cycle has finished or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops new ticks and waits for running cycles. When ctx ends first
// the cycles are cancelled.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := s.Wait(ctx)
	s.cancel()
	if err != nil {
		_ = s.Wait(context.Background())
	}
	return err
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	maxc := s.cfg.MaxConcurrent
	var last *TickResult
	if s.lastTick != nil {
		cp := *s.lastTick
		last = &cp
	}
	s.mu.Unlock()

	total, open := s.circuits.counts(s.now())
	s.hmu.Lock()
	hist := append([]domain.CycleRecord(nil), s.history...)
	s.hmu.Unlock()

	return Snapshot{
		InFlight:      s.running.ids(),
		MaxConcurrent: maxc,
		LastTick:      last,
		CircuitTotal:  total,
		CircuitOpen:   open,
		History:       hist,
	}
}

func (s *Service) publishSkip(sub domain.Subscription, reason string) {
	s.bus.Publish(eventbus.Event{Type: eventbus.CycleSkipped, Time: s.now(), Data: CycleEvent{
		SubscriptionID: sub.ID,
		Repo:           sub.Repo,
		Reason:         reason,
	}})
}

// observe publishes, logs and remembers a finished cycle.
func (s *Service) observe(rec domain.CycleRecord) {
	ev := CycleEvent{
		SubscriptionID: rec.SubscriptionID,
		Repo:           rec.Repo,
		Status:         rec.Status,
		Window:         rec.Window,
		Counts:         rec.Counts,
		Duration:       rec.FinishedAt.Sub(rec.StartedAt),
		Error:          rec.Error,
	}
	typ := eventbus.CycleSucceeded
	fields := []logx.Field{
		logx.String("sub", rec.SubscriptionID),
		logx.String("repo", string(rec.Repo)),
		logx.String("status", string(rec.Status)),
		logx.Duration("took", ev.Duration),
	}
	if rec.Status.Failed() {
		typ = eventbus.CycleFailed
		fields = append(fields, logx.String("err", rec.Error))
		if rec.Status == domain.CycleTransient {
			s.log.Warn("cycle failed", fields...)
		} else {
			s.log.Error("cycle failed", fields...)
		}
	} else {
		s.log.Info("cycle finished", fields...)
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: ev})

	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()
	s.hmu.Lock()
	s.history = append(s.history, rec)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}
