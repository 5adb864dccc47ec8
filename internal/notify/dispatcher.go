package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sentinel/internal/domain"
	"sentinel/internal/eventbus"
	logx "sentinel/pkg/logx"
)

// Attempt is the live state of one channel delivery. Read it with Snapshot.
type Attempt struct {
	mu   sync.Mutex
	st   domain.DeliveryAttempt
	done chan struct{}
	once sync.Once
}

func newAttempt(key domain.ReportKey, ref domain.ChannelRef, now time.Time) *Attempt {
	return &Attempt{
		st: domain.DeliveryAttempt{
			ReportKey: key,
			Channel:   ref,
			Outcome:   domain.OutcomeRetrying,
			UpdatedAt: domain.MustUTC(now),
		},
		done: make(chan struct{}),
	}
}

func (a *Attempt) Snapshot() domain.DeliveryAttempt {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st
}

// Done is closed once the attempt reaches a terminal outcome.
func (a *Attempt) Done() <-chan struct{} { return a.done }

func (a *Attempt) update(now time.Time, fn func(st *domain.DeliveryAttempt)) domain.DeliveryAttempt {
	a.mu.Lock()
	fn(&a.st)
	a.st.UpdatedAt = domain.MustUTC(now)
	st := a.st
	a.mu.Unlock()
	if st.Outcome.Terminal() {
		a.once.Do(func() { close(a.done) })
	}
	return st
}

// DispatchResult holds the per-channel attempts started by one Dispatch.
type DispatchResult struct {
	Key      domain.ReportKey
	Attempts map[domain.ChannelRef]*Attempt
}

// Wait blocks until every attempt is terminal or ctx ends.
func (r *DispatchResult) Wait(ctx context.Context) error {
	for _, a := range r.Attempts {
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Outcomes snapshots the current outcome of every channel.
func (r *DispatchResult) Outcomes() map[domain.ChannelRef]domain.Outcome {
	out := make(map[domain.ChannelRef]domain.Outcome, len(r.Attempts))
	for ref, a := range r.Attempts {
		out[ref] = a.Snapshot().Outcome
	}
	return out
}

// Snapshots returns all attempt states ordered by channel.
func (r *DispatchResult) Snapshots() []domain.DeliveryAttempt {
	out := make([]domain.DeliveryAttempt, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		out = append(out, a.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel.String() < out[j].Channel.String() })
	return out
}

type Option func(*Dispatcher)

func WithLogger(log logx.Logger) Option { return func(d *Dispatcher) { d.log = log } }
func WithBus(bus eventbus.Bus) Option  { return func(d *Dispatcher) { d.bus = bus } }
func WithLedger(l Ledger) Option       { return func(d *Dispatcher) { d.ledger = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// Dispatcher fans reports out to channels with per-channel isolated retry.
//
// It is safe for concurrent use.
type Dispatcher struct {
	mu       sync.Mutex
	cfg      Config
	limiter  *rate.Limiter
	channels map[domain.ChannelKind]Channel
	ledger   Ledger
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup

	// reportKey|channel pairs currently being delivered.
	inflight map[string]struct{}

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, channels []Channel, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		channels: map[domain.ChannelKind]Channel{},
		ctx:      ctx,
		cancel:   cancel,
		inflight: map[string]struct{}{},
		now:      time.Now,
	}
	for _, ch := range channels {
		if ch != nil {
			d.channels[ch.Kind()] = ch
		}
	}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	if d.bus == nil {
		d.bus = eventbus.Nop{}
	}
	if d.ledger == nil {
		d.ledger = NewMemoryLedger(0)
	}
	d.applyLocked(cfg)
	return d
}

// Apply swaps delivery settings; in-flight attempts keep their snapshot.
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Dispatcher) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	d.cfg = cfg
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
}

// Kinds lists the channel kinds with a registered adapter.
func (d *Dispatcher) Kinds() []domain.ChannelKind {
	out := make([]domain.ChannelKind, 0, len(d.channels))
	for _, k := range domain.ChannelKinds {
		if _, ok := d.channels[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Dispatch starts one delivery per distinct channel and returns once all of
// them are running. It fails only when nothing could be started: the
// dispatcher is closed, or no channel resolves to a registered adapter.
// Channels that do not resolve are reported as failed attempts.
func (d *Dispatcher) Dispatch(ctx context.Context, r *domain.Report, channels []domain.ChannelRef) (*DispatchResult, error) {
	if r == nil {
		return nil, errors.New("notify: nil report")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	cfg := d.cfg
	lim := d.limiter

	res := &DispatchResult{Key: r.Key, Attempts: map[domain.ChannelRef]*Attempt{}}
	type job struct {
		ref domain.ChannelRef
		ch  Channel
		a   *Attempt
	}
	var jobs []job
	var rejected []*Attempt
	rejectErr := map[*Attempt]error{}
	now := d.now()
	for _, ref := range domain.DedupChannels(channels) {
		a := newAttempt(r.Key, ref, now)
		res.Attempts[ref] = a
		if err := ref.Validate(); err != nil {
			rejected = append(rejected, a)
			rejectErr[a] = err
			continue
		}
		ch, ok := d.channels[ref.Kind]
		if !ok {
			rejected = append(rejected, a)
			rejectErr[a] = fmt.Errorf("%w: %s", ErrNoAdapter, ref.Kind)
			continue
		}
		jobs = append(jobs, job{ref: ref, ch: ch, a: a})
	}
	if len(jobs) == 0 {
		d.mu.Unlock()
		for _, a := range rejected {
			d.finish(a, domain.OutcomeFailed, 0, rejectErr[a], 0)
		}
		return nil, ErrNoChannels
	}
	d.wg.Add(len(jobs))
	d.mu.Unlock()

	for _, a := range rejected {
		d.finish(a, domain.OutcomeFailed, 0, rejectErr[a], 0)
	}
	for _, j := range jobs {
		go d.deliver(cfg, lim, r, j.ref, j.ch, j.a)
	}
	return res, nil
}

func (d *Dispatcher) claim(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[key]; busy {
		return false
	}
	d.inflight[key] = struct{}{}
	return true
}

func (d *Dispatcher) unclaim(key string) {
	d.mu.Lock()
	delete(d.inflight, key)
	d.mu.Unlock()
}

func (d *Dispatcher) deliver(cfg Config, lim *rate.Limiter, r *domain.Report, ref domain.ChannelRef, ch Channel, a *Attempt) {
	defer d.wg.Done()
	reportKey := r.Key.String()
	chKey := ref.String()
	log := d.log.With(logx.String("report", reportKey), logx.String("channel", chKey))
	started := d.now()

	defer func() {
		if p := recover(); p != nil {
			log.Error("delivery panicked", logx.Any("panic", p), logx.Stack(logx.StackTrace(3, 32)))
			d.finish(a, domain.OutcomeFailed, a.Snapshot().Attempts, fmt.Errorf("panic: %v", p), d.now().Sub(started))
		}
	}()

	ctx := d.ctx
	lk := ledgerKey(reportKey, chKey)
	if !d.claim(lk) {
		log.Debug("delivery already in flight")
		d.finish(a, domain.OutcomeDuplicate, 0, nil, 0)
		return
	}
	defer d.unclaim(lk)

	if done, err := d.ledger.Delivered(ctx, reportKey, chKey); err != nil {
		// Sending again is preferred over dropping a report.
		log.Warn("ledger lookup failed", logx.Any("err", err))
	} else if done {
		log.Debug("report already delivered")
		d.finish(a, domain.OutcomeDuplicate, 0, nil, 0)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		a.update(d.now(), func(st *domain.DeliveryAttempt) { st.Attempts = attempt })

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := ch.Send(callCtx, r, ref.Target)
		cancel()
		if err == nil {
			if err := d.ledger.MarkDelivered(ctx, reportKey, chKey, domain.MustUTC(d.now())); err != nil {
				log.Warn("ledger mark failed", logx.Any("err", err))
			}
			d.finish(a, domain.OutcomeDelivered, attempt, nil, d.now().Sub(started))
			return
		}
		lastErr = err
		if IsPermanent(err) || attempt >= cfg.MaxAttempts || ctx.Err() != nil {
			break
		}

		delay := retryDelay(cfg, attempt)
		log.Debug("delivery failed; retrying", logx.Any("err", err), logx.Int("attempt", attempt), logx.Duration("backoff", delay))
		d.publish(eventbus.DeliveryRetrying, a.update(d.now(), func(st *domain.DeliveryAttempt) { st.LastError = err.Error() }), d.now().Sub(started))
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
	}
	d.finish(a, domain.OutcomeFailed, a.Snapshot().Attempts, lastErr, d.now().Sub(started))
}

func (d *Dispatcher) finish(a *Attempt, outcome domain.Outcome, attempts int, err error, dur time.Duration) {
	st := a.update(d.now(), func(st *domain.DeliveryAttempt) {
		st.Outcome = outcome
		st.Attempts = attempts
		if err != nil {
			st.LastError = err.Error()
		}
	})

	typ := eventbus.DeliverySent
	switch outcome {
	case domain.OutcomeFailed:
		typ = eventbus.DeliveryFailed
		d.log.Error("delivery failed",
			logx.String("report", st.ReportKey.String()),
			logx.String("channel", st.Channel.String()),
			logx.Int("attempts", st.Attempts),
			logx.String("err", st.LastError),
		)
	case domain.OutcomeDuplicate:
		typ = eventbus.DeliveryDuplicate
	default:
		d.log.Info("report delivered",
			logx.String("report", st.ReportKey.String()),
			logx.String("channel", st.Channel.String()),
			logx.Int("attempts", st.Attempts),
		)
	}
	d.publish(typ, st, dur)
	d.appendHistory(st)
}

func (d *Dispatcher) publish(typ string, st domain.DeliveryAttempt, dur time.Duration) {
	d.bus.Publish(eventbus.Event{Type: typ, Time: d.now(), Data: DeliveryEvent{
		ReportKey: st.ReportKey.String(),
		Channel:   st.Channel.String(),
		Kind:      string(st.Channel.Kind),
		Attempt:   st.Attempts,
		Outcome:   st.Outcome,
		Duration:  dur,
		Error:     st.LastError,
	}})
}

func (d *Dispatcher) appendHistory(st domain.DeliveryAttempt) {
	d.mu.Lock()
	limit := d.cfg.HistorySize
	d.mu.Unlock()

	d.hmu.Lock()
	d.history = append(d.history, HistoryItem{
		At:        st.UpdatedAt.Time(),
		ReportKey: st.ReportKey.String(),
		Channel:   st.Channel.String(),
		Outcome:   st.Outcome,
		Attempts:  st.Attempts,
		Error:     st.LastError,
	})
	if len(d.history) > limit {
		d.history = d.history[len(d.history)-limit:]
	}
	d.hmu.Unlock()
}

// History returns the most recent terminal deliveries, oldest first.
func (d *Dispatcher) History() []HistoryItem {
	d.hmu.Lock()
	out := append([]HistoryItem(nil), d.history...)
	d.hmu.Unlock()
	return out
}

// Close stops intake and waits for in-flight deliveries. When ctx ends
// first, pending deliveries are cancelled and Close returns ctx.Err without
// waiting for them.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		d.log.Warn("closing with deliveries pending", logx.Any("err", ctx.Err()))
		return ctx.Err()
	}
}
