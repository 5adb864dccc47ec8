package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/domain"
	"sentinel/internal/eventbus"
	"sentinel/internal/notify"
	"sentinel/internal/source"
	"sentinel/internal/storage"
)

var t0 = domain.MustUTC(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

// fakeSource serves a fixed event set, filtered to the requested window.
type fakeSource struct {
	mu      sync.Mutex
	events  domain.ActivityBatch
	err     error
	metaErr error
	gate    chan struct{}
	windows []domain.Window
	calls   atomic.Int32
}

func (f *fakeSource) Fetch(ctx context.Context, repo domain.RepoID, since, until domain.UTCTime) (*domain.ActivityBatch, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w := domain.Window{Since: since, Until: until}
	f.windows = append(f.windows, w)
	if f.err != nil {
		return nil, f.err
	}
	out := &domain.ActivityBatch{Repo: repo, Window: w}
	for _, c := range f.events.Commits {
		if w.Contains(c.Date) {
			out.Commits = append(out.Commits, c)
		}
	}
	for _, p := range f.events.PullRequests {
		if w.Contains(p.UpdatedAt) {
			out.PullRequests = append(out.PullRequests, p)
		}
	}
	for _, is := range f.events.Issues {
		if w.Contains(is.UpdatedAt) {
			out.Issues = append(out.Issues, is)
		}
	}
	for _, r := range f.events.Releases {
		if w.Contains(r.PublishedAt) {
			out.Releases = append(out.Releases, r)
		}
	}
	return out, nil
}

func (f *fakeSource) Meta(_ context.Context, repo domain.RepoID) (domain.RepoMeta, error) {
	if f.metaErr != nil {
		return domain.RepoMeta{}, f.metaErr
	}
	return domain.RepoMeta{FullName: string(repo), Stars: 10}, nil
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSource) seen() []domain.Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Window(nil), f.windows...)
}

type sinkChannel struct {
	mu    sync.Mutex
	count int
}

func (c *sinkChannel) Kind() domain.ChannelKind { return domain.ChannelWebhook }

func (c *sinkChannel) Send(context.Context, *domain.Report, string) error {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	return nil
}

// spyDispatcher keeps every report handed to the real dispatcher.
type spyDispatcher struct {
	inner   Dispatcher
	mu      sync.Mutex
	reports []domain.Report
}

func (s *spyDispatcher) Dispatch(ctx context.Context, r *domain.Report, chans []domain.ChannelRef) (*notify.DispatchResult, error) {
	s.mu.Lock()
	s.reports = append(s.reports, *r)
	s.mu.Unlock()
	return s.inner.Dispatch(ctx, r, chans)
}

func (s *spyDispatcher) all() []domain.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Report(nil), s.reports...)
}

type harness struct {
	store storage.Store
	src   *fakeSource
	sink  *sinkChannel
	disp  *notify.Dispatcher
	spy   *spyDispatcher
	svc   *Service
	bus   *eventbus.MemBus
	clock atomic.Int64
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{store: storage.NewMemory(), src: &fakeSource{}, sink: &sinkChannel{}, bus: eventbus.New()}
	h.clock.Store(t0.UnixMilli())
	h.disp = notify.New(notify.Config{RetryBase: time.Millisecond, RetryMaxDelay: time.Millisecond, RatePerSec: 1000},
		[]notify.Channel{h.sink}, notify.WithLedger(h.store))
	h.spy = &spyDispatcher{inner: h.disp}
	var seq atomic.Int64
	h.svc = New(cfg, h.store, h.src, h.spy,
		WithBus(h.bus),
		WithClock(func() time.Time { return time.UnixMilli(h.clock.Load()).UTC() }),
		WithIDs(func() string { return fmt.Sprintf("cyc-%d", seq.Add(1)) }),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.svc.Close(ctx)
		_ = h.disp.Close(ctx)
		_ = h.store.Close()
	})
	return h
}

func (h *harness) subscribe(t *testing.T, freq domain.Frequency, filter domain.EventFilter) domain.Subscription {
	t.Helper()
	sub, created, err := h.store.Subscribe(context.Background(), domain.Subscription{
		UserID:    "u1",
		Repo:      "octo/hello",
		Frequency: freq,
		Filter:    filter,
		Channels:  []domain.ChannelRef{{Kind: domain.ChannelWebhook, Target: "https://hooks.example.com/x"}},
	}, t0.Add(-48*time.Hour))
	require.NoError(t, err)
	require.True(t, created)
	return sub
}

// setWatermark moves a never-run subscription to last_window_end = end.
func (h *harness) setWatermark(t *testing.T, id string, end, nextDue domain.UTCTime) {
	t.Helper()
	rec := domain.CycleRecord{ID: "seed", SubscriptionID: id, Window: domain.Window{Since: end.Add(-time.Hour), Until: end}, Status: domain.CycleSucceeded, StartedAt: end, FinishedAt: end}
	require.NoError(t, h.store.CompleteCycle(context.Background(), rec, domain.UTCTime{}, nextDue))
}

func (h *harness) tick(t *testing.T, now domain.UTCTime) TickResult {
	t.Helper()
	h.clock.Store(now.UnixMilli())
	res, err := h.svc.Tick(context.Background(), now)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Wait(ctx))
	return res
}

func (h *harness) get(t *testing.T, id string) domain.Subscription {
	t.Helper()
	s, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (h *harness) lastCycle(t *testing.T, id string) domain.CycleRecord {
	t.Helper()
	recs, err := h.store.RecentCycles(context.Background(), id, 1)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	return recs[0]
}

func at(d time.Duration) domain.UTCTime { return t0.Add(d) }

func endToEndEvents() domain.ActivityBatch {
	var b domain.ActivityBatch
	for i := 0; i < 5; i++ {
		b.Commits = append(b.Commits, domain.Commit{SHA: fmt.Sprintf("%040d", i), Message: "change", Author: "dev", Date: at(time.Duration(i+1) * time.Hour)})
	}
	b.Issues = []domain.Issue{
		{Number: 1, Title: "bug", State: "open", CreatedAt: at(2 * time.Hour), UpdatedAt: at(2 * time.Hour)},
		{Number: 2, Title: "bug 2", State: "closed", CreatedAt: at(3 * time.Hour), UpdatedAt: at(24 * time.Hour)},
	}
	b.Releases = []domain.Release{{TagName: "v1.0.0", PublishedAt: at(10 * time.Hour)}}
	// Outside [T0, T0+25h).
	b.Commits = append(b.Commits, domain.Commit{SHA: "old", Date: at(-time.Minute)}, domain.Commit{SHA: "future", Date: at(25 * time.Hour)})
	return b
}

func TestEndToEndDailyCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.src.events = endToEndEvents()
	sub := h.subscribe(t, domain.Daily, nil)
	h.setWatermark(t, sub.ID, t0, at(24*time.Hour))

	res := h.tick(t, at(25*time.Hour))
	assert.Equal(t, []string{sub.ID}, res.Started)

	reports := h.spy.all()
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, map[domain.EventKind]int{
		domain.KindCommit:      5,
		domain.KindIssue:       2,
		domain.KindPullRequest: 0,
		domain.KindRelease:     1,
	}, r.Counts)
	assert.True(t, r.Window.Since.Equal(t0))
	assert.True(t, r.Window.Until.Equal(at(25*time.Hour)))
	assert.Equal(t, sub.ID, r.Key.SubscriptionID)

	got := h.get(t, sub.ID)
	assert.True(t, got.LastWindowEnd.Equal(at(25*time.Hour)), "last_window_end = %s", got.LastWindowEnd)
	assert.True(t, got.NextDueAt.Equal(at(49*time.Hour)), "next_due_at = %s", got.NextDueAt)
	assert.Equal(t, domain.CycleSucceeded, h.lastCycle(t, sub.ID).Status)

	require.Eventually(t, func() bool {
		h.sink.mu.Lock()
		defer h.sink.mu.Unlock()
		return h.sink.count == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRateLimitedLeavesWatermark(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.src.setErr(&source.RateLimitedError{RetryAfter: time.Minute})
	sub := h.subscribe(t, domain.Daily, nil)
	h.setWatermark(t, sub.ID, t0, at(24*time.Hour))
	before := h.get(t, sub.ID)

	h.tick(t, at(25*time.Hour))

	after := h.get(t, sub.ID)
	assert.True(t, after.LastWindowEnd.Equal(before.LastWindowEnd))
	assert.True(t, after.NextDueAt.Equal(before.NextDueAt))
	assert.Empty(t, h.spy.all())
	assert.Equal(t, domain.CycleTransient, h.lastCycle(t, sub.ID).Status)

	due, err := h.store.ListDue(context.Background(), at(25*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, sub.ID, due[0].ID)

	// The next tick retries the same window start and succeeds.
	h.src.setErr(nil)
	h.tick(t, at(26*time.Hour))
	w := h.src.seen()
	require.Len(t, w, 2)
	assert.True(t, w[1].Since.Equal(t0))
	assert.True(t, h.get(t, sub.ID).LastWindowEnd.Equal(at(26*time.Hour)))
}

func TestTransientErrorLeavesWatermark(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.src.setErr(&source.TransientError{Err: errors.New("connection reset")})
	sub := h.subscribe(t, domain.Weekly, nil)

	h.tick(t, t0)

	got := h.get(t, sub.ID)
	assert.False(t, got.HasRun())
	rec := h.lastCycle(t, sub.ID)
	assert.Equal(t, domain.CycleTransient, rec.Status)
	assert.Contains(t, rec.Error, "connection reset")
}

func TestConsecutiveWindowsAreContiguous(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{DefaultLookback: 24 * time.Hour})
	// One commit exactly on the boundary between the two windows.
	h.src.events = domain.ActivityBatch{Commits: []domain.Commit{
		{SHA: "a", Date: at(-time.Hour)},
		{SHA: "b", Date: t0},
		{SHA: "c", Date: at(23 * time.Hour)},
	}}
	sub := h.subscribe(t, domain.Daily, nil)

	h.tick(t, t0)
	first := h.get(t, sub.ID)
	require.True(t, first.LastWindowEnd.Equal(t0))
	require.True(t, first.NextDueAt.Equal(at(24*time.Hour)))

	// Not yet due.
	res := h.tick(t, at(23*time.Hour))
	assert.Empty(t, res.Started)

	h.tick(t, at(24*time.Hour))

	w := h.src.seen()
	require.Len(t, w, 2)
	assert.True(t, w[0].Since.Equal(at(-24*time.Hour)))
	assert.True(t, w[0].Until.Equal(w[1].Since), "gap or overlap between %v and %v", w[0], w[1])
	assert.True(t, w[1].Until.Equal(at(24*time.Hour)))

	reports := h.spy.all()
	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports[0].Counts[domain.KindCommit])
	assert.Equal(t, 2, reports[1].Counts[domain.KindCommit])
	assert.NotEqual(t, reports[0].Key, reports[1].Key)
}

func TestTickSkipsInFlight(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.src.gate = make(chan struct{})
	sub := h.subscribe(t, domain.Daily, nil)

	first, err := h.svc.Tick(context.Background(), t0)
	require.NoError(t, err)
	require.Equal(t, []string{sub.ID}, first.Started)
	require.Eventually(t, func() bool { return h.src.calls.Load() == 1 }, time.Second, time.Millisecond)

	second, err := h.svc.Tick(context.Background(), at(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, second.Started)
	assert.Equal(t, []string{sub.ID}, second.SkippedInFlight)
	assert.Equal(t, []string{sub.ID}, h.svc.Snapshot().InFlight)

	close(h.src.gate)
	require.NoError(t, h.svc.Wait(context.Background()))
	assert.Equal(t, int32(1), h.src.calls.Load())
	assert.Empty(t, h.svc.Snapshot().InFlight)
}

// racingStore moves the watermark behind the scheduler's back right after
// the due list is read.
type racingStore struct {
	storage.Store
	other domain.UTCTime
}

func (r *racingStore) ListDue(ctx context.Context, now domain.UTCTime) ([]domain.Subscription, error) {
	due, err := r.Store.ListDue(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, s := range due {
		rec := domain.CycleRecord{ID: "other-" + s.ID, SubscriptionID: s.ID, Window: domain.Window{Since: s.LastWindowEnd, Until: r.other}, Status: domain.CycleSucceeded, StartedAt: now, FinishedAt: now}
		if err := r.Store.CompleteCycle(ctx, rec, s.LastWindowEnd, r.other.Add(24*time.Hour)); err != nil {
			return nil, err
		}
	}
	return due, nil
}

func TestCompareAndSetConflictDoesNotOverwrite(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	sub := h.subscribe(t, domain.Daily, nil)
	other := at(-time.Hour)
	h.svc.store = &racingStore{Store: h.store, other: other}

	h.tick(t, t0)

	got := h.get(t, sub.ID)
	assert.True(t, got.LastWindowEnd.Equal(other), "watermark overwritten: %s", got.LastWindowEnd)
	assert.True(t, got.NextDueAt.Equal(other.Add(24*time.Hour)))
	assert.Equal(t, domain.CycleConflict, h.lastCycle(t, sub.ID).Status)
}

func TestBreakerSkipsMissingRepository(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{BreakerTripFailures: 2, BreakerBaseDelay: 10 * time.Minute})
	h.src.setErr(fmt.Errorf("fetch: %w", source.ErrNotFound))
	sub := h.subscribe(t, domain.Daily, nil)

	skipped, unsub := h.bus.SubscribePrefix(8, eventbus.CycleSkipped)
	defer unsub()

	h.tick(t, t0)
	h.tick(t, at(time.Minute))
	assert.Equal(t, int32(2), h.src.calls.Load())
	assert.Equal(t, domain.CyclePermanent, h.lastCycle(t, sub.ID).Status)

	res := h.tick(t, at(2*time.Minute))
	assert.Equal(t, []string{sub.ID}, res.SkippedBreaker)
	assert.Equal(t, int32(2), h.src.calls.Load())
	snap := h.svc.Snapshot()
	assert.Equal(t, 1, snap.CircuitOpen)

	select {
	case e := <-skipped:
		assert.Equal(t, "circuit_open", e.Data.(CycleEvent).Reason)
	case <-time.After(time.Second):
		t.Fatal("no cycle.skipped event")
	}

	// Cooldown over: runs again, and success closes the circuit.
	h.src.setErr(nil)
	res = h.tick(t, at(12*time.Minute))
	assert.Equal(t, []string{sub.ID}, res.Started)
	assert.True(t, h.get(t, sub.ID).HasRun())
	assert.Equal(t, domain.StatusActive, h.get(t, sub.ID).Status)
}

func TestDispatchFailureBlocksWatermark(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	sub := h.subscribe(t, domain.Daily, nil)
	require.NoError(t, h.store.UpdateChannels(context.Background(), sub.ID,
		[]domain.ChannelRef{{Kind: domain.ChannelTelegram, Target: "42"}}, t0))

	h.tick(t, t0)

	assert.False(t, h.get(t, sub.ID).HasRun())
	rec := h.lastCycle(t, sub.ID)
	assert.Equal(t, domain.CycleDispatch, rec.Status)
	assert.Contains(t, rec.Error, notify.ErrNoChannels.Error())
}

func TestFilterLimitsReport(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.src.events = endToEndEvents()
	sub := h.subscribe(t, domain.Daily, domain.EventFilter{domain.KindRelease})
	h.setWatermark(t, sub.ID, t0, at(24*time.Hour))

	h.tick(t, at(25*time.Hour))

	reports := h.spy.all()
	require.Len(t, reports, 1)
	assert.Equal(t, map[domain.EventKind]int{domain.KindRelease: 1}, reports[0].Counts)
	assert.Empty(t, reports[0].Samples.Commits)
}

func TestEmptyWindowIsNoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	sub := h.subscribe(t, domain.Daily, nil)
	h.setWatermark(t, sub.ID, t0, t0)

	h.tick(t, t0)

	got := h.get(t, sub.ID)
	assert.True(t, got.LastWindowEnd.Equal(t0))
	assert.Zero(t, h.src.calls.Load())
	assert.Equal(t, domain.CycleEmpty, h.lastCycle(t, sub.ID).Status)
}

func TestMetaFailureDegrades(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.src.metaErr = errors.New("meta down")
	sub := h.subscribe(t, domain.Daily, nil)

	h.tick(t, t0)

	reports := h.spy.all()
	require.Len(t, reports, 1)
	assert.Equal(t, "octo/hello", reports[0].Meta.FullName)
	assert.Zero(t, reports[0].Meta.Stars)
	assert.True(t, h.get(t, sub.ID).HasRun())
}

func TestPausedSubscriptionNotTicked(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	sub := h.subscribe(t, domain.Daily, nil)
	require.NoError(t, h.store.SetStatus(context.Background(), sub.ID, domain.StatusPaused, t0))

	res := h.tick(t, t0)
	assert.Zero(t, res.Due)
	assert.Zero(t, h.src.calls.Load())
}

func TestTickFrequencyFiltersCadence(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	daily := h.subscribe(t, domain.Daily, nil)
	weekly, _, err := h.store.Subscribe(context.Background(), domain.Subscription{
		UserID:    "u2",
		Repo:      "octo/other",
		Frequency: domain.Weekly,
		Channels:  []domain.ChannelRef{{Kind: domain.ChannelWebhook, Target: "https://hooks.example.com/y"}},
	}, t0.Add(-48*time.Hour))
	require.NoError(t, err)

	h.clock.Store(t0.UnixMilli())
	res, err := h.svc.TickFrequency(context.Background(), t0, domain.Weekly)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Wait(ctx))

	assert.Equal(t, 1, res.Due)
	assert.Equal(t, []string{weekly.ID}, res.Started)
	assert.True(t, h.get(t, weekly.ID).HasRun())
	assert.False(t, h.get(t, daily.ID).HasRun())

	_, err = h.svc.TickFrequency(context.Background(), t0, domain.Frequency("hourly"))
	assert.ErrorIs(t, err, domain.ErrInvalidFrequency)
}

func TestClosedServiceRejectsTick(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	require.NoError(t, h.svc.Close(context.Background()))
	_, err := h.svc.Tick(context.Background(), t0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSnapshotHistory(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{HistorySize: 1})
	sub := h.subscribe(t, domain.Daily, nil)
	h.tick(t, t0)
	h.tick(t, at(24*time.Hour))

	snap := h.svc.Snapshot()
	require.Len(t, snap.History, 1)
	assert.Equal(t, sub.ID, snap.History[0].SubscriptionID)
	assert.True(t, snap.History[0].Window.Until.Equal(at(24*time.Hour)))
	require.NotNil(t, snap.LastTick)
	assert.Equal(t, []string{sub.ID}, snap.LastTick.Started)
}

// skewedStore hands out one subscription with a frequency the store itself
// would never accept.
type skewedStore struct {
	storage.Store
	id   string
	freq domain.Frequency
}

func (s *skewedStore) ListDue(ctx context.Context, now domain.UTCTime) ([]domain.Subscription, error) {
	subs, err := s.Store.ListDue(ctx, now)
	for i := range subs {
		if subs[i].ID == s.id {
			subs[i].Frequency = s.freq
		}
	}
	return subs, err
}

func TestInvalidFrequencyFailsOnlyItsOwnCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.src.events = endToEndEvents()
	ctx := context.Background()

	newSub := func(repo domain.RepoID) domain.Subscription {
		sub, _, err := h.store.Subscribe(ctx, domain.Subscription{
			UserID:    "u1",
			Repo:      repo,
			Frequency: domain.Daily,
			Channels:  []domain.ChannelRef{{Kind: domain.ChannelWebhook, Target: "https://hooks.example.com/x"}},
		}, t0.Add(-48*time.Hour))
		require.NoError(t, err)
		return sub
	}
	broken := newSub("octo/broken")
	healthy := newSub("octo/healthy")
	h.setWatermark(t, broken.ID, t0, at(24*time.Hour))
	h.setWatermark(t, healthy.ID, t0, at(24*time.Hour))

	svc := New(Config{}, &skewedStore{Store: h.store, id: broken.ID, freq: domain.Frequency("hourly")}, h.src, h.spy,
		WithClock(func() time.Time { return at(25 * time.Hour).Time() }))
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	res, err := svc.Tick(ctx, at(25*time.Hour))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{broken.ID, healthy.ID}, res.Started)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(waitCtx))

	rec := h.lastCycle(t, broken.ID)
	assert.Equal(t, domain.CycleInvalid, rec.Status)
	assert.Contains(t, rec.Error, domain.ErrInvalidFrequency.Error())
	assert.True(t, h.get(t, broken.ID).LastWindowEnd.Equal(t0), "watermark of the broken subscription is unchanged")

	assert.Equal(t, domain.CycleSucceeded, h.lastCycle(t, healthy.ID).Status)
	assert.True(t, h.get(t, healthy.ID).LastWindowEnd.Equal(at(25*time.Hour)))
}

func TestFetchErrorOutsideContractIsInvalid(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.src.setErr(fmt.Errorf("wrapped: %w", domain.ErrInvalidRepo))
	sub := h.subscribe(t, domain.Daily, nil)

	h.tick(t, t0)

	rec := h.lastCycle(t, sub.ID)
	assert.Equal(t, domain.CycleInvalid, rec.Status)
	assert.False(t, h.get(t, sub.ID).HasRun())
	assert.Zero(t, h.svc.Snapshot().CircuitOpen, "only missing repositories open the circuit")
}

func TestCycleStartedIsPublished(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	events, unsub := h.bus.SubscribePrefix(16, "cycle.")
	defer unsub()
	sub := h.subscribe(t, domain.Daily, nil)

	h.tick(t, t0)

	var types []string
	for len(types) < 2 {
		select {
		case e := <-events:
			ev, ok := e.Data.(CycleEvent)
			require.True(t, ok)
			assert.Equal(t, sub.ID, ev.SubscriptionID)
			types = append(types, e.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("got events %v", types)
		}
	}
	assert.Equal(t, []string{eventbus.CycleStarted, eventbus.CycleSucceeded}, types)
}
