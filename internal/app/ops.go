package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"sentinel/internal/domain"
	"sentinel/internal/eventbus"
	"sentinel/internal/notify"
	"sentinel/internal/report"
	"sentinel/internal/scheduler"
	"sentinel/internal/storage"
	logx "sentinel/pkg/logx"
)

var (
	ErrNoChannel          = errors.New("app: at least one channel is required")
	ErrChannelUnavailable = errors.New("app: channel kind not configured")
)

// SubscribeRequest is the operator's raw input; every field is parsed here.
type SubscribeRequest struct {
	UserID    string
	Repo      string
	Frequency string
	Channels  []string
	Events    []string
}

func (a *App) parseSubscription(req SubscribeRequest) (domain.Subscription, error) {
	repo, err := domain.ParseRepoURL(req.Repo)
	if err != nil {
		return domain.Subscription{}, err
	}
	freq := domain.Daily
	if strings.TrimSpace(req.Frequency) != "" {
		if freq, err = domain.ParseFrequency(req.Frequency); err != nil {
			return domain.Subscription{}, err
		}
	}
	if len(req.Channels) == 0 {
		return domain.Subscription{}, ErrNoChannel
	}
	kinds := a.disp.Kinds()
	chans := make([]domain.ChannelRef, 0, len(req.Channels))
	for _, raw := range req.Channels {
		ref, err := domain.ParseChannelRef(raw)
		if err != nil {
			return domain.Subscription{}, err
		}
		if !slices.Contains(kinds, ref.Kind) {
			return domain.Subscription{}, fmt.Errorf("%w: %s", ErrChannelUnavailable, ref.Kind)
		}
		chans = append(chans, ref)
	}
	filter, err := ParseEvents(req.Events)
	if err != nil {
		return domain.Subscription{}, err
	}
	return domain.Subscription{
		UserID:    strings.TrimSpace(req.UserID),
		Repo:      repo,
		Frequency: freq,
		Channels:  chans,
		Filter:    filter,
		Status:    domain.StatusActive,
	}, nil
}

// ParseEvents parses event kind names; commas inside an element also split.
func ParseEvents(raw []string) (domain.EventFilter, error) {
	var out domain.EventFilter
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			k, err := domain.ParseEventKind(part)
			if err != nil {
				return nil, err
			}
			out = append(out, k)
		}
	}
	return out.Normalize(), nil
}

// Subscribe creates a subscription or reactivates the existing one for the
// same user and repository. created is false on reactivation.
func (a *App) Subscribe(ctx context.Context, req SubscribeRequest) (sub domain.Subscription, created bool, err error) {
	s, err := a.parseSubscription(req)
	if err != nil {
		return domain.Subscription{}, false, err
	}
	sub, created, err = a.store.Subscribe(ctx, s, domain.MustUTC(a.now()))
	if err != nil {
		return domain.Subscription{}, false, err
	}
	a.log.Info("subscribed",
		logx.String("sub", sub.ID),
		logx.String("user", sub.UserID),
		logx.String("repo", string(sub.Repo)),
		logx.String("frequency", string(sub.Frequency)),
		logx.Bool("created", created),
	)
	return sub, created, nil
}

func (a *App) lookup(ctx context.Context, userID, repo string) (domain.Subscription, error) {
	id, err := domain.ParseRepoURL(repo)
	if err != nil {
		return domain.Subscription{}, err
	}
	return a.store.GetByUserRepo(ctx, strings.TrimSpace(userID), id)
}

// SetStatus moves a subscription to st. Unsubscribe is SetStatus(cancelled);
// the row and its watermark are kept so a later subscribe resumes.
func (a *App) SetStatus(ctx context.Context, userID, repo string, st domain.Status) (domain.Subscription, error) {
	sub, err := a.lookup(ctx, userID, repo)
	if err != nil {
		return domain.Subscription{}, err
	}
	if err := a.store.SetStatus(ctx, sub.ID, st, domain.MustUTC(a.now())); err != nil {
		return domain.Subscription{}, err
	}
	sub.Status = st
	a.log.Info("subscription status changed", logx.String("sub", sub.ID), logx.String("status", string(st)))
	return sub, nil
}

func (a *App) List(ctx context.Context, f storage.ListFilter) ([]domain.Subscription, error) {
	return a.store.List(ctx, f)
}

// AnalyzeRequest describes an ad hoc report.
type AnalyzeRequest struct {
	Repo   string
	Days   int
	Events []string
	TopN   int
}

// Analyze builds a report for the last Days days without touching any
// subscription or watermark.
func (a *App) Analyze(ctx context.Context, req AnalyzeRequest) (domain.Report, error) {
	repo, err := domain.ParseRepoURL(req.Repo)
	if err != nil {
		return domain.Report{}, err
	}
	if req.Days <= 0 {
		req.Days = 7
	}
	filter, err := ParseEvents(req.Events)
	if err != nil {
		return domain.Report{}, err
	}
	until := domain.MustUTC(a.now())
	since := until.Add(-time.Duration(req.Days) * 24 * time.Hour)

	var (
		batch *domain.ActivityBatch
		meta  domain.RepoMeta
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := a.src.Fetch(gctx, repo, since, until)
		batch = b
		return err
	})
	g.Go(func() error {
		m, err := a.src.Meta(gctx, repo)
		if err != nil {
			// Metadata only decorates the report.
			a.log.Debug("repository metadata unavailable", logx.String("repo", string(repo)), logx.Err(err))
			m = domain.RepoMeta{FullName: string(repo)}
		}
		meta = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.Report{}, err
	}
	if batch == nil {
		batch = &domain.ActivityBatch{Repo: repo, Window: domain.Window{Since: since, Until: until}}
	}
	return report.Build(report.Input{
		SubscriptionID: "adhoc",
		Meta:           meta,
		Filter:         filter,
		TopN:           req.TopN,
		GeneratedAt:    until,
	}, batch), nil
}

// Process runs one tick now for the due subscriptions of freq and waits for
// their cycles. progress, when set, is called as cycles finish.
func (a *App) Process(ctx context.Context, freq domain.Frequency, progress func(done, total int)) (scheduler.TickResult, error) {
	events, unsub := a.bus.SubscribePrefix(1024, "cycle.")
	defer unsub()

	res, err := a.sched.TickFrequency(ctx, domain.MustUTC(a.now()), freq)
	if err != nil {
		return res, err
	}
	pending := make(map[string]struct{}, len(res.Started))
	for _, id := range res.Started {
		pending[id] = struct{}{}
	}
	total := len(pending)
	if progress != nil {
		progress(0, total)
	}

	waited := make(chan error, 1)
	go func() { waited <- a.sched.Wait(ctx) }()
	for done := 0; ; {
		select {
		case err := <-waited:
			if err == nil && progress != nil {
				progress(total, total)
			}
			return res, err
		case e := <-events:
			if e.Type != eventbus.CycleSucceeded && e.Type != eventbus.CycleFailed {
				continue
			}
			ev, ok := e.Data.(scheduler.CycleEvent)
			if !ok {
				continue
			}
			if _, ok := pending[ev.SubscriptionID]; !ok {
				continue
			}
			delete(pending, ev.SubscriptionID)
			done++
			if progress != nil {
				progress(done, total)
			}
		}
	}
}

// Status is the operator view served by /status and the status command.
type Status struct {
	StartedAt     *time.Time            `json:"started_at,omitempty"`
	Subscriptions map[domain.Status]int `json:"subscriptions"`
	NextTick      *time.Time            `json:"next_tick,omitempty"`
	Scheduler     scheduler.Snapshot    `json:"scheduler"`
	Cycles        []domain.CycleRecord  `json:"recent_cycles"`
	Deliveries    []notify.HistoryItem  `json:"recent_deliveries"`
	BusDropped    uint64                `json:"bus_dropped"`
}

// Status collects counts and recent history. limit bounds the cycle list.
func (a *App) Status(ctx context.Context, limit int) (Status, error) {
	counts, err := a.store.CountByStatus(ctx)
	if err != nil {
		return Status{}, err
	}
	cycles, err := a.store.RecentCycles(ctx, "", limit)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Subscriptions: counts,
		Scheduler:     a.sched.Snapshot(),
		Cycles:        cycles,
		Deliveries:    a.disp.History(),
		BusDropped:    a.bus.Dropped(),
	}
	// The in-process history is large; the store's list is the durable view.
	st.Scheduler.History = nil

	a.mu.Lock()
	if a.sup != nil {
		t := a.startedAt
		st.StartedAt = &t
	}
	a.mu.Unlock()
	if next := a.runner.Next(); !next.IsZero() {
		st.NextTick = &next
	}
	return st, nil
}
