package scheduler

import (
	"context"
	"errors"
	"time"

	"sentinel/internal/domain"
	"sentinel/internal/report"
	"sentinel/internal/source"
	"sentinel/internal/storage"
	logx "sentinel/pkg/logx"
)

// cycle runs one subscription through fetch, build, dispatch and watermark
// advance. The watermark moves only when every earlier step succeeded.
func (s *Service) cycle(ctx context.Context, sub domain.Subscription, now domain.UTCTime) domain.CycleRecord {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	started := s.now()
	log := s.log.With(logx.String("sub", sub.ID), logx.String("repo", string(sub.Repo)))
	win := sub.WindowAt(now, cfg.DefaultLookback)
	rec := s.newRecord(sub, win, started)
	prev := sub.LastWindowEnd

	if !win.Since.Before(win.Until) {
		// Already covered up to now.
		s.finishRecord(&rec, domain.CycleEmpty, nil)
		s.record(ctx, log, rec)
		return rec
	}
	if err := win.Validate(); err != nil {
		s.finishRecord(&rec, domain.CycleInvalid, err)
		s.record(ctx, log, rec)
		return rec
	}
	nextDue, err := sub.Frequency.Next(win.Until)
	if err != nil {
		s.finishRecord(&rec, domain.CycleInvalid, err)
		s.record(ctx, log, rec)
		return rec
	}

	log.Debug("cycle started", logx.Stringer("since", win.Since), logx.Stringer("until", win.Until))
	batch, err := s.source.Fetch(ctx, sub.Repo, win.Since, win.Until)
	if err != nil {
		var status domain.CycleStatus
		switch {
		case errors.Is(err, source.ErrNotFound):
			status = domain.CyclePermanent
			if until := s.circuits.failure(now.Time(), sub.ID); !until.IsZero() {
				log.Warn("circuit opened for missing repository", logx.Time("until", until))
			}
		case source.IsTransient(err), ctx.Err() != nil:
			status = domain.CycleTransient
			if d, ok := source.RetryAfterHint(err); ok {
				log.Info("rate limited", logx.Duration("retry_after", d))
			}
		default:
			// Outside the source error contract, e.g. a rejected repo id.
			status = domain.CycleInvalid
			log.Error("fetch failed outside source contract", logx.Any("err", err))
		}
		s.finishRecord(&rec, status, err)
		s.record(ctx, log, rec)
		return rec
	}
	s.circuits.success(sub.ID)
	if batch == nil {
		batch = &domain.ActivityBatch{}
	}

	meta, err := s.source.Meta(ctx, sub.Repo)
	if err != nil {
		log.Warn("repository metadata unavailable", logx.Any("err", err))
		meta = domain.RepoMeta{FullName: string(sub.Repo)}
	}

	b := *batch
	b.Repo = sub.Repo
	b.Window = win
	r := report.Build(report.Input{
		SubscriptionID: sub.ID,
		Meta:           meta,
		Filter:         sub.Filter,
		TopN:           cfg.TopN,
		GeneratedAt:    domain.MustUTC(s.now()),
	}, &b)
	rec.Counts = r.Counts
	rec.Truncated = r.Truncated

	res, err := s.dispatcher.Dispatch(ctx, &r, sub.Channels)
	if err != nil {
		s.finishRecord(&rec, domain.CycleDispatch, err)
		s.record(ctx, log, rec)
		return rec
	}
	log.Debug("dispatch initiated", logx.Int("channels", len(res.Attempts)), logx.String("report", r.Key.String()))

	s.finishRecord(&rec, domain.CycleSucceeded, nil)
	switch err := s.store.CompleteCycle(ctx, rec, prev, nextDue); {
	case err == nil:
	case errors.Is(err, storage.ErrConflict):
		// Someone else moved the watermark; leave their value alone.
		s.finishRecord(&rec, domain.CycleConflict, err)
		s.record(ctx, log, rec)
	default:
		s.finishRecord(&rec, domain.CycleTransient, err)
		s.record(ctx, log, rec)
	}
	return rec
}

func (s *Service) newRecord(sub domain.Subscription, win domain.Window, started time.Time) domain.CycleRecord {
	return domain.CycleRecord{
		ID:             s.newID(),
		SubscriptionID: sub.ID,
		Repo:           sub.Repo,
		Window:         win,
		StartedAt:      domain.MustUTC(started),
	}
}

func (s *Service) finishRecord(rec *domain.CycleRecord, status domain.CycleStatus, err error) {
	rec.Status = status
	rec.Error = ""
	if err != nil {
		rec.Error = err.Error()
	}
	rec.FinishedAt = domain.MustUTC(s.now())
}

// record stores an outcome that did not advance the watermark. A lost
// audit row is logged, not fatal.
func (s *Service) record(ctx context.Context, log logx.Logger, rec domain.CycleRecord) {
	if err := s.store.RecordCycle(ctx, rec); err != nil {
		log.Warn("record cycle failed", logx.String("status", string(rec.Status)), logx.Any("err", err))
	}
}
