package storage

import (
	"context"
	"errors"
	"time"

	"sentinel/internal/domain"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict means a conditional update lost a race: the stored
	// watermark no longer matches what the caller read.
	ErrConflict = errors.New("storage: watermark conflict")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file at DSN
//   - "postgres": PostgreSQL connection URL in DSN
//   - "memory": process-local, for tests and dry runs
type Config struct {
	Driver      string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ListFilter narrows List. Zero fields match everything.
type ListFilter struct {
	UserID    string
	Repo      domain.RepoID
	Status    domain.Status
	Frequency domain.Frequency
}

func (f ListFilter) match(s domain.Subscription) bool {
	return (f.UserID == "" || f.UserID == s.UserID) &&
		(f.Repo == "" || f.Repo == s.Repo) &&
		(f.Status == "" || f.Status == s.Status) &&
		(f.Frequency == "" || f.Frequency == s.Frequency)
}

// Store is the durable record of subscriptions and their scheduling state.
type Store interface {
	// Subscribe creates the (user, repo) subscription, or reactivates and
	// updates the existing one. created reports which happened.
	Subscribe(ctx context.Context, sub domain.Subscription, now domain.UTCTime) (out domain.Subscription, created bool, err error)
	Get(ctx context.Context, id string) (domain.Subscription, error)
	GetByUserRepo(ctx context.Context, userID string, repo domain.RepoID) (domain.Subscription, error)
	List(ctx context.Context, f ListFilter) ([]domain.Subscription, error)
	// ListDue returns active subscriptions with next_due_at <= now, oldest due first.
	ListDue(ctx context.Context, now domain.UTCTime) ([]domain.Subscription, error)
	SetStatus(ctx context.Context, id string, st domain.Status, now domain.UTCTime) error
	UpdateChannels(ctx context.Context, id string, chans []domain.ChannelRef, now domain.UTCTime) error

	// CompleteCycle records rec and, in the same transaction, moves the
	// watermark from prev (zero = never run) to rec.Window.Until with the
	// given next due time. ErrConflict if the stored watermark is not prev.
	CompleteCycle(ctx context.Context, rec domain.CycleRecord, prev, nextDue domain.UTCTime) error
	// RecordCycle stores a cycle outcome without touching the watermark.
	RecordCycle(ctx context.Context, rec domain.CycleRecord) error
	RecentCycles(ctx context.Context, subscriptionID string, limit int) ([]domain.CycleRecord, error)
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)

	// Delivery ledger.
	Delivered(ctx context.Context, reportKey, channel string) (bool, error)
	MarkDelivered(ctx context.Context, reportKey, channel string, at domain.UTCTime) error

	Close() error
}
