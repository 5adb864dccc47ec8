package scheduler

import (
	"context"
	"time"

	"sentinel/internal/domain"
	"sentinel/internal/notify"
	"sentinel/internal/storage"
)

// Config controls cycle execution.
type Config struct {
	DefaultLookback time.Duration
	MaxConcurrent   int
	TopN            int
	HistorySize     int

	// Breaker pauses subscriptions whose repository keeps returning not found.
	// BreakerTripFailures < 0 disables it; 0 applies the default.
	BreakerTripFailures int
	BreakerBaseDelay    time.Duration
	BreakerMaxDelay     time.Duration
	BreakerResetAfter   time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultLookback <= 0 {
		c.DefaultLookback = 7 * 24 * time.Hour
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Store is the part of storage.Store the scheduler needs.
type Store interface {
	ListDue(ctx context.Context, now domain.UTCTime) ([]domain.Subscription, error)
	CompleteCycle(ctx context.Context, rec domain.CycleRecord, prev, nextDue domain.UTCTime) error
	RecordCycle(ctx context.Context, rec domain.CycleRecord) error
}

var _ Store = (storage.Store)(nil)

// Dispatcher starts report delivery. It returns once every channel delivery
// is running.
type Dispatcher interface {
	Dispatch(ctx context.Context, r *domain.Report, channels []domain.ChannelRef) (*notify.DispatchResult, error)
}

// TickResult lists what one Tick did with each due subscription.
type TickResult struct {
	At              domain.UTCTime `json:"at"`
	Due             int            `json:"due"`
	Started         []string       `json:"started"`
	SkippedInFlight []string       `json:"skipped_in_flight,omitempty"`
	SkippedBreaker  []string       `json:"skipped_breaker,omitempty"`
}

// CycleEvent is the payload of cycle.* bus events.
type CycleEvent struct {
	SubscriptionID string                   `json:"subscription_id"`
	Repo           domain.RepoID            `json:"repo"`
	Status         domain.CycleStatus       `json:"status,omitempty"`
	Window         domain.Window            `json:"window"`
	Counts         map[domain.EventKind]int `json:"counts,omitempty"`
	Duration       time.Duration            `json:"duration"`
	Reason         string                   `json:"reason,omitempty"`
	Error          string                   `json:"error,omitempty"`
}

// Snapshot is a point-in-time view for status output.
type Snapshot struct {
	InFlight      []string             `json:"in_flight"`
	MaxConcurrent int                  `json:"max_concurrent"`
	LastTick      *TickResult          `json:"last_tick,omitempty"`
	CircuitTotal  int                  `json:"circuit_total"`
	CircuitOpen   int                  `json:"circuit_open"`
	History       []domain.CycleRecord `json:"history"`
}
