package domain

// CycleStatus is the terminal state of one scheduling cycle.
type CycleStatus string

const (
	CycleSucceeded CycleStatus = "succeeded"
	// CycleTransient covers rate limits and temporary upstream failures.
	CycleTransient CycleStatus = "failed_transient"
	// CyclePermanent covers repositories that are gone or inaccessible.
	CyclePermanent CycleStatus = "failed_permanent"
	CycleInvalid   CycleStatus = "failed_invalid"
	CycleDispatch  CycleStatus = "failed_dispatch"
	CycleConflict  CycleStatus = "conflict"
	CycleEmpty     CycleStatus = "empty_window"
)

func (s CycleStatus) Failed() bool {
	return s != CycleSucceeded && s != CycleEmpty
}

// CycleRecord is the audit entry written after each cycle.
type CycleRecord struct {
	ID             string            `json:"id"`
	SubscriptionID string            `json:"subscription_id"`
	Repo           RepoID            `json:"repo"`
	Window         Window            `json:"window"`
	Status         CycleStatus       `json:"status"`
	Error          string            `json:"error,omitempty"`
	Counts         map[EventKind]int `json:"counts,omitempty"`
	Truncated      bool              `json:"truncated,omitempty"`
	StartedAt      UTCTime           `json:"started_at"`
	FinishedAt     UTCTime           `json:"finished_at"`
}
