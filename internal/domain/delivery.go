package domain

type Outcome string

const (
	OutcomeRetrying  Outcome = "retrying"
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	// OutcomeDuplicate means an earlier dispatch already delivered this report on the channel.
	OutcomeDuplicate Outcome = "skipped_duplicate"
)

func (o Outcome) Terminal() bool { return o != OutcomeRetrying }

// DeliveryAttempt is the per-channel state of one report delivery.
type DeliveryAttempt struct {
	ReportKey ReportKey  `json:"report_key"`
	Channel   ChannelRef `json:"channel"`
	Outcome   Outcome    `json:"outcome"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	UpdatedAt UTCTime    `json:"updated_at"`
}
