package notify

import (
	"time"

	"sentinel/internal/domain"
)

// Config controls channel delivery.
type Config struct {
	MaxAttempts   int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.3 = ±30%
	SendTimeout   time.Duration
	RatePerSec    float64
	HistorySize   int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = time.Minute
	}
	if c.RetryMaxDelay < c.RetryBase {
		c.RetryMaxDelay = c.RetryBase
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.3
	}
	if c.RetryJitter > 1 {
		c.RetryJitter = 1
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// HistoryItem is one terminal delivery, kept for status output.
type HistoryItem struct {
	At        time.Time      `json:"at"`
	ReportKey string         `json:"report_key"`
	Channel   string         `json:"channel"`
	Outcome   domain.Outcome `json:"outcome"`
	Attempts  int            `json:"attempts"`
	Error     string         `json:"error,omitempty"`
}

// DeliveryEvent is the payload of delivery.* bus events.
type DeliveryEvent struct {
	ReportKey string         `json:"report_key"`
	Channel   string         `json:"channel"`
	Kind      string         `json:"kind"`
	Attempt   int            `json:"attempt"`
	Outcome   domain.Outcome `json:"outcome"`
	Duration  time.Duration  `json:"duration"`
	Error     string         `json:"error,omitempty"`
}
