package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidFrequency = errors.New("domain: invalid frequency")
	ErrInvalidStatus    = errors.New("domain: invalid status")
	ErrInvalidEventKind = errors.New("domain: invalid event kind")
	ErrInvalidChannel   = errors.New("domain: invalid channel")
)

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// Frequencies lists the supported cadences, finest first.
var Frequencies = []Frequency{Daily, Weekly, Monthly}

func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if _, err := f.Period(); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
	}
	return f, nil
}

// Period returns the fixed length of one cadence. A month is 30 days.
func (f Frequency) Period() (time.Duration, error) {
	switch f {
	case Daily:
		return 24 * time.Hour, nil
	case Weekly:
		return 7 * 24 * time.Hour, nil
	case Monthly:
		return 30 * 24 * time.Hour, nil
	default:
		return 0, ErrInvalidFrequency
	}
}

// Next returns the due time of the cycle following a window ending at end.
func (f Frequency) Next(end UTCTime) (UTCTime, error) {
	p, err := f.Period()
	if err != nil {
		return UTCTime{}, err
	}
	return end.Add(p), nil
}

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusActive, StatusPaused, StatusCancelled:
		return st, nil
	case "inactive":
		return StatusCancelled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

type EventKind string

const (
	KindCommit      EventKind = "commit"
	KindPullRequest EventKind = "pull_request"
	KindIssue       EventKind = "issue"
	KindRelease     EventKind = "release"
)

// EventKinds is the canonical category order used by reports and renderers.
var EventKinds = []EventKind{KindCommit, KindPullRequest, KindIssue, KindRelease}

func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCommit, KindPullRequest, KindIssue, KindRelease:
		return k, nil
	case "commits":
		return KindCommit, nil
	case "pr", "prs", "pull_requests", "pulls":
		return KindPullRequest, nil
	case "issues":
		return KindIssue, nil
	case "releases":
		return KindRelease, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEventKind, s)
	}
}

// EventFilter selects report categories. Empty allows everything.
type EventFilter []EventKind

func (f EventFilter) Allows(k EventKind) bool {
	if len(f) == 0 {
		return true
	}
	for _, x := range f {
		if x == k {
			return true
		}
	}
	return false
}

// Normalize dedups and orders the filter canonically.
func (f EventFilter) Normalize() EventFilter {
	if len(f) == 0 {
		return nil
	}
	out := make(EventFilter, 0, len(f))
	for _, k := range EventKinds {
		for _, x := range f {
			if x == k {
				out = append(out, k)
				break
			}
		}
	}
	return out
}

func (f EventFilter) String() string {
	if len(f) == 0 {
		return "all"
	}
	parts := make([]string, len(f))
	for i, k := range f {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}

// ChannelKind is the closed set of delivery channels.
type ChannelKind string

const (
	ChannelEmail       ChannelKind = "email"
	ChannelChatWebhook ChannelKind = "chat_webhook"
	ChannelWebhook     ChannelKind = "webhook"
	ChannelTelegram    ChannelKind = "telegram"
)

var ChannelKinds = []ChannelKind{ChannelEmail, ChannelChatWebhook, ChannelWebhook, ChannelTelegram}

func ParseChannelKind(s string) (ChannelKind, error) {
	switch k := ChannelKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ChannelEmail, ChannelChatWebhook, ChannelWebhook, ChannelTelegram:
		return k, nil
	case "slack", "discord", "chat":
		return ChannelChatWebhook, nil
	default:
		return "", fmt.Errorf("%w: kind %q", ErrInvalidChannel, s)
	}
}

// ChannelRef names one destination: an address, a URL or a chat id.
type ChannelRef struct {
	Kind   ChannelKind `json:"kind"`
	Target string      `json:"target"`
}

func (c ChannelRef) String() string { return string(c.Kind) + ":" + c.Target }

func (c ChannelRef) Validate() error {
	if _, err := ParseChannelKind(string(c.Kind)); err != nil {
		return err
	}
	if strings.TrimSpace(c.Target) == "" {
		return fmt.Errorf("%w: empty target for %s", ErrInvalidChannel, c.Kind)
	}
	return nil
}

// ParseChannelRef parses "kind=target" (or "kind:target").
func ParseChannelRef(s string) (ChannelRef, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, "=:")
	if i <= 0 {
		return ChannelRef{}, fmt.Errorf("%w: %q (want kind=target)", ErrInvalidChannel, s)
	}
	kind, err := ParseChannelKind(s[:i])
	if err != nil {
		return ChannelRef{}, err
	}
	ref := ChannelRef{Kind: kind, Target: strings.TrimSpace(s[i+1:])}
	return ref, ref.Validate()
}

// Subscription is a standing request to monitor one repository for one user.
type Subscription struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Repo      RepoID       `json:"repo"`
	Frequency Frequency    `json:"frequency"`
	Channels  []ChannelRef `json:"channels"`
	Filter    EventFilter  `json:"filter,omitempty"`
	Status    Status       `json:"status"`

	// LastWindowEnd is zero when the subscription never completed a cycle.
	LastWindowEnd UTCTime `json:"last_window_end"`
	NextDueAt     UTCTime `json:"next_due_at"`

	CreatedAt UTCTime `json:"created_at"`
	UpdatedAt UTCTime `json:"updated_at"`
}

func (s Subscription) HasRun() bool { return !s.LastWindowEnd.IsZero() }

// IsDue reports whether an active subscription should run at now.
func (s Subscription) IsDue(now UTCTime) bool {
	if s.Status != StatusActive {
		return false
	}
	return s.NextDueAt.IsZero() || !s.NextDueAt.After(now)
}

// WindowAt returns the fetch window for a cycle starting at now.
// Never-run subscriptions look back by lookback.
func (s Subscription) WindowAt(now UTCTime, lookback time.Duration) Window {
	since := s.LastWindowEnd
	if since.IsZero() {
		since = now.Add(-lookback)
	}
	return Window{Since: since, Until: now}
}

func (s Subscription) Validate() error {
	if err := ValidateRepoID(string(s.Repo)); err != nil {
		return err
	}
	if strings.TrimSpace(s.UserID) == "" {
		return errors.New("domain: empty user id")
	}
	if _, err := s.Frequency.Period(); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, s.Frequency)
	}
	if _, err := ParseStatus(string(s.Status)); err != nil {
		return err
	}
	for _, c := range s.Channels {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DedupChannels drops repeated refs while keeping the first occurrence order.
func DedupChannels(in []ChannelRef) []ChannelRef {
	seen := make(map[ChannelRef]struct{}, len(in))
	out := make([]ChannelRef, 0, len(in))
	for _, c := range in {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// SortSubscriptions orders by next due time, then id.
func SortSubscriptions(subs []Subscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		if c := subs[i].NextDueAt.Compare(subs[j].NextDueAt); c != 0 {
			return c < 0
		}
		return subs[i].ID < subs[j].ID
	})
}
