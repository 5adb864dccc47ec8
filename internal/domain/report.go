package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ReportKey identifies one report for idempotent delivery.
type ReportKey struct {
	SubscriptionID string  `json:"subscription_id"`
	WindowStart    UTCTime `json:"window_start"`
	WindowEnd      UTCTime `json:"window_end"`
}

func (k ReportKey) String() string {
	return k.SubscriptionID + ":" + strconv.FormatInt(k.WindowStart.UnixMilli(), 10) + ":" + strconv.FormatInt(k.WindowEnd.UnixMilli(), 10)
}

func ParseReportKey(s string) (ReportKey, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return ReportKey{}, fmt.Errorf("domain: bad report key %q", s)
	}
	j := strings.LastIndexByte(s[:i], ':')
	if j <= 0 {
		return ReportKey{}, fmt.Errorf("domain: bad report key %q", s)
	}
	start, err := strconv.ParseInt(s[j+1:i], 10, 64)
	if err != nil {
		return ReportKey{}, fmt.Errorf("domain: bad report key %q: %w", s, err)
	}
	end, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return ReportKey{}, fmt.Errorf("domain: bad report key %q: %w", s, err)
	}
	return ReportKey{SubscriptionID: s[:j], WindowStart: FromUnixMilli(start), WindowEnd: FromUnixMilli(end)}, nil
}

// Samples holds the bounded, most-recent-first display slices of a report.
type Samples struct {
	Commits      []Commit      `json:"commits,omitempty"`
	PullRequests []PullRequest `json:"pull_requests,omitempty"`
	Issues       []Issue       `json:"issues,omitempty"`
	Releases     []Release     `json:"releases,omitempty"`
}

// Report is the channel-agnostic result of one cycle. Treat it as read-only.
type Report struct {
	Key         ReportKey         `json:"key"`
	Repo        RepoID            `json:"repo"`
	Meta        RepoMeta          `json:"meta"`
	Window      Window            `json:"window"`
	Filter      EventFilter       `json:"filter,omitempty"`
	Counts      map[EventKind]int `json:"counts"`
	Samples     Samples           `json:"samples"`
	Truncated   bool              `json:"truncated"`
	GeneratedAt UTCTime           `json:"generated_at"`
}

func (r *Report) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// Kinds returns the categories present in the report, canonically ordered.
func (r *Report) Kinds() []EventKind {
	out := make([]EventKind, 0, len(EventKinds))
	for _, k := range EventKinds {
		if _, ok := r.Counts[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func (r *Report) Title() string {
	name := r.Meta.FullName
	if name == "" {
		name = string(r.Repo)
	}
	return fmt.Sprintf("Activity Report for %s (%s - %s)", name,
		r.Window.Since.Format("2006-01-02"), r.Window.Until.Format("2006-01-02"))
}
