// Package report turns an activity batch into a channel-agnostic Report.
//
// Build is pure: the same inputs always produce an identical Report, and the
// batch is never mutated.
package report

import (
	"sort"

	"sentinel/internal/domain"
)

// DefaultTopN is the per-category sample size when none is configured.
const DefaultTopN = 10

// Input carries what Build needs besides the batch.
type Input struct {
	SubscriptionID string
	Meta           domain.RepoMeta
	Filter         domain.EventFilter
	TopN           int
	// GeneratedAt is stamped onto the report; callers pass the cycle time.
	GeneratedAt domain.UTCTime
}

// Build applies the filter, counts every remaining record and keeps the
// TopN most recent of each category.
func Build(in Input, batch *domain.ActivityBatch) domain.Report {
	topN := in.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	if batch == nil {
		batch = &domain.ActivityBatch{}
	}
	filter := in.Filter.Normalize()

	meta := in.Meta
	if meta.FullName == "" {
		meta.FullName = string(batch.Repo)
	}

	r := domain.Report{
		Key: domain.ReportKey{
			SubscriptionID: in.SubscriptionID,
			WindowStart:    batch.Window.Since,
			WindowEnd:      batch.Window.Until,
		},
		Repo:        batch.Repo,
		Meta:        meta,
		Window:      batch.Window,
		Filter:      filter,
		Counts:      make(map[domain.EventKind]int, len(domain.EventKinds)),
		Truncated:   batch.Truncated,
		GeneratedAt: in.GeneratedAt,
	}

	if filter.Allows(domain.KindCommit) {
		r.Counts[domain.KindCommit] = len(batch.Commits)
		r.Samples.Commits = topCommits(batch.Commits, topN)
	}
	if filter.Allows(domain.KindPullRequest) {
		r.Counts[domain.KindPullRequest] = len(batch.PullRequests)
		r.Samples.PullRequests = topPulls(batch.PullRequests, topN)
	}
	if filter.Allows(domain.KindIssue) {
		r.Counts[domain.KindIssue] = len(batch.Issues)
		r.Samples.Issues = topIssues(batch.Issues, topN)
	}
	if filter.Allows(domain.KindRelease) {
		r.Counts[domain.KindRelease] = len(batch.Releases)
		r.Samples.Releases = topReleases(batch.Releases, topN)
	}
	return r
}

// Each top* copies, sorts newest first with a stable tie-break, and cuts to n.

func topCommits(in []domain.Commit, n int) []domain.Commit {
	out := append([]domain.Commit(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Date.Compare(out[j].Date); c != 0 {
			return c > 0
		}
		return out[i].SHA < out[j].SHA
	})
	return cut(out, n)
}

func topPulls(in []domain.PullRequest, n int) []domain.PullRequest {
	out := append([]domain.PullRequest(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].UpdatedAt.Compare(out[j].UpdatedAt); c != 0 {
			return c > 0
		}
		return out[i].Number > out[j].Number
	})
	return cut(out, n)
}

func topIssues(in []domain.Issue, n int) []domain.Issue {
	out := append([]domain.Issue(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].UpdatedAt.Compare(out[j].UpdatedAt); c != 0 {
			return c > 0
		}
		return out[i].Number > out[j].Number
	})
	return cut(out, n)
}

func topReleases(in []domain.Release, n int) []domain.Release {
	out := append([]domain.Release(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].PublishedAt.Compare(out[j].PublishedAt); c != 0 {
			return c > 0
		}
		return out[i].TagName < out[j].TagName
	})
	return cut(out, n)
}

func cut[T any](s []T, n int) []T {
	if len(s) > n {
		s = s[:n:n]
	}
	if len(s) == 0 {
		return nil
	}
	return s
}
