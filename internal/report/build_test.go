package report

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/domain"
)

var t0 = domain.MustUTC(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

func sampleBatch() *domain.ActivityBatch {
	b := &domain.ActivityBatch{
		Repo:   "o/r",
		Window: domain.Window{Since: t0, Until: t0.Add(25 * time.Hour)},
	}
	for i := 0; i < 5; i++ {
		b.Commits = append(b.Commits, domain.Commit{SHA: fmt.Sprintf("c%d", i), Date: t0.Add(time.Duration(i) * time.Hour)})
	}
	b.Issues = []domain.Issue{
		{Number: 1, UpdatedAt: t0.Add(2 * time.Hour)},
		{Number: 2, UpdatedAt: t0.Add(3 * time.Hour)},
	}
	b.Releases = []domain.Release{{TagName: "v1", PublishedAt: t0.Add(10 * time.Hour)}}
	return b
}

func TestBuildCounts(t *testing.T) {
	t.Parallel()

	r := Build(Input{SubscriptionID: "s1"}, sampleBatch())
	assert.Equal(t, map[domain.EventKind]int{
		domain.KindCommit:      5,
		domain.KindIssue:       2,
		domain.KindPullRequest: 0,
		domain.KindRelease:     1,
	}, r.Counts)
	assert.Equal(t, "s1", r.Key.SubscriptionID)
	assert.True(t, r.Key.WindowEnd.Equal(t0.Add(25*time.Hour)))
	assert.Equal(t, "o/r", r.Meta.FullName)
	assert.Equal(t, 8, r.Total())
}

func TestBuildOrdersNewestFirstAndCaps(t *testing.T) {
	t.Parallel()

	b := sampleBatch()
	r := Build(Input{TopN: 3}, b)
	require.Len(t, r.Samples.Commits, 3)
	assert.Equal(t, []string{"c4", "c3", "c2"}, []string{r.Samples.Commits[0].SHA, r.Samples.Commits[1].SHA, r.Samples.Commits[2].SHA})
	assert.Equal(t, 5, r.Counts[domain.KindCommit], "counts cover the whole batch, not the sample")
	assert.Equal(t, 2, r.Samples.Issues[0].Number)
	assert.Equal(t, "c0", b.Commits[0].SHA, "batch is not reordered")
}

func TestBuildIsDeterministic(t *testing.T) {
	t.Parallel()

	b := sampleBatch()
	// Equal timestamps fall back to the identifier.
	b.Commits = append(b.Commits, domain.Commit{SHA: "a-tie", Date: t0.Add(4 * time.Hour)})
	first := Build(Input{TopN: 2}, b)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Build(Input{TopN: 2}, b))
	}
	assert.Equal(t, "a-tie", first.Samples.Commits[0].SHA)
}

func TestBuildFilter(t *testing.T) {
	t.Parallel()

	filters := []domain.EventFilter{
		nil,
		{domain.KindCommit},
		{domain.KindIssue, domain.KindRelease},
		{domain.KindPullRequest},
	}
	for _, f := range filters {
		r := Build(Input{Filter: f}, sampleBatch())
		for k := range r.Counts {
			assert.True(t, f.Allows(k), "count for filtered kind %s with filter %s", k, f)
		}
		if !f.Allows(domain.KindCommit) {
			assert.Empty(t, r.Samples.Commits)
		}
		if !f.Allows(domain.KindIssue) {
			assert.Empty(t, r.Samples.Issues)
		}
		if !f.Allows(domain.KindRelease) {
			assert.Empty(t, r.Samples.Releases)
		}
	}
}

func TestBuildCarriesTruncation(t *testing.T) {
	t.Parallel()

	b := sampleBatch()
	b.Truncated = true
	assert.True(t, Build(Input{}, b).Truncated)
}
