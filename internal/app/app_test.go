package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/domain"
	"sentinel/internal/source"
	"sentinel/internal/storage"
)

var now0 = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

type stubSource struct {
	mu      sync.Mutex
	commits []domain.Commit
	err     error
	metaErr error
	windows []domain.Window
}

func (s *stubSource) Fetch(_ context.Context, repo domain.RepoID, since, until domain.UTCTime) (*domain.ActivityBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := domain.Window{Since: since, Until: until}
	s.windows = append(s.windows, w)
	if s.err != nil {
		return nil, s.err
	}
	out := &domain.ActivityBatch{Repo: repo, Window: w}
	for _, c := range s.commits {
		if w.Contains(c.Date) {
			out.Commits = append(out.Commits, c)
		}
	}
	return out, nil
}

func (s *stubSource) Meta(_ context.Context, repo domain.RepoID) (domain.RepoMeta, error) {
	if s.metaErr != nil {
		return domain.RepoMeta{}, s.metaErr
	}
	return domain.RepoMeta{FullName: string(repo), Stars: 42}, nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

const memoryConfig = `
logging:
  level: error
storage:
  driver: memory
scheduler:
  tick: "@every 1h"
dispatcher:
  max_attempts: 1
  retry_base: 10ms
`

func newTestApp(t *testing.T, src source.Source) *App {
	t.Helper()
	a, err := New(writeConfig(t, memoryConfig), WithSource(src), WithClock(func() time.Time { return now0 }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(writeConfig(t, "storage:\n  driver: cassandra\n"))
	require.Error(t, err)

	_, err = New(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSubscribeValidatesInput(t *testing.T) {
	a := newTestApp(t, &stubSource{})
	ctx := context.Background()

	_, _, err := a.Subscribe(ctx, SubscribeRequest{UserID: "u1", Repo: "not a repo", Channels: []string{"webhook=https://h.example/x"}})
	require.Error(t, err)

	_, _, err = a.Subscribe(ctx, SubscribeRequest{UserID: "u1", Repo: "o/n"})
	require.ErrorIs(t, err, ErrNoChannel)

	// No SMTP host configured.
	_, _, err = a.Subscribe(ctx, SubscribeRequest{UserID: "u1", Repo: "o/n", Channels: []string{"email=a@b.example"}})
	require.ErrorIs(t, err, ErrChannelUnavailable)

	_, _, err = a.Subscribe(ctx, SubscribeRequest{UserID: "u1", Repo: "o/n", Frequency: "hourly", Channels: []string{"webhook=https://h.example/x"}})
	require.ErrorIs(t, err, domain.ErrInvalidFrequency)

	_, _, err = a.Subscribe(ctx, SubscribeRequest{UserID: "u1", Repo: "o/n", Channels: []string{"webhook=https://h.example/x"}, Events: []string{"stars"}})
	require.ErrorIs(t, err, domain.ErrInvalidEventKind)
}

func TestSubscribeLifecycle(t *testing.T) {
	a := newTestApp(t, &stubSource{})
	ctx := context.Background()

	sub, created, err := a.Subscribe(ctx, SubscribeRequest{
		UserID:   "u1",
		Repo:     "https://github.com/octo/hello",
		Channels: []string{"webhook=https://h.example/x"},
		Events:   []string{"commit,release"},
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.RepoID("octo/hello"), sub.Repo)
	assert.Equal(t, domain.Daily, sub.Frequency)
	assert.Equal(t, domain.EventFilter{domain.KindCommit, domain.KindRelease}, sub.Filter)
	assert.True(t, sub.NextDueAt.Equal(domain.MustUTC(now0)))

	paused, err := a.SetStatus(ctx, "u1", "octo/hello", domain.StatusPaused)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, paused.Status)

	active, err := a.List(ctx, storage.ListFilter{Status: domain.StatusActive})
	require.NoError(t, err)
	assert.Empty(t, active)

	again, created, err := a.Subscribe(ctx, SubscribeRequest{UserID: "u1", Repo: "octo/hello", Frequency: "weekly", Channels: []string{"webhook=https://h.example/y"}})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, sub.ID, again.ID)
	assert.Equal(t, domain.Weekly, again.Frequency)

	_, err = a.SetStatus(ctx, "u2", "octo/hello", domain.StatusCancelled)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAnalyzeDoesNotTouchSubscriptions(t *testing.T) {
	src := &stubSource{
		commits: []domain.Commit{
			{SHA: "a1", Message: "fix", Date: domain.MustUTC(now0.Add(-2 * time.Hour))},
			{SHA: "b2", Message: "old", Date: domain.MustUTC(now0.Add(-10 * 24 * time.Hour))},
		},
		metaErr: source.ErrNotFound,
	}
	a := newTestApp(t, src)
	ctx := context.Background()

	r, err := a.Analyze(ctx, AnalyzeRequest{Repo: "octo/hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Counts[domain.KindCommit])
	assert.Equal(t, "adhoc", r.Key.SubscriptionID)
	assert.Equal(t, "octo/hello", r.Meta.FullName)
	assert.Equal(t, 7*24*time.Hour, r.Window.Duration())

	r, err = a.Analyze(ctx, AnalyzeRequest{Repo: "octo/hello", Days: 30, Events: []string{"issue"}})
	require.NoError(t, err)
	assert.Zero(t, r.Counts[domain.KindCommit])
	assert.Empty(t, r.Samples.Commits)

	subs, err := a.List(ctx, storage.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestAnalyzePropagatesFetchError(t *testing.T) {
	a := newTestApp(t, &stubSource{err: source.ErrNotFound})
	_, err := a.Analyze(context.Background(), AnalyzeRequest{Repo: "octo/gone"})
	require.ErrorIs(t, err, source.ErrNotFound)
}

func TestProcessDeliversAndAdvances(t *testing.T) {
	var hits atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	src := &stubSource{commits: []domain.Commit{{SHA: "a1", Message: "fix", Date: domain.MustUTC(now0.Add(-time.Hour))}}}
	a := newTestApp(t, src)
	ctx := context.Background()

	_, _, err := a.Subscribe(ctx, SubscribeRequest{UserID: "u1", Repo: "octo/hello", Channels: []string{"webhook=" + hook.URL}})
	require.NoError(t, err)
	_, _, err = a.Subscribe(ctx, SubscribeRequest{UserID: "u1", Repo: "octo/weekly", Frequency: "weekly", Channels: []string{"webhook=" + hook.URL}})
	require.NoError(t, err)

	var calls [][2]int
	res, err := a.Process(ctx, domain.Daily, func(done, total int) { calls = append(calls, [2]int{done, total}) })
	require.NoError(t, err)
	require.Len(t, res.Started, 1)
	require.NotEmpty(t, calls)
	assert.Equal(t, [2]int{1, 1}, calls[len(calls)-1])
	// Delivery runs after the cycle commits.
	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	sub, err := a.store.GetByUserRepo(ctx, "u1", "octo/hello")
	require.NoError(t, err)
	assert.True(t, sub.LastWindowEnd.Equal(domain.MustUTC(now0)))

	weekly, err := a.store.GetByUserRepo(ctx, "u1", "octo/weekly")
	require.NoError(t, err)
	assert.False(t, weekly.HasRun())

	st, err := a.Status(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Subscriptions[domain.StatusActive])
	require.Len(t, st.Cycles, 1)
	assert.Equal(t, sub.ID, st.Cycles[0].SubscriptionID)
	assert.Nil(t, st.StartedAt)
}

func TestStartStopLifecycle(t *testing.T) {
	a := newTestApp(t, &stubSource{})
	ctx := context.Background()

	require.ErrorIs(t, a.Ready(ctx), ErrNotStarted)
	require.NoError(t, a.Start(ctx))
	require.Error(t, a.Start(ctx))
	require.NoError(t, a.Ready(ctx))
	assert.NotZero(t, a.runner.Next())

	require.NoError(t, a.Stop(ctx))
	require.Error(t, a.Ready(ctx))
	require.NoError(t, a.Stop(ctx))
}

func TestStopWithoutStart(t *testing.T) {
	a := newTestApp(t, &stubSource{})
	require.NoError(t, a.Stop(context.Background()))
}
