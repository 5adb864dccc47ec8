package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/domain"
	logx "sentinel/pkg/logx"
)

var base = domain.MustUTC(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", DSN: "file:" + uuid.NewString() + "?mode=memory&cache=shared"}, logx.Nop())
	require.NoError(t, err)
	mem, err := Open(Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sq.Close()
		_ = mem.Close()
	})
	return map[string]Store{"sqlite": sq, "memory": mem}
}

func newSub(user, repo string) domain.Subscription {
	return domain.Subscription{
		UserID:    user,
		Repo:      domain.RepoID(repo),
		Frequency: domain.Daily,
		Channels:  []domain.ChannelRef{{Kind: domain.ChannelWebhook, Target: "https://example.com/h"}},
		Filter:    domain.EventFilter{domain.KindRelease, domain.KindCommit},
	}
}

func TestStores(t *testing.T) {
	for name, st := range openStores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			t.Run("subscribe reactivates", func(t *testing.T) { testSubscribeReactivates(t, st) })
			t.Run("watermark cas", func(t *testing.T) { testCompleteCycleCAS(t, st) })
			t.Run("list due", func(t *testing.T) { testListDue(t, st) })
			t.Run("ledger", func(t *testing.T) { testLedger(t, st) })
		})
	}
}

func testSubscribeReactivates(t *testing.T, st Store) {
	ctx := context.Background()
	first, created, err := st.Subscribe(ctx, newSub("u1", "o/reactivate"), base)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, domain.StatusActive, first.Status)
	assert.True(t, first.NextDueAt.Equal(base), "never-run subscription is due immediately")
	assert.Equal(t, domain.EventFilter{domain.KindCommit, domain.KindRelease}, first.Filter)

	rec := domain.CycleRecord{
		SubscriptionID: first.ID,
		Repo:           first.Repo,
		Window:         domain.Window{Since: base.Add(-time.Hour), Until: base},
		Status:         domain.CycleSucceeded,
		StartedAt:      base,
		FinishedAt:     base,
	}
	require.NoError(t, st.CompleteCycle(ctx, rec, domain.UTCTime{}, base.Add(24*time.Hour)))
	require.NoError(t, st.SetStatus(ctx, first.ID, domain.StatusCancelled, base))

	again := newSub("u1", "o/reactivate")
	again.Frequency = domain.Weekly
	second, created, err := st.Subscribe(ctx, again, base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.StatusActive, second.Status)
	assert.Equal(t, domain.Weekly, second.Frequency)
	assert.True(t, second.LastWindowEnd.Equal(base), "watermark survives re-subscribe")
	assert.True(t, second.NextDueAt.Equal(base.Add(7*24*time.Hour)))

	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, counts[domain.StatusActive], 1)
}

func testCompleteCycleCAS(t *testing.T, st Store) {
	ctx := context.Background()
	sub, _, err := st.Subscribe(ctx, newSub("u2", "o/cas"), base)
	require.NoError(t, err)

	end := base.Add(25 * time.Hour)
	rec := domain.CycleRecord{
		SubscriptionID: sub.ID,
		Repo:           sub.Repo,
		Window:         domain.Window{Since: base, Until: end},
		Status:         domain.CycleSucceeded,
		Counts:         map[domain.EventKind]int{domain.KindCommit: 5},
		StartedAt:      end,
		FinishedAt:     end,
	}
	require.NoError(t, st.CompleteCycle(ctx, rec, domain.UTCTime{}, end.Add(24*time.Hour)))

	// A slow overlapping cycle that read the old watermark must not overwrite.
	stale := rec
	stale.ID = ""
	stale.Window.Until = end.Add(time.Hour)
	err = st.CompleteCycle(ctx, stale, domain.UTCTime{}, end.Add(25*time.Hour))
	require.ErrorIs(t, err, ErrConflict)

	got, err := st.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, got.LastWindowEnd.Equal(end))
	assert.True(t, got.NextDueAt.Equal(end.Add(24*time.Hour)))

	missing := rec
	missing.SubscriptionID = "nope"
	require.ErrorIs(t, st.CompleteCycle(ctx, missing, domain.UTCTime{}, end), ErrNotFound)

	require.NoError(t, st.RecordCycle(ctx, domain.CycleRecord{
		SubscriptionID: sub.ID, Repo: sub.Repo, Window: rec.Window,
		Status: domain.CycleTransient, Error: "rate limited", StartedAt: end, FinishedAt: end.Add(time.Second),
	}))
	cycles, err := st.RecentCycles(ctx, sub.ID, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, domain.CycleTransient, cycles[0].Status)
	assert.Equal(t, 5, cycles[1].Counts[domain.KindCommit])
}

func testListDue(t *testing.T, st Store) {
	ctx := context.Background()
	a, _, err := st.Subscribe(ctx, newSub("u3", "o/due-a"), base)
	require.NoError(t, err)
	b, _, err := st.Subscribe(ctx, newSub("u3", "o/due-b"), base.Add(time.Minute))
	require.NoError(t, err)
	c, _, err := st.Subscribe(ctx, newSub("u3", "o/due-c"), base)
	require.NoError(t, err)
	require.NoError(t, st.SetStatus(ctx, c.ID, domain.StatusPaused, base))

	due, err := st.ListDue(ctx, base)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, s := range due {
		ids[s.ID] = true
	}
	assert.True(t, ids[a.ID])
	assert.False(t, ids[b.ID], "not yet due")
	assert.False(t, ids[c.ID], "paused")

	mine, err := st.List(ctx, ListFilter{UserID: "u3", Status: domain.StatusActive})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	require.ErrorIs(t, st.SetStatus(ctx, "missing", domain.StatusPaused, base), ErrNotFound)
	_, err = st.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func testLedger(t *testing.T, st Store) {
	ctx := context.Background()
	ok, err := st.Delivered(ctx, "k1", "webhook:x")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.MarkDelivered(ctx, "k1", "webhook:x", base))
	require.NoError(t, st.MarkDelivered(ctx, "k1", "webhook:x", base))
	ok, err = st.Delivered(ctx, "k1", "webhook:x")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.Delivered(ctx, "k1", "email:x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRebindPostgres(t *testing.T) {
	s := &sqlStore{d: dialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.q("SELECT a FROM t WHERE x = ? AND y = ?"))
	s.d = dialectSQLite
	assert.Equal(t, "x = ?", s.q("x = ?"))
}
