package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUTCNormalizesZone(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+7", 7*3600)
	local := time.Date(2024, 3, 1, 7, 0, 0, 0, loc)
	u, err := UTC(local)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, u.Time().Location())
	assert.True(t, u.Equal(MustUTC(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))))

	_, err = UTC(time.Time{})
	require.ErrorIs(t, err, ErrZeroTime)
}

func TestUTCTimeJSON(t *testing.T) {
	t.Parallel()

	in := MustUTC(time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC))
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out UTCTime
	require.NoError(t, json.Unmarshal(b, &out))
	assert.True(t, in.Equal(out))

	b, err = json.Marshal(UTCTime{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}

func TestFrequencyNext(t *testing.T) {
	t.Parallel()

	t0 := MustUTC(time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC))
	tests := []struct {
		freq Frequency
		want time.Duration
	}{
		{Daily, 24 * time.Hour},
		{Weekly, 7 * 24 * time.Hour},
		{Monthly, 30 * 24 * time.Hour},
	}
	for _, tt := range tests {
		next, err := tt.freq.Next(t0)
		require.NoError(t, err)
		assert.Equal(t, tt.want, next.Sub(t0), tt.freq)
	}

	_, err := Frequency("hourly").Next(t0)
	require.ErrorIs(t, err, ErrInvalidFrequency)
	_, err = ParseFrequency("yearly")
	require.ErrorIs(t, err, ErrInvalidFrequency)
}

func TestSubscriptionWindow(t *testing.T) {
	t.Parallel()

	now := MustUTC(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC))
	s := Subscription{Status: StatusActive}
	assert.True(t, s.IsDue(now), "never-run subscription is due immediately")

	w := s.WindowAt(now, 7*24*time.Hour)
	assert.Equal(t, 7*24*time.Hour, w.Duration())
	assert.True(t, w.Until.Equal(now))

	s.LastWindowEnd = now.Add(-25 * time.Hour)
	s.NextDueAt = now.Add(-time.Hour)
	w = s.WindowAt(now, 7*24*time.Hour)
	assert.True(t, w.Since.Equal(s.LastWindowEnd))

	s.Status = StatusPaused
	assert.False(t, s.IsDue(now))
}

func TestWindowContainsIsHalfOpen(t *testing.T) {
	t.Parallel()

	a := MustUTC(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	b := a.Add(time.Hour)
	w := Window{Since: a, Until: b}
	require.NoError(t, w.Validate())
	assert.True(t, w.Contains(a))
	assert.False(t, w.Contains(b))
	assert.ErrorIs(t, Window{Since: b, Until: a}.Validate(), ErrInvalidWindow)
}

func TestEventFilter(t *testing.T) {
	t.Parallel()

	var all EventFilter
	for _, k := range EventKinds {
		assert.True(t, all.Allows(k))
	}
	f := EventFilter{KindRelease, KindCommit, KindCommit}.Normalize()
	assert.Equal(t, EventFilter{KindCommit, KindRelease}, f)
	assert.False(t, f.Allows(KindIssue))
	assert.Equal(t, "commit,release", f.String())
}

func TestParseRepoURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    RepoID
		wantErr bool
	}{
		{in: "golang/go", want: "golang/go"},
		{in: "https://github.com/golang/go", want: "golang/go"},
		{in: "https://github.com/golang/go.git", want: "golang/go"},
		{in: "https://github.com/golang/go/tree/master", want: "golang/go"},
		{in: "git@github.com:golang/go.git", want: "golang/go"},
		{in: "golang", wantErr: true},
		{in: "bad owner/repo", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRepoURL(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidRepo, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseChannelRef(t *testing.T) {
	t.Parallel()

	ref, err := ParseChannelRef("webhook=https://example.com/hook")
	require.NoError(t, err)
	assert.Equal(t, ChannelRef{Kind: ChannelWebhook, Target: "https://example.com/hook"}, ref)

	ref, err = ParseChannelRef("slack=https://hooks.slack.com/x")
	require.NoError(t, err)
	assert.Equal(t, ChannelChatWebhook, ref.Kind)

	_, err = ParseChannelRef("pager=123")
	assert.ErrorIs(t, err, ErrInvalidChannel)
	_, err = ParseChannelRef("email=")
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestReportKeyRoundTrip(t *testing.T) {
	t.Parallel()

	k := ReportKey{
		SubscriptionID: "sub:with:colons",
		WindowStart:    MustUTC(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		WindowEnd:      MustUTC(time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC)),
	}
	got, err := ParseReportKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k.SubscriptionID, got.SubscriptionID)
	assert.True(t, k.WindowStart.Equal(got.WindowStart))
	assert.True(t, k.WindowEnd.Equal(got.WindowEnd))
}
