package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecordsFirstError(t *testing.T) {
	s := New(context.Background())
	boom := errors.New("boom")
	s.Go("a", func(context.Context) error { return boom })
	s.Go("b", func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() })

	require.Eventually(t, func() bool { return s.Err() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Err(), boom)

	err := s.Stop(waitCtx(t))
	assert.ErrorIs(t, err, boom)
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fail", func(context.Context) error { return errors.New("x") })
	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled")
	}
	assert.Error(t, s.Wait(waitCtx(t)))
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go("p", func(context.Context) error { panic("kaboom") })
	require.Error(t, s.Wait(waitCtx(t)))

	snap := s.Snapshot()
	require.Len(t, snap.Loops, 1)
	assert.Equal(t, 1, snap.Loops[0].Panics)
	assert.Contains(t, snap.FirstError, "kaboom")
}

func TestGoRestartRetriesUntilClean(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("loop", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("flaky")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	require.NoError(t, s.Wait(waitCtx(t)))
	assert.Equal(t, int32(3), runs.Load())

	snap := s.Snapshot()
	require.Len(t, snap.Loops, 1)
	assert.Equal(t, 2, snap.Loops[0].Restarts)
	assert.False(t, snap.Loops[0].Running)
	assert.Empty(t, snap.FirstError)
}

func TestGoRestartGivesUp(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("loop", func(context.Context) error {
		runs.Add(1)
		return errors.New("always")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	assert.Error(t, s.Wait(waitCtx(t)))
	assert.Equal(t, int32(3), runs.Load())
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	s := New(context.Background())
	started := make(chan struct{})
	s.GoRestart("blocking", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return errors.New("interrupted")
	}, WithPublishFirstError(true))

	<-started
	assert.NoError(t, s.Stop(waitCtx(t)))
}
