package logx

import (
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceLevelHook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.log")
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	var warns, errs atomic.Int64
	svc.OnLevel(func(l Level) {
		switch l {
		case LevelWarn:
			warns.Add(1)
		case LevelError:
			errs.Add(1)
		}
	})

	log.Info("below level")
	log.Warn("w", String("k", "v"))
	log.With(Int("n", 1)).Error("e", Err(assert.AnError))

	assert.EqualValues(t, 1, warns.Load())
	assert.EqualValues(t, 1, errs.Load())
	require.FileExists(t, path)
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Error("dropped")
	assert.False(t, Nop().IsZero())
}

func TestApplySwapsLevel(t *testing.T) {
	svc, log := New(Config{Level: "error", File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "a.log")}})
	t.Cleanup(func() { _ = svc.Close() })

	var n atomic.Int64
	svc.OnLevel(func(Level) { n.Add(1) })
	child := log.With(String("comp", "x"))

	child.Warn("dropped")
	assert.Zero(t, n.Load())

	svc.Apply(Config{Level: "WARNING", File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "b.log")}})
	child.Warn("kept")
	assert.EqualValues(t, 1, n.Load())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, parseLevel(" Debug "))
	assert.Equal(t, LevelWarn, parseLevel("warning"))
	assert.Equal(t, LevelInfo, parseLevel(""))
	assert.Equal(t, LevelInfo, parseLevel("loud"))
}

func TestStackTraceNamesCaller(t *testing.T) {
	assert.Contains(t, StackTrace(1, 8), "TestStackTraceNamesCaller")
}
