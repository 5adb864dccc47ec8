package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

type Config struct {
	Level   string
	Console bool
	// JSON writes JSON lines to stdout instead of the console format.
	JSON bool
	File FileConfig
}

type FileConfig struct {
	Enabled bool
	// Path defaults to ./sentinel.log.
	Path string
}

// LevelHook sees the level of every line that is written. It must not log.
type LevelHook func(level Level)

// Service owns the sinks behind every Logger it hands out and can swap
// them at runtime.
type Service struct {
	mu   sync.Mutex
	file *os.File

	root  atomic.Pointer[zerolog.Logger]
	hooks atomic.Pointer[[]LevelHook]
}

// New builds the service from cfg and returns it with its root logger.
func New(cfg Config) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	s := &Service{}
	s.hooks.Store(&[]LevelHook{})
	s.Apply(cfg)
	return s, Logger{svc: s}
}

// OnLevel registers h for all future lines.
func (s *Service) OnLevel(h LevelHook) {
	if h == nil {
		return
	}
	for {
		cur := s.hooks.Load()
		next := append(append(make([]LevelHook, 0, len(*cur)+1), *cur...), h)
		if s.hooks.CompareAndSwap(cur, &next) {
			return
		}
	}
}

// Run implements zerolog.Hook. zerolog only calls it for enabled levels.
func (s *Service) Run(_ *zerolog.Event, level zerolog.Level, _ string) {
	for _, h := range *s.hooks.Load() {
		h(level)
	}
}

// Apply rebuilds the sinks. Lines already in flight finish on the old ones.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, stdoutSink(cfg.JSON))
	}

	prev := s.file
	s.file = nil
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./sentinel.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, stdoutSink(false))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level)).
		Hook(s).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	if prev != nil {
		_ = prev.Close()
	}
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func stdoutSink(json bool) io.Writer {
	if json {
		return os.Stdout
	}
	return zerolog.ConsoleWriter{
		Out:          os.Stdout,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}

// parseLevel accepts zerolog level names plus "warning"; anything else is info.
func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	if lvl, err := zerolog.ParseLevel(s); err == nil && s != "" {
		return lvl
	}
	return zerolog.InfoLevel
}
