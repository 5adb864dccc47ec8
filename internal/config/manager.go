package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "sentinel/pkg/logx"
)

const (
	// EnvGitHubToken overrides source.token when set.
	EnvGitHubToken = "SENTINEL_GITHUB_TOKEN"
	// EnvHTTPToken overrides http.token when set.
	EnvHTTPToken = "SENTINEL_HTTP_TOKEN"
)

// settleDelay is how long the file must stay quiet before a reload.
const settleDelay = 250 * time.Millisecond

var errWatcherClosed = errors.New("config: watcher closed")

// ConfigManager owns the current config and fans validated edits out to
// subscribers. Each subscriber always ends up holding the newest value.
type ConfigManager struct {
	path   string
	getenv func(string) string

	cur  atomic.Pointer[Config]
	hash atomic.Uint64

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path:   path,
		getenv: os.Getenv,
		subs:   map[chan *Config]struct{}{},
		log:    logx.Nop(),
	}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log.With(logx.String("path", m.path))
	}
}

// SetValidator adds a check run on every reloaded file before it is
// published. Load does not call it.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads the file, applies environment overrides and validates the
// result. Nothing is committed.
func (m *ConfigManager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(m.path, raw)
	if err != nil {
		return nil, err
	}
	m.applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *ConfigManager) applyEnv(cfg *Config) {
	overrides := []struct {
		key string
		dst *string
	}{
		{EnvGitHubToken, &cfg.Source.Token},
		{EnvHTTPToken, &cfg.HTTP.Token},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(m.getenv(o.key)); v != "" {
			*o.dst = v
		}
	}
}

// Load parses and commits the file.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	m.cur.Store(cfg)
	m.hash.Store(fingerprint(cfg))
}

func (m *ConfigManager) Get() *Config { return m.cur.Load() }

// Subscribe returns a channel receiving every published config. A slow
// reader loses intermediate values, never the latest.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe closes ch. Unknown or nil channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		for delivered := false; !delivered; {
			select {
			case ch <- cfg:
				delivered = true
			default:
				// Full: evict the oldest pending value and try again.
				select {
				case <-ch:
				default:
				}
			}
		}
	}
}

// Watch follows the config file until ctx ends. The directory is watched so
// editors that replace the file are seen too. Bursts of events collapse into
// one reload once the file is quiet. A broken watcher ends Watch with an
// error; callers restart it.
func (m *ConfigManager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	m.log.Debug("config watch started", logx.String("dir", dir))

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if strings.EqualFold(filepath.Base(ev.Name), name) && ev.Op != 0 {
				settle.Reset(settleDelay)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; the file may have changed.
				m.log.Warn("config watch overflow", logx.Err(err))
				settle.Reset(settleDelay)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		case <-settle.C:
			m.reload(ctx)
		}
	}
}

// reload parses, validates and publishes the file if its content changed.
func (m *ConfigManager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload rejected", logx.Err(err))
		return
	}
	fp := fingerprint(cfg)
	if fp != 0 && fp == m.hash.Load() {
		m.log.Debug("config unchanged")
		return
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config reload rejected", logx.Err(err))
			return
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published", logx.Uint64("fingerprint", fp))
}

// fingerprint hashes the decoded config, so formatting-only edits are
// ignored.
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
