package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnchanged is returned by [Watcher.Reload] when the file content is the
// same as the current config's.
var ErrUnchanged = errors.New("config: unchanged")

// Watcher keeps the latest valid version of a config file. Edits that fail
// validation are logged and skipped. The assistant reads [Watcher.Current]
// at every session open, so voice and persona edits need no restart.
type Watcher struct {
	path     string
	interval time.Duration
	lookup   func(string) (string, bool)
	onChange func(ConfigDiff, *Config)

	current atomic.Pointer[Config]

	mu      sync.Mutex // serialises Reload
	modTime time.Time
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often [Watcher.Run] stats the file. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithEnvLookup replaces [os.LookupEnv] for secret overrides.
func WithEnvLookup(lookup func(string) (string, bool)) WatcherOption {
	return func(w *Watcher) { w.lookup = lookup }
}

// WithOnChange registers fn to run after each reload that changed content.
func WithOnChange(fn func(ConfigDiff, *Config)) WatcherOption {
	return func(w *Watcher) { w.onChange = fn }
}

// NewWatcher loads path. Call [Watcher.Run] to follow later edits.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, lookup: os.LookupEnv}
	for _, o := range opts {
		o(w)
	}
	cfg, sum, mod, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current.Store(cfg)
	w.sum, w.modTime = sum, mod
	return w, nil
}

// Current returns the latest valid config.
func (w *Watcher) Current() *Config { return w.current.Load() }

// Run polls until ctx ends. A file whose modification time moved is reloaded.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		info, err := os.Stat(w.path)
		if err != nil {
			slog.Warn("config: stat failed", "path", w.path, "err", err)
			continue
		}
		w.mu.Lock()
		moved := !info.ModTime().Equal(w.modTime)
		w.mu.Unlock()
		if !moved {
			continue
		}
		switch _, err := w.Reload(); {
		case err == nil:
			slog.Info("config: reloaded", "path", w.path)
		case errors.Is(err, ErrUnchanged):
		default:
			slog.Warn("config: edit rejected, keeping the previous config", "path", w.path, "err", err)
		}
	}
}

// Reload reads the file now and swaps it in when valid and different. It
// returns what changed, [ErrUnchanged] for identical content, or the read or
// validation error.
func (w *Watcher) Reload() (ConfigDiff, error) {
	w.mu.Lock()
	cfg, sum, mod, err := w.read()
	if err != nil {
		w.mu.Unlock()
		return ConfigDiff{}, err
	}
	w.modTime = mod
	if sum == w.sum {
		w.mu.Unlock()
		return ConfigDiff{}, ErrUnchanged
	}
	w.sum = sum
	prev := w.current.Swap(cfg)
	w.mu.Unlock()

	d := Diff(prev, cfg)
	if w.onChange != nil {
		w.onChange(d, cfg)
	}
	return d, nil
}

func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	var sum [sha256.Size]byte
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, sum, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, sum, time.Time{}, err
	}
	cfg, err := LoadWithEnv(bytes.NewReader(data), w.lookup)
	if err != nil {
		return nil, sum, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
