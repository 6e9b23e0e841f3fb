package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the file.
const DefaultWatchInterval = 5 * time.Second

// fileState identifies one version of the config file.
type fileState struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher polls a config file and reports each valid change to a callback.
// A touched file whose content is unchanged is not reported; an edit that
// fails to parse or validate is logged and the previous config stays
// current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	lookup   func(string) (string, bool)
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	state   fileState

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithEnv applies the environment overlay from lookup to every reload, so a
// reloaded config is built the same way as the one the process started with.
func WithEnv(lookup func(string) (string, bool)) WatcherOption {
	return func(w *Watcher) { w.lookup = lookup }
}

// WithWatcherLogger sets the logger. Default slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path once, failing if it is not a valid config, and then
// polls it in the background until [Watcher.Stop].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		log:      slog.Default(),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.state = cfg, st

	go w.loop()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight reload callback to return.
// It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.poll()
		}
	}
}

// poll reloads the file when its mtime moved and its content hash changed.
func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.state.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, st, err := w.read()
	if err != nil {
		w.log.Warn("config watcher: reload rejected, keeping current config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if st.sum == w.state.sum {
		w.state.mtime = st.mtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.state = cfg, st
	w.mu.Unlock()

	w.log.Info("config watcher: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read decodes, overlays and validates the file and returns it with the
// state it was read at.
func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}

	cfg, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	if w.lookup != nil {
		if err := ApplyEnv(cfg, w.lookup); err != nil {
			return nil, fileState{}, err
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
