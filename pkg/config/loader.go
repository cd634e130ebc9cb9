package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loader reads, parses, and validates the broker configuration file, with
// an optional file watcher for live-reload of non-structural settings.
type Loader struct {
	path     string
	onChange func(*Config)

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stopCh   chan struct{}
	logger   *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange registers a callback invoked with the freshly reloaded
// Config whenever the watched file changes.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) { l.onChange = fn }
}

// WithLogger attaches a logger for watcher diagnostics.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a Loader for the YAML file at path. An empty path is
// valid: Load then returns Default() overlaid with only env vars.
func NewLoader(path string, opts ...LoaderOption) *Loader {
	l := &Loader{path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the config file (if any), applies a .env file alongside it
// (if present), expands ${VAR} references, layers explicit environment
// variables on top, fills in defaults, and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", l.path, err)
			}
		} else {
			// godotenv populates process env from a sibling .env file so
			// that ${VAR} expansion below can see it; missing .env is not
			// an error.
			_ = godotenv.Load(filepath.Join(filepath.Dir(l.path), ".env"))

			parsed := Default()
			if err := yaml.Unmarshal(data, parsed); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", l.path, err)
			}
			cfg = parsed
		}
	}

	expandStruct(cfg)
	applyEnvOverrides(cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Watch starts watching the config file for changes, invoking onChange
// with a freshly reloaded Config on each write event. Watch is a no-op if
// no path was given or no onChange callback was registered. Errors from
// individual reload attempts are logged, not propagated, since a bad edit
// to a live config file must not crash the broker.
func (l *Loader) Watch() error {
	if l.path == "" || l.onChange == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return fmt.Errorf("watching config %s: %w", l.path, err)
	}

	l.watcher = w
	l.stopCh = make(chan struct{})

	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := l.Load()
			if err != nil {
				l.logger.Warn("config reload failed, keeping previous configuration", "error", err)
				continue
			}
			l.onChange(cfg)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("config watcher error", "error", err)
		case <-l.stopCh:
			return
		}
	}
}

// Stop halts the file watcher, if running.
func (l *Loader) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher == nil {
		return
	}
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.watcher.Close()
	l.watcher = nil
}
