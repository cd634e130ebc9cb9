package checkpoint

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config tunes the checkpoint store's persistence behavior.
type Config struct {
	// Path is the well-known JSON file backing this store.
	Path string

	// MaxEntries bounds the store size; the oldest entry by UpdatedAt is
	// evicted on overflow. Default 50.
	MaxEntries int

	// Retention purges entries older than this on Load and
	// opportunistically thereafter. Default 24h.
	Retention time.Duration

	// DebounceInterval batches writes together. Default 1s. Removals
	// always flush synchronously regardless of this setting.
	DebounceInterval time.Duration

	// Logger receives Watch diagnostics (reload failures). Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// SetDefaults fills zero-valued fields with baseline defaults.
func (c *Config) SetDefaults() {
	if c.MaxEntries == 0 {
		c.MaxEntries = 50
	}
	if c.Retention == 0 {
		c.Retention = 24 * time.Hour
	}
	if c.DebounceInterval == 0 {
		c.DebounceInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store is a durable, bounded key-value store of Checkpoint state, keyed
// by operationId. It is a per-process singleton guarded by a single mutex;
// writes are debounced to avoid write amplification from a hot chunk loop,
// while removals flush synchronously so a completed/reset checkpoint never
// lingers on disk past the call that cleared it.
type Store struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*State

	dirty      bool
	timer      *time.Timer
	writeErrFn func(error)

	watcher       *fsnotify.Watcher
	watchStopCh   chan struct{}
	watchStopOnce sync.Once
}

// NewStore creates a Store, loading any existing file at cfg.Path and
// purging entries older than cfg.Retention.
func NewStore(cfg Config) (*Store, error) {
	cfg.SetDefaults()
	s := &Store{cfg: cfg, entries: make(map[string]*State)}

	if cfg.Path != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	s.purgeExpiredLocked()
	return s, nil
}

// OnWriteError registers a callback invoked when a debounced background
// write fails (there's nobody synchronous to return the error to).
func (s *Store) OnWriteError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErrFn = fn
}

// Watch starts watching cfg.Path's directory for external changes to the
// checkpoint file (hand-edited, restored from backup, or replaced by
// another process) and reloads entries from disk when one is seen. It
// watches the directory rather than the file itself since writeLocked
// replaces the file via rename, which on some platforms invalidates a
// watch held on the file directly. A no-op if cfg.Path is empty or Watch
// has already been started.
func (s *Store) Watch() error {
	if s.cfg.Path == "" {
		return nil
	}

	s.mu.Lock()
	if s.watcher != nil {
		s.mu.Unlock()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	dir := filepath.Dir(s.cfg.Path)
	if dir == "" {
		dir = "."
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		s.mu.Unlock()
		return err
	}

	s.watcher = w
	s.watchStopCh = make(chan struct{})
	s.mu.Unlock()

	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	target := filepath.Base(s.cfg.Path)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.reloadFromDisk()
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		case <-s.watchStopCh:
			return
		}
	}
}

func (s *Store) reloadFromDisk() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		s.cfg.Logger.Warn("checkpoint file reload failed, keeping in-memory state", "path", s.cfg.Path, "error", err)
		return
	}
	s.purgeExpiredLocked()
}

// StopWatch halts the external-change watcher started by Watch, if any.
func (s *Store) StopWatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return
	}
	s.watchStopOnce.Do(func() { close(s.watchStopCh) })
	s.watcher.Close()
	s.watcher = nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var raw map[string]*State
	if err := json.Unmarshal(data, &raw); err != nil {
		// Corrupted checkpoint file: reset rather than fail startup, the
		// transform pipeline can always restart from scratch.
		return nil
	}
	s.entries = raw
	return nil
}

// Get returns the checkpoint for operationId, if present.
func (s *Store) Get(operationID string) (*State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.entries[operationID]
	return st, ok
}

// Save inserts or updates a checkpoint and schedules a debounced write. If
// the store is at MaxEntries capacity and operationId is new, the oldest
// entry by UpdatedAt is evicted first (LRU-by-timestamp).
func (s *Store) Save(state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[state.OperationID]; !exists && len(s.entries) >= s.cfg.MaxEntries {
		s.evictOldestLocked()
	}

	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now()
	}
	state.UpdatedAt = time.Now()
	s.entries[state.OperationID] = state

	s.scheduleWriteLocked()
	return nil
}

func (s *Store) evictOldestLocked() {
	var oldestID string
	var oldestAt time.Time
	for id, st := range s.entries {
		if oldestID == "" || st.UpdatedAt.Before(oldestAt) {
			oldestID = id
			oldestAt = st.UpdatedAt
		}
	}
	if oldestID != "" {
		delete(s.entries, oldestID)
	}
}

// Delete removes a checkpoint and flushes immediately.
func (s *Store) Delete(operationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, operationID)
	return s.writeLocked()
}

// Has reports whether operationId currently has a persisted checkpoint.
func (s *Store) Has(operationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[operationID]
	return ok
}

// Count returns the number of currently-tracked checkpoints.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// PurgeExpired removes entries older than cfg.Retention, flushing if
// anything was removed. Safe to call opportunistically (e.g. before each
// Save).
func (s *Store) PurgeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purgeExpiredLocked() {
		_ = s.writeLocked()
	}
}

func (s *Store) purgeExpiredLocked() bool {
	cutoff := time.Now().Add(-s.cfg.Retention)
	removed := false
	for id, st := range s.entries {
		if st.CreatedAt.Before(cutoff) {
			delete(s.entries, id)
			removed = true
		}
	}
	return removed
}

func (s *Store) scheduleWriteLocked() {
	s.dirty = true
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.cfg.DebounceInterval, s.flush)
}

func (s *Store) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = nil
	if !s.dirty {
		return
	}
	if err := s.writeLocked(); err != nil && s.writeErrFn != nil {
		s.writeErrFn(err)
	}
}

// writeLocked serializes entries to disk. Caller must hold s.mu.
func (s *Store) writeLocked() error {
	s.dirty = false
	if s.cfg.Path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := s.cfg.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.cfg.Path)
}

// Flush forces any pending debounced write to happen synchronously. Used
// by tests and graceful shutdown.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return s.writeLocked()
}

// Snapshot returns a sorted-by-operationId copy of all entries, used for
// stats and diagnostics without exposing the live map.
func (s *Store) Snapshot() []*State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*State, 0, len(s.entries))
	for _, st := range s.entries {
		cp := *st
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OperationID < out[j].OperationID })
	return out
}
