package checkpoint

import (
	"log/slog"
	"time"
)

// Manager is the façade the transform pipeline drives: it wraps the Store
// with the specific save points a chunked transformation needs, keeping
// the persistence mechanics (Store) separate from the call sites that
// decide when a checkpoint is worth taking.
type Manager struct {
	store  *Store
	logger *slog.Logger
}

// NewManager wraps store with a Manager. A nil logger falls back to
// slog.Default().
func NewManager(store *Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger}
}

// Store exposes the underlying Store for components (e.g. stats
// reporting) that need direct access.
func (m *Manager) Store() *Store { return m.store }

// Load retrieves a checkpoint by operationId.
func (m *Manager) Load(operationID string) (*State, bool) {
	return m.store.Get(operationID)
}

// PersistChunkProgress saves a checkpoint mid-pass: called every N chunks
// from the chunk loop so progress survives a timeout or restart.
func (m *Manager) PersistChunkProgress(st *State) {
	if err := m.store.Save(st); err != nil {
		m.logger.Warn("failed to persist chunk checkpoint", "operation_id", st.OperationID, "error", err)
	}
}

// PersistResumableTimeout saves the checkpoint at the moment a stage's
// soft budget is about to expire, immediately before the pipeline raises
// ResumableTimeout.
func (m *Manager) PersistResumableTimeout(st *State) {
	if err := m.store.Save(st); err != nil {
		m.logger.Warn("failed to persist resumable-timeout checkpoint", "operation_id", st.OperationID, "error", err)
	}
}

// Complete deletes the checkpoint for a successfully finished operation,
// satisfying property 5 ("if O completes successfully, no persisted
// checkpoint for O.operationId remains").
func (m *Manager) Complete(operationID string) {
	if err := m.store.Delete(operationID); err != nil {
		m.logger.Warn("failed to clear completed checkpoint", "operation_id", operationID, "error", err)
	}
}

// Stats summarizes the store's current contents for diagnostics/tests.
type Stats struct {
	Count     int
	OldestAge time.Duration
}

// Stats reports aggregate statistics over all persisted checkpoints.
func (m *Manager) Stats() Stats {
	snap := m.store.Snapshot()
	stats := Stats{Count: len(snap)}
	if len(snap) == 0 {
		return stats
	}
	oldest := snap[0].CreatedAt
	for _, s := range snap[1:] {
		if s.CreatedAt.Before(oldest) {
			oldest = s.CreatedAt
		}
	}
	stats.OldestAge = time.Since(oldest)
	return stats
}
