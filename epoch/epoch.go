// Package epoch defers releasing shared resources until no reader that
// could still see them is active.
//
// A resource is retired at the current epoch (its xmax) and the epoch
// advances, so readers entering afterwards cannot observe it. Its cleanup
// runs once every reader that entered at or before xmax has exited.
package epoch

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/twlk9/staticmap/internal/logging"
)

// CleanupFunc releases a retired resource.
type CleanupFunc func() error

type retired struct {
	id      string
	xmax    uint64
	cleanup CleanupFunc
}

// Manager tracks active readers per epoch and the resources waiting on
// them. The zero value is not usable; call NewManager.
type Manager struct {
	current atomic.Uint64

	mu      sync.Mutex
	readers map[uint64]int
	pending []retired

	logger *slog.Logger
}

// NewManager returns a manager starting at epoch 1. A nil logger logs
// nothing.
func NewManager(logger *slog.Logger) *Manager {
	m := &Manager{
		readers: make(map[uint64]int),
		logger:  logging.OrQuiet(logger),
	}
	m.current.Store(1)
	return m
}

// Enter registers a reader in the current epoch. Callers must pass the
// returned epoch to Exit when done.
func (m *Manager) Enter() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.current.Load()
	m.readers[e]++
	return e
}

// Exit unregisters a reader that entered at epoch e.
func (m *Manager) Exit(e uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.readers[e]
	if !ok {
		return
	}
	if n <= 1 {
		delete(m.readers, e)
		return
	}
	m.readers[e] = n - 1
}

// Current returns the current epoch.
func (m *Manager) Current() uint64 {
	return m.current.Load()
}

// Advance moves to the next epoch and returns it.
func (m *Manager) Advance() uint64 {
	return m.current.Add(1)
}

// Retire schedules cleanup for a resource that is no longer reachable
// by new readers.
func (m *Manager) Retire(id string, cleanup CleanupFunc) {
	m.mu.Lock()
	xmax := m.current.Load()
	m.pending = append(m.pending, retired{id: id, xmax: xmax, cleanup: cleanup})
	m.mu.Unlock()
	m.Advance()
}

// oldestActive returns the oldest epoch with a reader, or the maximum
// epoch when there are none. Callers hold mu.
func (m *Manager) oldestActive() uint64 {
	oldest := ^uint64(0)
	for e := range m.readers {
		oldest = min(oldest, e)
	}
	return oldest
}

// OldestActive returns the oldest epoch that still has a reader.
func (m *Manager) OldestActive() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.oldestActive()
}

// TryCleanup runs the cleanups that are safe to run and returns how many
// ran. Cleanup errors are logged.
func (m *Manager) TryCleanup() int {
	m.mu.Lock()
	oldest := m.oldestActive()
	var ready []retired
	kept := m.pending[:0]
	for _, r := range m.pending {
		if r.xmax < oldest {
			ready = append(ready, r)
		} else {
			kept = append(kept, r)
		}
	}
	clear(m.pending[len(kept):])
	m.pending = kept
	m.mu.Unlock()

	for _, r := range ready {
		if err := r.cleanup(); err != nil {
			m.logger.Warn("Cleanup failed", "resource", r.id, "epoch", r.xmax, "error", err)
		}
	}
	if len(ready) > 0 {
		m.logger.Debug("Ran deferred cleanups", "count", len(ready), "oldest_active", oldest)
	}
	return len(ready)
}

// Pending returns the number of retired resources not yet cleaned up.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Drain runs every pending cleanup regardless of readers. It is meant for
// shutdown, after all readers are gone.
func (m *Manager) Drain() error {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	var errs []error
	for _, r := range pending {
		if err := r.cleanup(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
