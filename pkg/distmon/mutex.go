package distmon

import (
	"fmt"
	"sync"

	"github.com/distmon/distmon/pkg/distmon/core"
	"github.com/distmon/distmon/pkg/distmon/types"
)

// DistributedMutex is a global, non-reentrant lock held by at most one
// process in the group at a time. It is backed by a single MutexEngine
// shared across every mutex a process constructs; the name scopes the
// Ricart-Agrawala traffic to this lock alone.
type DistributedMutex struct {
	name   types.MutexName
	engine *core.MutexEngine

	mu    sync.Mutex
	owned bool
}

// NewDistributedMutex registers name with engine and returns a handle to
// it. name must be at most 255 bytes; see ErrMutexNameTooLong.
func NewDistributedMutex(name string, engine *core.MutexEngine) (*DistributedMutex, error) {
	if len(name) > 255 {
		return nil, fmt.Errorf("%w: %q is %d bytes", ErrMutexNameTooLong, name, len(name))
	}
	mutexName := types.MutexName(name)
	engine.RegisterMutex(mutexName)
	return &DistributedMutex{name: mutexName, engine: engine}, nil
}

// Lock blocks until this process holds the lock globally. The mutex is not
// reentrant, and a second Lock while this process already holds it is not
// detected: it broadcasts a fresh request and returns once every peer
// agrees, which never happens if a peer is itself waiting for this lock.
func (m *DistributedMutex) Lock() error {
	if err := m.engine.Acquire(m.name); err != nil {
		return err
	}
	m.mu.Lock()
	m.owned = true
	m.mu.Unlock()
	return nil
}

// TryLock never acquires: the distributed protocol has no native
// non-blocking path, so this simply reports whether the process was
// already the owner, without attempting acquisition. Use Lock for the real distributed handshake.
func (m *DistributedMutex) TryLock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owned
}

// Unlock releases the lock, answering every request deferred while it was
// held. Unlocking a mutex this process does not hold is a programmer error
// and panics, matching Go's sync.Mutex behavior.
func (m *DistributedMutex) Unlock() {
	m.mu.Lock()
	if !m.owned {
		m.mu.Unlock()
		panic("distmon: unlock of unlocked DistributedMutex")
	}
	m.owned = false
	m.mu.Unlock()

	m.engine.Release(m.name)
}

// IsOwned reports whether this process currently holds the lock.
func (m *DistributedMutex) IsOwned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owned
}

// Name returns the mutex's group-wide name.
func (m *DistributedMutex) Name() string {
	return string(m.name)
}

// Close unregisters the mutex from its engine. Call once the mutex is no
// longer in use; in particular the mutex must not be held when Close runs.
func (m *DistributedMutex) Close() {
	m.engine.UnregisterMutex(m.name)
}
