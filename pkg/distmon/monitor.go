package distmon

import (
	"fmt"

	"github.com/distmon/distmon/pkg/distmon/core"
	"github.com/distmon/distmon/pkg/distmon/types"
)

// SaveStateFunc produces an opaque snapshot of a Monitor's guarded state,
// taken just before the guarding mutex is released.
type SaveStateFunc func() []byte

// RestoreStateFunc installs a snapshot produced by a peer's SaveStateFunc.
// It runs synchronously inside the SYNC subscription callback, so it must
// not block or re-enter the monitor.
type RestoreStateFunc func([]byte)

// Monitor binds a DistributedMutex to the state it guards: every release
// (via the function returned by Enter, or Synchronized) snapshots that state
// with SaveState and broadcasts it in a SYNC packet, so every peer's
// RestoreState observes it strictly before that peer can itself acquire
// the mutex -- the per-pair FIFO Channel guarantee is what makes this
// ordering hold without an extra round trip.
type Monitor struct {
	name  types.MutexName
	Mutex *DistributedMutex

	channel      core.Channel
	dispatcher   *core.Dispatcher
	log          types.Logger
	saveState    SaveStateFunc
	restoreState RestoreStateFunc
	syncSub      types.SubscriptionID
}

// NewMonitor constructs and registers a Monitor. name must be at most 255
// bytes (ErrMutexNameTooLong) and must not already be registered on this
// engine (ErrDuplicateMonitor). saveState/restoreState may be nil for a
// monitor with no replicated state, in which case SYNC packets carry only
// the framed name and an empty state.
func NewMonitor(
	name string,
	channel core.Channel,
	dispatcher *core.Dispatcher,
	mutexEngine *core.MutexEngine,
	log types.Logger,
	saveState SaveStateFunc,
	restoreState RestoreStateFunc,
) (*Monitor, error) {
	if len(name) > 255 {
		return nil, fmt.Errorf("%w: %q is %d bytes", ErrMutexNameTooLong, name, len(name))
	}

	mutexName := types.MutexName(name)
	if !mutexEngine.RegisterMutex(mutexName) {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateMonitor, name)
	}

	mutex := &DistributedMutex{name: mutexName, engine: mutexEngine}

	if saveState == nil {
		saveState = func() []byte { return nil }
	}
	if restoreState == nil {
		restoreState = func([]byte) {}
	}

	m := &Monitor{
		name:         mutexName,
		Mutex:        mutex,
		channel:      channel,
		dispatcher:   dispatcher,
		log:          log,
		saveState:    saveState,
		restoreState: restoreState,
	}

	m.syncSub = dispatcher.Subscribe(m.matchesSync, m.handleSync)
	return m, nil
}

func (m *Monitor) matchesSync(p types.Packet) bool {
	if p.Type != types.Sync {
		return false
	}
	name, _, err := decodeSyncPayload(p.Message)
	if err != nil {
		return false
	}
	return name == string(m.name)
}

func (m *Monitor) handleSync(p types.Packet) {
	_, state, err := decodeSyncPayload(p.Message)
	if err != nil {
		m.log.Errorf("monitor %q: malformed SYNC payload from process %d: %v", m.name, p.Source, err)
		return
	}
	m.restoreState(state)
}

// Enter acquires the monitor's mutex and returns a function that releases
// it, snapshotting and broadcasting state first. Callers should defer the
// returned function so every exit path -- normal return, early return, or
// panic unwind -- still releases and replicates:
//
//	leave, err := monitor.Enter()
//	if err != nil { return err }
//	defer leave()
func (m *Monitor) Enter() (func(), error) {
	if err := m.Mutex.Lock(); err != nil {
		return nil, err
	}
	return func() { m.leave() }, nil
}

func (m *Monitor) leave() {
	state := m.saveState()
	payload := encodeSyncPayload(string(m.name), state)
	if _, err := m.channel.SendOthers(types.Sync, payload); err != nil {
		m.log.Errorf("monitor %q: failed broadcasting SYNC: %v", m.name, err)
	}
	m.Mutex.Unlock()
}

// Synchronized runs fn with the monitor's mutex held, then releases and
// replicates state exactly once, regardless of how fn returns.
func (m *Monitor) Synchronized(fn func() error) error {
	leave, err := m.Enter()
	if err != nil {
		return err
	}
	defer leave()
	return fn()
}

// Close unregisters the monitor's SYNC subscription and its mutex. The
// mutex must not be held when Close runs.
func (m *Monitor) Close() {
	m.dispatcher.Unsubscribe(m.syncSub)
	m.Mutex.Close()
}

// encodeSyncPayload frames name as a single length byte followed by its
// bytes, then the opaque state blob. name is already bounds-checked to
// 255 bytes by the time this is called.
func encodeSyncPayload(name string, state []byte) []byte {
	buf := make([]byte, 0, 1+len(name)+len(state))
	buf = append(buf, byte(len(name)))
	buf = append(buf, name...)
	buf = append(buf, state...)
	return buf
}

func decodeSyncPayload(payload []byte) (string, []byte, error) {
	if len(payload) < 1 {
		return "", nil, fmt.Errorf("distmon: SYNC payload too short for name length prefix")
	}
	nameLen := int(payload[0])
	if len(payload) < 1+nameLen {
		return "", nil, fmt.Errorf("distmon: SYNC payload too short for a %d-byte name", nameLen)
	}
	name := string(payload[1 : 1+nameLen])
	state := payload[1+nameLen:]
	return name, state, nil
}
