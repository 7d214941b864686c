package core

import (
	"fmt"
	"sync"

	"github.com/distmon/distmon/pkg/distmon/types"
)

// ErrUnrequestedAgreement is the protocol invariant violation raised when a
// MUTEX_AGREEMENT arrives for a mutex this process never requested —
// indicates the peer set is no longer coherent.
var ErrUnrequestedAgreement = fmt.Errorf("distmon: received agreement for a mutex not requested")

// MutexEngine implements Ricart-Agrawala distributed mutual exclusion,
// driven by the channel's Lamport time. One engine instance serves every
// DistributedMutex a process constructs, keyed by MutexName.
//
// queued and deferred are always taken together under mu, collapsing the
// reference implementation's paired scoped-locks (queuedMutexesMutex,
// receivedRequestsMutex) into a single engine-wide lock.
type MutexEngine struct {
	channel    Channel
	dispatcher *Dispatcher
	log        types.Logger
	onFatal    func(error)

	mu         sync.Mutex
	registered map[types.MutexName]struct{}
	queued     map[types.MutexName]types.LamportTime
	deferred   map[types.MutexName][]types.Packet

	requestSub types.SubscriptionID
}

// NewMutexEngine installs the long-lived MUTEX_REQUEST subscription and
// returns a ready-to-use engine. onFatal is invoked for protocol invariant
// violations; nil defaults to logging Fatal (terminating the process).
func NewMutexEngine(channel Channel, dispatcher *Dispatcher, log types.Logger, onFatal func(error)) *MutexEngine {
	if onFatal == nil {
		onFatal = func(err error) { log.Fatalf("mutex engine: %v", err) }
	}

	e := &MutexEngine{
		channel:    channel,
		dispatcher: dispatcher,
		log:        log,
		onFatal:    onFatal,
		registered: make(map[types.MutexName]struct{}),
		queued:     make(map[types.MutexName]types.LamportTime),
		deferred:   make(map[types.MutexName][]types.Packet),
	}
	e.requestSub = dispatcher.Subscribe(e.matchesRegisteredRequest, e.handleRequest)
	return e
}

func (e *MutexEngine) matchesRegisteredRequest(p types.Packet) bool {
	if p.Type != types.MutexRequest {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.registered[types.MutexName(p.Message)]
	return ok
}

// RegisterMutex marks name as owned by this engine, so it will answer
// MUTEX_REQUEST packets concerning it. It reports whether name was newly
// registered (false if this engine already had it registered).
func (e *MutexEngine) RegisterMutex(name types.MutexName) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.registered[name]; exists {
		return false
	}
	e.registered[name] = struct{}{}
	return true
}

// UnregisterMutex is RegisterMutex's inverse.
func (e *MutexEngine) UnregisterMutex(name types.MutexName) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.registered, name)
}

// Close removes the engine's long-lived subscription. Call once no
// DistributedMutex backed by this engine is in use.
func (e *MutexEngine) Close() {
	e.dispatcher.Unsubscribe(e.requestSub)
}

// Acquire blocks the calling goroutine until this process holds the global
// lock for name: it broadcasts a request and waits for agreement from every
// other peer.
func (e *MutexEngine) Acquire(name types.MutexName) error {
	needed := e.channel.NumberOfProcesses() - 1

	var agreementsMu sync.Mutex
	agreements := make(map[types.ProcessID]struct{})
	complete := make(chan struct{})
	var closeComplete sync.Once

	signalIfComplete := func() {
		agreementsMu.Lock()
		done := len(agreements) >= needed
		agreementsMu.Unlock()
		if done {
			closeComplete.Do(func() { close(complete) })
		}
	}

	subID := e.dispatcher.Subscribe(
		func(p types.Packet) bool {
			return p.Type == types.MutexAgreement && types.MutexName(p.Message) == name
		},
		func(p types.Packet) {
			e.mu.Lock()
			_, stillQueued := e.queued[name]
			e.mu.Unlock()
			if !stillQueued {
				e.onFatal(fmt.Errorf("%w: %s from process %d", ErrUnrequestedAgreement, name, p.Source))
				return
			}

			agreementsMu.Lock()
			agreements[p.Source] = struct{}{}
			agreementsMu.Unlock()
			signalIfComplete()
		},
	)
	defer e.dispatcher.Unsubscribe(subID)

	e.mu.Lock()
	packet, err := e.channel.SendOthers(types.MutexRequest, []byte(name))
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.queued[name] = packet.LamportTime
	e.mu.Unlock()

	signalIfComplete()
	<-complete
	return nil
}

// Release gives up the local hold on name, answering every request this
// process deferred while it held the lock.
func (e *MutexEngine) Release(name types.MutexName) {
	e.mu.Lock()
	pending := e.deferred[name]
	delete(e.deferred, name)
	delete(e.queued, name)
	e.mu.Unlock()

	for _, request := range pending {
		e.sendAgreement(request)
	}
}

// handleRequest is the long-lived MUTEX_REQUEST subscription callback. It
// implements the Ricart-Agrawala tie-break: a request is answered
// immediately unless we are ourselves queued for the same mutex with a
// request that wins the (lamportTime, processId) total order, in which
// case it is deferred until Release.
func (e *MutexEngine) handleRequest(request types.Packet) {
	name := types.MutexName(request.Message)

	e.mu.Lock()
	mine, isQueued := e.queued[name]
	shouldAgree := !isQueued ||
		request.LamportTime < mine ||
		(request.LamportTime == mine && request.Source < e.channel.ProcessID())
	if !shouldAgree {
		e.deferred[name] = append(e.deferred[name], request)
	}
	e.mu.Unlock()

	if shouldAgree {
		e.sendAgreement(request)
	}
}

func (e *MutexEngine) sendAgreement(request types.Packet) {
	name := types.MutexName(request.Message)
	if _, err := e.channel.Send(types.MutexAgreement, []byte(name), request.Source); err != nil {
		e.log.Errorf("failed sending agreement for mutex %q to process %d: %v", name, request.Source, err)
	}
}
