package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/distmon/distmon/pkg/distmon/types"
)

// ErrUnrequestedConfirmation is the protocol invariant violation raised when
// a COND_WAIT_END_CONFIRM arrives for a condition this process is not
// currently ending a wait on.
var ErrUnrequestedConfirmation = fmt.Errorf("distmon: received wait-end confirmation not requested")

// waitEntry is one process's outstanding COND_WAIT, ordered the same way
// MUTEX_REQUEST is: by (LamportTime, ProcessID).
type waitEntry struct {
	lamportTime types.LamportTime
	source      types.ProcessID
}

func less(a, b waitEntry) bool {
	if a.lamportTime != b.lamportTime {
		return a.lamportTime < b.lamportTime
	}
	return a.source < b.source
}

// CvEngine implements the distributed condition variable protocol: a
// two-phase wait (COND_WAIT / COND_WAIT_END with a COND_WAIT_END_CONFIRM
// barrier) that keeps a notify from ever being observed by a process that
// has already moved past its wait. One engine instance serves every
// DistributedConditionVariable a process constructs, keyed by CondName.
type CvEngine struct {
	channel    Channel
	dispatcher *Dispatcher
	log        types.Logger
	onFatal    func(error)

	mu         sync.Mutex
	registered map[types.CondName]struct{}
	waiters    map[types.CondName][]waitEntry
	ending     map[types.CondName]struct{}

	waitSub    types.SubscriptionID
	waitEndSub types.SubscriptionID
}

// NewCvEngine installs the long-lived COND_WAIT and COND_WAIT_END
// subscriptions and returns a ready-to-use engine.
func NewCvEngine(channel Channel, dispatcher *Dispatcher, log types.Logger, onFatal func(error)) *CvEngine {
	if onFatal == nil {
		onFatal = func(err error) { log.Fatalf("condition variable engine: %v", err) }
	}

	e := &CvEngine{
		channel:    channel,
		dispatcher: dispatcher,
		log:        log,
		onFatal:    onFatal,
		registered: make(map[types.CondName]struct{}),
		waiters:    make(map[types.CondName][]waitEntry),
		ending:     make(map[types.CondName]struct{}),
	}
	e.waitSub = dispatcher.Subscribe(e.matchesRegistered(types.CondWait), e.handleWait)
	e.waitEndSub = dispatcher.Subscribe(e.matchesRegistered(types.CondWaitEnd), e.handleWaitEnd)
	return e
}

func (e *CvEngine) matchesRegistered(msgType types.MessageType) types.Predicate {
	return func(p types.Packet) bool {
		if p.Type != msgType {
			return false
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		_, ok := e.registered[types.CondName(p.Message)]
		return ok
	}
}

// RegisterCond marks name as owned by this engine, so it will track
// COND_WAIT/COND_WAIT_END traffic for it.
func (e *CvEngine) RegisterCond(name types.CondName) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registered[name] = struct{}{}
}

// UnregisterCond is RegisterCond's inverse.
func (e *CvEngine) UnregisterCond(name types.CondName) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.registered, name)
	delete(e.waiters, name)
}

// Close removes the engine's long-lived subscriptions.
func (e *CvEngine) Close() {
	e.dispatcher.Unsubscribe(e.waitSub)
	e.dispatcher.Unsubscribe(e.waitEndSub)
}

func (e *CvEngine) handleWait(p types.Packet) {
	name := types.CondName(p.Message)
	entry := waitEntry{lamportTime: p.LamportTime, source: p.Source}

	e.mu.Lock()
	e.waiters[name] = append(e.waiters[name], entry)
	e.mu.Unlock()
}

func (e *CvEngine) handleWaitEnd(p types.Packet) {
	name := types.CondName(p.Message)

	e.mu.Lock()
	entries := e.waiters[name]
	for i, w := range entries {
		if w.source == p.Source {
			e.waiters[name] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	if _, err := e.channel.Send(types.CondWaitEndConfirm, []byte(name), p.Source); err != nil {
		e.log.Errorf("failed confirming wait end for %q to process %d: %v", name, p.Source, err)
	}
}

// BeginWait announces that this process is about to block on cond. It
// returns a subscription id (to be passed to EndWait once the wait is over)
// and a channel a value arrives on when a NotifyOne/NotifyAll targets this
// process's entry.
func (e *CvEngine) BeginWait(name types.CondName) (types.SubscriptionID, <-chan struct{}, error) {
	notify := make(chan struct{}, 1)

	subID := e.dispatcher.Subscribe(
		func(p types.Packet) bool {
			return p.Type == types.CondNotify && types.CondName(p.Message) == name
		},
		func(types.Packet) {
			select {
			case notify <- struct{}{}:
			default:
			}
		},
	)

	if _, err := e.channel.SendOthers(types.CondWait, []byte(name)); err != nil {
		e.dispatcher.Unsubscribe(subID)
		return 0, nil, err
	}

	e.mu.Lock()
	e.waiters[name] = append(e.waiters[name], waitEntry{
		lamportTime: e.channel.CurrentLamportTime(),
		source:      e.channel.ProcessID(),
	})
	e.mu.Unlock()

	return subID, notify, nil
}

// EndWait broadcasts that this process is done waiting on cond and blocks
// until every peer has confirmed receipt, guaranteeing no peer's NotifyOne
// can still be racing a notify targeted at this process once EndWait
// returns. notifySub is the subscription id BeginWait returned; it is
// unsubscribed once the barrier completes.
func (e *CvEngine) EndWait(name types.CondName, notifySub types.SubscriptionID) error {
	defer e.dispatcher.Unsubscribe(notifySub)
	needed := e.channel.NumberOfProcesses() - 1

	var confirmedMu sync.Mutex
	confirmed := make(map[types.ProcessID]struct{})
	complete := make(chan struct{})
	var closeComplete sync.Once

	signalIfComplete := func() {
		confirmedMu.Lock()
		done := len(confirmed) >= needed
		confirmedMu.Unlock()
		if done {
			closeComplete.Do(func() { close(complete) })
		}
	}

	subID := e.dispatcher.Subscribe(
		func(p types.Packet) bool {
			return p.Type == types.CondWaitEndConfirm && types.CondName(p.Message) == name
		},
		func(p types.Packet) {
			e.mu.Lock()
			_, stillEnding := e.ending[name]
			e.mu.Unlock()
			if !stillEnding {
				e.onFatal(fmt.Errorf("%w: %s from process %d", ErrUnrequestedConfirmation, name, p.Source))
				return
			}

			confirmedMu.Lock()
			confirmed[p.Source] = struct{}{}
			confirmedMu.Unlock()
			signalIfComplete()
		},
	)
	defer e.dispatcher.Unsubscribe(subID)

	e.mu.Lock()
	e.ending[name] = struct{}{}
	entries := e.waiters[name]
	for i, w := range entries {
		if w.source == e.channel.ProcessID() {
			e.waiters[name] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.ending, name)
		e.mu.Unlock()
	}()

	if _, err := e.channel.SendOthers(types.CondWaitEnd, []byte(name)); err != nil {
		return err
	}

	signalIfComplete()
	<-complete
	return nil
}

// NotifyOne wakes the single earliest-ordered waiter on cond, by
// (LamportTime, ProcessID). It is a no-op if nobody is currently waiting.
func (e *CvEngine) NotifyOne(name types.CondName) error {
	e.mu.Lock()
	entries := e.waiters[name]
	if len(entries) == 0 {
		e.mu.Unlock()
		e.log.Debugf("notify on %q dropped: no waiters", name)
		return nil
	}
	sorted := append([]waitEntry(nil), entries...)
	e.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	target := sorted[0].source

	if target == e.channel.ProcessID() {
		return nil
	}

	_, err := e.channel.Send(types.CondNotify, []byte(name), target)
	return err
}

// NotifyAll wakes every process currently waiting on cond.
func (e *CvEngine) NotifyAll(name types.CondName) error {
	e.mu.Lock()
	entries := append([]waitEntry(nil), e.waiters[name]...)
	e.mu.Unlock()

	for _, w := range entries {
		if w.source == e.channel.ProcessID() {
			continue
		}
		if _, err := e.channel.Send(types.CondNotify, []byte(name), w.source); err != nil {
			return err
		}
	}
	return nil
}
