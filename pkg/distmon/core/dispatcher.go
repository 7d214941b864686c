package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/distmon/distmon/pkg/distmon/types"
)

// ErrUnmatchedPacket is the protocol invariant violation raised when an
// inbound packet matches no subscription. COND_NOTIFY is exempt: a notify
// racing a waiter's exit is a benign, expected race and is dropped with a
// debug log line.
var ErrUnmatchedPacket = fmt.Errorf("distmon: received packet matching no subscription")

// Dispatcher runs the single receiver loop for a Channel, demultiplexing
// every inbound Packet to every Subscription whose Predicate matches it.
// Subscription callbacks run sequentially on the receiver goroutine under
// Dispatcher's lock, so a single packet's effects are atomic with respect
// to other dispatched packets.
type Dispatcher struct {
	channel Channel
	log     types.Logger
	onFatal func(error)

	mu            sync.Mutex
	subscriptions map[types.SubscriptionID]types.Subscription
	nextID        types.SubscriptionID

	listenOnce sync.Once
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewDispatcher builds a Dispatcher over channel. onFatal is invoked
// (on the receiver goroutine, under Dispatcher's lock) whenever a protocol invariant violation is
// detected; pass nil to default to logging a Fatal line (which terminates
// the process, matching the reference implementation's "throw and die"
// behavior for a channel it assumes is otherwise reliable).
func NewDispatcher(channel Channel, log types.Logger, onFatal func(error)) *Dispatcher {
	if onFatal == nil {
		onFatal = func(err error) {
			log.Fatalf("protocol invariant violated: %v", err)
		}
	}
	return &Dispatcher{
		channel:       channel,
		log:           log,
		onFatal:       onFatal,
		subscriptions: make(map[types.SubscriptionID]types.Subscription),
	}
}

// Subscribe atomically registers predicate/callback and returns a fresh
// SubscriptionID.
func (d *Dispatcher) Subscribe(predicate types.Predicate, callback types.Callback) types.SubscriptionID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.subscriptions[id] = types.Subscription{ID: id, Predicate: predicate, Callback: callback}
	return id
}

// Unsubscribe idempotently removes a subscription.
func (d *Dispatcher) Unsubscribe(id types.SubscriptionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subscriptions, id)
}

// Listen starts the receiver loop. Calling it again is a no-op.
func (d *Dispatcher) Listen(ctx context.Context) {
	d.listenOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		d.cancel = cancel
		d.done = make(chan struct{})
		go d.receive(ctx)
	})
}

// Stop cancels the receiver loop and waits for it to exit. The loop checks
// for cancellation only between packets, so Stop returns once the pending
// Receive returns: when another packet arrives or the Channel is closed.
// Safe to call even if Listen was never called.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.done != nil {
		<-d.done
	}
}

func (d *Dispatcher) receive(ctx context.Context) {
	defer close(d.done)
	for {
		if ctx.Err() != nil {
			return
		}

		packet, err := d.channel.Receive()
		if err != nil {
			d.log.Debugf("dispatcher receive loop exiting: %v", err)
			return
		}

		d.dispatch(packet)
	}
}

func (d *Dispatcher) dispatch(packet types.Packet) {
	d.mu.Lock()
	defer d.mu.Unlock()

	matched := false
	for _, sub := range d.subscriptions {
		if sub.Predicate(packet) {
			matched = true
			sub.Callback(packet)
		}
	}

	if !matched {
		if packet.Type == types.CondNotify {
			d.log.Debugf("dropping late notify with no waiter: %s", packet)
			return
		}
		d.onFatal(fmt.Errorf("%w: %s", ErrUnmatchedPacket, packet))
	}
}
