package core

import (
	"errors"
	"sync"

	"github.com/distmon/distmon/pkg/distmon/types"
)

// ErrChannelClosed is returned from Receive once a Channel has been closed.
var ErrChannelClosed = errors.New("distmon: channel closed")

// loopbackNetwork is the shared in-memory "wire" a group of LoopbackChannel
// instances are built over: one inbox per process, large enough to never
// block a Send under test traffic.
type loopbackNetwork struct {
	inboxes []chan types.Packet
}

func newLoopbackNetwork(n int) *loopbackNetwork {
	net := &loopbackNetwork{inboxes: make([]chan types.Packet, n)}
	for i := range net.inboxes {
		net.inboxes[i] = make(chan types.Packet, 4096)
	}
	return net
}

// NewLoopbackGroup builds n LoopbackChannel instances, one per ProcessID in
// [0, n), wired to the same in-memory network. This is the harness used by
// the test suite in place of a real Channel transport.
func NewLoopbackGroup(n int) []Channel {
	net := newLoopbackNetwork(n)
	channels := make([]Channel, n)
	for i := 0; i < n; i++ {
		channels[i] = &LoopbackChannel{
			net: net,
			id:  types.ProcessID(i),
			n:   n,
		}
	}
	return channels
}

// LoopbackChannel is an in-process Channel implementation for tests: no
// sockets, no serialization, deterministic FIFO per pair since delivery is
// a direct channel send.
type LoopbackChannel struct {
	net *loopbackNetwork
	id  types.ProcessID
	n   int

	mu     sync.Mutex
	clock  types.LamportTime
	closed bool
}

func (c *LoopbackChannel) ProcessID() types.ProcessID        { return c.id }
func (c *LoopbackChannel) NumberOfProcesses() int            { return c.n }
func (c *LoopbackChannel) CurrentLamportTime() types.LamportTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock
}

func (c *LoopbackChannel) tick() types.LamportTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	return c.clock
}

func (c *LoopbackChannel) deliver(p types.Packet, recipient types.ProcessID) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	c.net.inboxes[recipient] <- p
	return nil
}

func (c *LoopbackChannel) Send(msgType types.MessageType, message []byte, recipient types.ProcessID) (types.Packet, error) {
	p := types.Packet{LamportTime: c.tick(), Source: c.id, Type: msgType, Message: message}
	if err := c.deliver(p, recipient); err != nil {
		return types.Packet{}, err
	}
	return p, nil
}

func (c *LoopbackChannel) SendMulti(msgType types.MessageType, message []byte, recipients map[types.ProcessID]struct{}) (types.Packet, error) {
	p := types.Packet{LamportTime: c.tick(), Source: c.id, Type: msgType, Message: message}
	for recipient := range recipients {
		if recipient == c.id {
			continue
		}
		if err := c.deliver(p, recipient); err != nil {
			return types.Packet{}, err
		}
	}
	return p, nil
}

func (c *LoopbackChannel) SendOthers(msgType types.MessageType, message []byte) (types.Packet, error) {
	p := types.Packet{LamportTime: c.tick(), Source: c.id, Type: msgType, Message: message}
	for recipient := 0; recipient < c.n; recipient++ {
		if types.ProcessID(recipient) == c.id {
			continue
		}
		if err := c.deliver(p, types.ProcessID(recipient)); err != nil {
			return types.Packet{}, err
		}
	}
	return p, nil
}

func (c *LoopbackChannel) Receive() (types.Packet, error) {
	p, ok := <-c.net.inboxes[c.id]
	if !ok {
		return types.Packet{}, ErrChannelClosed
	}

	c.mu.Lock()
	if p.LamportTime > c.clock {
		c.clock = p.LamportTime
	}
	c.clock++
	c.mu.Unlock()

	return p, nil
}

func (c *LoopbackChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.net.inboxes[c.id])
	return nil
}
