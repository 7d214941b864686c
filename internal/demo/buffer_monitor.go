// Package demo implements a small distributed bounded-buffer
// producer/consumer, the same problem the reference algorithms were
// designed around: one monitor, one condition variable, guarding a shared
// queue replicated to every process in the group.
package demo

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/distmon/distmon/pkg/distmon"
	"github.com/distmon/distmon/pkg/distmon/core"
	"github.com/distmon/distmon/pkg/distmon/types"
)

// BufferMonitor is a distributed bounded FIFO queue of T, guarded by a
// single DistributedMutex and a single DistributedConditionVariable named
// "<name>-ready", used for both "not full" and "not empty". Its queue snapshot
// is gob-encoded for SYNC replication, matching the reference
// implementation's Boost-serialized std::queue<T>.
type BufferMonitor[T any] struct {
	monitor *distmon.Monitor
	cond    *distmon.DistributedConditionVariable
	maxSize int
	queue   []T
	journal *Journal
}

// NewBufferMonitor constructs and registers a BufferMonitor named name,
// bounded to maxSize elements. journal may be nil; when set, every
// successful Produce/Consume is additionally appended locally for
// crash-recovery inspection -- it does not participate in the replicated
// SYNC state.
func NewBufferMonitor[T any](
	name string,
	channel core.Channel,
	dispatcher *core.Dispatcher,
	mutexEngine *core.MutexEngine,
	condEngine *core.CvEngine,
	log types.Logger,
	maxSize int,
	journal *Journal,
) (*BufferMonitor[T], error) {
	b := &BufferMonitor[T]{maxSize: maxSize, journal: journal}

	monitor, err := distmon.NewMonitor(name, channel, dispatcher, mutexEngine, log, b.saveState, b.restoreState)
	if err != nil {
		return nil, fmt.Errorf("demo: new buffer monitor %q: %w", name, err)
	}
	b.monitor = monitor
	b.cond = distmon.NewDistributedConditionVariable(name+"-ready", monitor.Mutex, condEngine)
	return b, nil
}

func (b *BufferMonitor[T]) saveState() []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b.queue); err != nil {
		return nil
	}
	return buf.Bytes()
}

func (b *BufferMonitor[T]) restoreState(state []byte) {
	if len(state) == 0 {
		b.queue = nil
		return
	}
	var queue []T
	if err := gob.NewDecoder(bytes.NewReader(state)).Decode(&queue); err != nil {
		return
	}
	b.queue = queue
}

func (b *BufferMonitor[T]) isFull() bool  { return len(b.queue) == b.maxSize }
func (b *BufferMonitor[T]) isEmpty() bool { return len(b.queue) == 0 }

// Produce blocks until the buffer has room, then appends value and wakes a
// waiting consumer.
func (b *BufferMonitor[T]) Produce(value T) error {
	leave, err := b.monitor.Enter()
	if err != nil {
		return err
	}
	defer leave()

	if err := b.cond.Wait(func() bool { return !b.isFull() }); err != nil {
		return err
	}

	b.queue = append(b.queue, value)
	if b.journal != nil {
		b.journal.RecordProduce(fmt.Sprint(value))
	}

	return b.cond.NotifyOne()
}

// Consume blocks until the buffer is non-empty, then dequeues the oldest
// value and wakes a waiting producer.
func (b *BufferMonitor[T]) Consume() (T, error) {
	var zero T

	leave, err := b.monitor.Enter()
	if err != nil {
		return zero, err
	}
	defer leave()

	if err := b.cond.Wait(func() bool { return !b.isEmpty() }); err != nil {
		return zero, err
	}

	value := b.queue[0]
	b.queue = b.queue[1:]
	if b.journal != nil {
		b.journal.RecordConsume(fmt.Sprint(value))
	}

	if err := b.cond.NotifyOne(); err != nil {
		return zero, err
	}
	return value, nil
}

// Close releases the monitor's registrations. The buffer must not be in
// use by any Produce/Consume call when Close runs.
func (b *BufferMonitor[T]) Close() {
	b.cond.Close()
	b.monitor.Close()
}
