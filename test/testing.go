// Package test provides the cluster test harness shared by the package
// tests and the fuzzy stress tests: a group of processes wired over
// LoopbackChannel instead of real sockets, each with its own Dispatcher,
// MutexEngine and CvEngine already listening.
package test

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/distmon/distmon/pkg/distmon/core"
	"github.com/distmon/distmon/pkg/distmon/logging"
	"github.com/distmon/distmon/pkg/distmon/types"
)

// Process bundles everything one group member needs: its Channel, the
// Dispatcher demultiplexing it, and the two long-lived engines built over
// that Dispatcher.
type Process struct {
	Channel    core.Channel
	Dispatcher *core.Dispatcher
	Mutex      *core.MutexEngine
	Cond       *core.CvEngine
	Log        types.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// Cluster is a fixed-size group of Process instances sharing one in-memory
// LoopbackChannel network.
type Cluster struct {
	T         *testing.T
	Processes []*Process

	mutex sync.Mutex
	index int
}

// CreateCluster builds size Process instances and starts every Dispatcher
// listening.
func CreateCluster(size int, t *testing.T) *Cluster {
	channels := core.NewLoopbackGroup(size)
	cluster := &Cluster{T: t, Processes: make([]*Process, size)}

	for i, channel := range channels {
		log := logging.NewDiscard()
		ctx, cancel := context.WithCancel(context.Background())

		dispatcher := core.NewDispatcher(channel, log, func(err error) {
			t.Errorf("process %d: protocol invariant violated: %v", channel.ProcessID(), err)
		})

		p := &Process{
			Channel:    channel,
			Dispatcher: dispatcher,
			Mutex:      core.NewMutexEngine(channel, dispatcher, log, nil),
			Cond:       core.NewCvEngine(channel, dispatcher, log, nil),
			Log:        log,
			ctx:        ctx,
			cancel:     cancel,
		}
		dispatcher.Listen(ctx)
		cluster.Processes[i] = p
	}

	return cluster
}

// Next returns Process instances in round-robin order, convenient for
// stress tests that want to spread work across the group.
func (c *Cluster) Next() *Process {
	c.mutex.Lock()
	defer func() {
		c.index++
		c.mutex.Unlock()
	}()
	if c.index >= len(c.Processes) {
		c.index = 0
	}
	return c.Processes[c.index]
}

// Shutdown stops every process's Dispatcher and closes its Channel.
func (c *Cluster) Shutdown() {
	group := sync.WaitGroup{}
	for _, p := range c.Processes {
		group.Add(1)
		go func(p *Process) {
			defer group.Done()
			p.Mutex.Close()
			p.Cond.Close()
			p.cancel()
			_ = p.Channel.Close()
			p.Dispatcher.Stop()
		}(p)
	}
	group.Wait()
}

// UniqueName generates a collision-free name suitable for a mutex or
// condition variable scoped to a single test run.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// PrintStackTrace dumps every goroutine's stack, useful when a test times
// out waiting on a distributed handshake that should have completed.
func PrintStackTrace(t *testing.T) {
	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, true)
	t.Errorf("%s", buf[:n])
}

// WaitThisOrTimeout runs cb and reports whether it finished before
// duration elapsed.
func WaitThisOrTimeout(cb func(), duration time.Duration) bool {
	done := make(chan struct{})
	go func() {
		cb()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(duration):
		return false
	}
}
