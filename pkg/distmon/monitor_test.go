package distmon_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/distmon/distmon/pkg/distmon"
	distmontest "github.com/distmon/distmon/test"
)

// Releasing a monitor on one process must replicate its state to every
// peer before any peer can itself acquire the mutex -- the SYNC packet and
// the MUTEX_AGREEMENT that lets a deferred peer in travel over the same
// per-pair FIFO channel, so the state is guaranteed to land first.
func TestMonitor_StateReplicatesBeforeNextAcquire(t *testing.T) {
	cluster := distmontest.CreateCluster(3, t)
	defer cluster.Shutdown()

	name := distmontest.UniqueName("counter")

	var countersMu sync.Mutex
	var counters [3]int
	monitors := make([]*distmon.Monitor, 3)
	for i, p := range cluster.Processes {
		i := i
		m, err := distmon.NewMonitor(name, p.Channel, p.Dispatcher, p.Mutex, p.Log,
			func() []byte {
				countersMu.Lock()
				defer countersMu.Unlock()
				return []byte{byte(counters[i])}
			},
			func(state []byte) {
				if len(state) != 1 {
					return
				}
				countersMu.Lock()
				counters[i] = int(state[0])
				countersMu.Unlock()
			},
		)
		if err != nil {
			t.Fatalf("process %d: new monitor: %v", i, err)
		}
		monitors[i] = m
	}

	for round := 0; round < 5; round++ {
		for i, m := range monitors {
			leave, err := m.Enter()
			if err != nil {
				t.Fatalf("process %d enter: %v", i, err)
			}
			countersMu.Lock()
			counters[i]++
			countersMu.Unlock()
			leave()
		}
	}

	time.Sleep(50 * time.Millisecond)

	countersMu.Lock()
	defer countersMu.Unlock()
	final := counters[0]
	for i, c := range counters {
		if c != final {
			t.Fatalf("process %d counter is %d, expected %d (replication did not converge)", i, c, final)
		}
	}
}

// NewMonitor rejects a name already registered on the same engine.
func TestMonitor_DuplicateNameRejected(t *testing.T) {
	cluster := distmontest.CreateCluster(1, t)
	defer cluster.Shutdown()

	p := cluster.Processes[0]
	name := distmontest.UniqueName("dup")

	if _, err := distmon.NewMonitor(name, p.Channel, p.Dispatcher, p.Mutex, p.Log, nil, nil); err != nil {
		t.Fatalf("first monitor: %v", err)
	}
	if _, err := distmon.NewMonitor(name, p.Channel, p.Dispatcher, p.Mutex, p.Log, nil, nil); !errors.Is(err, distmon.ErrDuplicateMonitor) {
		t.Fatalf("expected ErrDuplicateMonitor, got %v", err)
	}
}

// A name over 255 bytes cannot be framed in a SYNC payload and must be
// rejected up front.
func TestMonitor_NameTooLongRejected(t *testing.T) {
	cluster := distmontest.CreateCluster(1, t)
	defer cluster.Shutdown()

	p := cluster.Processes[0]
	tooLong := make([]byte, 256)
	for i := range tooLong {
		tooLong[i] = 'x'
	}

	if _, err := distmon.NewMonitor(string(tooLong), p.Channel, p.Dispatcher, p.Mutex, p.Log, nil, nil); !errors.Is(err, distmon.ErrMutexNameTooLong) {
		t.Fatalf("expected ErrMutexNameTooLong, got %v", err)
	}
}

// Calling Wait without holding the guarding mutex is a programmer error
// and must be reported, not silently accepted.
func TestConditionVariable_WaitWithoutMutexHeld(t *testing.T) {
	cluster := distmontest.CreateCluster(2, t)
	defer cluster.Shutdown()

	p := cluster.Processes[0]
	name := distmontest.UniqueName("unowned")

	mutex, err := distmon.NewDistributedMutex(name, p.Mutex)
	if err != nil {
		t.Fatalf("new mutex: %v", err)
	}
	cond := distmon.NewDistributedConditionVariable(name, mutex, p.Cond)

	if err := cond.Wait(func() bool { return false }); err != distmon.ErrNotOwned {
		t.Fatalf("expected ErrNotOwned, got %v", err)
	}
}

// Unlocking a mutex this process does not hold panics, matching sync.Mutex.
func TestDistributedMutex_UnlockWithoutLockPanics(t *testing.T) {
	cluster := distmontest.CreateCluster(1, t)
	defer cluster.Shutdown()

	p := cluster.Processes[0]
	mutex, err := distmon.NewDistributedMutex(distmontest.UniqueName("panicky"), p.Mutex)
	if err != nil {
		t.Fatalf("new mutex: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic unlocking an unheld mutex")
		}
	}()
	mutex.Unlock()
}

// A mutex name over 255 bytes is rejected at construction.
func TestDistributedMutex_NameTooLongRejected(t *testing.T) {
	cluster := distmontest.CreateCluster(1, t)
	defer cluster.Shutdown()

	p := cluster.Processes[0]
	tooLong := make([]byte, 256)
	for i := range tooLong {
		tooLong[i] = 'y'
	}

	if _, err := distmon.NewDistributedMutex(string(tooLong), p.Mutex); !errors.Is(err, distmon.ErrMutexNameTooLong) {
		t.Fatalf("expected ErrMutexNameTooLong, got %v", err)
	}
}
