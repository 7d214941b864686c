package fuzzy

import (
	"sync"
	"testing"
	"time"

	"github.com/distmon/distmon/pkg/distmon"
	distmontest "github.com/distmon/distmon/test"
)

// Every process in the group increments a shared replicated counter
// through its own Monitor, one at a time, sequentially. All monitors'
// save/restore callbacks read and write the same counter, so after every
// process has had its turn it must hold exactly the number of increments:
// no SYNC restore overwrote a later increment with a stale value.
func Test_SequentialIncrements(t *testing.T) {
	cluster := distmontest.CreateCluster(4, t)
	defer func() {
		if !distmontest.WaitThisOrTimeout(cluster.Shutdown, 30*time.Second) {
			t.Error("cluster failed to shut down in time")
			distmontest.PrintStackTrace(t)
		}
	}()

	name := distmontest.UniqueName("sequential-counter")

	var mu sync.Mutex
	var counter int
	monitors := buildCounterMonitors(t, cluster, name, &mu, &counter)

	const increments = 50
	for i := 0; i < increments; i++ {
		m := monitors[i%len(monitors)]
		leave, err := m.Enter()
		if err != nil {
			t.Fatalf("enter: %v", err)
		}
		mu.Lock()
		counter++
		mu.Unlock()
		leave()
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if counter != increments {
		t.Fatalf("expected counter %d, got %d", increments, counter)
	}
}

// Every process races to increment the same shared counter concurrently.
// Mutual exclusion must still hold: the final count must equal exactly
// the number of increments attempted, with no lost updates.
func Test_ConcurrentIncrements(t *testing.T) {
	cluster := distmontest.CreateCluster(4, t)
	defer func() {
		if !distmontest.WaitThisOrTimeout(cluster.Shutdown, 30*time.Second) {
			t.Error("cluster failed to shut down in time")
			distmontest.PrintStackTrace(t)
		}
	}()

	name := distmontest.UniqueName("concurrent-counter")

	var mu sync.Mutex
	var counter int
	monitors := buildCounterMonitors(t, cluster, name, &mu, &counter)

	const perProcess = 10
	var group sync.WaitGroup
	for _, m := range monitors {
		m := m
		group.Add(1)
		go func() {
			defer group.Done()
			for i := 0; i < perProcess; i++ {
				leave, err := m.Enter()
				if err != nil {
					t.Errorf("enter: %v", err)
					return
				}
				mu.Lock()
				counter++
				mu.Unlock()
				leave()
			}
		}()
	}

	if !distmontest.WaitThisOrTimeout(group.Wait, 30*time.Second) {
		t.Fatal("concurrent increments did not finish in time")
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	expected := perProcess * len(monitors)
	if counter != expected {
		t.Fatalf("expected counter %d, got %d (lost update under contention)", expected, counter)
	}
}

func buildCounterMonitors(t *testing.T, cluster *distmontest.Cluster, name string, mu *sync.Mutex, counter *int) []*distmon.Monitor {
	t.Helper()
	monitors := make([]*distmon.Monitor, len(cluster.Processes))
	for i, p := range cluster.Processes {
		m, err := distmon.NewMonitor(name, p.Channel, p.Dispatcher, p.Mutex, p.Log,
			func() []byte {
				mu.Lock()
				defer mu.Unlock()
				buf := make([]byte, 8)
				v := *counter
				for i := range buf {
					buf[i] = byte(v)
					v >>= 8
				}
				return buf
			},
			func(state []byte) {
				if len(state) != 8 {
					return
				}
				var v int
				for i := len(state) - 1; i >= 0; i-- {
					v = v<<8 | int(state[i])
				}
				mu.Lock()
				*counter = v
				mu.Unlock()
			},
		)
		if err != nil {
			t.Fatalf("process %d: new monitor: %v", i, err)
		}
		monitors[i] = m
	}
	return monitors
}
