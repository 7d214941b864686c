package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/distmon/distmon/pkg/distmon/core"
	"github.com/distmon/distmon/pkg/distmon/logging"
)

type mutexHarness struct {
	channels    []core.Channel
	dispatchers []*core.Dispatcher
	engines     []*core.MutexEngine
	cancel      context.CancelFunc
}

func newMutexHarness(t *testing.T, size int) *mutexHarness {
	t.Helper()
	channels := core.NewLoopbackGroup(size)
	ctx, cancel := context.WithCancel(context.Background())

	h := &mutexHarness{channels: channels, cancel: cancel}
	for _, ch := range channels {
		log := logging.NewDiscard()
		d := core.NewDispatcher(ch, log, func(err error) { t.Errorf("%v", err) })
		e := core.NewMutexEngine(ch, d, log, func(err error) { t.Errorf("%v", err) })
		e.RegisterMutex("the-one-lock")
		d.Listen(ctx)
		h.dispatchers = append(h.dispatchers, d)
		h.engines = append(h.engines, e)
	}
	return h
}

func (h *mutexHarness) close() {
	h.cancel()
	for i, d := range h.dispatchers {
		h.engines[i].Close()
		_ = h.channels[i].Close()
		d.Stop()
	}
}

// Two processes racing for the same mutex must never both believe they
// hold it, and the tie must be broken deterministically by (LamportTime,
// ProcessID) so every process agrees on a single winner.
func TestMutexEngine_TwoPeerMutualExclusion(t *testing.T) {
	h := newMutexHarness(t, 2)
	defer h.close()

	var mu sync.Mutex
	holder := -1
	var wg sync.WaitGroup
	const rounds = 20

	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				if err := h.engines[p].Acquire("the-one-lock"); err != nil {
					t.Errorf("process %d acquire: %v", p, err)
					return
				}

				mu.Lock()
				if holder != -1 {
					t.Errorf("process %d observed lock already held by %d", p, holder)
				}
				holder = p
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				holder = -1
				mu.Unlock()

				h.engines[p].Release("the-one-lock")
			}
		}(p)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("mutual exclusion stress test did not finish in time")
	}
}

// A process holding the lock must defer concurrent requesters and answer
// them only on Release, never dropping a request.
func TestMutexEngine_DeferredRequestsAnsweredOnRelease(t *testing.T) {
	h := newMutexHarness(t, 3)
	defer h.close()

	if err := h.engines[0].Acquire("the-one-lock"); err != nil {
		t.Fatalf("process 0 acquire: %v", err)
	}

	var wg sync.WaitGroup
	for _, p := range []int{1, 2} {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			if err := h.engines[p].Acquire("the-one-lock"); err != nil {
				t.Errorf("process %d acquire: %v", p, err)
				return
			}
			h.engines[p].Release("the-one-lock")
		}(p)
	}

	time.Sleep(50 * time.Millisecond)
	h.engines[0].Release("the-one-lock")

	if !waitGroup(&wg, 5*time.Second) {
		t.Fatal("deferred acquirers never completed after release")
	}
}

func waitGroup(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
