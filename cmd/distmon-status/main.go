// Command distmon-status serves a small HTTP status surface over a
// distmon-demo journal: a JSON status endpoint, a health/readiness probe,
// and Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/distmon/distmon/internal/demo"
)

var (
	producedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "distmon_journal_produced_total",
		Help: "Number of produce events recorded in the journal.",
	})
	consumedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "distmon_journal_consumed_total",
		Help: "Number of consume events recorded in the journal.",
	})
)

func main() {
	var (
		journalPath = flag.String("journal", "", "path to a distmon-demo sqlite journal (required)")
		addr        = flag.String("addr", ":8091", "address to serve the status endpoints on")
		pollEvery   = flag.Duration("poll", 500*time.Millisecond, "journal polling interval")
	)
	flag.Parse()

	if *journalPath == "" {
		log.Fatal("-journal is required")
	}

	journal, err := demo.OpenJournal(*journalPath)
	if err != nil {
		log.Fatalf("failed to open journal: %v", err)
	}
	defer journal.Close()

	status := newStatusHandler(journal)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go status.pollLoop(ctx, *pollEvery)

	mux := http.NewServeMux()
	mux.Handle("/", status)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("status server error: %v", err)
		}
	}()

	slog.Info("distmon-status listening", "addr", *addr)

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}

// journalStatus is the JSON body returned by the default (non-probe) branch.
type journalStatus struct {
	Status      string       `json:"status"`
	Timestamp   time.Time    `json:"timestamp"`
	Produced    int64        `json:"produced"`
	Consumed    int64        `json:"consumed"`
	Outstanding int64        `json:"outstanding"`
	Recent      []demo.Event `json:"recent_events"`
	Err         string       `json:"error,omitempty"`
}

// statusHandler polls a journal on an interval and serves its
// produced/consumed/outstanding counts as JSON, a liveness/readiness probe,
// and Prometheus gauges. ServeHTTP always reads the last snapshot refresh
// stored, which runs independently in pollLoop.
type statusHandler struct {
	journal *demo.Journal

	produced atomic.Int64
	consumed atomic.Int64
	lastErr  atomic.Value // string
	recent   atomic.Value // []demo.Event
}

func newStatusHandler(journal *demo.Journal) *statusHandler {
	h := &statusHandler{journal: journal}
	h.lastErr.Store("")
	h.recent.Store([]demo.Event(nil))
	return h
}

func (h *statusHandler) pollLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	h.refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.refresh()
		}
	}
}

func (h *statusHandler) refresh() {
	events, err := h.journal.Events()
	if err != nil {
		h.lastErr.Store(err.Error())
		slog.Warn("status poll failed", "error", err)
		return
	}
	h.lastErr.Store("")

	var produced, consumed int64
	for _, e := range events {
		if e.Kind == "produce" {
			produced++
		} else {
			consumed++
		}
	}
	h.produced.Store(produced)
	h.consumed.Store(consumed)
	producedGauge.Set(float64(produced))
	consumedGauge.Set(float64(consumed))

	const window = 20
	start := 0
	if len(events) > window {
		start = len(events) - window
	}
	h.recent.Store(append([]demo.Event(nil), events[start:]...))
}

// ServeHTTP supports probes via query param (?probe=live|ready) and serves
// the full JSON status otherwise. GET and HEAD only.
func (h *statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	errMsg, _ := h.lastErr.Load().(string)

	switch r.URL.Query().Get("probe") {
	case "live":
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})

	case "ready":
		ready := errMsg == ""
		statusCode := http.StatusOK
		if !ready {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if r.Method == http.MethodHead {
			return
		}
		response := map[string]any{"ready": ready}
		if !ready {
			response["reason"] = errMsg
		}
		json.NewEncoder(w).Encode(response)

	default:
		recent, _ := h.recent.Load().([]demo.Event)
		produced := h.produced.Load()
		consumed := h.consumed.Load()

		status := "healthy"
		statusCode := http.StatusOK
		if errMsg != "" {
			status = "unhealthy"
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if r.Method == http.MethodHead {
			return
		}
		json.NewEncoder(w).Encode(journalStatus{
			Status:      status,
			Timestamp:   time.Now(),
			Produced:    produced,
			Consumed:    consumed,
			Outstanding: produced - consumed,
			Recent:      recent,
			Err:         errMsg,
		})
	}
}
