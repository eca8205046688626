package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Stage is a startup step the ledger must finish before it takes commands.
type Stage string

const (
	StageRecovered  Stage = "recovered"  // snapshot restored and event log replayed
	StageDispatcher Stage = "dispatcher" // the single writer is serving
	StageIngress    Stage = "ingress"    // NATS consumers subscribed
)

// LedgerHealth answers /healthz and /readyz and drives the gRPC health
// service. The ledger is ready once every required stage has completed and
// until Drain is called.
type LedgerHealth struct {
	mu       sync.Mutex
	pending  map[Stage]bool
	order    []Stage
	draining bool
	watchers []func(ready bool)

	startTime time.Time
}

// NewLedgerHealth tracks the given stages. With no stages the ledger is
// ready at once.
func NewLedgerHealth(stages ...Stage) *LedgerHealth {
	h := &LedgerHealth{
		pending:   make(map[Stage]bool, len(stages)),
		startTime: time.Now(),
	}
	for _, s := range stages {
		if !h.pending[s] {
			h.pending[s] = true
			h.order = append(h.order, s)
		}
	}
	return h
}

// Complete marks a stage done. Unknown stages are ignored.
func (h *LedgerHealth) Complete(s Stage) {
	h.update(func() { delete(h.pending, s) })
}

// Drain reports not ready from now on. Shutdown calls it before ingress
// stops so load balancers move traffic away first.
func (h *LedgerHealth) Drain() {
	h.update(func() { h.draining = true })
}

// Watch registers fn to hear readiness. It is called once with the current
// value and again on every change.
func (h *LedgerHealth) Watch(fn func(ready bool)) {
	h.mu.Lock()
	h.watchers = append(h.watchers, fn)
	ready := h.readyLocked()
	h.mu.Unlock()
	fn(ready)
}

// Ready reports readiness and, when not ready, the stages still pending.
func (h *LedgerHealth) Ready() (bool, []Stage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readyLocked(), h.waitingLocked()
}

func (h *LedgerHealth) update(fn func()) {
	h.mu.Lock()
	before := h.readyLocked()
	fn()
	after := h.readyLocked()
	watchers := append(([]func(bool))(nil), h.watchers...)
	h.mu.Unlock()

	if before != after {
		for _, w := range watchers {
			w(after)
		}
	}
}

func (h *LedgerHealth) readyLocked() bool {
	return !h.draining && len(h.pending) == 0
}

func (h *LedgerHealth) waitingLocked() []Stage {
	var out []Stage
	for _, s := range h.order {
		if h.pending[s] {
			out = append(out, s)
		}
	}
	return out
}

type healthBody struct {
	Status  string  `json:"status"`
	Uptime  string  `json:"uptime,omitempty"`
	Waiting []Stage `json:"waiting,omitempty"`
}

// LivenessHandler answers 200 while the process runs.
func (h *LedgerHealth) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, healthBody{
		Status: "alive",
		Uptime: time.Since(h.startTime).Round(time.Second).String(),
	})
}

// ReadinessHandler answers 200 when ready and 503 while starting or draining.
func (h *LedgerHealth) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	ready, draining, waiting := h.readyLocked(), h.draining, h.waitingLocked()
	h.mu.Unlock()

	switch {
	case ready:
		writeHealth(w, http.StatusOK, healthBody{Status: "ready"})
	case draining:
		writeHealth(w, http.StatusServiceUnavailable, healthBody{Status: "draining"})
	default:
		writeHealth(w, http.StatusServiceUnavailable, healthBody{Status: "starting", Waiting: waiting})
	}
}

func writeHealth(w http.ResponseWriter, code int, body healthBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body) // nolint:errcheck
}
