package admin

import (
	"encoding/json"
	"net/http"
	"time"
)

// DrainFunc requests a graceful shutdown of the sessions the server owns,
// waiting up to timeout, and reports whether everything drained in time.
// Bound to entrypoint.EntryPoint.Shutdown by the caller.
type DrainFunc func(timeout time.Duration) bool

// TuneRequest is the JSON body accepted by POST /tune: any zero field is
// left unchanged by the caller-supplied TuneFunc, a partial-update
// convention common to PATCH-like admin endpoints.
type TuneRequest struct {
	ReservedThreads      *int `json:"reserved_threads,omitempty"`
	WorkerRunTimeMs      *int `json:"worker_run_time_ms,omitempty"`
	RunTimeJitterPct     *int `json:"run_time_jitter_pct,omitempty"`
	StuckThreadTimeoutMs *int `json:"stuck_thread_timeout_ms,omitempty"`
	MaxQueueLatencyUs    *int `json:"max_queue_latency_us,omitempty"`
	IdlePctThreshold     *int `json:"idle_pct_threshold,omitempty"`
	RecursionLimit       *int `json:"recursion_limit,omitempty"`
}

// TuneFunc applies a partial tunable update and returns the error, if
// any, from validating/publishing it. Bound to config.Watcher-backed
// reload logic by the caller.
type TuneFunc func(req TuneRequest) error

// WithDrain registers fn as the handler backing POST /drain?timeout=.
func (s *Server) WithDrain(fn DrainFunc) *Server {
	s.drain = fn
	return s
}

// WithTune registers fn as the handler backing POST /tune.
func (s *Server) WithTune(fn TuneFunc) *Server {
	s.tune = fn
	return s
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if s.drain == nil {
		http.Error(w, "drain not configured", http.StatusNotImplemented)
		return
	}

	timeout := 30 * time.Second
	if q := r.URL.Query().Get("timeout"); q != "" {
		if d, err := time.ParseDuration(q); err == nil {
			timeout = d
		}
	}

	ok := s.drain(timeout)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Drained bool `json:"drained"`
	}{Drained: ok})
}

func (s *Server) handleTune(w http.ResponseWriter, r *http.Request) {
	if s.tune == nil {
		http.Error(w, "tune not configured", http.StatusNotImplemented)
		return
	}

	var req TuneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.tune(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
