// Package admin exposes the JSON stats surface, Prometheus metrics, and a
// live websocket stats stream for an executor: a gorilla/mux router, a
// gorilla/websocket upgrader, and a periodic push loop per connected
// client.
package admin

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noisefs-labs/execcore/pkg/compression"
	"github.com/noisefs-labs/execcore/pkg/executor"
)

// StatsDocument is the full JSON document served at /stats: the executor's
// own stats snapshot alongside per-codec compression counters.
type StatsDocument struct {
	Executor    executor.Stats                   `json:"executor"`
	Compression map[string]compression.NameStats `json:"compression"`
}

// Server owns the executor being observed and serves the admin HTTP
// surface over an *http.Server the caller starts/stops.
type Server struct {
	name string
	exec executor.Executor

	reg            *prometheus.Registry
	threadsRunning *prometheus.GaugeVec
	threadsInUse   *prometheus.GaugeVec
	threadsPending *prometheus.GaugeVec
	tasksQueued    *prometheus.GaugeVec
	totalExecuted  *prometheus.GaugeVec
	spawnedBy      *prometheus.GaugeVec

	upgrader websocket.Upgrader

	wsMu      sync.Mutex
	wsClients map[*websocket.Conn]chan StatsDocument

	pushInterval time.Duration
	stopPush     chan struct{}

	drain DrainFunc
	tune  TuneFunc
}

// New constructs a Server observing exec. name labels the Prometheus
// series (e.g. "front") in deployments running more than one execcore
// instance behind a shared scrape target.
func New(name string, exec executor.Executor) *Server {
	reg := prometheus.NewRegistry()

	threadsRunning := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "execcore_threads_running",
		Help: "Live worker threads in the pool.",
	}, []string{"executor"})
	threadsInUse := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "execcore_threads_in_use",
		Help: "Worker threads currently executing a task.",
	}, []string{"executor"})
	threadsPending := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "execcore_threads_pending",
		Help: "Worker threads spawned but not yet in their run loop.",
	}, []string{"executor"})
	tasksQueued := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "execcore_tasks_queued",
		Help: "Tasks currently queued awaiting a worker.",
	}, []string{"executor"})
	totalExecuted := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "execcore_tasks_executed_total",
		Help: "Cumulative tasks executed.",
	}, []string{"executor"})
	spawnedBy := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "execcore_threads_started_by",
		Help: "Cumulative worker spawns broken down by controller reason.",
	}, []string{"executor", "reason"})

	reg.MustRegister(threadsRunning, threadsInUse, threadsPending, tasksQueued, totalExecuted, spawnedBy)

	return &Server{
		name:           name,
		exec:           exec,
		reg:            reg,
		threadsRunning: threadsRunning,
		threadsInUse:   threadsInUse,
		threadsPending: threadsPending,
		tasksQueued:    tasksQueued,
		totalExecuted:  totalExecuted,
		spawnedBy:      spawnedBy,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		wsClients:    make(map[*websocket.Conn]chan StatsDocument),
		pushInterval: time.Second,
		stopPush:     make(chan struct{}),
	}
}

// Router builds the mux.Router serving /stats, /metrics, /healthz, and
// /ws/stats.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/ws/stats", s.handleWebSocketStats)
	r.HandleFunc("/drain", s.handleDrain).Methods(http.MethodPost)
	r.HandleFunc("/tune", s.handleTune).Methods(http.MethodPost)
	return r
}

// Document returns the current StatsDocument and, as a side effect,
// refreshes the Prometheus gauges from the same snapshot so both surfaces
// never disagree mid-scrape.
func (s *Server) Document() StatsDocument {
	st := s.exec.Stats()
	s.threadsRunning.WithLabelValues(s.name).Set(float64(st.ThreadsRunning))
	s.threadsInUse.WithLabelValues(s.name).Set(float64(st.ThreadsInUse))
	s.threadsPending.WithLabelValues(s.name).Set(float64(st.ThreadsPending))
	s.tasksQueued.WithLabelValues(s.name).Set(float64(st.TasksQueued))
	s.totalExecuted.WithLabelValues(s.name).Set(float64(st.TotalExecuted))
	s.spawnedBy.WithLabelValues(s.name, "stuckDetection").Set(float64(st.ThreadsStartedBy.StuckDetection))
	s.spawnedBy.WithLabelValues(s.name, "starvation").Set(float64(st.ThreadsStartedBy.Starvation))
	s.spawnedBy.WithLabelValues(s.name, "reserveMinimum").Set(float64(st.ThreadsStartedBy.ReserveMinimum))
	return StatsDocument{Executor: st, Compression: compression.Stats()}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Document())
}

func (s *Server) handleWebSocketStats(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	clientChan := make(chan StatsDocument, 8)
	s.wsMu.Lock()
	s.wsClients[conn] = clientChan
	s.wsMu.Unlock()

	defer func() {
		s.wsMu.Lock()
		delete(s.wsClients, conn)
		s.wsMu.Unlock()
		close(clientChan)
		_ = conn.Close()
	}()

	_ = conn.WriteJSON(s.Document())

	for doc := range clientChan {
		if err := conn.WriteJSON(doc); err != nil {
			return
		}
	}
}

// StartPushLoop begins pushing Document() to every connected websocket
// client every pushInterval, until StopPushLoop is called.
func (s *Server) StartPushLoop() {
	go func() {
		ticker := time.NewTicker(s.pushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopPush:
				return
			case <-ticker.C:
				doc := s.Document()
				s.wsMu.Lock()
				for _, ch := range s.wsClients {
					select {
					case ch <- doc:
					default:
					}
				}
				s.wsMu.Unlock()
			}
		}
	}()
}

// StopPushLoop stops the push loop started by StartPushLoop. Safe to call
// at most once.
func (s *Server) StopPushLoop() {
	close(s.stopPush)
}
