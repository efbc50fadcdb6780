// Command execsrv wires together the reactor, executor, session state
// machine, entry point, admin surface, and (optionally) the audit store
// into a minimal TCP server: one worked example of the pieces this module
// exposes as libraries. Flags are parsed in main, components constructed
// top-down, and the process blocks until a termination signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/noisefs-labs/execcore/pkg/admin"
	"github.com/noisefs-labs/execcore/pkg/audit"
	"github.com/noisefs-labs/execcore/pkg/clock"
	"github.com/noisefs-labs/execcore/pkg/compression"
	"github.com/noisefs-labs/execcore/pkg/config"
	"github.com/noisefs-labs/execcore/pkg/entrypoint"
	"github.com/noisefs-labs/execcore/pkg/executor"
	"github.com/noisefs-labs/execcore/pkg/logging"
	"github.com/noisefs-labs/execcore/pkg/reactor"
	"github.com/noisefs-labs/execcore/pkg/session"
	"github.com/noisefs-labs/execcore/pkg/wire"
)

func main() {
	var (
		listenAddr = flag.String("listen", ":27017", "address to accept connections on")
		adminAddr  = flag.String("admin", ":8090", "address to serve the admin HTTP surface on")
		configPath = flag.String("config", "", "path to a JSON tunables file (hot-reloaded)")
		auditDSN   = flag.String("audit-dsn", "", "Postgres DSN for session lifecycle auditing (optional)")
		logLevel   = flag.String("log-level", "info", "debug|info|warn|error")
	)
	flag.Parse()

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.New(&logging.Config{Level: level, Format: logging.TextFormat, Output: os.Stderr})
	logging.InitGlobal(logger)

	watcher, err := openWatcher(*configPath)
	if err != nil {
		logger.Errorf("loading config: %v", err)
		os.Exit(1)
	}
	cfg := watcher.Current()

	// The reactor is driven by the adaptive executor's own workers; in
	// synchronous mode it sits idle and only Stop touches it.
	clk := clock.New(50 * time.Millisecond)
	r := reactor.New(clk)

	exec := newExecutor(r, cfg)
	if a, ok := exec.(*executor.Adaptive); ok {
		a.WithLogger(logger.WithComponent("executor"))
	}
	if err := exec.Start(); err != nil {
		logger.Errorf("starting executor: %v", err)
		os.Exit(1)
	}

	maxConns := entrypoint.ClampMaxConnections(cfg.MaxConnections)
	if maxConns < cfg.MaxConnections {
		logger.Warnf("max_connections %d exceeds the file descriptor budget, clamped to %d", cfg.MaxConnections, maxConns)
	}
	ep := entrypoint.New(maxConns, logger.WithComponent("entrypoint"))
	var auditStore *audit.Store
	if *auditDSN != "" {
		auditStore, err = audit.Open(context.Background(), audit.Config{DSN: *auditDSN})
		if err != nil {
			logger.Errorf("opening audit store: %v", err)
			os.Exit(1)
		}
		defer auditStore.Close()
		if err := auditStore.Migrate(); err != nil {
			logger.Errorf("migrating audit store: %v", err)
			os.Exit(1)
		}
		ep.WithAuditSink(auditStore)
	}

	adminSrv := admin.New("execsrv", exec).
		WithDrain(ep.Shutdown).
		WithTune(func(req admin.TuneRequest) error {
			return applyTune(watcher, req)
		})
	adminSrv.StartPushLoop()
	httpSrv := &http.Server{Addr: *adminAddr, Handler: adminSrv.Router()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("admin server: %v", err)
		}
	}()

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		logger.Errorf("listening on %s: %v", *listenAddr, err)
		os.Exit(1)
	}

	logger.Infof("listening on %s, admin surface on %s", *listenAddr, *adminAddr)
	serveErr := make(chan error, 1)
	go func() { serveErr <- serve(ln, exec, ep, cfg, logger) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		logger.Errorf("serve: %v", err)
		os.Exit(1)
	case s := <-sig:
		logger.Infof("received %s, shutting down", s)
	}

	_ = ln.Close()
	_ = httpSrv.Close()
	adminSrv.StopPushLoop()

	// Exit 0 when everything drained, 3 when sessions or workers were
	// still alive at the deadline; invariant violations abort with 1
	// before reaching this point.
	const drainTimeout = 30 * time.Second
	code := 0
	if !ep.Shutdown(drainTimeout) {
		logger.Errorf("shutdown: sessions did not drain within %s", drainTimeout)
		code = 3
	}
	if err := exec.Shutdown(drainTimeout); err != nil {
		logger.Errorf("shutdown: executor did not drain: %v", err)
		code = 3
	}
	r.Stop()
	os.Exit(code)
}

func openWatcher(path string) (*config.Watcher, error) {
	if path == "" {
		return config.NewInMemoryWatcher(config.DefaultConfig()), nil
	}
	return config.NewWatcher(path)
}

func newExecutor(r *reactor.Reactor, cfg *config.Config) executor.Executor {
	if cfg.ExecutorMode == config.ModeSynchronous {
		return executor.NewSynchronous(executor.DefaultSynchronousOptions())
	}
	return executor.NewAdaptive(r, cfg.Adaptive.ToOptions())
}

func applyTune(w *config.Watcher, req admin.TuneRequest) error {
	cur := *w.Current()
	if req.ReservedThreads != nil {
		cur.Adaptive.ReservedThreads = *req.ReservedThreads
	}
	if req.WorkerRunTimeMs != nil {
		cur.Adaptive.WorkerRunTimeMs = *req.WorkerRunTimeMs
	}
	if req.RunTimeJitterPct != nil {
		cur.Adaptive.RunTimeJitterPct = *req.RunTimeJitterPct
	}
	if req.StuckThreadTimeoutMs != nil {
		cur.Adaptive.StuckThreadTimeoutMs = *req.StuckThreadTimeoutMs
	}
	if req.MaxQueueLatencyUs != nil {
		cur.Adaptive.MaxQueueLatencyUs = *req.MaxQueueLatencyUs
	}
	if req.IdlePctThreshold != nil {
		cur.Adaptive.IdlePctThreshold = *req.IdlePctThreshold
	}
	if req.RecursionLimit != nil {
		cur.Adaptive.RecursionLimit = *req.RecursionLimit
	}
	return w.Publish(&cur)
}

// serve accepts connections and wraps each in a Session that echoes every
// framed message back to its sender, wrapped in a compressed-message
// envelope using the first configured compressor ("noop" when compression
// is disabled); no per-connection negotiation takes place. Demonstration
// wiring only; real wire-protocol dispatch is left to an external
// collaborator.
func serve(ln net.Listener, exec executor.Executor, ep *entrypoint.EntryPoint, cfg *config.Config, logger *logging.Logger) error {
	var nextID atomic.Uint64
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("execsrv: accept: %w", err)
		}

		id := nextID.Add(1)
		codecName := firstCompressor(cfg)
		codec, _ := compression.ByName(codecName)

		source := func() (any, bool, error) {
			msg, err := wire.ReadMessage(conn)
			if err != nil {
				return nil, false, err
			}
			return msg, false, nil
		}
		process := func(m any) (any, bool, error) {
			msg := m.(wire.Message)
			return msg, false, nil
		}
		sink := func(m any) error {
			msg := m.(wire.Message)
			body := msg.Body
			if codec != nil {
				cm, err := compression.Compress(codec, msg.Header.Op, body)
				if err != nil {
					return err
				}
				body = cm.Encode()
			}
			return wire.WriteMessage(conn, wire.Header{RequestID: msg.Header.RequestID, ResponseTo: msg.Header.RequestID, Op: msg.Header.Op}, body)
		}

		hook := ep.CleanupHook()
		cleanup := func(s *session.Session) {
			hook(s)
			_ = conn.Close()
		}

		sess := session.New(id, exec, source, process, sink, cleanup)
		go func() {
			if err := ep.StartSession(sess); err != nil {
				logger.Warnf("session #%d rejected: %v", id, err)
				_ = conn.Close()
			}
		}()
	}
}

func firstCompressor(cfg *config.Config) string {
	names := cfg.Compression.CompressorNames()
	if len(names) == 0 {
		return "noop"
	}
	return names[0]
}
