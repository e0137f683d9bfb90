// Package server implements spec §1/§5's outer edge: the TCP acceptor,
// per-connection header parsing, rate limiting, worker dispatch to the
// registry, and graceful shutdown — wiring everything internal/registry,
// internal/metrics, and internal/health expose.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/replayrelay/internal/config"
	"github.com/adred-codev/replayrelay/internal/health"
	"github.com/adred-codev/replayrelay/internal/metadatastore"
	"github.com/adred-codev/replayrelay/internal/metrics"
	"github.com/adred-codev/replayrelay/internal/registry"
	"github.com/adred-codev/replayrelay/internal/replay"
	"github.com/adred-codev/replayrelay/internal/vault"
	"github.com/adred-codev/replayrelay/internal/wire"
)

// Server owns the listener, the registry, and every ambient subsystem
// (metrics, health sampling, rate limiting), following the teacher's
// Server.Start/Shutdown split.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	listener    net.Listener
	metricsHTTP *http.Server

	metrics     *metrics.Registry
	sampler     *health.Sampler
	rateLimiter *ConnectionRateLimiter
	pool        *workerPool
	registry    *registry.Registry
	store       *metadatastore.Store

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Server from the resolved configuration. It opens the sqlite
// metadata store eagerly (so a misconfigured database.name fails fast,
// before the listener binds) but does not yet listen.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	store, err := metadatastore.Open(cfg.Database.Name)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	v := vault.New(cfg.Storage.VaultPath)
	saver := replay.NewSaver(v, store, logger)

	reg := registry.New(ctx, replay.ConfigFromApp(cfg), saver, logger)

	metricsReg := metrics.NewRegistry()
	sampler := health.NewSampler(metricsReg, logger)
	rateLimiter := NewConnectionRateLimiter(DefaultRateLimitConfig(), logger)

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		metrics:     metricsReg,
		sampler:     sampler,
		rateLimiter: rateLimiter,
		registry:    reg,
		store:       store,
		ctx:         ctx,
		cancel:      cancel,
	}
	s.pool = newWorkerPool(cfg.Server.WorkerThreads, cfg.Server.WorkerThreads*64, logger, s.rejectOverloaded)
	return s, nil
}

// Start binds the listener, launches the worker pool, the metrics HTTP
// server, the health sampler, and the accept loop, then returns without
// blocking. Those goroutines run until Shutdown cancels the server's node
// in the shutdown_token tree.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln
	s.logger.Info().Str("addr", addr).Msg("listening for replayrelay connections")

	s.pool.Start(s.ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sampler.Run(s.ctx, 15*time.Second)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sampleReplayStates(replayStateSampleInterval)
	}()

	s.startMetricsHTTP()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	return nil
}

// replayStateSampleInterval bounds how often the replay_state gauge is
// recomputed. Kept out of the hot path (Assign/HandleConnection) so lifecycle
// transitions never pay a metrics-update cost.
const replayStateSampleInterval = 5 * time.Second

func (s *Server) sampleReplayStates(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.metrics.SetReplayStateCounts(s.registry.StateCounts())
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) startMetricsHTTP() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.metricsHTTP = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		Handler: mux,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info().Str("addr", s.metricsHTTP.Addr).Msg("metrics server listening")
		if err := s.metricsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.sampler.Snapshot()
	fmt.Fprintf(w, "ok goroutines=%d rss_bytes=%d replays=%d\n",
		snap.Goroutines, snap.RSSBytes, s.registry.Len())
}

// acceptLoop is the teacher's connection-accept pattern generalized to raw
// TCP: accept, rate-limit by remote address, then hand off to the worker
// pool for header parsing and dispatch.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Warn().Err(err).Msg("accept error")
				continue
			}
		}

		addr := remoteHost(conn)
		if !s.rateLimiter.Allow(addr) {
			s.metrics.ConnectionsRejected.WithLabelValues("rate_limited").Inc()
			conn.Close()
			continue
		}

		s.pool.Submit(conn, s.handleAccepted)
	}
}

func (s *Server) handleAccepted(raw net.Conn) {
	conn, err := wire.Accept(s.ctx, raw, s.cfg.Server.ConnectionAcceptTimeout())
	if err != nil {
		s.metrics.ConnectionsRejected.WithLabelValues("bad_header").Inc()
		s.logger.Info().Err(err).Msg("rejected connection: header parse failed")
		return
	}

	kind := conn.Header.Kind.String()
	s.metrics.ConnectionsAccepted.WithLabelValues(kind).Inc()
	s.metrics.ConnectionsActive.WithLabelValues(kind).Inc()
	defer s.metrics.ConnectionsActive.WithLabelValues(kind).Dec()

	s.registry.Assign(conn)
}

func (s *Server) rejectOverloaded(conn net.Conn) {
	s.metrics.ConnectionsRejected.WithLabelValues("worker_pool_full").Inc()
	s.logger.Warn().Str("addr", remoteHost(conn)).Msg("rejected connection: worker pool at capacity")
	conn.Close()
}

func remoteHost(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Shutdown cancels the shutdown_token tree, stops accepting new
// connections, and drains in-flight work with a bounded grace period,
// matching the teacher's Server.Shutdown.
func (s *Server) Shutdown(grace time.Duration) {
	s.logger.Info().Msg("shutting down")
	s.cancel()
	s.registry.Shutdown()

	if s.listener != nil {
		s.listener.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if s.metricsHTTP != nil {
		s.metricsHTTP.Shutdown(ctx)
	}

	s.pool.Stop()
	s.rateLimiter.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("shutdown complete")
	case <-ctx.Done():
		s.logger.Warn().Msg("shutdown grace period elapsed before all goroutines exited")
	}

	s.store.Close()
}
