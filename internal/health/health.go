// Package health exposes feed status through the standard gRPC health service.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rickgao/pricefeed/internal/dispatcher"
)

// ServiceName is the service reported alongside the overall ("") status.
const ServiceName = "pricefeed"

// StatsSource supplies the dispatcher status the server reports on.
type StatsSource interface {
	Stats() dispatcher.Stats
}

// Config holds health server settings.
type Config struct {
	Addr     string        // Listen address, e.g. ":9090"
	Interval time.Duration // Status refresh interval (default: 5s)
}

// Server runs a gRPC server carrying only the health service.
type Server struct {
	cfg    Config
	source StatsSource
	logger *slog.Logger

	grpc   *grpc.Server
	health *health.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New builds a health server. Nothing listens until Start.
func New(cfg Config, source StatsSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}

	s := &Server{
		cfg:    cfg,
		source: source,
		logger: logger.With("component", "health"),
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// Start listens, publishes the current status and refreshes it every Interval.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	s.refresh()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.grpc.Serve(ln); err != nil && err != grpc.ErrServerStopped {
			s.logger.Error("grpc server failed", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.refreshLoop(ctx)
	}()

	s.logger.Info("grpc health listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop marks every service NOT_SERVING and stops the server, forcing it
// down if ctx expires first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("grpc health stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("grpc graceful stop timed out, forcing")
		s.grpc.Stop()
		return ctx.Err()
	}
}

func (s *Server) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *Server) refresh() {
	status := Status(s.source.Stats())
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Status maps dispatcher stats to a health status: SERVING while the stream
// is open or streaming is disabled.
func Status(st dispatcher.Stats) healthpb.HealthCheckResponse_ServingStatus {
	if !st.Streaming || st.Connected {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
