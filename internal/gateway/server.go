package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/rickgao/pricefeed/internal/dispatcher"
	"github.com/rickgao/pricefeed/internal/model"
)

// Feed is the part of the dispatcher the gateway serves from.
type Feed interface {
	Subscribe(symbol string, cb func(model.Update)) dispatcher.Unsubscribe
	GetLast(symbol string) (model.PriceSample, bool)
	Stats() dispatcher.Stats
}

// Config holds gateway settings.
type Config struct {
	Addr           string        // Listen address (default: ":8080")
	AllowedOrigins []string      // Accepted Origin headers; empty accepts any
	SendBuffer     int           // Per-client outbound queue (default: 256)
	MaxSymbols     int           // Per-client subscription cap (default: 200)
	WriteWait      time.Duration // Write deadline (default: 5s)
	PongWait       time.Duration // Read deadline extended by each pong (default: 60s)
	PingPeriod     time.Duration // Must be less than PongWait (default: 50s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:       ":8080",
		SendBuffer: 256,
		MaxSymbols: 200,
		WriteWait:  5 * time.Second,
		PongWait:   60 * time.Second,
		PingPeriod: 50 * time.Second,
	}
}

// Stats reports gateway counters.
type Stats struct {
	Clients  int   `json:"clients"`
	Accepted int64 `json:"accepted"`
	Dropped  int64 `json:"dropped"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string           `json:"status"`
	Connected  bool             `json:"connected"`
	Streaming  bool             `json:"streaming"`
	State      string           `json:"state"`
	Dispatcher dispatcher.Stats `json:"dispatcher"`
	Gateway    Stats            `json:"gateway"`
}

// Server serves the gateway routes.
type Server struct {
	cfg      Config
	feed     Feed
	logger   *slog.Logger
	router   *mux.Router
	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[*client]struct{}
	srv      *http.Server
	listener net.Listener
	wg       sync.WaitGroup

	accepted atomic.Int64
	dropped  atomic.Int64 // from disconnected clients
}

// NewServer builds a gateway over feed.
func NewServer(cfg Config, feed Feed, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.MaxSymbols <= 0 {
		cfg.MaxSymbols = def.MaxSymbols
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}

	s := &Server{
		cfg:     cfg,
		feed:    feed,
		logger:  logger.With("component", "gateway"),
		clients: make(map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/prices/{symbol}", s.handlePrice).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the route handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on cfg.Addr and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	srv := s.srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", ln.Addr().String())
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

// Stop shuts the HTTP server down and disconnects every WebSocket client.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("gateway stopped")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns gateway counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Clients:  len(s.clients),
		Accepted: s.accepted.Load(),
		Dropped:  s.dropped.Load(),
	}
	for c := range s.clients {
		st.Dropped += c.dropped.Load()
	}
	return st
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := newClient(uuid.NewString(), conn, s.feed, s.cfg, s.logger)

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.accepted.Add(1)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump()

		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		s.dropped.Add(c.dropped.Load())
	}()

	s.logger.Debug("client connected", "client", c.id, "remote", r.RemoteAddr)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	sample, ok := s.feed.GetLast(symbol)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no price for " + strings.ToUpper(symbol)})
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.feed.Stats()
	resp := HealthResponse{
		Status:     "ok",
		Connected:  st.Connected,
		Streaming:  st.Streaming,
		State:      st.Connection.State.String(),
		Dispatcher: st,
		Gateway:    s.Stats(),
	}

	code := http.StatusOK
	if !st.Healthy() {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
