package connection

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/pricefeed/internal/queue"
)

// Manager owns the shared streaming connection and the stream set.
type Manager interface {
	// Start begins dialing. With no WS URL configured it stays idle.
	Start(ctx context.Context) error

	// Stop closes the socket, cancels timers and returns to idle.
	// OnClose is not emitted for a Stop.
	Stop(ctx context.Context) error

	// Subscribe adds a symbol to the stream set. Never blocks.
	Subscribe(symbol string)

	// Unsubscribe removes a symbol from the stream set. Never blocks.
	Unsubscribe(symbol string)

	// SetHandler installs the event sink. Call before Start.
	SetHandler(h Handler)

	// Enabled reports whether streaming is configured at all.
	Enabled() bool

	// State returns the current lifecycle state.
	State() State

	// Stats returns current connection and subscription statistics.
	Stats() ManagerStats
}

// ClientFactory builds a fresh Client for every dial.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

// manager implements the Manager interface.
type manager struct {
	cfg       ManagerConfig
	parser    Parser
	logger    *slog.Logger
	newClient ClientFactory

	handler Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards state, the stream set and outbox ordering against open.
	mu      sync.Mutex
	state   State
	symbols map[string]struct{}
	lastErr string

	// Control frames waiting for the writer goroutine.
	outbox *queue.Queue[[]byte]
	wake   chan struct{}

	// Malformed frame timestamps inside the current window (run loop only).
	frameErrors []time.Time

	dials           atomic.Int64
	dialFailures    atomic.Int64
	opens           atomic.Int64
	framesReceived  atomic.Int64
	framesMalformed atomic.Int64
	samplesReceived atomic.Int64
	rejections      atomic.Int64
	controlSent     atomic.Int64
}

// NewManager creates a new Manager.
func NewManager(cfg ManagerConfig, parser Parser, logger *slog.Logger) Manager {
	return newManager(cfg, parser, logger, NewClient)
}

func newManager(cfg ManagerConfig, parser Parser, logger *slog.Logger, factory ClientFactory) *manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &manager{
		cfg:       cfg,
		parser:    parser,
		logger:    logger.With("component", "connection"),
		newClient: factory,
		handler:   noopHandler{},
		symbols:   make(map[string]struct{}),
		outbox:    queue.New[[]byte](16),
		wake:      make(chan struct{}, 1),
	}
}

func (m *manager) SetHandler(h Handler) {
	if h == nil {
		h = noopHandler{}
	}
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

func (m *manager) Enabled() bool {
	return m.cfg.WSURL != ""
}

// Start begins the connection manager.
func (m *manager) Start(ctx context.Context) error {
	if !m.Enabled() {
		m.logger.Info("streaming disabled, all symbols will be polled")
		return nil
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.state = StateConnecting
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()

	m.logger.Info("connection manager started", "url", m.cfg.WSURL)
	return nil
}

// Stop gracefully shuts down.
func (m *manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}

	m.logger.Info("stopping connection manager")
	cancel()

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
	}

	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()
	m.outbox.Discard()

	m.logger.Info("connection manager stopped")
	return nil
}

func (m *manager) Subscribe(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.symbols[symbol]; ok {
		return
	}
	m.symbols[symbol] = struct{}{}

	if m.state == StateOpen {
		m.enqueueLocked(m.parser.SubscribeFrame, []string{symbol})
	}
}

func (m *manager) Unsubscribe(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.symbols[symbol]; !ok {
		return
	}
	delete(m.symbols, symbol)

	if m.state == StateOpen {
		m.enqueueLocked(m.parser.UnsubscribeFrame, []string{symbol})
	}
}

func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	state := m.state
	n := len(m.symbols)
	lastErr := m.lastErr
	m.mu.Unlock()

	return ManagerStats{
		State:           state,
		StreamSymbols:   n,
		Dials:           m.dials.Load(),
		DialFailures:    m.dialFailures.Load(),
		Opens:           m.opens.Load(),
		FramesReceived:  m.framesReceived.Load(),
		FramesMalformed: m.framesMalformed.Load(),
		SamplesReceived: m.samplesReceived.Load(),
		Rejections:      m.rejections.Load(),
		ControlSent:     m.controlSent.Load(),
		LastError:       lastErr,
	}
}

// enqueueLocked encodes a control frame and hands it to the writer. Caller holds m.mu.
func (m *manager) enqueueLocked(encode func([]string) ([]byte, error), symbols []string) {
	frame, err := encode(symbols)
	if err != nil {
		m.logger.Error("failed to encode control frame", "symbols", symbols, "error", err)
		return
	}
	m.outbox.Push(frame)

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *manager) recordError(err error) {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}

func (m *manager) currentHandler() Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

// run dials, serves and reconnects until the context is cancelled.
func (m *manager) run() {
	defer m.wg.Done()

	backoff := NewBackoff(m.cfg)
	failures := 0

	for {
		if m.ctx.Err() != nil {
			return
		}

		m.setState(StateConnecting)
		m.dials.Add(1)

		c := m.newClient(m.cfg.clientConfig(), m.logger)
		if err := c.Connect(m.ctx); err != nil {
			c.Close()
			if m.ctx.Err() != nil {
				return
			}

			failures++
			m.dialFailures.Add(1)
			m.recordError(err)

			if m.cfg.MaxAttempts > 0 && failures >= m.cfg.MaxAttempts {
				m.logger.Error("giving up on stream", "attempts", failures, "error", err)
				m.recordError(ErrMaxAttempts)
				m.setState(StateFailed)
				return
			}

			delay := backoff.Next()
			m.logger.Warn("stream dial failed, backing off",
				"attempt", failures,
				"delay", delay,
				"error", err,
			)
			m.setState(StateReconnecting)
			if !m.sleep(delay) {
				return
			}
			continue
		}

		failures = 0
		backoff.Reset()

		reason := m.serve(c)
		c.Close()

		if m.ctx.Err() != nil {
			return
		}

		m.recordError(reason)
		m.setState(StateReconnecting)
		m.logger.Warn("stream closed", "reason", reason)
		m.currentHandler().OnClose(reason)

		// A socket that opened and then died still backs off before redialing.
		delay := backoff.Next()
		if !m.sleep(delay) {
			return
		}
	}
}

// serve runs one open session and returns why it ended.
func (m *manager) serve(c Client) error {
	m.mu.Lock()
	m.state = StateOpen
	stale := m.outbox.Discard()
	symbols := make([]string, 0, len(m.symbols))
	for s := range m.symbols {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	if len(symbols) > 0 {
		m.enqueueLocked(m.parser.SubscribeFrame, symbols)
	}
	handler := m.handler
	m.mu.Unlock()

	m.opens.Add(1)
	m.frameErrors = m.frameErrors[:0]
	m.logger.Info("stream open", "resubscribed", len(symbols), "discarded_control", stale)
	handler.OnOpen()

	sessionCtx, cancel := context.WithCancel(m.ctx)
	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		m.writeLoop(sessionCtx, c)
	}()
	defer func() {
		cancel()
		writer.Wait()
	}()

	// A nil channel never fires, which disables the liveness check.
	var quietC <-chan time.Time
	var quiet *time.Timer
	if m.cfg.QuietPeriod > 0 {
		quiet = time.NewTimer(m.cfg.QuietPeriod)
		defer quiet.Stop()
		quietC = quiet.C
	}

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()

		case err := <-c.Errors():
			return err

		case <-quietC:
			// Pings and pongs keep the socket alive without reaching Messages.
			idle := time.Since(c.LastActivity())
			if idle < m.cfg.QuietPeriod {
				quiet.Reset(m.cfg.QuietPeriod - idle)
				continue
			}
			return ErrQuietStream

		case msg := <-c.Messages():
			if quiet != nil {
				quiet.Reset(m.cfg.QuietPeriod)
			}
			if err := m.handleMessage(handler, msg); err != nil {
				return err
			}
		}
	}
}

// writeLoop sends queued control frames in order for the life of a session.
func (m *manager) writeLoop(ctx context.Context, c Client) {
	for {
		for _, frame := range m.outbox.Drain(0) {
			if err := c.Send(frame); err != nil {
				// The stream set is replayed on the next open.
				m.logger.Debug("control frame send failed", "error", err)
				continue
			}
			m.controlSent.Add(1)
		}

		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}
	}
}

func (m *manager) handleMessage(handler Handler, msg TimestampedMessage) error {
	m.framesReceived.Add(1)

	frame, err := m.parser.Parse(msg.Data, msg.ReceivedAt)
	if err != nil {
		m.framesMalformed.Add(1)
		m.logger.Debug("dropping malformed frame", "error", err, "bytes", len(msg.Data))
		if m.frameErrorLimitHit(msg.ReceivedAt) {
			return ErrCorruptStream
		}
		return nil
	}

	switch frame.Kind {
	case FrameSample:
		for _, s := range frame.Samples {
			m.samplesReceived.Add(1)
			handler.OnSample(s)
		}

	case FrameRejected:
		for _, symbol := range frame.Symbols {
			m.rejections.Add(1)
			m.mu.Lock()
			delete(m.symbols, symbol)
			m.mu.Unlock()
			m.logger.Warn("stream rejected symbol", "symbol", symbol, "reason", frame.Reason)
			handler.OnRejected(symbol, frame.Reason)
		}
	}

	return nil
}

// frameErrorLimitHit records a malformed frame and reports whether the window is over threshold.
func (m *manager) frameErrorLimitHit(at time.Time) bool {
	if m.cfg.FrameErrorThreshold <= 0 {
		return false
	}

	cutoff := at.Add(-m.cfg.FrameErrorWindow)
	kept := m.frameErrors[:0]
	for _, ts := range m.frameErrors {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	m.frameErrors = append(kept, at)

	return len(m.frameErrors) >= m.cfg.FrameErrorThreshold
}

func (m *manager) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-m.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (cfg ManagerConfig) clientConfig() ClientConfig {
	c := cfg.Client
	c.URL = cfg.WSURL
	return c
}
