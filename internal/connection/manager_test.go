package connection

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/pricefeed/internal/model"
)

// lineParser is a minimal text protocol for manager tests:
//
//	S <symbol> <price> <ts>   sample
//	R <symbol> <reason>       rejection
//	ack                       control
type lineParser struct{}

func (lineParser) Parse(data []byte, _ time.Time) (Frame, error) {
	fields := strings.Fields(string(data))
	switch {
	case len(fields) == 1 && fields[0] == "ack":
		return Frame{Kind: FrameControl}, nil
	case len(fields) == 4 && fields[0] == "S":
		price, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return Frame{}, err
		}
		ts, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FrameSample, Samples: []model.PriceSample{{
			Symbol: fields[1], Price: price, Timestamp: ts, Source: model.SourceStream,
		}}}, nil
	case len(fields) == 3 && fields[0] == "R":
		return Frame{Kind: FrameRejected, Symbols: []string{fields[1]}, Reason: fields[2]}, nil
	}
	return Frame{}, fmt.Errorf("malformed: %q", data)
}

func (lineParser) SubscribeFrame(symbols []string) ([]byte, error) {
	return []byte("sub:" + strings.Join(symbols, ",")), nil
}

func (lineParser) UnsubscribeFrame(symbols []string) ([]byte, error) {
	return []byte("unsub:" + strings.Join(symbols, ",")), nil
}

// recordingHandler captures Manager events.
type recordingHandler struct {
	opens    chan struct{}
	closes   chan error
	samples  chan model.PriceSample
	rejected chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opens:    make(chan struct{}, 16),
		closes:   make(chan error, 16),
		samples:  make(chan model.PriceSample, 64),
		rejected: make(chan string, 16),
	}
}

func (h *recordingHandler) OnOpen()                      { h.opens <- struct{}{} }
func (h *recordingHandler) OnSample(s model.PriceSample) { h.samples <- s }
func (h *recordingHandler) OnClose(reason error)         { h.closes <- reason }
func (h *recordingHandler) OnRejected(symbol, _ string)  { h.rejected <- symbol }

func testManagerConfig(url string) ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.WSURL = url
	cfg.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.ReconnectMaxDelay = 50 * time.Millisecond
	cfg.Jitter = 0
	cfg.Client = testClientConfig(url)
	return cfg
}

func waitOpen(t *testing.T, h *recordingHandler) {
	t.Helper()
	select {
	case <-h.opens:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for open")
	}
}

func waitClose(t *testing.T, h *recordingHandler) error {
	t.Helper()
	select {
	case err := <-h.closes:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for close")
		return nil
	}
}

// frameSink collects client->server frames from every connection the mock accepts.
type frameSink struct {
	mu     sync.Mutex
	frames []string
	ch     chan string
}

func newFrameSink() *frameSink {
	return &frameSink{ch: make(chan string, 64)}
}

func (s *frameSink) read(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.frames = append(s.frames, string(msg))
		s.mu.Unlock()
		s.ch <- string(msg)
	}
}

func (s *frameSink) next(t *testing.T) string {
	t.Helper()
	select {
	case f := <-s.ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for control frame")
		return ""
	}
}

func TestManager_ResubscribesStreamSetOnOpen(t *testing.T) {
	sink := newFrameSink()
	server := mockWSServer(t, sink.read)
	defer server.Close()

	h := newRecordingHandler()
	m := NewManager(testManagerConfig(wsURL(server)), lineParser{}, nil)
	m.SetHandler(h)

	// Subscribed before the socket exists: only the stream set changes.
	m.Subscribe("ETH-USDT")
	m.Subscribe("BTC-USDT")
	m.Subscribe("BTC-USDT")

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(context.Background())

	waitOpen(t, h)

	if got := sink.next(t); got != "sub:BTC-USDT,ETH-USDT" {
		t.Errorf("first frame = %q, want sub:BTC-USDT,ETH-USDT", got)
	}
	if m.State() != StateOpen {
		t.Errorf("State() = %v, want open", m.State())
	}
	if n := m.Stats().StreamSymbols; n != 2 {
		t.Errorf("StreamSymbols = %d, want 2", n)
	}
}

func TestManager_SubscribeWhileOpenSendsFrame(t *testing.T) {
	sink := newFrameSink()
	server := mockWSServer(t, sink.read)
	defer server.Close()

	h := newRecordingHandler()
	m := NewManager(testManagerConfig(wsURL(server)), lineParser{}, nil)
	m.SetHandler(h)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(context.Background())
	waitOpen(t, h)

	m.Subscribe("SOL-USDT")
	if got := sink.next(t); got != "sub:SOL-USDT" {
		t.Errorf("frame = %q, want sub:SOL-USDT", got)
	}

	m.Unsubscribe("SOL-USDT")
	if got := sink.next(t); got != "unsub:SOL-USDT" {
		t.Errorf("frame = %q, want unsub:SOL-USDT", got)
	}

	// Unknown symbol: no frame
	m.Unsubscribe("SOL-USDT")
	select {
	case f := <-sink.ch:
		t.Errorf("unexpected frame %q", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_DeliversSamples(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("ack"))
		conn.WriteMessage(websocket.TextMessage, []byte("S BTC-USDT 100.5 1000"))
		conn.WriteMessage(websocket.TextMessage, []byte("S BTC-USDT 101 2000"))
		time.Sleep(time.Second)
	})
	defer server.Close()

	h := newRecordingHandler()
	m := NewManager(testManagerConfig(wsURL(server)), lineParser{}, nil)
	m.SetHandler(h)
	m.Start(context.Background())
	defer m.Stop(context.Background())

	for _, want := range []int64{1000, 2000} {
		select {
		case s := <-h.samples:
			if s.Timestamp != want || s.Symbol != "BTC-USDT" {
				t.Errorf("sample = %+v, want BTC-USDT@%d", s, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for sample")
		}
	}

	stats := m.Stats()
	if stats.SamplesReceived != 2 {
		t.Errorf("SamplesReceived = %d, want 2", stats.SamplesReceived)
	}
	if stats.FramesReceived < 3 {
		t.Errorf("FramesReceived = %d, want >= 3", stats.FramesReceived)
	}
}

func TestManager_RejectionLeavesStreamSet(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("R DOGE-XYZ unsupported"))
		time.Sleep(time.Second)
	})
	defer server.Close()

	h := newRecordingHandler()
	m := NewManager(testManagerConfig(wsURL(server)), lineParser{}, nil)
	m.SetHandler(h)
	m.Subscribe("DOGE-XYZ")
	m.Start(context.Background())
	defer m.Stop(context.Background())

	select {
	case sym := <-h.rejected:
		if sym != "DOGE-XYZ" {
			t.Errorf("rejected %q, want DOGE-XYZ", sym)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for rejection")
	}

	if n := m.Stats().StreamSymbols; n != 0 {
		t.Errorf("StreamSymbols = %d, want 0", n)
	}
}

func TestManager_MalformedFramesForceReconnect(t *testing.T) {
	var conns atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			for i := 0; i < 5; i++ {
				conn.WriteMessage(websocket.TextMessage, []byte("garbage"))
			}
		}
		time.Sleep(time.Second)
	})
	defer server.Close()

	h := newRecordingHandler()
	m := NewManager(testManagerConfig(wsURL(server)), lineParser{}, nil)
	m.SetHandler(h)
	m.Start(context.Background())
	defer m.Stop(context.Background())

	waitOpen(t, h)
	if err := waitClose(t, h); !errors.Is(err, ErrCorruptStream) {
		t.Errorf("close reason = %v, want ErrCorruptStream", err)
	}

	// Reconnects after backoff
	waitOpen(t, h)

	stats := m.Stats()
	if stats.FramesMalformed != 5 {
		t.Errorf("FramesMalformed = %d, want 5", stats.FramesMalformed)
	}
	if stats.Opens < 2 {
		t.Errorf("Opens = %d, want >= 2", stats.Opens)
	}
}

func TestManager_FewMalformedFramesTolerated(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 4; i++ {
			conn.WriteMessage(websocket.TextMessage, []byte("garbage"))
		}
		conn.WriteMessage(websocket.TextMessage, []byte("S BTC-USDT 1 1"))
		time.Sleep(time.Second)
	})
	defer server.Close()

	h := newRecordingHandler()
	m := NewManager(testManagerConfig(wsURL(server)), lineParser{}, nil)
	m.SetHandler(h)
	m.Start(context.Background())
	defer m.Stop(context.Background())

	select {
	case <-h.samples:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for sample after malformed frames")
	}

	select {
	case err := <-h.closes:
		t.Errorf("unexpected close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManager_QuietStreamForcesReconnect(t *testing.T) {
	sink := newFrameSink()
	server := mockWSServer(t, sink.read)
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.QuietPeriod = 100 * time.Millisecond

	h := newRecordingHandler()
	m := NewManager(cfg, lineParser{}, nil)
	m.SetHandler(h)
	m.Subscribe("BTC-USDT")
	m.Start(context.Background())
	defer m.Stop(context.Background())

	waitOpen(t, h)
	if got := sink.next(t); got != "sub:BTC-USDT" {
		t.Errorf("first frame = %q, want sub:BTC-USDT", got)
	}

	if err := waitClose(t, h); !errors.Is(err, ErrQuietStream) {
		t.Errorf("close reason = %v, want ErrQuietStream", err)
	}

	// The new socket gets the stream set again.
	waitOpen(t, h)
	if got := sink.next(t); got != "sub:BTC-USDT" {
		t.Errorf("frame after reconnect = %q, want sub:BTC-USDT", got)
	}
}

func TestManager_StaleControlFramesDiscardedOnOpen(t *testing.T) {
	m := newManager(testManagerConfig("ws://unused"), lineParser{}, nil, NewClient)

	// Simulate leftovers from a previous session.
	m.outbox.Push([]byte("unsub:OLD"))
	m.outbox.Push([]byte("sub:OLD"))
	m.symbols["BTC-USDT"] = struct{}{}

	sink := newFrameSink()
	server := mockWSServer(t, sink.read)
	defer server.Close()
	m.cfg = testManagerConfig(wsURL(server))

	h := newRecordingHandler()
	m.SetHandler(h)
	m.Start(context.Background())
	defer m.Stop(context.Background())

	waitOpen(t, h)
	if got := sink.next(t); got != "sub:BTC-USDT" {
		t.Errorf("first frame = %q, want sub:BTC-USDT", got)
	}
	select {
	case f := <-sink.ch:
		t.Errorf("stale frame %q was sent", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_DisabledStaysIdle(t *testing.T) {
	m := NewManager(testManagerConfig(""), lineParser{}, nil)

	if m.Enabled() {
		t.Error("Enabled() = true, want false")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	m.Subscribe("BTC-USDT")
	if m.State() != StateIdle {
		t.Errorf("State() = %v, want idle", m.State())
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestManager_MaxAttemptsEntersFailed(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {})
	url := wsURL(server)
	server.Close() // nothing listens any more

	cfg := testManagerConfig(url)
	cfg.MaxAttempts = 3
	cfg.ReconnectBaseDelay = time.Millisecond
	cfg.ReconnectMaxDelay = 5 * time.Millisecond

	m := NewManager(cfg, lineParser{}, nil)
	m.Start(context.Background())
	defer m.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for m.State() != StateFailed && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if m.State() != StateFailed {
		t.Fatalf("State() = %v, want failed", m.State())
	}
	if got := m.Stats().DialFailures; got != 3 {
		t.Errorf("DialFailures = %d, want 3", got)
	}
}

func TestManager_StopReturnsToIdle(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(2 * time.Second)
	})
	defer server.Close()

	h := newRecordingHandler()
	m := NewManager(testManagerConfig(wsURL(server)), lineParser{}, nil)
	m.SetHandler(h)
	m.Start(context.Background())
	waitOpen(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if m.State() != StateIdle {
		t.Errorf("State() = %v, want idle", m.State())
	}

	select {
	case err := <-h.closes:
		t.Errorf("OnClose fired on Stop: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// Second Stop is a no-op
	if err := m.Stop(ctx); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestManager_PongsKeepQuietStreamOpen(t *testing.T) {
	// The mock never sends data, but its reader answers pings.
	sink := newFrameSink()
	server := mockWSServer(t, sink.read)
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.QuietPeriod = 150 * time.Millisecond
	cfg.Client.PingInterval = 30 * time.Millisecond

	h := newRecordingHandler()
	m := NewManager(cfg, lineParser{}, nil)
	m.SetHandler(h)
	m.Start(context.Background())
	defer m.Stop(context.Background())

	waitOpen(t, h)

	select {
	case err := <-h.closes:
		t.Fatalf("heartbeating socket closed: %v", err)
	case <-time.After(600 * time.Millisecond):
	}

	if got := m.Stats().Opens; got != 1 {
		t.Errorf("Opens = %d, want 1", got)
	}
	if m.State() != StateOpen {
		t.Errorf("State() = %v, want open", m.State())
	}
}

func TestManager_MalformedFramesOutsideWindowTolerated(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 4; i++ {
			conn.WriteMessage(websocket.TextMessage, []byte("garbage"))
		}
		time.Sleep(150 * time.Millisecond)
		for i := 0; i < 4; i++ {
			conn.WriteMessage(websocket.TextMessage, []byte("garbage"))
		}
		conn.WriteMessage(websocket.TextMessage, []byte("S BTC-USDT 1 1"))
		time.Sleep(time.Second)
	})
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.FrameErrorThreshold = 5
	cfg.FrameErrorWindow = 100 * time.Millisecond

	h := newRecordingHandler()
	m := NewManager(cfg, lineParser{}, nil)
	m.SetHandler(h)
	m.Start(context.Background())
	defer m.Stop(context.Background())

	select {
	case <-h.samples:
	case err := <-h.closes:
		t.Fatalf("closed before sample: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for sample")
	}

	if got := m.Stats().FramesMalformed; got != 8 {
		t.Errorf("FramesMalformed = %d, want 8", got)
	}
	select {
	case err := <-h.closes:
		t.Errorf("unexpected close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManager_BackoffResetsAfterOpen(t *testing.T) {
	// Every socket is dropped right after the upgrade.
	server := mockWSServer(t, func(conn *websocket.Conn) {})
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.ReconnectBaseDelay = 50 * time.Millisecond
	cfg.ReconnectMaxDelay = 5 * time.Second
	cfg.ReconnectFactor = 2

	h := newRecordingHandler()
	m := NewManager(cfg, lineParser{}, nil)
	m.SetHandler(h)
	m.Start(context.Background())
	defer m.Stop(context.Background())

	waitOpen(t, h)
	start := time.Now()
	for i := 0; i < 4; i++ {
		waitClose(t, h)
		waitOpen(t, h)
	}
	elapsed := time.Since(start)

	// Four base delays is 200ms; a growing schedule would need 50+100+200+400.
	if elapsed >= 600*time.Millisecond {
		t.Errorf("four reconnects took %v, want each at the base delay", elapsed)
	}
	if got := m.Stats().Opens; got < 5 {
		t.Errorf("Opens = %d, want >= 5", got)
	}
}
