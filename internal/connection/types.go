package connection

import (
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/pricefeed/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrQuietStream     = errors.New("no inbound frame within quiet period")
	ErrCorruptStream   = errors.New("too many malformed frames")
	ErrMaxAttempts     = errors.New("reconnect attempts exhausted")
)

// State is the lifecycle state of the Manager.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets State render as its name in JSON stats.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// FrameKind classifies a decoded inbound frame.
type FrameKind int

const (
	FrameControl  FrameKind = iota // acks, pongs, informational events
	FrameSample                    // one or more price samples
	FrameRejected                  // the exchange refused one or more symbols
)

// Frame is a decoded inbound message.
type Frame struct {
	Kind    FrameKind
	Samples []model.PriceSample // FrameSample only
	Symbols []string            // FrameRejected only
	Reason  string              // FrameRejected only
}

// Parser translates between wire bytes and frames.
type Parser interface {
	// Parse decodes one inbound message. A non-nil error marks the frame as
	// malformed; it is dropped and counted toward the corruption threshold.
	Parse(data []byte, receivedAt time.Time) (Frame, error)

	// SubscribeFrame encodes a request to start streaming symbols.
	SubscribeFrame(symbols []string) ([]byte, error)

	// UnsubscribeFrame encodes a request to stop streaming symbols.
	UnsubscribeFrame(symbols []string) ([]byte, error)
}

// Handler receives Manager events. Calls come from the Manager's goroutine
// and must not block.
type Handler interface {
	OnOpen()
	OnSample(sample model.PriceSample)
	OnClose(reason error)
	OnRejected(symbol, reason string)
}

type noopHandler struct{}

func (noopHandler) OnOpen()                    {}
func (noopHandler) OnSample(model.PriceSample) {}
func (noopHandler) OnClose(error)              {}
func (noopHandler) OnRejected(string, string)  {}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://ws.okx.com:8443/ws/v5/public)
	Header           http.Header   // Extra handshake headers
	HandshakeTimeout time.Duration // Dial handshake limit
	PingInterval     time.Duration // How often we send a ping control frame
	PingTimeout      time.Duration // Max time without pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     15 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       4096,
	}
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	WSURL string // Empty disables streaming entirely

	ReconnectBaseDelay time.Duration // First backoff delay
	ReconnectMaxDelay  time.Duration // Backoff cap
	ReconnectFactor    float64       // Multiplier per consecutive failure
	Jitter             float64       // Fraction of the delay, applied +/-
	MaxAttempts        int           // Consecutive failed dials before failed state (0 = forever)

	QuietPeriod         time.Duration // No inbound frame for this long forces a reconnect
	FrameErrorThreshold int           // Malformed frames within FrameErrorWindow that force a reconnect
	FrameErrorWindow    time.Duration

	Client ClientConfig
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseDelay:  1 * time.Second,
		ReconnectMaxDelay:   30 * time.Second,
		ReconnectFactor:     2,
		Jitter:              0.2,
		QuietPeriod:         20 * time.Second,
		FrameErrorThreshold: 5,
		FrameErrorWindow:    10 * time.Second,
		Client:              DefaultClientConfig(),
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State           State  `json:"state"`
	StreamSymbols   int    `json:"stream_symbols"`
	Dials           int64  `json:"dials"`
	DialFailures    int64  `json:"dial_failures"`
	Opens           int64  `json:"opens"`
	FramesReceived  int64  `json:"frames_received"`
	FramesMalformed int64  `json:"frames_malformed"`
	SamplesReceived int64  `json:"samples_received"`
	Rejections      int64  `json:"rejections"`
	ControlSent     int64  `json:"control_sent"`
	LastError       string `json:"last_error,omitempty"`
}
