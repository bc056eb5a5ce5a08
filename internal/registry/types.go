package registry

import (
	"time"

	"github.com/rickgao/pricefeed/internal/model"
)

// DeliveryMode is how a subscribed symbol receives samples.
type DeliveryMode int

const (
	// ModeStream delivers over the shared stream only.
	ModeStream DeliveryMode = iota
	// ModePoll delivers over periodic snapshot fetches only.
	ModePoll
	// ModeHybrid is stream mode with the poller running while the stream is down.
	ModeHybrid
)

func (m DeliveryMode) String() string {
	switch m {
	case ModeStream:
		return "stream"
	case ModePoll:
		return "poll"
	case ModeHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// MarshalText renders the mode by name in JSON.
func (m DeliveryMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m DeliveryMode) streams() bool { return m == ModeStream || m == ModeHybrid }
func (m DeliveryMode) polls() bool   { return m == ModePoll || m == ModeHybrid }

// Unsubscribe tears down one subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// StreamManager is the part of the connection manager the registry drives.
type StreamManager interface {
	Subscribe(symbol string)
	Unsubscribe(symbol string)
	Enabled() bool
}

// Poller is the part of the fallback poller the registry drives.
type Poller interface {
	StartPolling(symbol string, interval time.Duration) bool
	StopPolling(symbol string)
}

// Classifier maps a symbol to its asset class.
type Classifier interface {
	Classify(symbol string) model.AssetClass
}

// Config holds registry configuration.
type Config struct {
	CryptoInterval  time.Duration // Hybrid safety net and poll-only crypto (default: 5s)
	FuturesInterval time.Duration // Default: 5s
	EquityInterval  time.Duration // Default: 10s
	QueueCapacity   int           // Initial event queue capacity (default: 1024)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CryptoInterval:  5 * time.Second,
		FuturesInterval: 5 * time.Second,
		EquityInterval:  10 * time.Second,
		QueueCapacity:   1024,
	}
}

// IntervalFor returns the poll interval for an asset class.
func (c Config) IntervalFor(class model.AssetClass) time.Duration {
	switch class {
	case model.AssetFutures:
		return c.FuturesInterval
	case model.AssetEquity:
		return c.EquityInterval
	default:
		return c.CryptoInterval
	}
}

// Stats contains registry statistics.
type Stats struct {
	Symbols         int                  `json:"symbols"`
	Handles         int                  `json:"handles"`
	BatchMembers    int                  `json:"batch_members"`
	Modes           map[DeliveryMode]int `json:"modes"`
	StreamUp        bool                 `json:"stream_up"`
	Rejected        int                  `json:"rejected"`
	QueueDepth      int                  `json:"queue_depth"`
	SamplesAccepted int64                `json:"samples_accepted"`
	SamplesStale    int64                `json:"samples_stale"`
	SamplesOrphaned int64                `json:"samples_orphaned"`
	Deliveries      int64                `json:"deliveries"`
	Transitions     int64                `json:"transitions"`
}
