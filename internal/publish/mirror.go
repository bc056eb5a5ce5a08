package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/pricefeed/internal/dispatcher"
	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/queue"
)

// Publisher sends one update to a backend.
type Publisher interface {
	Publish(ctx context.Context, u model.Update) error
	Close() error
}

// Subscriber is the part of the dispatcher a Mirror consumes.
type Subscriber interface {
	Subscribe(symbol string, cb func(model.Update)) dispatcher.Unsubscribe
}

// Message is the JSON body written to every backend.
type Message struct {
	model.PriceSample
	Direction model.Direction `json:"direction"`
}

func encode(u model.Update) ([]byte, error) {
	return json.Marshal(Message{PriceSample: u.Sample, Direction: u.Direction})
}

// Stats reports mirror throughput.
type Stats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
}

// Mirror forwards updates for its symbols to a Publisher.
type Mirror struct {
	name    string
	symbols []string
	feed    Subscriber
	pub     Publisher
	timeout time.Duration
	logger  *slog.Logger

	input  *queue.Queue[model.Update]
	unsubs []dispatcher.Unsubscribe
	done   chan struct{}

	started   atomic.Bool
	published atomic.Int64
	failed    atomic.Int64
	stopOnce  sync.Once
}

// NewMirror builds a Mirror; name labels its logs.
func NewMirror(name string, symbols []string, feed Subscriber, pub Publisher, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		name:    name,
		symbols: symbols,
		feed:    feed,
		pub:     pub,
		timeout: 5 * time.Second,
		logger:  logger.With("component", "mirror", "sink", name),
		input:   queue.New[model.Update](256),
		done:    make(chan struct{}),
	}
}

// Start subscribes to every symbol and begins publishing.
func (m *Mirror) Start(ctx context.Context) error {
	m.started.Store(true)
	go m.run(ctx)
	for _, sym := range m.symbols {
		m.unsubs = append(m.unsubs, m.feed.Subscribe(sym, func(u model.Update) {
			m.input.Push(u)
		}))
	}
	m.logger.Info("mirror started", "symbols", len(m.symbols))
	return nil
}

// Stop unsubscribes, publishes what is queued, then closes the publisher.
func (m *Mirror) Stop(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		for _, unsub := range m.unsubs {
			unsub()
		}
		m.input.Close()

		if m.started.Load() {
			select {
			case <-m.done:
			case <-ctx.Done():
				m.logger.Warn("mirror stop timed out", "pending", m.input.Len())
				err = ctx.Err()
			}
		}
		if cerr := m.pub.Close(); cerr != nil && err == nil {
			err = cerr
		}
		m.logger.Info("mirror stopped", "published", m.published.Load(), "failed", m.failed.Load())
	})
	return err
}

// Stats returns mirror counters.
func (m *Mirror) Stats() Stats {
	return Stats{
		Published: m.published.Load(),
		Failed:    m.failed.Load(),
		Pending:   m.input.Len(),
	}
}

func (m *Mirror) run(ctx context.Context) {
	defer close(m.done)

	for {
		u, ok := m.input.Pop()
		if !ok {
			return
		}
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		err := m.pub.Publish(pctx, u)
		cancel()

		if err != nil {
			m.failed.Add(1)
			m.logger.Warn("publish failed", "symbol", u.Sample.Symbol, "error", err)
			continue
		}
		m.published.Add(1)
	}
}
