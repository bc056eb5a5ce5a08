package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rickgao/pricefeed/internal/cache"
	"github.com/rickgao/pricefeed/internal/connection"
	"github.com/rickgao/pricefeed/internal/market"
	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/poller"
	"github.com/rickgao/pricefeed/internal/registry"
)

// Unsubscribe tears down one subscription. Safe to call more than once.
type Unsubscribe = registry.Unsubscribe

// Config wires the component configs together.
type Config struct {
	Manager  connection.ManagerConfig
	Poller   poller.Config
	Registry registry.Config

	// Instrument lists that override shape-based classification.
	Futures  []string
	Equities []string
}

// DefaultConfig returns sensible defaults with streaming disabled.
func DefaultConfig() Config {
	return Config{
		Manager:  connection.DefaultManagerConfig(),
		Poller:   poller.DefaultConfig(),
		Registry: registry.DefaultConfig(),
	}
}

// Stats aggregates component statistics for health endpoints.
type Stats struct {
	Connected  bool                    `json:"connected"`
	Streaming  bool                    `json:"streaming"`
	Connection connection.ManagerStats `json:"connection"`
	Registry   registry.Stats          `json:"registry"`
	Poller     poller.Stats            `json:"poller"`
	Cache      cache.Stats             `json:"cache"`
}

// Healthy reports whether prices are flowing: the stream is open, streaming
// is disabled, or at least one symbol is being polled.
func (s Stats) Healthy() bool {
	return !s.Streaming || s.Connected || s.Poller.Active > 0
}

// Dispatcher owns the cache, connection manager, poller and registry.
type Dispatcher struct {
	logger *slog.Logger

	cache      *cache.PriceCache
	classifier *market.Classifier
	manager    connection.Manager
	poller     *poller.Poller
	registry   *registry.Registry

	mu      sync.Mutex
	started bool
	closed  bool
}

// New builds a Dispatcher. fetcher serves snapshot polls; parser speaks the
// stream's wire format.
func New(cfg Config, fetcher poller.Fetcher, parser connection.Parser, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return newDispatcher(cfg, fetcher, connection.NewManager(cfg.Manager, parser, logger), logger)
}

func newDispatcher(cfg Config, fetcher poller.Fetcher, manager connection.Manager, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		logger:     logger.With("component", "dispatcher"),
		cache:      cache.New(),
		classifier: market.NewClassifier(cfg.Futures, cfg.Equities),
		manager:    manager,
	}

	// The poller reports into the registry, which is built with the poller.
	var reg *registry.Registry
	d.poller = poller.New(cfg.Poller, fetcher, poller.SampleHandlerFunc(func(s model.PriceSample) {
		reg.HandleSample(s)
	}), logger)
	reg = registry.New(cfg.Registry, d.cache, manager, d.poller, d.classifier, logger)
	d.registry = reg

	manager.SetHandler(reg)
	return d
}

// Start begins event processing and, when configured, streaming.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return connection.ErrAlreadyClosed
	}
	if d.started {
		return nil
	}

	if err := d.registry.Start(ctx); err != nil {
		return fmt.Errorf("start registry: %w", err)
	}
	if err := d.manager.Start(ctx); err != nil {
		return fmt.Errorf("start connection: %w", err)
	}
	d.started = true

	d.logger.Info("dispatcher started", "streaming", d.manager.Enabled())
	return nil
}

// Close shuts down the connection, every poll timer and the registry loop,
// in that order. No callback runs after Close returns nil.
//
// Do not call Close from a subscriber callback: the callback runs on the
// registry loop Close waits for, so Close returns only when ctx ends.
// Use `go d.Close(ctx)` there.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	var errs []error
	if err := d.manager.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop connection: %w", err))
	}
	if err := d.poller.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop poller: %w", err))
	}
	if err := d.registry.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop registry: %w", err))
	}

	d.logger.Info("dispatcher closed")
	return errors.Join(errs...)
}

// Subscribe delivers every accepted sample for symbol to cb, starting with
// the cached value if there is one.
func (d *Dispatcher) Subscribe(symbol string, cb func(model.Update)) Unsubscribe {
	return d.registry.Subscribe(symbol, cb)
}

// SubscribeBatch delivers a map of the latest sample per symbol on every change.
func (d *Dispatcher) SubscribeBatch(symbols []string, cb func(map[string]model.PriceSample)) Unsubscribe {
	return d.registry.SubscribeBatch(symbols, cb)
}

// GetLast returns the last accepted sample for symbol.
func (d *Dispatcher) GetLast(symbol string) (model.PriceSample, bool) {
	return d.cache.Get(strings.ToUpper(strings.TrimSpace(symbol)))
}

// IsConnected reports whether the shared stream is open.
func (d *Dispatcher) IsConnected() bool {
	return d.manager.State() == connection.StateOpen
}

// ConnectionState returns the stream's lifecycle state.
func (d *Dispatcher) ConnectionState() connection.State {
	return d.manager.State()
}

// StreamingEnabled reports whether a stream endpoint is configured.
func (d *Dispatcher) StreamingEnabled() bool {
	return d.manager.Enabled()
}

// Classify returns the asset class used to pick delivery for symbol.
func (d *Dispatcher) Classify(symbol string) model.AssetClass {
	return d.classifier.Classify(symbol)
}

// Stats aggregates component statistics.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Connected:  d.IsConnected(),
		Streaming:  d.manager.Enabled(),
		Connection: d.manager.Stats(),
		Registry:   d.registry.Stats(),
		Poller:     d.poller.Stats(),
		Cache:      d.cache.Stats(),
	}
}
