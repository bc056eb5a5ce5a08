package poller

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/pricefeed/internal/model"
)

// Fetcher retrieves a ticker snapshot for one symbol.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, symbol string) (model.RawTicker, error)
}

// SampleHandler receives polled samples.
type SampleHandler interface {
	HandleSample(sample model.PriceSample)
}

// SampleHandlerFunc is a function adapter for SampleHandler.
type SampleHandlerFunc func(model.PriceSample)

func (f SampleHandlerFunc) HandleSample(s model.PriceSample) {
	f(s)
}

// Config holds poller configuration.
type Config struct {
	Concurrency int           // Max concurrent fetches across all symbols (default: 8)
	Timeout     time.Duration // Per-request timeout (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency: 8,
		Timeout:     5 * time.Second,
	}
}

// Stats holds poller counters.
type Stats struct {
	Active   int   `json:"active"`
	Fetches  int64 `json:"fetches"`
	Failures int64 `json:"failures"`
	Invalid  int64 `json:"invalid"`
	Samples  int64 `json:"samples"`
}

// job is one symbol's timer.
type job struct {
	interval time.Duration
	cancel   context.CancelFunc
}

// Poller runs per-symbol polling timers.
type Poller struct {
	cfg     Config
	fetcher Fetcher
	handler SampleHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sem    chan struct{}

	mu      sync.Mutex
	jobs    map[string]*job
	stopped bool

	fetches  atomic.Int64
	failures atomic.Int64
	invalid  atomic.Int64
	samples  atomic.Int64
}

// New creates a Poller. It accepts StartPolling calls immediately.
func New(cfg Config, fetcher Fetcher, handler SampleHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		handler: handler,
		logger:  logger.With("component", "poller"),
		ctx:     ctx,
		cancel:  cancel,
		sem:     make(chan struct{}, cfg.Concurrency),
		jobs:    make(map[string]*job),
	}
}

// StartPolling begins polling symbol every interval. A symbol that is
// already polled keeps its existing timer. Returns false after Stop.
func (p *Poller) StartPolling(symbol string, interval time.Duration) bool {
	if interval <= 0 {
		p.logger.Error("refusing to poll with non-positive interval", "symbol", symbol, "interval", interval)
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}
	if _, ok := p.jobs[symbol]; ok {
		return true
	}

	ctx, cancel := context.WithCancel(p.ctx)
	p.jobs[symbol] = &job{interval: interval, cancel: cancel}

	p.wg.Add(1)
	go p.run(ctx, symbol, interval)

	p.logger.Debug("polling started", "symbol", symbol, "interval", interval)
	return true
}

// StopPolling cancels the symbol's timer. Unknown symbols are a no-op.
func (p *Poller) StopPolling(symbol string) {
	p.mu.Lock()
	j, ok := p.jobs[symbol]
	if ok {
		delete(p.jobs, symbol)
	}
	p.mu.Unlock()

	if ok {
		j.cancel()
		p.logger.Debug("polling stopped", "symbol", symbol)
	}
}

// IsPolling reports whether symbol has an active timer.
func (p *Poller) IsPolling(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.jobs[symbol]
	return ok
}

// Interval returns the symbol's polling interval, if polled.
func (p *Poller) Interval(symbol string) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[symbol]
	if !ok {
		return 0, false
	}
	return j.interval, true
}

// Active returns the number of polled symbols.
func (p *Poller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// Symbols returns the polled symbols in sorted order.
func (p *Poller) Symbols() []string {
	p.mu.Lock()
	out := make([]string, 0, len(p.jobs))
	for s := range p.jobs {
		out = append(out, s)
	}
	p.mu.Unlock()

	sort.Strings(out)
	return out
}

// Stats returns poller counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Active:   p.Active(),
		Fetches:  p.fetches.Load(),
		Failures: p.failures.Load(),
		Invalid:  p.invalid.Load(),
		Samples:  p.samples.Load(),
	}
}

// Stop cancels every timer and waits for in-flight fetches. No handler call
// happens after Stop returns nil.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.jobs = make(map[string]*job)
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is one symbol's polling loop.
func (p *Poller) run(ctx context.Context, symbol string, interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.poll(ctx, symbol)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, symbol)
		}
	}
}

// poll fetches one snapshot and hands it to the handler.
func (p *Poller) poll(ctx context.Context, symbol string) {
	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	p.fetches.Add(1)
	raw, err := p.fetcher.FetchSnapshot(reqCtx, symbol)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.failures.Add(1)
		p.logger.Warn("failed to poll symbol", "symbol", symbol, "err", err)
		return
	}

	sample, err := raw.ToSample(model.SourcePoll)
	if err != nil {
		p.invalid.Add(1)
		p.logger.Warn("discarding invalid snapshot", "symbol", symbol, "err", err)
		return
	}

	p.samples.Add(1)
	if p.handler != nil {
		p.handler.HandleSample(sample)
	}
}
