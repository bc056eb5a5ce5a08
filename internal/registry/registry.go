package registry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/pricefeed/internal/cache"
	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/queue"
)

type eventKind int

const (
	eventSample eventKind = iota
	eventOpen
	eventClose
	eventRejected
)

// event is one unit of work for the registry loop.
type event struct {
	kind   eventKind
	sample model.PriceSample
	symbol string
	reason string
	err    error
}

// entry is one subscribed symbol.
type entry struct {
	symbol  string
	class   model.AssetClass
	mode    DeliveryMode
	handles map[uuid.UUID]*handle
}

// Registry tracks subscriptions and applies inbound samples.
type Registry struct {
	cfg        Config
	cache      *cache.PriceCache
	stream     StreamManager
	poller     Poller
	classifier Classifier
	logger     *slog.Logger

	events *queue.Queue[event]
	done   chan struct{}

	mu       sync.Mutex
	entries  map[string]*entry
	rejected map[string]struct{}
	streamUp bool
	started  bool
	stopped  bool

	accepted    atomic.Int64
	stale       atomic.Int64
	orphaned    atomic.Int64
	deliveries  atomic.Int64
	transitions atomic.Int64
}

// New creates a Registry. Call Start before samples are expected.
func New(cfg Config, c *cache.PriceCache, stream StreamManager, poller Poller, classifier Classifier, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}

	return &Registry{
		cfg:        cfg,
		cache:      c,
		stream:     stream,
		poller:     poller,
		classifier: classifier,
		logger:     logger.With("component", "registry"),
		events:     queue.New[event](cfg.QueueCapacity),
		done:       make(chan struct{}),
		entries:    make(map[string]*entry),
		rejected:   make(map[string]struct{}),
	}
}

// Start launches the event loop.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	r.started = true

	go r.run()

	r.logger.Info("registry started")
	return nil
}

// Stop closes every handle, drains queued events and waits for the loop.
// No callback starts after Stop returns nil.
//
// Callbacks run on the loop Stop waits for, so Stop called from inside a
// callback cannot finish: it closes every handle, then returns ctx.Err() once
// ctx ends, and the loop exits after that callback returns. Call Stop from
// another goroutine instead.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	started := r.started
	for _, e := range r.entries {
		for _, h := range e.handles {
			h.closed.Store(true)
		}
	}
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	r.events.Close()
	if !started {
		return nil
	}

	select {
	case <-r.done:
		r.logger.Info("registry stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers cb for symbol and replays the cached value, if any,
// with neutral direction before returning.
func (r *Registry) Subscribe(symbol string, cb func(model.Update)) Unsubscribe {
	symbol = normalize(symbol)
	if symbol == "" || cb == nil {
		return func() {}
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return func() {}
	}
	h := r.addHandleLocked(symbol, false, cb)
	cached, ok := r.cache.Get(symbol)
	r.mu.Unlock()

	if ok && h.deliver(model.Update{Sample: cached, Direction: model.DirectionNeutral}) {
		r.deliveries.Add(1)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.closed.Store(true)
			r.mu.Lock()
			r.removeHandleLocked(h)
			r.mu.Unlock()
		})
	}
}

// SubscribeBatch registers one member per distinct symbol and delivers the
// merged map on every member change. The initial map is delivered before
// returning when any member is cached. Teardown removes every member at once.
func (r *Registry) SubscribeBatch(symbols []string, cb func(map[string]model.PriceSample)) Unsubscribe {
	if cb == nil {
		return func() {}
	}

	seen := make(map[string]struct{}, len(symbols))
	distinct := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = normalize(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		distinct = append(distinct, s)
	}
	if len(distinct) == 0 {
		return func() {}
	}

	b := &batchSub{cb: cb, values: make(map[string]model.PriceSample, len(distinct))}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return func() {}
	}
	members := make([]*handle, 0, len(distinct))
	for _, s := range distinct {
		members = append(members, r.addHandleLocked(s, true, func(u model.Update) {
			b.update(u.Sample)
		}))
		if cached, ok := r.cache.Get(s); ok {
			b.seed(cached)
		}
	}
	r.mu.Unlock()

	b.replay()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.closed.Store(true)
			r.mu.Lock()
			for _, h := range members {
				h.closed.Store(true)
				r.removeHandleLocked(h)
			}
			r.mu.Unlock()
		})
	}
}

// Refcount returns the number of live handles on symbol.
func (r *Registry) Refcount(symbol string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[normalize(symbol)]; ok {
		return len(e.handles)
	}
	return 0
}

// Mode returns the symbol's delivery mode, if subscribed.
func (r *Registry) Mode(symbol string) (DeliveryMode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[normalize(symbol)]; ok {
		return e.mode, true
	}
	return 0, false
}

// Symbols returns subscribed symbols in sorted order.
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.entries))
	for s := range r.entries {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Strings(out)
	return out
}

// StreamUp reports the registry's view of the stream.
func (r *Registry) StreamUp() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streamUp
}

// Stats returns registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	st := Stats{
		Symbols:  len(r.entries),
		Modes:    make(map[DeliveryMode]int),
		StreamUp: r.streamUp,
		Rejected: len(r.rejected),
	}
	for _, e := range r.entries {
		st.Modes[e.mode]++
		st.Handles += len(e.handles)
		for _, h := range e.handles {
			if h.batch {
				st.BatchMembers++
			}
		}
	}
	r.mu.Unlock()

	st.QueueDepth = r.events.Len()
	st.SamplesAccepted = r.accepted.Load()
	st.SamplesStale = r.stale.Load()
	st.SamplesOrphaned = r.orphaned.Load()
	st.Deliveries = r.deliveries.Load()
	st.Transitions = r.transitions.Load()
	return st
}

// Inbound events. These only enqueue and never block.

// OnOpen records that the stream opened.
func (r *Registry) OnOpen() {
	r.events.Push(event{kind: eventOpen})
}

// OnClose records that the stream closed.
func (r *Registry) OnClose(reason error) {
	r.events.Push(event{kind: eventClose, err: reason})
}

// OnSample queues a streamed sample.
func (r *Registry) OnSample(s model.PriceSample) {
	r.events.Push(event{kind: eventSample, sample: s})
}

// OnRejected queues a stream rejection for symbol.
func (r *Registry) OnRejected(symbol, reason string) {
	r.events.Push(event{kind: eventRejected, symbol: normalize(symbol), reason: reason})
}

// HandleSample queues a polled sample.
func (r *Registry) HandleSample(s model.PriceSample) {
	r.events.Push(event{kind: eventSample, sample: s})
}

// addHandleLocked registers a handle, activating the symbol on 0->1. Caller holds r.mu.
func (r *Registry) addHandleLocked(symbol string, batch bool, cb func(model.Update)) *handle {
	e, ok := r.entries[symbol]
	if !ok {
		class := r.classifier.Classify(symbol)
		e = &entry{
			symbol:  symbol,
			class:   class,
			mode:    r.resolveModeLocked(symbol, class),
			handles: make(map[uuid.UUID]*handle),
		}
		r.entries[symbol] = e
	}

	h := newHandle(symbol, batch, cb)
	e.handles[h.id] = h

	if len(e.handles) == 1 {
		r.activateLocked(e)
	}
	return h
}

// removeHandleLocked drops a handle, deactivating the symbol on 1->0. Caller holds r.mu.
func (r *Registry) removeHandleLocked(h *handle) {
	e, ok := r.entries[h.symbol]
	if !ok {
		return
	}
	if _, ok := e.handles[h.id]; !ok {
		return
	}
	delete(e.handles, h.id)

	if len(e.handles) == 0 {
		r.deactivateLocked(e)
		delete(r.entries, e.symbol)
	}
}

func (r *Registry) resolveModeLocked(symbol string, class model.AssetClass) DeliveryMode {
	if !class.Streamable() || !r.stream.Enabled() {
		return ModePoll
	}
	if _, bad := r.rejected[symbol]; bad {
		return ModePoll
	}
	if r.streamUp {
		return ModeStream
	}
	return ModeHybrid
}

func (r *Registry) activateLocked(e *entry) {
	if e.mode.streams() {
		r.stream.Subscribe(e.symbol)
	}
	if e.mode.polls() {
		r.poller.StartPolling(e.symbol, r.cfg.IntervalFor(e.class))
	}
	r.logger.Debug("symbol activated", "symbol", e.symbol, "class", e.class, "mode", e.mode)
}

func (r *Registry) deactivateLocked(e *entry) {
	if e.mode.streams() {
		r.stream.Unsubscribe(e.symbol)
	}
	if e.mode.polls() {
		r.poller.StopPolling(e.symbol)
	}
	r.logger.Debug("symbol deactivated", "symbol", e.symbol, "mode", e.mode)
}

// run applies queued events in order until the queue is closed and drained.
func (r *Registry) run() {
	defer close(r.done)

	for {
		ev, ok := r.events.Pop()
		if !ok {
			return
		}

		switch ev.kind {
		case eventSample:
			r.applySample(ev.sample)
		case eventOpen:
			r.applyOpen()
		case eventClose:
			r.applyClose(ev.err)
		case eventRejected:
			r.applyRejected(ev.symbol, ev.reason)
		}
	}
}

func (r *Registry) applySample(s model.PriceSample) {
	r.mu.Lock()
	e, ok := r.entries[s.Symbol]
	if !ok {
		r.mu.Unlock()
		r.orphaned.Add(1)
		return
	}

	res := r.cache.Update(s)
	if !res.Accepted {
		r.mu.Unlock()
		r.stale.Add(1)
		return
	}

	handles := make([]*handle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	r.accepted.Add(1)
	u := model.Update{Sample: s, Direction: res.Direction}
	for _, h := range handles {
		if h.deliver(u) {
			r.deliveries.Add(1)
		}
	}
}

// applyOpen moves hybrid symbols to pure stream and stops their polling.
func (r *Registry) applyOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.streamUp {
		return
	}
	r.streamUp = true
	r.transitions.Add(1)

	moved := 0
	for _, e := range r.entries {
		if e.mode == ModeHybrid {
			e.mode = ModeStream
			r.poller.StopPolling(e.symbol)
			moved++
		}
	}
	r.logger.Info("stream open, hybrid polling stopped", "symbols", moved)
}

// applyClose moves stream symbols to hybrid and starts their safety-net polling.
func (r *Registry) applyClose(reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.streamUp {
		return
	}
	r.streamUp = false
	r.transitions.Add(1)

	moved := 0
	for _, e := range r.entries {
		if e.mode == ModeStream {
			e.mode = ModeHybrid
			r.poller.StartPolling(e.symbol, r.cfg.IntervalFor(e.class))
			moved++
		}
	}
	r.logger.Warn("stream down, hybrid polling started", "symbols", moved, "reason", reason)
}

// applyRejected pins symbol to poll mode for the rest of the process.
func (r *Registry) applyRejected(symbol, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rejected[symbol] = struct{}{}

	e, ok := r.entries[symbol]
	if !ok || e.mode == ModePoll {
		return
	}

	prev := e.mode
	e.mode = ModePoll
	r.stream.Unsubscribe(symbol)
	r.poller.StartPolling(symbol, r.cfg.IntervalFor(e.class))
	r.logger.Warn("symbol not streamable, polling instead", "symbol", symbol, "from", prev, "reason", reason)
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
