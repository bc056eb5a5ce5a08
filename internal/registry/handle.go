package registry

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/pricefeed/internal/model"
)

// handle is one consumer's registration on one symbol.
type handle struct {
	id     uuid.UUID
	symbol string
	batch  bool
	cb     func(model.Update)

	// mu serializes deliveries; closed is separate so a callback may
	// unsubscribe itself without deadlocking.
	mu     sync.Mutex
	lastTS int64
	closed atomic.Bool
}

func newHandle(symbol string, batch bool, cb func(model.Update)) *handle {
	return &handle{
		id:     uuid.New(),
		symbol: symbol,
		batch:  batch,
		cb:     cb,
	}
}

// deliver invokes the callback unless the handle is closed or the update is
// not newer than the last one this handle saw.
func (h *handle) deliver(u model.Update) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed.Load() || u.Sample.Timestamp <= h.lastTS {
		return false
	}
	h.lastTS = u.Sample.Timestamp
	h.cb(u)
	return true
}

// batchSub aggregates member updates into one map for the caller.
type batchSub struct {
	cb func(map[string]model.PriceSample)

	mu     sync.Mutex
	values map[string]model.PriceSample
	closed atomic.Bool
}

// seed records a cached value without delivering. Newer live values win.
func (b *batchSub) seed(s model.PriceSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.values[s.Symbol]; !ok || cur.Timestamp < s.Timestamp {
		b.values[s.Symbol] = s
	}
}

// update merges one member sample and hands the caller a fresh copy.
func (b *batchSub) update(s model.PriceSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return
	}
	b.values[s.Symbol] = s
	b.cb(b.copyLocked())
}

// replay delivers the current map if any member has a value.
func (b *batchSub) replay() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() || len(b.values) == 0 {
		return
	}
	b.cb(b.copyLocked())
}

func (b *batchSub) copyLocked() map[string]model.PriceSample {
	out := make(map[string]model.PriceSample, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}
