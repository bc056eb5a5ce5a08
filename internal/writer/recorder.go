package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/pricefeed/internal/dispatcher"
	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/queue"
)

// BatchSender sends a pgx batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Subscriber is the part of the dispatcher the recorder consumes.
type Subscriber interface {
	Subscribe(symbol string, cb func(model.Update)) dispatcher.Unsubscribe
}

// Config holds recorder settings.
type Config struct {
	Symbols       []string
	BatchSize     int           // Rows per insert batch (default: 500)
	FlushInterval time.Duration // Max time a row waits (default: 1s)
	BufferSize    int           // Initial queue capacity (default: 10000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Metrics tracks recorder throughput.
type Metrics struct {
	Received  int64 `json:"received"`
	Inserts   int64 `json:"inserts"`
	Conflicts int64 `json:"conflicts"`
	Errors    int64 `json:"errors"`
	Flushes   int64 `json:"flushes"`
}

// sampleRow is one price_samples row.
type sampleRow struct {
	ExchangeTs         time.Time
	ReceivedAt         time.Time
	Symbol             string
	Price              float64
	PriceChange        float64
	PriceChangePercent float64
	High24h            *float64
	Low24h             *float64
	Volume24h          string
	Source             string
}

const insertSample = `
	INSERT INTO price_samples (exchange_ts, received_at, symbol, price, price_change, price_change_percent, high_24h, low_24h, volume_24h, source)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (symbol, exchange_ts) DO NOTHING
`

// Recorder persists every accepted sample for its symbols.
type Recorder struct {
	cfg    Config
	logger *slog.Logger
	db     BatchSender
	feed   Subscriber
	now    func() time.Time

	input  *queue.Queue[sampleRow]
	unsubs []dispatcher.Unsubscribe

	batch   []sampleRow
	batchMu sync.Mutex
	metrics Metrics

	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRecorder creates a Recorder. Nothing is subscribed until Start.
func NewRecorder(cfg Config, feed Subscriber, db BatchSender, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return &Recorder{
		cfg:    cfg,
		logger: logger.With("component", "recorder"),
		db:     db,
		feed:   feed,
		now:    time.Now,
		input:  queue.New[sampleRow](cfg.BufferSize),
		stop:   make(chan struct{}),
		batch:  make([]sampleRow, 0, cfg.BatchSize),
	}
}

// Start subscribes to every configured symbol and begins writing.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.consumeLoop()
	go r.flushLoop()

	for _, sym := range r.cfg.Symbols {
		r.unsubs = append(r.unsubs, r.feed.Subscribe(sym, r.onUpdate))
	}

	r.logger.Info("recorder started",
		"symbols", len(r.cfg.Symbols),
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop unsubscribes, drains what was queued and flushes it.
func (r *Recorder) Stop(ctx context.Context) error {
	stopped := false
	r.stopOnce.Do(func() { stopped = true })
	if !stopped {
		return nil
	}
	r.logger.Info("stopping recorder")

	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
	r.input.Close()
	close(r.stop)

	// Wait for the consumer to drain the queue
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
		err = ctx.Err()
	}

	// Final flush runs on the caller's context so shutdown can still write.
	r.flushWith(ctx)
	if r.cancel != nil {
		r.cancel()
	}

	r.logger.Info("recorder stopped")
	return err
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

// onUpdate runs on the dispatcher's delivery goroutine and must not block.
func (r *Recorder) onUpdate(u model.Update) {
	r.input.Push(r.transform(u.Sample))
}

// consumeLoop moves queued rows into the batch until the queue closes.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		row, ok := r.input.Pop()
		if !ok {
			return
		}
		r.handleRow(row)
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *Recorder) handleRow(row sampleRow) {
	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	r.metrics.Received++
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush()
	}
}

func (r *Recorder) transform(s model.PriceSample) sampleRow {
	return sampleRow{
		ExchangeTs:         time.UnixMilli(s.Timestamp).UTC(),
		ReceivedAt:         r.now().UTC(),
		Symbol:             s.Symbol,
		Price:              s.Price,
		PriceChange:        s.PriceChange,
		PriceChangePercent: s.PriceChangePercent,
		High24h:            s.High24h,
		Low24h:             s.Low24h,
		Volume24h:          s.Volume24h,
		Source:             string(s.Source),
	}
}

func (r *Recorder) flush() {
	r.flushWith(r.ctx)
}

// flushWith writes the current batch to the database.
func (r *Recorder) flushWith(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]sampleRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	conflicts, err := r.batchInsert(ctx, batch)
	if err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch) - conflicts)
	r.metrics.Conflicts += int64(conflicts)
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed samples",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *Recorder) batchInsert(ctx context.Context, rows []sampleRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insertSample,
			row.ExchangeTs, row.ReceivedAt, row.Symbol, row.Price, row.PriceChange,
			row.PriceChangePercent, row.High24h, row.Low24h, row.Volume24h, row.Source)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
