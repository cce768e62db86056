package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/cosmic-feed/internal/model"
	"github.com/rickgao/cosmic-feed/internal/router"
)

const insertItem = `
	INSERT INTO feed_items (id, resource, parent_id, created_at, read, payload)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO NOTHING
`

// Config holds writer configuration.
type Config struct {
	Resource      string        // Stored with every row
	BatchSize     int           // Rows per flush (default: 100)
	FlushInterval time.Duration // Max time a row waits (default: 1s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
	}
}

// Metrics contains writer counters.
type Metrics struct {
	Inserts   int64
	Conflicts int64 // Rows already archived
	Errors    int64 // Failed flushes
	Flushes   int64
	Dropped   int64 // Enqueued after Stop
}

// batchSender is the part of *pgxpool.Pool the writer uses.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type itemRow struct {
	ID        string
	Resource  string
	ParentID  string
	CreatedAt time.Time
	Read      bool
	Payload   []byte
}

// Writer archives items to the feed_items table.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	input *router.Queue[model.Item]
	db    batchSender

	// Batching
	batch       []itemRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	drained chan struct{}

	metrics Metrics
}

// New creates a Writer. db is usually a *pgxpool.Pool.
func New(cfg Config, db batchSender, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}

	return &Writer{
		cfg:    cfg,
		logger: logger,
		input:  router.NewQueue[model.Item](cfg.BatchSize),
		db:     db,
		batch:  make([]itemRow, 0, cfg.BatchSize),
	}
}

// Enqueue queues an item for archiving without blocking. It fits
// store.WithInsertHook.
func (w *Writer) Enqueue(item model.Item) {
	if !w.input.Push(item) {
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
	}
}

// Start begins consuming items and writing to the database. Writes keep
// going after ctx is canceled until Stop drains the queue.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)
	w.drained = make(chan struct{})

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued items, writes a final batch and shuts down.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	// The consumer drains what is queued, then exits.
	w.input.Close()

	if w.cancel != nil {
		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			w.logger.Warn("archive writer stop timed out")
		}

		w.flushTicker.Stop()
	}

	// Final flush
	w.flush(ctx)

	if w.cancel != nil {
		w.cancel()
	}

	w.logger.Info("archive writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input queue and accumulates batches until the
// queue is closed and drained.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()
	defer close(w.drained)

	for {
		item, ok := w.input.Pop()
		if !ok {
			return
		}
		w.handleItem(item)

		// Take whatever else is already queued in one lock.
		for _, item := range w.input.PopBatch(max(w.cfg.BatchSize-1, 1)) {
			w.handleItem(item)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.drained:
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleItem transforms and adds an item to the batch.
func (w *Writer) handleItem(item model.Item) {
	row := w.transform(item)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts an Item to an itemRow.
func (w *Writer) transform(item model.Item) itemRow {
	var payload []byte
	if len(item.Payload) > 0 {
		payload = item.Payload
	}
	return itemRow{
		ID:        item.ID,
		Resource:  w.cfg.Resource,
		ParentID:  item.ParentID,
		CreatedAt: item.CreatedAt.UTC(),
		Read:      item.Read,
		Payload:   payload,
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]itemRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed items",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []itemRow) (conflicts int, err error) {
	if w.db == nil {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertItem, r.ID, r.Resource, r.ParentID, r.CreatedAt, r.Read, r.Payload)
	}

	results := w.db.SendBatch(ctx, batch)
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
