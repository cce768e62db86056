package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/cosmic-feed/internal/api"
	"github.com/rickgao/cosmic-feed/internal/ingest"
	"github.com/rickgao/cosmic-feed/internal/model"
	"github.com/rickgao/cosmic-feed/internal/poller"
	"github.com/rickgao/cosmic-feed/internal/router"
	"github.com/rickgao/cosmic-feed/internal/store"
)

// Errors
var (
	ErrStopped        = errors.New("feed stopped")
	ErrNotStarted     = errors.New("feed not started")
	ErrAlreadyStarted = errors.New("feed already started")
	ErrNoIngestors    = errors.New("feed needs at least one ingestor")
	ErrLoading        = errors.New("page load already in progress")
	ErrExhausted      = errors.New("no more pages")
	ErrNoWriter       = errors.New("feed has no writer")
	ErrNotReadable    = errors.New("read state only exists for notifications")
)

// Fetcher loads pages. *api.Client satisfies it.
type Fetcher interface {
	FetchPage(ctx context.Context, res model.Resource, parentID string, cursor int) (*model.Page, error)
}

// Writer sends local changes upstream. *api.Client satisfies it.
type Writer interface {
	CreateItem(ctx context.Context, res model.Resource, parentID string, fields any) (model.Item, error)
	MarkRead(ctx context.Context, id string) error
}

// Store is the merge store the feed drives. *store.Store satisfies it.
type Store interface {
	Apply(ev store.Event)
	Snapshot() []model.Item
}

// Config holds feed configuration.
type Config struct {
	Resource      model.Resource
	ParentID      string
	FetchTimeout  time.Duration // Per page fetch (default: 15s)
	DegradeAfter  time.Duration // All ingestors down this long starts polling (0 = never)
	PollInterval  time.Duration // Fallback poll interval (default: 10s)
	CheckInterval time.Duration // How often ingestor health is evaluated (default: 1s)
	QueueCapacity int           // Initial event queue capacity (default: 64)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FetchTimeout:  15 * time.Second,
		PollInterval:  10 * time.Second,
		CheckInterval: time.Second,
		QueueCapacity: 64,
	}
}

// State is a point-in-time view for rendering.
type State struct {
	Loading    bool            // A page fetch is in flight
	Err        error           // Last fetch failure, cleared by the next success
	Connected  map[string]bool // Per ingestor name
	Degraded   bool            // Fetch-only fallback is active
	Exhausted  bool            // The last page has been fetched
	NextCursor int             // Cursor LoadMore will fetch
	Applied    int64           // Events applied to the store
	Pending    int             // Events queued but not yet applied
	Queue      router.QueueStats
	Polls      poller.Stats // Summed over every fetch-only period
}

// Option configures a Feed.
type Option func(*Feed)

// WithWriter enables Post and MarkRead.
func WithWriter(w Writer) Option {
	return func(f *Feed) {
		f.writer = w
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) {
		f.logger = logger
	}
}

// Feed owns the sources and the store of one parent.
type Feed struct {
	cfg       Config
	fetcher   Fetcher
	writer    Writer
	store     Store
	ingestors []ingest.Ingestor
	logger    *slog.Logger

	queue *router.Queue[store.Event]
	wake  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	started    bool
	stopped    bool
	loading    bool
	lastErr    error
	exhausted  bool
	nextCursor int

	degraded atomic.Bool
	applied  atomic.Int64

	pollMu    sync.Mutex
	polling   *poller.Poller
	pollTotal poller.Stats
}

// New creates a Feed. Nothing runs until Start.
func New(cfg Config, fetcher Fetcher, st Store, ingestors []ingest.Ingestor, opts ...Option) (*Feed, error) {
	if len(ingestors) == 0 {
		return nil, ErrNoIngestors
	}
	if cfg.ParentID == "" {
		return nil, errors.New("feed: parent id is required")
	}

	d := DefaultConfig()
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = d.FetchTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = d.CheckInterval
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = d.QueueCapacity
	}

	f := &Feed{
		cfg:        cfg,
		fetcher:    fetcher,
		store:      st,
		ingestors:  ingestors,
		logger:     slog.Default(),
		queue:      router.NewQueue[store.Event](cfg.QueueCapacity),
		wake:       make(chan struct{}, 1),
		nextCursor: api.FirstPage,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("resource", cfg.Resource.Name, "parent_id", cfg.ParentID)

	return f, nil
}

// Start connects every ingestor and requests the first page.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return ErrStopped
	}
	if f.started {
		f.mu.Unlock()
		return ErrAlreadyStarted
	}
	f.started = true
	f.ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(1)
	go f.applyLoop()

	for _, ing := range f.ingestors {
		f.wg.Add(1)
		go f.forward(ing)
	}

	if f.cfg.DegradeAfter > 0 {
		f.wg.Add(1)
		go f.monitor()
	}
	f.mu.Unlock()

	var g errgroup.Group
	for _, ing := range f.ingestors {
		g.Go(func() error {
			if err := ing.Connect(f.ctx); err != nil {
				return fmt.Errorf("connect %s: %w", ing.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.Stop(stopCtx)
		return err
	}

	f.logger.Info("feed started", "ingestors", len(f.ingestors))

	if err := f.LoadMore(); err != nil && !errors.Is(err, ErrLoading) {
		return err
	}
	return nil
}

// LoadMore fetches the next page. After a failure it retries the same cursor.
func (f *Feed) LoadMore() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case !f.started:
		return ErrNotStarted
	case f.stopped:
		return ErrStopped
	case f.loading:
		return ErrLoading
	case f.exhausted:
		return ErrExhausted
	}

	f.loading = true
	cursor := f.nextCursor

	f.wg.Add(1)
	go f.fetch(cursor)

	return nil
}

// fetch loads one page and queues it unless the feed stopped meanwhile.
func (f *Feed) fetch(cursor int) {
	defer f.wg.Done()

	ctx, cancel := context.WithTimeout(f.ctx, f.cfg.FetchTimeout)
	defer cancel()

	page, err := f.fetcher.FetchPage(ctx, f.cfg.Resource, f.cfg.ParentID, cursor)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.loading = false
	if f.stopped || f.ctx.Err() != nil {
		f.logger.Debug("discarding fetch result after stop", "page", cursor)
		return
	}

	if err != nil {
		f.lastErr = err
		f.logger.Warn("page fetch failed", "page", cursor, "error", err)
		return
	}

	if !f.queue.Push(store.PageEvent("fetch", *page)) {
		return
	}
	f.lastErr = nil
	f.nextCursor = page.Next()
	f.exhausted = page.Last

	f.logger.Debug("page fetched",
		"page", cursor,
		"items", len(page.Items),
		"last", page.Last,
	)
}

// Snapshot returns the merged, ordered items.
func (f *Feed) Snapshot() []model.Item {
	return f.store.Snapshot()
}

// State returns the current view state.
func (f *Feed) State() State {
	connected := make(map[string]bool, len(f.ingestors))
	for _, ing := range f.ingestors {
		connected[ing.Name()] = ing.IsConnected()
	}

	polls := f.pollStats()
	qs := f.queue.Stats()

	f.mu.Lock()
	defer f.mu.Unlock()

	return State{
		Loading:    f.loading,
		Err:        f.lastErr,
		Connected:  connected,
		Degraded:   f.degraded.Load(),
		Exhausted:  f.exhausted,
		NextCursor: f.nextCursor,
		Applied:    f.applied.Load(),
		Pending:    qs.Len,
		Queue:      qs,
		Polls:      polls,
	}
}

// Post creates an item upstream and queues the returned row so it shows up
// before the push echo; the echo is then a duplicate.
func (f *Feed) Post(ctx context.Context, fields any) (model.Item, error) {
	if f.writer == nil {
		return model.Item{}, ErrNoWriter
	}

	item, err := f.writer.CreateItem(ctx, f.cfg.Resource, f.cfg.ParentID, fields)
	if err != nil {
		return model.Item{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped || f.ctx == nil || f.ctx.Err() != nil {
		return item, nil
	}
	f.queue.Push(store.ItemEvent("post", item))

	return item, nil
}

// MarkRead marks a notification read upstream, then queues the local change
// behind any pending insert of the same item.
func (f *Feed) MarkRead(ctx context.Context, id string) error {
	if f.cfg.Resource.Name != model.Notifications.Name {
		return ErrNotReadable
	}
	if f.writer == nil {
		return ErrNoWriter
	}

	f.mu.Lock()
	started, stopped := f.started, f.stopped
	f.mu.Unlock()
	switch {
	case !started:
		return ErrNotStarted
	case stopped:
		return ErrStopped
	}

	if err := f.writer.MarkRead(ctx, id); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped || f.ctx.Err() != nil {
		return nil
	}
	f.queue.Push(store.ReadEvent("mark_read", id))
	return nil
}

// Stop tears the feed down: cancels in-flight fetches, closes every ingestor,
// stops the fallback poller and waits for all goroutines.
func (f *Feed) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	started := f.started
	if started {
		f.cancel()
	}
	f.mu.Unlock()

	if !started {
		return nil
	}

	f.logger.Info("stopping feed")

	f.queue.Close()

	var errs []error
	for _, ing := range f.ingestors {
		if err := ing.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ing.Name(), err))
		}
	}

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		f.logger.Warn("shutdown timeout, forcing close")
		errs = append(errs, ctx.Err())
	}

	f.logger.Info("feed stopped", "applied", f.applied.Load())
	return errors.Join(errs...)
}

// applyLoop is the only caller of Store.Apply.
func (f *Feed) applyLoop() {
	defer f.wg.Done()

	for {
		ev, ok := f.queue.Pop()
		if !ok {
			return
		}
		if f.ctx.Err() != nil {
			continue
		}
		f.store.Apply(ev)
		f.applied.Add(1)
	}
}

// forward queues an ingestor's items and relays its state changes.
func (f *Feed) forward(ing ingest.Ingestor) {
	defer f.wg.Done()

	items := ing.Items()
	states := ing.States()
	name := ing.Name()

	for {
		select {
		case <-f.ctx.Done():
			return

		case item, ok := <-items:
			if !ok {
				return
			}
			f.queue.Push(store.ItemEvent(name, item))

		case up := <-states:
			if up {
				f.logger.Info("source connected", "source", name)
			} else {
				f.logger.Warn("source disconnected", "source", name)
			}
			select {
			case f.wake <- struct{}{}:
			default:
			}
		}
	}
}

func (f *Feed) anyConnected() bool {
	for _, ing := range f.ingestors {
		if ing.IsConnected() {
			return true
		}
	}
	return false
}

// monitor switches the fetch-only fallback on and off.
func (f *Feed) monitor() {
	defer f.wg.Done()

	var p *poller.Poller
	defer func() {
		if p != nil {
			f.stopPolling(p)
		}
	}()

	ticker := time.NewTicker(f.cfg.CheckInterval)
	defer ticker.Stop()

	var downSince time.Time

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
		case <-f.wake:
		}

		now := time.Now()
		switch {
		case f.anyConnected():
			downSince = time.Time{}
			if p != nil {
				f.stopPolling(p)
				p = nil
				f.logger.Info("push source back, leaving fetch-only mode")
			}
		case downSince.IsZero():
			downSince = now
		case p == nil && now.Sub(downSince) >= f.cfg.DegradeAfter:
			f.logger.Warn("all push sources down, switching to fetch-only mode",
				"down_for", now.Sub(downSince),
				"poll_interval", f.cfg.PollInterval,
			)
			p = f.startPolling()
		}
	}
}

func (f *Feed) startPolling() *poller.Poller {
	cfg := poller.DefaultConfig()
	cfg.Interval = f.cfg.PollInterval
	cfg.Timeout = f.cfg.FetchTimeout

	p := poller.New(cfg, f.fetcher, f.cfg.Resource, f.cfg.ParentID,
		poller.PageHandlerFunc(f.handlePolled), f.logger.With("component", "poller"))
	p.Start(f.ctx)
	f.pollMu.Lock()
	f.polling = p
	f.pollMu.Unlock()
	f.degraded.Store(true)
	return p
}

func (f *Feed) stopPolling(p *poller.Poller) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		f.logger.Warn("poller stop timed out", "error", err)
	}

	ps := p.Stats()
	f.pollMu.Lock()
	f.polling = nil
	f.pollTotal.Cycles += ps.Cycles
	f.pollTotal.Fetched += ps.Fetched
	f.pollTotal.Errors += ps.Errors
	f.pollMu.Unlock()
	f.degraded.Store(false)
}

// pollStats returns the fallback counters, including a running poller.
func (f *Feed) pollStats() poller.Stats {
	f.pollMu.Lock()
	defer f.pollMu.Unlock()

	total := f.pollTotal
	if f.polling != nil {
		ps := f.polling.Stats()
		total.Cycles += ps.Cycles
		total.Fetched += ps.Fetched
		total.Errors += ps.Errors
	}
	return total
}

func (f *Feed) handlePolled(page model.Page) error {
	if f.ctx.Err() != nil || !f.queue.Push(store.PageEvent("poller", page)) {
		return ErrStopped
	}
	return nil
}
