package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rickgao/cosmic-feed/internal/model"
)

// PageFetcher fetches one page of a parent's items.
type PageFetcher interface {
	FetchPage(ctx context.Context, res model.Resource, parentID string, cursor int) (*model.Page, error)
}

// PageHandler receives fetched pages.
type PageHandler interface {
	HandlePage(page model.Page) error
}

// PageHandlerFunc is a function adapter for PageHandler.
type PageHandlerFunc func(model.Page) error

func (f PageHandlerFunc) HandlePage(p model.Page) error {
	return f(p)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 10s)
	Pages       int           // Newest pages refetched per cycle (default: 1)
	Concurrency int           // Max concurrent requests (default: 4)
	Timeout     time.Duration // Per-request timeout (default: 15s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    10 * time.Second,
		Pages:       1,
		Concurrency: 4,
		Timeout:     15 * time.Second,
	}
}

// Stats contains poller counters.
type Stats struct {
	Cycles  int64
	Fetched int64
	Errors  int64
}

// Poller periodically refetches the newest pages of one parent.
type Poller struct {
	cfg      Config
	fetcher  PageFetcher
	res      model.Resource
	parentID string
	handler  PageHandler
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles  atomic.Int64
	fetched atomic.Int64
	errors  atomic.Int64
}

// New creates a new Poller.
func New(cfg Config, fetcher PageFetcher, res model.Resource, parentID string, handler PageHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Pages <= 0 {
		cfg.Pages = d.Pages
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = d.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}

	return &Poller{
		cfg:      cfg,
		fetcher:  fetcher,
		res:      res,
		parentID: parentID,
		handler:  handler,
		logger:   logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("fallback poller started",
		"interval", p.cfg.Interval,
		"pages", p.cfg.Pages,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("fallback poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:  p.cycles.Load(),
		Fetched: p.fetched.Load(),
		Errors:  p.errors.Load(),
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll fetches the configured pages concurrently.
func (p *Poller) pollAll() {
	start := time.Now()

	sem := semaphore.NewWeighted(int64(p.cfg.Concurrency))
	var wg sync.WaitGroup
	var fetched, failed atomic.Int64

	for cursor := 1; cursor <= p.cfg.Pages; cursor++ {
		wg.Add(1)
		go func(cursor int) {
			defer wg.Done()

			if err := sem.Acquire(p.ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			if err := p.pollPage(cursor); err != nil {
				if p.ctx.Err() == nil {
					p.logger.Warn("failed to poll page",
						"page", cursor,
						"err", err,
					)
				}
				failed.Add(1)
				return
			}

			fetched.Add(1)
		}(cursor)
	}

	wg.Wait()

	p.cycles.Add(1)
	p.fetched.Add(fetched.Load())
	p.errors.Add(failed.Load())

	p.logger.Debug("poll cycle complete",
		"pages", p.cfg.Pages,
		"fetched", fetched.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

// pollPage fetches and handles a single page.
func (p *Poller) pollPage(cursor int) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	page, err := p.fetcher.FetchPage(ctx, p.res, p.parentID, cursor)
	if err != nil {
		return err
	}

	if p.handler != nil {
		if err := p.handler.HandlePage(*page); err != nil {
			return err
		}
	}

	return nil
}
