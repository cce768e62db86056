package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/cosmic-feed/internal/model"
	"github.com/rickgao/cosmic-feed/internal/router"
)

// DefaultChannel is the notification channel the row trigger publishes on.
const DefaultChannel = "feed_changes"

// Listener is one dedicated database connection subscribed to a channel.
type Listener interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Release()
}

// ListenerSource acquires a fresh Listener for every (re)connect.
type ListenerSource func(ctx context.Context) (Listener, error)

// PoolListeners acquires listeners from a pgx pool. The connection is held for
// as long as the listener lives.
func PoolListeners(pool *pgxpool.Pool) ListenerSource {
	return func(ctx context.Context) (Listener, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire listen connection: %w", err)
		}
		return &poolListener{conn: conn}, nil
	}
}

type poolListener struct {
	conn *pgxpool.Conn
}

func (l *poolListener) Listen(ctx context.Context, channel string) error {
	_, err := l.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	return err
}

func (l *poolListener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return l.conn.Conn().WaitForNotification(ctx)
}

// Release unlistens before handing the connection back so the pool never
// lends out a subscribed connection.
func (l *poolListener) Release() {
	if !l.conn.Conn().IsClosed() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if _, err := l.conn.Exec(ctx, "UNLISTEN *"); err != nil {
			l.conn.Conn().Close(ctx)
		}
		cancel()
	}
	l.conn.Release()
}

// ChangeFeedConfig configures a ChangeFeed ingestor.
type ChangeFeedConfig struct {
	Channel    string // Defaults to DefaultChannel
	Resource   model.Resource
	ParentID   string
	Backoff    Backoff
	BufferSize int
}

// ChangeFeed ingests row inserts announced over Postgres LISTEN/NOTIFY.
type ChangeFeed struct {
	cfg       ChangeFeedConfig
	listeners ListenerSource
	logger    *slog.Logger
	router    *router.Router
	items     chan model.Item
	states    latest

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool

	connected      atomic.Bool
	connects       atomic.Int64
	failedConnects atomic.Int64
	disconnects    atomic.Int64
}

// NewChangeFeed creates a ChangeFeed ingestor.
func NewChangeFeed(cfg ChangeFeedConfig, listeners ListenerSource, logger *slog.Logger) *ChangeFeed {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	cfg.Backoff = cfg.Backoff.normalize()

	c := &ChangeFeed{
		cfg:       cfg,
		listeners: listeners,
		items:     make(chan model.Item, cfg.BufferSize),
		states:    newLatest(),
	}
	c.logger = logger.With("ingestor", c.Name(), "session", uuid.NewString())
	c.router = router.New(cfg.Resource, cfg.ParentID, c.logger)
	return c
}

// Name returns "changefeed".
func (c *ChangeFeed) Name() string {
	return "changefeed"
}

// Connect starts the listen loop.
func (c *ChangeFeed) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()

	c.logger.Info("change feed ingestor started",
		"channel", c.cfg.Channel,
		"table", c.cfg.Resource.Table,
		"parent_id", c.cfg.ParentID,
	)
	return nil
}

// Items returns the decoded item channel.
func (c *ChangeFeed) Items() <-chan model.Item {
	return c.items
}

// States returns the connection state channel.
func (c *ChangeFeed) States() <-chan bool {
	return c.states.ch
}

// IsConnected returns the current connection state.
func (c *ChangeFeed) IsConnected() bool {
	return c.connected.Load()
}

// Close stops listening and releases the connection.
func (c *ChangeFeed) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	if !started {
		close(c.items)
		return nil
	}

	c.cancel()
	c.wg.Wait()

	c.logger.Info("change feed ingestor stopped")
	return nil
}

// Stats returns current counters.
func (c *ChangeFeed) Stats() Stats {
	return Stats{
		Name:           c.Name(),
		Connected:      c.connected.Load(),
		Connects:       c.connects.Load(),
		FailedConnects: c.failedConnects.Load(),
		Disconnects:    c.disconnects.Load(),
		RouterStats:    c.router.Stats(),
	}
}

// run listens, consumes, and relistens with exponential backoff until the
// context is canceled.
func (c *ChangeFeed) run() {
	defer c.wg.Done()
	defer close(c.items)

	wait := c.cfg.Backoff.BaseWait

	for {
		l, err := c.listen()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.failedConnects.Add(1)
			c.logger.Warn("listen failed", "error", err, "retry_in", wait)
			if !sleepCtx(c.ctx, wait) {
				return
			}
			wait = min(wait*2, c.cfg.Backoff.MaxWait)
			continue
		}

		wait = c.cfg.Backoff.BaseWait
		c.connects.Add(1)
		c.setConnected(true)

		err = c.consume(l)

		c.setConnected(false)
		l.Release()

		if c.ctx.Err() != nil {
			return
		}

		c.disconnects.Add(1)
		c.logger.Warn("listen connection lost", "error", err, "retry_in", wait)

		if !sleepCtx(c.ctx, wait) {
			return
		}
	}
}

func (c *ChangeFeed) listen() (Listener, error) {
	l, err := c.listeners(c.ctx)
	if err != nil {
		return nil, err
	}
	if err := l.Listen(c.ctx, c.cfg.Channel); err != nil {
		l.Release()
		return nil, fmt.Errorf("listen %s: %w", c.cfg.Channel, err)
	}
	return l, nil
}

// consume turns notifications into items until the connection fails.
func (c *ChangeFeed) consume(l Listener) error {
	for {
		n, err := l.WaitForNotification(c.ctx)
		if err != nil {
			return err
		}
		if n.Channel != c.cfg.Channel {
			continue
		}

		item, ok := c.router.FromChange([]byte(n.Payload))
		if !ok {
			continue
		}

		select {
		case c.items <- item:
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

func (c *ChangeFeed) setConnected(v bool) {
	c.connected.Store(v)
	c.states.publish(v)
}
