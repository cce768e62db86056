package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Manager keeps one logical push-socket connection alive.
type Manager interface {
	// Start begins dialing in the background. The first dial is not awaited;
	// watch States or IsConnected.
	Start(ctx context.Context) error

	// Stop closes the connection and waits for the manager goroutine.
	Stop(ctx context.Context) error

	// Send writes to the current connection.
	Send(data []byte) error

	// Messages returns frames from every connection the manager held, in
	// arrival order. Closed after Stop.
	Messages() <-chan TimestampedMessage

	// States carries the latest connected/disconnected transition. Only the
	// most recent value is kept if the reader falls behind.
	States() <-chan bool

	// IsConnected returns current connection state.
	IsConnected() bool

	// Stats returns connection counters.
	Stats() ManagerStats
}

// manager implements the Manager interface.
type manager struct {
	cfg       ManagerConfig
	logger    *slog.Logger
	newClient func(ClientConfig, *slog.Logger) Client

	messages chan TimestampedMessage
	states   chan bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	current Client
	started bool

	dials       atomic.Int64
	failedDials atomic.Int64
	disconnects atomic.Int64
	relayed     atomic.Int64
	lastConnect atomic.Int64 // unix nanos
	lastDrop    atomic.Int64 // unix nanos
}

// NewManager creates a new connection Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultManagerConfig()
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = defaults.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait < cfg.ReconnectBaseWait {
		cfg.ReconnectMaxWait = cfg.ReconnectBaseWait
	}
	if cfg.MessageBufferSize < 0 {
		cfg.MessageBufferSize = 0
	}

	return &manager{
		cfg:       cfg,
		logger:    logger,
		newClient: NewClient,
		messages:  make(chan TimestampedMessage, cfg.MessageBufferSize),
		states:    make(chan bool, 1),
	}
}

// Start launches the connect/reconnect loop.
func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run()

	m.logger.Info("connection manager started", "url", m.cfg.Client.URL)
	return nil
}

// Stop gracefully shuts down.
func (m *manager) Stop(ctx context.Context) error {
	m.mu.RLock()
	cancel := m.cancel
	m.mu.RUnlock()
	if cancel == nil {
		return nil
	}
	cancel()

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
		return fmt.Errorf("stop connection manager: %w", ctx.Err())
	}

	m.logger.Info("connection manager stopped")
	return nil
}

// Send writes to the current connection.
func (m *manager) Send(data []byte) error {
	m.mu.RLock()
	c := m.current
	m.mu.RUnlock()

	if c == nil {
		return ErrNotConnected
	}
	return c.Send(data)
}

// Messages returns the output channel.
func (m *manager) Messages() <-chan TimestampedMessage {
	return m.messages
}

// States returns the connection state channel.
func (m *manager) States() <-chan bool {
	return m.states
}

// IsConnected returns the current connection state.
func (m *manager) IsConnected() bool {
	m.mu.RLock()
	c := m.current
	m.mu.RUnlock()
	return c != nil && c.IsConnected()
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	s := ManagerStats{
		Connected:   m.IsConnected(),
		Dials:       m.dials.Load(),
		FailedDials: m.failedDials.Load(),
		Disconnects: m.disconnects.Load(),
		Relayed:     m.relayed.Load(),
	}
	if ns := m.lastConnect.Load(); ns != 0 {
		s.LastConnectAt = time.Unix(0, ns)
	}
	if ns := m.lastDrop.Load(); ns != 0 {
		s.LastDisconnect = time.Unix(0, ns)
	}
	return s
}

// run dials, relays, and redials with exponential backoff until the context
// is canceled.
func (m *manager) run() {
	defer m.wg.Done()
	defer close(m.messages)

	wait := m.cfg.ReconnectBaseWait

	for {
		c, err := m.dial()
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			m.failedDials.Add(1)
			m.logger.Warn("connect failed",
				"error", err,
				"retry_in", wait,
			)
			if !m.sleep(wait) {
				return
			}
			wait = min(wait*2, m.cfg.ReconnectMaxWait)
			continue
		}

		wait = m.cfg.ReconnectBaseWait
		m.setCurrent(c)
		m.lastConnect.Store(time.Now().UnixNano())
		m.publishState(true)

		err = m.relay(c)

		m.setCurrent(nil)
		c.Close()
		m.publishState(false)

		if m.ctx.Err() != nil {
			return
		}

		m.disconnects.Add(1)
		m.lastDrop.Store(time.Now().UnixNano())
		m.logger.Warn("connection lost", "error", err, "retry_in", wait)

		if !m.sleep(wait) {
			return
		}
	}
}

// dial opens a fresh client and runs the on-connect hook.
func (m *manager) dial() (Client, error) {
	m.dials.Add(1)

	cfg := m.cfg.Client
	if m.cfg.Token != nil {
		token, err := m.cfg.Token(m.ctx)
		if err != nil {
			return nil, fmt.Errorf("token: %w", err)
		}
		cfg.Token = token
	}

	c := m.newClient(cfg, m.logger)
	if err := c.Connect(m.ctx); err != nil {
		c.Close()
		return nil, err
	}

	if m.cfg.OnConnect != nil {
		if err := m.cfg.OnConnect(c); err != nil {
			c.Close()
			return nil, fmt.Errorf("on connect: %w", err)
		}
	}

	m.logger.Info("connected", "url", cfg.URL)
	return c, nil
}

// relay forwards frames until the connection fails or the context ends.
func (m *manager) relay(c Client) error {
	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()

		case err := <-c.Errors():
			return err

		case msg := <-c.Messages():
			select {
			case m.messages <- msg:
				m.relayed.Add(1)
			case <-m.ctx.Done():
				return m.ctx.Err()
			}
		}
	}
}

func (m *manager) setCurrent(c Client) {
	m.mu.Lock()
	m.current = c
	m.mu.Unlock()
}

// publishState replaces any unread state with v. Only run() writes to
// states, so the loop terminates.
func (m *manager) publishState(v bool) {
	for {
		select {
		case m.states <- v:
			return
		default:
		}
		select {
		case <-m.states:
		default:
		}
	}
}

func (m *manager) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-m.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
