package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/cosmic-feed/internal/auth"
	"github.com/rickgao/cosmic-feed/internal/connection"
	"github.com/rickgao/cosmic-feed/internal/model"
	"github.com/rickgao/cosmic-feed/internal/router"
)

// SocketConfig configures a Socket ingestor.
type SocketConfig struct {
	URL      string
	Resource model.Resource
	ParentID string
	Tokens   auth.TokenSource // nil dials without a bearer token

	PingTimeout       time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	Backoff           Backoff
	BufferSize        int
}

// Socket ingests items from the push socket.
type Socket struct {
	cfg    SocketConfig
	id     string
	logger *slog.Logger
	router *router.Router
	mgr    connection.Manager
	items  chan model.Item

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewSocket creates a Socket ingestor.
func NewSocket(cfg SocketConfig, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	cfg.Backoff = cfg.Backoff.normalize()

	s := &Socket{
		cfg:   cfg,
		id:    uuid.NewString(),
		items: make(chan model.Item, cfg.BufferSize),
	}
	s.logger = logger.With("ingestor", s.Name(), "session", s.id)
	s.router = router.New(cfg.Resource, cfg.ParentID, s.logger)

	clientCfg := connection.DefaultClientConfig()
	clientCfg.URL = cfg.URL
	clientCfg.BufferSize = cfg.BufferSize
	if cfg.PingTimeout > 0 {
		clientCfg.PingTimeout = cfg.PingTimeout
	}
	if cfg.HeartbeatInterval > 0 {
		clientCfg.HeartbeatInterval = cfg.HeartbeatInterval
	}
	if cfg.WriteTimeout > 0 {
		clientCfg.WriteTimeout = cfg.WriteTimeout
	}

	mgrCfg := connection.ManagerConfig{
		Client:            clientCfg,
		ReconnectBaseWait: cfg.Backoff.BaseWait,
		ReconnectMaxWait:  cfg.Backoff.MaxWait,
		MessageBufferSize: cfg.BufferSize,
		OnConnect:         s.join,
	}
	if cfg.Tokens != nil {
		mgrCfg.Token = cfg.Tokens.Token
	}
	s.mgr = connection.NewManager(mgrCfg, s.logger)

	return s
}

// Name returns "socket".
func (s *Socket) Name() string {
	return "socket"
}

// Connect starts the connection manager and the decode loop.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.mgr.Start(s.ctx); err != nil {
		s.cancel()
		return err
	}

	s.wg.Add(1)
	go s.pump()

	s.logger.Info("socket ingestor started",
		"resource", s.cfg.Resource.Name,
		"parent_id", s.cfg.ParentID,
	)
	return nil
}

// Items returns the decoded item channel.
func (s *Socket) Items() <-chan model.Item {
	return s.items
}

// States returns the connection state channel.
func (s *Socket) States() <-chan bool {
	return s.mgr.States()
}

// IsConnected returns the current connection state.
func (s *Socket) IsConnected() bool {
	return s.mgr.IsConnected()
}

// Close leaves the parent's room best-effort and tears everything down.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if !started {
		close(s.items)
		return nil
	}

	if err := s.send(s.cfg.Resource.LeaveOp); err != nil {
		s.logger.Debug("leave not sent", "error", err)
	}

	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.mgr.Stop(ctx)

	s.wg.Wait()

	s.logger.Info("socket ingestor stopped")
	return err
}

// Stats returns current counters.
func (s *Socket) Stats() Stats {
	ms := s.mgr.Stats()
	return Stats{
		Name:           s.Name(),
		Connected:      ms.Connected,
		Connects:       ms.Dials - ms.FailedDials,
		FailedConnects: ms.FailedDials,
		Disconnects:    ms.Disconnects,
		RouterStats:    s.router.Stats(),
	}
}

// join runs on every fresh connection, so interest survives reconnects.
func (s *Socket) join(c connection.Client) error {
	data, err := json.Marshal(router.NewEnvelope(s.cfg.Resource.JoinOp, s.cfg.Resource.ParentKey, s.cfg.ParentID))
	if err != nil {
		return err
	}
	return c.Send(data)
}

func (s *Socket) send(op string) error {
	data, err := json.Marshal(router.NewEnvelope(op, s.cfg.Resource.ParentKey, s.cfg.ParentID))
	if err != nil {
		return err
	}
	return s.mgr.Send(data)
}

// pump decodes frames until the manager's channel closes.
func (s *Socket) pump() {
	defer s.wg.Done()
	defer close(s.items)

	for msg := range s.mgr.Messages() {
		item, ok := s.router.FromSocket(msg.Data)
		if !ok {
			continue
		}

		select {
		case s.items <- item:
		case <-s.ctx.Done():
			return
		}
	}
}
