package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/cosmic-feed/internal/model"
	"github.com/rickgao/cosmic-feed/internal/router"
)

// Errors
var (
	ErrClosed         = errors.New("ingestor closed")
	ErrAlreadyStarted = errors.New("ingestor already connected")
)

// Ingestor wraps one push source scoped to a single parent.
type Ingestor interface {
	// Name identifies the source in logs and state.
	Name() string

	// Connect registers interest in the parent and starts delivering. It does
	// not wait for the first connection; failures are retried in the background.
	Connect(ctx context.Context) error

	// Items delivers decoded items for the parent. Closed after Close.
	Items() <-chan model.Item

	// States carries the latest connected/disconnected transition.
	States() <-chan bool

	// IsConnected returns current connection state.
	IsConnected() bool

	// Close unregisters interest and releases every connection and goroutine.
	// Safe to call more than once.
	Close() error

	// Stats returns counters.
	Stats() Stats
}

// Stats contains ingestor counters.
type Stats struct {
	Name           string
	Connected      bool
	Connects       int64
	FailedConnects int64
	Disconnects    int64
	router.RouterStats
}

// Backoff holds reconnect timing.
type Backoff struct {
	BaseWait time.Duration
	MaxWait  time.Duration
}

// DefaultBackoff returns sensible defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		BaseWait: time.Second,
		MaxWait:  time.Minute,
	}
}

func (b Backoff) normalize() Backoff {
	d := DefaultBackoff()
	if b.BaseWait <= 0 {
		b.BaseWait = d.BaseWait
	}
	if b.MaxWait <= 0 {
		b.MaxWait = d.MaxWait
	}
	if b.MaxWait < b.BaseWait {
		b.MaxWait = b.BaseWait
	}
	return b
}

// latest is a one-slot channel that keeps only the newest value.
type latest struct {
	ch chan bool
}

func newLatest() latest {
	return latest{ch: make(chan bool, 1)}
}

// publish must only be called from a single goroutine.
func (l latest) publish(v bool) {
	for {
		select {
		case l.ch <- v:
			return
		default:
		}
		select {
		case <-l.ch:
		default:
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
