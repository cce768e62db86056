package connection

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrAlreadyStarted  = errors.New("already started")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL               string        // e.g. wss://api.example.com/ws
	Token             string        // Bearer token sent on the handshake ("" = anonymous)
	PingTimeout       time.Duration // Max time without ping/pong before the connection is stale
	HeartbeatInterval time.Duration // How often we ping the server
	WriteTimeout      time.Duration // Write deadline for sends
	BufferSize        int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:       60 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      5 * time.Second,
		BufferSize:        1000,
	}
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Client            ClientConfig
	ReconnectBaseWait time.Duration // First wait after a failed dial or a drop
	ReconnectMaxWait  time.Duration // Cap for the doubling wait
	MessageBufferSize int           // Buffer size for the output channel

	// Token is called before every dial. An error skips the dial and
	// schedules a retry on the normal backoff.
	Token func(ctx context.Context) (string, error)

	// OnConnect runs on every fresh connection before frames are forwarded.
	// An error closes the connection and counts as a failed dial.
	OnConnect func(c Client) error
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:            DefaultClientConfig(),
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		MessageBufferSize: 1000,
	}
}

// ManagerStats provides statistics about a Manager.
type ManagerStats struct {
	Connected      bool
	Dials          int64
	FailedDials    int64
	Disconnects    int64
	Relayed        int64
	LastConnectAt  time.Time
	LastDisconnect time.Time
}
