package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID         = "feedwatch"
	DefaultRestURL            = "http://localhost:3000"
	DefaultWSURL              = "ws://localhost:3000/ws"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultPageSize           = 20
	DefaultFetchTimeout       = 15 * time.Second
	DefaultPollInterval       = 10 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultPingTimeout        = 60 * time.Second
	DefaultSocketBufferSize   = 256
	DefaultChannel            = "feed_changes"
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultBatchSize          = 100
	DefaultFlushInterval      = 1 * time.Second
	DefaultHealthPort         = 8080
)

func (c *FeedConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Feed defaults
	if c.Feed.PageSize == 0 {
		c.Feed.PageSize = DefaultPageSize
	}
	if c.Feed.FetchTimeout == 0 {
		c.Feed.FetchTimeout = DefaultFetchTimeout
	}
	if c.Feed.PollInterval == 0 {
		c.Feed.PollInterval = DefaultPollInterval
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}

	// Socket defaults
	if c.Socket.URL == "" {
		c.Socket.URL = DefaultWSURL
	}
	if c.Socket.PingInterval == 0 {
		c.Socket.PingInterval = DefaultPingInterval
	}
	if c.Socket.PingTimeout == 0 {
		c.Socket.PingTimeout = DefaultPingTimeout
	}
	if c.Socket.BufferSize == 0 {
		c.Socket.BufferSize = DefaultSocketBufferSize
	}

	if c.ChangeFeed.Channel == "" {
		c.ChangeFeed.Channel = DefaultChannel
	}

	applyDBDefaults(&c.Database)

	// Archive defaults
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}

	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
