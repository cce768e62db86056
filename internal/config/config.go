package config

import "time"

// FeedConfig is the root configuration for a feedwatch instance.
type FeedConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	API        APIConfig        `yaml:"api"`
	Feed       FeedSettings     `yaml:"feed"`
	Socket     SocketConfig     `yaml:"socket"`
	ChangeFeed ChangeFeedConfig `yaml:"changefeed"`
	Database   DBConfig         `yaml:"database"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Health     HealthConfig     `yaml:"health"`
}

// InstanceConfig identifies this instance in logs.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	Token      string        `yaml:"token"`      // Bearer token (usually ${FEED_TOKEN})
	TokenPath  string        `yaml:"token_path"` // File holding the token, used when token is empty
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// FeedSettings selects the list to follow and tunes the merge.
type FeedSettings struct {
	Resource           string        `yaml:"resource"`  // comments, messages or notifications
	ParentID           string        `yaml:"parent_id"` // Post, stream or user ID
	PageSize           int           `yaml:"page_size"`
	MaxItems           int           `yaml:"max_items"` // 0 = unbounded
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	DegradeAfter       time.Duration `yaml:"degrade_after"` // 0 = never fall back to polling
	PollInterval       time.Duration `yaml:"poll_interval"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
}

// SocketConfig holds push-socket settings.
type SocketConfig struct {
	Disabled     bool          `yaml:"disabled"`
	URL          string        `yaml:"url"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PingTimeout  time.Duration `yaml:"ping_timeout"`
	BufferSize   int           `yaml:"buffer_size"`
}

// ChangeFeedConfig holds Postgres LISTEN/NOTIFY settings.
type ChangeFeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	AppName  string `yaml:"application_name"` // Shown in pg_stat_activity
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ArchiveConfig holds archive writer settings.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// HealthConfig holds the health/debug HTTP server settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// NeedsDatabase reports whether any enabled component uses Postgres.
func (c *FeedConfig) NeedsDatabase() bool {
	return c.ChangeFeed.Enabled || c.Archive.Enabled
}
