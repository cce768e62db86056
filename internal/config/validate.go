package config

import (
	"errors"
	"fmt"

	"github.com/rickgao/cosmic-feed/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *FeedConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.RestURL == "" {
		return errors.New("api.rest_url is required")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if _, ok := model.LookupResource(c.Feed.Resource); !ok {
		return fmt.Errorf("feed.resource %q is not one of comments, messages, notifications", c.Feed.Resource)
	}
	if c.Feed.ParentID == "" {
		return errors.New("feed.parent_id is required")
	}
	if c.Feed.PageSize < 1 {
		return errors.New("feed.page_size must be >= 1")
	}
	if c.Feed.MaxItems < 0 {
		return errors.New("feed.max_items must be >= 0")
	}
	if c.Feed.DegradeAfter < 0 {
		return errors.New("feed.degrade_after must be >= 0")
	}
	if c.Feed.ReconnectMaxDelay < c.Feed.ReconnectBaseDelay {
		return fmt.Errorf("feed.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Feed.ReconnectMaxDelay, c.Feed.ReconnectBaseDelay)
	}

	if c.Socket.Disabled && !c.ChangeFeed.Enabled {
		return errors.New("at least one of socket or changefeed must be enabled")
	}

	if c.NeedsDatabase() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.Archive.BatchSize < 1 {
		return errors.New("archive.batch_size must be >= 1")
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
