package router

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/rickgao/cosmic-feed/internal/model"
)

// Router decodes push payloads for one resource and parent. Payloads that do
// not concern the parent are skipped; malformed ones are logged and counted.
type Router struct {
	res      model.Resource
	parentID string
	logger   *slog.Logger

	mu    sync.Mutex
	stats RouterStats
}

// RouterStats contains decode counters.
type RouterStats struct {
	Received     int64
	Decoded      int64
	DecodeErrors int64
	Skipped      int64 // Other ops, tables, change types or parents
}

// New creates a Router.
func New(res model.Resource, parentID string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		res:      res,
		parentID: parentID,
		logger:   logger,
	}
}

// FromSocket decodes a push-socket frame. ok is false when the frame carries no
// item for this parent.
func (r *Router) FromSocket(data []byte) (model.Item, bool) {
	r.count(func(s *RouterStats) { s.Received++ })

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.drop(&DecodeError{Source: "socket", Err: err})
		return model.Item{}, false
	}
	if env.Op != r.res.EventOp {
		r.skip("op", env.Op)
		return model.Item{}, false
	}

	item, err := DecodeRow(r.res, env.Data)
	if err != nil {
		r.drop(&DecodeError{Source: "socket", Err: err})
		return model.Item{}, false
	}
	return r.accept(item)
}

// FromChange decodes a change-feed notification payload.
func (r *Router) FromChange(payload []byte) (model.Item, bool) {
	r.count(func(s *RouterStats) { s.Received++ })

	var change Change
	if err := json.Unmarshal(payload, &change); err != nil {
		r.drop(&DecodeError{Source: "changefeed", Err: err})
		return model.Item{}, false
	}
	if change.Table != r.res.Table {
		r.skip("table", change.Table)
		return model.Item{}, false
	}
	if change.Type != "INSERT" {
		r.skip("type", change.Type)
		return model.Item{}, false
	}

	item, err := DecodeRow(r.res, change.Record)
	if err != nil {
		r.drop(&DecodeError{Source: "changefeed", Err: err})
		return model.Item{}, false
	}
	return r.accept(item)
}

// Stats returns the current counters.
func (r *Router) Stats() RouterStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Router) accept(item model.Item) (model.Item, bool) {
	if item.ParentID != r.parentID {
		r.skip("parent", item.ParentID)
		return model.Item{}, false
	}
	r.count(func(s *RouterStats) { s.Decoded++ })
	return item, true
}

func (r *Router) drop(err *DecodeError) {
	r.count(func(s *RouterStats) { s.DecodeErrors++ })
	r.logger.Warn("dropping malformed payload", "error", err)
}

func (r *Router) skip(reason, value string) {
	r.count(func(s *RouterStats) { s.Skipped++ })
	r.logger.Debug("skipping payload", "reason", reason, "value", value)
}

func (r *Router) count(fn func(*RouterStats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}
