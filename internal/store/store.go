package store

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/rickgao/cosmic-feed/internal/model"
)

// Store holds the merged items of one parent.
type Store struct {
	parentID string
	maxItems int
	onInsert func(model.Item)
	logger   *slog.Logger

	mu     sync.RWMutex
	items  map[string]model.Item
	reads  map[string]struct{} // Marked read before the item arrived
	sorted []model.Item        // Valid while !dirty
	dirty  bool
	stats  Stats
}

// Stats contains merge counters.
type Stats struct {
	Inserted   int64 // Accepted new IDs
	Duplicates int64 // Already present, ignored
	Rejected   int64 // Empty ID or foreign parent
	Evicted    int64 // Dropped by the item cap
}

// Option configures a Store.
type Option func(*Store)

// WithMaxItems caps the store at the n newest items. Zero means unbounded.
func WithMaxItems(n int) Option {
	return func(s *Store) {
		s.maxItems = n
	}
}

// WithInsertHook registers fn to be called once for every newly accepted item.
// fn runs with the store lock held and must not call back into the store.
func WithInsertHook(fn func(model.Item)) Option {
	return func(s *Store) {
		s.onInsert = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates an empty store for parentID.
func New(parentID string, opts ...Option) *Store {
	s := &Store{
		parentID: parentID,
		logger:   slog.Default(),
		items:    make(map[string]model.Item),
		reads:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParentID returns the parent this store belongs to.
func (s *Store) ParentID() string {
	return s.parentID
}

// Apply merges an event. Pages and pushed items share the same insert rule.
func (s *Store) Apply(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case KindPage:
		for _, item := range ev.Page.Items {
			s.insert(item, ev.Source)
		}
	case KindPushedItem:
		s.insert(ev.Item, ev.Source)
	case KindRead:
		s.markRead(ev.ID)
	default:
		s.logger.Warn("ignoring event of unknown kind", "kind", ev.Kind, "source", ev.Source)
	}
}

// Snapshot returns the items ordered newest first. The slice is a copy.
func (s *Store) Snapshot() []model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resort()
	return slices.Clone(s.sorted)
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Get returns the stored copy of an item.
func (s *Store) Get(id string) (model.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

// MarkRead sets the read flag of an item and reports whether it is stored.
// An id not stored yet is remembered and applied when the item arrives.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markRead(id)
}

func (s *Store) markRead(id string) bool {
	if id == "" {
		return false
	}
	item, ok := s.items[id]
	if !ok {
		s.reads[id] = struct{}{}
		return false
	}
	if !item.Read {
		item.Read = true
		s.items[id] = item
		s.dirty = true
	}
	return true
}

// UnreadCount returns the number of stored items with Read unset.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, item := range s.items {
		if !item.Read {
			n++
		}
	}
	return n
}

// Stats returns the merge counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// insert applies the first-writer-wins rule. Caller holds the lock.
func (s *Store) insert(item model.Item, source string) {
	if item.ID == "" || item.ParentID != s.parentID {
		s.stats.Rejected++
		s.logger.Debug("rejecting item",
			"id", item.ID,
			"parent_id", item.ParentID,
			"source", source,
		)
		return
	}

	if _, exists := s.items[item.ID]; exists {
		s.stats.Duplicates++
		return
	}

	if s.maxItems > 0 && len(s.items) >= s.maxItems {
		oldest := s.oldest()
		if item.Before(oldest) {
			delete(s.items, oldest.ID)
			s.stats.Evicted++
		} else {
			// Older than everything retained: it would be evicted immediately.
			s.stats.Evicted++
			return
		}
	}

	if _, ok := s.reads[item.ID]; ok {
		item.Read = true
		delete(s.reads, item.ID)
	}

	s.items[item.ID] = item
	s.dirty = true
	s.stats.Inserted++

	if s.onInsert != nil {
		s.onInsert(item)
	}
}

// oldest returns the last item in snapshot order. Caller holds the lock and
// the store is non-empty.
func (s *Store) oldest() model.Item {
	s.resort()
	return s.sorted[len(s.sorted)-1]
}

// resort rebuilds the ordered view if inserts happened since the last sort.
func (s *Store) resort() {
	if !s.dirty && s.sorted != nil {
		return
	}

	sorted := make([]model.Item, 0, len(s.items))
	for _, item := range s.items {
		sorted = append(sorted, item)
	}
	slices.SortFunc(sorted, model.Compare)

	s.sorted = sorted
	s.dirty = false
}
