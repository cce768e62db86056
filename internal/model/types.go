package model

import (
	"encoding/json"
	"time"
)

// -----------------------------------------------------------------------------
// Items
// -----------------------------------------------------------------------------

// Item is a single domain record (comment, stream chat message, notification).
// Items arrive read-only; only the Read flag is ever changed locally.
type Item struct {
	ID        string          `json:"id"`        // Unique per backend, opaque
	ParentID  string          `json:"parent_id"` // Post, stream or user the item belongs to
	CreatedAt time.Time       `json:"created_at"`
	Read      bool            `json:"read"`              // Notifications only
	Payload   json.RawMessage `json:"payload,omitempty"` // Upstream row verbatim
}

// Before reports whether a sorts ahead of b: newest first, ties broken by ID ascending.
func (a Item) Before(b Item) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Compare is a three-way version of Before for slices.SortFunc.
func Compare(a, b Item) int {
	switch {
	case a.ID == b.ID && a.CreatedAt.Equal(b.CreatedAt):
		return 0
	case a.Before(b):
		return -1
	default:
		return 1
	}
}

// Page is one page of a paginated fetch. Immutable once received.
type Page struct {
	Resource string
	ParentID string
	Cursor   int    // Page number this page was fetched with (1-based)
	Items    []Item // Ordered newest first
	Last     bool   // Fewer items than the page size: pagination is exhausted
}

// Next returns the cursor of the following page.
func (p Page) Next() int {
	return p.Cursor + 1
}

// -----------------------------------------------------------------------------
// Resources
// -----------------------------------------------------------------------------

// Resource describes one kind of parent-scoped list and how each transport names it.
type Resource struct {
	Name      string // REST path segment and response key (e.g. "comments")
	ParentKey string // Row column / join payload key holding the parent ID
	JoinOp    string // Socket op sent to register interest
	LeaveOp   string // Socket op sent to unregister
	EventOp   string // Socket op carrying one new item
	Table     string // Change-feed table name
}

// Known resources.
var (
	Comments = Resource{
		Name:      "comments",
		ParentKey: "post_id",
		JoinOp:    "join_post",
		LeaveOp:   "leave_post",
		EventOp:   "new_comment",
		Table:     "comments",
	}

	Messages = Resource{
		Name:      "messages",
		ParentKey: "stream_id",
		JoinOp:    "join_stream",
		LeaveOp:   "leave_stream",
		EventOp:   "new_message",
		Table:     "stream_messages",
	}

	Notifications = Resource{
		Name:      "notifications",
		ParentKey: "user_id",
		JoinOp:    "join_user",
		LeaveOp:   "leave_user",
		EventOp:   "new_notification",
		Table:     "notifications",
	}
)

// LookupResource returns the known resource with the given name.
func LookupResource(name string) (Resource, bool) {
	for _, r := range []Resource{Comments, Messages, Notifications} {
		if r.Name == name {
			return r, true
		}
	}
	return Resource{}, false
}
