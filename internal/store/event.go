package store

import "github.com/rickgao/cosmic-feed/internal/model"

// Kind tags an Event.
type Kind int

const (
	KindPage Kind = iota + 1
	KindPushedItem
	KindRead
)

func (k Kind) String() string {
	switch k {
	case KindPage:
		return "page"
	case KindPushedItem:
		return "pushed_item"
	case KindRead:
		return "read"
	default:
		return "unknown"
	}
}

// Event is the single input type of Store.Apply.
type Event struct {
	Kind   Kind
	Page   model.Page // KindPage
	Item   model.Item // KindPushedItem
	ID     string     // KindRead
	Source string     // Ingestor or fetch path that produced the event, for logs
}

// PageEvent wraps a fetched page.
func PageEvent(source string, page model.Page) Event {
	return Event{Kind: KindPage, Page: page, Source: source}
}

// ItemEvent wraps a single pushed item.
func ItemEvent(source string, item model.Item) Event {
	return Event{Kind: KindPushedItem, Item: item, Source: source}
}

// ReadEvent marks an item read. It may be applied before the item arrives.
func ReadEvent(source, id string) Event {
	return Event{Kind: KindRead, ID: id, Source: source}
}
