package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rickgao/cosmic-feed/internal/model"
)

// Errors
var (
	ErrMissingID        = errors.New("missing id")
	ErrMissingParent    = errors.New("missing parent id")
	ErrMissingCreatedAt = errors.New("missing created_at")
)

// DecodeError reports a payload that could not be turned into an Item.
type DecodeError struct {
	Source string // "rest", "socket", "changefeed"
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Envelope is the push-socket wire frame in both directions.
type Envelope struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
}

// NewEnvelope builds an envelope whose payload is {key: value}.
func NewEnvelope(op, key, value string) Envelope {
	data, _ := json.Marshal(map[string]string{key: value})
	return Envelope{Op: op, Data: data}
}

// Change is a change-feed notification payload.
type Change struct {
	Table  string          `json:"table"`
	Type   string          `json:"type"` // "INSERT", "UPDATE", "DELETE"
	Record json.RawMessage `json:"record"`
}

// DecodeRow converts one upstream row into an Item. The row is kept verbatim as
// the payload.
func DecodeRow(res model.Resource, row json.RawMessage) (model.Item, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(row, &fields); err != nil {
		return model.Item{}, err
	}

	id, err := scalarString(fields["id"])
	if err != nil {
		return model.Item{}, fmt.Errorf("id: %w", err)
	}
	if id == "" {
		return model.Item{}, ErrMissingID
	}

	parent, err := scalarString(fields[res.ParentKey])
	if err != nil {
		return model.Item{}, fmt.Errorf("%s: %w", res.ParentKey, err)
	}
	if parent == "" {
		return model.Item{}, ErrMissingParent
	}

	createdAt, err := parseTimestamp(fields["created_at"])
	if err != nil {
		return model.Item{}, err
	}

	read, err := readFlag(fields)
	if err != nil {
		return model.Item{}, err
	}

	payload := make(json.RawMessage, len(row))
	copy(payload, row)

	return model.Item{
		ID:        id,
		ParentID:  parent,
		CreatedAt: createdAt,
		Read:      read,
		Payload:   payload,
	}, nil
}

// DecodeList decodes a REST list response {"<resource>": [row, ...]}.
// A single bad row fails the whole list.
func DecodeList(res model.Resource, body []byte) ([]model.Item, error) {
	var envelope map[string][]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &DecodeError{Source: "rest", Err: err}
	}

	rows, ok := envelope[res.Name]
	if !ok {
		return nil, &DecodeError{Source: "rest", Err: fmt.Errorf("response has no %q key", res.Name)}
	}

	items := make([]model.Item, 0, len(rows))
	for i, row := range rows {
		item, err := DecodeRow(res, row)
		if err != nil {
			return nil, &DecodeError{Source: "rest", Err: fmt.Errorf("row %d: %w", i, err)}
		}
		items = append(items, item)
	}
	return items, nil
}

// scalarString accepts a JSON string or number; absent or null yields "".
func scalarString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("want string or number, got %s", raw)
	}
	return n.String(), nil
}

// parseTimestamp accepts RFC 3339 strings or unix seconds.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	s, err := scalarString(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("created_at: %w", err)
	}
	if s == "" {
		return time.Time{}, ErrMissingCreatedAt
	}

	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("created_at: unsupported format %q", s)
}

// readFlag looks at "read" then "is_read"; absent means unread.
func readFlag(fields map[string]json.RawMessage) (bool, error) {
	for _, key := range []string{"read", "is_read"} {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			continue
		}
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return false, fmt.Errorf("%s: %w", key, err)
		}
		return b, nil
	}
	return false, nil
}
