// Package store defines the contracts of the remote document store that every device
// synchronizes against: plain document reads and writes, optimistic multi-document
// transactions, and a change-feed that pushes child-level events to subscribers.
//
// Three implementations exist in this repository:
//   - memory.Store: in-process, used by tests and by the server when no database is set
//   - database.DocStore: Postgres through gorm
//   - remote.Client: the device side, talking HTTP/SSE to cmd/server
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("store: document not found")
	// ErrContention is returned when a transaction could not commit within the
	// store's retry budget because other writers kept changing the documents it read.
	ErrContention = errors.New("store: transaction retries exhausted")
	// ErrConflict signals a single optimistic commit attempt lost a race.
	// Implementations retry on it; callers only ever see ErrContention.
	ErrConflict = errors.New("store: concurrent modification")
	// ErrUnsupported is returned by implementations that lack an operation
	// (the device client cannot run transactions, for example).
	ErrUnsupported = errors.New("store: operation not supported")
	// ErrOffline is returned without contacting the store when NetworkStatus reports
	// no connectivity.
	ErrOffline = errors.New("store: network unreachable")
)

// NetworkStatus reports whether the remote store is currently reachable.
type NetworkStatus interface {
	IsConnected() bool
}

// AlwaysOnline is a NetworkStatus for processes that sit next to the store.
type AlwaysOnline struct{}

func (AlwaysOnline) IsConnected() bool { return true }

// Document is a JSON-shaped record: values are string, float64, bool, nil,
// []any or nested map[string]any.
type Document map[string]any

// DocumentStore is the read/write half of the remote store.
type DocumentStore interface {
	Get(ctx context.Context, collection, key string) (Document, error)
	// Set writes doc under collection/key. With merge=false the stored document is
	// replaced. With merge=true nested maps are merged key by key and a nil value
	// deletes the key it is stored under.
	Set(ctx context.Context, collection, key string, doc Document, merge bool) error
	Delete(ctx context.Context, collection, key string) error
	List(ctx context.Context, collection string) (map[string]Document, error)
	// RunTransaction runs fn with a transactional view of the store. fn may be run
	// more than once and must not leak side effects between attempts.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view of the store inside RunTransaction. Reads record the version of
// what they saw; the commit fails if any of those documents changed meanwhile.
type Tx interface {
	Get(collection, key string) (Document, error)
	Set(collection, key string, doc Document)
	Delete(collection, key string)
}

// EventKind is the type of a child-level change.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventChanged EventKind = "changed"
	EventRemoved EventKind = "removed"
)

// Event is one entry of the change-feed.
//
// Parent is "" for root-level fields of the document (ChildKey is then the field
// name) or the name of a child map such as "players". A removed event with both
// Parent and ChildKey empty means the whole document was deleted.
type Event struct {
	ID       string    `json:"id"`
	Kind     EventKind `json:"kind"`
	Parent   string    `json:"parent,omitempty"`
	ChildKey string    `json:"childKey,omitempty"`
	Value    any       `json:"value,omitempty"`
	Origin   string    `json:"origin,omitempty"`
	At       time.Time `json:"at"`
}

// IsDocumentRemoved reports whether the event announces deletion of the whole document.
func (e Event) IsDocumentRemoved() bool {
	return e.Kind == EventRemoved && e.Parent == "" && e.ChildKey == ""
}

// ChangeFeed is the subscription half of the remote store.
type ChangeFeed interface {
	Subscribe(ctx context.Context, collection, key string) (Subscription, error)
}

// Subscription delivers events for one document until closed. The Events channel is
// closed when the subscription ends, either through Close or because the feed dropped
// a subscriber that could not keep up.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

type originKey struct{}

// WithOrigin tags writes made with ctx as coming from the given device, so the events
// they cause carry it in Event.Origin.
func WithOrigin(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, originKey{}, deviceID)
}

// Origin returns the device id set by WithOrigin, or "".
func Origin(ctx context.Context) string {
	id, _ := ctx.Value(originKey{}).(string)
	return id
}

// Topic is the fan-out key of a document: "collection/key".
func Topic(collection, key string) string {
	return collection + "/" + key
}

// Merge returns dst deep-merged with src following Set(merge=true) semantics.
// dst is not modified.
func Merge(dst, src Document) Document {
	out := Clone(dst)
	if out == nil {
		out = Document{}
	}
	mergeInto(out, src)
	return out
}

func mergeInto(dst map[string]any, src map[string]any) {
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		srcMap, srcIsMap := asMap(v)
		dstMap, dstIsMap := asMap(dst[k])
		if srcIsMap && dstIsMap {
			merged := cloneMap(dstMap)
			mergeInto(merged, srcMap)
			dst[k] = merged
			continue
		}
		dst[k] = cloneValue(v)
	}
}

// Clone deep-copies a document.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	return Document(cloneMap(doc))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return cloneMap(t)
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case Document:
		return t, true
	case map[string]any:
		return t, true
	}
	return nil, false
}

// AsMap exposes the map view of a nested document value.
func AsMap(v any) (map[string]any, bool) {
	return asMap(v)
}
