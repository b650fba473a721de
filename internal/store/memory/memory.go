// Package memory is an in-process DocumentStore and ChangeFeed.
//
// The server uses it when no DATABASE_URL is configured, and the tests of every other
// package use it as the remote store. It versions each document and commits
// transactions optimistically, the same way the Postgres store does, so contention
// behaves identically in both.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/trentd187/scorecard-sync/internal/feed"
	"github.com/trentd187/scorecard-sync/internal/store"
)

// DefaultMaxAttempts is how often RunTransaction tries to commit before giving up.
const DefaultMaxAttempts = 5

// Feed is where committed changes are published and subscriptions come from.
// *feed.Hub implements it.
type Feed interface {
	Publish(topic string, events ...store.Event)
	Subscribe(ctx context.Context, collection, key string) (store.Subscription, error)
}

type entry struct {
	doc     store.Document
	version int64
}

// Store is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	docs map[string]map[string]*entry

	feed        Feed
	children    map[string][]string
	maxAttempts int
}

// Option configures a Store.
type Option func(*Store)

// WithFeed publishes every committed change to f and serves subscriptions from it.
func WithFeed(f Feed) Option {
	return func(s *Store) { s.feed = f }
}

// WithChildren declares the child maps of documents in collection. Entries of those
// maps get their own added/changed/removed events.
func WithChildren(collection string, children ...string) Option {
	return func(s *Store) { s.children[collection] = children }
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		docs:        make(map[string]map[string]*entry),
		children:    make(map[string][]string),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) lookup(collection, key string) *entry {
	if c, ok := s.docs[collection]; ok {
		return c[key]
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, key string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(collection, key)
	if e == nil {
		return nil, store.ErrNotFound
	}
	return store.Clone(e.doc), nil
}

func (s *Store) List(ctx context.Context, collection string) (map[string]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]store.Document, len(s.docs[collection]))
	for key, e := range s.docs[collection] {
		out[key] = store.Clone(e.doc)
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, collection, key string, doc store.Document, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := store.Clone(doc)
	if merge {
		var cur store.Document
		if e := s.lookup(collection, key); e != nil {
			cur = e.doc
		}
		next = store.Merge(cur, doc)
	}
	s.write(ctx, collection, key, next)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write(ctx, collection, key, nil)
	return nil
}

// write stores doc (nil deletes) and publishes the difference. Callers hold mu, which
// keeps events of one document in commit order.
func (s *Store) write(ctx context.Context, collection, key string, doc store.Document) {
	var before store.Document
	e := s.lookup(collection, key)
	if e != nil {
		before = e.doc
	}
	if e == nil && doc == nil {
		return
	}

	if doc == nil {
		delete(s.docs[collection], key)
	} else {
		if s.docs[collection] == nil {
			s.docs[strings.Clone(collection)] = make(map[string]*entry)
		}
		var version int64 = 1
		if e != nil {
			version = e.version + 1
		}
		if e != nil {
			e.doc, e.version = doc, version
		} else {
			// Keys may alias a request buffer that is reused after the call returns.
			s.docs[collection][strings.Clone(key)] = &entry{doc: doc, version: version}
		}
	}

	if s.feed != nil {
		events := feed.Diff(before, doc, s.children[collection], store.Origin(ctx))
		if len(events) > 0 {
			s.feed.Publish(store.Topic(collection, key), events...)
		}
	}
}

// Subscribe implements store.ChangeFeed.
func (s *Store) Subscribe(ctx context.Context, collection, key string) (store.Subscription, error) {
	if s.feed == nil {
		return nil, fmt.Errorf("memory: subscribe without a feed: %w", store.ErrUnsupported)
	}
	return s.feed.Subscribe(ctx, collection, key)
}

// RunTransaction runs fn against a snapshot and commits its writes only if nothing it
// read changed meanwhile. A lost race re-runs fn, up to the configured number of
// attempts, after which store.ErrContention is returned.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := &tx{s: s, reads: map[docRef]int64{}, writes: map[docRef]store.Document{}}
		if err := fn(t); err != nil {
			return err
		}
		err := s.commit(ctx, t)
		if err == nil {
			return nil
		}
		if err != store.ErrConflict {
			return err
		}
	}
	return store.ErrContention
}

func (s *Store) commit(ctx context.Context, t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref, version := range t.reads {
		if s.versionOf(ref) != version {
			return store.ErrConflict
		}
	}
	for _, ref := range t.order {
		s.write(ctx, ref.collection, ref.key, t.writes[ref])
	}
	return nil
}

func (s *Store) versionOf(ref docRef) int64 {
	if e := s.lookup(ref.collection, ref.key); e != nil {
		return e.version
	}
	return 0
}

type docRef struct {
	collection string
	key        string
}

type tx struct {
	s      *Store
	reads  map[docRef]int64
	writes map[docRef]store.Document
	order  []docRef
}

func (t *tx) Get(collection, key string) (store.Document, error) {
	ref := docRef{collection, key}
	if doc, ok := t.writes[ref]; ok {
		if doc == nil {
			return nil, store.ErrNotFound
		}
		return store.Clone(doc), nil
	}

	t.s.mu.Lock()
	e := t.s.lookup(collection, key)
	var doc store.Document
	var version int64
	if e != nil {
		doc, version = store.Clone(e.doc), e.version
	}
	t.s.mu.Unlock()

	if _, seen := t.reads[ref]; !seen {
		t.reads[ref] = version
	}
	if doc == nil {
		return nil, store.ErrNotFound
	}
	return doc, nil
}

func (t *tx) Set(collection, key string, doc store.Document) {
	if doc == nil {
		doc = store.Document{}
	}
	t.put(docRef{collection, key}, store.Clone(doc))
}

func (t *tx) Delete(collection, key string) {
	t.put(docRef{collection, key}, nil)
}

func (t *tx) put(ref docRef, doc store.Document) {
	if _, ok := t.writes[ref]; !ok {
		t.order = append(t.order, ref)
	}
	t.writes[ref] = doc
}
