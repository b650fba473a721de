package repository

import (
	"context"
	"fmt"

	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/store"
)

// Sessions reads, writes and watches live session documents, keyed by session code.
type Sessions struct {
	docs store.DocumentStore
	feed store.ChangeFeed
}

// NewSessions wraps a store. feed may be nil when nothing subscribes.
func NewSessions(docs store.DocumentStore, feed store.ChangeFeed) *Sessions {
	return &Sessions{docs: docs, feed: feed}
}

// Get fetches and decodes the session with the given code.
// A missing session is store.ErrNotFound.
func (r *Sessions) Get(ctx context.Context, code string) (*models.Session, error) {
	doc, err := r.GetDocument(ctx, code)
	if err != nil {
		return nil, err
	}
	s, err := models.DecodeSession(doc)
	if err != nil {
		return nil, err
	}
	if s.Code == "" {
		s.Code = code
	}
	return s, nil
}

// GetDocument fetches the raw session document.
func (r *Sessions) GetDocument(ctx context.Context, code string) (store.Document, error) {
	if err := checkKey(code); err != nil {
		return nil, err
	}
	return r.docs.Get(ctx, SessionsCollection, code)
}

// Put replaces the whole session document.
func (r *Sessions) Put(ctx context.Context, s *models.Session) error {
	return r.PutDocument(ctx, s.Code, models.EncodeSession(s))
}

// PutDocument replaces the whole session document with an already encoded one.
func (r *Sessions) PutDocument(ctx context.Context, code string, doc store.Document) error {
	if err := checkKey(code); err != nil {
		return err
	}
	if err := r.docs.Set(ctx, SessionsCollection, code, doc, false); err != nil {
		return fmt.Errorf("put session %s: %w", code, err)
	}
	return nil
}

// Merge deep-merges a partial document into the session (nil values delete keys).
func (r *Sessions) Merge(ctx context.Context, code string, partial store.Document) error {
	if err := checkKey(code); err != nil {
		return err
	}
	if err := r.docs.Set(ctx, SessionsCollection, code, partial, true); err != nil {
		return fmt.Errorf("merge session %s: %w", code, err)
	}
	return nil
}

// Delete removes the session document.
func (r *Sessions) Delete(ctx context.Context, code string) error {
	if err := checkKey(code); err != nil {
		return err
	}
	if err := r.docs.Delete(ctx, SessionsCollection, code); err != nil {
		return fmt.Errorf("delete session %s: %w", code, err)
	}
	return nil
}

// Subscribe watches the session's change-feed.
func (r *Sessions) Subscribe(ctx context.Context, code string) (store.Subscription, error) {
	if err := checkKey(code); err != nil {
		return nil, err
	}
	if r.feed == nil {
		return nil, store.ErrUnsupported
	}
	return r.feed.Subscribe(ctx, SessionsCollection, code)
}
