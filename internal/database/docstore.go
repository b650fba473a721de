package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	"github.com/golang/glog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trentd187/scorecard-sync/internal/feed"
	"github.com/trentd187/scorecard-sync/internal/store"
)

// DocumentRow is one row of the documents table.
type DocumentRow struct {
	Collection string         `gorm:"primaryKey;type:text"`
	Key        string         `gorm:"column:doc_key;primaryKey;type:text"`
	Body       datatypes.JSON `gorm:"type:jsonb;not null"`
	Version    int64          `gorm:"not null"`
	UpdatedAt  time.Time
}

// TableName tells GORM which table DocumentRow maps to.
func (DocumentRow) TableName() string {
	return "documents"
}

// Feed is where committed changes are published and subscriptions come from.
// *feed.Hub implements it.
type Feed interface {
	Publish(topic string, events ...store.Event)
	Subscribe(ctx context.Context, collection, key string) (store.Subscription, error)
}

// DocStore is a store.DocumentStore and store.ChangeFeed backed by Postgres.
//
// Writes are optimistic: every row carries a version, a transaction remembers the
// version of each document it read, and its commit only updates rows whose version is
// still the same. A commit that affects no row lost a race and the transaction is run
// again.
//
// The change-feed is process-local: only subscribers of this server instance see the
// events of writes made through it. A commit holds the locks of the documents it
// writes until its events are published, so events of one document go out in commit
// order.
type DocStore struct {
	db          *gorm.DB
	feed        Feed
	children    map[string][]string
	maxAttempts int
	stripes     [lockStripes]sync.Mutex
}

// lockStripes is the number of mutexes documents are hashed onto.
const lockStripes = 64

// NewDocStore wraps db. f may be nil, in which case nothing is published and
// Subscribe fails with store.ErrUnsupported. children declares the child maps per
// collection (see feed.Diff).
func NewDocStore(db *gorm.DB, f Feed, children map[string][]string, maxAttempts int) *DocStore {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &DocStore{db: db, feed: f, children: children, maxAttempts: maxAttempts}
}

func (d *DocStore) Get(ctx context.Context, collection, key string) (store.Document, error) {
	doc, _, err := d.read(d.db.WithContext(ctx), collection, key)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, store.ErrNotFound
	}
	return doc, nil
}

// read returns the document and its version; a missing row is (nil, 0, nil).
func (d *DocStore) read(db *gorm.DB, collection, key string) (store.Document, int64, error) {
	var row DocumentRow
	err := db.Where("collection = ? AND doc_key = ?", collection, key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read %s/%s: %w", collection, key, err)
	}
	doc, err := decodeBody(row.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s/%s: %w", collection, key, err)
	}
	return doc, row.Version, nil
}

func (d *DocStore) List(ctx context.Context, collection string) (map[string]store.Document, error) {
	var rows []DocumentRow
	if err := d.db.WithContext(ctx).Where("collection = ?", collection).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	out := make(map[string]store.Document, len(rows))
	for _, row := range rows {
		doc, err := decodeBody(row.Body)
		if err != nil {
			glog.Warningf("[docstore] skipping undecodable %s/%s: %v", collection, row.Key, err)
			continue
		}
		out[row.Key] = doc
	}
	return out, nil
}

// Set is a single-document transaction, so a merge never loses a concurrent merge.
func (d *DocStore) Set(ctx context.Context, collection, key string, doc store.Document, merge bool) error {
	return d.RunTransaction(ctx, func(tx store.Tx) error {
		next := doc
		if merge {
			cur, err := tx.Get(collection, key)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			next = store.Merge(cur, doc)
		}
		tx.Set(collection, key, next)
		return nil
	})
}

func (d *DocStore) Delete(ctx context.Context, collection, key string) error {
	return d.RunTransaction(ctx, func(tx store.Tx) error {
		tx.Delete(collection, key)
		return nil
	})
}

func (d *DocStore) Subscribe(ctx context.Context, collection, key string) (store.Subscription, error) {
	if d.feed == nil {
		return nil, fmt.Errorf("docstore: subscribe without a feed: %w", store.ErrUnsupported)
	}
	return d.feed.Subscribe(ctx, collection, key)
}

// RunTransaction implements store.DocumentStore.
func (d *DocStore) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		t := &tx{d: d, db: d.db.WithContext(ctx), reads: map[docRef]readRecord{}, writes: map[docRef]store.Document{}}
		if err := fn(t); err != nil {
			return err
		}
		if t.err != nil {
			return t.err
		}
		err := d.commit(ctx, t)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		glog.V(2).Infof("[docstore] transaction conflict, attempt %d of %d", attempt, d.maxAttempts)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return store.ErrContention
}

// lock takes the stripes of every written document in ascending order and returns
// the matching unlock.
func (d *DocStore) lock(refs []docRef) func() {
	var idx []int
	for _, ref := range refs {
		h := fnv.New32a()
		h.Write([]byte(store.Topic(ref.collection, ref.key)))
		i := int(h.Sum32() % lockStripes)
		if !slices.Contains(idx, i) {
			idx = append(idx, i)
		}
	}
	slices.Sort(idx)
	for _, i := range idx {
		d.stripes[i].Lock()
	}
	return func() {
		for _, i := range slices.Backward(idx) {
			d.stripes[i].Unlock()
		}
	}
}

func (d *DocStore) commit(ctx context.Context, t *tx) error {
	if len(t.order) == 0 {
		return nil
	}
	unlock := d.lock(t.order)
	defer unlock()

	now := time.Now()
	err := d.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		for ref, rec := range t.reads {
			if _, written := t.writes[ref]; written {
				continue
			}
			// Documents that were only read must still be unchanged.
			var current int64
			res := gtx.Model(&DocumentRow{}).
				Where("collection = ? AND doc_key = ?", ref.collection, ref.key).
				Select("version").Scan(&current)
			if res.Error != nil {
				return res.Error
			}
			if current != rec.version {
				return store.ErrConflict
			}
		}

		for _, ref := range t.order {
			rec := t.reads[ref]
			doc := t.writes[ref]
			var res *gorm.DB
			switch {
			case doc == nil && rec.version == 0:
				continue
			case doc == nil:
				res = gtx.Where("collection = ? AND doc_key = ? AND version = ?", ref.collection, ref.key, rec.version).
					Delete(&DocumentRow{})
			case rec.version == 0:
				body, err := json.Marshal(doc)
				if err != nil {
					return fmt.Errorf("encode %s/%s: %w", ref.collection, ref.key, err)
				}
				res = gtx.Clauses(clause.OnConflict{DoNothing: true}).Create(&DocumentRow{
					Collection: ref.collection,
					Key:        ref.key,
					Body:       datatypes.JSON(body),
					Version:    1,
					UpdatedAt:  now,
				})
			default:
				body, err := json.Marshal(doc)
				if err != nil {
					return fmt.Errorf("encode %s/%s: %w", ref.collection, ref.key, err)
				}
				res = gtx.Model(&DocumentRow{}).
					Where("collection = ? AND doc_key = ? AND version = ?", ref.collection, ref.key, rec.version).
					Updates(map[string]any{
						"body":       datatypes.JSON(body),
						"version":    rec.version + 1,
						"updated_at": now,
					})
			}
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return store.ErrConflict
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if d.feed != nil {
		origin := store.Origin(ctx)
		for _, ref := range t.order {
			events := feed.Diff(t.reads[ref].doc, t.writes[ref], d.children[ref.collection], origin)
			if len(events) > 0 {
				d.feed.Publish(store.Topic(ref.collection, ref.key), events...)
			}
		}
	}
	return nil
}

func decodeBody(body datatypes.JSON) (store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = store.Document{}
	}
	return doc, nil
}

type docRef struct {
	collection string
	key        string
}

type readRecord struct {
	doc     store.Document
	version int64
}

// tx buffers writes until commit. Every written document is read first, so each
// write knows the version it replaces and what to diff against.
type tx struct {
	d      *DocStore
	db     *gorm.DB
	reads  map[docRef]readRecord
	writes map[docRef]store.Document
	order  []docRef
	err    error
}

func (t *tx) load(ref docRef) (readRecord, error) {
	if rec, ok := t.reads[ref]; ok {
		return rec, nil
	}
	doc, version, err := t.d.read(t.db, ref.collection, ref.key)
	if err != nil {
		return readRecord{}, err
	}
	rec := readRecord{doc: doc, version: version}
	t.reads[ref] = rec
	return rec, nil
}

func (t *tx) Get(collection, key string) (store.Document, error) {
	ref := docRef{collection, key}
	if doc, ok := t.writes[ref]; ok {
		if doc == nil {
			return nil, store.ErrNotFound
		}
		return store.Clone(doc), nil
	}
	rec, err := t.load(ref)
	if err != nil {
		return nil, err
	}
	if rec.doc == nil {
		return nil, store.ErrNotFound
	}
	return store.Clone(rec.doc), nil
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
	if _, err := t.load(ref); err != nil && t.err == nil {
		t.err = err
	}
	if _, ok := t.writes[ref]; !ok {
		t.order = append(t.order, ref)
	}
	t.writes[ref] = doc
}
