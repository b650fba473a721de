// Package merge implements the transactions that many devices run against the same
// remote records: the best-score leaderboard, the per-day course analytics and the
// profile reconciliation.
//
// Each routine follows the same pattern. It reads the current records inside a store
// transaction, computes the new values purely from what it read and what it was given,
// and writes them back in the same transaction. The store re-runs the function when
// another writer got in between, so the functions keep no state across attempts.
// A routine either changes everything it meant to or nothing.
package merge

import (
	"errors"
	"time"

	"github.com/trentd187/scorecard-sync/internal/store"
)

// ErrInvalidInput is returned before any transaction runs for input that cannot be
// merged (an unusable key, a non-positive score).
var ErrInvalidInput = errors.New("merge: invalid input")

// Options configure a Merger. Zero fields get defaults.
type Options struct {
	Network            store.NetworkStatus // Default store.AlwaysOnline
	Location           *time.Location      // Calendar of day ids and start hours; default time.Local
	ReconcileTolerance time.Duration       // Default 500ms
	Now                func() time.Time
}

// Merger runs the merge transactions against one store.
type Merger struct {
	docs store.DocumentStore
	opts Options
}

func New(docs store.DocumentStore, opts Options) *Merger {
	if opts.Network == nil {
		opts.Network = store.AlwaysOnline{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.ReconcileTolerance <= 0 {
		opts.ReconcileTolerance = 500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Merger{docs: docs, opts: opts}
}

func (m *Merger) online() error {
	if !m.opts.Network.IsConnected() {
		return store.ErrOffline
	}
	return nil
}
