package livesync

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/trentd187/scorecard-sync/internal/feed"
	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/repository"
	"github.com/trentd187/scorecard-sync/internal/store"
)

// worker pushes after each kick, once PushDebounce has passed without a push, so a
// burst of mutations becomes one write. The ticker retries failed pushes and pending
// subscriptions.
func (s *Synchronizer) worker(ctx context.Context) {
	ticker := time.NewTicker(s.opts.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
			timer := time.NewTimer(s.opts.PushDebounce)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			s.sync(ctx)
		case <-ticker.C:
			s.sync(ctx)
		}
	}
}

// sync brings a Hosting round to Live and pushes pending changes.
//
// A round that was never pushed is pushed first, since there is nothing to subscribe
// to yet. A round that exists remotely is resubscribed and reconciled first, so a push
// never resurrects a document that was deleted while this device was not listening.
func (s *Synchronizer) sync(ctx context.Context) error {
	s.mu.Lock()
	hosting := s.state == StateHosting
	pushed := s.baseline != nil
	gen, runCtx := s.gen, s.runCtx
	s.mu.Unlock()

	if hosting && pushed && runCtx != nil {
		if err := s.goLive(runCtx, gen); err != nil {
			return err
		}
	}
	if err := s.push(ctx); err != nil {
		return err
	}
	if hosting && !pushed && runCtx != nil {
		return s.goLive(runCtx, gen)
	}
	return nil
}

// push writes the aggregate if it is dirty. The first push of a round writes the full
// document; later pushes merge only what differs from the last known remote state,
// so devices that each edit their own participant do not overwrite each other.
//
// A round without a usable code is never pushed. Errors leave the aggregate dirty for
// the next attempt.
func (s *Synchronizer) push(ctx context.Context) error {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	s.mu.Lock()
	if s.session == nil || !s.dirty {
		s.mu.Unlock()
		return nil
	}
	code := s.session.Code
	if !repository.ValidKey(code) {
		s.dirty = false
		s.mu.Unlock()
		glog.V(1).Infof("[livesync] not pushing round with unusable code %q", code)
		return nil
	}
	if !s.opts.Network.IsConnected() {
		s.mu.Unlock()
		return store.ErrOffline
	}

	now := s.opts.Now().Truncate(time.Millisecond)
	if !now.After(s.session.LastUpdated) {
		now = s.session.LastUpdated.Add(time.Millisecond)
	}
	s.session.LastUpdated = now
	s.session.UpdatedBy = s.opts.DeviceID

	doc := models.EncodeSession(s.session)
	full := s.baseline == nil
	write := doc
	if !full {
		write = patch(s.baseline, doc)
	}
	s.dirty = false
	s.mu.Unlock()

	wctx := store.WithOrigin(ctx, s.opts.DeviceID)
	var err error
	if full {
		err = s.sessions.PutDocument(wctx, code, write)
	} else {
		err = s.sessions.Merge(wctx, code, write)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.session != nil && s.session.Code == code {
			s.dirty = true
		}
		glog.Infof("[livesync] push of %s failed, will retry: %v", code, err)
		return err
	}
	if s.session != nil && s.session.Code == code {
		if full {
			s.baseline = doc
		} else {
			s.baseline = store.Merge(s.baseline, write)
		}
	}
	glog.V(1).Infof("[livesync] pushed %s (full=%t, %d keys)", code, full, len(write))
	return nil
}

// patch is the merge write that turns baseline into cur.
func patch(baseline, cur store.Document) store.Document {
	out := store.Document{}
	for _, ev := range feed.Diff(baseline, cur, models.SessionChildren, "") {
		if ev.Parent == "" {
			out[ev.ChildKey] = ev.Value
			continue
		}
		children, _ := out[ev.Parent].(map[string]any)
		if children == nil {
			children = map[string]any{}
			out[ev.Parent] = children
		}
		if ev.Kind == store.EventRemoved {
			children[ev.ChildKey] = nil
		} else {
			children[ev.ChildKey] = ev.Value
		}
	}
	return out
}
