package livesync

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"

	"github.com/trentd187/scorecard-sync/internal/feed"
	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/store"
)

// goLive subscribes to the round and reconciles with a fresh read of the remote
// document, then moves Hosting to Live. gen is the live period the caller belongs to;
// the result is discarded if the round was stopped meanwhile.
func (s *Synchronizer) goLive(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	if gen != s.gen || s.session == nil {
		s.mu.Unlock()
		return nil
	}
	code := s.session.Code
	s.mu.Unlock()

	sub, err := s.sessions.Subscribe(ctx, code)
	if err != nil {
		return err
	}
	doc, err := s.sessions.GetDocument(ctx, code)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		sub.Close()
		return err
	}

	s.mu.Lock()
	if gen != s.gen || s.session == nil || s.state != StateHosting || s.sub != nil {
		s.mu.Unlock()
		sub.Close()
		return nil
	}
	if doc == nil {
		s.onDocumentRemovedLocked()
		s.mu.Unlock()
		sub.Close()
		s.notify()
		return nil
	}
	changed := s.reconcileLocked(doc)
	s.sub = sub
	s.state = StateLive
	s.mu.Unlock()

	go s.watch(ctx, sub, gen)
	if changed {
		s.notify()
	}
	glog.Infof("[livesync] round %s is live", code)
	return nil
}

// reconcileLocked applies everything that changed remotely since the baseline and
// adopts doc as the new baseline. Local changes that were not pushed yet survive,
// because only the remote side of the difference is applied.
func (s *Synchronizer) reconcileLocked(doc store.Document) bool {
	if s.baseline == nil {
		s.baseline = store.Clone(doc)
		return false
	}
	// Participants in a fresh read are current, whatever an earlier removal said.
	if players, ok := store.AsMap(doc[models.PlayersField]); ok {
		for id := range players {
			if t, ok := s.removed[id]; ok && !t.at.IsZero() {
				delete(s.removed, id)
			}
		}
	}
	changed := false
	for _, ev := range feed.Diff(s.baseline, doc, models.SessionChildren, "") {
		if s.applyLocked(ev) {
			changed = true
		}
	}
	s.baseline = store.Clone(doc)
	return changed
}

// watch applies events until the subscription ends. If the feed dropped the
// subscription while the round is still live, it resubscribes.
func (s *Synchronizer) watch(ctx context.Context, sub store.Subscription, gen uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				s.resubscribe(ctx, sub, gen)
				return
			}
			s.handleEvent(gen, ev)
		}
	}
}

func (s *Synchronizer) resubscribe(ctx context.Context, dropped store.Subscription, gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.sub != dropped || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.sub = nil
	s.state = StateHosting
	code := s.session.Code
	s.mu.Unlock()
	glog.Infof("[livesync] change-feed of %s dropped, resubscribing", code)

	for {
		err := s.goLive(ctx, gen)
		if err == nil {
			return
		}
		glog.Infof("[livesync] resubscribing to %s failed: %v", code, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.RetryInterval):
		}
	}
}

func (s *Synchronizer) handleEvent(gen uint64, ev store.Event) {
	s.mu.Lock()
	if gen != s.gen || s.session == nil {
		s.mu.Unlock()
		return
	}
	if ev.Origin != "" && ev.Origin == s.opts.DeviceID {
		if ev.Parent == models.PlayersField && ev.Kind == store.EventRemoved {
			s.stampRemovalLocked(ev.ChildKey, ev.At)
		}
		s.mu.Unlock()
		return
	}
	var changed bool
	if ev.IsDocumentRemoved() {
		s.onDocumentRemovedLocked()
		changed = true
	} else {
		changed = s.applyLocked(ev)
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// applyLocked routes one remote event to its handler and keeps the baseline in step.
func (s *Synchronizer) applyLocked(ev store.Event) bool {
	switch ev.Parent {
	case "":
		return s.onRootFieldChanged(ev.ChildKey, ev.Value)

	case models.PlayersField:
		s.setBaselineChild(ev.ChildKey, ev.Kind, ev.Value)
		if ev.Kind == store.EventRemoved {
			return s.onParticipantRemoved(ev.ChildKey, ev.At)
		}
		p, err := models.DecodeParticipant(ev.Value)
		if err != nil {
			glog.Warningf("[livesync] skipping malformed participant %s: %v", ev.ChildKey, err)
			return false
		}
		if p.ID == "" {
			p.ID = ev.ChildKey
		}
		if ev.Kind == store.EventAdded {
			return s.onParticipantAdded(p, ev.At)
		}
		return s.onParticipantChanged(p, ev.At)
	}
	glog.V(2).Infof("[livesync] ignoring event on %s/%s", ev.Parent, ev.ChildKey)
	return false
}

func (s *Synchronizer) setBaselineChild(key string, kind store.EventKind, value any) {
	if s.baseline == nil {
		return
	}
	var v any
	if kind != store.EventRemoved {
		v = value
	}
	s.baseline = store.Merge(s.baseline, store.Document{models.PlayersField: map[string]any{key: v}})
}

// onRootFieldChanged overwrites one root field of the aggregate, coercing the value.
// Keys that are not root fields (the code, the participant map, unknown keys) are
// ignored.
func (s *Synchronizer) onRootFieldChanged(key string, value any) bool {
	f, ok := models.ParseRootField(key)
	if !ok {
		glog.V(2).Infof("[livesync] ignoring root key %q", key)
		return false
	}
	if s.baseline != nil {
		s.baseline = store.Merge(s.baseline, store.Document{key: value})
	}
	if err := f.Apply(s.session, value); err != nil {
		glog.Warningf("[livesync] skipping malformed %s: %v", f, err)
		return false
	}
	if f == models.FieldNumberOfHoles {
		for i := range s.session.Players {
			s.session.Players[i].EnsureHoles(s.session.NumberOfHoles)
		}
	}
	return true
}

// onParticipantAdded appends a participant the aggregate does not have yet. Repeated
// delivery is a no-op, and so is an add that predates a removal of the same id.
func (s *Synchronizer) onParticipantAdded(p models.Participant, at time.Time) bool {
	if s.session.HasParticipant(p.ID) {
		return false
	}
	if s.tombstonedLocked(p.ID, at) {
		glog.V(1).Infof("[livesync] ignoring stale add of removed participant %s", p.ID)
		return false
	}
	p.EnsureHoles(s.session.NumberOfHoles)
	s.session.Players = append(s.session.Players, p)
	s.session.SortPlayers()
	return true
}

// onParticipantChanged copies the scalar fields of p onto the local participant and
// merges holes by number: remote strokes overwrite, new holes are appended, holes the
// remote copy does not mention are kept. A change for an unknown participant is
// treated as an add, since the add may still be on its way.
func (s *Synchronizer) onParticipantChanged(p models.Participant, at time.Time) bool {
	local := s.session.Participant(p.ID)
	if local == nil {
		return s.onParticipantAdded(p, at)
	}
	local.Name = p.Name
	local.Photo = p.Photo
	local.Email = p.Email
	local.InGame = p.InGame
	local.Order = p.Order
	mergeHoles(local, p.Holes)
	local.EnsureHoles(s.session.NumberOfHoles)
	s.session.SortPlayers()
	return true
}

func mergeHoles(local *models.Participant, remote []models.HoleScore) {
	for _, rh := range remote {
		if lh := local.Hole(rh.Number); lh != nil {
			lh.Strokes = rh.Strokes
			continue
		}
		local.Holes = append(local.Holes, rh)
	}
	models.SortHoles(local.Holes)
}

func (s *Synchronizer) onParticipantRemoved(id string, at time.Time) bool {
	s.tombstoneLocked(id, at)
	return s.session.RemoveParticipant(id)
}

// onDocumentRemovedLocked handles deletion of the remote round, which means its host
// dismissed or finished it.
func (s *Synchronizer) onDocumentRemovedLocked() {
	glog.Infof("[livesync] round %s was removed remotely", s.session.Code)
	s.stopLocked()
	s.session.Live = false
	if !s.session.Completed {
		s.session.Dismissed = true
	}
	s.state = StateTornDown
}

// tombstone remembers a removed participant. at is the feed's time of the removal,
// so it compares with the times of later adds; a local removal has none until the
// echo of its push arrives. expires is on the local clock.
type tombstone struct {
	at      time.Time
	expires time.Time
}

// tombstoneLocked records a removal of id. A zero at marks a local removal that has
// not been echoed yet.
func (s *Synchronizer) tombstoneLocked(id string, at time.Time) {
	now := s.opts.Now()
	for other, t := range s.removed {
		if now.After(t.expires) {
			delete(s.removed, other)
		}
	}
	if prev, ok := s.removed[id]; ok && !at.IsZero() && prev.at.After(at) {
		return
	}
	s.removed[id] = tombstone{at: at, expires: now.Add(s.opts.TombstoneTTL)}
}

// stampRemovalLocked gives a pending local removal the feed's time of it.
func (s *Synchronizer) stampRemovalLocked(id string, at time.Time) {
	if t, ok := s.removed[id]; ok && t.at.IsZero() && !at.IsZero() {
		t.at = at
		s.removed[id] = t
	}
}

// tombstonedLocked reports whether an add of id stamped at predates a live removal
// of id. An unstamped removal blocks every add: the feed delivers in commit order, so
// an add seen before the echo of a local removal was committed before it. Adds
// without a timestamp are blocked by any live tombstone.
func (s *Synchronizer) tombstonedLocked(id string, at time.Time) bool {
	t, ok := s.removed[id]
	if !ok || s.opts.Now().After(t.expires) {
		return false
	}
	return t.at.IsZero() || at.IsZero() || !at.After(t.at)
}
