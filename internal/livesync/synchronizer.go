// Package livesync keeps one device's copy of a live round in step with the copy every
// other device of the round sees.
//
// A Synchronizer owns a single Session aggregate. Local mutations are applied to it at
// once and pushed in the background, with bursts of mutations collapsed into one
// write of the latest state. Remote changes arrive from the change-feed as child-level
// events and are merged in field by field (root fields) and participant by participant,
// never by reloading the whole document.
//
// Lifecycle:
//
//	Idle --Create/Join--> Hosting --first push + subscribe--> Live
//	Live --Suspend / remote deletion--> TornDown --Resume--> Hosting
//	any --Leave/Dismiss/Finish--> Idle
package livesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/repository"
	"github.com/trentd187/scorecard-sync/internal/store"
)

// State is the synchronization state of a Synchronizer.
type State int

const (
	// StateIdle: no aggregate loaded, no subscription.
	StateIdle State = iota
	// StateHosting: aggregate set up locally; the remote document is not yet known to
	// match it or no subscription is active yet.
	StateHosting
	// StateLive: a push has succeeded and the change-feed subscription is active.
	StateLive
	// StateTornDown: subscription cancelled, aggregate retained.
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHosting:
		return "hosting"
	case StateLive:
		return "live"
	case StateTornDown:
		return "torn-down"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrSessionActive        = errors.New("livesync: a session is already active")
	ErrNoSession            = errors.New("livesync: no session loaded")
	ErrUnknownParticipant   = errors.New("livesync: unknown participant")
	ErrDuplicateParticipant = errors.New("livesync: participant already in session")
	ErrInvalidHole          = errors.New("livesync: invalid hole or stroke count")
)

// JoinError is returned by Join when the round cannot be joined. Reason is meant to be
// shown to the user.
type JoinError struct {
	Code   string
	Reason string
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("cannot join %s: %s", e.Code, e.Reason)
}

// SessionStore is the remote side of a live round. *repository.Sessions implements it.
type SessionStore interface {
	Get(ctx context.Context, code string) (*models.Session, error)
	GetDocument(ctx context.Context, code string) (store.Document, error)
	PutDocument(ctx context.Context, code string, doc store.Document) error
	Merge(ctx context.Context, code string, partial store.Document) error
	Delete(ctx context.Context, code string) error
	Subscribe(ctx context.Context, code string) (store.Subscription, error)
}

// Archiver receives a finished round. *repository.Rounds implements it.
type Archiver interface {
	Archive(ctx context.Context, s *models.Session) (string, error)
}

// Options configure a Synchronizer. Zero fields get defaults.
type Options struct {
	DeviceID      string              // Tags pushes so the device can ignore its own echoes; default random
	Network       store.NetworkStatus // Default store.AlwaysOnline
	Archiver      Archiver            // Optional; Finish skips archiving without one
	PushDebounce  time.Duration       // Default 250ms
	RetryInterval time.Duration       // Failed pushes and subscriptions are retried this often; default 5s
	TombstoneTTL  time.Duration       // How long a removal blocks a stale add; default 30s
	Now           func() time.Time
	NewCode       func() string
}

func (o *Options) applyDefaults() {
	if o.DeviceID == "" {
		o.DeviceID = uuid.NewString()
	}
	if o.Network == nil {
		o.Network = store.AlwaysOnline{}
	}
	if o.PushDebounce <= 0 {
		o.PushDebounce = 250 * time.Millisecond
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 5 * time.Second
	}
	if o.TombstoneTTL <= 0 {
		o.TombstoneTTL = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewCode == nil {
		o.NewCode = NewCode
	}
}

// Synchronizer owns one Session aggregate. All methods are safe for concurrent use;
// mutations and remote events are serialized on one lock.
type Synchronizer struct {
	sessions SessionStore
	opts     Options

	// pushMu is held for the whole of a push, so at most one is in flight and Flush
	// can wait for the current one.
	pushMu sync.Mutex

	mu       sync.Mutex
	state    State
	session  *models.Session
	baseline store.Document // last known remote document; nil until the first push succeeded
	self     string         // participant id of this device's user
	host     bool
	dirty    bool
	removed  map[string]tombstone // participant id -> removal

	gen    uint64 // bumped on every start and stop; stale goroutines compare it
	runCtx context.Context
	cancel context.CancelFunc
	sub    store.Subscription

	kick    chan struct{} // depth 1: "something is dirty"
	updates chan struct{} // depth 1: "the aggregate changed"
}

// New returns an idle Synchronizer.
func New(sessions SessionStore, opts Options) *Synchronizer {
	opts.applyDefaults()
	return &Synchronizer{
		sessions: sessions,
		opts:     opts,
		removed:  make(map[string]tombstone),
		kick:     make(chan struct{}, 1),
		updates:  make(chan struct{}, 1),
	}
}

// DeviceID identifies this device's writes.
func (s *Synchronizer) DeviceID() string {
	return s.opts.DeviceID
}

func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SyncActive reports whether local changes are pushed and remote changes applied.
func (s *Synchronizer) SyncActive() bool {
	return s.State() == StateLive
}

// Code is the code of the loaded session, or "".
func (s *Synchronizer) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ""
	}
	return s.session.Code
}

// Self is the participant id this device plays as.
func (s *Synchronizer) Self() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Snapshot returns a deep copy of the aggregate, or nil when idle.
func (s *Synchronizer) Snapshot() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone()
}

// Participants returns a copy of the ordered participant list.
func (s *Synchronizer) Participants() []models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	out := make([]models.Participant, len(s.session.Players))
	for i, p := range s.session.Players {
		out[i] = p.Clone()
	}
	return out
}

// Updates receives a value after the aggregate changed, locally or remotely.
// Bursts of changes may be reported once.
func (s *Synchronizer) Updates() <-chan struct{} {
	return s.updates
}

func (s *Synchronizer) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) active() bool {
	return s.state == StateHosting || s.state == StateLive
}

// Create starts a new round hosted by this device and returns its code. The initial
// push happens before Create returns; if it fails the round stays in StateHosting and
// the push is retried in the background.
func (s *Synchronizer) Create(ctx context.Context, host models.Participant, holeCount int, courseID string) (string, error) {
	if holeCount <= 0 {
		return "", fmt.Errorf("%w: %d holes", ErrInvalidHole, holeCount)
	}
	if host.ID == "" {
		return "", fmt.Errorf("livesync: host participant has no id")
	}

	s.mu.Lock()
	if s.active() {
		s.mu.Unlock()
		return "", ErrSessionActive
	}
	s.stopLocked()
	s.resetLocked()

	now := s.opts.Now()
	host.InGame = true
	host.Order = 0
	host.EnsureHoles(holeCount)
	s.session = &models.Session{
		Code:          s.opts.NewCode(),
		Date:          now,
		Live:          true,
		NumberOfHoles: holeCount,
		CourseID:      courseID,
		HostID:        host.ID,
		Players:       []models.Participant{host},
	}
	s.self, s.host = host.ID, true
	s.dirty = true
	s.state = StateHosting
	s.startLocked()
	code := s.session.Code
	s.mu.Unlock()
	s.notify()

	glog.Infof("[livesync] created round %s with %d holes", code, holeCount)
	if err := s.sync(ctx); err != nil {
		glog.Infof("[livesync] round %s not live yet: %v", code, err)
	}
	return code, nil
}

// Join loads the round with the given code and adds p to it. It fails with a
// *JoinError when the round does not exist, can no longer be joined, or already has a
// participant with p's id.
func (s *Synchronizer) Join(ctx context.Context, code string, p models.Participant) error {
	code = NormalizeCode(code)
	if p.ID == "" {
		return fmt.Errorf("livesync: joining participant has no id")
	}
	if s.State() == StateHosting || s.State() == StateLive {
		return ErrSessionActive
	}
	if !repository.ValidKey(code) {
		return &JoinError{Code: code, Reason: "that is not a valid round code"}
	}
	if !s.opts.Network.IsConnected() {
		return fmt.Errorf("join %s: %w", code, store.ErrOffline)
	}

	remote, err := s.sessions.Get(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return &JoinError{Code: code, Reason: "no round with this code exists"}
	}
	if err != nil {
		return fmt.Errorf("join %s: %w", code, err)
	}
	switch {
	case remote.Dismissed:
		return &JoinError{Code: code, Reason: "the round was cancelled by its host"}
	case remote.Completed:
		return &JoinError{Code: code, Reason: "the round is already over"}
	case remote.Started:
		return &JoinError{Code: code, Reason: "the round has already started"}
	case remote.HasParticipant(p.ID):
		return &JoinError{Code: code, Reason: "you are already in this round"}
	}

	baseline := models.EncodeSession(remote)
	p.InGame = true
	p.Order = remote.NextOrder()
	p.EnsureHoles(remote.NumberOfHoles)
	remote.Players = append(remote.Players, p)
	remote.SortPlayers()

	s.mu.Lock()
	if s.active() {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.stopLocked()
	s.resetLocked()
	s.session = remote
	s.baseline = baseline
	s.self, s.host = p.ID, false
	s.dirty = true
	s.state = StateHosting
	s.startLocked()
	s.mu.Unlock()

	// Push before subscribing: nobody sees this device until its participant is written.
	if err := s.push(ctx); err != nil {
		s.mu.Lock()
		s.stopLocked()
		s.resetLocked()
		s.mu.Unlock()
		return fmt.Errorf("join %s: %w", code, err)
	}
	s.notify()
	if err := s.sync(ctx); err != nil {
		glog.Infof("[livesync] joined %s, subscription pending: %v", code, err)
	}
	glog.Infof("[livesync] joined round %s as %s", code, p.ID)
	return nil
}

// Mutate applies fn to the aggregate and schedules a push. The session code cannot be
// changed; hole lists are re-synthesized to the hole count afterwards.
func (s *Synchronizer) Mutate(fn func(*models.Session)) error {
	return s.update(func(sess *models.Session) error {
		fn(sess)
		return nil
	})
}

// update is Mutate with a validating fn; an error leaves the aggregate untouched.
func (s *Synchronizer) update(fn func(*models.Session) error) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	work := s.session.Clone()
	if err := fn(work); err != nil {
		s.mu.Unlock()
		return err
	}
	work.Code = s.session.Code
	for i := range work.Players {
		work.Players[i].EnsureHoles(work.NumberOfHoles)
	}
	work.SortPlayers()
	for _, p := range s.session.Players {
		if !work.HasParticipant(p.ID) {
			s.tombstoneLocked(p.ID, time.Time{})
		}
	}
	s.session = work
	s.dirty = true
	push := s.active()
	s.mu.Unlock()

	s.notify()
	if push {
		s.kickPush()
	}
	return nil
}

// AddParticipant appends p to the round.
func (s *Synchronizer) AddParticipant(p models.Participant) error {
	if p.ID == "" {
		return fmt.Errorf("livesync: participant has no id")
	}
	return s.update(func(sess *models.Session) error {
		if sess.HasParticipant(p.ID) {
			return ErrDuplicateParticipant
		}
		p.InGame = true
		p.Order = sess.NextOrder()
		sess.Players = append(sess.Players, p)
		return nil
	})
}

// AddGuest adds a player without an account under a generated id.
func (s *Synchronizer) AddGuest(name string) (models.Participant, error) {
	p := models.Participant{ID: "guest-" + uuid.NewString(), Name: name}
	if err := s.AddParticipant(p); err != nil {
		return models.Participant{}, err
	}
	return p, nil
}

// RemoveParticipant removes a participant from the round.
func (s *Synchronizer) RemoveParticipant(id string) error {
	return s.update(func(sess *models.Session) error {
		if !sess.RemoveParticipant(id) {
			return ErrUnknownParticipant
		}
		return nil
	})
}

// SetStrokes records strokes for one hole of one participant. 0 clears the hole.
func (s *Synchronizer) SetStrokes(participantID string, hole, strokes int) error {
	if strokes < 0 {
		return fmt.Errorf("%w: %d strokes", ErrInvalidHole, strokes)
	}
	return s.update(func(sess *models.Session) error {
		p := sess.Participant(participantID)
		if p == nil {
			return ErrUnknownParticipant
		}
		if hole < 1 || hole > max(sess.NumberOfHoles, len(p.Holes)) {
			return fmt.Errorf("%w: hole %d", ErrInvalidHole, hole)
		}
		p.EnsureHoles(sess.NumberOfHoles)
		if h := p.Hole(hole); h != nil {
			h.Strokes = strokes
			return nil
		}
		p.Holes = append(p.Holes, models.HoleScore{Number: hole, Strokes: strokes})
		models.SortHoles(p.Holes)
		return nil
	})
}

// Start marks the round as started; nobody can join it afterwards.
func (s *Synchronizer) Start() error {
	now := s.opts.Now()
	return s.Mutate(func(sess *models.Session) {
		sess.Started = true
		if sess.StartTime.IsZero() {
			sess.StartTime = now
		}
	})
}

// Complete marks the round as completed without tearing it down.
func (s *Synchronizer) Complete() error {
	return s.Mutate(func(sess *models.Session) {
		sess.Completed = true
	})
}

// Flush waits for an in-flight push and then pushes whatever is still dirty.
func (s *Synchronizer) Flush(ctx context.Context) error {
	return s.push(ctx)
}

// Leave removes participantID from the round, pushes that, and only after the push
// returned tears down the subscription and resets to Idle. A failed final push is
// logged; the local teardown happens regardless.
func (s *Synchronizer) Leave(ctx context.Context, participantID string) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	code := s.session.Code
	if s.session.RemoveParticipant(participantID) {
		s.tombstoneLocked(participantID, time.Time{})
		s.dirty = true
	}
	s.mu.Unlock()

	if err := s.Flush(ctx); err != nil {
		glog.Infof("[livesync] leaving %s: departure not pushed: %v", code, err)
	}

	s.mu.Lock()
	s.stopLocked()
	s.resetLocked()
	s.mu.Unlock()
	s.notify()
	glog.Infof("[livesync] left round %s", code)
	return nil
}

// Dismiss cancels the round for everyone: it unsubscribes, marks the round dismissed,
// pushes that and deletes the remote document.
func (s *Synchronizer) Dismiss(ctx context.Context) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.stopLocked()
	s.state = StateTornDown
	s.session.Dismissed = true
	s.session.Live = false
	s.dirty = true
	code := s.session.Code
	s.mu.Unlock()

	if err := s.push(ctx); err != nil {
		glog.Infof("[livesync] dismissing %s: push failed: %v", code, err)
	}
	if repository.ValidKey(code) {
		if err := s.sessions.Delete(store.WithOrigin(ctx, s.opts.DeviceID), code); err != nil {
			glog.Infof("[livesync] dismissing %s: delete failed: %v", code, err)
		}
	}

	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.notify()
	glog.Infof("[livesync] dismissed round %s", code)
	return nil
}

// Finish ends the round: it unsubscribes, stamps the end time and hands a copy of the
// round to the Archiver. The host also pushes the completed round and then deletes
// the live document. If archiving fails the aggregate is kept (TornDown) and Finish
// can be retried.
func (s *Synchronizer) Finish(ctx context.Context) (*models.Session, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return nil, ErrNoSession
	}
	s.stopLocked()
	s.state = StateTornDown
	s.session.EndTime = s.opts.Now()
	s.session.Completed = true
	s.session.Live = false
	finished := s.session.Clone()
	host := s.host
	s.mu.Unlock()

	if s.opts.Archiver != nil {
		key, err := s.opts.Archiver.Archive(ctx, finished)
		if err != nil {
			return nil, fmt.Errorf("finish %s: archive: %w", finished.Code, err)
		}
		glog.Infof("[livesync] archived round %s as %s", finished.Code, key)
	}
	if host && repository.ValidKey(finished.Code) {
		// Guests see the round completed before it disappears, so they don't take
		// the deletion for a dismissal.
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		if err := s.push(ctx); err != nil {
			glog.Infof("[livesync] finishing %s: final push failed: %v", finished.Code, err)
		}
		if err := s.sessions.Delete(store.WithOrigin(ctx, s.opts.DeviceID), finished.Code); err != nil {
			glog.Infof("[livesync] finishing %s: delete failed: %v", finished.Code, err)
		}
	}

	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.notify()
	return finished, nil
}

// Suspend stops synchronization but keeps the aggregate, for example while the app is
// in the background.
func (s *Synchronizer) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active() {
		return
	}
	s.stopLocked()
	s.state = StateTornDown
}

// Resume restarts synchronization of a suspended round: it resubscribes, applies what
// changed remotely meanwhile and pushes pending local changes.
func (s *Synchronizer) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.session == nil || s.state != StateTornDown {
		s.mu.Unlock()
		return ErrNoSession
	}
	if s.session.Dismissed {
		s.mu.Unlock()
		return &JoinError{Code: s.session.Code, Reason: "the round was cancelled by its host"}
	}
	s.state = StateHosting
	s.startLocked()
	s.mu.Unlock()
	return s.sync(ctx)
}

// Close stops every background goroutine. The aggregate is kept.
func (s *Synchronizer) Close() {
	s.Suspend()
}

// startLocked starts the push worker of a new live period.
func (s *Synchronizer) startLocked() {
	s.gen++
	ctx, cancel := context.WithCancel(context.Background())
	s.runCtx, s.cancel = ctx, cancel
	go s.worker(ctx)
}

// stopLocked cancels the worker and the subscription. Goroutines of the stopped period
// notice through their context or the changed generation.
func (s *Synchronizer) stopLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel, s.runCtx = nil, nil
	}
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}

func (s *Synchronizer) resetLocked() {
	s.session = nil
	s.baseline = nil
	s.self, s.host = "", false
	s.dirty = false
	s.removed = make(map[string]tombstone)
	s.state = StateIdle
}

func (s *Synchronizer) kickPush() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}
