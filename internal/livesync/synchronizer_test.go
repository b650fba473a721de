package livesync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/trentd187/scorecard-sync/internal/feed"
	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/repository"
	"github.com/trentd187/scorecard-sync/internal/store"
	"github.com/trentd187/scorecard-sync/internal/store/memory"
)

type env struct {
	docs     *memory.Store
	sessions *repository.Sessions
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := feed.NewHub(64)
	go hub.Run(ctx)
	docs := memory.New(memory.WithFeed(hub), memory.WithChildren(repository.SessionsCollection, models.SessionChildren...))
	return &env{docs: docs, sessions: repository.NewSessions(docs, docs)}
}

func (e *env) device(t *testing.T, id string, mod ...func(*Options)) *Synchronizer {
	t.Helper()
	opts := Options{DeviceID: id, PushDebounce: 5 * time.Millisecond, RetryInterval: 20 * time.Millisecond}
	for _, m := range mod {
		m(&opts)
	}
	s := New(e.sessions, opts)
	t.Cleanup(s.Close)
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type switchNetwork struct {
	online atomic.Bool
}

func (n *switchNetwork) IsConnected() bool { return n.online.Load() }

// --- Remote event application ---

func loaded(holes int, players ...models.Participant) *Synchronizer {
	s := New(nil, Options{DeviceID: "dev-a"})
	s.session = &models.Session{Code: "K7PQ2M", NumberOfHoles: holes, Players: players}
	return s
}

func TestParticipantAddIsIdempotent(t *testing.T) {
	s := loaded(9)
	b := models.Participant{ID: "b", Name: "Bob"}

	assert.Equal(t, true, s.onParticipantAdded(b, time.Now()))
	assert.Equal(t, false, s.onParticipantAdded(b, time.Now()))

	assert.Equal(t, 1, len(s.session.Players))
	assert.Equal(t, 9, len(s.session.Players[0].Holes))
}

func TestHoleMergePreservesUnseenRemoteHoles(t *testing.T) {
	local := models.Participant{ID: "b", Name: "Bob"}
	local.EnsureHoles(18)
	for i := range local.Holes {
		local.Holes[i].Strokes = 5
	}
	s := loaded(18, local)

	remote := models.Participant{ID: "b", Name: "Bobby", InGame: true, Holes: []models.HoleScore{{Number: 1, Strokes: 3}, {Number: 2, Strokes: 4}}}
	assert.Equal(t, true, s.onParticipantChanged(remote, time.Now()))

	got := s.session.Participant("b")
	assert.Equal(t, "Bobby", got.Name)
	assert.Equal(t, true, got.InGame)
	assert.Equal(t, 18, len(got.Holes))
	assert.Equal(t, 3, got.Hole(1).Strokes)
	assert.Equal(t, 4, got.Hole(2).Strokes)
	for n := 3; n <= 18; n++ {
		assert.Equal(t, 5, got.Hole(n).Strokes)
	}
}

func TestParticipantChangeAppendsNewHolesInOrder(t *testing.T) {
	s := loaded(2, models.Participant{ID: "b", Holes: []models.HoleScore{{Number: 1, Strokes: 4}, {Number: 2}}})
	s.onParticipantChanged(models.Participant{ID: "b", Holes: []models.HoleScore{{Number: 4, Strokes: 6}, {Number: 3, Strokes: 5}}}, time.Now())

	holes := s.session.Participant("b").Holes
	assert.Equal(t, []models.HoleScore{{Number: 1, Strokes: 4}, {Number: 2, Strokes: 0}, {Number: 3, Strokes: 5}, {Number: 4, Strokes: 6}}, holes)
}

func TestChangeBeforeAddConverges(t *testing.T) {
	s := loaded(3)
	s.onParticipantChanged(models.Participant{ID: "b", Holes: []models.HoleScore{{Number: 2, Strokes: 4}}}, time.Now())
	s.onParticipantAdded(models.Participant{ID: "b"}, time.Now())

	assert.Equal(t, 1, len(s.session.Players))
	assert.Equal(t, 4, s.session.Participant("b").Hole(2).Strokes)
	assert.Equal(t, 3, len(s.session.Participant("b").Holes))
}

func TestRootFieldChangesAreCoerced(t *testing.T) {
	s := loaded(9, models.Participant{ID: "a"})
	s.session.LastUpdated = time.UnixMilli(5000)

	assert.Equal(t, true, s.onRootFieldChanged("numberOfHoles", "18"))
	assert.Equal(t, 18, s.session.NumberOfHoles)
	assert.Equal(t, 18, len(s.session.Players[0].Holes))

	assert.Equal(t, true, s.onRootFieldChanged("startTime", int64(1760600000000)))
	assert.Equal(t, int64(1760600000000), s.session.StartTime.UnixMilli())

	assert.Equal(t, true, s.onRootFieldChanged("started", 1.0))
	assert.Equal(t, true, s.session.Started)

	s.onRootFieldChanged("lastUpdated", 1.0)
	assert.Equal(t, int64(5000), s.session.LastUpdated.UnixMilli())

	assert.Equal(t, false, s.onRootFieldChanged("code", "OTHER1"))
	assert.Equal(t, "K7PQ2M", s.session.Code)
	assert.Equal(t, false, s.onRootFieldChanged("players", map[string]any{}))
	assert.Equal(t, false, s.onRootFieldChanged("started", []any{}))
}

func TestMalformedParticipantEventIsSkipped(t *testing.T) {
	s := loaded(9, models.Participant{ID: "a"})
	changed := s.applyLocked(store.Event{Kind: store.EventAdded, Parent: models.PlayersField, ChildKey: "b", Value: "garbage"})
	assert.Equal(t, false, changed)
	assert.Equal(t, 1, len(s.session.Players))
}

func TestRemovalTombstoneBlocksStaleAdd(t *testing.T) {
	s := loaded(9, models.Participant{ID: "b"})
	removedAt := time.Now()

	assert.Equal(t, true, s.onParticipantRemoved("b", removedAt))
	assert.Equal(t, false, s.onParticipantAdded(models.Participant{ID: "b"}, removedAt.Add(-time.Second)))
	assert.Equal(t, false, s.onParticipantAdded(models.Participant{ID: "b"}, time.Time{}))
	assert.Equal(t, 0, len(s.session.Players))

	// A later add is a genuine rejoin.
	assert.Equal(t, true, s.onParticipantAdded(models.Participant{ID: "b"}, removedAt.Add(time.Second)))
}

func TestLocalRemovalUsesTheFeedClock(t *testing.T) {
	// This device's clock runs an hour ahead of the server.
	server := time.Now()
	s := loaded(9, models.Participant{ID: "a"}, models.Participant{ID: "b"})
	s.opts.Now = func() time.Time { return server.Add(time.Hour) }

	assert.Equal(t, nil, s.RemoveParticipant("b"))
	// Not echoed yet: anything still in flight predates the removal.
	assert.Equal(t, false, s.onParticipantAdded(models.Participant{ID: "b"}, server.Add(time.Minute)))

	s.handleEvent(s.gen, store.Event{Kind: store.EventRemoved, Parent: models.PlayersField, ChildKey: "b", Origin: "dev-a", At: server})
	assert.Equal(t, false, s.onParticipantAdded(models.Participant{ID: "b"}, server.Add(-time.Second)))

	// b rejoins a second later by the server's clock.
	assert.Equal(t, true, s.onParticipantAdded(models.Participant{ID: "b"}, server.Add(time.Second)))
	assert.Equal(t, true, s.session.HasParticipant("b"))
}

func TestTombstonesExpire(t *testing.T) {
	now := time.Now()
	s := loaded(9)
	s.opts.Now = func() time.Time { return now }
	s.onParticipantRemoved("b", now)

	now = now.Add(s.opts.TombstoneTTL + time.Second)
	assert.Equal(t, true, s.onParticipantAdded(models.Participant{ID: "b"}, time.Time{}))
}

func TestPatchOnlyCarriesDifferences(t *testing.T) {
	base := models.EncodeSession(&models.Session{Code: "K7PQ2M", NumberOfHoles: 2, Players: []models.Participant{
		{ID: "a", Holes: []models.HoleScore{{Number: 1, Strokes: 0}, {Number: 2, Strokes: 0}}},
		{ID: "b", Holes: []models.HoleScore{{Number: 1, Strokes: 0}, {Number: 2, Strokes: 0}}},
	}})
	cur := models.EncodeSession(&models.Session{Code: "K7PQ2M", NumberOfHoles: 2, Started: true, Players: []models.Participant{
		{ID: "a", Holes: []models.HoleScore{{Number: 1, Strokes: 3}, {Number: 2, Strokes: 0}}},
	}})

	p := patch(base, cur)
	assert.Equal(t, true, p["started"])
	players := p[models.PlayersField].(map[string]any)
	assert.Equal(t, 2, len(players))
	assert.Equal(t, nil, players["b"])
	assert.NotEqual(t, nil, players["a"])
	_, hasHoles := p["numberOfHoles"]
	assert.Equal(t, false, hasHoles)
}

// --- Lifecycle against a shared store ---

func TestEndToEndTwoDevices(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.device(t, "dev-a")
	b := e.device(t, "dev-b")

	code, err := a.Create(ctx, models.Participant{ID: "A", Name: "Ann"}, 9, "course-1")
	assert.Equal(t, nil, err)
	assert.Equal(t, StateLive, a.State())
	assert.Equal(t, 9, len(a.Snapshot().Participant("A").Holes))

	assert.Equal(t, nil, b.Join(ctx, code, models.Participant{ID: "B", Name: "Bob"}))
	assert.Equal(t, StateLive, b.State())
	assert.Equal(t, 2, len(b.Snapshot().Players))
	assert.Equal(t, 9, len(b.Snapshot().Participant("B").Holes))

	eventually(t, "A to see B", func() bool { return a.Snapshot().HasParticipant("B") })
	for _, p := range a.Participants() {
		assert.Equal(t, 9, len(p.Holes))
	}

	assert.Equal(t, nil, b.SetStrokes("B", 3, 4))
	eventually(t, "A to see B's hole 3", func() bool {
		p := a.Snapshot().Participant("B")
		return p != nil && p.Hole(3).Strokes == 4
	})
	bOnA := a.Snapshot().Participant("B")
	for _, h := range bOnA.Holes {
		if h.Number != 3 {
			assert.Equal(t, 0, h.Strokes)
		}
	}
	assert.Equal(t, 2, len(a.Snapshot().Players))
	assert.Equal(t, 9, len(a.Snapshot().Participant("A").Holes))
}

func TestJoinRejectsTerminalSessions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, s := range []*models.Session{
		{Code: "DSMSS1", Dismissed: true, NumberOfHoles: 9},
		{Code: "STRTD1", Started: true, NumberOfHoles: 9, Players: []models.Participant{{ID: "x"}}},
		{Code: "CMPLT1", Completed: true, NumberOfHoles: 9},
	} {
		assert.Equal(t, nil, e.sessions.Put(ctx, s))
		dev := e.device(t, "dev-join")
		err := dev.Join(ctx, s.Code, models.Participant{ID: "B"})
		var joinErr *JoinError
		assert.Equal(t, true, errors.As(err, &joinErr))
		assert.Equal(t, StateIdle, dev.State())
		assert.Equal(t, nil, dev.Snapshot())
	}
}

func TestJoinRejectsMissingAndDuplicate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	var joinErr *JoinError

	err := e.device(t, "dev-b").Join(ctx, "NOPE22", models.Participant{ID: "B"})
	assert.Equal(t, true, errors.As(err, &joinErr))

	err = e.device(t, "dev-b").Join(ctx, "AB.CD", models.Participant{ID: "B"})
	assert.Equal(t, true, errors.As(err, &joinErr))

	a := e.device(t, "dev-a")
	code, _ := a.Create(ctx, models.Participant{ID: "A"}, 9, "")
	err = e.device(t, "dev-a2").Join(ctx, code, models.Participant{ID: "A"})
	assert.Equal(t, true, errors.As(err, &joinErr))
	assert.Equal(t, "you are already in this round", joinErr.Reason)
}

func TestCreateRejectsWhileActive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.device(t, "dev-a")

	_, err := a.Create(ctx, models.Participant{ID: "A"}, 9, "")
	assert.Equal(t, nil, err)
	_, err = a.Create(ctx, models.Participant{ID: "A"}, 18, "")
	assert.Equal(t, ErrSessionActive, err)
	assert.Equal(t, ErrSessionActive, a.Join(ctx, "ABCDEF", models.Participant{ID: "A"}))
}

// countingSessions counts remote writes.
type countingSessions struct {
	*repository.Sessions
	merges atomic.Int32
}

func (c *countingSessions) Merge(ctx context.Context, code string, partial store.Document) error {
	c.merges.Add(1)
	return c.Sessions.Merge(ctx, code, partial)
}

func TestRapidMutationsCollapseIntoOnePush(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	counting := &countingSessions{Sessions: e.sessions}
	a := New(counting, Options{DeviceID: "dev-a", PushDebounce: 100 * time.Millisecond, RetryInterval: time.Minute})
	t.Cleanup(a.Close)

	code, err := a.Create(ctx, models.Participant{ID: "A"}, 18, "")
	assert.Equal(t, nil, err)

	for hole := 1; hole <= 18; hole++ {
		assert.Equal(t, nil, a.SetStrokes("A", hole, 4))
	}
	// Local state is visible immediately.
	assert.Equal(t, 72, a.Snapshot().Participant("A").TotalStrokes())

	eventually(t, "the collapsed push", func() bool {
		s, err := e.sessions.Get(ctx, code)
		return err == nil && s.Participant("A").TotalStrokes() == 72
	})
	assert.Equal(t, true, counting.merges.Load() <= 2)
}

func TestPushBumpsLastUpdated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.device(t, "dev-a")
	code, _ := a.Create(ctx, models.Participant{ID: "A"}, 9, "")

	first, err := e.sessions.Get(ctx, code)
	assert.Equal(t, nil, err)
	assert.Equal(t, "dev-a", first.UpdatedBy)

	assert.Equal(t, nil, a.SetStrokes("A", 1, 3))
	assert.Equal(t, nil, a.Flush(ctx))
	second, _ := e.sessions.Get(ctx, code)
	assert.Equal(t, true, second.LastUpdated.After(first.LastUpdated))
}

func TestIllegalCodeDisablesSync(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.device(t, "dev-a", func(o *Options) { o.NewCode = func() string { return "AB.CD" } })

	code, err := a.Create(ctx, models.Participant{ID: "A"}, 9, "")
	assert.Equal(t, nil, err)
	assert.Equal(t, "AB.CD", code)
	assert.Equal(t, false, a.SyncActive())
	assert.Equal(t, nil, a.SetStrokes("A", 1, 3))
	assert.Equal(t, nil, a.Flush(ctx))

	all, _ := e.docs.List(ctx, repository.SessionsCollection)
	assert.Equal(t, 0, len(all))
}

func TestOfflineCreateGoesLiveWhenOnline(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	network := &switchNetwork{}
	a := e.device(t, "dev-a", func(o *Options) { o.Network = network })

	code, err := a.Create(ctx, models.Participant{ID: "A"}, 9, "")
	assert.Equal(t, nil, err)
	assert.Equal(t, StateHosting, a.State())
	assert.Equal(t, nil, a.SetStrokes("A", 1, 5))
	_, err = e.sessions.Get(ctx, code)
	assert.Equal(t, store.ErrNotFound, err)

	network.online.Store(true)
	eventually(t, "the round to go live", a.SyncActive)
	eventually(t, "the offline score to reach the store", func() bool {
		s, err := e.sessions.Get(ctx, code)
		return err == nil && s.Participant("A").Hole(1).Strokes == 5
	})
}

func TestLeavePushesDepartureThenTearsDown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.device(t, "dev-a")
	b := e.device(t, "dev-b")

	code, _ := a.Create(ctx, models.Participant{ID: "A"}, 9, "")
	assert.Equal(t, nil, b.Join(ctx, code, models.Participant{ID: "B"}))
	eventually(t, "A to see B", func() bool { return a.Snapshot().HasParticipant("B") })

	assert.Equal(t, nil, b.Leave(ctx, "B"))
	assert.Equal(t, StateIdle, b.State())
	assert.Equal(t, nil, b.Snapshot())

	remote, err := e.sessions.Get(ctx, code)
	assert.Equal(t, nil, err)
	assert.Equal(t, false, remote.HasParticipant("B"))
	assert.Equal(t, true, remote.HasParticipant("A"))
	eventually(t, "A to see B leave", func() bool { return !a.Snapshot().HasParticipant("B") })
}

func TestDismissDeletesRoundAndTearsDownGuests(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.device(t, "dev-a")
	b := e.device(t, "dev-b")

	code, _ := a.Create(ctx, models.Participant{ID: "A"}, 9, "")
	assert.Equal(t, nil, b.Join(ctx, code, models.Participant{ID: "B"}))

	assert.Equal(t, nil, a.Dismiss(ctx))
	assert.Equal(t, StateIdle, a.State())
	_, err := e.sessions.Get(ctx, code)
	assert.Equal(t, store.ErrNotFound, err)

	eventually(t, "B to be torn down", func() bool { return b.State() == StateTornDown })
	assert.Equal(t, true, b.Snapshot().Dismissed)

	var joinErr *JoinError
	assert.Equal(t, true, errors.As(b.Resume(ctx), &joinErr))
}

func TestFinishArchivesACopy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rounds := repository.NewRounds(e.docs)
	a := e.device(t, "dev-a", func(o *Options) { o.Archiver = rounds })

	code, _ := a.Create(ctx, models.Participant{ID: "A"}, 3, "course-1")
	assert.Equal(t, nil, a.Start())
	for hole := 1; hole <= 3; hole++ {
		assert.Equal(t, nil, a.SetStrokes("A", hole, 4))
	}

	finished, err := a.Finish(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, finished.Completed)
	assert.Equal(t, false, finished.EndTime.IsZero())
	assert.Equal(t, 12, finished.Participant("A").TotalStrokes())
	assert.Equal(t, StateIdle, a.State())

	archived, err := e.docs.List(ctx, repository.RoundsCollection)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(archived))
	_, err = e.sessions.Get(ctx, code)
	assert.Equal(t, store.ErrNotFound, err)
}

type failingArchiver struct{ calls int }

func (f *failingArchiver) Archive(context.Context, *models.Session) (string, error) {
	f.calls++
	return "", errors.New("disk full")
}

func TestFinishKeepsRoundWhenArchiveFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	archiver := &failingArchiver{}
	a := e.device(t, "dev-a", func(o *Options) { o.Archiver = archiver })
	a.Create(ctx, models.Participant{ID: "A"}, 3, "")

	_, err := a.Finish(ctx)
	assert.NotEqual(t, nil, err)
	assert.Equal(t, StateTornDown, a.State())
	assert.NotEqual(t, nil, a.Snapshot())
	assert.Equal(t, 1, archiver.calls)
}

func TestSuspendAndResumeReconciles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.device(t, "dev-a")
	b := e.device(t, "dev-b")

	code, _ := a.Create(ctx, models.Participant{ID: "A"}, 9, "")
	assert.Equal(t, nil, b.Join(ctx, code, models.Participant{ID: "B"}))
	eventually(t, "A to see B", func() bool { return a.Snapshot().HasParticipant("B") })

	a.Suspend()
	assert.Equal(t, StateTornDown, a.State())
	assert.Equal(t, nil, a.SetStrokes("A", 1, 6)) // local only while suspended

	assert.Equal(t, nil, b.SetStrokes("B", 2, 5))
	assert.Equal(t, nil, b.Flush(ctx))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, a.Snapshot().Participant("B").Hole(2).Strokes)

	assert.Equal(t, nil, a.Resume(ctx))
	assert.Equal(t, StateLive, a.State())
	assert.Equal(t, 5, a.Snapshot().Participant("B").Hole(2).Strokes)
	assert.Equal(t, 6, a.Snapshot().Participant("A").Hole(1).Strokes)

	eventually(t, "A's offline score to be pushed", func() bool {
		s, err := e.sessions.Get(ctx, code)
		return err == nil && s.Participant("A").Hole(1).Strokes == 6 && s.Participant("B").Hole(2).Strokes == 5
	})
}

// flakySessions can refuse subscriptions and remembers the ones it handed out.
type flakySessions struct {
	*repository.Sessions
	down atomic.Bool
	mu   sync.Mutex
	subs []store.Subscription
}

func (f *flakySessions) Subscribe(ctx context.Context, code string) (store.Subscription, error) {
	if f.down.Load() {
		return nil, errors.New("connection refused")
	}
	sub, err := f.Sessions.Subscribe(ctx, code)
	if err == nil {
		f.mu.Lock()
		f.subs = append(f.subs, sub)
		f.mu.Unlock()
	}
	return sub, err
}

func TestResubscribesAfterFeedDrop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	flaky := &flakySessions{Sessions: e.sessions}
	a := New(flaky, Options{DeviceID: "dev-a", PushDebounce: 5 * time.Millisecond, RetryInterval: 20 * time.Millisecond})
	t.Cleanup(a.Close)

	code, _ := a.Create(ctx, models.Participant{ID: "A"}, 9, "")
	assert.Equal(t, StateLive, a.State())

	flaky.down.Store(true)
	flaky.mu.Lock()
	flaky.subs[0].Close()
	flaky.mu.Unlock()
	eventually(t, "A to notice the drop", func() bool { return a.State() == StateHosting })

	// Written while A is not subscribed.
	c := models.Participant{ID: "C", Name: "Cat", Order: 1}
	c.EnsureHoles(9)
	assert.Equal(t, nil, e.sessions.Merge(store.WithOrigin(ctx, "dev-c"), code, store.Document{
		models.PlayersField: map[string]any{"C": models.EncodeParticipant(c)},
	}))

	flaky.down.Store(false)
	eventually(t, "A to resubscribe", a.SyncActive)
	assert.Equal(t, true, a.Snapshot().HasParticipant("C"))
}

func TestEchoesOfOwnWritesAreIgnored(t *testing.T) {
	s := loaded(9, models.Participant{ID: "a"})
	s.state = StateLive
	gen := s.gen
	s.handleEvent(gen, store.Event{Kind: store.EventRemoved, Parent: models.PlayersField, ChildKey: "a", Origin: "dev-a"})
	assert.Equal(t, 1, len(s.session.Players))

	s.handleEvent(gen, store.Event{Kind: store.EventRemoved, Parent: models.PlayersField, ChildKey: "a", Origin: "dev-b"})
	assert.Equal(t, 0, len(s.session.Players))
}

func TestNewCodeAlphabet(t *testing.T) {
	for i := 0; i < 200; i++ {
		code := NewCode()
		assert.Equal(t, CodeLength, len(code))
		for _, r := range code {
			assert.NotEqual(t, -1, indexRune(codeAlphabet, r))
		}
		assert.Equal(t, true, repository.ValidKey(code))
	}
	assert.Equal(t, "K7PQ2M", NormalizeCode("  k7pq2m "))
}

func indexRune(s string, r rune) int {
	for i, c := range s {
		if c == r {
			return i
		}
	}
	return -1
}
