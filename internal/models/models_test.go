package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/trentd187/scorecard-sync/internal/store"
)

func TestParticipantDerivedViews(t *testing.T) {
	p := Participant{ID: "a", Holes: []HoleScore{{1, 4}, {2, 5}, {3, 0}}}
	assert.Equal(t, 9, p.TotalStrokes())
	assert.Equal(t, true, p.Incomplete())

	p.Holes[2].Strokes = 3
	assert.Equal(t, 12, p.TotalStrokes())
	assert.Equal(t, false, p.Incomplete())
}

func TestEnsureHolesSynthesizesAndDedups(t *testing.T) {
	p := Participant{ID: "a", Holes: []HoleScore{{3, 4}, {1, 2}, {3, 7}}}
	p.EnsureHoles(4)

	assert.Equal(t, []HoleScore{{1, 2}, {2, 0}, {3, 4}, {4, 0}}, p.Holes)

	// Holes beyond the session's count are kept, never dropped.
	p.EnsureHoles(2)
	assert.Equal(t, 4, len(p.Holes))
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := &Session{Code: "ABC123", Players: []Participant{{ID: "a", Holes: []HoleScore{{1, 4}}}}}
	c := s.Clone()
	c.Players[0].Holes[0].Strokes = 9
	c.Players[0].Name = "changed"
	assert.Equal(t, 4, s.Players[0].Holes[0].Strokes)
	assert.Equal(t, "", s.Players[0].Name)
}

func TestSessionTerminal(t *testing.T) {
	assert.Equal(t, false, (&Session{}).Terminal())
	assert.Equal(t, true, (&Session{Dismissed: true}).Terminal())
	assert.Equal(t, true, (&Session{Started: true}).Terminal())
	assert.Equal(t, true, (&Session{Completed: true}).Terminal())
}

func TestSessionDocumentRoundTrip(t *testing.T) {
	start := time.UnixMilli(1760600000123)
	s := &Session{
		Code:          "K7PQ2M",
		StartTime:     start,
		Live:          true,
		NumberOfHoles: 2,
		CourseID:      "course-1",
		HostID:        "a",
		LastUpdated:   start.Add(time.Minute),
		Players: []Participant{
			{ID: "a", Name: "Ann", InGame: true, Order: 0, Holes: []HoleScore{{1, 3}, {2, 0}}},
			{ID: "b", Name: "Bob", Email: "bob@example.com", Order: 1, Holes: []HoleScore{{1, 4}, {2, 5}}},
		},
	}

	// Push the document through JSON like a real store would.
	raw, err := json.Marshal(EncodeSession(s))
	assert.Equal(t, nil, err)
	var doc store.Document
	assert.Equal(t, nil, json.Unmarshal(raw, &doc))

	got, err := DecodeSession(doc)
	assert.Equal(t, nil, err)
	assert.Equal(t, s.Code, got.Code)
	assert.Equal(t, true, got.StartTime.Equal(start))
	assert.Equal(t, true, got.LastUpdated.Equal(s.LastUpdated))
	assert.Equal(t, true, got.EndTime.IsZero())
	assert.Equal(t, s.Players, got.Players)
}

func TestDecodeSessionSkipsMalformedParticipants(t *testing.T) {
	doc := store.Document{
		"code": "K7PQ2M",
		"players": map[string]any{
			"a":   map[string]any{"id": "a", "name": "Ann", "holes": []any{}},
			"bad": "not a participant",
		},
	}
	s, err := DecodeSession(doc)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(s.Players))
}

func TestDecodeHolesAcceptsIndexedMap(t *testing.T) {
	p, err := DecodeParticipant(map[string]any{
		"id": "a",
		"holes": map[string]any{
			"1": map[string]any{"number": "2", "strokes": 5},
			"0": map[string]any{"number": 1.0, "strokes": json.Number("4")},
		},
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, []HoleScore{{1, 4}, {2, 5}}, p.Holes)
}

func TestAsTimeEncodings(t *testing.T) {
	want := time.UnixMilli(1760600000500)

	for _, v := range []any{1760600000.5, int64(1760600000500), "2025-10-16T07:33:20.5Z", json.Number("1760600000.5")} {
		got, err := AsTime(v)
		assert.Equal(t, nil, err)
		assert.Equal(t, true, got.Equal(want))
	}

	zero, err := AsTime(nil)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, zero.IsZero())

	_, err = AsTime(true)
	assert.NotEqual(t, nil, err)
}

func TestRootFieldTableIsTotal(t *testing.T) {
	seen := map[string]bool{}
	for _, f := range RootFields() {
		entry := rootFieldTable[f]
		assert.NotEqual(t, "", entry.name)
		assert.Equal(t, true, entry.apply != nil)
		assert.Equal(t, false, seen[entry.name])
		seen[entry.name] = true

		parsed, ok := ParseRootField(entry.name)
		assert.Equal(t, true, ok)
		assert.Equal(t, f, parsed)
	}

	// Every root key an encoded session carries must be dispatchable.
	doc := EncodeSession(&Session{Code: "X", Date: time.Now(), StartTime: time.Now(), EndTime: time.Now(), CourseID: "c", UpdatedBy: "d", LastUpdated: time.Now()})
	for key := range doc {
		if key == "code" || key == PlayersField {
			continue
		}
		_, ok := ParseRootField(key)
		assert.Equal(t, true, ok)
	}
}

func TestLastUpdatedOnlyMovesForward(t *testing.T) {
	s := &Session{LastUpdated: time.UnixMilli(2000)}
	assert.Equal(t, nil, FieldLastUpdated.Apply(s, 1.0))
	assert.Equal(t, int64(2000), s.LastUpdated.UnixMilli())
	assert.Equal(t, nil, FieldLastUpdated.Apply(s, 3.0))
	assert.Equal(t, int64(3000), s.LastUpdated.UnixMilli())
}

func TestWeekScopeIsMondayFirst(t *testing.T) {
	sunday := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	monday := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, Scope("2026-W42"), WeekScope(sunday))
	assert.Equal(t, Scope("2026-W43"), WeekScope(monday))
}

func TestProfileDocumentRoundTrip(t *testing.T) {
	p := &Profile{UserID: "u1", Name: "Ann", SignInMethods: []string{"apple", "email"}, LastUpdated: time.UnixMilli(1760600000000)}
	got, err := DecodeProfile(EncodeProfile(p))
	assert.Equal(t, nil, err)
	assert.Equal(t, p.SignInMethods, got.SignInMethods)
	assert.Equal(t, true, got.LastUpdated.Equal(p.LastUpdated))
}

func TestDailyAnalyticsDocumentRoundTrip(t *testing.T) {
	d := DailyAnalytics{DayID: "2026-10-16", GamesPlayed: 2, Holes: map[int]HoleStats{1: {7, 2}}, StartHours: map[int]int{9: 2}}
	got, err := DecodeDailyAnalytics(EncodeDailyAnalytics(d))
	assert.Equal(t, nil, err)
	assert.Equal(t, d.Holes, got.Holes)
	assert.Equal(t, d.StartHours, got.StartHours)
	assert.Equal(t, 2, got.GamesPlayed)
}
