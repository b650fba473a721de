// Package models defines the data structures shared by the synchronizer, the merge
// transactions and the HTTP API.
//
// The data model represents a live golf round shared between devices:
//   - A Session is one round in progress, identified by a short code players type in
//   - A Session has an ordered list of Participants (exactly one of them is the host)
//   - Each Participant has one HoleScore per hole of the round
//
// Alongside the live round there are three long-lived records that many devices write
// to concurrently and that are therefore only ever changed inside transactions:
// LeaderboardEntry, DailyAnalytics and ContactSeen. Profile is the account record that
// is reconciled between a device's local copy and the remote copy.
package models

import (
	"slices"
	"time"
)

// Scope identifies a leaderboard bucket: all-time, or one ISO week ("2026-W42").
type Scope string

// ScopeAllTime is the leaderboard that is never reset.
const ScopeAllTime Scope = "all-time"

// WeekScope returns the ISO week bucket (Monday-first) that t falls in.
func WeekScope(t time.Time) Scope {
	year, week := t.ISOWeek()
	return Scope(isoWeekID(year, week))
}

// --- Live round ---

// HoleScore records the strokes a participant took on one hole.
// A stroke count of 0 means the hole has not been played (or not entered) yet.
type HoleScore struct {
	Number  int `json:"number"`  // 1-based hole number, unique per participant
	Strokes int `json:"strokes"` // 0 = unset
}

// Participant is one player in a Session.
type Participant struct {
	ID      string      `json:"id"` // Account id, or a generated guest code for players without an account
	Name    string      `json:"name"`
	Photo   string      `json:"photo,omitempty"` // Optional photo reference; upload is handled elsewhere
	Email   string      `json:"email,omitempty"` // Optional contact, used for course analytics
	InGame  bool        `json:"inGame"`
	Order   int         `json:"order"` // Position in the session's player list
	Holes   []HoleScore `json:"holes"`
}

// TotalStrokes is the sum of the participant's strokes over all holes.
func (p *Participant) TotalStrokes() int {
	total := 0
	for _, h := range p.Holes {
		total += h.Strokes
	}
	return total
}

// Incomplete reports whether any hole is still unset.
func (p *Participant) Incomplete() bool {
	for _, h := range p.Holes {
		if h.Strokes == 0 {
			return true
		}
	}
	return false
}

// Hole returns the score for hole number n, or nil if the participant has no entry for it.
func (p *Participant) Hole(n int) *HoleScore {
	for i := range p.Holes {
		if p.Holes[i].Number == n {
			return &p.Holes[i]
		}
	}
	return nil
}

// EnsureHoles synthesizes zero-stroke entries for every hole 1..count the participant
// is missing, drops duplicated hole numbers (first one wins) and sorts by number.
// Existing scores are never changed.
func (p *Participant) EnsureHoles(count int) {
	seen := make(map[int]bool, len(p.Holes))
	holes := make([]HoleScore, 0, max(count, len(p.Holes)))
	for _, h := range p.Holes {
		if seen[h.Number] {
			continue
		}
		seen[h.Number] = true
		holes = append(holes, h)
	}
	for n := 1; n <= count; n++ {
		if !seen[n] {
			holes = append(holes, HoleScore{Number: n})
		}
	}
	SortHoles(holes)
	p.Holes = holes
}

// SortHoles orders hole scores by hole number.
func SortHoles(holes []HoleScore) {
	slices.SortFunc(holes, func(a, b HoleScore) int { return a.Number - b.Number })
}

// Clone returns a deep copy of the participant.
func (p Participant) Clone() Participant {
	p.Holes = slices.Clone(p.Holes)
	return p
}

// Session is one round in progress, shared between the host device and every device
// that joined it.
type Session struct {
	Code          string        `json:"code"` // Short human-typeable identity; empty until assigned
	Date          time.Time     `json:"date"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	Started       bool          `json:"started"`
	Completed     bool          `json:"completed"`
	Dismissed     bool          `json:"dismissed"`
	Live          bool          `json:"live"`
	NumberOfHoles int           `json:"numberOfHoles"`
	CourseID      string        `json:"courseId,omitempty"` // Optional course reference
	HostID        string        `json:"hostId"`             // Participant id of the host
	LastUpdated   time.Time     `json:"lastUpdated"`        // Only increases; last-writer-wins tie-breaker
	UpdatedBy     string        `json:"updatedBy,omitempty"` // Device id of the last writer
	Players       []Participant `json:"players"`
}

// Participant returns the participant with the given id, or nil.
func (s *Session) Participant(id string) *Participant {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

// HasParticipant reports whether a participant with the given id is in the session.
func (s *Session) HasParticipant(id string) bool {
	return s.Participant(id) != nil
}

// Host returns the host participant, or nil if the host already left.
func (s *Session) Host() *Participant {
	return s.Participant(s.HostID)
}

// RemoveParticipant deletes the participant with the given id and reports whether
// anything was removed.
func (s *Session) RemoveParticipant(id string) bool {
	n := len(s.Players)
	s.Players = slices.DeleteFunc(s.Players, func(p Participant) bool { return p.ID == id })
	return len(s.Players) != n
}

// NextOrder is the order value for a participant appended to the end of the list.
func (s *Session) NextOrder() int {
	next := 0
	for _, p := range s.Players {
		if p.Order >= next {
			next = p.Order + 1
		}
	}
	return next
}

// SortPlayers orders players by their Order field, then id for a stable result.
func (s *Session) SortPlayers() {
	slices.SortStableFunc(s.Players, func(a, b Participant) int {
		if a.Order != b.Order {
			return a.Order - b.Order
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// Terminal reports whether the session can no longer be joined.
func (s *Session) Terminal() bool {
	return s.Dismissed || s.Started || s.Completed
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Players = make([]Participant, len(s.Players))
	for i, p := range s.Players {
		c.Players[i] = p.Clone()
	}
	return &c
}

// Duration is the length of the round, or zero when either end is unknown.
func (s *Session) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() || s.EndTime.Before(s.StartTime) {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// --- Long-lived, transaction-protected records ---

// LeaderboardEntry is a participant's best round on a course within one Scope.
// TotalStrokes only ever goes down.
type LeaderboardEntry struct {
	ParticipantID string    `json:"participantId"`
	Name          string    `json:"name"`
	Photo         string    `json:"photo,omitempty"`
	Email         string    `json:"email,omitempty"`
	TotalStrokes  int       `json:"totalStrokes"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// HoleStats is the per-hole part of DailyAnalytics.
type HoleStats struct {
	Strokes int `json:"strokes"`
	Plays   int `json:"plays"`
}

// DailyAnalytics aggregates every round finished on a course on one calendar day.
// All fields are only ever incremented.
type DailyAnalytics struct {
	DayID            string            `json:"dayId"` // "2006-01-02"
	GamesPlayed      int               `json:"gamesPlayed"`
	NewPlayers       int               `json:"newPlayers"`
	ReturningPlayers int               `json:"returningPlayers"`
	TotalDurationSec float64           `json:"totalDurationSec"`
	Holes            map[int]HoleStats `json:"holes"`
	StartHours       map[int]int       `json:"startHours"` // local hour (0-23) -> sessions started
}

// ContactSeen tracks when a contact (email) has played a course.
// It is what lets a contact be counted as "new" or "returning" at most once per day.
type ContactSeen struct {
	Contact    string `json:"contact"`
	FirstSeen  string `json:"firstSeen"`            // day id
	SecondSeen string `json:"secondSeen,omitempty"` // day id of the second-ever play; empty until then
	LastPlayed string `json:"lastPlayed"`           // day id
	PlayCount  int    `json:"playCount"`
}

// Profile is a user's account record. Devices keep a local copy that is reconciled
// with the remote copy using last-writer-wins on LastUpdated.
type Profile struct {
	UserID        string    `json:"userId"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	Photo         string    `json:"photo,omitempty"`
	SignInMethods []string  `json:"signInMethods"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// HasSignInMethod reports whether method is already recorded on the profile.
func (p *Profile) HasSignInMethod(method string) bool {
	return slices.Contains(p.SignInMethods, method)
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.SignInMethods = slices.Clone(p.SignInMethods)
	return &c
}
