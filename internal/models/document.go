package models

// document.go converts models to and from store documents.
//
// Documents are JSON-shaped and may be written by older clients, so decoding is
// tolerant: numbers can arrive as float64, int, json.Number or numeric strings, and
// timestamps as seconds, milliseconds or RFC 3339 strings.

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/trentd187/scorecard-sync/internal/store"
)

// PlayersField is the child map of a session document that holds the participants.
// It travels on its own change-feed channel, separate from the root fields.
const PlayersField = "players"

// SessionChildren lists the child maps of a session document.
var SessionChildren = []string{PlayersField}

// DayID formats the calendar day of t as a document key ("2006-01-02").
func DayID(t time.Time) string {
	return t.Format("2006-01-02")
}

func isoWeekID(year, week int) string {
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// --- Session ---

// EncodeSession builds the full remote document of a session.
func EncodeSession(s *Session) store.Document {
	players := make(map[string]any, len(s.Players))
	for _, p := range s.Players {
		players[p.ID] = EncodeParticipant(p)
	}
	doc := store.Document{
		"code":          s.Code,
		"started":       s.Started,
		"completed":     s.Completed,
		"dismissed":     s.Dismissed,
		"live":          s.Live,
		"numberOfHoles": float64(s.NumberOfHoles),
		"hostId":        s.HostID,
		PlayersField:    players,
	}
	putTime(doc, "date", s.Date)
	putTime(doc, "startTime", s.StartTime)
	putTime(doc, "endTime", s.EndTime)
	putTime(doc, "lastUpdated", s.LastUpdated)
	if s.CourseID != "" {
		doc["courseId"] = s.CourseID
	}
	if s.UpdatedBy != "" {
		doc["updatedBy"] = s.UpdatedBy
	}
	return doc
}

// DecodeSession parses a session document. Participants that fail to decode are
// skipped rather than failing the whole session.
func DecodeSession(doc store.Document) (*Session, error) {
	if doc == nil {
		return nil, fmt.Errorf("decode session: empty document")
	}
	s := &Session{}
	for _, f := range RootFields() {
		v, ok := doc[f.Name()]
		if !ok {
			continue
		}
		if err := f.Apply(s, v); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
	}
	code, err := AsString(doc["code"])
	if err != nil {
		return nil, fmt.Errorf("decode session: code: %w", err)
	}
	s.Code = code

	if raw, ok := doc[PlayersField]; ok && raw != nil {
		players, ok := store.AsMap(raw)
		if !ok {
			return nil, fmt.Errorf("decode session: players is %T", raw)
		}
		for key, v := range players {
			p, err := DecodeParticipant(v)
			if err != nil {
				continue
			}
			if p.ID == "" {
				p.ID = key
			}
			s.Players = append(s.Players, p)
		}
	}
	s.SortPlayers()
	return s, nil
}

// EncodeParticipant builds the child document of one participant.
func EncodeParticipant(p Participant) map[string]any {
	holes := make([]any, 0, len(p.Holes))
	for _, h := range p.Holes {
		holes = append(holes, map[string]any{
			"number":  float64(h.Number),
			"strokes": float64(h.Strokes),
		})
	}
	out := map[string]any{
		"id":     p.ID,
		"name":   p.Name,
		"inGame": p.InGame,
		"order":  float64(p.Order),
		"holes":  holes,
	}
	if p.Photo != "" {
		out["photo"] = p.Photo
	}
	if p.Email != "" {
		out["email"] = p.Email
	}
	return out
}

// DecodeParticipant parses a participant child document.
func DecodeParticipant(v any) (Participant, error) {
	m, ok := store.AsMap(v)
	if !ok {
		return Participant{}, fmt.Errorf("decode participant: got %T", v)
	}
	var p Participant
	var err error
	if p.ID, err = AsString(m["id"]); err != nil {
		return Participant{}, fmt.Errorf("decode participant: id: %w", err)
	}
	if p.Name, err = AsString(m["name"]); err != nil {
		return Participant{}, fmt.Errorf("decode participant: name: %w", err)
	}
	if p.Photo, err = AsString(m["photo"]); err != nil {
		return Participant{}, fmt.Errorf("decode participant: photo: %w", err)
	}
	if p.Email, err = AsString(m["email"]); err != nil {
		return Participant{}, fmt.Errorf("decode participant: email: %w", err)
	}
	if p.InGame, err = AsBool(m["inGame"]); err != nil {
		return Participant{}, fmt.Errorf("decode participant: inGame: %w", err)
	}
	if p.Order, err = AsInt(m["order"]); err != nil {
		return Participant{}, fmt.Errorf("decode participant: order: %w", err)
	}
	if p.Holes, err = decodeHoles(m["holes"]); err != nil {
		return Participant{}, fmt.Errorf("decode participant: %w", err)
	}
	return p, nil
}

// decodeHoles accepts both a list and a map keyed by index, which is what some
// stores turn sparse arrays into.
func decodeHoles(v any) ([]HoleScore, error) {
	var items []any
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		items = t
	default:
		m, ok := store.AsMap(v)
		if !ok {
			return nil, fmt.Errorf("holes is %T", v)
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			items = append(items, m[k])
		}
	}
	holes := make([]HoleScore, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		hm, ok := store.AsMap(item)
		if !ok {
			return nil, fmt.Errorf("hole is %T", item)
		}
		n, err := AsInt(hm["number"])
		if err != nil {
			return nil, fmt.Errorf("hole number: %w", err)
		}
		strokes, err := AsInt(hm["strokes"])
		if err != nil {
			return nil, fmt.Errorf("hole strokes: %w", err)
		}
		if n < 1 {
			continue
		}
		holes = append(holes, HoleScore{Number: n, Strokes: strokes})
	}
	SortHoles(holes)
	return holes, nil
}

// --- Leaderboard ---

func EncodeLeaderboardEntry(e LeaderboardEntry) store.Document {
	doc := store.Document{
		"participantId": e.ParticipantID,
		"name":          e.Name,
		"totalStrokes":  float64(e.TotalStrokes),
	}
	if e.Photo != "" {
		doc["photo"] = e.Photo
	}
	if e.Email != "" {
		doc["email"] = e.Email
	}
	putTime(doc, "updatedAt", e.UpdatedAt)
	return doc
}

func DecodeLeaderboardEntry(doc store.Document) (LeaderboardEntry, error) {
	var e LeaderboardEntry
	var err error
	if e.ParticipantID, err = AsString(doc["participantId"]); err != nil {
		return e, fmt.Errorf("decode leaderboard entry: participantId: %w", err)
	}
	if e.Name, err = AsString(doc["name"]); err != nil {
		return e, fmt.Errorf("decode leaderboard entry: name: %w", err)
	}
	if e.Photo, err = AsString(doc["photo"]); err != nil {
		return e, fmt.Errorf("decode leaderboard entry: photo: %w", err)
	}
	if e.Email, err = AsString(doc["email"]); err != nil {
		return e, fmt.Errorf("decode leaderboard entry: email: %w", err)
	}
	if e.TotalStrokes, err = AsInt(doc["totalStrokes"]); err != nil {
		return e, fmt.Errorf("decode leaderboard entry: totalStrokes: %w", err)
	}
	if e.UpdatedAt, err = AsTime(doc["updatedAt"]); err != nil {
		return e, fmt.Errorf("decode leaderboard entry: updatedAt: %w", err)
	}
	return e, nil
}

// --- Analytics ---

func EncodeDailyAnalytics(d DailyAnalytics) store.Document {
	holes := make(map[string]any, len(d.Holes))
	for n, h := range d.Holes {
		holes[strconv.Itoa(n)] = map[string]any{
			"strokes": float64(h.Strokes),
			"plays":   float64(h.Plays),
		}
	}
	hours := make(map[string]any, len(d.StartHours))
	for h, c := range d.StartHours {
		hours[strconv.Itoa(h)] = float64(c)
	}
	return store.Document{
		"dayId":            d.DayID,
		"gamesPlayed":      float64(d.GamesPlayed),
		"newPlayers":       float64(d.NewPlayers),
		"returningPlayers": float64(d.ReturningPlayers),
		"totalDurationSec": d.TotalDurationSec,
		"holes":            holes,
		"startHours":       hours,
	}
}

func DecodeDailyAnalytics(doc store.Document) (DailyAnalytics, error) {
	d := DailyAnalytics{Holes: map[int]HoleStats{}, StartHours: map[int]int{}}
	var err error
	if d.DayID, err = AsString(doc["dayId"]); err != nil {
		return d, fmt.Errorf("decode analytics: dayId: %w", err)
	}
	if d.GamesPlayed, err = AsInt(doc["gamesPlayed"]); err != nil {
		return d, fmt.Errorf("decode analytics: gamesPlayed: %w", err)
	}
	if d.NewPlayers, err = AsInt(doc["newPlayers"]); err != nil {
		return d, fmt.Errorf("decode analytics: newPlayers: %w", err)
	}
	if d.ReturningPlayers, err = AsInt(doc["returningPlayers"]); err != nil {
		return d, fmt.Errorf("decode analytics: returningPlayers: %w", err)
	}
	if d.TotalDurationSec, err = AsFloat(doc["totalDurationSec"]); err != nil {
		return d, fmt.Errorf("decode analytics: totalDurationSec: %w", err)
	}
	if holes, ok := store.AsMap(doc["holes"]); ok {
		for k, v := range holes {
			n, err := strconv.Atoi(k)
			if err != nil {
				return d, fmt.Errorf("decode analytics: hole key %q", k)
			}
			hm, ok := store.AsMap(v)
			if !ok {
				return d, fmt.Errorf("decode analytics: hole %d is %T", n, v)
			}
			strokes, err := AsInt(hm["strokes"])
			if err != nil {
				return d, fmt.Errorf("decode analytics: hole %d strokes: %w", n, err)
			}
			plays, err := AsInt(hm["plays"])
			if err != nil {
				return d, fmt.Errorf("decode analytics: hole %d plays: %w", n, err)
			}
			d.Holes[n] = HoleStats{Strokes: strokes, Plays: plays}
		}
	}
	if hours, ok := store.AsMap(doc["startHours"]); ok {
		for k, v := range hours {
			h, err := strconv.Atoi(k)
			if err != nil {
				return d, fmt.Errorf("decode analytics: hour key %q", k)
			}
			c, err := AsInt(v)
			if err != nil {
				return d, fmt.Errorf("decode analytics: hour %d: %w", h, err)
			}
			d.StartHours[h] = c
		}
	}
	return d, nil
}

func EncodeContactSeen(c ContactSeen) store.Document {
	doc := store.Document{
		"contact":    c.Contact,
		"firstSeen":  c.FirstSeen,
		"lastPlayed": c.LastPlayed,
		"playCount":  float64(c.PlayCount),
	}
	if c.SecondSeen != "" {
		doc["secondSeen"] = c.SecondSeen
	}
	return doc
}

func DecodeContactSeen(doc store.Document) (ContactSeen, error) {
	var c ContactSeen
	var err error
	if c.Contact, err = AsString(doc["contact"]); err != nil {
		return c, fmt.Errorf("decode contact: contact: %w", err)
	}
	if c.FirstSeen, err = AsString(doc["firstSeen"]); err != nil {
		return c, fmt.Errorf("decode contact: firstSeen: %w", err)
	}
	if c.SecondSeen, err = AsString(doc["secondSeen"]); err != nil {
		return c, fmt.Errorf("decode contact: secondSeen: %w", err)
	}
	if c.LastPlayed, err = AsString(doc["lastPlayed"]); err != nil {
		return c, fmt.Errorf("decode contact: lastPlayed: %w", err)
	}
	if c.PlayCount, err = AsInt(doc["playCount"]); err != nil {
		return c, fmt.Errorf("decode contact: playCount: %w", err)
	}
	return c, nil
}

// --- Profile ---

func EncodeProfile(p *Profile) store.Document {
	methods := make([]any, 0, len(p.SignInMethods))
	for _, m := range p.SignInMethods {
		methods = append(methods, m)
	}
	doc := store.Document{
		"userId":        p.UserID,
		"name":          p.Name,
		"signInMethods": methods,
	}
	if p.Email != "" {
		doc["email"] = p.Email
	}
	if p.Photo != "" {
		doc["photo"] = p.Photo
	}
	putTime(doc, "lastUpdated", p.LastUpdated)
	return doc
}

func DecodeProfile(doc store.Document) (*Profile, error) {
	p := &Profile{}
	var err error
	if p.UserID, err = AsString(doc["userId"]); err != nil {
		return nil, fmt.Errorf("decode profile: userId: %w", err)
	}
	if p.Name, err = AsString(doc["name"]); err != nil {
		return nil, fmt.Errorf("decode profile: name: %w", err)
	}
	if p.Email, err = AsString(doc["email"]); err != nil {
		return nil, fmt.Errorf("decode profile: email: %w", err)
	}
	if p.Photo, err = AsString(doc["photo"]); err != nil {
		return nil, fmt.Errorf("decode profile: photo: %w", err)
	}
	if p.LastUpdated, err = AsTime(doc["lastUpdated"]); err != nil {
		return nil, fmt.Errorf("decode profile: lastUpdated: %w", err)
	}
	switch methods := doc["signInMethods"].(type) {
	case nil:
	case []any:
		for _, m := range methods {
			s, err := AsString(m)
			if err != nil {
				return nil, fmt.Errorf("decode profile: signInMethods: %w", err)
			}
			p.SignInMethods = append(p.SignInMethods, s)
		}
	case []string:
		p.SignInMethods = append(p.SignInMethods, methods...)
	default:
		return nil, fmt.Errorf("decode profile: signInMethods is %T", methods)
	}
	return p, nil
}

// --- Coercion ---

// EncodeTime is the wire form of a timestamp: fractional unix seconds.
func EncodeTime(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

func putTime(doc store.Document, key string, t time.Time) {
	if !t.IsZero() {
		doc[key] = EncodeTime(t)
	}
}

// AsString accepts strings; nil becomes "".
func AsString(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

// AsBool accepts booleans, "true"/"false" strings and numbers (non-zero is true).
func AsBool(v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		return strconv.ParseBool(t)
	}
	f, err := AsFloat(v)
	if err != nil {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	return f != 0, nil
}

// AsFloat accepts any numeric encoding; nil becomes 0.
func AsFloat(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

// AsInt accepts any numeric encoding and rounds to the nearest integer.
func AsInt(v any) (int, error) {
	f, err := AsFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expected finite number, got %v", f)
	}
	return int(math.Round(f)), nil
}

// millisThreshold separates second- from millisecond-based epoch numbers:
// 1e11 seconds is in the year 5138, 1e11 milliseconds is in 1973.
const millisThreshold = 1e11

// AsTime accepts epoch seconds, epoch milliseconds, RFC 3339 strings and time.Time.
// nil and 0 become the zero time.
func AsTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts, nil
		}
	}
	f, err := AsFloat(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected timestamp, got %T", v)
	}
	if f == 0 {
		return time.Time{}, nil
	}
	if math.Abs(f) >= millisThreshold {
		return time.UnixMilli(int64(f)), nil
	}
	return time.UnixMilli(int64(math.Round(f * 1000))), nil
}
