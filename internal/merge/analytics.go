package merge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/repository"
	"github.com/trentd187/scorecard-sync/internal/store"
)

// NormalizeContacts lowercases and trims contacts and drops empty and repeated ones,
// keeping first-seen order.
func NormalizeContacts(contacts []string) []string {
	seen := make(map[string]bool, len(contacts))
	out := make([]string, 0, len(contacts))
	for _, c := range contacts {
		c = repository.NormalizeContact(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// RecordSession adds a finished round to the course analytics of the day it is
// recorded on. In one transaction it updates the ContactSeen record of every contact
// and the day's DailyAnalytics:
//
//   - a contact never seen on the course is new for the day
//   - a known contact whose last play was on another day is returning for the day
//   - a contact already counted today is counted as neither
//
// Holes with 0 strokes were not played and are skipped. The start-hour bucket is the
// hour of start in the configured location; a zero start falls back to the session's
// start time. It returns the updated day.
func (m *Merger) RecordSession(ctx context.Context, courseID string, contacts []string, session *models.Session, start, end time.Time) (models.DailyAnalytics, error) {
	if !repository.ValidKey(courseID) {
		return models.DailyAnalytics{}, fmt.Errorf("%w: course %q", ErrInvalidInput, courseID)
	}
	if session == nil {
		return models.DailyAnalytics{}, fmt.Errorf("%w: no session", ErrInvalidInput)
	}
	if err := m.online(); err != nil {
		return models.DailyAnalytics{}, err
	}

	loc := m.opts.Location
	today := models.DayID(m.opts.Now().In(loc))
	if start.IsZero() {
		start = session.StartTime
	}
	if end.IsZero() {
		end = session.EndTime
	}
	var duration time.Duration
	if !start.IsZero() && end.After(start) {
		duration = end.Sub(start)
	}
	normalized := NormalizeContacts(contacts)
	contactsCol := repository.ContactsCollection(courseID)
	daysCol := repository.AnalyticsDaysCollection(courseID)

	var result models.DailyAnalytics
	err := m.docs.RunTransaction(ctx, func(tx store.Tx) error {
		newPlayers, returning := 0, 0
		for _, contact := range normalized {
			key := repository.ContactKey(contact)
			if !repository.ValidKey(key) {
				continue
			}
			seen, found, err := getContact(tx, contactsCol, key)
			if err != nil {
				return err
			}
			if !found {
				seen = models.ContactSeen{Contact: contact, FirstSeen: today, LastPlayed: today, PlayCount: 1}
				newPlayers++
			} else {
				if seen.LastPlayed != today {
					returning++
					seen.LastPlayed = today
				}
				if seen.PlayCount == 1 && seen.SecondSeen == "" {
					seen.SecondSeen = today
				}
				seen.PlayCount++
			}
			tx.Set(contactsCol, key, models.EncodeContactSeen(seen))
		}

		day, err := getDay(tx, daysCol, today)
		if err != nil {
			return err
		}
		day.GamesPlayed++
		day.NewPlayers += newPlayers
		day.ReturningPlayers += returning
		day.TotalDurationSec += duration.Seconds()
		for _, p := range session.Players {
			for _, h := range p.Holes {
				if h.Strokes == 0 {
					continue
				}
				stats := day.Holes[h.Number]
				stats.Strokes += h.Strokes
				stats.Plays++
				day.Holes[h.Number] = stats
			}
		}
		if !start.IsZero() {
			day.StartHours[start.In(loc).Hour()]++
		}
		tx.Set(daysCol, today, models.EncodeDailyAnalytics(day))
		result = day
		return nil
	})
	if err != nil {
		glog.Errorf("[merge] record session %s on %s: %v", session.Code, courseID, err)
		return models.DailyAnalytics{}, fmt.Errorf("record session: %w", err)
	}
	return result, nil
}

func getContact(tx store.Tx, col, key string) (models.ContactSeen, bool, error) {
	doc, err := tx.Get(col, key)
	if errors.Is(err, store.ErrNotFound) {
		return models.ContactSeen{}, false, nil
	}
	if err != nil {
		return models.ContactSeen{}, false, err
	}
	seen, err := models.DecodeContactSeen(doc)
	if err != nil {
		return models.ContactSeen{}, false, err
	}
	return seen, true, nil
}

func getDay(tx store.Tx, col, dayID string) (models.DailyAnalytics, error) {
	doc, err := tx.Get(col, dayID)
	if errors.Is(err, store.ErrNotFound) {
		return models.DailyAnalytics{DayID: dayID, Holes: map[int]models.HoleStats{}, StartHours: map[int]int{}}, nil
	}
	if err != nil {
		return models.DailyAnalytics{}, err
	}
	day, err := models.DecodeDailyAnalytics(doc)
	if err != nil {
		return models.DailyAnalytics{}, err
	}
	if day.DayID == "" {
		day.DayID = dayID
	}
	return day, nil
}
