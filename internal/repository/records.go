package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/store"
)

// Rounds stores finished rounds. It is the archive a synchronizer hands a round to when
// it finishes.
type Rounds struct {
	docs store.DocumentStore
}

func NewRounds(docs store.DocumentStore) *Rounds {
	return &Rounds{docs: docs}
}

// Archive stores a finished round under a new sortable key and returns the key.
func (r *Rounds) Archive(ctx context.Context, s *models.Session) (string, error) {
	key := ulid.Make().String()
	return key, r.Put(ctx, key, models.EncodeSession(s))
}

// Put stores a round document under key.
func (r *Rounds) Put(ctx context.Context, key string, doc store.Document) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := r.docs.Set(ctx, RoundsCollection, key, doc, false); err != nil {
		return fmt.Errorf("archive round %s: %w", key, err)
	}
	return nil
}

// Get fetches an archived round.
func (r *Rounds) Get(ctx context.Context, key string) (*models.Session, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	doc, err := r.docs.Get(ctx, RoundsCollection, key)
	if err != nil {
		return nil, err
	}
	return models.DecodeSession(doc)
}

// Leaderboards reads leaderboard entries. Writes go through merge.SubmitScore.
type Leaderboards struct {
	docs store.DocumentStore
}

func NewLeaderboards(docs store.DocumentStore) *Leaderboards {
	return &Leaderboards{docs: docs}
}

// List returns every entry of a course's leaderboard in scope, best score first.
// Entries that fail to decode are skipped.
func (r *Leaderboards) List(ctx context.Context, courseID string, scope models.Scope) ([]models.LeaderboardEntry, error) {
	if err := checkKey(courseID); err != nil {
		return nil, err
	}
	docs, err := r.docs.List(ctx, LeaderboardCollection(courseID, scope))
	if err != nil {
		return nil, fmt.Errorf("list leaderboard %s/%s: %w", courseID, scope, err)
	}
	entries := make([]models.LeaderboardEntry, 0, len(docs))
	for key, doc := range docs {
		e, err := models.DecodeLeaderboardEntry(doc)
		if err != nil {
			glog.Warningf("[leaderboard] skipping %s/%s/%s: %v", courseID, scope, key, err)
			continue
		}
		if e.ParticipantID == "" {
			e.ParticipantID = key
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b models.LeaderboardEntry) int {
		if a.TotalStrokes != b.TotalStrokes {
			return a.TotalStrokes - b.TotalStrokes
		}
		switch {
		case a.ParticipantID < b.ParticipantID:
			return -1
		case a.ParticipantID > b.ParticipantID:
			return 1
		}
		return 0
	})
	return entries, nil
}

// Analytics reads per-day course analytics. Writes go through merge.RecordSession.
type Analytics struct {
	docs store.DocumentStore
}

func NewAnalytics(docs store.DocumentStore) *Analytics {
	return &Analytics{docs: docs}
}

// Day returns the analytics of one day; a day without rounds is an empty record.
func (r *Analytics) Day(ctx context.Context, courseID, dayID string) (models.DailyAnalytics, error) {
	if err := checkKey(courseID); err != nil {
		return models.DailyAnalytics{}, err
	}
	if err := checkKey(dayID); err != nil {
		return models.DailyAnalytics{}, err
	}
	doc, err := r.docs.Get(ctx, AnalyticsDaysCollection(courseID), dayID)
	if errors.Is(err, store.ErrNotFound) {
		return models.DailyAnalytics{DayID: dayID, Holes: map[int]models.HoleStats{}, StartHours: map[int]int{}}, nil
	}
	if err != nil {
		return models.DailyAnalytics{}, err
	}
	return models.DecodeDailyAnalytics(doc)
}

// Contact returns what is known about a contact on a course.
func (r *Analytics) Contact(ctx context.Context, courseID, contact string) (models.ContactSeen, error) {
	if err := checkKey(courseID); err != nil {
		return models.ContactSeen{}, err
	}
	key := ContactKey(contact)
	if err := checkKey(key); err != nil {
		return models.ContactSeen{}, err
	}
	doc, err := r.docs.Get(ctx, ContactsCollection(courseID), key)
	if err != nil {
		return models.ContactSeen{}, err
	}
	return models.DecodeContactSeen(doc)
}

// Profiles reads and writes account profiles, keyed by user id.
type Profiles struct {
	docs store.DocumentStore
}

func NewProfiles(docs store.DocumentStore) *Profiles {
	return &Profiles{docs: docs}
}

// Get returns the stored profile, or store.ErrNotFound.
func (r *Profiles) Get(ctx context.Context, userID string) (*models.Profile, error) {
	if err := checkKey(userID); err != nil {
		return nil, err
	}
	doc, err := r.docs.Get(ctx, ProfilesCollection, userID)
	if err != nil {
		return nil, err
	}
	return models.DecodeProfile(doc)
}

// Put replaces the stored profile.
func (r *Profiles) Put(ctx context.Context, p *models.Profile) error {
	if err := checkKey(p.UserID); err != nil {
		return err
	}
	return r.docs.Set(ctx, ProfilesCollection, p.UserID, models.EncodeProfile(p), false)
}
