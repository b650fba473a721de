package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/repository"
	"github.com/trentd187/scorecard-sync/internal/store"
)

// SubmitScore merges a finished round's score into the course's all-time leaderboard
// and the leaderboard of the current ISO week. Both scopes are written in one
// transaction. The stored strokes only ever go down; name, photo and email always take
// the submitted values. It returns the resulting all-time entry.
func (m *Merger) SubmitScore(ctx context.Context, courseID string, entry models.LeaderboardEntry) (models.LeaderboardEntry, error) {
	if !repository.ValidKey(courseID) || !repository.ValidKey(entry.ParticipantID) {
		return models.LeaderboardEntry{}, fmt.Errorf("%w: course %q participant %q", ErrInvalidInput, courseID, entry.ParticipantID)
	}
	if entry.TotalStrokes <= 0 {
		return models.LeaderboardEntry{}, fmt.Errorf("%w: %d strokes", ErrInvalidInput, entry.TotalStrokes)
	}
	if err := m.online(); err != nil {
		return models.LeaderboardEntry{}, err
	}

	now := m.opts.Now()
	scopes := []models.Scope{models.ScopeAllTime, models.WeekScope(now.In(m.opts.Location))}

	var allTime models.LeaderboardEntry
	err := m.docs.RunTransaction(ctx, func(tx store.Tx) error {
		for _, scope := range scopes {
			col := repository.LeaderboardCollection(courseID, scope)
			var existing *models.LeaderboardEntry
			doc, err := tx.Get(col, entry.ParticipantID)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return err
			default:
				e, err := models.DecodeLeaderboardEntry(doc)
				if err != nil {
					return err
				}
				existing = &e
			}
			merged := mergeEntry(existing, entry)
			merged.UpdatedAt = now
			tx.Set(col, entry.ParticipantID, models.EncodeLeaderboardEntry(merged))
			if scope == models.ScopeAllTime {
				allTime = merged
			}
		}
		return nil
	})
	if err != nil {
		glog.Errorf("[merge] submit score of %s on %s: %v", entry.ParticipantID, courseID, err)
		return models.LeaderboardEntry{}, fmt.Errorf("submit score: %w", err)
	}
	return allTime, nil
}

// mergeEntry keeps the lower of the two stroke counts and the incoming display fields.
func mergeEntry(existing *models.LeaderboardEntry, incoming models.LeaderboardEntry) models.LeaderboardEntry {
	out := incoming
	if existing != nil && existing.TotalStrokes > 0 && existing.TotalStrokes < incoming.TotalStrokes {
		out.TotalStrokes = existing.TotalStrokes
	}
	return out
}
