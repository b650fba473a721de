package remote

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/store"
)

func coursePath(courseID, rest string) string {
	return "/api/v1/courses/" + url.PathEscape(courseID) + rest
}

// SubmitScore submits a finished round's score and returns the all-time best.
func (c *Client) SubmitScore(ctx context.Context, courseID string, e models.LeaderboardEntry) (models.LeaderboardEntry, error) {
	var best models.LeaderboardEntry
	err := c.do(ctx, http.MethodPost, coursePath(courseID, "/scores"), e, &best)
	return best, err
}

// Leaderboard lists a course leaderboard, best first. scope is "all", "week" or a
// week id.
func (c *Client) Leaderboard(ctx context.Context, courseID, scope string) ([]models.LeaderboardEntry, error) {
	var out struct {
		Entries []models.LeaderboardEntry `json:"entries"`
	}
	path := coursePath(courseID, "/leaderboard")
	if scope != "" {
		path += "?scope=" + url.QueryEscape(scope)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// RecordRound adds a finished round to the course analytics.
func (c *Client) RecordRound(ctx context.Context, courseID string, contacts []string, s *models.Session, start, end time.Time) (models.DailyAnalytics, error) {
	body := struct {
		Contacts  []string       `json:"contacts"`
		Session   store.Document `json:"session"`
		StartTime *time.Time     `json:"startTime,omitempty"`
		EndTime   *time.Time     `json:"endTime,omitempty"`
	}{Contacts: contacts, Session: models.EncodeSession(s)}
	if !start.IsZero() {
		body.StartTime = &start
	}
	if !end.IsZero() {
		body.EndTime = &end
	}
	var day models.DailyAnalytics
	err := c.do(ctx, http.MethodPost, coursePath(courseID, "/rounds"), body, &day)
	return day, err
}

// AnalyticsDay fetches a course's analytics for one day. Staff only.
func (c *Client) AnalyticsDay(ctx context.Context, courseID, dayID string) (models.DailyAnalytics, error) {
	var day models.DailyAnalytics
	err := c.do(ctx, http.MethodGet, coursePath(courseID, "/analytics/"+url.PathEscape(dayID)), nil, &day)
	return day, err
}

// SyncProfile reconciles the device's local profile (nil if none) with the remote
// copy and returns what the device should keep, with the outcome name.
func (c *Client) SyncProfile(ctx context.Context, local *models.Profile, method string, defaults models.Profile) (*models.Profile, string, error) {
	body := struct {
		Profile      *models.Profile `json:"profile,omitempty"`
		SignInMethod string          `json:"signInMethod,omitempty"`
		Defaults     models.Profile  `json:"defaults"`
	}{local, method, defaults}
	var out struct {
		Profile *models.Profile `json:"profile"`
		Outcome string          `json:"outcome"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/profile/sync", body, &out); err != nil {
		return nil, "", err
	}
	return out.Profile, out.Outcome, nil
}
