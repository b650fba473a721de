package handlers

import (
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/trentd187/scorecard-sync/internal/merge"
	"github.com/trentd187/scorecard-sync/internal/middleware"
	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/repository"
)

// weekID matches an explicit ISO week scope such as "2026-W42".
var weekID = regexp.MustCompile(`^\d{4}-W\d{2}$`)

// SubmitScoreRequest is the JSON body of POST /api/v1/courses/:courseId/scores.
type SubmitScoreRequest struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	Photo         string `json:"photo"`
	Email         string `json:"email"`
	TotalStrokes  int    `json:"totalStrokes"`
}

// SubmitScore returns a handler for POST /api/v1/courses/:courseId/scores.
// It merges the score into the all-time and this week's leaderboards and responds
// with the participant's all-time best.
func SubmitScore(m *merge.Merger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req SubmitScoreRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if req.ParticipantID == "" {
			req.ParticipantID = middleware.UserID(c)
		}
		best, err := m.SubmitScore(requestContext(c), c.Params("courseId"), models.LeaderboardEntry{
			ParticipantID: req.ParticipantID,
			Name:          req.Name,
			Photo:         req.Photo,
			Email:         req.Email,
			TotalStrokes:  req.TotalStrokes,
		})
		if err != nil {
			return storeError(c, err)
		}
		return c.JSON(best)
	}
}

// GetLeaderboard returns a handler for GET /api/v1/courses/:courseId/leaderboard.
// ?scope= is "all" (the default), "week" for the current ISO week in loc, or an
// explicit week id like "2026-W42".
func GetLeaderboard(boards *repository.Leaderboards, loc *time.Location) fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, ok := parseScope(c.Query("scope"), time.Now().In(loc))
		if !ok {
			return badRequest(c, "scope must be all, week or a week id like 2026-W42")
		}
		entries, err := boards.List(requestContext(c), c.Params("courseId"), scope)
		if err != nil {
			return storeError(c, err)
		}
		return c.JSON(fiber.Map{"scope": scope, "entries": entries})
	}
}

func parseScope(raw string, now time.Time) (models.Scope, bool) {
	switch raw {
	case "", "all", string(models.ScopeAllTime):
		return models.ScopeAllTime, true
	case "week":
		return models.WeekScope(now), true
	}
	if weekID.MatchString(raw) {
		return models.Scope(raw), true
	}
	return "", false
}
