package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/trentd187/scorecard-sync/internal/merge"
	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/repository"
	"github.com/trentd187/scorecard-sync/internal/store"
)

// RecordRoundRequest is the JSON body of POST /api/v1/courses/:courseId/rounds.
// StartTime and EndTime default to the session's own.
type RecordRoundRequest struct {
	Contacts  []string       `json:"contacts"`
	Session   store.Document `json:"session"`
	StartTime *time.Time     `json:"startTime"`
	EndTime   *time.Time     `json:"endTime"`
}

// RecordRound returns a handler for POST /api/v1/courses/:courseId/rounds.
// It adds a finished round to the course analytics and responds with the updated day.
func RecordRound(m *merge.Merger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req RecordRoundRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if req.Session == nil {
			return badRequest(c, "session is required")
		}
		session, err := models.DecodeSession(req.Session)
		if err != nil {
			return badRequest(c, err.Error())
		}
		var start, end time.Time
		if req.StartTime != nil {
			start = *req.StartTime
		}
		if req.EndTime != nil {
			end = *req.EndTime
		}
		day, err := m.RecordSession(requestContext(c), c.Params("courseId"), req.Contacts, session, start, end)
		if err != nil {
			return storeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(day)
	}
}

// GetAnalyticsDay returns a handler for GET /api/v1/courses/:courseId/analytics/:day.
// :day is "2006-01-02"; a day without rounds is an empty record.
func GetAnalyticsDay(analytics *repository.Analytics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dayID := c.Params("day")
		if _, err := time.Parse("2006-01-02", dayID); err != nil {
			return badRequest(c, "day must be YYYY-MM-DD")
		}
		day, err := analytics.Day(requestContext(c), c.Params("courseId"), dayID)
		if err != nil {
			return storeError(c, err)
		}
		return c.JSON(day)
	}
}

// GetContact returns a handler for GET /api/v1/courses/:courseId/contacts/:contact.
func GetContact(analytics *repository.Analytics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		seen, err := analytics.Contact(requestContext(c), c.Params("courseId"), c.Params("contact"))
		if err != nil {
			return storeError(c, err)
		}
		return c.JSON(seen)
	}
}
