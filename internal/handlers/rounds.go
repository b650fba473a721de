package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/repository"
	"github.com/trentd187/scorecard-sync/internal/store"
)

// PutRound returns a handler for PUT /api/v1/rounds/:key.
// A device that finishes a round archives a copy of it here; the body is a session
// document.
func PutRound(rounds *repository.Rounds) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var doc store.Document
		if err := json.Unmarshal(c.Body(), &doc); err != nil || doc == nil {
			return badRequest(c, "body must be a JSON object")
		}
		if _, err := models.DecodeSession(doc); err != nil {
			return badRequest(c, err.Error())
		}
		if err := rounds.Put(requestContext(c), c.Params("key"), doc); err != nil {
			return storeError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GetRound returns a handler for GET /api/v1/rounds/:key.
func GetRound(rounds *repository.Rounds) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := rounds.Get(requestContext(c), c.Params("key"))
		if err != nil {
			return storeError(c, err)
		}
		return c.JSON(models.EncodeSession(s))
	}
}
