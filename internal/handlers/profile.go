package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/trentd187/scorecard-sync/internal/merge"
	"github.com/trentd187/scorecard-sync/internal/middleware"
	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/repository"
)

// SyncProfileRequest is the JSON body of POST /api/v1/profile/sync.
type SyncProfileRequest struct {
	Profile      *models.Profile `json:"profile"`      // The device's local copy; omitted if it has none
	SignInMethod string          `json:"signInMethod"` // Used when the token carries no sign_in_method claim
	Defaults     models.Profile  `json:"defaults"`     // Seed for a brand new profile
}

// SyncProfileResponse is what the device stores as its new local copy.
type SyncProfileResponse struct {
	Profile *models.Profile `json:"profile"`
	Outcome string          `json:"outcome"`
}

// SyncProfile returns a handler for POST /api/v1/profile/sync.
// The profile is always the authenticated user's; name and email claims fill in
// empty defaults.
func SyncProfile(m *merge.Merger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req SyncProfileRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		method := middleware.SignInMethod(c)
		if method == "" {
			method = req.SignInMethod
		}
		if req.Defaults.Name == "" {
			req.Defaults.Name, _ = c.Locals(middleware.LocalName).(string)
		}
		if req.Defaults.Email == "" {
			req.Defaults.Email, _ = c.Locals(middleware.LocalEmail).(string)
		}

		res, err := m.Reconcile(requestContext(c), middleware.UserID(c), req.Profile, method, req.Defaults)
		if err != nil {
			return storeError(c, err)
		}
		return c.JSON(SyncProfileResponse{Profile: res.Profile, Outcome: res.Outcome.String()})
	}
}

// GetProfile returns a handler for GET /api/v1/profile.
func GetProfile(profiles *repository.Profiles) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := profiles.Get(requestContext(c), middleware.UserID(c))
		if err != nil {
			return storeError(c, err)
		}
		return c.JSON(p)
	}
}
