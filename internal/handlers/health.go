// Package handlers contains the HTTP route handler functions for the scorecard sync API.
// Each handler corresponds to one API endpoint and is responsible for reading the
// request, calling the repository or merge layer, and writing a response.
//
// Exported functions follow the "handler factory" pattern: they take their
// dependencies and return a fiber.Handler, so nothing lives in global variables.
package handlers

import "github.com/gofiber/fiber/v2"

// HealthCheck handles GET /health.
// It reports that the server is up and which document store backs it ("memory" or
// "postgres"). It is public and touches no store, so probes stay cheap.
func HealthCheck(storeKind string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "store": storeKind})
	}
}
