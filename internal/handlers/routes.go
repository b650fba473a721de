package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/trentd187/scorecard-sync/internal/config"
	"github.com/trentd187/scorecard-sync/internal/merge"
	"github.com/trentd187/scorecard-sync/internal/middleware"
	"github.com/trentd187/scorecard-sync/internal/repository"
)

// Deps are the services the routes are built on.
type Deps struct {
	StoreKind    string
	Sessions     *repository.Sessions
	Rounds       *repository.Rounds
	Leaderboards *repository.Leaderboards
	Analytics    *repository.Analytics
	Profiles     *repository.Profiles
	Merger       *merge.Merger
	Location     *time.Location
}

// Register mounts every route on app.
func Register(app *fiber.App, cfg *config.Config, d Deps) {
	// --- Public routes (no auth required) ---
	app.Get("/health", HealthCheck(d.StoreKind))

	// --- Authenticated API routes ---
	// Everything under /api/v1 requires a valid bearer token.
	api := app.Group("/api/v1", middleware.Auth(cfg))

	// Live rounds
	api.Get("/sessions/:code", GetSession(d.Sessions))
	api.Put("/sessions/:code", PutSession(d.Sessions))
	api.Delete("/sessions/:code", DeleteSession(d.Sessions))
	api.Get("/sessions/:code/events", StreamSessionEvents(d.Sessions))

	// Archive
	api.Get("/rounds/:key", GetRound(d.Rounds))
	api.Put("/rounds/:key", PutRound(d.Rounds))

	// Course records; analytics are for course staff only
	api.Post("/courses/:courseId/scores", SubmitScore(d.Merger))
	api.Get("/courses/:courseId/leaderboard", GetLeaderboard(d.Leaderboards, d.Location))
	api.Post("/courses/:courseId/rounds", RecordRound(d.Merger))
	staff := middleware.RequireRole(middleware.RoleAdmin, middleware.RoleManager)
	api.Get("/courses/:courseId/analytics/:day", staff, GetAnalyticsDay(d.Analytics))
	api.Get("/courses/:courseId/contacts/:contact", staff, GetContact(d.Analytics))

	// Account
	api.Get("/profile", GetProfile(d.Profiles))
	api.Post("/profile/sync", SyncProfile(d.Merger))
}
