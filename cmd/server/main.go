// cmd/server/main.go
// This is the entry point for the scorecard sync API server.
// It hosts the remote document store that devices synchronize live rounds against,
// the change-feed they watch, and the merge transactions for leaderboards, course
// analytics and profiles.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	// fiber is a fast HTTP web framework inspired by Express.js
	"github.com/gofiber/fiber/v2"
	// cors handles Cross-Origin Resource Sharing so browser clients can reach the API
	"github.com/gofiber/fiber/v2/middleware/cors"
	// logger prints request details (method, path, status, duration) to stdout
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/golang/glog"

	"github.com/trentd187/scorecard-sync/internal/config"
	"github.com/trentd187/scorecard-sync/internal/database"
	"github.com/trentd187/scorecard-sync/internal/feed"
	"github.com/trentd187/scorecard-sync/internal/handlers"
	"github.com/trentd187/scorecard-sync/internal/merge"
	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/repository"
	"github.com/trentd187/scorecard-sync/internal/store"
	"github.com/trentd187/scorecard-sync/internal/store/memory"
)

func main() {
	migrations := flag.String("migrations", "migrations", "directory of the SQL migration files")
	// glog writes to files by default; log to stderr unless told otherwise.
	_ = flag.Set("logtostderr", "true")
	flag.Parse()
	defer glog.Flush()

	// Load configuration from environment variables (and optionally a .env file).
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The Hub fans change events out to every device watching a live round.
	// "go hub.Run(ctx)" starts it in the background; it stops with ctx.
	hub := feed.NewHub(cfg.FeedBuffer)
	go hub.Run(ctx)

	children := map[string][]string{repository.SessionsCollection: models.SessionChildren}

	// Without DATABASE_URL everything lives in memory, which is enough for local
	// development and a single-course deployment that can lose its history.
	var docs store.DocumentStore
	storeKind := "memory"
	if cfg.DatabaseURL == "" {
		glog.Warning("DATABASE_URL is not set, using the in-memory store")
		opts := []memory.Option{memory.WithFeed(hub), memory.WithMaxAttempts(cfg.TxMaxAttempts)}
		for col, ch := range children {
			opts = append(opts, memory.WithChildren(col, ch...))
		}
		docs = memory.New(opts...)
	} else {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			glog.Fatalf("Failed to connect to database: %v", err)
		}
		// Run any pending SQL migration files so the schema matches this binary.
		if err := database.RunMigrations(cfg.DatabaseURL, *migrations); err != nil {
			glog.Fatalf("Failed to run migrations: %v", err)
		}
		docs = database.NewDocStore(db, hub, children, cfg.TxMaxAttempts)
		storeKind = "postgres"
	}

	app := fiber.New(fiber.Config{
		AppName: "Scorecard Sync API",
		// Route params end up as store keys, so they must outlive the request buffer.
		Immutable: true,
	})

	// --- Global middleware ---
	app.Use(logger.New())
	app.Use(cors.New())

	handlers.Register(app, cfg, handlers.Deps{
		StoreKind:    storeKind,
		Sessions:     repository.NewSessions(docs, hub),
		Rounds:       repository.NewRounds(docs),
		Leaderboards: repository.NewLeaderboards(docs),
		Analytics:    repository.NewAnalytics(docs),
		Profiles:     repository.NewProfiles(docs),
		Merger: merge.New(docs, merge.Options{
			Location:           cfg.Location,
			ReconcileTolerance: cfg.ReconcileTolerance,
		}),
		Location: cfg.Location,
	})

	go func() {
		<-ctx.Done()
		glog.Info("Shutting down")
		if err := app.Shutdown(); err != nil {
			glog.Errorf("shutdown: %v", err)
		}
	}()

	glog.Infof("Starting server on port %s (%s store)", cfg.Port, storeKind)
	if err := app.Listen(":" + cfg.Port); err != nil {
		glog.Fatalf("listen: %v", err)
	}
}
