package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/trentd187/scorecard-sync/internal/config"
	"github.com/trentd187/scorecard-sync/internal/feed"
	"github.com/trentd187/scorecard-sync/internal/merge"
	"github.com/trentd187/scorecard-sync/internal/middleware"
	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/repository"
	"github.com/trentd187/scorecard-sync/internal/store"
	"github.com/trentd187/scorecard-sync/internal/store/memory"
)

const secret = "test-secret"

type testServer struct {
	app  *fiber.App
	docs *memory.Store
	hub  *feed.Hub
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := feed.NewHub(16)
	go hub.Run(ctx)

	docs := memory.New(memory.WithFeed(hub), memory.WithChildren(repository.SessionsCollection, models.SessionChildren...))
	cfg := config.Defaults()
	cfg.JWTSecret = secret

	app := fiber.New(fiber.Config{Immutable: true})
	Register(app, cfg, Deps{
		StoreKind:    "memory",
		Sessions:     repository.NewSessions(docs, hub),
		Rounds:       repository.NewRounds(docs),
		Leaderboards: repository.NewLeaderboards(docs),
		Analytics:    repository.NewAnalytics(docs),
		Profiles:     repository.NewProfiles(docs),
		Merger:       merge.New(docs, merge.Options{Location: time.UTC}),
		Location:     time.UTC,
	})
	return &testServer{app: app, docs: docs, hub: hub}
}

func token(t *testing.T, user, role string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: user},
		Role:             role,
		Name:             "Name of " + user,
		SignInMethod:     "password",
	}).SignedString([]byte(secret))
	assert.Equal(t, nil, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok, body string, headers ...string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.app.Test(req)
	assert.Equal(t, nil, err)
	out, err := io.ReadAll(resp.Body)
	assert.Equal(t, nil, err)
	return resp.StatusCode, out
}

func TestHealthCheckIsPublic(t *testing.T) {
	s := newServer(t)
	status, body := s.do(t, "GET", "/health", "", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, `{"status":"ok","store":"memory"}`, string(body))

	status, _ = s.do(t, "GET", "/api/v1/sessions/ABCDEF", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestSessionLifecycle(t *testing.T) {
	s := newServer(t)
	tok := token(t, "u1", "")

	full := `{"code":"ABCDEF","numberOfHoles":9,"live":true,"players":{"u1":{"id":"u1","name":"Ann","inGame":true,"order":0,"holes":[]}}}`
	status, _ := s.do(t, "PUT", "/api/v1/sessions/ABCDEF", tok, full)
	assert.Equal(t, fiber.StatusNoContent, status)

	status, _ = s.do(t, "PUT", "/api/v1/sessions/ABCDEF?merge=true", tok, `{"players":{"u2":{"id":"u2","name":"Bob","order":1}}}`)
	assert.Equal(t, fiber.StatusNoContent, status)

	status, body := s.do(t, "GET", "/api/v1/sessions/ABCDEF", tok, "")
	assert.Equal(t, fiber.StatusOK, status)
	var doc store.Document
	assert.Equal(t, nil, json.Unmarshal(body, &doc))
	session, err := models.DecodeSession(doc)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(session.Players))
	assert.Equal(t, "Bob", session.Players[1].Name)

	status, _ = s.do(t, "DELETE", "/api/v1/sessions/ABCDEF", tok, "")
	assert.Equal(t, fiber.StatusNoContent, status)
	status, _ = s.do(t, "GET", "/api/v1/sessions/ABCDEF", tok, "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestSessionRejectsBadInput(t *testing.T) {
	s := newServer(t)
	tok := token(t, "u1", "")

	status, _ := s.do(t, "PUT", "/api/v1/sessions/AB$DEF", tok, `{"code":"AB$DEF"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	status, _ = s.do(t, "PUT", "/api/v1/sessions/ABCDEF", tok, `[1,2]`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	status, _ = s.do(t, "PUT", "/api/v1/sessions/ABCDEF", tok, `{"numberOfHoles":"lots"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestSessionWritesCarryDeviceOrigin(t *testing.T) {
	s := newServer(t)
	tok := token(t, "u1", "")
	sub, err := s.hub.Subscribe(context.Background(), repository.SessionsCollection, "ABCDEF")
	assert.Equal(t, nil, err)
	defer sub.Close()

	status, _ := s.do(t, "PUT", "/api/v1/sessions/ABCDEF?merge=true", tok, `{"live":true}`, DeviceHeader, "dev-a")
	assert.Equal(t, fiber.StatusNoContent, status)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "dev-a", ev.Origin)
		assert.Equal(t, "live", ev.ChildKey)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
}

func TestScoresAndLeaderboard(t *testing.T) {
	s := newServer(t)
	tok := token(t, "ann", "")

	for _, strokes := range []string{"72", "68", "75"} {
		status, _ := s.do(t, "POST", "/api/v1/courses/pebble/scores", tok, `{"name":"Ann","totalStrokes":`+strokes+`}`)
		assert.Equal(t, fiber.StatusOK, status)
	}
	status, _ := s.do(t, "POST", "/api/v1/courses/pebble/scores", token(t, "bob", ""), `{"name":"Bob","totalStrokes":70}`)
	assert.Equal(t, fiber.StatusOK, status)

	for _, scope := range []string{"", "?scope=all", "?scope=week", "?scope=" + string(models.WeekScope(time.Now().UTC()))} {
		status, body := s.do(t, "GET", "/api/v1/courses/pebble/leaderboard"+scope, tok, "")
		assert.Equal(t, fiber.StatusOK, status)
		var board struct {
			Entries []models.LeaderboardEntry `json:"entries"`
		}
		assert.Equal(t, nil, json.Unmarshal(body, &board))
		assert.Equal(t, 2, len(board.Entries))
		assert.Equal(t, "ann", board.Entries[0].ParticipantID)
		assert.Equal(t, 68, board.Entries[0].TotalStrokes)
	}

	status, _ = s.do(t, "GET", "/api/v1/courses/pebble/leaderboard?scope=month", tok, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	status, _ = s.do(t, "POST", "/api/v1/courses/pebble/scores", tok, `{"name":"Ann","totalStrokes":0}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestAnalyticsRequireStaff(t *testing.T) {
	s := newServer(t)
	player := token(t, "ann", "")
	manager := token(t, "boss", middleware.RoleManager)

	start := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	body := `{"contacts":["Ann@Example.com"],"startTime":"` + start + `",` +
		`"session":{"code":"ABCDEF","numberOfHoles":2,"players":{"ann":{"id":"ann","name":"Ann","holes":[{"number":1,"strokes":4},{"number":2,"strokes":0}]}}}}`
	status, _ := s.do(t, "POST", "/api/v1/courses/pebble/rounds", player, body)
	assert.Equal(t, fiber.StatusCreated, status)

	today := models.DayID(time.Now().UTC())
	status, _ = s.do(t, "GET", "/api/v1/courses/pebble/analytics/"+today, player, "")
	assert.Equal(t, fiber.StatusForbidden, status)

	status, raw := s.do(t, "GET", "/api/v1/courses/pebble/analytics/"+today, manager, "")
	assert.Equal(t, fiber.StatusOK, status)
	var day models.DailyAnalytics
	assert.Equal(t, nil, json.Unmarshal(raw, &day))
	assert.Equal(t, 1, day.GamesPlayed)
	assert.Equal(t, 1, day.NewPlayers)
	assert.Equal(t, models.HoleStats{Strokes: 4, Plays: 1}, day.Holes[1])

	status, raw = s.do(t, "GET", "/api/v1/courses/pebble/contacts/ann@example.com", manager, "")
	assert.Equal(t, fiber.StatusOK, status)
	var seen models.ContactSeen
	assert.Equal(t, nil, json.Unmarshal(raw, &seen))
	assert.Equal(t, 1, seen.PlayCount)

	status, _ = s.do(t, "GET", "/api/v1/courses/pebble/analytics/yesterday", manager, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestProfileSync(t *testing.T) {
	s := newServer(t)
	tok := token(t, "u1", "")

	status, raw := s.do(t, "POST", "/api/v1/profile/sync", tok, `{}`)
	assert.Equal(t, fiber.StatusOK, status)
	var res SyncProfileResponse
	assert.Equal(t, nil, json.Unmarshal(raw, &res))
	assert.Equal(t, "created", res.Outcome)
	assert.Equal(t, "Name of u1", res.Profile.Name)
	assert.Equal(t, []string{"password"}, res.Profile.SignInMethods)

	newer, err := json.Marshal(SyncProfileRequest{Profile: &models.Profile{
		UserID:      "u1",
		Name:        "Renamed",
		LastUpdated: res.Profile.LastUpdated.Add(5 * time.Second),
	}})
	assert.Equal(t, nil, err)
	status, raw = s.do(t, "POST", "/api/v1/profile/sync", tok, string(newer))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, nil, json.Unmarshal(raw, &res))
	assert.Equal(t, "local-wins", res.Outcome)

	status, raw = s.do(t, "GET", "/api/v1/profile", tok, "")
	assert.Equal(t, fiber.StatusOK, status)
	var p models.Profile
	assert.Equal(t, nil, json.Unmarshal(raw, &p))
	assert.Equal(t, "Renamed", p.Name)
	assert.Equal(t, []string{"password"}, p.SignInMethods)
}

func TestRoundsArchive(t *testing.T) {
	s := newServer(t)
	tok := token(t, "u1", "")

	status, _ := s.do(t, "PUT", "/api/v1/rounds/01J0000000000000000000000A", tok, `{"code":"ABCDEF","numberOfHoles":9,"completed":true}`)
	assert.Equal(t, fiber.StatusNoContent, status)
	status, raw := s.do(t, "GET", "/api/v1/rounds/01J0000000000000000000000A", tok, "")
	assert.Equal(t, fiber.StatusOK, status)
	var doc store.Document
	assert.Equal(t, nil, json.Unmarshal(raw, &doc))
	assert.Equal(t, true, doc["completed"])
}
