package rest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/lheq/internal/backfill"
	"github.com/fortuna/lheq/internal/cache"
	"github.com/fortuna/lheq/internal/metrics"
	"github.com/fortuna/lheq/internal/store"
)

const teamsJSON = `[
  {"id": "10", "name": "Castors", "games_played": 2, "wins": 2, "division": "L'Entrepôt du Hockey", "division_rank": 1},
  {"id": "20", "name": "Éperviers", "games_played": 2, "losses": 2, "division": "Hockey Experts", "division_rank": 1}
]`

const seasonTeamsJSON = `[
  {"id": "10", "name": "Castors", "games_played": 1, "wins": 1, "division": "L'Entrepôt du Hockey", "division_rank": 1}
]`

const playersJSON = `[
  {"id": "p1", "name": "Alex Roy", "team_id": "10", "goals": 5, "points": 6},
  {"id": "p2", "name": "Sam Côté", "team_id": "20", "goals": 3, "points": 4}
]`

const indexJSON = `[
  {"id": "1", "game_type": "season"},
  {"id": "2", "schedule_id": 183835},
  {"id": "3"}
]`

type webFixture struct {
	webDir    string
	gamesDir  string
	indexPath string
}

func newWebFixture(t *testing.T) webFixture {
	t.Helper()
	webDir := t.TempDir()
	f := webFixture{
		webDir:    webDir,
		gamesDir:  filepath.Join(webDir, "data", "games"),
		indexPath: filepath.Join(webDir, "data", "games.json"),
	}
	require.NoError(t, os.MkdirAll(f.gamesDir, 0o755))

	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(webDir, filepath.FromSlash(name)), []byte(body), 0o644))
	}
	write("teams.json", teamsJSON)
	write("teams_season.json", seasonTeamsJSON)
	write("players.json", playersJSON)
	write("index.html", "<h1>LHEQ</h1>")
	write("data/games.json", indexJSON)
	write("data/games/1.json", `{"id": "1", "home_score": 4}`)
	write("data/games/broken.json", `{"id": `)
	return f
}

func (f webFixture) options() Options {
	return Options{
		WebDir:         f.webDir,
		GamesDir:       f.gamesDir,
		GamesIndexPath: f.indexPath,
		Logger:         zerolog.Nop(),
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	srv := NewServer(newWebFixture(t).options())

	rec := do(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "healthy", body["status"])
}

func TestHealthDegradedWhenRedisDown(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectPing().SetErr(errors.New("connection refused"))

	opts := newWebFixture(t).options()
	opts.Cache = cache.NewFromClient(client)
	rec := do(t, NewServer(opts).Handler(), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "degraded", body["status"])
}

func TestGetTeams(t *testing.T) {
	h := NewServer(newWebFixture(t).options()).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/teams", "")
	require.Equal(t, http.StatusOK, rec.Code)
	teams := decode[[]map[string]interface{}](t, rec)
	assert.Len(t, teams, 2)

	rec = do(t, h, http.MethodGet, "/api/v1/teams?season_only=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]interface{}](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/api/v1/teams?division=hockey+experts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	teams = decode[[]map[string]interface{}](t, rec)
	require.Len(t, teams, 1)
	assert.Equal(t, "Éperviers", teams[0]["name"])

	rec = do(t, h, http.MethodGet, "/api/v1/teams?division=l%E2%80%99entrepot+du+hockey", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]interface{}](t, rec), 1, "accents and apostrophes are folded")

	rec = do(t, h, http.MethodGet, "/api/v1/teams?season_only=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTeam(t *testing.T) {
	h := NewServer(newWebFixture(t).options()).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/teams/20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Éperviers", decode[map[string]interface{}](t, rec)["name"])

	rec = do(t, h, http.MethodGet, "/api/v1/teams/20?season_only=1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPlayers(t *testing.T) {
	h := NewServer(newWebFixture(t).options()).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/players?team_id=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	players := decode[[]map[string]interface{}](t, rec)
	require.Len(t, players, 1)
	assert.Equal(t, "Sam Côté", players[0]["name"])

	rec = do(t, h, http.MethodGet, "/api/v1/players?season_only=true", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "players_season.json was never generated")
}

func TestGetTeamProfile(t *testing.T) {
	h := NewServer(newWebFixture(t).options()).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/teams/10/profile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "Castors", body["team"].(map[string]interface{})["name"])
	assert.Len(t, body["roster"], 1)

	rec = do(t, h, http.MethodGet, "/api/v1/teams/99/profile", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/teams/10/profile?season_only=true", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "players_season.json was never generated")
}

func TestGetDivisions(t *testing.T) {
	h := NewServer(newWebFixture(t).options()).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/divisions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode[[]map[string]interface{}](t, rec)
	require.Len(t, groups, 2)
	assert.Equal(t, "L'Entrepôt du Hockey", groups[0]["division"])
	assert.Equal(t, "Hockey Experts", groups[1]["division"])
}

func TestGetLeaders(t *testing.T) {
	h := NewServer(newWebFixture(t).options()).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/leaders?category=goals&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "goals", body["category"])
	leaders := body["leaders"].([]interface{})
	require.Len(t, leaders, 1)
	first := leaders[0].(map[string]interface{})
	assert.Equal(t, float64(5), first["value"])
	assert.Equal(t, "Alex Roy", first["player"].(map[string]interface{})["name"])

	rec = do(t, h, http.MethodGet, "/api/v1/leaders?category=hits", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/leaders?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetGames(t *testing.T) {
	h := NewServer(newWebFixture(t).options()).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/games", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]interface{}](t, rec), 3)

	rec = do(t, h, http.MethodGet, "/api/v1/games?game_type=tournament", "")
	require.Equal(t, http.StatusOK, rec.Code)
	games := decode[[]map[string]interface{}](t, rec)
	require.Len(t, games, 1)
	assert.Equal(t, "2", games[0]["id"])

	rec = do(t, h, http.MethodGet, "/api/v1/games?game_type=season", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]interface{}](t, rec), 2)

	rec = do(t, h, http.MethodGet, "/api/v1/games?game_type=playoffs", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetGame(t *testing.T) {
	h := NewServer(newWebFixture(t).options()).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/games/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id": "1", "home_score": 4}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/games/99", "").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/api/v1/games/broken", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/games/bad.id", "").Code)
}

func TestFileCacheServesUntilInvalidated(t *testing.T) {
	f := newWebFixture(t)
	opts := f.options()
	opts.Files = NewFileCache()
	h := NewServer(opts).Handler()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/teams", "").Code)
	require.NoError(t, os.WriteFile(filepath.Join(f.webDir, "teams.json"), []byte(`[]`), 0o644))

	assert.Len(t, decode[[]map[string]interface{}](t, do(t, h, http.MethodGet, "/api/v1/teams", "")), 2)

	opts.Files.Invalidate(filepath.Join(f.webDir, "teams.json"))
	assert.Empty(t, decode[[]map[string]interface{}](t, do(t, h, http.MethodGet, "/api/v1/teams", "")))
}

func TestStaticFiles(t *testing.T) {
	h := NewServer(newWebFixture(t).options()).Handler()

	rec := do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "LHEQ")
}

func TestLastRun(t *testing.T) {
	client, mock := redismock.NewClientMock()
	opts := newWebFixture(t).options()
	opts.Cache = cache.NewFromClient(client)
	h := NewServer(opts).Handler()

	mock.ExpectGet(cache.LastRunKey).SetVal(`{"run_id":"r1"}`)
	rec := do(t, h, http.MethodGet, "/api/v1/stats/last-run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"run_id":"r1"}`, rec.Body.String())

	mock.ExpectGet(cache.LastRunKey).RedisNil()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/stats/last-run", "").Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastRunWithoutRedis(t *testing.T) {
	h := NewServer(newWebFixture(t).options()).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/v1/stats/last-run", "").Code)
}

func TestStandings(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	opts := newWebFixture(t).options()
	opts.DB = store.Wrap(conn, zerolog.Nop())
	h := NewServer(opts).Handler()

	cols := []string{
		"variant", "team_id", "run_id", "name", "division", "division_rank",
		"games_played", "wins", "losses", "overtime_losses", "ties",
		"points", "fair_play_points", "total_points",
		"goals_for", "goals_against", "goal_differential", "penalty_minutes",
		"poc_rating", "poc_adjusted", "updated_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM team_standings").WithArgs("_season").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("_season", "10", "r1", "Castors", "", 0, 1, 1, 0, 0, 0, 2, 1, 3, 4, 1, 3, 2, 1010.0, 1001.7, time.Now()))

	rec := do(t, h, http.MethodGet, "/api/v1/standings?season_only=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]store.TeamStanding](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].TotalPoints)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeJobs struct {
	requests []backfill.Request
	err      error
	status   *backfill.StatusSummary
}

func (f *fakeJobs) Enqueue(_ context.Context, req backfill.Request) (*backfill.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &backfill.Job{
		JobID:         "job-1",
		JobType:       backfill.JobType(req.JobType),
		DryRun:        req.DryRun,
		Status:        backfill.JobStatusQueued,
		StatusMessage: sql.NullString{String: "Queued", Valid: true},
	}, nil
}

func (f *fakeJobs) GetStatus(context.Context) (*backfill.StatusSummary, error) {
	return f.status, nil
}

func TestEnqueueJob(t *testing.T) {
	jobs := &fakeJobs{}
	opts := newWebFixture(t).options()
	opts.Jobs = jobs
	h := NewServer(opts).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/jobs", `{"job_type": "migrate", "dry_run": true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []backfill.Request{{JobType: "migrate", DryRun: true}}, jobs.requests)

	body := decode[map[string]map[string]interface{}](t, rec)
	assert.Equal(t, "job-1", body["job"]["job_id"])
	assert.Equal(t, "queued", body["job"]["status"])
	assert.Equal(t, "Queued", body["job"]["status_message"])

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/jobs", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/jobs", `{}`).Code)

	jobs.err = errors.New("unknown job type reindex")
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/jobs", `{"job_type": "reindex"}`).Code)
}

func TestJobStatus(t *testing.T) {
	running := &backfill.Job{
		JobID:         "job-2",
		JobType:       backfill.JobTypeGameTypes,
		Status:        backfill.JobStatusRunning,
		StatusMessage: sql.NullString{String: "Running game_types", Valid: true},
	}
	jobs := &fakeJobs{status: &backfill.StatusSummary{ActiveJob: running, History: []*backfill.Job{running}}}
	opts := newWebFixture(t).options()
	opts.Jobs = jobs
	h := NewServer(opts).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/jobs/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "Running game_types", body["message"])
	assert.Len(t, body["history"], 1)
}

func TestJobsWithoutService(t *testing.T) {
	h := NewServer(newWebFixture(t).options()).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/api/v1/jobs", `{"job_type":"migrate"}`).Code)
}

func TestMetricsAndRouteLabels(t *testing.T) {
	m := metrics.New()
	opts := newWebFixture(t).options()
	opts.Metrics = m
	h := NewServer(opts).Handler()

	do(t, h, http.MethodGet, "/api/v1/teams/10", "")
	do(t, h, http.MethodGet, "/api/v1/teams/20", "")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/v1/teams/{teamID}", "200")))

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lheq_http_requests_total")
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RequestIDMiddleware(RecoveryMiddleware(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decode[map[string]interface{}](t, rec)["error"])
}

func TestCORSPreflight(t *testing.T) {
	h := NewServer(newWebFixture(t).options()).Handler()

	rec := do(t, h, http.MethodOptions, "/api/v1/jobs", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
