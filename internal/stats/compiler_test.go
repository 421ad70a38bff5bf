package stats

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/lheq/internal/logos"
)

func writeGame(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

// league writes three games: a regulation win, an overtime win in a
// tournament, and a scheduled game without a score.
func league(t *testing.T) (gamesDir, webDir string) {
	t.Helper()
	root := t.TempDir()
	gamesDir = filepath.Join(root, "games")
	webDir = filepath.Join(root, "web")

	writeGame(t, gamesDir, "b.json", `{
  "id": 2, "date": "2024-10-12", "schedule_id": 183835,
  "home_team": {"id": 10, "name": "Castors", "logo": "https://example.com/10.png"},
  "away_team": {"id": 20, "name": "Éperviers"},
  "home_score": 2, "away_score": 3, "overtime": true,
  "players": [
    {"id": "p1", "name": "Alex Roy", "team_id": 10, "goals": 2, "penalty_minutes": 4},
    {"id": "p2", "name": "Sam Côté", "team_id": 20, "goals": 2, "assists": 1, "penalty_minutes": 14}
  ]
}`)
	writeGame(t, gamesDir, "a.json", `{
  "id": "1", "date": "2024-10-05", "game_type": "season",
  "home_team": {"id": "10", "name": "Castors"},
  "away_team": {"id": "20", "name": "Éperviers", "logo": "https://example.com/20"},
  "home_score": 4, "away_score": 1,
  "players": [
    {"id": "p1", "name": "Alex Roy", "team_id": "10", "goals": 3, "assists": 1, "penalty_minutes": 2},
    {"id": "p2", "name": "Sam Côté", "team_id": "20", "goals": 1}
  ]
}`)
	writeGame(t, gamesDir, "c.json", `{
  "id": 3, "date": "2024-10-19", "status": "scheduled",
  "home_team": {"id": 20}, "away_team": {"id": 10}
}`)
	writeGame(t, gamesDir, "broken.json", `{"id": `)
	return gamesDir, webDir
}

func teamByID(teams []TeamStats, id ID) TeamStats {
	for _, t := range teams {
		if t.ID == id {
			return t
		}
	}
	return TeamStats{}
}

func TestLoadGamesFiltersAndOrders(t *testing.T) {
	gamesDir, webDir := league(t)

	all := NewCompiler(gamesDir, webDir, true)
	require.NoError(t, all.LoadGames(context.Background()))
	require.Len(t, all.Games(), 2)
	assert.Equal(t, ID("1"), all.Games()[0].ID)
	assert.Equal(t, ID("2"), all.Games()[1].ID)

	season := NewCompiler(gamesDir, webDir, false)
	require.NoError(t, season.LoadGames(context.Background()))
	require.Len(t, season.Games(), 1)
	assert.Equal(t, ID("1"), season.Games()[0].ID)
}

func TestLoadGamesHonorsCancellation(t *testing.T) {
	gamesDir, webDir := league(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewCompiler(gamesDir, webDir, true).LoadGames(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessGames(t *testing.T) {
	gamesDir, webDir := league(t)
	c := NewCompiler(gamesDir, webDir, true)
	require.NoError(t, c.LoadGames(context.Background()))
	require.NoError(t, c.ProcessGames())

	teams := c.Teams()
	require.Len(t, teams, 2)

	castors := teamByID(teams, "10")
	assert.Equal(t, "Castors", castors.Name)
	assert.Equal(t, "https://example.com/10.png", castors.LogoURL)
	assert.Equal(t, 2, castors.GamesPlayed)
	assert.Equal(t, 1, castors.Wins)
	assert.Equal(t, 1, castors.OvertimeLosses)
	assert.Equal(t, 0, castors.Losses)
	assert.Equal(t, 3, castors.Points)
	assert.Equal(t, 2, castors.FairPlayPoints)
	assert.Equal(t, 5, castors.TotalPoints)
	assert.Equal(t, 6, castors.GoalsFor)
	assert.Equal(t, 4, castors.GoalsAgainst)
	assert.Equal(t, 2, castors.GoalDifferential)
	assert.Equal(t, 6, castors.PenaltyMinutes)
	assert.Equal(t, 1, castors.HomeWins)
	assert.Equal(t, 1, castors.HomeLosses)

	eperviers := teamByID(teams, "20")
	assert.Equal(t, 1, eperviers.Wins)
	assert.Equal(t, 1, eperviers.Losses)
	assert.Equal(t, 2, eperviers.Points)
	assert.Equal(t, 1, eperviers.FairPlayPoints, "14 PIM in the second game costs the fair-play point")
	assert.Equal(t, 1, eperviers.AwayWins)
	assert.Equal(t, 1, eperviers.AwayLosses)

	players := c.Players()
	require.Len(t, players, 2)
	assert.Equal(t, ID("p1"), players[0].ID)
	assert.Equal(t, 6, players[0].Points)
	assert.Equal(t, 3.0, players[0].PointsPerGame)
	assert.Equal(t, "Castors", players[0].TeamName)
	assert.Equal(t, 4, players[1].Points)
}

func TestFairPlayThreshold(t *testing.T) {
	gamesDir, webDir := league(t)
	c := NewCompiler(gamesDir, webDir, true, WithFairPlayMaxPIM(14))
	require.NoError(t, c.LoadGames(context.Background()))
	require.NoError(t, c.ProcessGames())

	assert.Equal(t, 2, teamByID(c.Teams(), "20").FairPlayPoints)
}

func TestCalculatePOCRatings(t *testing.T) {
	root := t.TempDir()
	gamesDir := filepath.Join(root, "games")
	writeGame(t, gamesDir, "g.json", `{"id": 1, "date": "2024-01-01",
  "home_team": {"id": "a", "name": "A"}, "away_team": {"id": "b", "name": "B"},
  "home_score": 3, "away_score": 1}`)

	c := NewCompiler(gamesDir, root, true)
	require.NoError(t, c.LoadGames(context.Background()))
	require.NoError(t, c.ProcessGames())
	require.NoError(t, c.CalculatePOCRatings())

	a, b := teamByID(c.Teams(), "a"), teamByID(c.Teams(), "b")
	assert.Equal(t, 1011.0, a.POCRating)
	assert.Equal(t, 989.0, b.POCRating)
	assert.Equal(t, 1001.8, a.POCAdjusted)
	assert.Equal(t, 998.2, b.POCAdjusted)
}

func TestRatingHelpers(t *testing.T) {
	assert.Equal(t, 0.5, expectedScore(1000, 1000))
	assert.InDelta(t, 0.76, expectedScore(1200, 1000), 0.01)

	assert.Equal(t, 1.0, actualScore(3, 1, false))
	assert.Equal(t, 0.75, actualScore(3, 2, true))
	assert.Equal(t, 0.25, actualScore(2, 3, true))
	assert.Equal(t, 0.0, actualScore(0, 5, false))
	assert.Equal(t, 0.5, actualScore(2, 2, false))

	assert.Equal(t, 1.0, marginMultiplier(1))
	assert.Equal(t, 1.0, marginMultiplier(0))
	assert.InDelta(t, 1.609, marginMultiplier(-4), 0.001)

	assert.Equal(t, 1000.0, adjustedRating(1100, 0))
	assert.Equal(t, 1050.0, adjustedRating(1100, 5))
}

func TestMethodsOutOfOrder(t *testing.T) {
	c := NewCompiler(t.TempDir(), t.TempDir(), true)

	assert.ErrorIs(t, c.ProcessGames(), ErrNotLoaded)
	assert.ErrorIs(t, c.CalculatePOCRatings(), ErrNotProcessed)
	assert.ErrorIs(t, c.DownloadTeamLogos(context.Background()), ErrNotProcessed)
	assert.ErrorIs(t, c.SaveData(""), ErrNotProcessed)
}

func TestSaveDataKeepsDivisions(t *testing.T) {
	gamesDir, webDir := league(t)
	require.NoError(t, os.MkdirAll(webDir, 0o755))
	require.NoError(t, os.WriteFile(TeamsPath(webDir, "_season"),
		[]byte(`[{"id": "20", "name": "Éperviers", "division": "Hockey Experts"}]`), 0o644))

	c := NewCompiler(gamesDir, webDir, false)
	require.NoError(t, c.LoadGames(context.Background()))
	require.NoError(t, c.ProcessGames())
	require.NoError(t, c.CalculatePOCRatings())
	require.NoError(t, c.SaveData("_season"))

	teams, err := ReadTeams(TeamsPath(webDir, "_season"))
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, ID("10"), teams[0].ID, "winner ranks first")
	assert.Equal(t, "", teams[0].Division)
	assert.Equal(t, "Hockey Experts", teams[1].Division)

	raw, err := os.ReadFile(TeamsPath(webDir, "_season"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"name": "Éperviers"`)

	players, err := ReadPlayers(PlayersPath(webDir, "_season"))
	require.NoError(t, err)
	assert.Len(t, players, 2)
}

func TestSortStandings(t *testing.T) {
	teams := []TeamStats{
		{ID: "a", Name: "Alpha", POCAdjusted: 1000, TotalPoints: 10, GoalDifferential: 1},
		{ID: "b", Name: "Bravo", POCAdjusted: 1010, TotalPoints: 2},
		{ID: "c", Name: "Charlie", POCAdjusted: 1000, TotalPoints: 10, GoalDifferential: 5},
		{ID: "d", Name: "Delta", POCAdjusted: 1000, TotalPoints: 12},
		{ID: "e", Name: "Echo"},
	}
	SortStandings(teams)

	var order []ID
	for _, tm := range teams {
		order = append(order, tm.ID)
	}
	assert.Equal(t, []ID{"b", "d", "c", "a", "e"}, order)
}

type fakeFetcher struct {
	mu   sync.Mutex
	urls []string
	fail map[string]bool
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (logos.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	if f.fail[url] {
		return logos.Image{}, errors.New("boom")
	}
	return logos.Image{Data: []byte("img:" + url), Ext: ".png"}, nil
}

func TestDownloadTeamLogos(t *testing.T) {
	gamesDir, webDir := league(t)
	logoDir := filepath.Join(webDir, "assets", "logos")
	require.NoError(t, os.MkdirAll(logoDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(logoDir, "20.svg"), []byte("<svg/>"), 0o644))

	f := &fakeFetcher{}
	c := NewCompiler(gamesDir, webDir, true, WithLogoFetcher(f, 2))
	require.NoError(t, c.LoadGames(context.Background()))
	require.NoError(t, c.ProcessGames())
	require.NoError(t, c.DownloadTeamLogos(context.Background()))

	assert.Equal(t, []string{"https://example.com/10.png"}, f.urls)
	data, err := os.ReadFile(filepath.Join(logoDir, "10.png"))
	require.NoError(t, err)
	assert.Equal(t, "img:https://example.com/10.png", string(data))

	teams := c.Teams()
	assert.Equal(t, "assets/logos/10.png", teamByID(teams, "10").LocalLogo)
	assert.Equal(t, "assets/logos/20.svg", teamByID(teams, "20").LocalLogo)
}

func TestDownloadTeamLogosSkipsFailures(t *testing.T) {
	gamesDir, webDir := league(t)
	f := &fakeFetcher{fail: map[string]bool{"https://example.com/10.png": true}}

	c := NewCompiler(gamesDir, webDir, true, WithLogoFetcher(f, 1))
	require.NoError(t, c.LoadGames(context.Background()))
	require.NoError(t, c.ProcessGames())
	require.NoError(t, c.DownloadTeamLogos(context.Background()))

	teams := c.Teams()
	assert.Empty(t, teamByID(teams, "10").LocalLogo)
	assert.Equal(t, "assets/logos/20.png", teamByID(teams, "20").LocalLogo)
}

func TestIDDecodesStringsAndNumbers(t *testing.T) {
	var g Game
	require.NoError(t, json.Unmarshal([]byte(`{"id": 42, "home_team": {"id": " 7 "}, "away_team": {"id": null}}`), &g))
	assert.Equal(t, ID("42"), g.ID)
	assert.Equal(t, ID("7"), g.HomeTeam.ID)
	assert.Equal(t, ID(""), g.AwayTeam.ID)

	assert.Error(t, json.Unmarshal([]byte(`{"id": [1]}`), &g))
}

func TestLogoBaseName(t *testing.T) {
	assert.Equal(t, "101", logoBaseName("101"))
	assert.Equal(t, "Les_B_tisseurs", logoBaseName("Les Bâtisseurs"))
	assert.Equal(t, "team", logoBaseName("../"))
}
