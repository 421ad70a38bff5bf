// Package stats compiles team and player aggregates from per-game records.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fortuna/lheq/internal/gamefile"
	"github.com/fortuna/lheq/internal/jsonfile"
	"github.com/fortuna/lheq/internal/logos"
)

var (
	// ErrNotLoaded is returned when games are processed before LoadGames.
	ErrNotLoaded = errors.New("games not loaded")
	// ErrNotProcessed is returned when ratings, logos or output are requested before ProcessGames.
	ErrNotProcessed = errors.New("games not processed")
)

// DefaultFairPlayMaxPIM is the most penalty minutes a team may take in a
// game and still earn its fair-play point.
const DefaultFairPlayMaxPIM = 12

// LogoFetcher downloads a team logo.
type LogoFetcher interface {
	Fetch(ctx context.Context, url string) (logos.Image, error)
}

// Compiler builds one variant of the league statistics. It is not safe for
// concurrent use.
type Compiler struct {
	gamesDir           string
	webDir             string
	includeTournaments bool
	tournamentIDs      []int64
	fairPlayMaxPIM     int
	fetcher            LogoFetcher
	logoConcurrency    int
	logger             zerolog.Logger

	games     []Game
	loaded    bool
	processed bool

	teams   map[ID]*TeamStats
	players map[ID]*PlayerStats
}

// Option configures a Compiler.
type Option func(*Compiler)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Compiler) { c.logger = l }
}

func WithTournamentScheduleIDs(ids []int64) Option {
	return func(c *Compiler) {
		if len(ids) > 0 {
			c.tournamentIDs = ids
		}
	}
}

func WithFairPlayMaxPIM(pim int) Option {
	return func(c *Compiler) { c.fairPlayMaxPIM = pim }
}

// WithLogoFetcher enables DownloadTeamLogos with at most concurrency
// downloads in flight.
func WithLogoFetcher(f LogoFetcher, concurrency int) Option {
	return func(c *Compiler) {
		c.fetcher = f
		if concurrency > 0 {
			c.logoConcurrency = concurrency
		}
	}
}

// NewCompiler creates a compiler reading gamesDir and writing under webDir.
func NewCompiler(gamesDir, webDir string, includeTournaments bool, opts ...Option) *Compiler {
	c := &Compiler{
		gamesDir:           gamesDir,
		webDir:             webDir,
		includeTournaments: includeTournaments,
		tournamentIDs:      gamefile.DefaultTournamentScheduleIDs,
		fairPlayMaxPIM:     DefaultFairPlayMaxPIM,
		logoConcurrency:    4,
		logger:             zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadGames reads every game file. Unreadable files are logged and skipped.
func (c *Compiler) LoadGames(ctx context.Context) error {
	names, err := gamefile.ListJSON(c.gamesDir)
	if err != nil {
		return fmt.Errorf("list games: %w", err)
	}

	c.games = c.games[:0]
	var failed, excluded, pending int
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}

		g, err := c.readGame(filepath.Join(c.gamesDir, name))
		if err != nil {
			failed++
			c.logger.Warn().Err(err).Str("file", name).Msg("skipping unreadable game")
			continue
		}
		if g.Type == gamefile.GameTypeTournament && !c.includeTournaments {
			excluded++
			continue
		}
		if !g.countable() {
			pending++
			continue
		}
		c.games = append(c.games, *g)
	}

	sort.SliceStable(c.games, func(i, j int) bool {
		a, b := c.games[i], c.games[j]
		if !a.When.Equal(b.When) {
			return a.When.Before(b.When)
		}
		return a.ID < b.ID
	})

	c.loaded = true
	c.processed = false
	c.logger.Info().
		Int("games", len(c.games)).
		Int("tournament_excluded", excluded).
		Int("not_final", pending).
		Int("failed", failed).
		Bool("include_tournaments", c.includeTournaments).
		Msg("loaded games")
	return nil
}

func (c *Compiler) readGame(path string) (*Game, error) {
	doc, err := gamefile.ReadObject(path)
	if err != nil {
		return nil, err
	}
	var g Game
	if err := json.Unmarshal(doc, &g); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	g.Type = gamefile.TypeOf(doc, c.tournamentIDs)
	g.When = parseDate(g.Date)
	g.File = filepath.Base(path)
	return &g, nil
}

// Games returns the loaded games in chronological order.
func (c *Compiler) Games() []Game {
	return c.games
}

// ProcessGames builds team and player records from the loaded games.
func (c *Compiler) ProcessGames() error {
	if !c.loaded {
		return ErrNotLoaded
	}

	c.teams = make(map[ID]*TeamStats)
	c.players = make(map[ID]*PlayerStats)

	for i := range c.games {
		g := &c.games[i]
		home := c.team(g.HomeTeam)
		away := c.team(g.AwayTeam)
		hs, as := *g.HomeScore, *g.AwayScore

		home.GamesPlayed++
		away.GamesPlayed++
		home.GoalsFor += hs
		home.GoalsAgainst += as
		away.GoalsFor += as
		away.GoalsAgainst += hs

		switch {
		case hs > as:
			home.Wins++
			home.HomeWins++
			away.AwayLosses++
			if g.Decided() {
				away.OvertimeLosses++
			} else {
				away.Losses++
			}
		case hs < as:
			away.Wins++
			away.AwayWins++
			home.HomeLosses++
			if g.Decided() {
				home.OvertimeLosses++
			} else {
				home.Losses++
			}
		default:
			home.Ties++
			home.HomeTies++
			away.Ties++
			away.AwayTies++
		}

		pim := c.processPlayers(g, home, away)
		for _, t := range []*TeamStats{home, away} {
			t.PenaltyMinutes += pim[t.ID]
			if pim[t.ID] <= c.fairPlayMaxPIM {
				t.FairPlayPoints++
			}
		}
	}

	for _, t := range c.teams {
		t.Points = 2*t.Wins + t.OvertimeLosses + t.Ties
		t.TotalPoints = t.Points + t.FairPlayPoints
		t.GoalDifferential = t.GoalsFor - t.GoalsAgainst
		t.POCRating = baselineRating
		t.POCAdjusted = baselineRating
	}
	for _, p := range c.players {
		p.Points = p.Goals + p.Assists
		if p.GamesPlayed > 0 {
			p.PointsPerGame = round(float64(p.Points)/float64(p.GamesPlayed), 2)
		}
	}

	c.processed = true
	c.logger.Info().Int("teams", len(c.teams)).Int("players", len(c.players)).Msg("processed games")
	return nil
}

func (c *Compiler) team(ref TeamRef) *TeamStats {
	id := ref.key()
	t, ok := c.teams[id]
	if !ok {
		t = &TeamStats{ID: id}
		c.teams[id] = t
	}
	if ref.Name != "" {
		t.Name = strings.TrimSpace(ref.Name)
	}
	if t.LogoURL == "" && ref.Logo != "" {
		t.LogoURL = strings.TrimSpace(ref.Logo)
	}
	return t
}

// processPlayers adds the game's box score to the player records and
// returns the penalty minutes taken by each team.
func (c *Compiler) processPlayers(g *Game, home, away *TeamStats) map[ID]int {
	pim := make(map[ID]int, 2)
	for _, line := range g.Players {
		teamID := line.TeamID
		if teamID == "" {
			continue
		}
		var team *TeamStats
		switch teamID {
		case home.ID:
			team = home
		case away.ID:
			team = away
		}

		pid := line.ID
		if pid == "" {
			pid = ID(strings.ToLower(strings.TrimSpace(line.Name)) + "@" + string(teamID))
		}
		p, ok := c.players[pid]
		if !ok {
			p = &PlayerStats{ID: pid}
			c.players[pid] = p
		}
		if line.Name != "" {
			p.Name = strings.TrimSpace(line.Name)
		}
		if line.Number != "" {
			p.Number = line.Number
		}
		if line.Position != "" {
			p.Position = line.Position
		}
		p.TeamID = teamID
		if team != nil {
			p.TeamName = team.Name
		}
		p.GamesPlayed++
		p.Goals += line.Goals
		p.Assists += line.Assists
		p.PenaltyMinutes += line.PenaltyMinutes

		pim[teamID] += line.PenaltyMinutes
	}
	return pim
}

// Teams returns the team records in standings order.
func (c *Compiler) Teams() []TeamStats {
	out := make([]TeamStats, 0, len(c.teams))
	for _, t := range c.teams {
		out = append(out, *t)
	}
	SortStandings(out)
	return out
}

// Players returns the player records ordered by points, goals and name.
func (c *Compiler) Players() []PlayerStats {
	out := make([]PlayerStats, 0, len(c.players))
	for _, p := range c.players {
		out = append(out, *p)
	}
	SortPlayers(out)
	return out
}

func (c *Compiler) TeamCount() int   { return len(c.teams) }
func (c *Compiler) PlayerCount() int { return len(c.players) }

// SaveData writes teams{suffix}.json and players{suffix}.json. Divisions
// already assigned in a previous teams file are kept.
func (c *Compiler) SaveData(suffix string) error {
	if !c.processed {
		return ErrNotProcessed
	}

	teamsPath := TeamsPath(c.webDir, suffix)
	previous, err := ReadTeams(teamsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn().Err(err).Str("file", teamsPath).Msg("ignoring unreadable previous teams file")
	}
	divisions := make(map[ID]string, len(previous))
	for _, t := range previous {
		if t.Division != "" {
			divisions[t.ID] = t.Division
		}
	}

	teams := c.Teams()
	for i := range teams {
		teams[i].Division = divisions[teams[i].ID]
	}

	if err := jsonfile.WritePretty(teamsPath, teams); err != nil {
		return fmt.Errorf("save teams: %w", err)
	}
	playersPath := PlayersPath(c.webDir, suffix)
	if err := jsonfile.WritePretty(playersPath, c.Players()); err != nil {
		return fmt.Errorf("save players: %w", err)
	}

	c.logger.Info().
		Str("teams_file", teamsPath).
		Str("players_file", playersPath).
		Int("teams", len(teams)).
		Int("players", len(c.players)).
		Msg("saved statistics")
	return nil
}

// TeamsPath is the teams file for a variant suffix.
func TeamsPath(webDir, suffix string) string {
	return filepath.Join(webDir, "teams"+suffix+".json")
}

// PlayersPath is the players file for a variant suffix.
func PlayersPath(webDir, suffix string) string {
	return filepath.Join(webDir, "players"+suffix+".json")
}

// ReadTeams loads a teams file.
func ReadTeams(path string) ([]TeamStats, error) {
	var teams []TeamStats
	if err := jsonfile.Read(path, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

// ReadPlayers loads a players file.
func ReadPlayers(path string) ([]PlayerStats, error) {
	var players []PlayerStats
	if err := jsonfile.Read(path, &players); err != nil {
		return nil, err
	}
	return players, nil
}

// SortStandings orders teams by adjusted POC, total points, goal
// differential and name.
func SortStandings(teams []TeamStats) {
	sort.SliceStable(teams, func(i, j int) bool {
		a, b := &teams[i], &teams[j]
		if pa, pb := a.standingRating(), b.standingRating(); pa != pb {
			return pa > pb
		}
		if a.TotalPoints != b.TotalPoints {
			return a.TotalPoints > b.TotalPoints
		}
		if a.GoalDifferential != b.GoalDifferential {
			return a.GoalDifferential > b.GoalDifferential
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

func (t *TeamStats) standingRating() float64 {
	switch {
	case t.POCAdjusted != 0:
		return t.POCAdjusted
	case t.POCRating != 0:
		return t.POCRating
	}
	return baselineRating
}

// SortPlayers orders players by points, goals and name.
func SortPlayers(players []PlayerStats) {
	sort.SliceStable(players, func(i, j int) bool {
		a, b := &players[i], &players[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.Goals != b.Goals {
			return a.Goals > b.Goals
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}
