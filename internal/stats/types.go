package stats

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/fortuna/lheq/internal/gamefile"
)

// ID is an identifier that the league data stores either as a string or as
// a number. Both decode to the same text form.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	r := gjson.ParseBytes(b)
	switch r.Type {
	case gjson.Null:
		*id = ""
	case gjson.String:
		*id = ID(strings.TrimSpace(r.Str))
	case gjson.Number:
		*id = ID(r.Raw)
	default:
		return fmt.Errorf("unsupported id value %s", b)
	}
	return nil
}

// TeamRef is a team as it appears inside a game record.
type TeamRef struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
	Logo string `json:"logo"`
}

// key identifies the team across games; records without an id fall back to the name.
func (t TeamRef) key() ID {
	if t.ID != "" {
		return t.ID
	}
	return ID(strings.TrimSpace(t.Name))
}

// PlayerLine is one player's box score in a game.
type PlayerLine struct {
	ID             ID     `json:"id"`
	Name           string `json:"name"`
	TeamID         ID     `json:"team_id"`
	Number         ID     `json:"number"`
	Position       string `json:"position"`
	Goals          int    `json:"goals"`
	Assists        int    `json:"assists"`
	PenaltyMinutes int    `json:"penalty_minutes"`
}

// Game is the subset of a per-game record the compiler reads.
type Game struct {
	ID        ID           `json:"id"`
	Date      string       `json:"date"`
	Status    string       `json:"status"`
	HomeTeam  TeamRef      `json:"home_team"`
	AwayTeam  TeamRef      `json:"away_team"`
	HomeScore *int         `json:"home_score"`
	AwayScore *int         `json:"away_score"`
	Overtime  bool         `json:"overtime"`
	Shootout  bool         `json:"shootout"`
	Players   []PlayerLine `json:"players"`

	Type gamefile.GameType `json:"-"`
	When time.Time         `json:"-"`
	File string            `json:"-"`
}

// Decided reports whether the game went past regulation.
func (g *Game) Decided() bool {
	return g.Overtime || g.Shootout
}

func (g *Game) countable() bool {
	if g.HomeScore == nil || g.AwayScore == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(g.Status)) {
	case "", "final":
		return true
	}
	return false
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateOnly, time.RFC3339, "2006-01-02 15:04", time.DateTime} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// TeamStats is one row of teams{suffix}.json.
type TeamStats struct {
	ID               ID      `json:"id" csv:"id"`
	Name             string  `json:"name" csv:"name"`
	LogoURL          string  `json:"logo_url" csv:"logo_url"`
	LocalLogo        string  `json:"local_logo" csv:"local_logo"`
	GamesPlayed      int     `json:"games_played" csv:"games_played"`
	Wins             int     `json:"wins" csv:"wins"`
	Losses           int     `json:"losses" csv:"losses"`
	OvertimeLosses   int     `json:"overtime_losses" csv:"overtime_losses"`
	Ties             int     `json:"ties" csv:"ties"`
	Points           int     `json:"points" csv:"points"`
	FairPlayPoints   int     `json:"fair_play_points" csv:"fair_play_points"`
	TotalPoints      int     `json:"total_points" csv:"total_points"`
	GoalsFor         int     `json:"goals_for" csv:"goals_for"`
	GoalsAgainst     int     `json:"goals_against" csv:"goals_against"`
	GoalDifferential int     `json:"goal_differential" csv:"goal_differential"`
	PenaltyMinutes   int     `json:"penalty_minutes" csv:"penalty_minutes"`
	HomeWins         int     `json:"home_wins" csv:"home_wins"`
	HomeLosses       int     `json:"home_losses" csv:"home_losses"`
	HomeTies         int     `json:"home_ties" csv:"home_ties"`
	AwayWins         int     `json:"away_wins" csv:"away_wins"`
	AwayLosses       int     `json:"away_losses" csv:"away_losses"`
	AwayTies         int     `json:"away_ties" csv:"away_ties"`
	POCRating        float64 `json:"poc_rating" csv:"poc_rating"`
	POCAdjusted      float64 `json:"poc_adjusted" csv:"poc_adjusted"`
	Division         string  `json:"division" csv:"division"`
	DivisionRank     int     `json:"division_rank,omitempty" csv:"division_rank"`
}

// PlayerStats is one row of players{suffix}.json.
type PlayerStats struct {
	ID             ID      `json:"id" csv:"id"`
	Name           string  `json:"name" csv:"name"`
	TeamID         ID      `json:"team_id" csv:"team_id"`
	TeamName       string  `json:"team_name" csv:"team_name"`
	Number         ID      `json:"number" csv:"number"`
	Position       string  `json:"position" csv:"position"`
	GamesPlayed    int     `json:"games_played" csv:"games_played"`
	Goals          int     `json:"goals" csv:"goals"`
	Assists        int     `json:"assists" csv:"assists"`
	Points         int     `json:"points" csv:"points"`
	PenaltyMinutes int     `json:"penalty_minutes" csv:"penalty_minutes"`
	PointsPerGame  float64 `json:"points_per_game" csv:"points_per_game"`
}
