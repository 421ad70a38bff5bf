package store

import (
	"time"
)

// TeamStanding is one team's row in a standings snapshot.
type TeamStanding struct {
	Variant          string    `json:"variant"`
	TeamID           string    `json:"team_id"`
	RunID            string    `json:"run_id"`
	Name             string    `json:"name"`
	Division         string    `json:"division"`
	DivisionRank     int       `json:"division_rank"`
	GamesPlayed      int       `json:"games_played"`
	Wins             int       `json:"wins"`
	Losses           int       `json:"losses"`
	OvertimeLosses   int       `json:"overtime_losses"`
	Ties             int       `json:"ties"`
	Points           int       `json:"points"`
	FairPlayPoints   int       `json:"fair_play_points"`
	TotalPoints      int       `json:"total_points"`
	GoalsFor         int       `json:"goals_for"`
	GoalsAgainst     int       `json:"goals_against"`
	GoalDifferential int       `json:"goal_differential"`
	PenaltyMinutes   int       `json:"penalty_minutes"`
	POCRating        float64   `json:"poc_rating"`
	POCAdjusted      float64   `json:"poc_adjusted"`
	UpdatedAt        time.Time `json:"updated_at"`
}
