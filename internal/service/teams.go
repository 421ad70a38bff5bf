package service

import (
	"errors"
	"fmt"

	"github.com/fortuna/lheq/internal/stats"
)

// ErrTeamNotFound is returned when no team in the file has the requested id.
var ErrTeamNotFound = errors.New("team not found")

// Source loads the generated statistics files for one variant suffix.
type Source interface {
	Teams(suffix string) ([]stats.TeamStats, error)
	Players(suffix string) ([]stats.PlayerStats, error)
}

// LeagueService answers the read-side questions the dashboard asks about
// the generated statistics.
type LeagueService struct {
	src Source
}

// NewLeagueService creates a new league service
func NewLeagueService(src Source) *LeagueService {
	return &LeagueService{src: src}
}

// TeamProfile is a team with its roster and per-game averages.
type TeamProfile struct {
	Team     stats.TeamStats     `json:"team"`
	Roster   []stats.PlayerStats `json:"roster"`
	Averages TeamAverages        `json:"averages"`
}

// TeamAverages are the team totals divided by games played.
type TeamAverages struct {
	GoalsForPerGame       float64 `json:"goals_for_per_game"`
	GoalsAgainstPerGame   float64 `json:"goals_against_per_game"`
	PenaltyMinutesPerGame float64 `json:"penalty_minutes_per_game"`
	// PointsPercentage is standings points over the maximum possible (2 per game).
	PointsPercentage float64 `json:"points_percentage"`
}

// GetTeamProfile retrieves a team by id with its roster, ordered like the players file.
func (s *LeagueService) GetTeamProfile(suffix string, teamID stats.ID) (*TeamProfile, error) {
	teams, err := s.src.Teams(suffix)
	if err != nil {
		return nil, fmt.Errorf("fetching teams: %w", err)
	}

	var team *stats.TeamStats
	for i := range teams {
		if teams[i].ID == teamID {
			team = &teams[i]
			break
		}
	}
	if team == nil {
		return nil, fmt.Errorf("%w: %s", ErrTeamNotFound, teamID)
	}

	players, err := s.src.Players(suffix)
	if err != nil {
		return nil, fmt.Errorf("fetching players: %w", err)
	}

	roster := make([]stats.PlayerStats, 0)
	for _, p := range players {
		if p.TeamID == teamID {
			roster = append(roster, p)
		}
	}

	gp := float64(team.GamesPlayed)
	return &TeamProfile{
		Team:   *team,
		Roster: roster,
		Averages: TeamAverages{
			GoalsForPerGame:       round2(safeDiv(float64(team.GoalsFor), gp)),
			GoalsAgainstPerGame:   round2(safeDiv(float64(team.GoalsAgainst), gp)),
			PenaltyMinutesPerGame: round2(safeDiv(float64(team.PenaltyMinutes), gp)),
			PointsPercentage:      round2(safeDiv(float64(team.Points), 2*gp)),
		},
	}, nil
}

// DivisionStandings is one division's teams in standings order.
type DivisionStandings struct {
	Division string            `json:"division"`
	Teams    []stats.TeamStats `json:"teams"`
}

// GetDivisionStandings groups the teams by division. Divisions keep the order
// in which they first appear in the standings; teams without a division come last.
func (s *LeagueService) GetDivisionStandings(suffix string) ([]DivisionStandings, error) {
	teams, err := s.src.Teams(suffix)
	if err != nil {
		return nil, fmt.Errorf("fetching teams: %w", err)
	}

	var (
		out        []DivisionStandings
		index      = make(map[string]int)
		unassigned []stats.TeamStats
	)
	for _, t := range teams {
		if t.Division == "" {
			unassigned = append(unassigned, t)
			continue
		}
		i, ok := index[t.Division]
		if !ok {
			i = len(out)
			index[t.Division] = i
			out = append(out, DivisionStandings{Division: t.Division})
		}
		out[i].Teams = append(out[i].Teams, t)
	}
	if len(unassigned) > 0 {
		out = append(out, DivisionStandings{Teams: unassigned})
	}
	return out, nil
}
