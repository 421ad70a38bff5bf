package repository

import (
	"context"
	"fmt"

	"github.com/fortuna/lheq/internal/store"
)

// StandingsRepository keeps the latest standings snapshot of each variant.
type StandingsRepository struct {
	db *store.Database
}

// NewStandingsRepository creates a new standings repository
func NewStandingsRepository(db *store.Database) *StandingsRepository {
	return &StandingsRepository{db: db}
}

// SaveTeams upserts one row per team for variant and drops teams that are
// no longer part of the run.
func (r *StandingsRepository) SaveTeams(ctx context.Context, runID, variant string, teams []store.TeamStanding) error {
	tx, err := r.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin standings tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO team_standings (
			variant, team_id, run_id, name, division, division_rank,
			games_played, wins, losses, overtime_losses, ties,
			points, fair_play_points, total_points,
			goals_for, goals_against, goal_differential, penalty_minutes,
			poc_rating, poc_adjusted, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,NOW())
		ON CONFLICT (variant, team_id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			name = EXCLUDED.name,
			division = EXCLUDED.division,
			division_rank = EXCLUDED.division_rank,
			games_played = EXCLUDED.games_played,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			overtime_losses = EXCLUDED.overtime_losses,
			ties = EXCLUDED.ties,
			points = EXCLUDED.points,
			fair_play_points = EXCLUDED.fair_play_points,
			total_points = EXCLUDED.total_points,
			goals_for = EXCLUDED.goals_for,
			goals_against = EXCLUDED.goals_against,
			goal_differential = EXCLUDED.goal_differential,
			penalty_minutes = EXCLUDED.penalty_minutes,
			poc_rating = EXCLUDED.poc_rating,
			poc_adjusted = EXCLUDED.poc_adjusted,
			updated_at = NOW()
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare standings upsert: %w", err)
	}
	defer stmt.Close()

	for _, t := range teams {
		_, err := stmt.ExecContext(ctx,
			variant, t.TeamID, runID, t.Name, t.Division, t.DivisionRank,
			t.GamesPlayed, t.Wins, t.Losses, t.OvertimeLosses, t.Ties,
			t.Points, t.FairPlayPoints, t.TotalPoints,
			t.GoalsFor, t.GoalsAgainst, t.GoalDifferential, t.PenaltyMinutes,
			t.POCRating, t.POCAdjusted,
		)
		if err != nil {
			return fmt.Errorf("upsert standing %s: %w", t.TeamID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM team_standings WHERE variant = $1 AND run_id <> $2`,
		variant, runID,
	); err != nil {
		return fmt.Errorf("prune standings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit standings: %w", err)
	}
	return nil
}

// ListTeams returns the stored standings of variant in standings order.
func (r *StandingsRepository) ListTeams(ctx context.Context, variant string) ([]store.TeamStanding, error) {
	query := `
		SELECT variant, team_id, run_id, name, division, division_rank,
			games_played, wins, losses, overtime_losses, ties,
			points, fair_play_points, total_points,
			goals_for, goals_against, goal_differential, penalty_minutes,
			poc_rating, poc_adjusted, updated_at
		FROM team_standings
		WHERE variant = $1
		ORDER BY poc_adjusted DESC, total_points DESC, goal_differential DESC, name
	`

	rows, err := r.db.DB().QueryContext(ctx, query, variant)
	if err != nil {
		return nil, fmt.Errorf("querying standings: %w", err)
	}
	defer rows.Close()

	var teams []store.TeamStanding
	for rows.Next() {
		var t store.TeamStanding
		err := rows.Scan(
			&t.Variant, &t.TeamID, &t.RunID, &t.Name, &t.Division, &t.DivisionRank,
			&t.GamesPlayed, &t.Wins, &t.Losses, &t.OvertimeLosses, &t.Ties,
			&t.Points, &t.FairPlayPoints, &t.TotalPoints,
			&t.GoalsFor, &t.GoalsAgainst, &t.GoalDifferential, &t.PenaltyMinutes,
			&t.POCRating, &t.POCAdjusted, &t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning standing: %w", err)
		}
		teams = append(teams, t)
	}

	return teams, rows.Err()
}
