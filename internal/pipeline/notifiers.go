package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/fortuna/lheq/internal/cache"
	"github.com/fortuna/lheq/internal/publisher"
	"github.com/fortuna/lheq/internal/stats"
	"github.com/fortuna/lheq/internal/store"
)

// StatsPublisher is satisfied by *publisher.RedisPublisher.
type StatsPublisher interface {
	PublishStatsGenerated(ctx context.Context, event publisher.StatsGenerated) (string, error)
}

// StreamNotifier announces runs on the stats stream.
type StreamNotifier struct {
	pub StatsPublisher
}

func NewStreamNotifier(pub StatsPublisher) *StreamNotifier {
	return &StreamNotifier{pub: pub}
}

func (n *StreamNotifier) Name() string { return "stream" }

func (n *StreamNotifier) Notify(ctx context.Context, run *RunSummary) error {
	event := publisher.StatsGenerated{RunID: run.RunID, Elapsed: run.Duration}
	for _, p := range run.Passes {
		event.Passes = append(event.Passes, publisher.PassSnapshot{
			Suffix:             p.Suffix,
			IncludeTournaments: p.IncludeTournaments,
			Teams:              p.Teams,
			Players:            p.Players,
		})
	}
	_, err := n.pub.PublishStatsGenerated(ctx, event)
	return err
}

// JSONCache is satisfied by *cache.RedisCache.
type JSONCache interface {
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
}

// LastRunNotifier stores the run summary under cache.LastRunKey.
type LastRunNotifier struct {
	cache JSONCache
	ttl   time.Duration
}

func NewLastRunNotifier(c JSONCache, ttl time.Duration) *LastRunNotifier {
	return &LastRunNotifier{cache: c, ttl: ttl}
}

func (n *LastRunNotifier) Name() string { return "last_run_cache" }

func (n *LastRunNotifier) Notify(ctx context.Context, run *RunSummary) error {
	return n.cache.SetJSON(ctx, cache.LastRunKey, run, n.ttl)
}

// StandingsSaver is satisfied by *repository.StandingsRepository.
type StandingsSaver interface {
	SaveTeams(ctx context.Context, runID, variant string, teams []store.TeamStanding) error
}

// StandingsNotifier snapshots the saved teams files into the database. It
// reads the files back so the snapshot includes the assigned divisions.
type StandingsNotifier struct {
	repo   StandingsSaver
	webDir string
}

func NewStandingsNotifier(repo StandingsSaver, webDir string) *StandingsNotifier {
	return &StandingsNotifier{repo: repo, webDir: webDir}
}

func (n *StandingsNotifier) Name() string { return "standings" }

func (n *StandingsNotifier) Notify(ctx context.Context, run *RunSummary) error {
	for _, p := range run.Passes {
		teams, err := stats.ReadTeams(stats.TeamsPath(n.webDir, p.Suffix))
		if err != nil {
			return err
		}
		if err := n.repo.SaveTeams(ctx, run.RunID, p.Suffix, toStandings(teams)); err != nil {
			return fmt.Errorf("save standings %q: %w", p.Suffix, err)
		}
	}
	return nil
}

func toStandings(teams []stats.TeamStats) []store.TeamStanding {
	out := make([]store.TeamStanding, 0, len(teams))
	for _, t := range teams {
		out = append(out, store.TeamStanding{
			TeamID:           string(t.ID),
			Name:             t.Name,
			Division:         t.Division,
			DivisionRank:     t.DivisionRank,
			GamesPlayed:      t.GamesPlayed,
			Wins:             t.Wins,
			Losses:           t.Losses,
			OvertimeLosses:   t.OvertimeLosses,
			Ties:             t.Ties,
			Points:           t.Points,
			FairPlayPoints:   t.FairPlayPoints,
			TotalPoints:      t.TotalPoints,
			GoalsFor:         t.GoalsFor,
			GoalsAgainst:     t.GoalsAgainst,
			GoalDifferential: t.GoalDifferential,
			PenaltyMinutes:   t.PenaltyMinutes,
			POCRating:        t.POCRating,
			POCAdjusted:      t.POCAdjusted,
		})
	}
	return out
}
