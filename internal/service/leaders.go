package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/fortuna/lheq/internal/stats"
)

// Category is a player statistic leaders can be ranked by.
type Category string

const (
	CategoryPoints         Category = "points"
	CategoryGoals          Category = "goals"
	CategoryAssists        Category = "assists"
	CategoryPointsPerGame  Category = "points_per_game"
	CategoryPenaltyMinutes Category = "penalty_minutes"
)

var categories = []Category{CategoryPoints, CategoryGoals, CategoryAssists, CategoryPointsPerGame, CategoryPenaltyMinutes}

// ParseCategory validates a category name. Empty means points.
func ParseCategory(s string) (Category, error) {
	if s == "" {
		return CategoryPoints, nil
	}
	for _, c := range categories {
		if Category(s) == c {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

func (c Category) value(p stats.PlayerStats) float64 {
	switch c {
	case CategoryGoals:
		return float64(p.Goals)
	case CategoryAssists:
		return float64(p.Assists)
	case CategoryPointsPerGame:
		return p.PointsPerGame
	case CategoryPenaltyMinutes:
		return float64(p.PenaltyMinutes)
	default:
		return float64(p.Points)
	}
}

// LeadersQuery selects a leaderboard.
type LeadersQuery struct {
	Suffix   string
	Category Category
	Limit    int
	// MinGames drops players with fewer games played.
	MinGames int
}

// Leader is one leaderboard row. Equal values share a rank.
type Leader struct {
	Rank   int               `json:"rank"`
	Value  float64           `json:"value"`
	Player stats.PlayerStats `json:"player"`
}

// GetLeaders ranks players by the query category, highest first. Ties are
// broken by fewer games played, then by name, but keep the same rank.
func (s *LeagueService) GetLeaders(q LeadersQuery) ([]Leader, error) {
	players, err := s.src.Players(q.Suffix)
	if err != nil {
		return nil, fmt.Errorf("fetching players: %w", err)
	}

	eligible := make([]stats.PlayerStats, 0, len(players))
	for _, p := range players {
		if p.GamesPlayed >= q.MinGames {
			eligible = append(eligible, p)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if va, vb := q.Category.value(a), q.Category.value(b); va != vb {
			return va > vb
		}
		if a.GamesPlayed != b.GamesPlayed {
			return a.GamesPlayed < b.GamesPlayed
		}
		return a.Name < b.Name
	})

	if q.Limit > 0 && len(eligible) > q.Limit {
		eligible = eligible[:q.Limit]
	}

	leaders := make([]Leader, 0, len(eligible))
	for i, p := range eligible {
		v := q.Category.value(p)
		rank := i + 1
		if i > 0 && leaders[i-1].Value == v {
			rank = leaders[i-1].Rank
		}
		leaders = append(leaders, Leader{Rank: rank, Value: v, Player: p})
	}
	return leaders, nil
}

// safeDiv performs division with zero check
func safeDiv(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
