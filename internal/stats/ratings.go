package stats

import (
	"math"
)

const (
	baselineRating = 1000.0
	ratingK        = 20.0
	// shrinkGames pulls teams with few games toward the baseline.
	shrinkGames = 5.0
)

// CalculatePOCRatings replays the games in chronological order through an
// Elo-style rating. A regulation win scores 1, an overtime or shootout win
// 0.75, a tie 0.5. Wins by wider margins move ratings further.
func (c *Compiler) CalculatePOCRatings() error {
	if !c.processed {
		return ErrNotProcessed
	}

	ratings := make(map[ID]float64, len(c.teams))
	for id := range c.teams {
		ratings[id] = baselineRating
	}

	for i := range c.games {
		g := &c.games[i]
		home, away := g.HomeTeam.key(), g.AwayTeam.key()
		hs, as := *g.HomeScore, *g.AwayScore

		expected := expectedScore(ratings[home], ratings[away])
		delta := ratingK * marginMultiplier(hs-as) * (actualScore(hs, as, g.Decided()) - expected)
		ratings[home] += delta
		ratings[away] -= delta
	}

	for id, t := range c.teams {
		r := ratings[id]
		t.POCRating = round(r, 1)
		t.POCAdjusted = round(adjustedRating(r, t.GamesPlayed), 1)
	}

	c.logger.Info().Int("teams", len(c.teams)).Int("games", len(c.games)).Msg("calculated POC ratings")
	return nil
}

func expectedScore(ra, rb float64) float64 {
	return 1 / (1 + math.Pow(10, (rb-ra)/400))
}

// actualScore is the home team's result.
func actualScore(home, away int, decided bool) float64 {
	switch {
	case home > away && decided:
		return 0.75
	case home > away:
		return 1
	case home < away && decided:
		return 0.25
	case home < away:
		return 0
	}
	return 0.5
}

func marginMultiplier(diff int) float64 {
	m := math.Log(math.Abs(float64(diff)) + 1)
	if m < 1 {
		return 1
	}
	return m
}

func adjustedRating(r float64, gamesPlayed int) float64 {
	gp := float64(gamesPlayed)
	return baselineRating + (r-baselineRating)*gp/(gp+shrinkGames)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
