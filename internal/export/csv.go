// Package export converts the generated statistics files to CSV.
package export

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"github.com/fortuna/lheq/internal/stats"
)

// Kind selects which statistics file is exported.
type Kind string

const (
	KindTeams   Kind = "teams"
	KindPlayers Kind = "players"
)

// ParseKind validates a --kind flag value.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTeams, KindPlayers:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown export kind %q (use teams or players)", s)
}

// WriteTeams writes teams as CSV with a header row.
func WriteTeams(w io.Writer, teams []stats.TeamStats) error {
	if teams == nil {
		teams = []stats.TeamStats{}
	}
	return gocsv.Marshal(&teams, w)
}

// WritePlayers writes players as CSV with a header row.
func WritePlayers(w io.Writer, players []stats.PlayerStats) error {
	if players == nil {
		players = []stats.PlayerStats{}
	}
	return gocsv.Marshal(&players, w)
}

// Export reads the kind{suffix}.json file under webDir and writes it to w.
func Export(w io.Writer, webDir, suffix string, kind Kind) error {
	switch kind {
	case KindTeams:
		path := stats.TeamsPath(webDir, suffix)
		teams, err := stats.ReadTeams(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		return WriteTeams(w, teams)
	case KindPlayers:
		path := stats.PlayersPath(webDir, suffix)
		players, err := stats.ReadPlayers(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		return WritePlayers(w, players)
	}
	return fmt.Errorf("unknown export kind %q", kind)
}

// TeamsFromCSV parses a CSV produced by WriteTeams.
func TeamsFromCSV(r io.Reader) ([]stats.TeamStats, error) {
	var teams []stats.TeamStats
	if err := gocsv.Unmarshal(r, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}
