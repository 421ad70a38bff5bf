// Package divisions assigns league divisions to the teams in the compiled
// standings files.
package divisions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/fortuna/lheq/internal/jsonfile"
	"github.com/fortuna/lheq/internal/stats"
)

// Division lists the teams of one division by id or by name.
type Division struct {
	Name  string   `yaml:"name" json:"name"`
	Teams []string `yaml:"teams" json:"teams"`
}

// Variants are the suffixes of the teams files the assigner patches.
var Variants = []string{"", "_season"}

// FileResult describes the assignment applied to one teams file.
type FileResult struct {
	Path      string   `json:"path"`
	Teams     int      `json:"teams"`
	Assigned  int      `json:"assigned"`
	Unmatched []string `json:"unmatched,omitempty"`
}

// Result collects the files that were patched. Missing variants are listed in Skipped.
type Result struct {
	Files   []FileResult `json:"files"`
	Skipped []string     `json:"skipped,omitempty"`
}

// Assigner sets the division and division_rank of every team.
type Assigner struct {
	webDir string
	byID   map[string]string
	byName map[string]string
	logger zerolog.Logger
}

// Option configures an Assigner.
type Option func(*Assigner)

func WithLogger(l zerolog.Logger) Option {
	return func(a *Assigner) { a.logger = l }
}

// NewAssigner builds the lookup tables for divs. A team entry matches a team
// id exactly or a team name after case and accent folding.
func NewAssigner(webDir string, divs []Division, opts ...Option) *Assigner {
	a := &Assigner{
		webDir: webDir,
		byID:   make(map[string]string),
		byName: make(map[string]string),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	for _, d := range divs {
		for _, entry := range d.Teams {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			if prev, ok := a.byID[entry]; ok && prev != d.Name {
				a.logger.Warn().Str("team", entry).Str("kept", prev).Str("ignored", d.Name).Msg("team listed in two divisions")
				continue
			}
			a.byID[entry] = d.Name
			if key := Normalize(entry); key != "" {
				if _, ok := a.byName[key]; !ok {
					a.byName[key] = d.Name
				}
			}
		}
	}
	return a
}

// Lookup returns the division of a team.
func (a *Assigner) Lookup(id stats.ID, name string) (string, bool) {
	if d, ok := a.byID[string(id)]; ok && id != "" {
		return d, true
	}
	if d, ok := a.byName[Normalize(name)]; ok && name != "" {
		return d, true
	}
	return "", false
}

// AssignDivisions patches every teams file that exists.
func (a *Assigner) AssignDivisions(ctx context.Context) error {
	_, err := a.Assign(ctx)
	return err
}

// Assign patches every teams file that exists and reports what it did.
func (a *Assigner) Assign(ctx context.Context) (*Result, error) {
	res := &Result{}
	for _, suffix := range Variants {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		path := stats.TeamsPath(a.webDir, suffix)
		fr, err := a.assignFile(path)
		if errors.Is(err, os.ErrNotExist) {
			a.logger.Info().Str("file", path).Msg("teams file missing, skipped")
			res.Skipped = append(res.Skipped, path)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("assign divisions %s: %w", path, err)
		}
		res.Files = append(res.Files, *fr)

		ev := a.logger.Info()
		if len(fr.Unmatched) > 0 {
			ev = a.logger.Warn().Strs("unmatched", fr.Unmatched)
		}
		ev.Str("file", path).Int("teams", fr.Teams).Int("assigned", fr.Assigned).Msg("divisions assigned")
	}
	return res, nil
}

func (a *Assigner) assignFile(path string) (*FileResult, error) {
	teams, err := stats.ReadTeams(path)
	if err != nil {
		return nil, err
	}
	stats.SortStandings(teams)

	fr := &FileResult{Path: path, Teams: len(teams)}
	ranks := make(map[string]int)
	for i := range teams {
		t := &teams[i]
		div, ok := a.Lookup(t.ID, t.Name)
		if !ok {
			t.Division = ""
			t.DivisionRank = 0
			fr.Unmatched = append(fr.Unmatched, t.Name)
			continue
		}
		ranks[div]++
		t.Division = div
		t.DivisionRank = ranks[div]
		fr.Assigned++
	}

	if err := jsonfile.WritePretty(path, teams); err != nil {
		return nil, err
	}
	return fr, nil
}

// Normalize folds case, accents, apostrophe variants and repeated spaces so
// "L’Entrepôt  du Hockey" and "l'entrepot du hockey" compare equal.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.NewReplacer("’", "'", "‘", "'", "`", "'").Replace(folded)
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
