// Package pipeline runs the dual statistics generation: one compiler pass
// with tournament games, one without, then division assignment.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fortuna/lheq/internal/metrics"
)

// Compiler is one statistics pass over the games directory.
type Compiler interface {
	LoadGames(ctx context.Context) error
	ProcessGames() error
	CalculatePOCRatings() error
	DownloadTeamLogos(ctx context.Context) error
	SaveData(suffix string) error
	TeamCount() int
	PlayerCount() int
}

// CompilerFactory builds a compiler for one pass.
type CompilerFactory func(includeTournaments bool) Compiler

// DivisionAssigner sets division fields in the saved teams files.
type DivisionAssigner interface {
	AssignDivisions(ctx context.Context) error
}

// Notifier is told about every successful run.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, run *RunSummary) error
}

// Pass describes one compiler pass.
type Pass struct {
	Title              string
	Suffix             string
	IncludeTournaments bool
}

// Passes are run in order.
var Passes = []Pass{
	{Title: "GENERATING STATS WITH TOURNAMENTS", Suffix: "", IncludeTournaments: true},
	{Title: "GENERATING STATS WITHOUT TOURNAMENTS (SEASON ONLY)", Suffix: "_season", IncludeTournaments: false},
}

// PassSummary reports what one pass wrote.
type PassSummary struct {
	Suffix             string `json:"suffix"`
	IncludeTournaments bool   `json:"include_tournaments"`
	Teams              int    `json:"teams"`
	Players            int    `json:"players"`
}

// RunSummary is the result of a successful run.
type RunSummary struct {
	RunID     string        `json:"run_id"`
	Passes    []PassSummary `json:"passes"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

var banner = strings.Repeat("=", 70)

// Driver orchestrates the passes and the division assignment.
type Driver struct {
	factory   CompilerFactory
	assigner  DivisionAssigner
	notifiers []Notifier
	metrics   *metrics.Registry
	out       io.Writer
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures a Driver.
type Option func(*Driver)

func WithNotifiers(n ...Notifier) Option {
	return func(d *Driver) { d.notifiers = append(d.notifiers, n...) }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithOutput prints the progress banners to w.
func WithOutput(w io.Writer) Option {
	return func(d *Driver) { d.out = w }
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// NewDriver constructs a Driver.
func NewDriver(factory CompilerFactory, assigner DivisionAssigner, opts ...Option) *Driver {
	d := &Driver{
		factory:  factory,
		assigner: assigner,
		out:      io.Discard,
		logger:   zerolog.Nop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes both passes, then assigns divisions. The first error aborts
// the run; nothing already written is rolled back.
func (d *Driver) Run(ctx context.Context) (*RunSummary, error) {
	run := &RunSummary{RunID: d.newID(), StartedAt: d.now()}
	log := d.logger.With().Str("run_id", run.RunID).Logger()

	d.section("GENERATING DUAL STATISTICS FILES")
	fmt.Fprintln(d.out)

	for i, p := range Passes {
		d.section(fmt.Sprintf("%d. %s", i+1, p.Title))
		ps, err := d.runPass(ctx, log, p)
		if err != nil {
			d.metrics.RecordStatsRun("failed")
			log.Error().Err(err).Str("suffix", p.Suffix).Msg("statistics pass failed")
			return nil, err
		}
		run.Passes = append(run.Passes, ps)
		fmt.Fprintln(d.out)
	}

	d.section(fmt.Sprintf("%d. ASSIGNING DIVISIONS TO TEAMS", len(Passes)+1))
	if err := ctx.Err(); err != nil {
		d.metrics.RecordStatsRun("failed")
		return nil, err
	}
	if err := d.assigner.AssignDivisions(ctx); err != nil {
		d.metrics.RecordStatsRun("failed")
		log.Error().Err(err).Msg("division assignment failed")
		return nil, fmt.Errorf("assign divisions: %w", err)
	}
	fmt.Fprintln(d.out)

	run.Duration = d.now().Sub(run.StartedAt)
	d.metrics.RecordStatsRun("succeeded")

	d.section("DUAL STATISTICS GENERATION COMPLETE!")
	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, "Generated files:")
	fmt.Fprintln(d.out, "  - teams.json / players.json (with tournaments)")
	fmt.Fprintln(d.out, "  - teams_season.json / players_season.json (season only)")
	fmt.Fprintln(d.out, "  - Divisions assigned to all teams")
	fmt.Fprintln(d.out)

	log.Info().Dur("duration", run.Duration).Int("passes", len(run.Passes)).Msg("dual statistics generated")

	for _, n := range d.notifiers {
		if err := n.Notify(ctx, run); err != nil {
			log.Warn().Err(err).Str("notifier", n.Name()).Msg("notify failed")
		}
	}
	return run, nil
}

func (d *Driver) runPass(ctx context.Context, log zerolog.Logger, p Pass) (PassSummary, error) {
	c := d.factory(p.IncludeTournaments)
	ps := PassSummary{Suffix: p.Suffix, IncludeTournaments: p.IncludeTournaments}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"load games", func() error { return c.LoadGames(ctx) }},
		{"process games", c.ProcessGames},
		{"calculate poc ratings", c.CalculatePOCRatings},
		{"download team logos", func() error { return c.DownloadTeamLogos(ctx) }},
		{"save data", func() error { return c.SaveData(p.Suffix) }},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return ps, err
		}
		if err := step.fn(); err != nil {
			return ps, fmt.Errorf("pass %q: %s: %w", p.Suffix, step.name, err)
		}
		log.Debug().Str("suffix", p.Suffix).Str("step", step.name).Msg("step done")
	}

	ps.Teams = c.TeamCount()
	ps.Players = c.PlayerCount()
	log.Info().
		Str("suffix", p.Suffix).
		Bool("include_tournaments", p.IncludeTournaments).
		Int("teams", ps.Teams).
		Int("players", ps.Players).
		Msg("statistics pass saved")
	return ps, nil
}

func (d *Driver) section(title string) {
	fmt.Fprintln(d.out, banner)
	fmt.Fprintln(d.out, title)
	fmt.Fprintln(d.out, banner)
}
