package backfill

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/fortuna/lheq/internal/gamefile"
	"github.com/fortuna/lheq/internal/metrics"
)

// StatsRunner regenerates the statistics files for a dual_stats job.
type StatsRunner func(ctx context.Context) error

// Runner executes job specs against the games directory.
type Runner struct {
	gamesDir      string
	indexPath     string
	tournamentIDs []int64
	stats         StatsRunner
	metrics       *metrics.Registry
	logger        zerolog.Logger
	now           func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

func WithTournamentScheduleIDs(ids []int64) RunnerOption {
	return func(r *Runner) {
		if len(ids) > 0 {
			r.tournamentIDs = ids
		}
	}
}

func WithStatsRunner(fn StatsRunner) RunnerOption {
	return func(r *Runner) { r.stats = fn }
}

func WithMetrics(m *metrics.Registry) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

func WithLogger(l zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner constructs a runner for gamesDir and the games index at indexPath.
func NewRunner(gamesDir, indexPath string, opts ...RunnerOption) *Runner {
	r := &Runner{
		gamesDir:      gamesDir,
		indexPath:     indexPath,
		tournamentIDs: gamefile.DefaultTournamentScheduleIDs,
		logger:        zerolog.Nop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the job spec, reporting progress via the Reporter if provided.
// Per-file failures are reported and counted, never returned.
func (r *Runner) Run(ctx context.Context, spec JobSpec, reporter Reporter) (*Summary, error) {
	if reporter == nil {
		reporter = nopReporter{}
	}
	reporter.OnJobStart(spec)

	summary := &Summary{JobType: spec.Type, DryRun: spec.DryRun, StartedAt: r.now()}
	var err error

	switch spec.Type {
	case JobTypeGameTypes:
		summary.GameTypes, err = r.UpdateGameTypes(ctx, spec.DryRun, reporter)
	case JobTypeGamesIndex:
		summary.Index, err = r.SyncGamesIndex(ctx, spec.DryRun, reporter)
	case JobTypeMigrate:
		summary.GameTypes, err = r.UpdateGameTypes(ctx, spec.DryRun, reporter)
		if err == nil {
			summary.Index, err = r.SyncGamesIndex(ctx, spec.DryRun, reporter)
		}
	case JobTypeDualStats:
		err = r.runStats(ctx, spec.DryRun, reporter)
	default:
		err = fmt.Errorf("unsupported job type %s", spec.Type)
	}

	summary.Duration = r.now().Sub(summary.StartedAt)
	if err != nil {
		reporter.OnJobError(err)
		return summary, err
	}
	reporter.OnJobComplete(summary)
	return summary, nil
}

func (r *Runner) runStats(ctx context.Context, dryRun bool, reporter Reporter) error {
	if r.stats == nil {
		return errors.New("no statistics runner configured")
	}
	if dryRun {
		reporter.OnProgress("Dry-run mode: statistics not regenerated", 0, 0)
		return nil
	}
	reporter.OnProgress("Generating statistics", 0, 1)
	if err := r.stats(ctx); err != nil {
		return err
	}
	reporter.OnProgress("Statistics generated", 1, 1)
	return nil
}

// UpdateGameTypes adds game_type to every per-game file that lacks it and
// lifts a resolved schedule id to the top level. Files that already carry
// game_type are never touched.
func (r *Runner) UpdateGameTypes(ctx context.Context, dryRun bool, reporter Reporter) (*GameTypesSummary, error) {
	if reporter == nil {
		reporter = nopReporter{}
	}
	names, err := gamefile.ListJSON(r.gamesDir)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}

	r.logger.Info().Str("dir", r.gamesDir).Int("files", len(names)).Bool("dry_run", dryRun).Msg("updating game files with game_type")

	sum := &GameTypesSummary{}
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		res, err := r.updateGameType(filepath.Join(r.gamesDir, name), dryRun)
		if err != nil {
			sum.Failed++
			r.metrics.RecordFile(string(JobTypeGameTypes), string(OutcomeFailed))
			r.logger.Error().Err(err).Str("file", name).Msg("error processing game file")
			reporter.OnFileError(name, err)
		} else {
			res.Name = name
			switch res.Outcome {
			case OutcomeSkipped:
				sum.Skipped++
			case OutcomeUpdated:
				sum.Updated++
				if res.GameType == string(gamefile.GameTypeTournament) {
					sum.Tournament++
				} else {
					sum.Season++
				}
			}
			r.metrics.RecordFile(string(JobTypeGameTypes), string(res.Outcome))
			reporter.OnFileProcessed(res)
		}
		reporter.OnProgress(name, i+1, len(names))
	}

	r.logger.Info().
		Int("updated", sum.Updated).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Int("total", sum.Total()).
		Msg("game_type backfill finished")
	return sum, nil
}

func (r *Runner) updateGameType(path string, dryRun bool) (FileResult, error) {
	doc, err := gamefile.ReadObject(path)
	if err != nil {
		return FileResult{}, err
	}

	if stored := gjson.GetBytes(doc, "game_type"); stored.Exists() {
		return FileResult{Outcome: OutcomeSkipped, GameType: stored.String()}, nil
	}

	scheduleID := gamefile.ResolveScheduleID(doc)
	gameType := gamefile.Classify(scheduleID, r.tournamentIDs)

	doc, err = gamefile.SetField(doc, "game_type", []byte(strconv.Quote(string(gameType))))
	if err != nil {
		return FileResult{}, err
	}
	if gamefile.Truthy(scheduleID) {
		doc, err = gamefile.SetField(doc, "schedule_id", []byte(scheduleID.Raw))
		if err != nil {
			return FileResult{}, err
		}
	}

	if !dryRun {
		if err := gamefile.WriteFile(path, doc); err != nil {
			return FileResult{}, fmt.Errorf("write %s: %w", filepath.Base(path), err)
		}
	}
	return FileResult{Outcome: OutcomeUpdated, GameType: string(gameType)}, nil
}

// classification is what a per-game file contributes to the games index.
type classification struct {
	gameType   []byte
	scheduleID gjson.Result
}

var errUnhashableID = errors.New("id is not a scalar")

// idKey turns a JSON id into a map key. Strings and numbers never collide,
// so "7" and 7 are different games. Falsy ids report ok=false.
func idKey(id gjson.Result) (key string, ok bool, err error) {
	if !gamefile.Truthy(id) {
		return "", false, nil
	}
	switch id.Type {
	case gjson.String:
		return "s:" + id.Str, true, nil
	case gjson.Number:
		return "n:" + strconv.FormatFloat(id.Num, 'g', -1, 64), true, nil
	case gjson.True:
		return "n:1", true, nil
	}
	return "", false, errUnhashableID
}

// loadClassifications reads the game_type and schedule_id of every per-game
// file, keyed by game id. Files without a usable id are left out.
func (r *Runner) loadClassifications(ctx context.Context, reporter Reporter) (map[string]classification, int, error) {
	names, err := gamefile.ListJSON(r.gamesDir)
	if err != nil {
		return nil, 0, fmt.Errorf("list games: %w", err)
	}

	mapping := make(map[string]classification, len(names))
	failed := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, failed, err
		}

		doc, err := gamefile.ReadObject(filepath.Join(r.gamesDir, name))
		var key string
		var ok bool
		if err == nil {
			key, ok, err = idKey(gjson.GetBytes(doc, "id"))
		}
		if err != nil {
			failed++
			r.metrics.RecordFile(string(JobTypeGamesIndex), string(OutcomeFailed))
			r.logger.Error().Err(err).Str("file", name).Msg("error loading game file")
			reporter.OnFileError(name, err)
			continue
		}
		if !ok {
			continue
		}

		c := classification{
			gameType:   []byte(strconv.Quote(string(gamefile.GameTypeSeason))),
			scheduleID: gjson.GetBytes(doc, "schedule_id"),
		}
		if gt := gjson.GetBytes(doc, "game_type"); gt.Exists() {
			c.gameType = []byte(gt.Raw)
		}
		mapping[key] = c
	}
	return mapping, failed, nil
}

// SyncGamesIndex copies game_type and schedule_id from the per-game files
// onto the matching elements of games.json. Elements without a matching
// per-game file are left as they are. A games.json that cannot be read or
// written is reported on the summary rather than returned.
func (r *Runner) SyncGamesIndex(ctx context.Context, dryRun bool, reporter Reporter) (*IndexSummary, error) {
	if reporter == nil {
		reporter = nopReporter{}
	}
	r.logger.Info().Str("dir", r.gamesDir).Msg("loading individual game files")

	mapping, failed, err := r.loadClassifications(ctx, reporter)
	if err != nil {
		return nil, err
	}
	sum := &IndexSummary{Loaded: len(mapping), FilesFailed: failed}
	r.logger.Info().Int("game_types", sum.Loaded).Msg("loaded game types")

	if err := r.patchIndex(ctx, mapping, sum, dryRun, reporter); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sum, ctxErr
		}
		sum.IndexError = err.Error()
		r.metrics.RecordFile(string(JobTypeGamesIndex), string(OutcomeFailed))
		r.logger.Error().Err(err).Str("file", r.indexPath).Msg("error updating games index")
		reporter.OnFileError(filepath.Base(r.indexPath), err)
		return sum, nil
	}

	r.logger.Info().Int("updated", sum.Updated).Int("elements", sum.Elements).Msg("games index updated")
	return sum, nil
}

func (r *Runner) patchIndex(ctx context.Context, mapping map[string]classification, sum *IndexSummary, dryRun bool, reporter Reporter) error {
	doc, err := gamefile.ReadDocument(r.indexPath)
	if err != nil {
		return err
	}
	root := gjson.ParseBytes(doc)
	if !root.IsArray() {
		return fmt.Errorf("%s: games index is not a JSON array", filepath.Base(r.indexPath))
	}

	elements := root.Array()
	sum.Elements = len(elements)
	for i, el := range elements {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !el.IsObject() {
			continue
		}
		key, ok, _ := idKey(el.Get("id"))
		if !ok {
			continue
		}
		c, found := mapping[key]
		if !found {
			continue
		}

		doc, err = gamefile.SetElementField(doc, i, "game_type", c.gameType)
		if err != nil {
			return err
		}
		if gamefile.Truthy(c.scheduleID) {
			doc, err = gamefile.SetElementField(doc, i, "schedule_id", []byte(c.scheduleID.Raw))
			if err != nil {
				return err
			}
		}
		sum.Updated++
		r.metrics.RecordFile(string(JobTypeGamesIndex), string(OutcomeUpdated))
		reporter.OnProgress(el.Get("id").String(), i+1, len(elements))
	}

	if dryRun {
		return nil
	}
	if err := gamefile.WriteFile(r.indexPath, doc); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(r.indexPath), err)
	}
	sum.IndexRewritten = true
	return nil
}
