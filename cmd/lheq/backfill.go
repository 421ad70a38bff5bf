package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fortuna/lheq/internal/backfill"
	"github.com/fortuna/lheq/internal/logging"
)

func newUpdateGameTypesCommand(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "update-game-types",
		Short: "Add game_type to every game file that lacks it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return updateGameTypes(cmd.Context(), a.newRunner(), cmd.OutOrStdout(), dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report changes without writing files")
	return cmd
}

func newUpdateGamesJSONCommand(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "update-games-json",
		Short: "Copy game_type and schedule_id from the game files onto games.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return updateGamesJSON(cmd.Context(), a.newRunner(), cmd.OutOrStdout(), a.cfg.GamesIndexPath, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report changes without writing files")
	return cmd
}

func newMigrateCommand(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run update-game-types then update-games-json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner := a.newRunner()
			out := cmd.OutOrStdout()
			if err := updateGameTypes(cmd.Context(), runner, out, dryRun); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return updateGamesJSON(cmd.Context(), runner, out, a.cfg.GamesIndexPath, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report changes without writing files")
	return cmd
}

func (a *app) newRunner(opts ...backfill.RunnerOption) *backfill.Runner {
	opts = append([]backfill.RunnerOption{
		backfill.WithTournamentScheduleIDs(a.cfg.TournamentScheduleIDs),
		backfill.WithLogger(logging.Component(a.logger, "backfill")),
	}, opts...)
	return backfill.NewRunner(a.cfg.GamesDir, a.cfg.GamesIndexPath, opts...)
}

// updateGameTypes prints one line per file and a summary. Per-file failures
// are printed and counted; only a missing games directory or cancellation
// is returned.
func updateGameTypes(ctx context.Context, runner *backfill.Runner, out io.Writer, dryRun bool) error {
	fmt.Fprintln(out, "Updating game files with game_type field...")
	if dryRun {
		fmt.Fprintln(out, "(dry run: no files will be written)")
	}

	sum, err := runner.UpdateGameTypes(ctx, dryRun, &consoleReporter{out: out, errorVerb: "processing"})
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Summary:")
	fmt.Fprintf(out, "  Updated: %d\n", sum.Updated)
	fmt.Fprintf(out, "  Skipped: %d\n", sum.Skipped)
	fmt.Fprintf(out, "  Total: %d\n", sum.Total())
	if sum.Failed > 0 {
		fmt.Fprintf(out, "  Failed: %d\n", sum.Failed)
	}
	return nil
}

// updateGamesJSON prints the loaded and updated counts. A games.json that
// cannot be read or written is printed, not returned.
func updateGamesJSON(ctx context.Context, runner *backfill.Runner, out io.Writer, indexPath string, dryRun bool) error {
	fmt.Fprintln(out, "Loading individual game files...")

	reporter := &consoleReporter{out: out, errorVerb: "loading", indexName: filepath.Base(indexPath)}
	sum, err := runner.SyncGamesIndex(ctx, dryRun, reporter)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Loaded %d game types\n", sum.Loaded)
	fmt.Fprintln(out, "Updating games.json...")
	if sum.IndexError != "" {
		fmt.Fprintf(out, "Error updating games.json: %s\n", sum.IndexError)
		return nil
	}
	if dryRun {
		fmt.Fprintf(out, "Would update %d games in games.json (dry run)\n", sum.Updated)
		return nil
	}
	fmt.Fprintf(out, "Updated %d games in games.json\n", sum.Updated)
	return nil
}

// consoleReporter prints runner callbacks for a terminal.
type consoleReporter struct {
	out       io.Writer
	errorVerb string
	// errors for indexName are printed from the summary instead
	indexName string
}

func (c *consoleReporter) OnJobStart(backfill.JobSpec) {}

func (c *consoleReporter) OnFileProcessed(res backfill.FileResult) {
	switch res.Outcome {
	case backfill.OutcomeSkipped:
		fmt.Fprintf(c.out, "  Skipped (already has game_type): %s\n", res.Name)
	case backfill.OutcomeUpdated:
		fmt.Fprintf(c.out, "  Updated (%s): %s\n", res.GameType, res.Name)
	}
}

func (c *consoleReporter) OnFileError(name string, err error) {
	if c.indexName != "" && name == c.indexName {
		return
	}
	fmt.Fprintf(c.out, "  Error %s %s: %v\n", c.errorVerb, name, err)
}

func (c *consoleReporter) OnProgress(string, int, int) {}

func (c *consoleReporter) OnJobComplete(*backfill.Summary) {}

func (c *consoleReporter) OnJobError(err error) {
	fmt.Fprintf(c.out, "Job error: %v\n", err)
}
