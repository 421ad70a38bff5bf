package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fortuna/lheq/internal/config"
	"github.com/fortuna/lheq/internal/logging"
)

const (
	appName    = "lheq"
	appVersion = "1.0.0"
)

// app carries what every subcommand needs once flags and config are resolved.
type app struct {
	configPath string
	overrides  struct {
		gamesDir   string
		webDir     string
		gamesIndex string
		logLevel   string
		logFormat  string
	}

	cfg    config.Config
	logger zerolog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           appName,
		Short:         "LHEQ hockey statistics generator",
		Version:       appVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $LHEQ_CONFIG or ./lheq.yaml)")
	flags.StringVar(&a.overrides.gamesDir, "games-dir", "", "directory of per-game JSON files")
	flags.StringVar(&a.overrides.webDir, "web-dir", "", "directory the statistics files are written to")
	flags.StringVar(&a.overrides.gamesIndex, "games-index", "", "path of games.json")
	flags.StringVar(&a.overrides.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.overrides.logFormat, "log-format", "", "log format (console or json)")

	root.AddCommand(
		newDualStatsCommand(a),
		newUpdateGameTypesCommand(a),
		newUpdateGamesJSONCommand(a),
		newMigrateCommand(a),
		newServeCommand(a),
		newExportCommand(a),
	)
	return root
}

// load resolves the config (defaults, file, env, then flags) and builds the logger.
func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	o := a.overrides
	if o.gamesDir != "" {
		cfg.GamesDir = o.gamesDir
	}
	if o.webDir != "" {
		cfg.WebDir = o.webDir
	}
	if o.gamesIndex != "" {
		cfg.GamesIndexPath = o.gamesIndex
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}

	a.cfg = cfg
	a.logger = logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format).With().Str("app", appName).Logger()
	return nil
}
