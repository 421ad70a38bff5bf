package main

import (
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/fortuna/lheq/internal/divisions"
	"github.com/fortuna/lheq/internal/logging"
	"github.com/fortuna/lheq/internal/logos"
	"github.com/fortuna/lheq/internal/metrics"
	"github.com/fortuna/lheq/internal/pipeline"
	"github.com/fortuna/lheq/internal/stats"
)

func newDualStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dual-stats",
		Short: "Generate statistics with and without tournament games, then assign divisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			b, err := a.openBackends(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			driver, cleanup := a.newDriver(cmd.OutOrStdout(), nil, b.notifiers(a.cfg.WebDir)...)
			defer cleanup()

			_, err = driver.Run(ctx)
			return err
		},
	}
}

// newDriver wires the compilers, the logo fetcher and the division assigner.
// cleanup stops the headless browser when one was started.
func (a *app) newDriver(out io.Writer, m *metrics.Registry, notifiers ...pipeline.Notifier) (*pipeline.Driver, func()) {
	cfg := a.cfg
	cleanup := func() {}

	opts := []stats.Option{
		stats.WithLogger(logging.Component(a.logger, "stats")),
		stats.WithTournamentScheduleIDs(cfg.TournamentScheduleIDs),
		stats.WithFairPlayMaxPIM(cfg.FairPlayMaxPIM),
	}

	if cfg.Logos.Enabled {
		fetchOpts := []logos.Option{
			logos.WithUserAgent(cfg.Logos.UserAgent),
			logos.WithRateLimit(cfg.Logos.RequestsPerSec, 1),
			logos.WithLogger(logging.Component(a.logger, "logos")),
		}
		if cfg.Logos.Timeout > 0 {
			fetchOpts = append(fetchOpts, logos.WithHTTPClient(&http.Client{Timeout: cfg.Logos.Timeout}))
		}
		if cfg.Logos.RenderJS {
			renderer := logos.NewChromeRenderer(cfg.Logos.UserAgent, cfg.Logos.Timeout)
			fetchOpts = append(fetchOpts, logos.WithRenderer(renderer))
			cleanup = renderer.Close
		}
		opts = append(opts, stats.WithLogoFetcher(logos.NewFetcher(fetchOpts...), cfg.Logos.Concurrency))
	}

	assigner := divisions.NewAssigner(cfg.WebDir, cfg.Divisions,
		divisions.WithLogger(logging.Component(a.logger, "divisions")))

	driver := pipeline.NewDriver(
		pipeline.StatsCompilers(cfg.GamesDir, cfg.WebDir, opts...),
		assigner,
		pipeline.WithOutput(out),
		pipeline.WithMetrics(m),
		pipeline.WithNotifiers(notifiers...),
		pipeline.WithLogger(logging.Component(a.logger, "pipeline")),
	)
	return driver, cleanup
}
