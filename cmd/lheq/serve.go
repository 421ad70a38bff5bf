package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fortuna/lheq/internal/api/rest"
	"github.com/fortuna/lheq/internal/api/websocket"
	"github.com/fortuna/lheq/internal/backfill"
	"github.com/fortuna/lheq/internal/logging"
	"github.com/fortuna/lheq/internal/metrics"
	"github.com/fortuna/lheq/internal/pipeline"
	"github.com/fortuna/lheq/internal/watcher"
)

func newServeCommand(a *app) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard, the JSON API and live updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port != "" {
				a.cfg.Server.Port = port
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default from config)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	log := a.logger
	log.Info().Str("version", appVersion).Msgf("starting %s server", appName)

	m := metrics.New()

	b, err := a.openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	files := rest.NewFileCache()
	hub := websocket.NewHub(websocket.WithMetrics(m), websocket.WithLogger(logging.Component(log, "websocket")))
	updates := websocket.NewServer(hub, logging.Component(log, "websocket"))

	notifiers := append(b.notifiers(cfg.WebDir), &updatesNotifier{updates: updates})
	driver, cleanup := a.newDriver(io.Discard, m, notifiers...)
	defer cleanup()

	runner := a.newRunner(
		backfill.WithMetrics(m),
		backfill.WithStatsRunner(func(ctx context.Context) error {
			_, err := driver.Run(ctx)
			return err
		}),
	)

	var repo backfill.Repository = backfill.NewMemoryRepository()
	if b.db != nil {
		repo = backfill.NewPostgresRepository(b.db)
	}
	jobs := backfill.NewService(repo, runner,
		backfill.WithServiceLogger(logging.Component(log, "jobs")),
		backfill.WithServiceMetrics(m),
		backfill.WithCompletionHook(func(job *backfill.Job, _ *backfill.Summary) {
			updates.Publish(websocket.Event{Type: websocket.EventJobFinished, Data: jobEvent(job)})
		}),
	)

	w, err := watcher.New(cfg.WebDir, func(changes []watcher.Change) {
		paths := make([]string, 0, len(changes))
		for _, c := range changes {
			paths = append(paths, filepath.Join(cfg.WebDir, filepath.FromSlash(c.Path)))
		}
		files.Invalidate(paths...)
		for _, c := range changes {
			updates.Publish(websocket.Event{Type: websocket.EventFileChanged, Path: c.Path})
		}
	}, watcher.WithDebounce(cfg.Server.WatchDebounce), watcher.WithLogger(logging.Component(log, "watcher")))
	if err != nil {
		return err
	}

	srv := rest.NewServer(rest.Options{
		Port:                  cfg.Server.Port,
		WebDir:                cfg.WebDir,
		GamesDir:              cfg.GamesDir,
		GamesIndexPath:        cfg.GamesIndexPath,
		TournamentScheduleIDs: cfg.TournamentScheduleIDs,
		Files:                 files,
		Jobs:                  jobs,
		Updates:               updates,
		Metrics:               m,
		DB:                    b.db,
		Cache:                 b.cache,
		Logger:                logging.Component(log, "rest"),
	})

	jobs.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return w.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("port", cfg.Server.Port).Msg("listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if jerr := jobs.Shutdown(shutdownCtx); jerr != nil {
			log.Warn().Err(jerr).Msg("running job did not stop in time")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

// updatesNotifier pushes stats_generated to dashboard clients after each run.
type updatesNotifier struct {
	updates *websocket.Server
}

func (n *updatesNotifier) Name() string { return "websocket" }

func (n *updatesNotifier) Notify(_ context.Context, run *pipeline.RunSummary) error {
	n.updates.Publish(websocket.Event{Type: websocket.EventStatsGenerated, Data: run})
	return nil
}

func jobEvent(job *backfill.Job) map[string]interface{} {
	ev := map[string]interface{}{
		"job_id":        job.JobID,
		"job_type":      job.JobType,
		"status":        job.Status,
		"dry_run":       job.DryRun,
		"files_updated": job.FilesUpdated,
		"files_skipped": job.FilesSkipped,
		"files_failed":  job.FilesFailed,
	}
	if job.LastError.Valid {
		ev["error"] = job.LastError.String
	}
	return ev
}
