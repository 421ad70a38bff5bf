package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fortuna/lheq/internal/cache"
	"github.com/fortuna/lheq/internal/pipeline"
	"github.com/fortuna/lheq/internal/publisher"
	"github.com/fortuna/lheq/internal/store"
	"github.com/fortuna/lheq/internal/store/repository"
)

const streamMaxLen = 1000

// backends holds the optional Postgres and Redis connections. Both are nil
// unless configured.
type backends struct {
	db        *store.Database
	cache     *cache.RedisCache
	publisher *publisher.RedisPublisher
}

func (a *app) openBackends(ctx context.Context) (*backends, error) {
	b := &backends{}

	if dsn := a.cfg.DatabaseDSN; dsn != "" {
		db, err := store.NewDatabase(ctx, dsn, a.logger.With().Str("component", "store").Logger())
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		a.logger.Info().Msg("connected to database")
		b.db = db
	}

	if url := a.cfg.RedisURL; url != "" {
		rc, err := cache.NewRedisCache(ctx, url)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.logger.Info().Msg("connected to redis")
		b.cache = rc
		b.publisher = publisher.NewRedisPublisher(rc.Client(), streamMaxLen)
	}

	return b, nil
}

// notifiers returns the post-run hooks the connected backends support.
func (b *backends) notifiers(webDir string) []pipeline.Notifier {
	var out []pipeline.Notifier
	if b.publisher != nil {
		out = append(out, pipeline.NewStreamNotifier(b.publisher))
	}
	if b.cache != nil {
		out = append(out, pipeline.NewLastRunNotifier(b.cache, 0))
	}
	if b.db != nil {
		out = append(out, pipeline.NewStandingsNotifier(repository.NewStandingsRepository(b.db), webDir))
	}
	return out
}

func (b *backends) Close() error {
	var errs []error
	if b.cache != nil {
		errs = append(errs, b.cache.Close())
	}
	if b.db != nil {
		errs = append(errs, b.db.Close())
	}
	return errors.Join(errs...)
}
