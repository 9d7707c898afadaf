package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"scanmap/internal/docstore"
	"scanmap/internal/docstore/memory"
	"scanmap/internal/docstore/pgdoc"
	"scanmap/internal/docstore/redisdoc"
	"scanmap/internal/platform/config"
	"scanmap/internal/platform/postgres"
	platformredis "scanmap/internal/platform/redis"
	httptransport "scanmap/internal/transport/http"
)

// openedStore is the selected document store plus what must be released with it.
type openedStore struct {
	store   docstore.Store
	health  map[string]httptransport.HealthCheck
	closers []func() error
	log     *slog.Logger
}

func (o *openedStore) close() {
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i](); err != nil {
			o.log.Warn("closing docstore resource", "error", err)
		}
	}
}

func openDocStore(ctx context.Context, cfg config.Config, log *slog.Logger) (*openedStore, error) {
	switch cfg.DocStore.Backend {
	case config.BackendRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		store := redisdoc.New(client.Client)
		return &openedStore{
			store:   store,
			health:  map[string]httptransport.HealthCheck{"redis": client.Health},
			closers: []func() error{client.Close, store.Close},
			log:     log,
		}, nil

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store := pgdoc.New(db, cfg.Postgres.DSN, pgdoc.WithLogger(log))
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate postgres docstore: %w", err)
		}
		return &openedStore{
			store:   store,
			health:  map[string]httptransport.HealthCheck{"postgres": pingDB(db)},
			closers: []func() error{db.Close, store.Close},
			log:     log,
		}, nil

	default:
		store := memory.New()
		return &openedStore{
			store:   store,
			closers: []func() error{store.Close},
			log:     log,
		}, nil
	}
}

func pingDB(db *sql.DB) httptransport.HealthCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}
