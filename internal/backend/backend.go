// Package backend opens the configured storage driver behind the repository
// interfaces the services depend on.
package backend

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"jagruk/preparedness/internal/alerts"
	"jagruk/preparedness/internal/config"
	"jagruk/preparedness/internal/db"
	"jagruk/preparedness/internal/docstore"
	"jagruk/preparedness/internal/drills"
	"jagruk/preparedness/internal/memstore"
	"jagruk/preparedness/internal/progress"
	"jagruk/preparedness/internal/roster"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type Repository interface {
	roster.Repository
	drills.Repository
	alerts.Repository
	progress.Repository
}

type Backend struct {
	Driver string
	Repo   Repository

	migrate func(context.Context) error
	close   func()
}

// Migrate creates the schema (postgres) or the unique indexes (mongo). It is
// a no-op for the memory driver.
func (b *Backend) Migrate(ctx context.Context) error {
	if b.migrate == nil {
		return nil
	}
	return b.migrate(ctx)
}

func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*Backend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch cfg.StoreDriver {
	case DriverPostgres:
		pool, err := db.NewPool(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store := db.NewStore(pool)
		log.Info("store opened", zap.String("driver", DriverPostgres))
		return &Backend{Driver: DriverPostgres, Repo: store, migrate: store.Migrate, close: pool.Close}, nil

	case DriverMongo:
		client, err := docstore.Connect(connectCtx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		store := docstore.New(client.Database(cfg.MongoDatabase))
		log.Info("store opened", zap.String("driver", DriverMongo), zap.String("database", cfg.MongoDatabase))
		return &Backend{
			Driver:  DriverMongo,
			Repo:    store,
			migrate: store.EnsureIndexes,
			close: func() {
				if err := client.Disconnect(context.Background()); err != nil {
					log.Warn("mongo disconnect failed", zap.Error(err))
				}
			},
		}, nil

	case DriverMemory:
		log.Warn("using in-memory store; data is lost on restart")
		return &Backend{Driver: DriverMemory, Repo: memstore.New()}, nil
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q (want postgres, mongo or memory)", cfg.StoreDriver)
}
