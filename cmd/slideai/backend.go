package main

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Majboor/smart-presentation-builder/internal/config"
	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
	storefirestore "github.com/Majboor/smart-presentation-builder/storage/firestore"
	"github.com/Majboor/smart-presentation-builder/storage/memory"
	"github.com/Majboor/smart-presentation-builder/storage/postgres"
	"github.com/Majboor/smart-presentation-builder/storage/redis"
	"github.com/Majboor/smart-presentation-builder/storage/tiered"
)

// backend is the selected record store plus its lifecycle hooks
type backend struct {
	store   entitlement.Store
	health  func(ctx context.Context) error
	closers []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openBackend connects the store named by cfg.Store
func openBackend(ctx context.Context, cfg config.Config, logger entitlement.Logger) (*backend, error) {
	b := &backend{}

	switch cfg.Store {
	case config.StoreMemory:
		b.store = memory.New()

	case config.StorePostgres:
		pg, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.store = pg
		b.health = pg.Ping
		b.closers = append(b.closers, func() error { pg.Close(); return nil })

	case config.StoreRedis:
		rs, err := openRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.store = rs
		b.health = rs.Ping
		b.closers = append(b.closers, rs.Close)

	case config.StoreFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		fs, err := storefirestore.New(client, storefirestore.Config{})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		b.store = fs
		b.closers = append(b.closers, client.Close)

	case config.StoreTiered:
		pg, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() error { pg.Close(); return nil })

		rs, err := openRedis(ctx, cfg)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.closers = append(b.closers, rs.Close)

		ts, err := tiered.New(tiered.Config{
			Hot:            rs,
			Cold:           pg,
			AsyncCacheFill: true,
			AsyncErrorHandler: func(err error) {
				logger.Warn("cache fill failed", entitlement.Field{Key: "error", Value: err.Error()})
			},
		})
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.store = ts
		b.health = pg.Ping
		b.closers = append(b.closers, ts.Close)

	default:
		return nil, fmt.Errorf("%w: unknown store %q", config.ErrInvalidConfig, cfg.Store)
	}

	logger.Info("record store ready", entitlement.Field{Key: "store", Value: cfg.Store})
	return b, nil
}

func openPostgres(ctx context.Context, cfg config.Config) (*postgres.Storage, error) {
	pgConfig := postgres.DefaultConfig()
	pgConfig.ConnectionString = cfg.DatabaseURL
	return postgres.New(ctx, pgConfig)
}

func openRedis(ctx context.Context, cfg config.Config) (*redis.Storage, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return redis.New(client, redis.DefaultConfig())
}
