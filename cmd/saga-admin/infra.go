package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Sophanos/saga-sub015/config"
	"github.com/Sophanos/saga-sub015/internal/bootstrap"
	"github.com/redis/go-redis/v9"
)

type connectInfraOptions struct {
	Logger    *slog.Logger
	Config    *config.AppConfig
	WantRedis bool
}

var errRedisNotConfigured = errors.New("redis not configured")

// connectInfra opens Postgres and, when asked and configured, Redis.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel support flexible.
func connectInfra(ctx context.Context, opts *connectInfraOptions) (*sql.DB, redis.UniversalClient, error) {
	db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{DBConfig: opts.Config.Postgres, Logger: opts.Logger})
	if err != nil {
		return nil, nil, fmt.Errorf("connect db: %w", err)
	}
	if !opts.WantRedis {
		return db, nil, nil
	}

	client, err := maybeConnectRedis(ctx, opts.Logger, &opts.Config.Redis)
	switch {
	case err == nil:
		return db, client, nil
	case errors.Is(err, errRedisNotConfigured):
		opts.Logger.Info("no redis configuration detected; skipping redis connection")
		return db, nil, nil
	default:
		if closeErr := db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close db: %w", closeErr))
		}
		return nil, nil, err
	}
}

// maybeConnectRedis returns a connected client when configuration is present.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel support flexible.
func maybeConnectRedis(ctx context.Context, logger *slog.Logger, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	if !hasRedisConfig(cfg) {
		return nil, errRedisNotConfigured
	}
	client, err := bootstrap.ConnectRedis(ctx, bootstrap.DatabaseConfig{RedisConfig: *cfg, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	if cfg == nil || !cfg.Enabled {
		return false
	}
	if cfg.UseSentinel {
		return len(cfg.SentinelNodes) > 0
	}
	return cfg.URI != ""
}

func closeInfra(db *sql.DB, redisClient redis.UniversalClient) error {
	var closeErr error
	if db != nil {
		if err := db.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}
