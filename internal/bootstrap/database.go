package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/Sophanos/saga-sub015/config"
	"github.com/Sophanos/saga-sub015/internal/migrate"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// DatabaseConfig contains configuration for database connections.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// ConnectDB opens the Postgres pool and pings it.
func ConnectDB(ctx context.Context, cfg DatabaseConfig) (*sql.DB, error) {
	pg := cfg.DBConfig
	db, err := sql.Open("pgx", pg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpen := pg.MaxOpenConns
	if maxOpen < 1 {
		maxOpen = 25
	}
	maxIdle := pg.MaxIdleConns
	if maxIdle < 1 || maxIdle > maxOpen {
		maxIdle = min(5, maxOpen)
	}
	lifetime := pg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if pingErr := db.PingContext(pingCtx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close database connection: %w", closeErr))
		}
		return nil, fmt.Errorf("ping database %s:%d: %w", pg.Host, pg.Port, pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.InfoContext(ctx, "database connected",
			"host", pg.Host,
			"port", pg.Port,
			"database", pg.Name,
			"max_open_conns", maxOpen,
		)
	}
	return db, nil
}

// ConnectRedis builds a single-node or sentinel client from cfg and pings it.
//
//nolint:ireturn // redis.UniversalClient covers both single and sentinel clients.
func ConnectRedis(ctx context.Context, cfg DatabaseConfig) (redis.UniversalClient, error) {
	opts, desc, err := redisOptions(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis %s: %w", desc, pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.InfoContext(ctx, "redis connected", "addr", desc, "db", opts.DB)
	}
	return client, nil
}

// redisOptions maps config onto UniversalOptions. A MasterName selects the sentinel
// failover client; the description never carries credentials.
func redisOptions(cfg config.RedisConfig) (*redis.UniversalOptions, string, error) {
	if cfg.UseSentinel {
		nodes := make([]string, 0, len(cfg.SentinelNodes))
		for _, n := range cfg.SentinelNodes {
			if n = strings.TrimSpace(n); n != "" {
				nodes = append(nodes, n)
			}
		}
		if len(nodes) == 0 {
			return nil, "", errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		master := strings.TrimSpace(cfg.SentinelMasterName)
		if master == "" {
			return nil, "", errors.New("redis sentinel configuration requires a master name")
		}
		return &redis.UniversalOptions{
			MasterName:       master,
			Addrs:            nodes,
			Password:         cfg.Password,
			SentinelPassword: cfg.SentinelPassword,
			DB:               cfg.DB,
		}, "sentinel:" + master, nil
	}

	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, "", errors.New("redis direct configuration requires a URI")
	}
	if !strings.HasPrefix(uri, "redis://") && !strings.HasPrefix(uri, "rediss://") {
		return &redis.UniversalOptions{
			Addrs:    []string{uri},
			Password: cfg.Password,
			DB:       cfg.DB,
		}, uri, nil
	}

	parsed, err := redis.ParseURL(uri)
	if err != nil {
		return nil, "", fmt.Errorf("parse redis url %s: %w", redactURL(uri), err)
	}
	return &redis.UniversalOptions{
		Addrs:     []string{parsed.Addr},
		Username:  parsed.Username,
		Password:  parsed.Password,
		DB:        parsed.DB,
		TLSConfig: parsed.TLSConfig,
	}, parsed.Addr, nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.Run(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}
