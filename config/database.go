package config

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"saga"`
	Password string `env:"PASSWORD"                envDefault:"saga"`
	Name     string `env:"NAME"                    envDefault:"saga"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
	MaxOpenConns         int  `env:"MAX_OPEN_CONNS"          envDefault:"25"`
	MaxIdleConns         int  `env:"MAX_IDLE_CONNS"          envDefault:"5"`

	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT"   envDefault:"5s"`
}

// DSN renders a pgx connection URL; credentials are escaped.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(max(1, int(c.ConnectTimeout/time.Second))))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	Enabled            bool     `env:"ENABLED"              envDefault:"true"`
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	DB                 int      `env:"DB"                   envDefault:"0"`
}

// CacheConfig controls Redis-backed caches used by the pipeline.
type CacheConfig struct {
	// EmbeddingTTL is how long a computed chunk vector stays reusable. Zero disables the cache.
	EmbeddingTTL time.Duration `env:"CACHE_EMBEDDING_TTL" envDefault:"24h"`

	// KeyPrefix namespaces every key written by this service.
	KeyPrefix string `env:"CACHE_KEY_PREFIX" envDefault:"saga"`
}
