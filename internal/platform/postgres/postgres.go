package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/ailab/internal/platform/env"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

type Config struct {
	URL string
	// ApplicationName shows up in pg_stat_activity so operators can tell the
	// trainer's claim loop apart from API traffic.
	ApplicationName string
	PingTimeout     time.Duration
	// ConnectTimeout bounds how long Open keeps retrying the first ping while
	// the database is still starting.
	ConnectTimeout  time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ConfigFromEnv reads AILAB_DATABASE_*. service becomes the application name
// unless AILAB_DATABASE_APPLICATION_NAME overrides it.
func ConfigFromEnv(service string) (Config, error) {
	pingTimeout, err := env.Duration("AILAB_DATABASE_PING_TIMEOUT", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	connectTimeout, err := env.Duration("AILAB_DATABASE_CONNECT_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	maxOpenConns, err := env.Int("AILAB_DATABASE_MAX_OPEN_CONNS", 10)
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := env.Int("AILAB_DATABASE_MAX_IDLE_CONNS", 5)
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := env.Duration("AILAB_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute)
	if err != nil {
		return Config{}, err
	}
	connMaxIdleTime, err := env.Duration("AILAB_DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}

	appName := "ailab"
	if s := strings.TrimSpace(service); s != "" {
		appName = "ailab-" + s
	}
	cfg := Config{
		URL:             env.String("AILAB_DATABASE_URL", "postgres://ai:ai@localhost:5432/ai_lab?sslmode=disable"),
		ApplicationName: env.String("AILAB_DATABASE_APPLICATION_NAME", appName),
		PingTimeout:     pingTimeout,
		ConnectTimeout:  connectTimeout,
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
		ConnMaxIdleTime: connMaxIdleTime,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("AILAB_DATABASE_URL is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("AILAB_DATABASE_PING_TIMEOUT must be positive")
	}
	if c.ConnectTimeout < c.PingTimeout {
		return errors.New("AILAB_DATABASE_CONNECT_TIMEOUT must be >= AILAB_DATABASE_PING_TIMEOUT")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("AILAB_DATABASE_MAX_OPEN_CONNS must be >= 1")
	}
	if c.MaxIdleConns < 0 {
		return errors.New("AILAB_DATABASE_MAX_IDLE_CONNS must be >= 0")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("AILAB_DATABASE_MAX_IDLE_CONNS must be <= AILAB_DATABASE_MAX_OPEN_CONNS")
	}
	if c.ConnMaxLifetime < 0 || c.ConnMaxIdleTime < 0 {
		return errors.New("connection lifetimes must be >= 0")
	}
	return nil
}

// connConfig parses URL and stamps the application name onto every session.
func (c Config) connConfig() (*pgx.ConnConfig, error) {
	connCfg, err := pgx.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parse AILAB_DATABASE_URL: %w", err)
	}
	if c.ApplicationName != "" {
		connCfg.RuntimeParams["application_name"] = c.ApplicationName
	}
	return connCfg, nil
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	connCfg, err := cfg.connConfig()
	if err != nil {
		return nil, err
	}

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := waitReady(ctx, cfg, db.PingContext); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

const retryInterval = 500 * time.Millisecond

// waitReady pings until one succeeds, ConnectTimeout passes, or ctx ends.
// Each attempt gets its own PingTimeout.
func waitReady(ctx context.Context, cfg Config, ping func(context.Context) error) error {
	deadline := time.Now().Add(cfg.ConnectTimeout)
	attempts := 0
	for {
		attempts++
		pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
		err := ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || time.Now().Add(retryInterval).After(deadline) {
			return fmt.Errorf("ping %s after %d attempts: %w", cfg.ApplicationName, attempts, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping %s: %w", cfg.ApplicationName, ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}
