package storage

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Default pool bounds. The engine issues a few short writes per analyzed
// session (up to two vector records, more on sessions that promote a user)
// and serializes per user upstream, so the pool only needs
// to cover the process's concurrent-session fan-out; beyond ~4 connections
// per core the database queues instead of the engine.
const (
	minPoolSize = 8
	maxPoolSize = 64
)

// Config holds PostgreSQL connection settings. When URL is set it is used
// verbatim and the discrete host/user fields are ignored.
type Config struct {
	URL string // full connection string (DATABASE_URL)

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// defaultPoolSize sizes the pool for this host: four connections per core,
// clamped so small containers still get headroom and large ones do not
// swamp the database.
func defaultPoolSize() int {
	n := 4 * runtime.NumCPU()
	if n < minPoolSize {
		return minPoolSize
	}
	if n > maxPoolSize {
		return maxPoolSize
	}
	return n
}

// LoadConfigFromEnv builds the database configuration from the environment.
// DATABASE_URL takes precedence; otherwise discrete DB_* variables apply.
// Pool limits default to the host's core count (see defaultPoolSize) and
// can be pinned explicitly with DB_MAX_OPEN_CONNS / DB_MAX_IDLE_CONNS.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:      os.Getenv("DATABASE_URL"),
		Host:     envOr("DB_HOST", "localhost"),
		User:     envOr("DB_USER", "bridge"),
		Password: os.Getenv("DB_PASSWORD"),
		Database: envOr("DB_NAME", "bridge"),
		SSLMode:  envOr("DB_SSLMODE", "disable"),
	}

	var err error
	if cfg.Port, err = envInt("DB_PORT", 5432); err != nil {
		return Config{}, err
	}
	if cfg.MaxOpenConns, err = envInt("DB_MAX_OPEN_CONNS", defaultPoolSize()); err != nil {
		return Config{}, err
	}
	// Idle connections default to half the pool: enough to absorb a steady
	// session stream without holding the whole pool open across lulls.
	if cfg.MaxIdleConns, err = envInt("DB_MAX_IDLE_CONNS", cfg.MaxOpenConns/2); err != nil {
		return Config{}, err
	}
	if cfg.ConnMaxLifetime, err = envDuration("DB_CONN_MAX_LIFETIME", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.ConnMaxIdleTime, err = envDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the repository cannot run with.
func (c Config) Validate() error {
	if c.URL == "" && c.Password == "" {
		return fmt.Errorf("either DATABASE_URL or DB_PASSWORD is required")
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be at least 1, got %d", c.MaxOpenConns)
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS must be between 0 and DB_MAX_OPEN_CONNS (%d), got %d",
			c.MaxOpenConns, c.MaxIdleConns)
	}
	if c.URL == "" && c.Port < 1 {
		return fmt.Errorf("DB_PORT must be positive, got %d", c.Port)
	}
	return nil
}

// ConnString returns the connection string handed to the pgx driver.
func (c Config) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
