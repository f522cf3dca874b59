// Package database provides the PostgreSQL client shared by all stores.
// Schema DDL is owned by the hosting platform; the client assumes the
// thyme_* tables exist.
package database

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
	"github.com/jmoiron/sqlx"
)

// Config holds connection pool settings. DSN comes from DATABASE_URL.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns pool settings sized for the single-process
// scheduled workload.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Client wraps the sqlx handle so stores share one pool.
type Client struct {
	db *sqlx.DB
}

// NewClient opens and pings the database.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// NewClientFromDB wraps an existing handle (used by sqlmock tests).
func NewClientFromDB(db *sqlx.DB) *Client {
	return &Client{db: db}
}

// DB returns the underlying sqlx handle.
func (c *Client) DB() *sqlx.DB { return c.db }

// Close releases the pool.
func (c *Client) Close() error { return c.db.Close() }

// Health reports database reachability with latency.
type Health struct {
	Reachable bool          `json:"reachable"`
	Latency   time.Duration `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
}

// CheckHealth pings the database with a short deadline.
func (c *Client) CheckHealth(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		return Health{Reachable: false, Latency: time.Since(start), Error: err.Error()}
	}
	return Health{Reachable: true, Latency: time.Since(start)}
}
