// Package postgres provides the durable store for split-payment
// transactions: stores, transactions, payments and refunds, plus the
// schema-version migration runner that keeps them in sync (§4.3).
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DefaultConfig returns a default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Host:         "localhost",
		Port:         5432,
		User:         "postgres",
		Password:     "postgres",
		Database:     "splitpay",
		SSLMode:      "disable",
		MaxOpenConns: 20, // §5 "bounded; ~20 connections"
		MaxIdleConns: 5,
	}
}

// Client wraps a PostgreSQL connection pool with the split-payment schema.
type Client struct {
	db *sql.DB
}

// NewClient opens the connection pool, verifies connectivity, and applies
// pending migrations in ascending order.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	c := &Client{db: db}
	if err := c.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return c, nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// DB returns the underlying *sql.DB for repositories in this package.
func (c *Client) DB() *sql.DB {
	return c.db
}

// BeginTx starts a DB transaction, used by the orchestrator to scope a
// single logical DB transaction per operation (§4.3, §5).
func (c *Client) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, nil)
}

// Pagination is the shared list-query result envelope (§4.3).
type Pagination struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
	Page  int         `json:"page"`
	Pages int         `json:"pages"`
}

// PageOffset computes the LIMIT/OFFSET pair for a 1-indexed page number.
func PageOffset(page, limit int) (offset, safeLimit int) {
	if limit <= 0 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	return (page - 1) * limit, limit
}

// RedactCustomerPII purges customer-identifying fields from every
// transaction belonging to a store, for the GDPR customers/redact and
// shop/redact webhook topics (§4.8). Money state (amounts, statuses) is
// untouched.
func (c *Client) RedactCustomerPII(ctx context.Context, storeID string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE transactions
		SET customer_email = NULL, customer_ip = NULL, customer_ua = NULL
		WHERE store_id = $1`, storeID)
	return err
}

// PagesFor computes the total page count for a given total row count and
// page size.
func PagesFor(total, limit int) int {
	if limit <= 0 {
		return 0
	}
	pages := total / limit
	if total%limit != 0 {
		pages++
	}
	return pages
}
