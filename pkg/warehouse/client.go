// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package warehouse materializes impression, conversion, identity and
// reference row sets from Snowflake. All resolution happens downstream
// over these already-fetched rows; this is the only layer that issues
// queries.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/snowflakedb/gosnowflake" // snowflake driver

	"github.com/luxfi/attribution/pkg/log"
)

// Config holds Snowflake connection settings.
type Config struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
	Role      string `yaml:"role"`
}

// Client is a pooled Snowflake connection.
type Client struct {
	db  *sql.DB
	log log.Logger
}

// New opens a pooled connection to Snowflake.
func New(cfg Config, logger log.Logger) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s",
		cfg.User,
		cfg.Password,
		cfg.Account,
		cfg.Database,
		cfg.Schema,
	)
	sep := "?"
	if cfg.Warehouse != "" {
		dsn += sep + "warehouse=" + cfg.Warehouse
		sep = "&"
	}
	if cfg.Role != "" {
		dsn += sep + "role=" + cfg.Role
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snowflake connection: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Client{db: db, log: logger}, nil
}

// NewWithDB wraps an existing handle; used by tests.
func NewWithDB(db *sql.DB, logger log.Logger) *Client {
	return &Client{db: db, log: logger}
}

// Ping tests the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the connection pool.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
