package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/SteelMorgan/journal-ingest/internal/retry"
	"github.com/rs/zerolog/log"
)

// Options describes the relay target
type Options struct {
	Host     string
	Port     int
	Database string
	Username string // "default" when empty
	Password string
	Retry    retry.Config
}

func (o Options) addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o Options) validate() error {
	if o.Host == "" {
		return errors.New("clickhouse host is required")
	}
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("invalid clickhouse port %d", o.Port)
	}
	if o.Database == "" {
		return errors.New("clickhouse database is required")
	}
	return nil
}

// Client is a retrying connection to the events database
type Client struct {
	conn     driver.Conn
	database string
	retryCfg retry.Config
}

// Connect opens the connection and pings it under the retry policy. The
// database is created when missing.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Username == "" {
		opts.Username = "default"
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}

	// Connect without a database so the first Exec can create it
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.addr()},
		Auth: clickhouse.Auth{
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	c := &Client{conn: conn, database: opts.Database, retryCfg: opts.Retry}
	if err := retry.Do(ctx, c.retryCfg, func() error {
		return conn.Ping(ctx)
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse at %s: %w", opts.addr(), err)
	}
	if err := c.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", opts.Database)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create database %s: %w", opts.Database, err)
	}

	log.Info().
		Str("addr", opts.addr()).
		Str("database", opts.Database).
		Msg("Connected to ClickHouse")
	return c, nil
}

// Database returns the target database name
func (c *Client) Database() string {
	return c.database
}

// Exec runs a statement with retry
func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) error {
	return retry.Do(ctx, c.retryCfg, func() error {
		return c.conn.Exec(ctx, query, args...)
	})
}

// SendBatch prepares an INSERT into table, lets fill append the rows and
// sends it. A failed attempt is rebuilt from scratch on retry, so fill must
// be repeatable.
func (c *Client) SendBatch(ctx context.Context, table string, fill func(driver.Batch) error) error {
	return retry.Do(ctx, c.retryCfg, func() error {
		batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s", c.database, table))
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}
		if err := fill(batch); err != nil {
			batch.Abort()
			return err
		}
		return batch.Send()
	})
}

func (c *Client) Close() error {
	log.Info().Msg("Closing ClickHouse connection")
	return c.conn.Close()
}
