// Package db owns the Postgres connection pool the dataset feed reads from.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"safemap/core-go/internal/sqlcgen"
)

// Tables the feed reads. MissingTables reports which of them are absent.
var Tables = []string{"incidents", "safe_routes", "community_groups", "group_members"}

type Pool struct {
	pool *pgxpool.Pool
}

type Options struct {
	// MaxConns caps the pool. The feed issues one query at a time, so a small
	// pool is enough.
	MaxConns       int32
	ConnectTimeout time.Duration
}

func poolConfig(databaseURL string, opts Options) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 4
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	cfg.MaxConns = opts.MaxConns
	cfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	cfg.ConnConfig.RuntimeParams["application_name"] = "safemap-core-go"
	return cfg, nil
}

func Open(ctx context.Context, databaseURL string, opts Options) (*Pool, error) {
	cfg, err := poolConfig(databaseURL, opts)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	// Verify connectivity early.
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{pool: p}, nil
}

func (p *Pool) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return nil
	}
	return p.pool.Ping(ctx)
}

// Queries returns the overlay dataset queries bound to the pool, or nil
// without a database.
func (p *Pool) Queries() *sqlcgen.Queries {
	if p == nil || p.pool == nil {
		return nil
	}
	return sqlcgen.New(p.pool)
}

// MissingTables lists the feed tables that do not exist in the connected
// database's search path.
func (p *Pool) MissingTables(ctx context.Context) ([]string, error) {
	if p == nil || p.pool == nil {
		return nil, nil
	}
	var missing []string
	for _, t := range Tables {
		var exists bool
		if err := p.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", t).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check table %s: %w", t, err)
		}
		if !exists {
			missing = append(missing, t)
		}
	}
	return missing, nil
}
