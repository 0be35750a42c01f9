// Package db is the direct executor: it runs assistant-generated SQL on a
// PostgreSQL server through a pgx pool instead of the backend's /execute.
//
// If SSH is enabled the tunnel is established first and pgx connects to
// its local endpoint.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DachengChen/sqlpilot/applog"
	"github.com/DachengChen/sqlpilot/config"
	"github.com/DachengChen/sqlpilot/ssh"
)

// DB wraps a pgx connection pool and optional SSH tunnel.
type DB struct {
	Pool   *pgxpool.Pool
	Tunnel *ssh.Tunnel
	// MaxRows caps the rows collected per query; zero means no cap.
	MaxRows int
}

// Connect establishes a PostgreSQL connection, optionally through an SSH tunnel.
func Connect(ctx context.Context, cfg config.DirectConfig) (*DB, error) {
	d := &DB{}

	if cfg.SSH.Enabled {
		tunnel, err := ssh.NewTunnel(cfg.SSH, cfg.Host, cfg.Port)
		if err != nil {
			return nil, fmt.Errorf("ssh tunnel: %w", err)
		}
		localAddr, err := tunnel.Start(ctx)
		if err != nil {
			return nil, fmt.Errorf("ssh tunnel start: %w", err)
		}
		d.Tunnel = tunnel

		// Override connection target with local tunnel endpoint
		cfg.Host = localAddr.Host
		cfg.Port = localAddr.Port
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("pgx connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		d.Close()
		return nil, fmt.Errorf("pgx ping: %w", err)
	}

	d.Pool = pool
	applog.Info("direct executor connected to %s/%s", cfg.Host, cfg.Database)
	return d, nil
}

// Close shuts down the pool and SSH tunnel.
func (d *DB) Close() {
	if d.Pool != nil {
		d.Pool.Close()
	}
	if d.Tunnel != nil {
		d.Tunnel.Stop()
	}
}
