package cluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oriys/pulsar/internal/action"
)

// PostgresDirectory keeps action bindings in the action_peers table.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

var _ Directory = (*PostgresDirectory)(nil)

// NewPostgresDirectory connects to dsn and ensures the schema exists.
func NewPostgresDirectory(ctx context.Context, dsn string) (*PostgresDirectory, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	d := &PostgresDirectory{pool: pool}

	if err := d.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := d.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return d, nil
}

func (d *PostgresDirectory) Close() error {
	if d.pool != nil {
		d.pool.Close()
	}
	return nil
}

func (d *PostgresDirectory) Ping(ctx context.Context) error {
	if d.pool == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return d.pool.Ping(ctx)
}

func (d *PostgresDirectory) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS action_peers (
			action TEXT PRIMARY KEY,
			peer TEXT NOT NULL,
			announced_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_action_peers_peer ON action_peers (peer)`,
	}
	for _, stmt := range stmts {
		if _, err := d.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Resolve implements Resolver.
func (d *PostgresDirectory) Resolve(ctx context.Context, id action.Identifier) (string, error) {
	var peer string
	err := d.pool.QueryRow(ctx, `SELECT peer FROM action_peers WHERE action = $1`, string(id)).Scan(&peer)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", notFound(id)
	}
	if err != nil {
		return "", fmt.Errorf("resolve action [%s]: %w", id, err)
	}
	return peer, nil
}

// Announce implements Announcer in a single transaction. The upsert only
// refreshes rows already owned by peer, so a row owned by another peer
// yields no result and rolls the batch back.
func (d *PostgresDirectory) Announce(ctx context.Context, peer string, ids ...action.Identifier) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin announce: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, id := range ids {
		var owner string
		err := tx.QueryRow(ctx, `
			INSERT INTO action_peers (action, peer, announced_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (action) DO UPDATE SET announced_at = NOW()
			WHERE action_peers.peer = EXCLUDED.peer
			RETURNING peer`, string(id), peer).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) {
			existing, rerr := d.currentPeer(ctx, tx, id)
			if rerr != nil {
				return rerr
			}
			return &ConflictError{Action: id, Existing: existing, Proposed: peer}
		}
		if err != nil {
			return fmt.Errorf("announce action [%s]: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit announce: %w", err)
	}
	return nil
}

func (d *PostgresDirectory) currentPeer(ctx context.Context, tx pgx.Tx, id action.Identifier) (string, error) {
	var peer string
	if err := tx.QueryRow(ctx, `SELECT peer FROM action_peers WHERE action = $1`, string(id)).Scan(&peer); err != nil {
		return "", fmt.Errorf("read binding for [%s]: %w", id, err)
	}
	return peer, nil
}

// Withdraw implements Announcer.
func (d *PostgresDirectory) Withdraw(ctx context.Context, peer string, ids ...action.Identifier) error {
	if len(ids) == 0 {
		return nil
	}
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	if _, err := d.pool.Exec(ctx, `DELETE FROM action_peers WHERE peer = $1 AND action = ANY($2)`, peer, names); err != nil {
		return fmt.Errorf("withdraw actions for %s: %w", peer, err)
	}
	return nil
}

// Bindings implements Directory.
func (d *PostgresDirectory) Bindings(ctx context.Context) (map[action.Identifier]string, error) {
	rows, err := d.pool.Query(ctx, `SELECT action, peer FROM action_peers ORDER BY action`)
	if err != nil {
		return nil, fmt.Errorf("list action bindings: %w", err)
	}
	defer rows.Close()

	out := make(map[action.Identifier]string)
	for rows.Next() {
		var id, peer string
		if err := rows.Scan(&id, &peer); err != nil {
			return nil, err
		}
		out[action.Identifier(id)] = peer
	}
	return out, rows.Err()
}
