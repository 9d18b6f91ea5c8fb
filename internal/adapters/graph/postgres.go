package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/veracity/internal/domain/merge"
	"github.com/okian/veracity/internal/domain/model"
)

// DBPool is the subset of *pgxpool.Pool the Postgres store uses.
type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

var _ DBPool = (*pgxpool.Pool)(nil)

// Schema creates the graph tables.
const Schema = `
CREATE TABLE IF NOT EXISTS graph_nodes (
	kind TEXT NOT NULL,
	key TEXT NOT NULL,
	attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, key)
);
CREATE TABLE IF NOT EXISTS graph_edges (
	type TEXT NOT NULL,
	from_kind TEXT NOT NULL,
	from_key TEXT NOT NULL,
	to_kind TEXT NOT NULL,
	to_key TEXT NOT NULL,
	attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (type, from_kind, from_key, to_kind, to_key),
	FOREIGN KEY (from_kind, from_key) REFERENCES graph_nodes (kind, key),
	FOREIGN KEY (to_kind, to_key) REFERENCES graph_nodes (kind, key)
);`

const (
	sqlInsertNode = `INSERT INTO graph_nodes (kind, key) VALUES ($1, $2) ON CONFLICT (kind, key) DO NOTHING`
	sqlLockNode   = `SELECT attributes FROM graph_nodes WHERE kind = $1 AND key = $2 FOR UPDATE`
	sqlUpdateNode = `UPDATE graph_nodes SET attributes = $3, updated_at = now() WHERE kind = $1 AND key = $2`
	sqlHasNode    = `SELECT EXISTS (SELECT 1 FROM graph_nodes WHERE kind = $1 AND key = $2)`
	sqlInsertEdge = `INSERT INTO graph_edges (type, from_kind, from_key, to_kind, to_key) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (type, from_kind, from_key, to_kind, to_key) DO NOTHING`
	sqlLockEdge = `SELECT attributes FROM graph_edges
		WHERE type = $1 AND from_kind = $2 AND from_key = $3 AND to_kind = $4 AND to_key = $5 FOR UPDATE`
	sqlUpdateEdge = `UPDATE graph_edges SET attributes = $6, updated_at = now()
		WHERE type = $1 AND from_kind = $2 AND from_key = $3 AND to_kind = $4 AND to_key = $5`
	sqlStats = `SELECT (SELECT count(*) FROM graph_nodes), (SELECT count(*) FROM graph_edges)`
)

// Postgres stores the graph in two tables. Per-key serialization comes from
// row locks taken with SELECT ... FOR UPDATE inside each transaction.
type Postgres struct {
	pool DBPool
}

var _ merge.Store = (*Postgres)(nil)

// NewPostgres verifies the connection and returns the store.
func NewPostgres(ctx context.Context, pool DBPool) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping graph database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Migrate creates missing tables.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate graph schema: %w", err)
	}
	return nil
}

// Begin opens a database transaction.
func (p *Postgres) Begin(ctx context.Context) (merge.Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin graph tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// HasNode reports whether ref is committed.
func (p *Postgres) HasNode(ctx context.Context, ref model.NodeRef) (bool, error) {
	var ok bool
	if err := p.pool.QueryRow(ctx, sqlHasNode, string(ref.Kind), ref.Key).Scan(&ok); err != nil {
		return false, fmt.Errorf("lookup node %s: %w", ref, err)
	}
	return ok, nil
}

// Stats counts committed nodes and edges.
func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := p.pool.QueryRow(ctx, sqlStats).Scan(&s.Nodes, &s.Edges); err != nil {
		return Stats{}, fmt.Errorf("graph stats: %w", err)
	}
	return s, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) UpsertNode(ctx context.Context, ref model.NodeRef, attrs model.Attributes) ([]model.Conflict, error) {
	if _, err := t.tx.Exec(ctx, sqlInsertNode, string(ref.Kind), ref.Key); err != nil {
		return nil, fmt.Errorf("insert node: %w", err)
	}
	var raw []byte
	if err := t.tx.QueryRow(ctx, sqlLockNode, string(ref.Kind), ref.Key).Scan(&raw); err != nil {
		return nil, fmt.Errorf("lock node: %w", err)
	}
	cur, err := decodeAttributes(raw)
	if err != nil {
		return nil, err
	}
	changed, conflicts := cur.Merge(ref, attrs)
	if !changed {
		return conflicts, nil
	}
	out, err := json.Marshal(cur)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if _, err := t.tx.Exec(ctx, sqlUpdateNode, string(ref.Kind), ref.Key, out); err != nil {
		return nil, fmt.Errorf("update node: %w", err)
	}
	return conflicts, nil
}

func (t *pgTx) UpsertEdge(ctx context.Context, key model.EdgeKey, attrs model.Attributes) error {
	for _, ref := range []model.NodeRef{key.From, key.To} {
		var ok bool
		if err := t.tx.QueryRow(ctx, sqlHasNode, string(ref.Kind), ref.Key).Scan(&ok); err != nil {
			return fmt.Errorf("lookup endpoint %s: %w", ref, err)
		}
		if !ok {
			return merge.ErrDanglingEdge
		}
	}

	args := []any{key.Type, string(key.From.Kind), key.From.Key, string(key.To.Kind), key.To.Key}
	if _, err := t.tx.Exec(ctx, sqlInsertEdge, args...); err != nil {
		return fmt.Errorf("insert edge: %w", err)
	}
	var raw []byte
	if err := t.tx.QueryRow(ctx, sqlLockEdge, args...).Scan(&raw); err != nil {
		return fmt.Errorf("lock edge: %w", err)
	}
	cur, err := decodeAttributes(raw)
	if err != nil {
		return err
	}
	if changed, _ := cur.Merge(key.Ref(), attrs); !changed {
		return nil
	}
	out, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	if _, err := t.tx.Exec(ctx, sqlUpdateEdge, append(args, out)...); err != nil {
		return fmt.Errorf("update edge: %w", err)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback ignores an already closed transaction.
func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// decodeAttributes loads stored attributes and re-canonicalizes their values,
// since jsonb does not preserve the byte layout they were written with.
func decodeAttributes(raw []byte) (model.Attributes, error) {
	attrs := model.Attributes{}
	if len(raw) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeAttributes, err)
	}
	for name, v := range attrs {
		canon, err := model.Canonical(v.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDecodeAttributes, name, err)
		}
		v.Value = canon
		attrs[name] = v
	}
	return attrs, nil
}
