package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/internal/domain/scoring"
)

// DBPool is the subset of *pgxpool.Pool the Postgres ledger uses.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

var _ DBPool = (*pgxpool.Pool)(nil)

// Schema creates the receipts table.
const Schema = `
CREATE TABLE IF NOT EXISTS receipts (
	challenge_id TEXT NOT NULL,
	miner_id TEXT NOT NULL,
	state TEXT NOT NULL,
	base_score DOUBLE PRECISION NOT NULL,
	final_score DOUBLE PRECISION NOT NULL,
	result JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (challenge_id, miner_id)
);
CREATE INDEX IF NOT EXISTS receipts_miner_created_idx ON receipts (miner_id, created_at);`

const (
	sqlAppend = `INSERT INTO receipts (challenge_id, miner_id, state, base_score, final_score, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (challenge_id, miner_id) DO NOTHING`

	sqlGet = `SELECT result, created_at FROM receipts WHERE challenge_id = $1 AND miner_id = $2`

	sqlTally = `SELECT count(*), count(*) FILTER (WHERE state = $3 AND base_score >= $4)
		FROM receipts WHERE miner_id = $1 AND created_at >= $2`

	sqlList = `SELECT challenge_id, result, created_at FROM receipts WHERE miner_id = $1 ORDER BY created_at, challenge_id`

	sqlLatest = `SELECT DISTINCT ON (miner_id) miner_id, challenge_id, result, created_at
		FROM receipts ORDER BY miner_id, created_at DESC, challenge_id DESC`
)

// Postgres is a durable ledger. Appends never update an existing row.
type Postgres struct {
	settings
	pool DBPool
}

var _ scoring.Ledger = (*Postgres)(nil)

// NewPostgres verifies the connection and returns the ledger.
func NewPostgres(ctx context.Context, pool DBPool, opts ...Option) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping ledger database: %w", err)
	}
	s := defaults()
	for _, opt := range opts {
		opt(&s)
	}
	return &Postgres{settings: s, pool: pool}, nil
}

// Migrate creates missing tables.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

// Append inserts r unless a receipt for its (challenge, miner) exists, in
// which case the stored receipt is returned.
func (p *Postgres) Append(ctx context.Context, r model.Receipt) (model.Receipt, error) {
	if r.ChallengeID == "" || r.MinerID == "" {
		return model.Receipt{}, ErrInvalidReceipt
	}
	result, err := json.Marshal(r.Result)
	if err != nil {
		return model.Receipt{}, fmt.Errorf("encode receipt: %w", err)
	}
	tag, err := p.pool.Exec(ctx, sqlAppend,
		r.ChallengeID, r.MinerID, string(r.Result.State), r.Result.BaseScore, r.Result.FinalScore, result, r.CreatedAt.UTC())
	if err != nil {
		return model.Receipt{}, fmt.Errorf("append receipt: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return r, nil
	}

	stored := model.Receipt{ChallengeID: r.ChallengeID, MinerID: r.MinerID}
	var raw []byte
	if err := p.pool.QueryRow(ctx, sqlGet, r.ChallengeID, r.MinerID).Scan(&raw, &stored.CreatedAt); err != nil {
		return model.Receipt{}, fmt.Errorf("load existing receipt: %w", err)
	}
	if err := json.Unmarshal(raw, &stored.Result); err != nil {
		return model.Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	return stored, nil
}

// MultiplierFor tallies the miner's receipts inside the policy window.
func (p *Postgres) MultiplierFor(ctx context.Context, minerID string) (float64, error) {
	since := p.policy.since(p.now())
	var total, passed int64
	err := p.pool.QueryRow(ctx, sqlTally, minerID, since, string(model.StateScored), p.policy.PassThreshold).
		Scan(&total, &passed)
	if err != nil {
		return 0, fmt.Errorf("tally receipts: %w", err)
	}
	return p.policy.Multiplier(int(passed), int(total)), nil
}

// Receipts returns the miner's receipts oldest first.
func (p *Postgres) Receipts(ctx context.Context, minerID string) ([]model.Receipt, error) {
	rows, err := p.pool.Query(ctx, sqlList, minerID)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var out []model.Receipt
	for rows.Next() {
		r := model.Receipt{MinerID: minerID}
		var raw []byte
		var created time.Time
		if err := rows.Scan(&r.ChallengeID, &raw, &created); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		if err := json.Unmarshal(raw, &r.Result); err != nil {
			return nil, fmt.Errorf("decode receipt: %w", err)
		}
		r.CreatedAt = created
		out = append(out, r)
	}
	return out, rows.Err()
}

// Latest returns each miner's most recent receipt, ordered by miner id.
func (p *Postgres) Latest(ctx context.Context) ([]model.Receipt, error) {
	rows, err := p.pool.Query(ctx, sqlLatest)
	if err != nil {
		return nil, fmt.Errorf("list latest receipts: %w", err)
	}
	defer rows.Close()

	var out []model.Receipt
	for rows.Next() {
		var (
			r   model.Receipt
			raw []byte
		)
		if err := rows.Scan(&r.MinerID, &r.ChallengeID, &raw, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		if err := json.Unmarshal(raw, &r.Result); err != nil {
			return nil, fmt.Errorf("decode receipt: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
