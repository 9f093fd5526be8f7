package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
)

// PgxPool is the part of *pgxpool.Pool the store uses.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps checkpoints in the auction_checkpoints table.
type PostgresStore struct {
	pool PgxPool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const saveCheckpoint = `
INSERT INTO auction_checkpoints (tournament_code, status, sequence, session, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (tournament_code) DO UPDATE
SET status = EXCLUDED.status,
    sequence = EXCLUDED.sequence,
    session = EXCLUDED.session,
    updated_at = now()
WHERE auction_checkpoints.sequence <= EXCLUDED.sequence
`

func (p *PostgresStore) Save(ctx context.Context, s *engine.Session) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, saveCheckpoint, s.TournamentCode, string(s.Status), int64(s.Sequence), data); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", s.TournamentCode, err)
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context, code string) (*engine.Session, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT session FROM auction_checkpoints WHERE tournament_code = $1`, code).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", code, err)
	}
	return decode(data)
}

func (p *PostgresStore) ListResumable(ctx context.Context) ([]*engine.Session, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT session FROM auction_checkpoints WHERE status = ANY($1) ORDER BY tournament_code`,
		resumableStatuses())
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*engine.Session
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		s, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
