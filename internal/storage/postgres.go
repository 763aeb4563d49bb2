// Package storage - postgres.go provides the Postgres-backed ledger.Store.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ridgeline-systems/perpctl/internal/domain"
	"github.com/ridgeline-systems/perpctl/internal/ledger"
)

// PostgresStore implements ledger.Store over a single-row ledger_state
// table guarded by a version column, the durable counterpart to
// ledger.MemStore's mutex. Every Save is one UPDATE ... WHERE version =
// $expected, so the conditional write the ledger depends on is enforced
// by Postgres itself rather than by anything in this process.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against connStr and ensures
// the single ledger_state row exists.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	if connStr == "" {
		return nil, fmt.Errorf("storage: connection string is required")
	}
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.ensureSeedRow(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) ensureSeedRow(ctx context.Context) error {
	empty := ledger.Snapshot{Positions: make(map[string]domain.Position)}
	accBytes, err := json.Marshal(empty.Accumulator)
	if err != nil {
		return fmt.Errorf("storage: marshal seed accumulator: %w", err)
	}
	posBytes, err := json.Marshal(empty.Positions)
	if err != nil {
		return fmt.Errorf("storage: marshal seed positions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_state (id, version, accumulator, positions)
		VALUES (1, 0, $1, $2)
		ON CONFLICT (id) DO NOTHING
	`, accBytes, posBytes)
	if err != nil {
		return fmt.Errorf("storage: seed ledger_state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (ledger.Snapshot, int64, error) {
	var version int64
	var accBytes, posBytes []byte

	row := s.db.QueryRowContext(ctx, `SELECT version, accumulator, positions FROM ledger_state WHERE id = 1`)
	if err := row.Scan(&version, &accBytes, &posBytes); err != nil {
		return ledger.Snapshot{}, 0, fmt.Errorf("storage: load: %w", err)
	}

	var snap ledger.Snapshot
	if err := json.Unmarshal(accBytes, &snap.Accumulator); err != nil {
		return ledger.Snapshot{}, 0, fmt.Errorf("storage: decode accumulator: %w", err)
	}
	snap.Positions = make(map[string]domain.Position)
	if err := json.Unmarshal(posBytes, &snap.Positions); err != nil {
		return ledger.Snapshot{}, 0, fmt.Errorf("storage: decode positions: %w", err)
	}
	return snap, version, nil
}

func (s *PostgresStore) Save(ctx context.Context, expectedVersion int64, next ledger.Snapshot) (int64, error) {
	accBytes, err := json.Marshal(next.Accumulator)
	if err != nil {
		return 0, fmt.Errorf("storage: marshal accumulator: %w", err)
	}
	posBytes, err := json.Marshal(next.Positions)
	if err != nil {
		return 0, fmt.Errorf("storage: marshal positions: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE ledger_state
		SET version = version + 1, accumulator = $1, positions = $2, updated_at = now()
		WHERE id = 1 AND version = $3
	`, accBytes, posBytes, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("storage: save: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: save: rows affected: %w", err)
	}
	if rows == 0 {
		return 0, ledger.ErrConflict
	}
	return expectedVersion + 1, nil
}

func (s *PostgresStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	snap, _, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		if p.Status == domain.StatusOpen || p.Status == domain.StatusClosing {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *PostgresStore) AppendHistory(ctx context.Context, rec ledger.HistoryRecord) error {
	recBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage: marshal history record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO position_history (symbol, record, written_at)
		VALUES ($1, $2, $3)
	`, rec.Position.Symbol, recBytes, rec.WrittenAt)
	if err != nil {
		return fmt.Errorf("storage: append history: %w", err)
	}
	return nil
}
