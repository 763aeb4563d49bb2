package ledger

import (
	"context"
	"sync"

	"github.com/ridgeline-systems/perpctl/internal/domain"
)

// MemStore is an in-process Store backed by a mutex-guarded snapshot.
// It satisfies the same conditional-write contract as the Postgres
// store and is used by tests and by single-process paper-trading runs
// where a real database is unnecessary.
type MemStore struct {
	mu      sync.Mutex
	version int64
	snap    Snapshot
	history []HistoryRecord
}

// NewMemStore creates an empty store with a zeroed Risk Accumulator.
func NewMemStore() *MemStore {
	return &MemStore{
		snap: Snapshot{
			Positions: make(map[string]domain.Position),
		},
	}
}

func (m *MemStore) Load(ctx context.Context) (Snapshot, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.clone(), m.version, nil
}

func (m *MemStore) Save(ctx context.Context, expectedVersion int64, next Snapshot) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expectedVersion != m.version {
		return 0, ErrConflict
	}
	m.snap = next.clone()
	m.version++
	return m.version, nil
}

func (m *MemStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.snap.Positions))
	for _, p := range m.snap.Positions {
		if p.Status == domain.StatusOpen || p.Status == domain.StatusClosing {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemStore) AppendHistory(ctx context.Context, rec HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, rec)
	return nil
}

// History returns a copy of every appended record, newest last. Used
// by tests and by the analytics report.
func (m *MemStore) History() []HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryRecord, len(m.history))
	copy(out, m.history)
	return out
}
