package dashboard

import (
	"context"
	"fmt"

	"github.com/ridgeline-systems/perpctl/internal/domain"
	"github.com/ridgeline-systems/perpctl/internal/ledger"
)

// Snapshot is the read-only view of system state the status endpoint and
// dashboard push feed both serve. It never exposes anything a client
// could use to mutate a position.
type Snapshot struct {
	Positions []domain.Position      `json:"positions"`
	Risk      domain.RiskAccumulator `json:"risk"`
}

// BuildSnapshot reads the current ledger state without mutating it.
func BuildSnapshot(ctx context.Context, l *ledger.Ledger) (Snapshot, error) {
	positions, err := l.ListOpen(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("dashboard: list open: %w", err)
	}
	risk, err := l.RiskSnapshot(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("dashboard: risk snapshot: %w", err)
	}
	return Snapshot{Positions: positions, Risk: risk}, nil
}
