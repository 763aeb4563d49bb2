package ledger

import (
	"context"
	"time"

	"github.com/ridgeline-systems/perpctl/internal/domain"
)

// Snapshot is the entire ledger-owned state: the Risk Accumulator and
// every position not yet CLOSED (RESERVED, OPEN, or CLOSING). CLOSED
// positions move to the append-only history log and leave the snapshot.
type Snapshot struct {
	Accumulator domain.RiskAccumulator
	Positions   map[string]domain.Position // keyed by symbol
}

func (s Snapshot) clone() Snapshot {
	next := Snapshot{
		Accumulator: s.Accumulator,
		Positions:   make(map[string]domain.Position, len(s.Positions)),
	}
	if s.Accumulator.ActivePositions != nil {
		next.Accumulator.ActivePositions = make(map[string]string, len(s.Accumulator.ActivePositions))
		for k, v := range s.Accumulator.ActivePositions {
			next.Accumulator.ActivePositions[k] = v
		}
	}
	for k, v := range s.Positions {
		next.Positions[k] = v
	}
	return next
}

// HistoryRecord is one append-only trade history entry, written once a
// position reaches CLOSED. It carries the full closed Position so the
// scoring context at entry remains available for auditability (spec.md
// §4.4 point 7).
type HistoryRecord struct {
	Position domain.Position
	WrittenAt time.Time
}

// Store is the conditional-write storage primitive the ledger is built
// on (spec.md §6 "Storage (ledger)"). A single version counter guards
// the whole Snapshot: Save succeeds only if the stored version still
// equals expectedVersion, which is how every ledger operation expresses
// itself as one atomic conditional write.
//
// list_open()'s "secondary index on (status, updated_at)" requirement
// is satisfied by ListOpen filtering server-side rather than the
// caller scanning the full snapshot.
type Store interface {
	// Load returns the current snapshot and its version.
	Load(ctx context.Context) (Snapshot, int64, error)

	// Save performs the conditional write. On success it returns the
	// new version. On a version mismatch it returns errConflict and
	// the caller must Load again and recompute.
	Save(ctx context.Context, expectedVersion int64, next Snapshot) (int64, error)

	// ListOpen returns positions with status OPEN or CLOSING. May
	// return data stale by up to one replication round-trip.
	ListOpen(ctx context.Context) ([]domain.Position, error)

	// AppendHistory inserts one closed-position record. Insert-only,
	// no conditional semantics required.
	AppendHistory(ctx context.Context, rec HistoryRecord) error
}
