package ledger

import "errors"

// Sentinel errors returned by the ledger's API, mirroring spec.md §4.1's
// closed error taxonomy. Callers branch on these with errors.Is; they
// are never wrapped with additional context that would break identity.
var (
	// ErrNoCapacity means I2 or I3 would be violated by this reservation.
	ErrNoCapacity = errors.New("ledger: no capacity")

	// ErrDuplicateSymbol means an open or reserved position already
	// exists for this symbol (invariant I1).
	ErrDuplicateSymbol = errors.New("ledger: duplicate symbol")

	// ErrCircuitBreaker means invariant I4 is active for the current UTC day.
	ErrCircuitBreaker = errors.New("ledger: circuit breaker tripped")

	// ErrContended means the conditional write lost a race; the ledger
	// retries internally up to 3 attempts before surfacing this.
	ErrContended = errors.New("ledger: contended, retries exhausted")

	// ErrUnknownReservation means commit_position or rollback_reservation
	// was called with a reservation_id the ledger has no record of.
	ErrUnknownReservation = errors.New("ledger: unknown reservation")

	// ErrAlreadyCommitted means commit_position was called on a
	// reservation that has already moved past OPEN (e.g. CLOSING). A
	// repeat commit of a reservation that is OPEN succeeds as a no-op,
	// see P5.
	ErrAlreadyCommitted = errors.New("ledger: already committed")

	// ErrNotOpen means begin_close was called on a symbol without an
	// OPEN position.
	ErrNotOpen = errors.New("ledger: not open")

	// ErrAlreadyClosing means begin_close lost the race to another
	// Closer worker for the same symbol.
	ErrAlreadyClosing = errors.New("ledger: already closing")

	// ErrUnknownCloseToken means finalize_close was called with a
	// close_token the ledger has no record of.
	ErrUnknownCloseToken = errors.New("ledger: unknown close token")

	// ErrConflict is the store-level CAS failure a Store implementation
	// returns from Save when expectedVersion is stale. The ledger
	// retries on it internally and translates exhausted retries into
	// ErrContended; it is never returned to ledger callers directly.
	ErrConflict = errors.New("ledger: store conflict")
)

// errConflict is an internal alias kept so the retry loop's identifier
// reads naturally; it is the same sentinel as ErrConflict.
var errConflict = ErrConflict
