// Package domain defines the shared data model for the trading control
// plane: the Candle/TickerSnapshot market primitives, the MomentumScore
// and Candidate a scan tick produces, and the persisted Position and
// RiskAccumulator entities the ledger owns exclusively.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a position or candidate.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Interval is a supported candle granularity.
type Interval string

const (
	Interval1m Interval = "1m"
	Interval5m Interval = "5m"
	Interval1h Interval = "1h"
	Interval4h Interval = "4h"
)

// Candle is a single OHLCV bar. Series are ordered by OpenTime ascending,
// contiguous at a fixed interval.
type Candle struct {
	Symbol   string
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// TickerSnapshot is the latest traded price and rolling volume for a symbol.
type TickerSnapshot struct {
	Symbol        string
	LastPrice     float64
	Volume24hQuote float64
	Timestamp     time.Time
}

// OrderBookLevel is a single price/quantity rung.
type OrderBookLevel struct {
	Price float64
	Qty   float64
}

// OrderBook is a depth snapshot, best level first.
type OrderBook struct {
	Symbol    string
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
	Timestamp time.Time
}

// MomentumScore carries the scanner's scoring provenance for one symbol.
// Score is an integer in [0, 100].
type MomentumScore struct {
	Symbol           string
	Direction        Direction
	Score            int
	ATR              float64
	VolumeSurgeRatio float64
	EMACrossover     bool
	SessionBoost     float64
	NightPump        bool
	SignalTime       time.Time
}

// Candidate is a scored trading opportunity emitted by the scanner for
// consideration by the trading engine. Created in-memory by the scanner,
// consumed within the same tick by the trading engine, never persisted.
type Candidate struct {
	Symbol        string
	Direction     Direction
	Score         int
	Price         float64
	ATR           float64
	MobilityRank  float64
	Volume24h     float64
	SuggestedTP   float64
	SuggestedSL   float64
	SnapshotTime  time.Time
}

// PositionStatus is the lifecycle state of a persisted Position.
type PositionStatus string

const (
	StatusReserved PositionStatus = "RESERVED"
	StatusOpen     PositionStatus = "OPEN"
	StatusClosing  PositionStatus = "CLOSING"
	StatusClosed   PositionStatus = "CLOSED"
)

// ExitReason names the trigger that closed a position, in priority order
// when more than one condition is met in the same evaluation.
type ExitReason string

const (
	ExitSLHit        ExitReason = "SL_HIT"
	ExitTPHit        ExitReason = "TP_HIT"
	ExitNewsBlackout ExitReason = "NEWS_BLACKOUT"
	ExitTimeExit     ExitReason = "TIME_EXIT"
	ExitFastDiscard  ExitReason = "FAST_DISCARD"
)

// Position is the central persisted entity. Identity is Symbol: at most
// one position with status in {RESERVED, OPEN, CLOSING} may exist per
// symbol (invariant I1, enforced by the ledger, not by this type).
type Position struct {
	ReservationID  string
	CloseToken      string
	Symbol          string
	Direction       Direction
	EntryPrice      decimal.Decimal
	Quantity        decimal.Decimal
	Leverage        int
	MarginCommitted decimal.Decimal
	TPPrice         decimal.Decimal
	SLPrice         decimal.Decimal
	ATRAtEntry      float64
	ScoreAtEntry    int
	Status          PositionStatus
	OpenedAt        time.Time
	UpdatedAt       time.Time
	ExitPrice       *decimal.Decimal
	ExitReason      *ExitReason
	ClosedAt        *time.Time
	RealizedPnL     *decimal.Decimal
	StuckCycles     int
}

// RiskAccumulator is the single shared mutable risk-accounting record.
// Updated exclusively through the ledger's conditional-write API.
type RiskAccumulator struct {
	TotalReservedRisk decimal.Decimal
	ActivePositions   map[string]string // symbol -> reservation or close token
	DailyPnL          decimal.Decimal
	DailyLossBreachAt *time.Time
	CurrentUTCDate    string // YYYY-MM-DD, the accumulator's rollover marker
	UpdatedAt         time.Time
}
