// Package reconcile implements the startup reconciliation sweep
// (spec.md §7 supplemental feature): on process restart, the ledger's
// OPEN/CLOSING positions are compared against what the venue actually
// reports, since a crash between order placement and CommitPosition
// can leave the two out of sync. Generalizes the teacher's
// restorePositions/reconcilePositions restart-recovery step.
package reconcile

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/ridgeline-systems/perpctl/internal/config"
	"github.com/ridgeline-systems/perpctl/internal/domain"
	"github.com/ridgeline-systems/perpctl/internal/exchange"
	"github.com/ridgeline-systems/perpctl/internal/ledger"
)

// Report summarizes one reconciliation pass.
type Report struct {
	Checked         int
	Confirmed       []string // ledger position matches a live venue position
	OrphanedAtVenue []string // venue has a position the ledger does not know about
	MissingAtVenue  []string // ledger has an OPEN/CLOSING position the venue no longer reports
	Promoted        []string // RESERVED reservation promoted to OPEN: venue fill confirmed it
	RolledBack      []string // RESERVED reservation rolled back: venue never filled it
}

// Sweep compares every OPEN/CLOSING ledger position against the
// venue's live position list, and resolves every stranded RESERVED
// reservation left by a crash between the venue fill and
// CommitPosition (spec.md §4.1 "why this shape"): a reservation the
// venue confirms is promoted straight to OPEN; one the venue has no
// record of is rolled back. It never mutates OPEN/CLOSING state;
// callers decide what to do with MissingAtVenue/OrphanedAtVenue
// (typically: alert an operator, since silently closing or re-opening
// a position without a human in the loop is unsafe).
func Sweep(ctx context.Context, l *ledger.Ledger, gateway exchange.Gateway, engineCfg config.EngineConfig, logger *log.Logger) (Report, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[reconcile] ", log.LstdFlags)
	}

	positions, err := l.ListOpen(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: list open: %w", err)
	}

	venuePositions, err := gateway.FetchOpenPositions(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: fetch venue positions: %w", err)
	}

	venueBySymbol := make(map[string]exchange.VenuePosition, len(venuePositions))
	for _, vp := range venuePositions {
		venueBySymbol[vp.Symbol] = vp
	}

	var report Report
	report.Checked = len(positions)

	ledgerSymbols := make(map[string]bool, len(positions))
	for _, p := range positions {
		ledgerSymbols[p.Symbol] = true
		if _, ok := venueBySymbol[p.Symbol]; ok {
			report.Confirmed = append(report.Confirmed, p.Symbol)
		} else {
			report.MissingAtVenue = append(report.MissingAtVenue, p.Symbol)
			logger.Printf("ledger position %s has no corresponding live position at the venue", p.Symbol)
		}
	}

	reserved, err := l.ListReserved(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: list reserved: %w", err)
	}
	for _, pos := range reserved {
		ledgerSymbols[pos.Symbol] = true
		vp, atVenue := venueBySymbol[pos.Symbol]
		if atVenue {
			tp, sl := tpSlFromReservation(pos, engineCfg, vp.AvgPrice)
			if err := l.CommitPosition(ctx, pos.ReservationID, vp.AvgPrice, vp.Quantity, tp, sl, pos.ATRAtEntry); err != nil {
				logger.Printf("reconcile: failed to promote reservation for %s: %v", pos.Symbol, err)
				continue
			}
			report.Promoted = append(report.Promoted, pos.Symbol)
			logger.Printf("reservation for %s confirmed at the venue, promoted RESERVED -> OPEN", pos.Symbol)
		} else {
			if err := l.RollbackReservation(ctx, pos.ReservationID); err != nil {
				logger.Printf("reconcile: failed to roll back stranded reservation for %s: %v", pos.Symbol, err)
				continue
			}
			report.RolledBack = append(report.RolledBack, pos.Symbol)
			logger.Printf("reservation for %s absent at the venue, rolled back", pos.Symbol)
		}
	}

	for symbol := range venueBySymbol {
		if !ledgerSymbols[symbol] {
			report.OrphanedAtVenue = append(report.OrphanedAtVenue, symbol)
			logger.Printf("venue reports a position in %s the ledger has no record of", symbol)
		}
	}

	return report, nil
}

// tpSlFromReservation derives TP/SL from the venue's confirmed fill
// price the same way tradingengine.Engine.tpSl does from the order
// response, since a promoted reservation never passed through the
// engine's own commit path.
func tpSlFromReservation(pos domain.Position, engineCfg config.EngineConfig, entryPrice decimal.Decimal) (tp, sl decimal.Decimal) {
	tpMult := engineCfg.TPMult
	if tpMult <= 0 {
		tpMult = 2.0
	}
	slMult := engineCfg.SLMult
	if slMult <= 0 {
		slMult = 1.0
	}
	atr := decimal.NewFromFloat(pos.ATRAtEntry)
	tpOffset := atr.Mul(decimal.NewFromFloat(tpMult))
	slOffset := atr.Mul(decimal.NewFromFloat(slMult))

	if pos.Direction == domain.Long {
		return entryPrice.Add(tpOffset), entryPrice.Sub(slOffset)
	}
	return entryPrice.Sub(tpOffset), entryPrice.Add(slOffset)
}
