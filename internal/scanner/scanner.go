// Package scanner implements C3, the momentum scanner: the four-phase
// pipeline that filters the tradable universe, computes per-symbol
// momentum scores, and emits a ranked candidate list (spec.md §4.3).
// Grounded on the teacher's momentum strategy scoring shape and on the
// pack's own EMA-crossover/ATR technical-analysis style, generalized
// from a single evaluate() call into the ordered phase pipeline the
// spec requires.
package scanner

import (
	"context"
	"log"
	"math"
	"sort"
	"time"

	"github.com/ridgeline-systems/perpctl/internal/config"
	"github.com/ridgeline-systems/perpctl/internal/domain"
	"github.com/ridgeline-systems/perpctl/internal/indicators"
	"github.com/ridgeline-systems/perpctl/internal/marketdata"
	"github.com/ridgeline-systems/perpctl/internal/metrics"
	"github.com/ridgeline-systems/perpctl/internal/obslog"
)

// AffinityTable maps a session name to a per-symbol affinity multiplier.
// Data-driven configuration; the scoring algorithm never hard-codes a
// symbol list (spec.md §4.3).
type AffinityTable map[string]map[string]float64

// Scanner is C3.
type Scanner struct {
	gateway  *marketdata.Gateway
	cfg      config.ScannerConfig
	affinity AffinityTable
	logger   *log.Logger
	obs      *obslog.Logger
}

// New creates a Scanner over the given market data gateway.
func New(gateway *marketdata.Gateway, cfg config.ScannerConfig, affinity AffinityTable, logger *log.Logger, obs *obslog.Logger) *Scanner {
	if logger == nil {
		logger = log.New(log.Writer(), "[scanner] ", log.LstdFlags)
	}
	if affinity == nil {
		affinity = AffinityTable{}
	}
	return &Scanner{gateway: gateway, cfg: cfg, affinity: affinity, logger: logger, obs: obs}
}

// UpdateConfig replaces the scanner's filter and scoring thresholds
// atomically, used by config hot-reload.
func (s *Scanner) UpdateConfig(cfg config.ScannerConfig) {
	s.cfg = cfg
}

type mobilityCandidate struct {
	symbol       string
	mobilityRank float64
	candles      []domain.Candle
}

// Scan runs all four phases and returns the ranked candidate list,
// capped at availableSlots (= MAX_OPEN_TRADES - count(OPEN positions)).
func (s *Scanner) Scan(ctx context.Context, availableSlots int) ([]domain.Candidate, error) {
	if availableSlots <= 0 {
		return nil, nil
	}

	universe, err := s.phase1Universe(ctx)
	if err != nil {
		return nil, err
	}

	survivors := s.phase2PreFilter(ctx, universe)

	candidates := s.phase3DeepAnalysis(ctx, survivors, universe)

	return s.phase4Emit(candidates, availableSlots), nil
}

// phase1Universe keeps symbols with 24h quote volume at or above the
// configured floor, dropping denylisted symbols and quote assets
// outside the allowlist.
func (s *Scanner) phase1Universe(ctx context.Context) (map[string]domain.TickerSnapshot, error) {
	tickers, err := s.gateway.Tickers(ctx)
	if err != nil {
		return nil, err
	}

	deny := toSet(s.cfg.SymbolDenylist)
	allow := toSet(s.cfg.QuoteAllowlist)

	out := make(map[string]domain.TickerSnapshot)
	for symbol, t := range tickers {
		if deny[symbol] {
			continue
		}
		if len(allow) > 0 && !hasAllowedQuote(symbol, allow) {
			continue
		}
		if t.Volume24hQuote < minVolume(s.cfg.MinVolume24h) {
			continue
		}
		out[symbol] = t
	}
	return out, nil
}

// phase2PreFilter computes the three cheap mobility signals over the
// last 25 1-minute candles and keeps the top K by mobility rank.
func (s *Scanner) phase2PreFilter(ctx context.Context, universe map[string]domain.TickerSnapshot) []mobilityCandidate {
	minATRPct := orDefault(s.cfg.MinATRPct1Min, 0.25)
	topK := orDefaultInt(s.cfg.PreFilterTopK, 50)

	var survivors []mobilityCandidate
	for symbol := range universe {
		candles, err := s.gateway.Candles(ctx, symbol, domain.Interval1m)
		if err != nil || len(candles) < 25 {
			continue
		}
		recent := lastN(candles, 25)

		lastClose := recent[len(recent)-1].Close
		if lastClose == 0 {
			continue
		}

		atrPct := indicators.ATR(recent, 10) / lastClose * 100
		if atrPct < minATRPct {
			continue
		}

		volRatio := safeDiv(
			indicators.AverageVolumeWindow(recent, len(recent)-3, len(recent)),
			indicators.AverageVolumeWindow(recent, len(recent)-23, len(recent)-3),
		)
		if volRatio < 1.3 {
			continue
		}

		thrust := math.Abs(recent[len(recent)-1].Close-recent[len(recent)-6].Close) / recent[len(recent)-6].Close * 100
		if thrust < 0.20 {
			continue
		}

		survivors = append(survivors, mobilityCandidate{
			symbol:       symbol,
			mobilityRank: atrPct * volRatio * thrust,
		})
	}

	sort.Slice(survivors, func(i, j int) bool { return survivors[i].mobilityRank > survivors[j].mobilityRank })
	if len(survivors) > topK {
		survivors = survivors[:topK]
	}
	return survivors
}

// phase3DeepAnalysis fetches 60 1-minute candles per survivor and
// computes the momentum score described in spec.md §4.3.
func (s *Scanner) phase3DeepAnalysis(ctx context.Context, survivors []mobilityCandidate, universe map[string]domain.TickerSnapshot) []domain.Candidate {
	now := time.Now().UTC()
	var out []domain.Candidate

	for _, surv := range survivors {
		candles, err := s.gateway.Candles(ctx, surv.symbol, domain.Interval1m)
		if err != nil || len(candles) < 60 {
			continue
		}
		recent := lastN(candles, 60)
		n := len(recent)

		emaFast := indicators.EMASeries(recent, 5)
		emaSlow := indicators.EMASeries(recent, 13)

		score, direction, nightPump, crossover := s.momentumScore(recent, emaFast, emaSlow, n)
		if score < 0 {
			continue // symbol skipped per the scoring rules
		}

		score = s.applySessionBoost(score, surv.symbol, now)

		lastClose := recent[n-1].Close
		atr := indicators.ATR(recent, 14)

		candidate := domain.Candidate{
			Symbol:       surv.symbol,
			Direction:    direction,
			Score:        score,
			Price:        lastClose,
			ATR:          atr,
			MobilityRank: surv.mobilityRank,
			Volume24h:    universe[surv.symbol].Volume24hQuote,
			SnapshotTime: now,
		}

		if s.obs != nil {
			s.obs.Event("candidate_scored", map[string]any{
				"symbol": surv.symbol, "score": score, "direction": string(direction),
				"crossover": crossover, "night_pump": nightPump,
			})
		}
		metrics.CandidatesScored.WithLabelValues(string(direction)).Inc()

		out = append(out, candidate)
	}
	return out
}

// momentumScore implements spec.md §4.3's scoring rules. Returns
// score=-1 when the symbol must be skipped (no crossover and no
// night-pump override, or ATR floor breached).
func (s *Scanner) momentumScore(candles []domain.Candle, emaFast, emaSlow []float64, n int) (score int, direction domain.Direction, nightPump bool, crossover bool) {
	crossUp := emaFast[n-2] <= emaSlow[n-2] && emaFast[n-1] > emaSlow[n-1]
	crossDown := emaFast[n-2] >= emaSlow[n-2] && emaFast[n-1] < emaSlow[n-1]

	nightPump = s.isNightPump(candles, n)

	switch {
	case crossUp:
		direction = domain.Long
		score = 40
		crossover = true
	case crossDown:
		direction = domain.Short
		score = 40
		crossover = true
	case nightPump:
		if candles[n-1].Close-candles[n-6].Close >= 0 {
			direction = domain.Long
		} else {
			direction = domain.Short
		}
		score = 0
	default:
		return -1, "", false, false
	}

	priceChange3 := (candles[n-1].Close - candles[n-4].Close) / candles[n-4].Close
	if sameSign(priceChange3, direction) {
		score += 20
	}

	volumeRatio := safeDiv(
		indicators.AverageVolumeWindow(candles, n-3, n),
		indicators.AverageVolumeWindow(candles, n-20, n-3),
	)
	switch {
	case volumeRatio >= 2.0:
		score += 35
	case volumeRatio >= 1.5:
		score += 25
	case volumeRatio >= 1.2:
		score += 15
	case volumeRatio < 1.0:
		score -= 20
	}

	lastClose := candles[n-1].Close
	atrPct := indicators.ATR(candles, 14) / lastClose * 100
	if atrPct < 0.10 {
		return -1, "", false, false
	}
	if atrPct >= 0.15 {
		score += 15
	}

	if nightPump {
		score = int(math.Round(float64(score) * 1.5))
	}

	if score < 0 {
		score = 0
	}
	return score, direction, nightPump, crossover
}

// isNightPump detects a sharp, high-volume 5-candle move whose size
// dwarfs the 15-candle move (spec.md §4.3 "night-pump detection").
func (s *Scanner) isNightPump(candles []domain.Candle, n int) bool {
	if n < 16 {
		return false
	}
	move5 := math.Abs(candles[n-1].Close - candles[n-6].Close)
	move15 := math.Abs(candles[n-1].Close - candles[n-16].Close)
	pctMove := move5 / candles[n-6].Close * 100

	volRatio := safeDiv(
		indicators.AverageVolumeWindow(candles, n-3, n),
		indicators.AverageVolumeWindow(candles, n-23, n-3),
	)

	return pctMove > 0.5 && volRatio > 3.0 && move5 > 2*move15
}

// session is one of the UTC time-of-day windows from spec.md §4.3.
type session struct {
	name       string
	startHour  int
	endHour    int
	multiplier float64
}

var sessions = []session{
	{name: "Asia", startHour: 0, endHour: 8, multiplier: 2.0},
	{name: "Europe", startHour: 7, endHour: 16, multiplier: 1.8},
	{name: "US", startHour: 13, endHour: 22, multiplier: 2.0},
}

// applySessionBoost applies the UTC session multiplier and per-symbol
// affinity, capping the final score at 100 uniformly (spec.md §9 open
// question, resolved: always cap).
func (s *Scanner) applySessionBoost(score int, symbol string, now time.Time) int {
	hour := now.Hour()
	multiplier := 1.0
	activeSession := ""

	for _, sess := range sessions {
		if hourInWindow(hour, sess.startHour, sess.endHour) {
			multiplier = sess.multiplier
			activeSession = sess.name
			break
		}
	}

	affinity := 1.0
	if activeSession != "" {
		if table, ok := s.affinity[activeSession]; ok {
			if a, ok := table[symbol]; ok {
				affinity = a
			}
		}
	}

	boosted := int(math.Round(float64(score) * multiplier * affinity))
	if boosted > 100 {
		boosted = 100
	}
	return boosted
}

// phase4Emit keeps symbols at or above the emission threshold, derives
// tp/sl from ATR, and returns at most availableSlots candidates sorted
// by (score desc, mobility_rank desc).
func (s *Scanner) phase4Emit(candidates []domain.Candidate, availableSlots int) []domain.Candidate {
	threshold := orDefaultInt(s.cfg.MinMomentumScore, 60)

	var emitted []domain.Candidate
	for _, c := range candidates {
		if c.Score < threshold {
			continue
		}
		if c.Direction == domain.Long {
			c.SuggestedTP = c.Price + tpMult()*c.ATR
			c.SuggestedSL = c.Price - slMult()*c.ATR
		} else {
			c.SuggestedTP = c.Price - tpMult()*c.ATR
			c.SuggestedSL = c.Price + slMult()*c.ATR
		}
		emitted = append(emitted, c)
	}

	sort.Slice(emitted, func(i, j int) bool {
		if emitted[i].Score != emitted[j].Score {
			return emitted[i].Score > emitted[j].Score
		}
		return emitted[i].MobilityRank > emitted[j].MobilityRank
	})

	if len(emitted) > availableSlots {
		emitted = emitted[:availableSlots]
	}
	return emitted
}

// tpMult/slMult use the default ATR multipliers; callers that need
// config-driven multipliers apply them downstream in the trading
// engine, which owns EngineConfig. Phase 4's suggestion is advisory.
func tpMult() float64 { return 2.0 }
func slMult() float64 { return 1.0 }

func sameSign(v float64, dir domain.Direction) bool {
	if dir == domain.Long {
		return v > 0
	}
	return v < 0
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func lastN(candles []domain.Candle, n int) []domain.Candle {
	if len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}

func hourInWindow(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}

func hasAllowedQuote(symbol string, allow map[string]bool) bool {
	for quote := range allow {
		if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
			return true
		}
	}
	return false
}

func minVolume(v float64) float64 {
	if v <= 0 {
		return 5_000_000
	}
	return v
}

func orDefault(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func orDefaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
