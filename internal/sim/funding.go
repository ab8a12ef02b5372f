package sim

import (
	"math"
	"time"

	"github.com/perp-arena/internal/ledger"
)

// Funding modes.
const (
	FundingNone      = "none"
	FundingHeuristic = "heuristic"
	FundingExternal  = "external"
)

// ema smoothing for the heuristic mode, 2/(24+1) for a 24-period EMA.
const emaAlpha = 2.0 / 25.0

const eightHours = 8 * time.Hour

// RateSource supplies 8h funding rates for the external-feed mode.
type RateSource interface {
	Funding8hRate(symbol string) (float64, bool)
}

// FundingPayment records one settlement for one position.
type FundingPayment struct {
	Symbol  string
	Rate8h  float64
	Payment float64 // positive means the position paid
}

// FundingEngine settles periodic funding transfers against open positions.
// In heuristic mode the 8h rate is +1bp while the mark trades above its
// 24-period EMA (longs pay) and -1bp below it.
type FundingEngine struct {
	mode       string
	external   RateSource
	ema        map[string]float64
	lastSettle map[string]time.Time
}

// NewFundingEngine creates a FundingEngine for the configured mode.
// external may be nil unless mode is FundingExternal.
func NewFundingEngine(mode string, external RateSource) *FundingEngine {
	return &FundingEngine{
		mode:       mode,
		external:   external,
		ema:        make(map[string]float64),
		lastSettle: make(map[string]time.Time),
	}
}

// ObserveMark feeds one mark price into the heuristic EMA. Call once per
// cycle per symbol regardless of mode so switching modes needs no warm-up.
func (f *FundingEngine) ObserveMark(symbol string, mark float64) {
	prev, ok := f.ema[symbol]
	if !ok {
		f.ema[symbol] = mark
		return
	}
	f.ema[symbol] = emaAlpha*mark + (1-emaAlpha)*prev
}

// Rate8h returns the current 8h funding rate for a symbol.
func (f *FundingEngine) Rate8h(symbol string, mark float64) float64 {
	switch f.mode {
	case FundingHeuristic:
		ema, ok := f.ema[symbol]
		if !ok {
			return 0
		}
		if mark > ema {
			return 0.0001
		}
		return -0.0001
	case FundingExternal:
		if f.external != nil {
			if rate, ok := f.external.Funding8hRate(symbol); ok {
				return rate
			}
		}
		return 0
	default:
		return 0
	}
}

// Settle accrues funding for every open position, pro-rated by the time
// elapsed since that position's last settlement. Longs pay when the rate is
// positive, shorts receive; payments flow through the ledger's cash and
// cumulative funding total.
func (f *FundingEngine) Settle(led *ledger.Ledger, marks map[string]float64, now time.Time) []FundingPayment {
	var out []FundingPayment

	for _, pos := range led.OpenPositions() {
		mark, ok := marks[pos.Symbol]
		if !ok || mark <= 0 {
			continue
		}

		last, seen := f.lastSettle[pos.Symbol]
		f.lastSettle[pos.Symbol] = now
		if !seen || !now.After(last) {
			continue
		}

		rate := f.Rate8h(pos.Symbol, mark)
		if rate == 0 {
			continue
		}

		elapsed := now.Sub(last)
		notional := math.Abs(pos.Quantity) * mark
		payment := rate * notional * sign(pos.Quantity) * elapsed.Seconds() / eightHours.Seconds()

		led.ApplyFunding(-payment)
		out = append(out, FundingPayment{Symbol: pos.Symbol, Rate8h: rate, Payment: payment})
	}
	return out
}

// Begin starts a symbol's settlement clock at the given time. Called when a
// position opens, so the first settlement charges the interval back to the
// opening fill instead of only starting the clock.
func (f *FundingEngine) Begin(symbol string, ts time.Time) {
	f.lastSettle[symbol] = ts
}

// Reset clears per-position settlement clocks, for use when a position is
// closed or a new version is deployed.
func (f *FundingEngine) Reset(symbol string) {
	delete(f.lastSettle, symbol)
}
