package sim

import (
	"time"

	"github.com/perp-arena/internal/config"
	"github.com/perp-arena/internal/ledger"
)

// Liquidation records one forced close produced by the margin evaluator.
type Liquidation struct {
	Symbol      string
	Qty         float64 // signed quantity that was closed
	Price       float64
	MarginRatio float64
	Fill        *Fill
}

// CloseExecutor applies a forced-close fill to the ledger and persists it.
// It runs between re-evaluations, so each liquidation sees the cash freed by
// the previous one.
type CloseExecutor func(f *Fill, reason string) error

// MarginEvaluator scans open positions once per cycle and force-closes any
// whose margin ratio has fallen to or below the maintenance margin.
type MarginEvaluator struct {
	cfg config.SimConfig
	sim *Simulator
}

// NewMarginEvaluator creates a MarginEvaluator sharing the cycle's simulator.
func NewMarginEvaluator(cfg config.SimConfig, sim *Simulator) *MarginEvaluator {
	return &MarginEvaluator{cfg: cfg, sim: sim}
}

// MarginRatio computes (allocated_margin + unrealized_pl) / |notional| for a
// position at the given mark.
func MarginRatio(pos ledger.Position, mark float64) float64 {
	notional := pos.Notional(mark)
	if notional == 0 {
		return 0
	}
	return (pos.AllocatedMargin(mark) + pos.UnrealizedPnL(mark)) / notional
}

// Evaluate runs the liquidation sweep. Positions are visited in symbol order
// and margin is re-evaluated after every forced close, because closing one
// position changes the cash available to the others. Positions without a
// mark price are skipped. Returns the liquidations executed.
func (e *MarginEvaluator) Evaluate(led *ledger.Ledger, marks map[string]float64, now time.Time, execute CloseExecutor) ([]Liquidation, error) {
	var out []Liquidation

	// Bounded by the number of open positions: each pass closes at most one.
	for range led.OpenPositions() {
		liq, err := e.sweepOnce(led, marks, now, execute)
		if err != nil {
			return out, err
		}
		if liq == nil {
			break
		}
		out = append(out, *liq)
	}
	return out, nil
}

func (e *MarginEvaluator) sweepOnce(led *ledger.Ledger, marks map[string]float64, now time.Time, execute CloseExecutor) (*Liquidation, error) {
	for _, pos := range led.OpenPositions() {
		mark, ok := marks[pos.Symbol]
		if !ok || mark <= 0 {
			continue
		}

		ratio := MarginRatio(pos, mark)
		if ratio > e.cfg.MaintenanceMargin {
			continue
		}

		fill := e.sim.ForcedClose(pos.Symbol, pos.Quantity, mark, pos.Leverage, now)
		if err := execute(fill, "liquidation"); err != nil {
			return nil, err
		}
		return &Liquidation{
			Symbol:      pos.Symbol,
			Qty:         pos.Quantity,
			Price:       fill.Price,
			MarginRatio: ratio,
			Fill:        fill,
		}, nil
	}
	return nil, nil
}
