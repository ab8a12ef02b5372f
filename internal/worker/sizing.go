package worker

import (
	"math"

	"github.com/perp-arena/internal/decision"
	"github.com/perp-arena/internal/ledger"
)

// targetQuantity translates a buy or sell decision into the signed quantity
// the position should hold after the cycle. The dollar budget is equity
// capped by the margin actually available, counting the margin that
// replacing the current position frees up; leverage then scales the budget
// into notional.
func targetQuantity(d decision.Decision, equity, availableMargin, freedMargin, mark float64) float64 {
	if mark <= 0 || d.Leverage <= 0 {
		return 0
	}

	budget := math.Min(equity, availableMargin+freedMargin)
	if budget <= 0 {
		return 0
	}

	qty := budget * d.Leverage / mark
	if d.Signal == decision.SignalSell {
		return -qty
	}
	return qty
}

// freedMargin returns the margin released if the position on this symbol
// were replaced, zero when flat.
func freedMargin(led *ledger.Ledger, symbol string, mark float64) float64 {
	pos, ok := led.Position(symbol)
	if !ok {
		return 0
	}
	return pos.AllocatedMargin(mark)
}
