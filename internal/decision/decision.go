package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/perp-arena/internal/config"
	"github.com/perp-arena/internal/models"
)

// ErrValidation marks a malformed or out-of-range decision. Validation
// failures are recoverable: no state is mutated and the message is surfaced
// back to the decision source as last-error text.
var ErrValidation = errors.New("decision validation failed")

// Signal is the tagged variant over the four decision kinds.
type Signal string

const (
	SignalBuy   Signal = "buy"
	SignalSell  Signal = "sell"
	SignalHold  Signal = "hold"
	SignalClose Signal = "close"
)

// Decision is one per-symbol instruction from the external decision source.
// Buy and sell carry a target leverage; hold and close need nothing else.
type Decision struct {
	Symbol        string           `json:"symbol"`
	Signal        Signal           `json:"signal"`
	Leverage      float64          `json:"leverage,omitempty"`
	Confidence    float64          `json:"confidence,omitempty"`
	Justification string           `json:"justification,omitempty"`
	ExitPlan      *models.ExitPlan `json:"exit_plan,omitempty"`
}

// Batch is the decision payload for one cycle, keyed by symbol.
type Batch map[string]Decision

// Parse decodes and validates a raw decision payload. It is the only gate
// between the untyped boundary and the engine; nothing unvalidated reaches
// the ledger.
func Parse(raw []byte, cfg config.SimConfig) (Batch, error) {
	var batch Batch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("%w: unparsable payload: %v", ErrValidation, err)
	}

	for symbol, d := range batch {
		if d.Symbol == "" {
			d.Symbol = symbol
			batch[symbol] = d
		} else if d.Symbol != symbol {
			return nil, fmt.Errorf("%w: %s: symbol mismatch with key %q", ErrValidation, d.Symbol, symbol)
		}
		if err := Validate(batch[symbol], cfg); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

// Validate checks one decision against the version's configuration.
func Validate(d Decision, cfg config.SimConfig) error {
	switch d.Signal {
	case SignalBuy, SignalSell:
		if d.Leverage < 1 || d.Leverage > cfg.MaxLeverage {
			return fmt.Errorf("%w: %s: leverage %.2f out of bounds [1, %.2f]",
				ErrValidation, d.Symbol, d.Leverage, cfg.MaxLeverage)
		}
	case SignalHold, SignalClose:
		// no per-variant fields required
	default:
		return fmt.Errorf("%w: %s: unknown signal %q", ErrValidation, d.Symbol, d.Signal)
	}

	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: %s: confidence %.2f must be within [0, 1]", ErrValidation, d.Symbol, d.Confidence)
	}

	if d.ExitPlan != nil && cfg.TickSize > 0 {
		if d.ExitPlan.ProfitTarget != nil && !onTick(*d.ExitPlan.ProfitTarget, cfg.TickSize) {
			return fmt.Errorf("%w: %s: profit_target %.4f off tick %.4f",
				ErrValidation, d.Symbol, *d.ExitPlan.ProfitTarget, cfg.TickSize)
		}
		if d.ExitPlan.StopLoss != nil && !onTick(*d.ExitPlan.StopLoss, cfg.TickSize) {
			return fmt.Errorf("%w: %s: stop_loss %.4f off tick %.4f",
				ErrValidation, d.Symbol, *d.ExitPlan.StopLoss, cfg.TickSize)
		}
	}
	return nil
}

// Hold returns the no-op decision for a symbol, used when the decision
// source times out or fails: the engine never blocks a cycle on it.
func Hold(symbol string) Decision {
	return Decision{Symbol: symbol, Signal: SignalHold}
}

func onTick(price, tick float64) bool {
	r := math.Mod(price, tick)
	return r < 1e-6 || tick-r < 1e-6
}
