package sim

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/perp-arena/internal/config"
)

var (
	ErrBelowMinNotional   = errors.New("order notional below minimum")
	ErrInvalidLeverage    = errors.New("invalid leverage")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrNoMarkPrice        = errors.New("no mark price available")
)

// Fill describes one simulated execution. The simulator never mutates the
// ledger; the caller applies the fill, keeping simulation and bookkeeping
// independently testable.
type Fill struct {
	Symbol        string
	DeltaQty      float64 // signed
	Price         float64
	Fee           float64
	Leverage      float64
	ClientOrderID string
	Ts            time.Time
}

// Request carries everything Simulate needs; AvailableMargin already
// includes margin freed by replacing the current position.
type Request struct {
	Symbol          string
	TargetQty       float64
	CurrentQty      float64
	MarkPrice       float64
	Leverage        float64
	AvailableMargin float64
	Ts              time.Time
}

// Simulator turns target-position requests into fills under the version's
// slippage and fee parameters.
type Simulator struct {
	cfg config.SimConfig
}

// NewSimulator creates a Simulator with the given parameters.
func NewSimulator(cfg config.SimConfig) *Simulator {
	return &Simulator{cfg: cfg}
}

// Simulate produces the fill that moves the position from CurrentQty to
// TargetQty at the mark price. Slippage always worsens the taker's price.
// Distinct errors are returned for below-min-notional, leverage out of
// bounds, and insufficient initial margin.
func (s *Simulator) Simulate(req Request) (*Fill, error) {
	if req.MarkPrice <= 0 {
		return nil, ErrNoMarkPrice
	}

	delta := req.TargetQty - req.CurrentQty
	if math.Abs(delta)*req.MarkPrice < s.cfg.MinNotional {
		return nil, ErrBelowMinNotional
	}
	if req.Leverage < 1 || req.Leverage > s.cfg.MaxLeverage {
		return nil, ErrInvalidLeverage
	}

	price := s.roundToTick(req.MarkPrice * (1 + sign(delta)*s.cfg.SlippageBps/10000))
	fee := math.Abs(delta) * price * s.cfg.FeeBps / 10000

	// Initial margin is checked only when the fill increases absolute
	// exposure; pure reductions always go through.
	if math.Abs(req.TargetQty) > math.Abs(req.CurrentQty) {
		required := math.Abs(req.TargetQty) * price / req.Leverage
		if required > req.AvailableMargin {
			return nil, ErrInsufficientMargin
		}
	}

	return &Fill{
		Symbol:        req.Symbol,
		DeltaQty:      delta,
		Price:         price,
		Fee:           fee,
		Leverage:      req.Leverage,
		ClientOrderID: uuid.New().String(),
		Ts:            req.Ts,
	}, nil
}

// ForcedClose builds the fill that closes an entire position at the mark
// price worsened by the liquidation penalty. It bypasses min-notional and
// margin checks: liquidation is non-negotiable.
func (s *Simulator) ForcedClose(symbol string, qty, mark, leverage float64, ts time.Time) *Fill {
	penalty := s.cfg.LiqPenaltyBps / 10000
	price := s.roundToTick(mark * (1 - sign(qty)*penalty))
	delta := -qty

	return &Fill{
		Symbol:        symbol,
		DeltaQty:      delta,
		Price:         price,
		Fee:           math.Abs(delta) * price * s.cfg.FeeBps / 10000,
		Leverage:      leverage,
		ClientOrderID: "liq-" + uuid.New().String(),
		Ts:            ts,
	}
}

func (s *Simulator) roundToTick(price float64) float64 {
	if s.cfg.TickSize <= 0 {
		return price
	}
	return math.Round(price/s.cfg.TickSize) * s.cfg.TickSize
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
