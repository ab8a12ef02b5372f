package sim

import (
	"testing"

	"github.com/perp-arena/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// applyToLedger wires the evaluator's forced closes straight into a ledger,
// the way the cycle worker does.
func applyToLedger(t *testing.T, led *ledger.Ledger) CloseExecutor {
	return func(f *Fill, reason string) error {
		t.Helper()
		_, err := led.ApplyFill(f.Symbol, f.DeltaQty, f.Price, f.Fee, f.Leverage, f.Ts)
		return err
	}
}

func TestMarginRatio(t *testing.T) {
	pos := ledger.Position{Symbol: "BTC-USD", Quantity: 1, AvgEntry: 100, Leverage: 10}

	// at entry the ratio is exactly 1/leverage
	assert.InDelta(t, 0.1, MarginRatio(pos, 100), 1e-12)
	// a 5% adverse move eats into the ratio
	assert.InDelta(t, (9.5-5.0)/95.0, MarginRatio(pos, 95), 1e-12)
}

func TestEvaluateLiquidatesExactlyAtMaintenanceMargin(t *testing.T) {
	cfg := testConfig()
	cfg.MaintenanceMargin = 0.05
	cfg.MaxLeverage = 25
	ev := NewMarginEvaluator(cfg, NewSimulator(cfg))

	now := simTime

	// leverage 20 at an unchanged mark puts the ratio at exactly mm
	led := ledger.New(10000)
	_, err := led.ApplyFill("BTC-USD", 1, 100, 0, 20, now)
	require.NoError(t, err)

	liqs, err := ev.Evaluate(led, map[string]float64{"BTC-USD": 100}, now, applyToLedger(t, led))
	require.NoError(t, err)
	require.Len(t, liqs, 1)
	assert.Equal(t, "BTC-USD", liqs[0].Symbol)
	assert.InDelta(t, 0.05, liqs[0].MarginRatio, 1e-12)

	_, open := led.Position("BTC-USD")
	assert.False(t, open)
}

func TestEvaluateSparesPositionJustAboveMaintenanceMargin(t *testing.T) {
	cfg := testConfig()
	cfg.MaintenanceMargin = 0.05
	cfg.MaxLeverage = 25
	ev := NewMarginEvaluator(cfg, NewSimulator(cfg))

	led := ledger.New(10000)
	_, err := led.ApplyFill("BTC-USD", 1, 100, 0, 20, simTime)
	require.NoError(t, err)

	// a favorable tick lifts the ratio a hair above mm
	liqs, err := ev.Evaluate(led, map[string]float64{"BTC-USD": 100.1}, simTime, applyToLedger(t, led))
	require.NoError(t, err)
	assert.Empty(t, liqs)

	_, open := led.Position("BTC-USD")
	assert.True(t, open)
}

func TestEvaluateSkipsSymbolsWithoutMark(t *testing.T) {
	cfg := testConfig()
	ev := NewMarginEvaluator(cfg, NewSimulator(cfg))

	led := ledger.New(10000)
	_, err := led.ApplyFill("BTC-USD", 1, 100, 0, 20, simTime)
	require.NoError(t, err)

	liqs, err := ev.Evaluate(led, map[string]float64{}, simTime, applyToLedger(t, led))
	require.NoError(t, err)
	assert.Empty(t, liqs)
}

func TestEvaluateLiquidatesSequentially(t *testing.T) {
	cfg := testConfig()
	cfg.MaintenanceMargin = 0.05
	cfg.MaxLeverage = 25
	ev := NewMarginEvaluator(cfg, NewSimulator(cfg))

	led := ledger.New(10000)
	_, err := led.ApplyFill("BTC-USD", 1, 100, 0, 20, simTime)
	require.NoError(t, err)
	_, err = led.ApplyFill("ETH-USD", 2, 50, 0, 20, simTime)
	require.NoError(t, err)

	var order []string
	execute := func(f *Fill, reason string) error {
		order = append(order, f.Symbol)
		_, err := led.ApplyFill(f.Symbol, f.DeltaQty, f.Price, f.Fee, f.Leverage, f.Ts)
		return err
	}

	marks := map[string]float64{"BTC-USD": 100, "ETH-USD": 50}
	liqs, err := ev.Evaluate(led, marks, simTime, execute)
	require.NoError(t, err)
	require.Len(t, liqs, 2)

	// one position at a time, in symbol order, re-scanning between closes
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, order)
	assert.Empty(t, led.OpenPositions())
}
