package sim

import (
	"testing"
	"time"

	"github.com/perp-arena/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRates map[string]float64

func (s stubRates) Funding8hRate(symbol string) (float64, bool) {
	rate, ok := s[symbol]
	return rate, ok
}

func fundedLedger(t *testing.T, qty float64) *ledger.Ledger {
	t.Helper()
	led := ledger.New(10000)
	_, err := led.ApplyFill("BTC-USD", qty, 100, 0, 5, simTime)
	require.NoError(t, err)
	return led
}

func TestFundingModeNonePaysNothing(t *testing.T) {
	f := NewFundingEngine(FundingNone, nil)
	led := fundedLedger(t, 1)
	marks := map[string]float64{"BTC-USD": 100}

	f.Settle(led, marks, simTime)
	payments := f.Settle(led, marks, simTime.Add(8*time.Hour))

	assert.Empty(t, payments)
	assert.Equal(t, 10000.0, led.Cash())
}

func TestFundingHeuristicLongPaysAboveEMA(t *testing.T) {
	f := NewFundingEngine(FundingHeuristic, nil)
	f.ObserveMark("BTC-USD", 90) // seed EMA below the mark

	led := fundedLedger(t, 1)
	marks := map[string]float64{"BTC-USD": 100}

	f.Settle(led, marks, simTime) // first call only starts the clock
	payments := f.Settle(led, marks, simTime.Add(8*time.Hour))

	require.Len(t, payments, 1)
	assert.InDelta(t, 0.0001, payments[0].Rate8h, 1e-12)
	// full 8h at +1bp on $100 notional: the long pays one cent
	assert.InDelta(t, 0.01, payments[0].Payment, 1e-9)
	assert.InDelta(t, 9999.99, led.Cash(), 1e-9)
	assert.InDelta(t, -0.01, led.Funding(), 1e-9)
}

func TestFundingHeuristicShortReceivesAboveEMA(t *testing.T) {
	f := NewFundingEngine(FundingHeuristic, nil)
	f.ObserveMark("BTC-USD", 90)

	led := fundedLedger(t, -1)
	marks := map[string]float64{"BTC-USD": 100}

	f.Settle(led, marks, simTime)
	payments := f.Settle(led, marks, simTime.Add(8*time.Hour))

	require.Len(t, payments, 1)
	assert.InDelta(t, -0.01, payments[0].Payment, 1e-9)
	assert.InDelta(t, 10000.01, led.Cash(), 1e-9)
	assert.InDelta(t, 0.01, led.Funding(), 1e-9)
}

func TestFundingChargesFromPositionOpen(t *testing.T) {
	f := NewFundingEngine(FundingHeuristic, nil)
	f.ObserveMark("BTC-USD", 90)

	led := fundedLedger(t, 1)
	f.Begin("BTC-USD", simTime)

	// no settlement tick ran at open time; the first one still charges
	// the interval back to the opening fill
	payments := f.Settle(led, map[string]float64{"BTC-USD": 100}, simTime.Add(8*time.Hour))

	require.Len(t, payments, 1)
	assert.InDelta(t, 0.01, payments[0].Payment, 1e-9)
	assert.InDelta(t, 9999.99, led.Cash(), 1e-9)
}

func TestFundingProRatesByElapsedTime(t *testing.T) {
	f := NewFundingEngine(FundingHeuristic, nil)
	f.ObserveMark("BTC-USD", 90)

	led := fundedLedger(t, 1)
	marks := map[string]float64{"BTC-USD": 100}

	f.Settle(led, marks, simTime)
	payments := f.Settle(led, marks, simTime.Add(2*time.Hour))

	require.Len(t, payments, 1)
	assert.InDelta(t, 0.01*2.0/8.0, payments[0].Payment, 1e-9)
}

func TestFundingExternalFeed(t *testing.T) {
	f := NewFundingEngine(FundingExternal, stubRates{"BTC-USD": 0.0004})

	led := fundedLedger(t, 1)
	marks := map[string]float64{"BTC-USD": 100}

	f.Settle(led, marks, simTime)
	payments := f.Settle(led, marks, simTime.Add(8*time.Hour))

	require.Len(t, payments, 1)
	assert.InDelta(t, 0.0004, payments[0].Rate8h, 1e-12)
	assert.InDelta(t, 0.04, payments[0].Payment, 1e-9)
}

func TestFundingEMAConverges(t *testing.T) {
	f := NewFundingEngine(FundingHeuristic, nil)

	f.ObserveMark("BTC-USD", 100)
	for i := 0; i < 200; i++ {
		f.ObserveMark("BTC-USD", 110)
	}

	// mark has been above the EMA long enough that the EMA sits just below it
	assert.InDelta(t, 0.0001, f.Rate8h("BTC-USD", 110), 1e-12)
}
