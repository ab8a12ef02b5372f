package ledger

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestApplyFillOpensPosition(t *testing.T) {
	l := New(10000)

	events, err := l.ApplyFill("BTC-USD", 0.5, 100, 2, 5, t0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventOpen, events[0].Kind)

	pos, ok := l.Position("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, 0.5, pos.Quantity)
	assert.Equal(t, 100.0, pos.AvgEntry)
	assert.Equal(t, 5.0, pos.Leverage)
	assert.Equal(t, t0, pos.EntryTime)
	assert.Equal(t, 9998.0, l.Cash()) // fee debited
}

func TestApplyFillWeightedAverageOnIncrease(t *testing.T) {
	l := New(10000)

	_, err := l.ApplyFill("BTC-USD", 1, 100, 0, 5, t0)
	require.NoError(t, err)
	events, err := l.ApplyFill("BTC-USD", 1, 110, 0, 5, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, EventIncrease, events[0].Kind)

	pos, _ := l.Position("BTC-USD")
	assert.Equal(t, 2.0, pos.Quantity)
	assert.InDelta(t, 105.0, pos.AvgEntry, 1e-9)
	// entry time is set on the flat-to-open transition only
	assert.Equal(t, t0, pos.EntryTime)
}

func TestApplyFillPartialClose(t *testing.T) {
	l := New(10000)

	_, err := l.ApplyFill("ETH-USD", 3, 100, 0, 5, t0)
	require.NoError(t, err)
	events, err := l.ApplyFill("ETH-USD", -1, 110, 0, 5, t0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventPartialClose, events[0].Kind)
	assert.InDelta(t, 10.0, events[0].RealizedPnL, 1e-9)

	pos, _ := l.Position("ETH-USD")
	assert.Equal(t, 2.0, pos.Quantity)
	assert.Equal(t, 100.0, pos.AvgEntry) // unchanged on partial close
	assert.InDelta(t, 10010.0, l.Cash(), 1e-9)
}

func TestApplyFillShortRealization(t *testing.T) {
	l := New(10000)

	_, err := l.ApplyFill("ETH-USD", -2, 100, 0, 5, t0)
	require.NoError(t, err)
	events, err := l.ApplyFill("ETH-USD", 2, 90, 0, 5, t0)
	require.NoError(t, err)
	assert.Equal(t, EventFullClose, events[0].Kind)
	assert.InDelta(t, 20.0, events[0].RealizedPnL, 1e-9) // short profits when price falls

	_, ok := l.Position("ETH-USD")
	assert.False(t, ok)
}

func TestRoundTripAtSamePriceRestoresCash(t *testing.T) {
	l := New(10000)

	_, err := l.ApplyFill("BTC-USD", 1.25, 100, 0, 3, t0)
	require.NoError(t, err)
	_, err = l.ApplyFill("BTC-USD", -1.25, 100, 0, 3, t0.Add(time.Hour))
	require.NoError(t, err)

	assert.InDelta(t, 10000.0, l.Cash(), 1e-9)
	assert.NoError(t, l.CheckInvariants())
}

func TestFlipProducesTwoEvents(t *testing.T) {
	l := New(10000)

	_, err := l.ApplyFill("BTC-USD", 1, 100, 0, 5, t0)
	require.NoError(t, err)

	// long 1 -> short 1 in one fill
	events, err := l.ApplyFill("BTC-USD", -2, 110, 4, 5, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, EventFullClose, events[0].Kind)
	assert.InDelta(t, 10.0, events[0].RealizedPnL, 1e-9)
	assert.Equal(t, EventOpen, events[1].Kind)
	assert.Equal(t, -1.0, events[1].SignedDelta)
	assert.Equal(t, 110.0, events[1].Price)

	// fee split pro-rata across the two legs
	assert.InDelta(t, 2.0, events[0].Fee, 1e-9)
	assert.InDelta(t, 2.0, events[1].Fee, 1e-9)

	pos, ok := l.Position("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, -1.0, pos.Quantity)
	assert.Equal(t, 110.0, pos.AvgEntry)
	assert.Equal(t, t0.Add(time.Minute), pos.EntryTime)
}

func TestApplyFillRejectsBadInput(t *testing.T) {
	l := New(10000)

	_, err := l.ApplyFill("BTC-USD", 0, 100, 0, 1, t0)
	assert.ErrorIs(t, err, ErrZeroQuantity)

	_, err = l.ApplyFill("BTC-USD", 1, 0, 0, 1, t0)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	l.SetMaxNotional(500)
	_, err = l.ApplyFill("BTC-USD", 10, 100, 0, 1, t0)
	assert.ErrorIs(t, err, ErrNotionalExceeded)
}

func TestFundingFlowsThroughCash(t *testing.T) {
	l := New(10000)

	l.ApplyFunding(-3.5)
	l.ApplyFunding(1.0)

	assert.InDelta(t, 9997.5, l.Cash(), 1e-9)
	assert.InDelta(t, -2.5, l.Funding(), 1e-9)
	assert.NoError(t, l.CheckInvariants())
}

// Equity must equal cash plus unrealized P/L after every step of any fill
// sequence, and cash must always reconstruct from the flow totals.
func TestInvariantHoldsUnderRandomFills(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	l := New(10000)
	ts := t0

	for i := 0; i < 500; i++ {
		delta := (rng.Float64() - 0.5) * 4
		if delta == 0 {
			continue
		}
		price := 50 + rng.Float64()*100
		fee := math.Abs(delta) * price * 0.0002

		_, err := l.ApplyFill("BTC-USD", delta, price, fee, 5, ts)
		require.NoError(t, err)
		require.NoError(t, l.CheckInvariants(), "step %d", i)

		marks := map[string]float64{"BTC-USD": price}
		assert.InDelta(t, l.Cash()+l.UnrealizedPnL(marks), l.Equity(marks), 1e-9)

		if rng.Intn(10) == 0 {
			l.ApplyFunding((rng.Float64() - 0.5) * 2)
			require.NoError(t, l.CheckInvariants())
		}
		ts = ts.Add(time.Minute)
	}
}

func TestOpenPositionsSortedAndCopied(t *testing.T) {
	l := New(10000)

	_, err := l.ApplyFill("ETH-USD", 1, 100, 0, 2, t0)
	require.NoError(t, err)
	_, err = l.ApplyFill("BTC-USD", -1, 200, 0, 2, t0)
	require.NoError(t, err)

	open := l.OpenPositions()
	require.Len(t, open, 2)
	assert.Equal(t, "BTC-USD", open[0].Symbol)
	assert.Equal(t, "ETH-USD", open[1].Symbol)

	// mutating the copy must not touch ledger state
	open[0].Quantity = 99
	pos, _ := l.Position("BTC-USD")
	assert.Equal(t, -1.0, pos.Quantity)
}
