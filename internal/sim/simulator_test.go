package sim

import (
	"testing"
	"time"

	"github.com/perp-arena/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var simTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() config.SimConfig {
	return config.SimConfig{
		InitialMargin:     0.05,
		MaintenanceMargin: 0.03,
		MaxLeverage:       20,
		SlippageBps:       1,
		FeeBps:            2,
		LiqPenaltyBps:     5,
		MinNotional:       5,
		InitialCash:       10000,
	}
}

func TestSimulateBuySlippageWorsensPrice(t *testing.T) {
	s := NewSimulator(testConfig())

	fill, err := s.Simulate(Request{
		Symbol: "BTC-USD", TargetQty: 1, CurrentQty: 0,
		MarkPrice: 100, Leverage: 5, AvailableMargin: 1000, Ts: simTime,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, fill.DeltaQty)
	assert.InDelta(t, 100.01, fill.Price, 1e-9)
	assert.InDelta(t, 1*100.01*0.0002, fill.Fee, 1e-9)
	assert.NotEmpty(t, fill.ClientOrderID)
}

func TestSimulateSellSlippageWorsensPrice(t *testing.T) {
	s := NewSimulator(testConfig())

	fill, err := s.Simulate(Request{
		Symbol: "BTC-USD", TargetQty: -1, CurrentQty: 0,
		MarkPrice: 100, Leverage: 5, AvailableMargin: 1000, Ts: simTime,
	})
	require.NoError(t, err)
	assert.Equal(t, -1.0, fill.DeltaQty)
	assert.InDelta(t, 99.99, fill.Price, 1e-9)
}

func TestSimulateRejections(t *testing.T) {
	s := NewSimulator(testConfig())

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{
			name: "below min notional",
			req:  Request{TargetQty: 0.01, MarkPrice: 100, Leverage: 5, AvailableMargin: 1000},
			want: ErrBelowMinNotional,
		},
		{
			name: "no change is below min notional",
			req:  Request{TargetQty: 2, CurrentQty: 2, MarkPrice: 100, Leverage: 5, AvailableMargin: 1000},
			want: ErrBelowMinNotional,
		},
		{
			name: "leverage below one",
			req:  Request{TargetQty: 1, MarkPrice: 100, Leverage: 0.5, AvailableMargin: 1000},
			want: ErrInvalidLeverage,
		},
		{
			name: "leverage above max",
			req:  Request{TargetQty: 1, MarkPrice: 100, Leverage: 25, AvailableMargin: 1000},
			want: ErrInvalidLeverage,
		},
		{
			name: "insufficient margin",
			req:  Request{TargetQty: 10, MarkPrice: 100, Leverage: 5, AvailableMargin: 100},
			want: ErrInsufficientMargin,
		},
		{
			name: "no mark price",
			req:  Request{TargetQty: 1, MarkPrice: 0, Leverage: 5, AvailableMargin: 1000},
			want: ErrNoMarkPrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Simulate(tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSimulateReductionSkipsMarginCheck(t *testing.T) {
	s := NewSimulator(testConfig())

	// halving exposure must succeed with no free margin at all
	fill, err := s.Simulate(Request{
		Symbol: "BTC-USD", TargetQty: 5, CurrentQty: 10,
		MarkPrice: 100, Leverage: 5, AvailableMargin: 0, Ts: simTime,
	})
	require.NoError(t, err)
	assert.Equal(t, -5.0, fill.DeltaQty)
}

func TestSimulateRoundsToTick(t *testing.T) {
	cfg := testConfig()
	cfg.TickSize = 0.5
	s := NewSimulator(cfg)

	fill, err := s.Simulate(Request{
		Symbol: "BTC-USD", TargetQty: 1, CurrentQty: 0,
		MarkPrice: 30001.2, Leverage: 5, AvailableMargin: 100000, Ts: simTime,
	})
	require.NoError(t, err)
	assert.InDelta(t, 30004.0, fill.Price, 1e-9) // 30001.2 * 1.0001 = 30004.20012, nearest tick
}

func TestForcedClosePenaltyDirection(t *testing.T) {
	s := NewSimulator(testConfig())

	long := s.ForcedClose("BTC-USD", 2, 100, 10, simTime)
	assert.Equal(t, -2.0, long.DeltaQty)
	assert.InDelta(t, 99.95, long.Price, 1e-9) // penalty pushes a long's exit down

	short := s.ForcedClose("BTC-USD", -2, 100, 10, simTime)
	assert.Equal(t, 2.0, short.DeltaQty)
	assert.InDelta(t, 100.05, short.Price, 1e-9)
}
