package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/perp-arena/internal/config"
	"github.com/perp-arena/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decisionConfig() config.SimConfig {
	return config.SimConfig{MaxLeverage: 20, TickSize: 0.5}
}

func TestParseValidBatch(t *testing.T) {
	raw := []byte(`{
		"BTC-USD": {"signal": "buy", "leverage": 5, "confidence": 0.8, "justification": "breakout"},
		"ETH-USD": {"signal": "close"},
		"SOL-USD": {"signal": "hold"}
	}`)

	batch, err := Parse(raw, decisionConfig())
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, SignalBuy, batch["BTC-USD"].Signal)
	assert.Equal(t, "BTC-USD", batch["BTC-USD"].Symbol) // filled in from the key
	assert.Equal(t, SignalClose, batch["ETH-USD"].Signal)
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unparsable payload", `{"BTC-USD": `},
		{"unknown signal", `{"BTC-USD": {"signal": "yolo"}}`},
		{"symbol key mismatch", `{"BTC-USD": {"symbol": "ETH-USD", "signal": "hold"}}`},
		{"leverage too high", `{"BTC-USD": {"signal": "buy", "leverage": 50}}`},
		{"leverage below one", `{"BTC-USD": {"signal": "sell", "leverage": 0.5}}`},
		{"confidence out of range", `{"BTC-USD": {"signal": "buy", "leverage": 5, "confidence": 1.5}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw), decisionConfig())
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestValidateExitPlanTicks(t *testing.T) {
	pt := func(v float64) *float64 { return &v }
	cfg := decisionConfig()

	good := Decision{Symbol: "BTC-USD", Signal: SignalBuy, Leverage: 5}
	require.NoError(t, Validate(good, cfg))

	withPlan := good
	withPlan.ExitPlan = &models.ExitPlan{ProfitTarget: pt(30000.5), StopLoss: pt(29500.0)}
	assert.NoError(t, Validate(withPlan, cfg))

	offTick := good
	offTick.ExitPlan = &models.ExitPlan{ProfitTarget: pt(30000.3)}
	assert.ErrorIs(t, Validate(offTick, cfg), ErrValidation)
}

func TestDecideWithTimeoutDegradesToHold(t *testing.T) {
	input := CycleInput{Symbols: []SymbolState{{Symbol: "BTC-USD"}, {Symbol: "ETH-USD"}}}

	slow := sourceFunc(func(ctx context.Context, in CycleInput) (Batch, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	batch, lastErr := DecideWithTimeout(context.Background(), slow, input, 10*time.Millisecond)
	require.Len(t, batch, 2)
	assert.Equal(t, SignalHold, batch["BTC-USD"].Signal)
	assert.Equal(t, SignalHold, batch["ETH-USD"].Signal)
	assert.NotEmpty(t, lastErr)
}

func TestDecideWithTimeoutPassesThrough(t *testing.T) {
	input := CycleInput{Symbols: []SymbolState{{Symbol: "BTC-USD"}}}

	src := sourceFunc(func(ctx context.Context, in CycleInput) (Batch, error) {
		return Batch{"BTC-USD": {Symbol: "BTC-USD", Signal: SignalClose}}, nil
	})

	batch, lastErr := DecideWithTimeout(context.Background(), src, input, time.Second)
	assert.Empty(t, lastErr)
	assert.Equal(t, SignalClose, batch["BTC-USD"].Signal)
}

func TestDecideWithTimeoutDegradesOnError(t *testing.T) {
	input := CycleInput{Symbols: []SymbolState{{Symbol: "BTC-USD"}}}

	src := sourceFunc(func(ctx context.Context, in CycleInput) (Batch, error) {
		return nil, errors.New("upstream unavailable")
	})

	batch, lastErr := DecideWithTimeout(context.Background(), src, input, time.Second)
	assert.Equal(t, SignalHold, batch["BTC-USD"].Signal)
	assert.Equal(t, "upstream unavailable", lastErr)
}

type sourceFunc func(ctx context.Context, input CycleInput) (Batch, error)

func (f sourceFunc) Decide(ctx context.Context, input CycleInput) (Batch, error) {
	return f(ctx, input)
}
