package decision

import (
	"context"
	"time"
)

// SymbolState is the per-symbol input handed to the decision source each
// cycle, including the last error text from the previous cycle.
type SymbolState struct {
	Symbol    string  `json:"symbol"`
	Mark      float64 `json:"mark"`
	SpreadBps float64 `json:"spread_bps"`
	Quantity  float64 `json:"quantity"`
	AvgEntry  float64 `json:"avg_entry"`
	LastError string  `json:"last_error,omitempty"`
}

// CycleInput is the observation delivered to the decision source once per
// cycle.
type CycleInput struct {
	Ts      time.Time     `json:"ts"`
	Equity  float64       `json:"equity"`
	Cash    float64       `json:"cash"`
	Symbols []SymbolState `json:"symbols"`
}

// Source is the external decision maker. Implementations must honor the
// context deadline; the engine treats a timeout or error as hold-everything.
type Source interface {
	Decide(ctx context.Context, input CycleInput) (Batch, error)
}

// HoldSource is a Source that always holds. It stands in when no external
// decision maker is wired, letting the cycle engine, margin evaluator and
// funding settlement run against live prices unattended.
type HoldSource struct{}

func (HoldSource) Decide(ctx context.Context, input CycleInput) (Batch, error) {
	batch := make(Batch, len(input.Symbols))
	for _, s := range input.Symbols {
		batch[s.Symbol] = Hold(s.Symbol)
	}
	return batch, nil
}

// DecideWithTimeout wraps a Source call with a deadline and degrades to a
// hold-everything batch on timeout or error, returning the error text for
// re-delivery on the next cycle.
func DecideWithTimeout(ctx context.Context, src Source, input CycleInput, timeout time.Duration) (Batch, string) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	batch, err := src.Decide(ctx, input)
	if err != nil {
		return HoldSource{}.decideAll(input), err.Error()
	}
	return batch, ""
}

func (h HoldSource) decideAll(input CycleInput) Batch {
	batch, _ := h.Decide(context.Background(), input)
	return batch
}
