package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	ErrZeroQuantity     = errors.New("fill quantity must be non-zero")
	ErrInvalidPrice     = errors.New("fill price must be positive")
	ErrNotionalExceeded = errors.New("resulting notional exceeds configured limit")
	ErrInvariantBroken  = errors.New("ledger invariant violated")
)

// EventKind classifies one accounting event produced by a fill.
type EventKind string

const (
	EventOpen         EventKind = "open"
	EventIncrease     EventKind = "increase"
	EventPartialClose EventKind = "partial_close"
	EventFullClose    EventKind = "full_close"
)

// Event is one accounting event in the realization trail. A fill that flips
// a position through zero produces two events, a full close followed by an
// open at the same price.
type Event struct {
	Kind        EventKind
	Symbol      string
	Quantity    float64 // unsigned quantity of this event
	SignedDelta float64 // signed quantity delta applied by this event
	Price       float64
	Fee         float64
	RealizedPnL float64
	Ts          time.Time
}

// Position is the in-memory position state for one symbol. Quantity is
// signed. AvgEntry, Leverage and EntryTime are meaningful only while
// Quantity is non-zero.
type Position struct {
	Symbol      string
	Quantity    float64
	AvgEntry    float64
	Leverage    float64
	EntryTime   time.Time
	RealizedPnL float64 // cumulative over the ledger's lifetime, for reporting
}

// UnrealizedPnL returns the position's unrealized P/L at the mark price.
func (p *Position) UnrealizedPnL(mark float64) float64 {
	return p.Quantity * (mark - p.AvgEntry)
}

// Notional returns the dollar exposure at the mark price.
func (p *Position) Notional(mark float64) float64 {
	return math.Abs(p.Quantity) * mark
}

// AllocatedMargin returns the margin backing the position, notional at entry
// divided by the leverage chosen at entry.
func (p *Position) AllocatedMargin(mark float64) float64 {
	if p.Leverage <= 0 {
		return 0
	}
	return p.Notional(mark) / p.Leverage
}

// Ledger owns the cash balance and positions for a single version. It is a
// pure state container: no I/O, no business policy beyond arithmetic
// consistency and an optional notional cap. Callers apply fills serially.
type Ledger struct {
	initialCash float64
	cash        float64
	positions   map[string]*Position

	realized float64
	fees     float64
	funding  float64

	maxNotional float64 // 0 means unlimited
}

// New creates a ledger seeded with the version's starting capital.
func New(initialCash float64) *Ledger {
	return &Ledger{
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*Position),
	}
}

// SetMaxNotional caps the per-position notional a fill may produce.
func (l *Ledger) SetMaxNotional(limit float64) {
	l.maxNotional = limit
}

// ApplyFill applies one fill to the ledger and returns the accounting events
// it produced. deltaQty is signed (positive buys, negative sells). The fee is
// debited from cash regardless of direction; realized P/L on closed quantity
// is credited to cash. A flip through zero is split deterministically into a
// full close followed by an open at the same fill price.
func (l *Ledger) ApplyFill(symbol string, deltaQty, price, fee, leverage float64, ts time.Time) ([]Event, error) {
	if deltaQty == 0 {
		return nil, ErrZeroQuantity
	}
	if price <= 0 {
		return nil, ErrInvalidPrice
	}

	pos := l.positions[symbol]
	if pos == nil {
		pos = &Position{Symbol: symbol}
		l.positions[symbol] = pos
	}

	if l.maxNotional > 0 {
		resulting := math.Abs(pos.Quantity+deltaQty) * price
		if resulting > l.maxNotional {
			return nil, fmt.Errorf("%w: %.2f > %.2f", ErrNotionalExceeded, resulting, l.maxNotional)
		}
	}

	oldQty := pos.Quantity

	// Flip through zero: close the whole existing side first, then open the
	// remainder on the opposite side. Applying it as one step would corrupt
	// avg_entry.
	if oldQty != 0 && oldQty*deltaQty < 0 && math.Abs(deltaQty) > math.Abs(oldQty) {
		closeQty := -oldQty
		openQty := deltaQty - closeQty
		closeFee := fee * math.Abs(closeQty) / math.Abs(deltaQty)

		events, err := l.ApplyFill(symbol, closeQty, price, closeFee, leverage, ts)
		if err != nil {
			return nil, err
		}
		openEvents, err := l.ApplyFill(symbol, openQty, price, fee-closeFee, leverage, ts)
		if err != nil {
			return events, err
		}
		return append(events, openEvents...), nil
	}

	ev := Event{
		Symbol:      symbol,
		Quantity:    math.Abs(deltaQty),
		SignedDelta: deltaQty,
		Price:       price,
		Fee:         fee,
		Ts:          ts,
	}

	switch {
	case oldQty == 0:
		pos.Quantity = deltaQty
		pos.AvgEntry = price
		pos.Leverage = leverage
		pos.EntryTime = ts
		ev.Kind = EventOpen

	case oldQty*deltaQty > 0:
		// Increasing: avg entry becomes the quantity-weighted average.
		newQty := oldQty + deltaQty
		pos.AvgEntry = (oldQty*pos.AvgEntry + deltaQty*price) / newQty
		pos.Quantity = newQty
		ev.Kind = EventIncrease

	default:
		// Reducing; flip was handled above, so |delta| <= |oldQty|.
		closedQty := math.Abs(deltaQty)
		pnl := closedQty * (price - pos.AvgEntry) * sign(oldQty)
		pos.RealizedPnL += pnl
		pos.Quantity = oldQty + deltaQty
		l.realized += pnl
		l.cash += pnl
		ev.RealizedPnL = pnl

		if pos.Quantity == 0 {
			pos.AvgEntry = 0
			pos.Leverage = 0
			pos.EntryTime = time.Time{}
			ev.Kind = EventFullClose
		} else {
			ev.Kind = EventPartialClose
		}
	}

	l.cash -= fee
	l.fees += fee

	return []Event{ev}, nil
}

// ApplyFunding credits a signed funding amount to cash and the cumulative
// funding total. Positive amounts are received, negative paid.
func (l *Ledger) ApplyFunding(amount float64) {
	l.cash += amount
	l.funding += amount
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() float64 { return l.cash }

// RealizedPnL returns the cumulative realized P/L.
func (l *Ledger) RealizedPnL() float64 { return l.realized }

// Fees returns the cumulative fees paid.
func (l *Ledger) Fees() float64 { return l.fees }

// Funding returns the cumulative signed funding received.
func (l *Ledger) Funding() float64 { return l.funding }

// Position returns a copy of the position for symbol and whether it is open.
func (l *Ledger) Position(symbol string) (Position, bool) {
	pos, ok := l.positions[symbol]
	if !ok || pos.Quantity == 0 {
		return Position{Symbol: symbol}, false
	}
	return *pos, true
}

// OpenPositions returns copies of all non-flat positions sorted by symbol,
// so per-cycle scans are deterministic.
func (l *Ledger) OpenPositions() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		if pos.Quantity != 0 {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// UnrealizedPnL sums unrealized P/L over all open positions at the given
// marks. Positions without a mark contribute zero.
func (l *Ledger) UnrealizedPnL(marks map[string]float64) float64 {
	total := 0.0
	for sym, pos := range l.positions {
		if pos.Quantity == 0 {
			continue
		}
		if mark, ok := marks[sym]; ok {
			total += pos.UnrealizedPnL(mark)
		}
	}
	return total
}

// Equity returns cash plus unrealized P/L at the given marks.
func (l *Ledger) Equity(marks map[string]float64) float64 {
	return l.cash + l.UnrealizedPnL(marks)
}

// UsedMargin sums the allocated margin of all open positions.
func (l *Ledger) UsedMargin(marks map[string]float64) float64 {
	total := 0.0
	for sym, pos := range l.positions {
		if pos.Quantity == 0 {
			continue
		}
		mark, ok := marks[sym]
		if !ok {
			mark = pos.AvgEntry
		}
		total += pos.AllocatedMargin(mark)
	}
	return total
}

// AvailableMargin returns equity minus used margin, floored at zero.
func (l *Ledger) AvailableMargin(marks map[string]float64) float64 {
	return math.Max(0, l.Equity(marks)-l.UsedMargin(marks))
}

// CheckInvariants verifies that every dollar of cash is explained by the
// flow totals: cash = initial + realized - fees + funding. Equity is cash
// plus unrealized by construction. Returns ErrInvariantBroken on divergence;
// callers must fail loudly, never swallow it.
func (l *Ledger) CheckInvariants() error {
	expected := l.initialCash + l.realized - l.fees + l.funding
	if math.Abs(expected-l.cash) > 1e-6 {
		return fmt.Errorf("%w: cash=%.8f, flows reconstruct %.8f", ErrInvariantBroken, l.cash, expected)
	}
	return nil
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
