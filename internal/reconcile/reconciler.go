package reconcile

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/perp-arena/internal/models"
)

// ErrInconsistent flags a fill log that does not balance: a closing fill
// consumed more quantity than the log had opened. It indicates divergence
// between ledger and fill log and must never be dropped; analytics for the
// affected version are marked degraded instead.
var ErrInconsistent = errors.New("fill log does not reconcile")

const qtyEpsilon = 1e-9

// RoundTrip is one reconstructed entry-to-exit trade. Derived purely from
// the immutable fill log; used for reporting only.
type RoundTrip struct {
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"` // long or short
	Quantity   float64   `json:"quantity"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Fees       float64   `json:"fees"`
	GrossPnL   float64   `json:"gross_pnl"`
	NetPnL     float64   `json:"net_pnl"`
}

// Holding returns the round trip's holding duration.
func (r RoundTrip) Holding() time.Duration {
	return r.ExitTime.Sub(r.EntryTime)
}

// lot is an outstanding opening quantity awaiting a close.
type lot struct {
	qty        float64
	price      float64
	feePerUnit float64
	ts         time.Time
}

// book tracks open lots for one symbol. dir is the sign of the open side.
type book struct {
	dir  float64
	lots []lot
}

// Stream lazily matches fills into round trips using oldest-open-first
// (FIFO) lot consumption. It has no dependency on live ledger state:
// rebuilding a Stream over the same fill snapshot replays the identical
// sequence, so analytics stay reproducible after positions have moved on.
//
// Usage follows the sql.Rows pattern:
//
//	st := reconcile.NewStream(fills)
//	for st.Next() {
//		rt := st.Trip()
//	}
//	if err := st.Err(); err != nil { ... }
type Stream struct {
	fills []models.Fill
	idx   int
	books map[string]*book
	queue []RoundTrip
	cur   RoundTrip
	err   error
}

// NewStream builds a Stream over a snapshot of the fill log. Fills are
// ordered by execution time (insertion order breaking ties) before matching.
func NewStream(fills []models.Fill) *Stream {
	sorted := make([]models.Fill, len(fills))
	copy(sorted, fills)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ExecutedAt.Equal(sorted[j].ExecutedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].ExecutedAt.Before(sorted[j].ExecutedAt)
	})
	return &Stream{fills: sorted, books: make(map[string]*book)}
}

// Next advances to the next round trip, consuming fills as needed.
func (s *Stream) Next() bool {
	if s.err != nil {
		return false
	}
	for len(s.queue) == 0 {
		if s.idx >= len(s.fills) {
			return false
		}
		fill := s.fills[s.idx]
		s.idx++
		if err := s.consume(fill); err != nil {
			s.err = err
			return false
		}
	}
	s.cur = s.queue[0]
	s.queue = s.queue[1:]
	return true
}

// Trip returns the round trip produced by the last successful Next.
func (s *Stream) Trip() RoundTrip { return s.cur }

// Err returns the first inconsistency hit while matching, if any.
func (s *Stream) Err() error { return s.err }

func (s *Stream) consume(fill models.Fill) error {
	if fill.Quantity <= 0 {
		return fmt.Errorf("%w: %s: non-positive fill quantity %.8f", ErrInconsistent, fill.Symbol, fill.Quantity)
	}

	b := s.books[fill.Symbol]
	if b == nil {
		b = &book{}
		s.books[fill.Symbol] = b
	}

	signed := fill.SignedQuantity()
	feePerUnit := fill.Fee / fill.Quantity

	// Same side as the open lots (or flat): this fill opens quantity.
	if b.dir == 0 || b.dir*signed > 0 {
		b.dir = sign(signed)
		b.lots = append(b.lots, lot{
			qty:        fill.Quantity,
			price:      fill.Price,
			feePerUnit: feePerUnit,
			ts:         fill.ExecutedAt,
		})
		return nil
	}

	// Opposite side: consume open lots oldest-first. One closing fill may
	// close several lots; each consumed lot yields its own round trip.
	remaining := fill.Quantity
	direction := "long"
	if b.dir < 0 {
		direction = "short"
	}

	for remaining > qtyEpsilon && len(b.lots) > 0 {
		open := &b.lots[0]
		take := math.Min(open.qty, remaining)

		gross := take * (fill.Price - open.price) * b.dir
		fees := take * (open.feePerUnit + feePerUnit)

		s.queue = append(s.queue, RoundTrip{
			Symbol:     fill.Symbol,
			Direction:  direction,
			Quantity:   take,
			EntryTime:  open.ts,
			ExitTime:   fill.ExecutedAt,
			EntryPrice: open.price,
			ExitPrice:  fill.Price,
			Fees:       fees,
			GrossPnL:   gross,
			NetPnL:     gross - fees,
		})

		open.qty -= take
		remaining -= take
		if open.qty <= qtyEpsilon {
			b.lots = b.lots[1:]
		}
	}

	if remaining > qtyEpsilon {
		return fmt.Errorf("%w: %s: closing fill at %s over-consumes open quantity by %.8f",
			ErrInconsistent, fill.Symbol, fill.ExecutedAt.Format(time.RFC3339), remaining)
	}
	if len(b.lots) == 0 {
		b.dir = 0
	}
	return nil
}

// Reconcile collects every round trip in the fill log.
func Reconcile(fills []models.Fill) ([]RoundTrip, error) {
	st := NewStream(fills)
	var out []RoundTrip
	for st.Next() {
		out = append(out, st.Trip())
	}
	return out, st.Err()
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
