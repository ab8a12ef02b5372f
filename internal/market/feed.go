package market

import (
	"context"
	"time"
)

// PriceUpdate is one observed quote for a product.
type PriceUpdate struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last"`
	Ts     time.Time `json:"ts"`
}

// Mid returns the bid/ask midpoint, falling back to the last trade when one
// side of the book is missing.
func (u PriceUpdate) Mid() float64 {
	if u.Bid > 0 && u.Ask > 0 {
		return (u.Bid + u.Ask) / 2
	}
	return u.Last
}

// SpreadBps returns the bid/ask spread in basis points of the mid.
func (u PriceUpdate) SpreadBps() float64 {
	mid := u.Mid()
	if u.Bid <= 0 || u.Ask <= 0 || mid <= 0 {
		return 0
	}
	return (u.Ask - u.Bid) / mid * 1e4
}

// Subscriber receives every quote a feed produces.
type Subscriber interface {
	OnPriceUpdate(update PriceUpdate)
}

// Feed is a live market-data source for a set of products.
type Feed interface {
	Connect(ctx context.Context) error
	Subscribe(symbols []string) error
	SetSubscriber(subscriber Subscriber)
	IsConnected() bool
	Close() error
}
