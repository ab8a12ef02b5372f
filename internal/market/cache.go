package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyTTL     = 5 * time.Minute
	publishChannel  = "mark_updates"
	staleAfterCycle = 10 * time.Minute
)

// PriceCache holds the latest quote per product, in memory for the engine's
// hot path and mirrored to Redis for external consumers. It implements
// Subscriber so it can be plugged straight into a Feed.
type PriceCache struct {
	redis  *redis.Client
	quotes map[string]PriceUpdate
	mux    sync.RWMutex

	ctx context.Context
}

// NewPriceCache creates a new PriceCache. The Redis client may be nil, in
// which case only the in-memory cache is maintained.
func NewPriceCache(ctx context.Context, redisClient *redis.Client) *PriceCache {
	return &PriceCache{
		redis:  redisClient,
		quotes: make(map[string]PriceUpdate),
		ctx:    ctx,
	}
}

// OnPriceUpdate implements Subscriber
func (c *PriceCache) OnPriceUpdate(update PriceUpdate) {
	c.mux.Lock()
	c.quotes[update.Symbol] = update
	c.mux.Unlock()

	if c.redis == nil {
		return
	}

	key := fmt.Sprintf("mark:%s", update.Symbol)
	c.redis.HSet(c.ctx, key, map[string]interface{}{
		"bid":  update.Bid,
		"ask":  update.Ask,
		"last": update.Last,
		"mid":  update.Mid(),
		"ts":   update.Ts.UnixMilli(),
	})
	c.redis.Expire(c.ctx, key, redisKeyTTL)
	c.redis.Publish(c.ctx, publishChannel, fmt.Sprintf("%s:%.8f", update.Symbol, update.Mid()))
}

// Mark returns the current mark price (bid/ask mid) for a product. The
// second return is false when no fresh quote is available; callers must
// treat that symbol as untradeable for the cycle.
func (c *PriceCache) Mark(symbol string) (float64, bool) {
	update, ok := c.Quote(symbol)
	if !ok {
		return 0, false
	}
	mark := update.Mid()
	if mark <= 0 {
		return 0, false
	}
	return mark, true
}

// Quote returns the latest full quote for a product, if fresh.
func (c *PriceCache) Quote(symbol string) (PriceUpdate, bool) {
	c.mux.RLock()
	update, ok := c.quotes[symbol]
	c.mux.RUnlock()

	if !ok || time.Since(update.Ts) > staleAfterCycle {
		return PriceUpdate{}, false
	}
	return update, true
}

// Snapshot returns the marks for the requested products. Symbols without a
// fresh quote are simply absent from the result.
func (c *PriceCache) Snapshot(symbols []string) map[string]float64 {
	marks := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		if mark, ok := c.Mark(symbol); ok {
			marks[symbol] = mark
		}
	}
	return marks
}
