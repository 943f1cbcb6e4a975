package quote

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Quote is the latest best bid/ask pair for the traded symbol.
type Quote struct {
	Bid  float64
	Ask  float64
	Time time.Time
}

// Cache holds the most recent quote. The feed adapter is the only
// writer; everyone else reads. Only the latest value is retained.
type Cache struct {
	log *zap.Logger

	mu      sync.RWMutex
	quote   Quote
	set     bool
	updated chan struct{}
}

func NewCache(log *zap.Logger) *Cache {
	return &Cache{
		log:     log,
		updated: make(chan struct{}),
	}
}

// Update overwrites the cached quote and wakes waiters blocked in Await.
// A quote with a missing or non-positive side is discarded whole, so a
// half-updated pair is never observable.
func (c *Cache) Update(bid, ask float64) {
	if bid <= 0 || ask <= 0 {
		if c.log != nil {
			c.log.Warn("incomplete quote discarded", zap.Float64("bid", bid), zap.Float64("ask", ask))
		}
		return
	}
	c.mu.Lock()
	c.quote = Quote{Bid: bid, Ask: ask, Time: time.Now().UTC()}
	c.set = true
	close(c.updated)
	c.updated = make(chan struct{})
	c.mu.Unlock()
}

// Read returns the latest cached quote, or false before the first update.
func (c *Cache) Read() (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quote, c.set
}

// Await blocks until a quote newer than the time of the call arrives.
// Waiters already satisfied by a previous update are not re-woken; each
// call observes exactly one fresh update.
func (c *Cache) Await(ctx context.Context) (Quote, error) {
	c.mu.RLock()
	updated := c.updated
	c.mu.RUnlock()
	select {
	case <-ctx.Done():
		return Quote{}, ctx.Err()
	case <-updated:
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quote, nil
}
