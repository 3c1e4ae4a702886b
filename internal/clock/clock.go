// Package clock estimates the offset between the local clock and the
// server clock so edit timestamps recorded on different devices are
// comparable.  The exchange runs once at session start and again after
// every reconnect, since a sleep/wake cycle can move the local clock under
// a long-lived process.
package clock

import (
	"context"
	"log"
	"sync"
	"time"
)

// QueryFunc asks the authoritative source for its current time in epoch
// milliseconds.
type QueryFunc func(ctx context.Context) (int64, error)

// Clock produces clock-adjusted timestamps.  The zero offset is used until
// the first successful sync; a failed sync resets the offset to zero
// (assume clocks aligned) rather than blocking the session — the
// reconciler's grace window absorbs modest skew either way.
type Clock struct {
	mu     sync.Mutex
	offset int64 // serverTime - localTime, millis

	query QueryFunc
	now   func() time.Time // swappable in tests
}

// New returns a Clock that syncs against query.
func New(query QueryFunc) *Clock {
	return &Clock{query: query, now: time.Now}
}

// NewWithNow returns a Clock with an injected local time source.
func NewWithNow(query QueryFunc, now func() time.Time) *Clock {
	return &Clock{query: query, now: now}
}

// Sync performs one offset exchange and returns the resulting offset in
// milliseconds.  The server time is compared against the local clock at
// receipt; half-RTT correction is deliberately omitted, the grace window
// dominates any sub-second error.
func (c *Clock) Sync(ctx context.Context) int64 {
	serverMillis, err := c.query(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		log.Printf("clock: sync failed, assuming aligned clocks: %v", err)
		c.offset = 0
		return 0
	}
	c.offset = serverMillis - c.now().UnixMilli()
	return c.offset
}

// Now returns the current time as clock-adjusted epoch milliseconds.
// Every EditedAt and QueuedAt recorded by the engine comes from here.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().UnixMilli() + c.offset
}

// Offset returns the last computed offset in milliseconds.
func (c *Clock) Offset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}
