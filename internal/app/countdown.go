package app

import (
	"context"
	"time"
)

// Countdown drives the per-second timer of an active session. Remaining
// time is always derived from the wall clock, and the expire callback fires
// exactly once even when ticks keep arriving after the deadline.
type Countdown struct {
	deadline time.Time
	now      func() time.Time
	onTick   func(remaining time.Duration)
	onExpire func()
	fired    bool
}

func NewCountdown(start time.Time, limit time.Duration, now func() time.Time, onTick func(time.Duration), onExpire func()) *Countdown {
	return &Countdown{
		deadline: start.Add(limit),
		now:      now,
		onTick:   onTick,
		onExpire: onExpire,
	}
}

// Remaining returns the time left, clamped at zero.
func (c *Countdown) Remaining() time.Duration {
	left := c.deadline.Sub(c.now())
	if left < 0 {
		return 0
	}
	return left
}

// Tick reports the remaining time to the tick callback and, on the first
// tick at or past the deadline, fires the expire callback. It returns true
// once the countdown has expired.
func (c *Countdown) Tick() bool {
	remaining := c.Remaining()
	if c.onTick != nil {
		c.onTick(remaining)
	}
	if remaining > 0 {
		return false
	}
	if !c.fired {
		c.fired = true
		if c.onExpire != nil {
			c.onExpire()
		}
	}
	return true
}

// Run ticks once per second until expiry or context cancellation. Callers
// cancel the context when the session unmounts or completes so a stale
// expiry cannot fire afterwards.
func (c *Countdown) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.Tick() {
				return
			}
		}
	}
}
