package app_test

import (
	"testing"
	"time"

	"practice-quiz-service/internal/app"
)

func TestCountdownRemainingTracksWallClock(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	countdown := app.NewCountdown(start, 10*time.Minute, clock.Now, nil, nil)

	if got := countdown.Remaining(); got != 10*time.Minute {
		t.Fatalf("expected 10m, got %v", got)
	}
	// Remaining is derived, so a large jump (backgrounded tab) is absorbed.
	clock.Advance(7 * time.Minute)
	if got := countdown.Remaining(); got != 3*time.Minute {
		t.Fatalf("expected 3m, got %v", got)
	}
	clock.Advance(5 * time.Minute)
	if got := countdown.Remaining(); got != 0 {
		t.Fatalf("expected clamp at zero, got %v", got)
	}
}

func TestCountdownExpiresExactlyOnce(t *testing.T) {
	clock := newFakeClock()
	ticks := 0
	expiries := 0
	countdown := app.NewCountdown(clock.Now(), 10*time.Minute, clock.Now,
		func(time.Duration) { ticks++ },
		func() { expiries++ },
	)

	if countdown.Tick() {
		t.Fatalf("expired before deadline")
	}
	if expiries != 0 {
		t.Fatalf("expire fired early")
	}

	clock.Advance(10*time.Minute + time.Second)
	for i := 0; i < 4; i++ {
		if !countdown.Tick() {
			t.Fatalf("expected expired on tick %d", i)
		}
	}
	if expiries != 1 {
		t.Fatalf("expected exactly one expiry, got %d", expiries)
	}
	if ticks != 5 {
		t.Fatalf("expected tick callback on every tick, got %d", ticks)
	}
}
