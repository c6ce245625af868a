package testutil

import (
	"sync"
	"testing"
	"time"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	if got := clock.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}

	clock.Advance(5 * time.Second)
	clock.Advance(25 * time.Second)
	if got, want := clock.Now(), start.Add(30*time.Second); !got.Equal(want) {
		t.Errorf("after two advances, Now() = %v, want %v", got, want)
	}
}

func TestFakeClock_ConcurrentAdvance(t *testing.T) {
	clock := NewFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			clock.Now()
		}()
	}
	wg.Wait()

	want := time.Date(2026, 8, 30, 10, 0, 10, 0, time.UTC)
	if got := clock.Now(); !got.Equal(want) {
		t.Errorf("Now() = %v, want %v after 10 concurrent 1s advances", got, want)
	}
}

func TestTestContext_HasDeadline(t *testing.T) {
	ctx := TestContext(t)

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("TestContext should carry a deadline")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > 6*time.Second {
		t.Errorf("deadline %v from now, want roughly 5s", remaining)
	}
}

func TestMustParseUUID(t *testing.T) {
	const raw = "a2e7cd4f-9040-4f73-83b5-2c4c86100b2d"
	if id := MustParseUUID(raw); id.String() != raw {
		t.Errorf("MustParseUUID(%s) = %s", raw, id)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected a panic for a malformed UUID")
		}
	}()
	MustParseUUID("not-a-uuid")
}
