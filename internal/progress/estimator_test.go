package progress

import (
	"context"
	"sync"
	"testing"
	"time"
)

type updates struct {
	mu     sync.Mutex
	values []float64
}

func (u *updates) record(v float64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.values = append(u.values, v)
}

func (u *updates) snapshot() []float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]float64(nil), u.values...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestProgressIsMonotonicAndCapped(t *testing.T) {
	rec := &updates{}
	est := NewEstimator(WithInterval(time.Millisecond), WithRandom(func() float64 { return 0.99 }))
	h := est.Start(context.Background(), rec.record)

	waitFor(t, func() bool { return h.Value() >= Ceiling })
	// Keep ticking at the ceiling for a while.
	time.Sleep(10 * time.Millisecond)
	h.Stop(0)

	values := rec.snapshot()
	if len(values) == 0 {
		t.Fatal("expected progress updates")
	}
	prev := 0.0
	for i, v := range values {
		if v < prev {
			t.Fatalf("progress decreased at %d: %f -> %f", i, prev, v)
		}
		if v > Ceiling {
			t.Fatalf("progress exceeded ceiling: %f", v)
		}
		prev = v
	}
}

func TestStopWithCompleteForcesHundred(t *testing.T) {
	est := NewEstimator(WithInterval(time.Millisecond))
	h := est.Start(context.Background(), nil)
	waitFor(t, func() bool { return h.Value() > 0 })

	if got := h.Stop(Complete); got != Complete {
		t.Fatalf("expected %v, got %v", Complete, got)
	}
}

func TestStopRetainsLastValueOnFailure(t *testing.T) {
	est := NewEstimator(WithInterval(time.Millisecond), WithRandom(func() float64 { return 0.5 }))
	h := est.Start(context.Background(), nil)
	waitFor(t, func() bool { return h.Value() >= 15 })

	before := h.Value()
	got := h.Stop(0)
	if got < before {
		t.Fatalf("stop must not lower progress: before %f, after %f", before, got)
	}
	if got > Ceiling {
		t.Fatalf("failure must not report completion, got %f", got)
	}
}

func TestStopIsIdempotentAndSilencesUpdates(t *testing.T) {
	rec := &updates{}
	est := NewEstimator(WithInterval(time.Millisecond))
	h := est.Start(context.Background(), rec.record)
	waitFor(t, func() bool { return len(rec.snapshot()) > 0 })

	first := h.Stop(0)
	count := len(rec.snapshot())
	second := h.Stop(Complete)
	if first != second {
		t.Fatalf("second stop changed value: %f -> %f", first, second)
	}

	time.Sleep(10 * time.Millisecond)
	if after := len(rec.snapshot()); after != count {
		t.Fatalf("received %d updates after stop", after-count)
	}
}

func TestContextCancellationStopsTicker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	est := NewEstimator(WithInterval(time.Millisecond))
	h := est.Start(ctx, nil)
	cancel()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not exit after context cancellation")
	}
	// Stop after teardown must still be safe.
	h.Stop(0)
}

func TestConcurrentStopCallsAreSafe(t *testing.T) {
	est := NewEstimator(WithInterval(time.Millisecond))
	h := est.Start(context.Background(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Stop(0)
		}()
	}
	wg.Wait()
}
