// Package progress produces a synthetic, monotonically non-decreasing
// progress signal while a call of unknown latency is outstanding.
package progress

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

const (
	// Ceiling is the highest value reached while an estimator is running.
	Ceiling = 95.0
	// Complete is the authoritative completion value.
	Complete = 100.0

	defaultInterval     = 300 * time.Millisecond
	defaultMaxIncrement = 15.0
)

// Estimator starts progress handles. It holds configuration only.
type Estimator struct {
	interval     time.Duration
	maxIncrement float64
	random       func() float64
}

// Option customizes an Estimator.
type Option func(*Estimator)

// WithInterval overrides the tick period.
func WithInterval(d time.Duration) Option {
	return func(e *Estimator) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithMaxIncrement overrides the largest advance per tick.
func WithMaxIncrement(v float64) Option {
	return func(e *Estimator) {
		if v > 0 {
			e.maxIncrement = v
		}
	}
}

// WithRandom overrides the [0,1) source used to size increments.
func WithRandom(fn func() float64) Option {
	return func(e *Estimator) {
		if fn != nil {
			e.random = fn
		}
	}
}

// NewEstimator builds an estimator ticking every 300ms by up to 15 points.
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{
		interval:     defaultInterval,
		maxIncrement: defaultMaxIncrement,
		random:       rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle is one running progress signal.
type Handle struct {
	onUpdate func(float64)

	mu    sync.Mutex
	value float64

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// Start begins ticking. onUpdate, if set, is called from the ticker
// goroutine after each advance and never after Stop returns. Cancelling ctx
// stops the ticker as well.
func (e *Estimator) Start(ctx context.Context, onUpdate func(float64)) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		onUpdate: onUpdate,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.run(ctx, e.interval, e.maxIncrement, e.random)
	return h
}

func (h *Handle) run(ctx context.Context, interval time.Duration, maxIncrement float64, random func() float64) {
	defer close(h.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			next := h.value + random()*maxIncrement
			if next > Ceiling {
				next = Ceiling
			}
			if next < h.value {
				next = h.value
			}
			h.value = next
			h.mu.Unlock()

			// Re-check so a Stop racing with this tick suppresses the callback.
			if ctx.Err() != nil {
				return
			}
			if h.onUpdate != nil {
				h.onUpdate(next)
			}
		}
	}
}

// Value returns the current progress.
func (h *Handle) Value() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value
}

// Stop cancels the ticker exactly once and settles the value at
// max(current, final), clamped to [0,100]. Later calls only return the
// settled value. Stop must not be called from onUpdate.
func (h *Handle) Stop(final float64) float64 {
	h.stopOnce.Do(func() {
		h.cancel()
		<-h.done

		h.mu.Lock()
		if final > Complete {
			final = Complete
		}
		if final > h.value {
			h.value = final
		}
		h.mu.Unlock()
	})
	return h.Value()
}

// Done is closed once the ticker goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
