package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/brewguard/internal/logging"
)

const (
	defaultBufferSize     = 256
	defaultPublishTimeout = 5 * time.Second
)

// Publisher delivers a single event to a remote destination.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Forwarder is a fire-and-forget Sink in front of a Publisher. Delivery runs
// on a background worker; failures and overflow are only logged locally.
type Forwarder struct {
	name    string
	pub     Publisher
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewForwarder starts a forwarder with a bounded queue of bufferSize events.
func NewForwarder(name string, pub Publisher, bufferSize int, logger *zap.Logger) *Forwarder {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	f := &Forwarder{
		name:    name,
		pub:     pub,
		logger:  logger.Named("events_forwarder").With(zap.String("destination", name)),
		timeout: defaultPublishTimeout,
		queue:   make(chan Event, bufferSize),
		done:    make(chan struct{}),
	}
	go f.run()
	return f
}

// Emit implements Sink. It never blocks.
func (f *Forwarder) Emit(ev Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- ev:
	default:
		f.logger.Warn("event queue full, dropping event",
			zap.String("context", ev.Context), zap.String("message", ev.Message))
	}
}

// Close stops accepting events and waits for queued ones to drain.
func (f *Forwarder) Close(ctx context.Context) error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()

	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Forwarder) run() {
	defer close(f.done)
	for ev := range f.queue {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		err := f.pub.Publish(ctx, ev)
		cancel()
		if err != nil {
			opErr := &logging.OperationError{Operation: "events.publish." + f.name, Err: err}
			f.logger.Warn("event delivery failed", append(opErr.Fields(), zap.String("context", ev.Context))...)
		}
	}
}
