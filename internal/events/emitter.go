package events

import (
	"errors"
	"fmt"
	"time"
)

// Emitter stamps events and fans them out to every configured sink. It is
// immutable after construction; a nil *Emitter discards everything.
type Emitter struct {
	sinks   []Sink
	verbose bool
	now     func() time.Time
}

// Option customizes an Emitter.
type Option func(*Emitter)

// WithSinks appends sinks; nil sinks are skipped.
func WithSinks(sinks ...Sink) Option {
	return func(e *Emitter) {
		for _, s := range sinks {
			if s != nil {
				e.sinks = append(e.sinks, s)
			}
		}
	}
}

// WithVerbose controls whether non-error events are emitted. Errors are
// always emitted.
func WithVerbose(verbose bool) Option {
	return func(e *Emitter) {
		e.verbose = verbose
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEmitter constructs an emitter. It is verbose unless told otherwise.
func NewEmitter(opts ...Option) *Emitter {
	e := &Emitter{verbose: true, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit stamps and delivers ev.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	if !e.verbose && ev.Level != LevelError {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now().UTC()
	}
	if ev.Context == "" {
		ev.Context = DefaultContext
	}
	for _, s := range e.sinks {
		s.Emit(ev)
	}
}

func (e *Emitter) Info(context, message string, data map[string]any) {
	e.Emit(Event{Level: LevelInfo, Context: context, Message: message, Data: data})
}

func (e *Emitter) Warn(context, message string, data map[string]any) {
	e.Emit(Event{Level: LevelWarn, Context: context, Message: message, Data: data})
}

func (e *Emitter) Debug(context, message string, data map[string]any) {
	e.Emit(Event{Level: LevelDebug, Context: context, Message: message, Data: data})
}

// Error emits an error event. err, when set, is recorded under data["error"].
func (e *Emitter) Error(context, message string, err error, data map[string]any) {
	if err != nil {
		merged := make(map[string]any, len(data)+1)
		for k, v := range data {
			merged[k] = v
		}
		merged["error"] = errorData(err)
		data = merged
	}
	e.Emit(Event{Level: LevelError, Context: context, Message: message, Data: data})
}

func errorData(err error) map[string]any {
	out := map[string]any{
		"message": err.Error(),
		"name":    fmt.Sprintf("%T", err),
	}
	if cause := errors.Unwrap(err); cause != nil {
		out["cause"] = cause.Error()
	}
	return out
}
