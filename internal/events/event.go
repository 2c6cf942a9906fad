// Package events is the process-wide structured event sink. Events are
// append-only: an Emitter fans each event out to its sinks and never reads
// anything back.
package events

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Level is the severity of an event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelDebug Level = "debug"
)

// ParseLevel validates a level name.
func ParseLevel(value string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(value))); l {
	case LevelInfo, LevelWarn, LevelError, LevelDebug:
		return l, nil
	default:
		return "", fmt.Errorf("unknown event level %q", value)
	}
}

// DefaultContext tags events emitted without a context.
const DefaultContext = "app"

// Event is one observability record.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Context   string         `json:"context"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Validate checks an event received from outside the process.
func (e Event) Validate() error {
	if _, err := ParseLevel(string(e.Level)); err != nil {
		return err
	}
	if strings.TrimSpace(e.Message) == "" {
		return errors.New("message is required")
	}
	return nil
}

// Sink receives events. Implementations must be safe for concurrent use and
// must not block the caller on remote delivery.
type Sink interface {
	Emit(Event)
}
