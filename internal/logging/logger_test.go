package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	if _, err := NewLogger("info", "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("loud", FormatJSON); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewLoggerAppliesLevel(t *testing.T) {
	logger, err := NewLogger("warn", FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Fatal("debug should be disabled at warn level")
	}
}

func TestNewOperationErrorKeepsNil(t *testing.T) {
	if err := NewOperationError("op", "req", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("events.publish", "sess-1", base)
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to match base")
	}
	if got := err.Error(); got != "events.publish [sess-1]: boom" {
		t.Fatalf("unexpected message: %s", got)
	}
}

func TestOperationErrorFields(t *testing.T) {
	var opErr *OperationError
	if !errors.As(NewOperationError("gateway.forward", "req-9", errors.New("reset")), &opErr) {
		t.Fatal("expected *OperationError")
	}
	fields := opErr.Fields()
	if len(fields) != 3 || fields[0].Key != "operation" || fields[2].String != "req-9" {
		t.Fatalf("unexpected fields: %+v", fields)
	}

	bare := &OperationError{Operation: "events.publish.http", Err: errors.New("refused")}
	if got := len(bare.Fields()); got != 2 {
		t.Fatalf("expected no request_id field, got %d fields", got)
	}
}
