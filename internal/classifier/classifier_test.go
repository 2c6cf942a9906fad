package classifier

import (
	"errors"
	"strings"
	"testing"

	"github.com/example/brewguard/internal/detection"
)

func TestClassifySuccess(t *testing.T) {
	result := New(true).Classify(detection.Success{Payload: detection.DetectionResponse{ProcessedImage: "p"}})
	if !result.OK() {
		t.Fatalf("expected success, got %+v", result.Err)
	}
	if result.Response.Detections == nil {
		t.Fatal("detections must never be nil on success")
	}
}

func TestClassifyFailures(t *testing.T) {
	long := strings.Repeat("<p>", 150)
	cases := []struct {
		name    string
		outcome detection.Outcome
		kind    detection.ErrorKind
		status  int
		message string
	}{
		{"timeout", detection.Timeout{}, detection.KindTimedOut, 0, detection.TimeoutMessage},
		{"malformed", detection.Malformed{HTTPStatus: 503, Details: long}, detection.KindUpstreamMalformed, 503, ""},
		{"backend", detection.BackendError{HTTPStatus: 422, Message: "Model not loaded"}, detection.KindBackendRejected, 422, "Model not loaded"},
		{"backend fallback", detection.BackendError{HTTPStatus: 500}, detection.KindBackendRejected, 500, "Failed to process image"},
		{"unexpected", detection.Unexpected{Message: "dial tcp: no such host"}, detection.KindUnexpected, 0, UnexpectedMessage},
		{"network", detection.NetworkFailure{Err: errors.New("connection refused")}, detection.KindNetworkUnavailable, 0, NetworkMessage},
	}

	c := New(true)
	for _, tc := range cases {
		result := c.Classify(tc.outcome)
		if result.OK() || result.Err == nil {
			t.Fatalf("%s: expected failure", tc.name)
		}
		if result.Err.Kind != tc.kind || result.Err.HTTPStatus != tc.status {
			t.Fatalf("%s: unexpected envelope %+v", tc.name, result.Err)
		}
		if tc.message != "" && result.Err.Message != tc.message {
			t.Fatalf("%s: expected message %q, got %q", tc.name, tc.message, result.Err.Message)
		}
	}
}

func TestClassifyMalformedKeepsTruncatedDetails(t *testing.T) {
	body := strings.Repeat("a", 500)
	result := New(true).Classify(detection.Malformed{HTTPStatus: 503, Details: body})
	want := strings.Repeat("a", detection.MaxDetailsLength) + detection.TruncationMarker
	if result.Err.Details != want {
		t.Fatalf("unexpected details length %d", len(result.Err.Details))
	}
}

func TestClassifyIgnoresMessageContents(t *testing.T) {
	// A backend message that mentions a timeout is still a backend rejection.
	result := New(true).Classify(detection.BackendError{HTTPStatus: 400, Message: "request timed out"})
	if result.Err.Kind != detection.KindBackendRejected {
		t.Fatalf("expected backend_rejected, got %s", result.Err.Kind)
	}
}

func TestNetworkFailureHintOnlyOutsideProduction(t *testing.T) {
	outcome := detection.NetworkFailure{Err: errors.New("refused")}

	if msg := New(true).Classify(outcome).Err.Message; msg != NetworkMessage {
		t.Fatalf("production message should carry no hint, got %q", msg)
	}
	if msg := New(false).Classify(outcome).Err.Message; !strings.HasPrefix(msg, NetworkMessage) || msg == NetworkMessage {
		t.Fatalf("development message should carry hint, got %q", msg)
	}
}
