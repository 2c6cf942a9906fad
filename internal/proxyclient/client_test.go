package proxyclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/brewguard/internal/detection"
	"github.com/example/brewguard/internal/gateway"
)

func testRequest(t *testing.T) detection.DetectionRequest {
	t.Helper()
	req, err := detection.NewDetectionRequest(detection.EncodedImage{DataURI: "data:image/jpeg;base64,/9j/"}, detection.DefaultOptions())
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func TestSubmitSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != gateway.DetectPath {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"processedImage":"p","detections":[{"name":"Rust","confidence":82,"area":13,"description":"d","color":"#aa3333"}]}`))
	}))
	defer srv.Close()

	outcome := New(srv.URL, zap.NewNop()).Submit(context.Background(), testRequest(t))
	success, ok := outcome.(detection.Success)
	if !ok {
		t.Fatalf("expected Success, got %#v", outcome)
	}
	if len(success.Payload.Detections) != 1 {
		t.Fatalf("unexpected payload: %+v", success.Payload)
	}
}

func TestSubmitUnreachableProxyIsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	outcome := New(url, zap.NewNop()).Submit(context.Background(), testRequest(t))
	failure, ok := outcome.(detection.NetworkFailure)
	if !ok {
		t.Fatalf("expected NetworkFailure, got %#v", outcome)
	}
	if failure.Err == nil {
		t.Fatal("expected transport error")
	}
}

func TestSubmitCancelledContextIsNotNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome := New(srv.URL, zap.NewNop()).Submit(ctx, testRequest(t))
	u, ok := outcome.(detection.Unexpected)
	if !ok || u.Message != "request cancelled" {
		t.Fatalf("expected cancelled outcome, got %#v", outcome)
	}
}

func TestSubmitStalledProxyIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}))
	defer srv.Close()

	start := time.Now()
	outcome := New(srv.URL, zap.NewNop(), WithTimeout(100*time.Millisecond)).Submit(context.Background(), testRequest(t))
	if _, ok := outcome.(detection.Timeout); !ok {
		t.Fatalf("expected Timeout, got %#v", outcome)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("client deadline not honoured, took %s", elapsed)
	}
}

func TestSubmitParentDeadlineIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if outcome := New(srv.URL, zap.NewNop()).Submit(ctx, testRequest(t)); outcome != (detection.Timeout{}) {
		t.Fatalf("expected Timeout, got %#v", outcome)
	}
}

func TestDecodeTaggedResponses(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(detection.Outcome) bool
	}{
		{"timeout", 504, `{"error":"timed out","outcome":"timeout"}`, func(o detection.Outcome) bool {
			_, ok := o.(detection.Timeout)
			return ok
		}},
		{"malformed keeps upstream status", 502, `{"error":"x","details":"<html>","status":200,"outcome":"malformed"}`, func(o detection.Outcome) bool {
			m, ok := o.(detection.Malformed)
			return ok && m.HTTPStatus == 200 && m.Details == "<html>"
		}},
		{"backend error", 422, `{"error":"bad image","status":422,"outcome":"backend_error"}`, func(o detection.Outcome) bool {
			b, ok := o.(detection.BackendError)
			return ok && b.HTTPStatus == 422 && b.Message == "bad image"
		}},
		{"unexpected", 500, `{"error":"dns failure","outcome":"unexpected"}`, func(o detection.Outcome) bool {
			u, ok := o.(detection.Unexpected)
			return ok && u.Message == "dns failure"
		}},
	}
	for _, tc := range cases {
		if got := decodeResponse(tc.status, "application/json", []byte(tc.body)); !tc.check(got) {
			t.Fatalf("%s: unexpected outcome %#v", tc.name, got)
		}
	}
}

func TestDecodeUntaggedResponsesFallBackToStatus(t *testing.T) {
	if _, ok := decodeResponse(504, "application/json", []byte(`{"error":"t"}`)).(detection.Timeout); !ok {
		t.Fatal("504 should decode as Timeout")
	}
	if m, ok := decodeResponse(502, "application/json", []byte(`{"error":"x","details":"oops"}`)).(detection.Malformed); !ok || m.HTTPStatus != 502 {
		t.Fatal("details should decode as Malformed")
	}
	if _, ok := decodeResponse(500, "application/json", []byte(`{"error":"x"}`)).(detection.Unexpected); !ok {
		t.Fatal("500 should decode as Unexpected")
	}
	if b, ok := decodeResponse(400, "application/json", []byte(`{"error":"confidence must be between 1 and 100"}`)).(detection.BackendError); !ok || b.HTTPStatus != 400 {
		t.Fatal("400 should decode as BackendError")
	}
}

func TestDecodeNonJSONProxyReplyIsMalformed(t *testing.T) {
	m, ok := decodeResponse(502, "text/html", []byte("<html>bad gateway</html>")).(detection.Malformed)
	if !ok || m.HTTPStatus != 502 || m.Details != "<html>bad gateway</html>" {
		t.Fatalf("unexpected outcome: %#v", m)
	}
}
