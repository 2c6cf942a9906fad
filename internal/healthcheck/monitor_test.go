package healthcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func upstreamStatus(t *testing.T, hs *health.Server) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: UpstreamService})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	return resp.GetStatus()
}

func TestNewServerReportsProcessServing(t *testing.T) {
	srv, hs := NewServer()
	defer srv.Stop()

	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v (%v)", resp.GetStatus(), err)
	}
	if got := upstreamStatus(t, hs); got != healthpb.HealthCheckResponse_UNKNOWN {
		t.Fatalf("expected UNKNOWN before first probe, got %v", got)
	}
}

func TestProbeTreatsAnyHTTPResponseAsServing(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	_, hs := NewServer()
	m := NewMonitor(upstream.URL, hs, zap.NewNop())

	if got := m.Probe(context.Background()); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", got)
	}
	if got := upstreamStatus(t, hs); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health server not updated, got %v", got)
	}
}

func TestProbeUnreachableUpstreamLogsOnlyOnChange(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := upstream.URL
	upstream.Close()

	core, logs := observer.New(zap.InfoLevel)
	_, hs := NewServer()
	m := NewMonitor(target, hs, zap.New(core))

	for i := 0; i < 3; i++ {
		if got := m.Probe(context.Background()); got != healthpb.HealthCheckResponse_NOT_SERVING {
			t.Fatalf("expected NOT_SERVING, got %v", got)
		}
	}
	if n := logs.FilterMessage("upstream unreachable").Len(); n != 1 {
		t.Fatalf("expected one transition log, got %d", n)
	}
	if m.Status() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("unexpected status %v", m.Status())
	}
}

func TestRunMarksUpstreamNotServingOnExit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	_, hs := NewServer()
	m := NewMonitor(upstream.URL, hs, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(time.Second)
	for m.Status() != healthpb.HealthCheckResponse_SERVING {
		select {
		case <-deadline:
			t.Fatal("monitor never probed")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done

	if got := upstreamStatus(t, hs); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after shutdown, got %v", got)
	}
}
