// Package healthcheck exposes the gRPC health service and keeps it in sync
// with the reachability of the upstream inference service.
package healthcheck

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/brewguard/internal/events"
	"github.com/example/brewguard/internal/logging"
)

// UpstreamService is the health service name that tracks the upstream.
// The empty service name reports on the proxy process itself.
const UpstreamService = "brewguard.upstream"

const (
	eventContext        = "health"
	defaultProbeTimeout = 5 * time.Second
)

// NewServer returns a gRPC server with the health service registered. The
// proxy itself is SERVING; the upstream is UNKNOWN until the first probe.
func NewServer(opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(UpstreamService, healthpb.HealthCheckResponse_UNKNOWN)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// Monitor probes the upstream base URL and records the result.
type Monitor struct {
	target  string
	client  *http.Client
	health  *health.Server
	emitter *events.Emitter
	logger  *zap.Logger

	mu   sync.Mutex
	last healthpb.HealthCheckResponse_ServingStatus
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithHTTPClient overrides the probe client.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Monitor) {
		if client != nil {
			m.client = client
		}
	}
}

// WithEvents attaches the event emitter. Only status changes are emitted.
func WithEvents(e *events.Emitter) Option {
	return func(m *Monitor) {
		m.emitter = e
	}
}

// NewMonitor creates a monitor for target that writes into hs.
func NewMonitor(target string, hs *health.Server, logger *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		target: target,
		client: &http.Client{Timeout: defaultProbeTimeout},
		health: hs,
		logger: logger.Named("health_monitor"),
		last:   healthpb.HealthCheckResponse_UNKNOWN,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Probe issues one GET against the upstream. Any HTTP response counts as
// reachable: a cold upstream answering 5xx is still up.
func (m *Monitor) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	var probeErr error

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.target, nil)
	if err != nil {
		probeErr = err
	} else if resp, err := m.client.Do(req); err != nil {
		probeErr = err
	} else {
		resp.Body.Close()
		status = healthpb.HealthCheckResponse_SERVING
	}

	m.record(status, probeErr)
	return status
}

// Run probes immediately and then every interval until ctx is done. On exit
// the upstream is marked NOT_SERVING.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.Probe(ctx)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.health.SetServingStatus(UpstreamService, healthpb.HealthCheckResponse_NOT_SERVING)
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Status returns the last recorded upstream status.
func (m *Monitor) Status() healthpb.HealthCheckResponse_ServingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Monitor) record(status healthpb.HealthCheckResponse_ServingStatus, probeErr error) {
	m.health.SetServingStatus(UpstreamService, status)

	m.mu.Lock()
	changed := m.last != status
	m.last = status
	m.mu.Unlock()

	if !changed {
		return
	}
	opLogger := logging.WithOperation(m.logger, "healthcheck.probe", "")
	data := map[string]any{"target": m.target, "status": status.String()}
	if status == healthpb.HealthCheckResponse_SERVING {
		opLogger.Info("upstream reachable", zap.String("target", m.target))
		m.emitter.Info(eventContext, "upstream reachable", data)
		return
	}
	opLogger.Warn("upstream unreachable", zap.String("target", m.target), zap.Error(probeErr))
	m.emitter.Warn(eventContext, "upstream unreachable", data)
}
