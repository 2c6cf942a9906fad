// Package gateway forwards detection requests to the upstream inference
// service under a hard deadline and normalizes every result into one
// detection.Outcome.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/brewguard/internal/detection"
	"github.com/example/brewguard/internal/events"
	"github.com/example/brewguard/internal/logging"
)

const (
	// DefaultTimeout is kept below any client deadline so the proxy's own
	// timeout is what the client observes.
	DefaultTimeout = 55 * time.Second

	// DetectPath is appended to the upstream base URL.
	DetectPath = "/api/detect"

	maxResponseBytes = 64 << 20
	eventContext     = "proxy"
	fallbackMessage  = "Failed to process image"
)

// Gateway is the proxy's upstream client.
type Gateway struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	events     *events.Emitter
}

// Option customizes the gateway.
type Option func(*Gateway)

// WithHTTPClient overrides the HTTP client. Its own Timeout should be zero
// or larger than the gateway deadline.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// WithTimeout overrides the upstream deadline.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithEvents reports forwarding outcomes to emitter.
func WithEvents(emitter *events.Emitter) Option {
	return func(g *Gateway) {
		g.events = emitter
	}
}

// New creates a gateway for the upstream service rooted at baseURL.
func New(baseURL string, logger *zap.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		endpoint:   strings.TrimRight(strings.TrimSpace(baseURL), "/") + DetectPath,
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
		logger:     logger.Named("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Endpoint returns the full upstream URL.
func (g *Gateway) Endpoint() string {
	return g.endpoint
}

// Forward sends req upstream. It always returns exactly one outcome and never
// retries; exceeding the deadline aborts the call and yields Timeout.
func (g *Gateway) Forward(ctx context.Context, requestID string, req detection.DetectionRequest) detection.Outcome {
	opLogger := logging.WithOperation(g.logger, "gateway.forward", requestID)
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	outcome := g.forward(ctx, req)
	if ctx.Err() == context.DeadlineExceeded {
		if _, ok := outcome.(detection.Success); !ok {
			outcome = detection.Timeout{}
		}
	}

	g.report(opLogger, requestID, outcome, time.Since(started))
	return outcome
}

func (g *Gateway) forward(ctx context.Context, req detection.DetectionRequest) (outcome detection.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = detection.Unexpected{Message: fmt.Sprintf("panic while forwarding: %v", r)}
		}
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return detection.Unexpected{Message: fmt.Sprintf("encode request: %v", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return detection.Unexpected{Message: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return detection.Unexpected{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return detection.Unexpected{Message: fmt.Sprintf("read upstream response: %v", err)}
	}

	if !IsJSONContentType(resp.Header.Get("Content-Type")) {
		return detection.Malformed{
			HTTPStatus: resp.StatusCode,
			Details:    detection.TruncateDetails(string(raw)),
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var payload detection.DetectionResponse
		if err := json.Unmarshal(raw, &payload); err != nil {
			return detection.Unexpected{Message: fmt.Sprintf("decode upstream response: %v", err)}
		}
		if payload.Detections == nil {
			payload.Detections = []detection.DetectionResult{}
		}
		return detection.Success{Payload: payload}
	}

	var errBody struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &errBody); err != nil {
		return detection.Unexpected{Message: fmt.Sprintf("decode upstream error (status %d): %v", resp.StatusCode, err)}
	}
	message := strings.TrimSpace(errBody.Error)
	if message == "" {
		message = fallbackMessage
	}
	return detection.BackendError{HTTPStatus: resp.StatusCode, Message: message}
}

func (g *Gateway) report(opLogger *zap.Logger, requestID string, outcome detection.Outcome, elapsed time.Duration) {
	data := map[string]any{"requestId": requestID, "elapsedMs": elapsed.Milliseconds()}
	fields := []zap.Field{zap.Duration("elapsed", elapsed)}

	switch o := outcome.(type) {
	case detection.Success:
		opLogger.Info("upstream detection succeeded", append(fields, zap.Int("detections", len(o.Payload.Detections)))...)
		data["detections"] = len(o.Payload.Detections)
		g.events.Info(eventContext, "upstream detection succeeded", data)
	case detection.Timeout:
		opLogger.Warn("upstream call timed out", append(fields, zap.Duration("deadline", g.timeout))...)
		g.events.Error(eventContext, "upstream call timed out", nil, data)
	case detection.Malformed:
		opLogger.Error("upstream returned non-JSON response",
			append(fields, zap.Int("status", o.HTTPStatus), zap.String("details", o.Details))...)
		data["status"] = o.HTTPStatus
		data["details"] = o.Details
		g.events.Error(eventContext, "upstream returned non-JSON response", nil, data)
	case detection.BackendError:
		opLogger.Warn("upstream rejected request", append(fields, zap.Int("status", o.HTTPStatus), zap.String("message", o.Message))...)
		data["status"] = o.HTTPStatus
		g.events.Warn(eventContext, "upstream rejected request", data)
	case detection.Unexpected:
		err := logging.NewOperationError("gateway.forward", requestID, errors.New(o.Message))
		opLogger.Error("upstream call failed", append(fields, zap.Error(err))...)
		g.events.Error(eventContext, "upstream call failed", err, data)
	}
}

// IsJSONContentType reports whether a Content-Type header declares JSON.
func IsJSONContentType(header string) bool {
	if strings.TrimSpace(header) == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.Contains(strings.ToLower(header), "application/json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
