// Package proxyclient submits detection requests to the proxy's
// /api/detect endpoint and reconstructs the upstream outcome from its reply.
package proxyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/brewguard/internal/detection"
	"github.com/example/brewguard/internal/gateway"
)

// DefaultTimeout exceeds the proxy deadline so the proxy's 504 arrives first.
const DefaultTimeout = 60 * time.Second

const maxResponseBytes = 64 << 20

// Client talks to the proxy.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides the client-side deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// New creates a client for the proxy rooted at baseURL.
func New(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(strings.TrimSpace(baseURL), "/") + gateway.DetectPath,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger.Named("proxy_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts req to the proxy. A client deadline yields detection.Timeout
// and a cancelled ctx yields detection.Unexpected. Any other transport
// failure comes back as detection.NetworkFailure. Every reply is mapped to
// an upstream outcome.
func (c *Client) Submit(ctx context.Context, req detection.DetectionRequest) detection.Outcome {
	body, err := json.Marshal(req)
	if err != nil {
		return detection.Unexpected{Message: fmt.Sprintf("encode request: %v", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return detection.Unexpected{Message: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.transportOutcome(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.transportOutcome(fmt.Errorf("read proxy response: %w", err))
	}
	return decodeResponse(resp.StatusCode, resp.Header.Get("Content-Type"), raw)
}

// transportOutcome separates a proxy that accepted the request but never
// answered in time from one that could not be reached at all.
func (c *Client) transportOutcome(err error) detection.Outcome {
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.Canceled):
		c.logger.Debug("proxy request cancelled", zap.String("endpoint", c.endpoint))
		return detection.Unexpected{Message: "request cancelled"}
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &urlErr) && urlErr.Timeout():
		c.logger.Warn("proxy request timed out", zap.String("endpoint", c.endpoint), zap.Duration("timeout", c.httpClient.Timeout))
		return detection.Timeout{}
	default:
		c.logger.Warn("proxy unreachable", zap.String("endpoint", c.endpoint), zap.Error(err))
		return detection.NetworkFailure{Err: err}
	}
}

func decodeResponse(status int, contentType string, raw []byte) detection.Outcome {
	if !gateway.IsJSONContentType(contentType) {
		return detection.Malformed{HTTPStatus: status, Details: detection.TruncateDetails(string(raw))}
	}

	if status >= 200 && status < 300 {
		var payload detection.DetectionResponse
		if err := json.Unmarshal(raw, &payload); err != nil {
			return detection.Unexpected{Message: fmt.Sprintf("decode proxy response: %v", err)}
		}
		if payload.Detections == nil {
			payload.Detections = []detection.DetectionResult{}
		}
		return detection.Success{Payload: payload}
	}

	var body gateway.ErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return detection.Unexpected{Message: fmt.Sprintf("decode proxy error (status %d): %v", status, err)}
	}
	upstreamStatus := body.Status
	if upstreamStatus == 0 {
		upstreamStatus = status
	}

	switch body.Outcome {
	case gateway.OutcomeTimeout:
		return detection.Timeout{}
	case gateway.OutcomeMalformed:
		return detection.Malformed{HTTPStatus: upstreamStatus, Details: body.Details}
	case gateway.OutcomeBackendError:
		return detection.BackendError{HTTPStatus: upstreamStatus, Message: body.Error}
	case gateway.OutcomeUnexpected:
		return detection.Unexpected{Message: body.Error}
	}

	// Replies without an outcome tag, e.g. from an older proxy.
	switch {
	case status == http.StatusGatewayTimeout:
		return detection.Timeout{}
	case body.Details != "":
		return detection.Malformed{HTTPStatus: upstreamStatus, Details: detection.TruncateDetails(body.Details)}
	case status == http.StatusInternalServerError:
		return detection.Unexpected{Message: body.Error}
	default:
		message := body.Error
		if message == "" {
			message = "Failed to process image"
		}
		return detection.BackendError{HTTPStatus: status, Message: message}
	}
}
