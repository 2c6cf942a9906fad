package gateway

import (
	"net/http"

	"github.com/example/brewguard/internal/detection"
)

// Outcome names carried in error responses.
const (
	OutcomeTimeout      = "timeout"
	OutcomeMalformed    = "malformed"
	OutcomeBackendError = "backend_error"
	OutcomeUnexpected   = "unexpected"
)

// ErrorResponse is the body of every non-2xx /api/detect response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Status  int    `json:"status,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

// Response maps an outcome to the proxy's HTTP status and body.
func Response(outcome detection.Outcome) (int, any) {
	switch o := outcome.(type) {
	case detection.Success:
		return http.StatusOK, o.Payload
	case detection.Timeout:
		return http.StatusGatewayTimeout, ErrorResponse{Error: detection.TimeoutMessage, Outcome: OutcomeTimeout}
	case detection.Malformed:
		status := o.HTTPStatus
		if status < 400 {
			status = http.StatusBadGateway
		}
		return status, ErrorResponse{
			Error:   detection.MalformedMessage,
			Details: o.Details,
			Status:  o.HTTPStatus,
			Outcome: OutcomeMalformed,
		}
	case detection.BackendError:
		status := o.HTTPStatus
		if status < 400 {
			status = http.StatusBadGateway
		}
		return status, ErrorResponse{Error: o.Message, Status: o.HTTPStatus, Outcome: OutcomeBackendError}
	case detection.Unexpected:
		return http.StatusInternalServerError, ErrorResponse{Error: o.Message, Outcome: OutcomeUnexpected}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "Unknown error", Outcome: OutcomeUnexpected}
	}
}
