package detection

import "fmt"

// ErrorKind is the stable taxonomy of session failures.
type ErrorKind string

const (
	// Pre-network, resolved on the client.
	KindUnsupportedType ErrorKind = "unsupported_type"
	KindTooLarge        ErrorKind = "too_large"
	KindReadError       ErrorKind = "read_error"

	// Post-dispatch.
	KindTimedOut           ErrorKind = "timed_out"
	KindUpstreamMalformed  ErrorKind = "upstream_malformed"
	KindBackendRejected    ErrorKind = "backend_rejected"
	KindUnexpected         ErrorKind = "unexpected"
	KindNetworkUnavailable ErrorKind = "network_unavailable"
)

// PreNetwork reports whether the kind is raised before any request is built.
func (k ErrorKind) PreNetwork() bool {
	switch k {
	case KindUnsupportedType, KindTooLarge, KindReadError:
		return true
	}
	return false
}

// ErrorEnvelope is the single failure shape surfaced to the presentation layer.
type ErrorEnvelope struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"httpStatus,omitempty"`
	Details    string    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	if e == nil {
		return ""
	}
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
