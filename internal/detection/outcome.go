package detection

import "unicode/utf8"

// MaxDetailsLength bounds the upstream body excerpt carried in error details.
const MaxDetailsLength = 200

// TruncationMarker is appended to details that were cut at MaxDetailsLength.
const TruncationMarker = "..."

// User-facing texts shared by the proxy and the client.
const (
	TimeoutMessage   = "Processing timed out. The model may be initializing or the image may be too complex."
	MalformedMessage = "Backend returned non-JSON response"
)

// Outcome is the closed set of results of one proxied detection call.
type Outcome interface {
	outcome()
}

// Success carries the upstream payload of a 2xx JSON response.
type Success struct {
	Payload DetectionResponse
}

// Timeout reports that the upstream call exceeded the proxy deadline.
type Timeout struct{}

// Malformed reports a non-JSON upstream response.
type Malformed struct {
	HTTPStatus int
	Details    string
}

// BackendError reports a JSON upstream response with a non-2xx status.
type BackendError struct {
	HTTPStatus int
	Message    string
}

// Unexpected covers every failure that is not classified otherwise.
type Unexpected struct {
	Message string
}

// NetworkFailure reports that the client never reached the proxy.
type NetworkFailure struct {
	Err error
}

func (Success) outcome()        {}
func (Timeout) outcome()        {}
func (Malformed) outcome()      {}
func (BackendError) outcome()   {}
func (Unexpected) outcome()     {}
func (NetworkFailure) outcome() {}

// Error implements the error interface.
func (n NetworkFailure) Error() string {
	if n.Err == nil {
		return "network failure"
	}
	return "network failure: " + n.Err.Error()
}

// Unwrap exposes the transport error.
func (n NetworkFailure) Unwrap() error {
	return n.Err
}

// TruncateDetails keeps the first MaxDetailsLength characters of body and
// appends TruncationMarker when anything was cut.
func TruncateDetails(body string) string {
	if utf8.RuneCountInString(body) <= MaxDetailsLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:MaxDetailsLength]) + TruncationMarker
}
