// Package classifier maps detection outcomes onto the error taxonomy shown
// to the user.
package classifier

import (
	"fmt"

	"github.com/example/brewguard/internal/detection"
)

const (
	UnexpectedMessage  = "An unexpected error occurred while processing the image"
	NetworkMessage     = "Could not reach the detection service"
	offlineHint        = " (the detection service may be offline; is the proxy running?)"
	fallbackRejectText = "Failed to process image"
)

// Result is either a success payload or a failure envelope, never both.
type Result struct {
	Response *detection.DetectionResponse
	Err      *detection.ErrorEnvelope
}

// OK reports whether the result carries a payload.
func (r Result) OK() bool {
	return r.Err == nil && r.Response != nil
}

// Classifier turns outcomes into results. The zero value behaves as in
// production.
type Classifier struct {
	production bool
}

// New returns a classifier. Outside production, network failures carry a
// hint that the service may be offline.
func New(production bool) Classifier {
	return Classifier{production: production}
}

// Classify selects the result purely on the outcome variant.
func (c Classifier) Classify(outcome detection.Outcome) Result {
	switch o := outcome.(type) {
	case detection.Success:
		payload := o.Payload
		if payload.Detections == nil {
			payload.Detections = []detection.DetectionResult{}
		}
		return Result{Response: &payload}
	case detection.Timeout:
		return failure(detection.KindTimedOut, detection.TimeoutMessage, 0, "")
	case detection.Malformed:
		return failure(detection.KindUpstreamMalformed,
			fmt.Sprintf("%s (status %d)", detection.MalformedMessage, o.HTTPStatus),
			o.HTTPStatus, detection.TruncateDetails(o.Details))
	case detection.BackendError:
		message := o.Message
		if message == "" {
			message = fallbackRejectText
		}
		return failure(detection.KindBackendRejected, message, o.HTTPStatus, "")
	case detection.Unexpected:
		return failure(detection.KindUnexpected, UnexpectedMessage, 0, detection.TruncateDetails(o.Message))
	case detection.NetworkFailure:
		message := NetworkMessage
		if !c.production {
			message += offlineHint
		}
		details := ""
		if o.Err != nil {
			details = detection.TruncateDetails(o.Err.Error())
		}
		return failure(detection.KindNetworkUnavailable, message, 0, details)
	default:
		return failure(detection.KindUnexpected, UnexpectedMessage, 0, fmt.Sprintf("unknown outcome %T", outcome))
	}
}

func failure(kind detection.ErrorKind, message string, status int, details string) Result {
	return Result{Err: &detection.ErrorEnvelope{Kind: kind, Message: message, HTTPStatus: status, Details: details}}
}
