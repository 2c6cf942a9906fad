package imageinput

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/example/brewguard/internal/detection"
	"github.com/example/brewguard/internal/events"
)

// MaxUploadSize is the largest accepted image (10 MiB).
const MaxUploadSize = 10 * 1024 * 1024

const eventContext = "upload"

var allowedMimeTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
}

// ValidationError reports why a candidate was rejected before any network call.
type ValidationError struct {
	Kind    detection.ErrorKind
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Envelope converts the failure to the presentation error shape.
func (e *ValidationError) Envelope() *detection.ErrorEnvelope {
	env := &detection.ErrorEnvelope{Kind: e.Kind, Message: e.Message}
	if e.Err != nil {
		env.Details = detection.TruncateDetails(e.Err.Error())
	}
	return env
}

// Validator checks upload constraints and encodes accepted files as data URIs.
type Validator struct {
	events  *events.Emitter
	maxSize int64
}

// NewValidator creates a validator that reports outcomes to emitter.
func NewValidator(emitter *events.Emitter) *Validator {
	return &Validator{events: emitter, maxSize: MaxUploadSize}
}

// Validate checks MIME type and declared size. It performs no I/O.
func (v *Validator) Validate(candidate detection.UploadCandidate) error {
	data := candidateData(candidate)
	v.events.Info(eventContext, "file selected", data)

	if _, ok := allowedMimeTypes[candidate.MimeType]; !ok {
		v.events.Warn(eventContext, "rejected unsupported file type", data)
		return &ValidationError{Kind: detection.KindUnsupportedType, Message: "Please upload a JPG or PNG image"}
	}
	if candidate.SizeBytes > v.maxSize {
		v.events.Warn(eventContext, "rejected oversized file", data)
		return &ValidationError{Kind: detection.KindTooLarge, Message: "File size exceeds 10MB limit"}
	}
	return nil
}

// Encode reads the candidate content and produces a base64 data URI. Content
// that turns out larger than the limit is rejected as TooLarge.
func (v *Validator) Encode(ctx context.Context, candidate detection.UploadCandidate) (detection.EncodedImage, error) {
	data := candidateData(candidate)
	if candidate.Content == nil {
		err := &ValidationError{Kind: detection.KindReadError, Message: "Failed to read image file", Err: errors.New("no content")}
		v.events.Error(eventContext, "file read failed", err, data)
		return detection.EncodedImage{}, err
	}
	if err := ctx.Err(); err != nil {
		verr := &ValidationError{Kind: detection.KindReadError, Message: "Failed to read image file", Err: err}
		v.events.Error(eventContext, "file read cancelled", verr, data)
		return detection.EncodedImage{}, verr
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(candidate.Content, v.maxSize+1))
	if err != nil {
		verr := &ValidationError{Kind: detection.KindReadError, Message: "Failed to read image file", Err: err}
		v.events.Error(eventContext, "file read failed", verr, data)
		return detection.EncodedImage{}, verr
	}
	if n > v.maxSize {
		v.events.Warn(eventContext, "rejected oversized file content", data)
		return detection.EncodedImage{}, &ValidationError{Kind: detection.KindTooLarge, Message: "File size exceeds 10MB limit"}
	}

	uri := "data:" + candidate.MimeType + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	data["readBytes"] = n
	v.events.Info(eventContext, "file read complete", data)
	return detection.EncodedImage{DataURI: uri}, nil
}

// ValidateAndEncode runs Validate followed by Encode.
func (v *Validator) ValidateAndEncode(ctx context.Context, candidate detection.UploadCandidate) (detection.EncodedImage, error) {
	if err := v.Validate(candidate); err != nil {
		return detection.EncodedImage{}, err
	}
	return v.Encode(ctx, candidate)
}

func candidateData(c detection.UploadCandidate) map[string]any {
	return map[string]any{
		"fileName": c.FileName,
		"size":     c.SizeBytes,
		"type":     c.MimeType,
	}
}
