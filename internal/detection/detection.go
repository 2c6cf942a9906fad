package detection

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ModelType selects the inference model used by the upstream service.
type ModelType string

const (
	ModelYolo11mFullLeaf ModelType = "yolo11m-full-leaf"
	ModelSpotsFullLeaf   ModelType = "spots-full-leaf"
)

// ParseModelType validates a model identifier.
func ParseModelType(value string) (ModelType, error) {
	switch m := ModelType(strings.TrimSpace(value)); m {
	case ModelYolo11mFullLeaf, ModelSpotsFullLeaf:
		return m, nil
	default:
		return "", fmt.Errorf("unknown model type %q", value)
	}
}

// DetectionType selects what the upstream service looks for.
type DetectionType string

const (
	DetectDisease DetectionType = "disease"
	DetectLeaf    DetectionType = "leaf"
	DetectBoth    DetectionType = "both"
)

// ParseDetectionType validates a detection type identifier.
func ParseDetectionType(value string) (DetectionType, error) {
	switch d := DetectionType(strings.TrimSpace(value)); d {
	case DetectDisease, DetectLeaf, DetectBoth:
		return d, nil
	default:
		return "", fmt.Errorf("unknown detection type %q", value)
	}
}

// UploadCandidate is a user-selected file awaiting validation.
type UploadCandidate struct {
	FileName  string
	SizeBytes int64
	MimeType  string
	Content   io.Reader
}

// EncodedImage is a base64 data URI ready for transport.
type EncodedImage struct {
	DataURI string
}

// MarshalJSON encodes the image as its bare data URI string.
func (e EncodedImage) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.DataURI)
}

// UnmarshalJSON decodes a bare data URI string.
func (e *EncodedImage) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &e.DataURI)
}

// Options holds the tunable parameters of a detection request.
type Options struct {
	ModelType     ModelType
	DetectionType DetectionType
	Confidence    int
	Overlap       int
}

// DefaultOptions mirrors the settings the web client submits by default.
func DefaultOptions() Options {
	return Options{
		ModelType:     ModelYolo11mFullLeaf,
		DetectionType: DetectDisease,
		Confidence:    50,
		Overlap:       50,
	}
}

// Validate checks enum membership and the [1,100] ranges.
func (o Options) Validate() error {
	if _, err := ParseModelType(string(o.ModelType)); err != nil {
		return err
	}
	if _, err := ParseDetectionType(string(o.DetectionType)); err != nil {
		return err
	}
	if o.Confidence < 1 || o.Confidence > 100 {
		return fmt.Errorf("confidence must be between 1 and 100, got %d", o.Confidence)
	}
	if o.Overlap < 1 || o.Overlap > 100 {
		return fmt.Errorf("overlap must be between 1 and 100, got %d", o.Overlap)
	}
	return nil
}

// DetectionRequest is the body forwarded to the upstream inference service.
// Values are copied on construction and never mutated afterwards.
type DetectionRequest struct {
	Image         EncodedImage  `json:"image"`
	ModelType     ModelType     `json:"modelType"`
	DetectionType DetectionType `json:"detectionType"`
	Confidence    int           `json:"confidence"`
	Overlap       int           `json:"overlap"`
}

// NewDetectionRequest builds a validated request.
func NewDetectionRequest(image EncodedImage, opts Options) (DetectionRequest, error) {
	req := DetectionRequest{
		Image:         image,
		ModelType:     opts.ModelType,
		DetectionType: opts.DetectionType,
		Confidence:    opts.Confidence,
		Overlap:       opts.Overlap,
	}
	if err := req.Validate(); err != nil {
		return DetectionRequest{}, err
	}
	return req, nil
}

// Options returns the tunable parameters of the request.
func (r DetectionRequest) Options() Options {
	return Options{
		ModelType:     r.ModelType,
		DetectionType: r.DetectionType,
		Confidence:    r.Confidence,
		Overlap:       r.Overlap,
	}
}

// Validate checks that the request is complete and within range.
func (r DetectionRequest) Validate() error {
	if !strings.HasPrefix(r.Image.DataURI, "data:image/") {
		return fmt.Errorf("image must be an image data URI")
	}
	return r.Options().Validate()
}

// DetectionResult is one finding reported by the upstream service.
type DetectionResult struct {
	Name        string  `json:"name"`
	Confidence  int     `json:"confidence"`
	Area        float64 `json:"area"`
	Description string  `json:"description"`
	Color       string  `json:"color"`
}

// DetectionResponse is the success payload of the upstream service.
// Detection order is the rendering order.
type DetectionResponse struct {
	ProcessedImage string            `json:"processedImage"`
	Detections     []DetectionResult `json:"detections"`
}
