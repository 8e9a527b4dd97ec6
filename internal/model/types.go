package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"slices"
)

// UnknownLabel is reported when no denomination clears the confidence threshold.
const UnknownLabel = "Unknown"

var ErrMetadataMismatch = errors.New("model metadata does not match configuration")

// ModelConfig describes the input and output contract of the trained classifier.
// It is created once at startup and must not be modified afterwards.
type ModelConfig struct {
	InputWidth          int
	InputHeight         int
	Channels            int
	NormalizeOffset     float32
	NormalizeScale      float32
	Labels              []string // index order matches the model's output order
	ConfidenceThreshold float32
}

// DefaultConfig returns the configuration the banknote model was trained with.
// Swapping the artifact requires these values to change in lockstep.
func DefaultConfig() ModelConfig {
	return ModelConfig{
		InputWidth:      224,
		InputHeight:     224,
		Channels:        3,
		NormalizeOffset: 0,
		NormalizeScale:  255,
		Labels: []string{
			"ten", "twenty", "fifty", "hundred", "two hundred", "five hundred", "two thousand",
			"one", "five",
		},
		ConfidenceThreshold: 0.7,
	}
}

// InputShape is the NHWC shape of the model input, batch size 1.
func (c ModelConfig) InputShape() []int64 {
	return []int64{1, int64(c.InputHeight), int64(c.InputWidth), int64(c.Channels)}
}

// InputSize is the number of float32 elements in one input tensor.
func (c ModelConfig) InputSize() int {
	return c.InputWidth * c.InputHeight * c.Channels
}

// Tensor is a flat float32 buffer, logically shaped [1, height, width, channels], row-major.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Matches reports whether t has exactly the configured input shape.
func (t Tensor) Matches(c ModelConfig) bool {
	return slices.Equal(t.Shape, c.InputShape()) && len(t.Data) == c.InputSize()
}

// ScoreVector holds one raw classifier score per label, in label order.
type ScoreVector []float32

// DetectionResult is the labeled outcome of one detection request.
type DetectionResult struct {
	Label      string
	Confidence float32
	Source     image.Image // the image that was submitted, for display
}

// NoDetection is the canonical zero-confidence result.
func NoDetection(src image.Image) DetectionResult {
	return DetectionResult{
		Label:      UnknownLabel,
		Confidence: 0,
		Source:     src,
	}
}

// Metadata is the optional JSON sidecar shipped next to a model artifact.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

func LoadMetadata(path string) (*Metadata, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var md Metadata
	if err := json.Unmarshal(b, &md); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &md, nil
}

// Check verifies that the artifact described by md was trained for config c.
// Empty fields are not checked.
func (md *Metadata) Check(c ModelConfig) error {
	if len(md.InputShape) != 0 && !slices.Equal(md.InputShape, c.InputShape()) {
		return fmt.Errorf("%w: input shape %v, expected %v", ErrMetadataMismatch, md.InputShape, c.InputShape())
	}
	if len(md.OutputShape) != 0 {
		n := int64(1)
		for _, d := range md.OutputShape {
			n *= d
		}
		if n != int64(len(c.Labels)) {
			return fmt.Errorf("%w: output shape %v does not hold %d scores", ErrMetadataMismatch, md.OutputShape, len(c.Labels))
		}
	}
	if len(md.Classes) != 0 && !slices.Equal(md.Classes, c.Labels) {
		return fmt.Errorf("%w: classes %q, expected %q", ErrMetadataMismatch, md.Classes, c.Labels)
	}
	if md.ImageSize != 0 && (md.ImageSize != c.InputWidth || md.ImageSize != c.InputHeight) {
		return fmt.Errorf("%w: image size %d, expected %dx%d", ErrMetadataMismatch, md.ImageSize, c.InputWidth, c.InputHeight)
	}
	return nil
}
