package model

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

const (
	// DefaultImageSize is the square edge the lesion classifier was trained on.
	DefaultImageSize = 28
	// Channels is the number of color channels fed to the classifier (RGB).
	Channels = 3
)

// Metadata is the JSON sidecar exported next to the ONNX model.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name,omitempty"`
	OutputName  string   `json:"output_name,omitempty"`
}

// LoadMetadata reads and parses a metadata sidecar.
func LoadMetadata(path string) (Metadata, error) {
	var metadata Metadata
	raw, err := os.ReadFile(path)
	if err != nil {
		return metadata, errors.Wrap(err, "failed to read metadata")
	}
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return metadata, errors.Wrap(err, "failed to parse metadata")
	}
	if metadata.ImageSize < 0 {
		return metadata, errors.Errorf("invalid image_size %d in metadata", metadata.ImageSize)
	}
	return metadata, nil
}

// Tensor is a dense float32 batch in NHWC layout.
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// NewTensor allocates a zeroed single-item batch of size×size RGB pixels.
func NewTensor(size int) Tensor {
	return Tensor{
		Shape: [4]int{1, size, size, Channels},
		Data:  make([]float32, size*size*Channels),
	}
}

// At returns the value at row y, column x, channel c of the first batch item.
func (t Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Shape[2]+x)*t.Shape[3]+c]
}

// Len is the number of elements described by Shape.
func (t Tensor) Len() int {
	return t.Shape[0] * t.Shape[1] * t.Shape[2] * t.Shape[3]
}

// PredictionRequest carries an already normalized tensor, flattened NHWC.
type PredictionRequest struct {
	Image []float32 `json:"image"`
}

// Prediction is the response of one inference call.
type Prediction struct {
	RequestID      string             `json:"request_id,omitempty"`
	PredictedClass string             `json:"predicted_class"`
	Confidence     float64            `json:"confidence"`
	Degraded       bool               `json:"degraded,omitempty"`
	Probabilities  map[string]float32 `json:"probabilities,omitempty"`
}
