package model

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func TestImageSizeOf(t *testing.T) {
	size, err := imageSizeOf(ort.NewShape(1, 28, 28, 3), 0)
	require.NoError(t, err)
	assert.Equal(t, 28, size)

	size, err = imageSizeOf(ort.NewShape(1, 64, 64, 3), 64)
	require.NoError(t, err)
	assert.Equal(t, 64, size)

	for _, shape := range []ort.Shape{
		ort.NewShape(1, 3, 28, 28),
		ort.NewShape(2, 28, 28, 3),
		ort.NewShape(1, 28, 32, 3),
		ort.NewShape(28, 28, 3),
	} {
		_, err := imageSizeOf(shape, 0)
		assert.ErrorIs(t, err, ErrShapeMismatch, "shape %v", shape)
	}

	_, err = imageSizeOf(ort.NewShape(1, 28, 28, 3), 32)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestFixedBatch(t *testing.T) {
	assert.Equal(t, []int64{1, 28, 28, 3}, fixedBatch(ort.NewShape(-1, 28, 28, 3)))
	assert.Equal(t, []int64{1, 7}, fixedBatch(ort.NewShape(1, 7)))
}

func TestNewONNXClassifierRejectsBadPaths(t *testing.T) {
	dir := t.TempDir()

	_, err := NewONNXClassifier(ONNXConfig{ModelPath: filepath.Join(dir, "skin_lesion_model.onnx")})
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = NewONNXClassifier(ONNXConfig{ModelPath: dir})
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.onnx")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = NewONNXClassifier(ONNXConfig{ModelPath: empty})
	assert.Error(t, err)
}

// Needs onnxruntime and an exported lesion model:
// ONCO_TEST_ONNX_MODEL=models/skin_lesion_model.onnx ONCO_ORT_LIB=/usr/lib/libonnxruntime.so
func TestONNXClassifier(t *testing.T) {
	modelPath := os.Getenv("ONCO_TEST_ONNX_MODEL")
	if modelPath == "" {
		t.Skip("ONCO_TEST_ONNX_MODEL not set")
	}
	c, err := NewONNXClassifier(ONNXConfig{
		ModelPath:         modelPath,
		SharedLibraryPath: os.Getenv("ONCO_ORT_LIB"),
		Sessions:          2,
	})
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, DefaultImageSize, c.InputSize())
	require.Equal(t, DefaultVocabulary().Len(), c.OutputSize())

	probs, err := c.Classify(context.Background(), NewTensor(c.InputSize()))
	require.NoError(t, err)
	pred, err := Predict(probs, DefaultVocabulary())
	require.NoError(t, err)
	assert.True(t, DefaultVocabulary().Contains(pred.PredictedClass))

	_, err = c.Classify(context.Background(), NewTensor(c.InputSize()+1))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
