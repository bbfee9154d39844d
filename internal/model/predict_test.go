package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictPicksArgmax(t *testing.T) {
	v := DefaultVocabulary()
	pred, err := Predict([]float32{0.05, 0.05, 0.1, 0.6, 0.1, 0.05, 0.05}, v)
	require.NoError(t, err)
	assert.Equal(t, "melanoma", pred.PredictedClass)
	assert.InDelta(t, 60.0, pred.Confidence, 1e-4)
	assert.False(t, pred.Degraded)
	assert.Len(t, pred.Probabilities, 7)
	assert.InDelta(t, 0.6, pred.Probabilities["melanoma"], 1e-6)
}

func TestPredictTiesGoToLowestIndex(t *testing.T) {
	v := DefaultVocabulary()
	pred, err := Predict([]float32{0.1, 0.3, 0.3, 0.1, 0.1, 0.05, 0.05}, v)
	require.NoError(t, err)
	assert.Equal(t, "basal cell carcinoma", pred.PredictedClass)
}

func TestPredictHasNoThreshold(t *testing.T) {
	v := DefaultVocabulary()
	uniform := make([]float32, 7)
	for i := range uniform {
		uniform[i] = 1.0 / 7
	}
	pred, err := Predict(uniform, v)
	require.NoError(t, err)
	assert.Equal(t, "actinic keratosis", pred.PredictedClass)
	assert.InDelta(t, 14.2857, pred.Confidence, 1e-3)
}

func TestPredictSkipsNaNAndClamps(t *testing.T) {
	v := DefaultVocabulary()
	nan := float32(math.NaN())
	pred, err := Predict([]float32{nan, 0.2, 1.5, 0, 0, 0, 0}, v)
	require.NoError(t, err)
	assert.Equal(t, "dermatofibroma", pred.PredictedClass)
	assert.Equal(t, 100.0, pred.Confidence)

	_, err = Predict([]float32{nan, nan, nan, nan, nan, nan, nan}, v)
	assert.Error(t, err)
}

func TestPredictRejectsLengthMismatch(t *testing.T) {
	_, err := Predict([]float32{0.5, 0.5}, DefaultVocabulary())
	assert.ErrorIs(t, err, ErrVocabularyMismatch)
}

func TestTensorLayout(t *testing.T) {
	tensor := NewTensor(2)
	assert.Equal(t, [4]int{1, 2, 2, 3}, tensor.Shape)
	assert.Equal(t, 12, tensor.Len())
	tensor.Data[(1*2+0)*3+2] = 0.5
	assert.Equal(t, float32(0.5), tensor.At(1, 0, 2))
}
