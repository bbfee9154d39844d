package model

import (
	"context"
	"math"

	"github.com/pkg/errors"
)

// Classifier maps a normalized tensor to a probability distribution over
// the vocabulary. Implementations must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, input Tensor) ([]float32, error)
	// InputSize is the square edge the classifier expects.
	InputSize() int
	// OutputSize is the number of classes the classifier scores.
	OutputSize() int
	Close() error
}

// Predict picks the most probable label. Ties resolve to the lowest index;
// no threshold is applied.
func Predict(probabilities []float32, vocab *Vocabulary) (Prediction, error) {
	if len(probabilities) != vocab.Len() {
		return Prediction{}, errors.Wrapf(ErrVocabularyMismatch,
			"classifier returned %d scores for %d labels", len(probabilities), vocab.Len())
	}

	bestIdx := -1
	var bestVal float32
	for i, p := range probabilities {
		if math.IsNaN(float64(p)) {
			continue
		}
		if bestIdx < 0 || p > bestVal {
			bestIdx = i
			bestVal = p
		}
	}
	if bestIdx < 0 {
		return Prediction{}, errors.New("classifier returned no finite scores")
	}

	return Prediction{
		PredictedClass: vocab.Label(bestIdx),
		Confidence:     clampPercent(float64(bestVal * 100)),
		Probabilities:  Distribution(probabilities, vocab),
	}, nil
}

// Distribution keys each score by its label.
func Distribution(probabilities []float32, vocab *Vocabulary) map[string]float32 {
	out := make(map[string]float32, len(probabilities))
	for i, p := range probabilities {
		if i < vocab.Len() {
			out[vocab.Label(i)] = p
		}
	}
	return out
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
