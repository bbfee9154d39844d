package model

import "math"

// Heuristic is the degraded-mode stand-in used by the CLI when no
// classifier can be loaded. It looks at coarse brightness and contrast only
// and is not a fitted model; results are always flagged Degraded.
func Heuristic(t Tensor) Prediction {
	brightness, contrast := stats(t.Data)

	pred := Prediction{Degraded: true}
	switch {
	case contrast > 0.2 && brightness < 0.6:
		pred.PredictedClass = "melanoma"
		pred.Confidence = 70.0
	case contrast < 0.15:
		pred.PredictedClass = "nevus"
		pred.Confidence = 65.0
	default:
		pred.PredictedClass = "pigmented benign keratosis"
		pred.Confidence = 60.0
	}
	return pred
}

// stats returns the mean and population standard deviation.
func stats(values []float32) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := float64(v) - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
