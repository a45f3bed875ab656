package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const probFloor = 1e-12

// Softmax returns the normalized exponentials of logits.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	lse := floats.LogSumExp(logits)
	for i, v := range logits {
		out[i] = math.Exp(v - lse)
	}
	return out
}

// CrossEntropy is the negative log probability assigned to label.
func CrossEntropy(probs []float64, label int) float64 {
	return -math.Log(math.Max(probs[label], probFloor))
}

// Argmax returns the index of the largest value; ties go to the lowest index.
func Argmax(v []float64) int {
	if len(v) == 0 {
		return -1
	}
	return floats.MaxIdx(v)
}
