// Package utils holds the numeric helpers shared by the training and
// evaluation loops.
package utils

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// CrossEntropy computes the mean cross-entropy of scores against the
// flattened targets, one target per score row, together with the
// gradient on the scores. Rows are log-sum-exp stabilized.
func CrossEntropy(scores *mat.Dense, targets []int) (float64, *mat.Dense) {
	rows, cols := scores.Dims()
	if len(targets) != rows {
		panic("utils: target length does not match score rows")
	}
	grad := mat.NewDense(rows, cols, nil)
	total := 0.0
	inv := 1.0 / float64(rows)
	for i := 0; i < rows; i++ {
		maxv := scores.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := scores.At(i, j); v > maxv {
				maxv = v
			}
		}
		sum := 0.0
		for j := 0; j < cols; j++ {
			sum += math.Exp(scores.At(i, j) - maxv)
		}
		logZ := maxv + math.Log(sum)
		total += logZ - scores.At(i, targets[i])

		for j := 0; j < cols; j++ {
			p := math.Exp(scores.At(i, j)-maxv) / sum
			grad.Set(i, j, p*inv)
		}
		grad.Set(i, targets[i], grad.At(i, targets[i])-inv)
	}
	return total * inv, grad
}

// CrossEntropyLoss is the gradient-free variant of CrossEntropy for
// evaluation passes.
func CrossEntropyLoss(scores *mat.Dense, targets []int) float64 {
	rows, cols := scores.Dims()
	if len(targets) != rows {
		panic("utils: target length does not match score rows")
	}
	total := 0.0
	for i := 0; i < rows; i++ {
		maxv := scores.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := scores.At(i, j); v > maxv {
				maxv = v
			}
		}
		sum := 0.0
		for j := 0; j < cols; j++ {
			sum += math.Exp(scores.At(i, j) - maxv)
		}
		total += maxv + math.Log(sum) - scores.At(i, targets[i])
	}
	return total / float64(rows)
}

// SampleLogits draws a token id from softmax(logits/temperature).
func SampleLogits(logits []float64, temperature float64, rng *rand.Rand) int {
	if temperature <= 0 {
		temperature = 1
	}
	maxv := logits[0]
	for _, v := range logits[1:] {
		if v > maxv {
			maxv = v
		}
	}
	probs := make([]float64, len(logits))
	sum := 0.0
	for i, v := range logits {
		p := math.Exp((v - maxv) / temperature)
		probs[i] = p
		sum += p
	}
	r := rng.Float64() * sum
	for i, p := range probs {
		r -= p
		if r <= 0 {
			return i
		}
	}
	return len(probs) - 1
}

// Perplexity is exp(mean cross-entropy loss), capped to stay printable
// when training diverges.
func Perplexity(loss float64) float64 {
	if loss > 700 {
		return math.Inf(1)
	}
	return math.Exp(loss)
}
