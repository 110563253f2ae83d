// Package postprocess - Score reduction for classification outputs.
package postprocess

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// ErrRank indicates a rank request that the score vector cannot satisfy.
var ErrRank = errors.New("rank out of range")

// Prediction represents a single ranked classification result.
type Prediction struct {
	// The predicted class index of the result.
	Class int `json:"class" yaml:"class"`
	// The probability score of the result.
	Probability float32 `json:"probability" yaml:"probability"`
}

// TopK reduces a score vector to its k highest-scoring classes.
//
// Results are ordered by descending probability. Equal probabilities rank
// the smaller class index first, so repeated calls over the same vector
// always produce the same ordering. The input slice is never modified.
//
// Arguments:
// - scores: The per-class scores emitted by the model for one image.
// - k: How many classes to return. Must be in [1, len(scores)].
//
// Returns:
// - The k best predictions in rank order.
// - ErrRank if k is out of range for the vector.
//
// @example
// top, err := postprocess.TopK(scores, 5)
//
//	if err != nil {
//	    return err
//	}
//
// best := top[0].Class
func TopK(scores []float32, k int) ([]Prediction, error) {
	if k <= 0 {
		return nil, errors.Wrapf(ErrRank, "k must be positive, got %d", k)
	}
	if k > len(scores) {
		return nil, errors.Wrapf(ErrRank, "k %d exceeds %d scored classes", k, len(scores))
	}

	ranked := make([]Prediction, len(scores))
	for i, score := range scores {
		ranked[i] = Prediction{Class: i, Probability: score}
	}

	// Descending by probability, ascending by class index on ties.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Probability != ranked[j].Probability {
			return ranked[i].Probability > ranked[j].Probability
		}
		return ranked[i].Class < ranked[j].Class
	})

	return ranked[:k:k], nil
}

// Softmax converts a logit vector into a probability distribution.
//
// The largest logit is subtracted before exponentiation so that large
// magnitudes cannot overflow float32. The input slice is never modified.
//
// Arguments:
// - logits: The raw model outputs for one image.
//
// Returns:
// - A new vector of the same length summing to 1.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return []float32{}
	}

	max := logits[0]
	for _, logit := range logits[1:] {
		if logit > max {
			max = logit
		}
	}

	probs := make([]float32, len(logits))
	var sum float32
	for i, logit := range logits {
		probs[i] = math32.Exp(logit - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}

	return probs
}
