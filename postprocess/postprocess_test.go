package postprocess

import (
	"errors"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTopKRanksCraftedScores validates ranking against a hand-built score vector.
//
// The vector carries five known peaks inside an otherwise flat distribution,
// so both the selected classes and their order are fully determined.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestTopKRanksCraftedScores(t *testing.T) {
	scores := make([]float32, 1001)
	for i := range scores {
		scores[i] = 1.0
	}
	scores[10] = 4.0
	scores[5] = 3.5
	scores[49] = 3.0
	scores[2] = 2.5
	scores[998] = 2.0

	// Normalize so the vector looks like a probability distribution.
	var sum float32
	for _, s := range scores {
		sum += s
	}
	for i := range scores {
		scores[i] /= sum
	}

	top, err := TopK(scores, 5)
	require.NoError(t, err, "ranking a valid vector should succeed")
	require.Len(t, top, 5, "top-5 should contain exactly five predictions")

	expectedClasses := []int{10, 5, 49, 2, 998}
	expectedScores := []float32{4.0 / sum, 3.5 / sum, 3.0 / sum, 2.5 / sum, 2.0 / sum}
	for i, p := range top {
		assert.Equal(t, expectedClasses[i], p.Class, "rank %d should select the expected class", i)
		assert.InDelta(t, expectedScores[i], p.Probability, 1e-6, "rank %d should carry the class score", i)
	}

	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].Probability, top[i].Probability,
			"probabilities should be non-increasing")
	}
}

// TestTopKTieBreaksByClassIndex validates deterministic ordering of equal scores.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestTopKTieBreaksByClassIndex(t *testing.T) {
	scores := []float32{0.2, 0.5, 0.5, 0.1, 0.5}

	top, err := TopK(scores, 4)
	require.NoError(t, err, "ranking should succeed")

	classes := make([]int, len(top))
	for i, p := range top {
		classes[i] = p.Class
	}
	assert.Equal(t, []int{1, 2, 4, 0}, classes, "tied scores should rank smaller class indices first")
}

// TestTopKRankValidation validates rejection of out-of-range ranks.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestTopKRankValidation(t *testing.T) {
	scores := []float32{0.1, 0.2, 0.7}

	testCases := []struct {
		name      string
		k         int
		expectErr bool
	}{
		{name: "Zero rank", k: 0, expectErr: true},
		{name: "Negative rank", k: -3, expectErr: true},
		{name: "Rank beyond vector", k: 4, expectErr: true},
		{name: "Full-length rank", k: 3, expectErr: false},
		{name: "Single rank", k: 1, expectErr: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			top, err := TopK(scores, tc.k)
			if tc.expectErr {
				require.Error(t, err, "out-of-range rank should fail")
				assert.True(t, errors.Is(err, ErrRank), "failure should be a rank error")
				assert.Nil(t, top, "no predictions should come back on error")
			} else {
				require.NoError(t, err, "in-range rank should succeed")
				assert.Len(t, top, tc.k, "result length should match the rank")
			}
		})
	}
}

// TestTopKFullLength validates that k equal to the vector length returns every class.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestTopKFullLength(t *testing.T) {
	scores := []float32{0.3, 0.1, 0.4, 0.2}

	top, err := TopK(scores, len(scores))
	require.NoError(t, err, "full-length rank should succeed")
	require.Len(t, top, len(scores), "every class should be ranked")

	classes := make([]int, len(top))
	for i, p := range top {
		classes[i] = p.Class
	}
	assert.Equal(t, []int{2, 0, 3, 1}, classes, "classes should be ordered by descending score")
}

// TestTopKDoesNotMutateInput validates that ranking leaves the score vector intact.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestTopKDoesNotMutateInput(t *testing.T) {
	scores := []float32{0.5, 0.1, 0.9, 0.3}
	original := make([]float32, len(scores))
	copy(original, scores)

	_, err := TopK(scores, 2)
	require.NoError(t, err, "ranking should succeed")

	assert.Equal(t, original, scores, "input scores should not be modified")
}

// TestSoftmaxDistribution validates that softmax yields a normalized distribution
// preserving the order of its inputs.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestSoftmaxDistribution(t *testing.T) {
	logits := []float32{1.0, 2.0, 3.0, 0.5}

	probs := Softmax(logits)
	require.Len(t, probs, len(logits), "softmax should preserve vector length")

	var sum float32
	for _, p := range probs {
		assert.Greater(t, p, float32(0), "probabilities should be strictly positive")
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-4, "probabilities should sum to one")

	assert.Greater(t, probs[2], probs[1], "larger logits should keep larger probabilities")
	assert.Greater(t, probs[1], probs[0], "larger logits should keep larger probabilities")
	assert.Greater(t, probs[0], probs[3], "larger logits should keep larger probabilities")
}

// TestSoftmaxLargeLogits validates numerical stability for extreme inputs.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestSoftmaxLargeLogits(t *testing.T) {
	logits := []float32{1000.0, 999.0, 998.0}

	probs := Softmax(logits)
	require.Len(t, probs, len(logits), "softmax should preserve vector length")

	var sum float32
	for i, p := range probs {
		assert.False(t, math32.IsNaN(p), "probability %d should not be NaN", i)
		assert.False(t, math32.IsInf(p, 0), "probability %d should not be infinite", i)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-4, "probabilities should sum to one")
	assert.Greater(t, probs[0], probs[1], "ordering should survive the shift")
}

// TestSoftmaxEmptyInput validates the zero-length edge case.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestSoftmaxEmptyInput(t *testing.T) {
	probs := Softmax(nil)
	assert.Empty(t, probs, "empty input should yield an empty distribution")
}

// BenchmarkTopK measures ranking cost over a full classifier output vector.
//
// Arguments:
//   - b: Benchmarking context for performance measurement and reporting.
func BenchmarkTopK(b *testing.B) {
	scores := make([]float32, 1001)
	for i := range scores {
		scores[i] = float32(i%97) / 97.0
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		top, err := TopK(scores, 5)
		if err != nil {
			b.Fatalf("ranking failed: %v", err)
		}
		_ = top // Prevent optimization elimination
	}
}

// BenchmarkSoftmax measures normalization cost over a full classifier output vector.
//
// Arguments:
//   - b: Benchmarking context for performance measurement and reporting.
func BenchmarkSoftmax(b *testing.B) {
	logits := make([]float32, 1001)
	for i := range logits {
		logits[i] = float32(i%31) - 15.0
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		probs := Softmax(logits)
		_ = probs // Prevent optimization elimination
	}
}
