package images

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFitResizesToTarget validates scaling of oversized and undersized inputs.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestFitResizesToTarget(t *testing.T) {
	testCases := []struct {
		name   string
		data   []byte
		format ImageFormat
	}{
		{name: "Oversized JPEG", data: createTestJPEG(t, 448, 448), format: FormatJPEG},
		{name: "Undersized JPEG", data: createTestJPEG(t, 100, 80), format: FormatJPEG},
		{name: "Oversized PNG", data: createTestPNG(t, 512, 256), format: FormatPNG},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fitted, err := Fit(tc.data, 224, 224)
			require.NoError(t, err, "fitting should succeed")

			img, format, err := Decode(fitted)
			require.NoError(t, err, "fitted bytes should decode")
			assert.Equal(t, tc.format, format, "container format should be preserved")
			assert.Equal(t, 224, img.Bounds().Dx(), "fitted width should match the target")
			assert.Equal(t, 224, img.Bounds().Dy(), "fitted height should match the target")
		})
	}
}

// TestFitPassesThroughMatchingImages validates the idempotent fast path.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestFitPassesThroughMatchingImages(t *testing.T) {
	data := createTestPNG(t, 224, 224)

	fitted, err := Fit(data, 224, 224)
	require.NoError(t, err, "fitting should succeed")
	assert.Equal(t, data, fitted, "matching images should pass through byte-identical")
}

// TestFitRejectsBadInput validates failure paths for junk bytes and bad targets.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestFitRejectsBadInput(t *testing.T) {
	valid := createTestJPEG(t, 64, 64)

	testCases := []struct {
		name   string
		data   []byte
		width  int
		height int
	}{
		{name: "Junk bytes", data: []byte("not an image"), width: 224, height: 224},
		{name: "Zero width", data: valid, width: 0, height: 224},
		{name: "Negative height", data: valid, width: 224, height: -1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fitted, err := Fit(tc.data, tc.width, tc.height)
			assert.Error(t, err, "fitting should fail")
			assert.Nil(t, fitted, "no bytes should come back on error")
		})
	}
}

// BenchmarkFit measures the cost of fitting a camera-sized JPEG to the model edge.
//
// Arguments:
//   - b: Benchmarking context for performance measurement and reporting.
func BenchmarkFit(b *testing.B) {
	data := createTestJPEG(b, 1280, 720)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		fitted, err := Fit(data, 224, 224)
		if err != nil {
			b.Fatalf("fitting failed: %v", err)
		}
		_ = fitted // Prevent optimization elimination
	}
}
