package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDetectFormat validates magic-byte sniffing across supported and junk inputs.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestDetectFormat(t *testing.T) {
	testCases := []struct {
		name     string
		data     []byte
		expected ImageFormat
	}{
		{name: "JPEG", data: createTestJPEG(t, 16, 16), expected: FormatJPEG},
		{name: "PNG", data: createTestPNG(t, 16, 16), expected: FormatPNG},
		{name: "Junk bytes", data: []byte{0x00, 0x01, 0x02, 0x03}, expected: FormatUnknown},
		{name: "Empty", data: nil, expected: FormatUnknown},
		{name: "Truncated PNG signature", data: []byte{0x89, 0x50, 0x4E}, expected: FormatUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, DetectFormat(tc.data), "sniffed format should match")
		})
	}
}

// TestNewImage validates that wrapping bytes records the sniffed format.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestNewImage(t *testing.T) {
	data := createTestPNG(t, 8, 8)

	img := NewImage(data)
	assert.Equal(t, FormatPNG, img.Format, "format should be sniffed from the data")
	assert.Equal(t, data, img.Data, "data should be carried unchanged")
}

// TestDecodeSupportedFormats validates decoding of JPEG and PNG payloads.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestDecodeSupportedFormats(t *testing.T) {
	testCases := []struct {
		name     string
		data     []byte
		expected ImageFormat
	}{
		{name: "JPEG", data: createTestJPEG(t, 32, 24), expected: FormatJPEG},
		{name: "PNG", data: createTestPNG(t, 32, 24), expected: FormatPNG},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			img, format, err := Decode(tc.data)
			require.NoError(t, err, "decoding should succeed")
			assert.Equal(t, tc.expected, format, "codec format should match")
			assert.Equal(t, 32, img.Bounds().Dx(), "decoded width should match")
			assert.Equal(t, 24, img.Bounds().Dy(), "decoded height should match")
		})
	}
}

// TestDecodeRejectsBadInput validates failure paths for empty and corrupt bytes.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestDecodeRejectsBadInput(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{name: "Empty", data: nil},
		{name: "Junk", data: []byte("definitely not an image")},
		{name: "Truncated JPEG", data: []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			img, format, err := Decode(tc.data)
			assert.Error(t, err, "decoding should fail")
			assert.Nil(t, img, "no image should come back on error")
			assert.Equal(t, FormatUnknown, format, "failed decodes should report an unknown format")
		})
	}
}

// Helper functions for test support

// createTestJPEG encodes a synthetic gradient image as JPEG.
//
// Arguments:
//   - t: Testing interface for error reporting.
//   - width: The desired image width in pixels.
//   - height: The desired image height in pixels.
//
// Returns:
//   - []byte: The encoded JPEG data.
func createTestJPEG(t testing.TB, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint8((x * 255) / width)
			g := uint8((y * 255) / height)
			b := uint8(((x + y) * 255) / (width + height))
			img.Set(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}

	var buf bytes.Buffer
	err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	require.NoError(t, err, "JPEG encoding should succeed")

	return buf.Bytes()
}

// createTestPNG encodes a synthetic checkerboard image as PNG.
//
// Arguments:
//   - t: Testing interface for error reporting.
//   - width: The desired image width in pixels.
//   - height: The desired image height in pixels.
//
// Returns:
//   - []byte: The encoded PNG data.
func createTestPNG(t testing.TB, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if (x/4+y/4)%2 == 0 {
				img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
			} else {
				img.Set(x, y, color.RGBA{R: 50, G: 50, B: 50, A: 255})
			}
		}
	}

	var buf bytes.Buffer
	err := png.Encode(&buf, img)
	require.NoError(t, err, "PNG encoding should succeed")

	return buf.Bytes()
}
