// Package images - Encoded image handling for classifier inputs.
package images

import (
	"bytes"
	"image"

	// Register the codecs the gateway accepts.
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
)

// ImageFormat represents supported image formats.
type ImageFormat string

const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatUnknown marks bytes that match no supported format.
	FormatUnknown ImageFormat = "unknown"
)

// Image represents an encoded image with its sniffed format.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
}

// NewImage wraps encoded bytes together with their sniffed format.
func NewImage(data []byte) Image {
	return Image{Format: DetectFormat(data), Data: data}
}

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
)

// DetectFormat sniffs the image format from its leading magic bytes.
//
// Arguments:
// - data: The encoded image bytes.
//
// Returns:
// - The detected format, or FormatUnknown when no signature matches.
func DetectFormat(data []byte) ImageFormat {
	switch {
	case bytes.HasPrefix(data, jpegMagic):
		return FormatJPEG
	case bytes.HasPrefix(data, pngMagic):
		return FormatPNG
	default:
		return FormatUnknown
	}
}

// Decode decodes encoded bytes into a pixel image.
//
// Only the codecs registered by this package (JPEG and PNG) decode
// successfully; anything else fails with a wrapped codec error.
//
// Arguments:
// - data: The encoded image bytes.
//
// Returns:
// - The decoded image.
// - The container format reported by the codec.
// - error if the bytes are empty or undecodable.
func Decode(data []byte) (image.Image, ImageFormat, error) {
	if len(data) == 0 {
		return nil, FormatUnknown, errors.New("image data is empty")
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, FormatUnknown, errors.Wrap(err, "decoding image")
	}

	return img, ImageFormat(format), nil
}
