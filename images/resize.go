package images

import (
	"bytes"
	"image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// fitJPEGQuality is the encoder quality used when re-encoding fitted JPEGs.
const fitJPEGQuality = 95

// Fit scales encoded image bytes to exactly width by height pixels.
//
// Images already matching the target dimensions pass through untouched, so
// fitting is idempotent. Everything else is resampled with Lanczos3 and
// re-encoded in its original format. The serving decoder never resizes;
// this helper exists for clients whose files do not match the model edge.
//
// Arguments:
// - data: The encoded JPEG or PNG bytes.
// - width: The target width in pixels.
// - height: The target height in pixels.
//
// Returns:
// - Encoded bytes of an image with exactly the target dimensions.
// - error if the input cannot be decoded or re-encoded.
//
// @example
// fitted, err := images.Fit(raw, 224, 224)
//
//	if err != nil {
//	    return err
//	}
func Fit(data []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid target dimensions: %dx%d", width, height)
	}

	img, format, err := Decode(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	if bounds.Dx() == width && bounds.Dy() == height {
		return data, nil
	}

	resized := resize.Resize(uint(width), uint(height), img, resize.Lanczos3)

	var buf bytes.Buffer
	switch format {
	case FormatPNG:
		err = png.Encode(&buf, resized)
	case FormatJPEG:
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: fitJPEGQuality})
	default:
		return nil, errors.Errorf("cannot re-encode %s images", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s image", format)
	}

	return buf.Bytes(), nil
}
