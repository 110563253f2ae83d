package preprocess

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-serving/images"
)

// ErrDecode indicates an input image that cannot become a model tensor.
var ErrDecode = errors.New("image decode failed")

// Channels is the number of color channels in every decoded tensor.
const Channels = 3

// Config defines the pixel contract of the model input.
type Config struct {
	// Height is the required decoded image height in pixels.
	Height int `json:"height" yaml:"height"`
	// Width is the required decoded image width in pixels.
	Width int `json:"width" yaml:"width"`
	// Means are subtracted channel-wise after the red and blue channels
	// swap. Index 0 therefore applies to blue, 1 to green, 2 to red.
	Means [Channels]float32 `json:"means" yaml:"means"`
}

// Decoder converts encoded images into normalized pixel tensors.
//
// A Decoder is stateless and safe for unbounded concurrent use.
type Decoder struct {
	config Config
}

// NewDecoder creates a decoder bound to a model input contract.
//
// Arguments:
// - config: The pixel contract of the target model.
//
// Returns:
// - A configured Decoder instance.
//
// @example
//
//	decoder := preprocess.NewDecoder(preprocess.Config{
//	    Height: 224,
//	    Width:  224,
//	    Means:  [3]float32{103.939, 116.779, 123.68},
//	})
func NewDecoder(config Config) *Decoder {
	return &Decoder{config: config}
}

// Decode converts one encoded image into a normalized HWC pixel vector.
//
// The image must decode to exactly the configured dimensions; the decoder
// never resizes, so a mismatch is a contract violation. Pixels are emitted
// row-major with the red and blue channels swapped, and the configured
// means are subtracted after the swap. Any alpha channel is dropped.
//
// Identical inputs produce bit-identical outputs.
//
// Arguments:
// - data: The encoded JPEG or PNG bytes.
//
// Returns:
// - A float32 vector of length Height*Width*Channels.
// - ErrDecode if the bytes are empty, undecodable, wrongly sized, or use
//   an unsupported color layout.
func (d *Decoder) Decode(data []byte) ([]float32, error) {
	img, err := d.decodeImage(data)
	if err != nil {
		return nil, err
	}

	pixels := d.imageToTensor(img)
	d.normalize(pixels)

	return pixels, nil
}

// AssembleBatch decodes a batch of encoded images into one NHWC tensor.
//
// Images decode independently under bounded parallelism, but row i of the
// output always holds input i. A single failing image fails the whole
// batch; when several fail, the lowest failing index decides the error.
// Zero inputs yield a valid empty tensor of shape (0, H, W, C).
//
// Arguments:
// - encoded: The encoded images, one per batch row.
// - maxConcurrency: Maximum number of images to decode concurrently.
//
// Returns:
// - A float32 tensor of shape (len(encoded), Height, Width, Channels).
// - ErrDecode annotated with the failing index if any image is rejected.
func (d *Decoder) AssembleBatch(encoded [][]byte, maxConcurrency int) (*tensor.Dense, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	if len(encoded) == 0 {
		return tensor.New(
			tensor.Of(tensor.Float32),
			tensor.WithShape(0, d.config.Height, d.config.Width, Channels),
		), nil
	}

	rows := make([][]float32, len(encoded))
	errs := make([]error, len(encoded))

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, data := range encoded {
		wg.Add(1)
		go func(idx int, data []byte) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			row, err := d.Decode(data)
			if err != nil {
				errs[idx] = errors.Wrapf(err, "image %d", idx)
			} else {
				rows[idx] = row
			}
		}(i, data)
	}

	wg.Wait()

	// The lowest failing index decides the batch error.
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	flat := make([]float32, 0, len(encoded)*d.rowSize())
	for _, row := range rows {
		flat = append(flat, row...)
	}

	return tensor.New(
		tensor.WithShape(len(encoded), d.config.Height, d.config.Width, Channels),
		tensor.Of(tensor.Float32),
		tensor.WithBacking(flat),
	), nil
}

// rowSize is the flat length of one decoded image.
func (d *Decoder) rowSize() int {
	return d.config.Height * d.config.Width * Channels
}

// decodeImage decodes the bytes and enforces the input contract.
func (d *Decoder) decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrDecode, "image data is empty")
	}

	img, _, err := images.Decode(data)
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "%v", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != d.config.Width || bounds.Dy() != d.config.Height {
		return nil, errors.Wrapf(ErrDecode, "image is %dx%d, model input requires %dx%d",
			bounds.Dx(), bounds.Dy(), d.config.Width, d.config.Height)
	}

	// The model consumes three color channels. Single-channel and print
	// color spaces have no faithful three-channel reading here.
	switch img.(type) {
	case *image.Gray, *image.Gray16, *image.CMYK:
		return nil, errors.Wrapf(ErrDecode, "unsupported color layout %T", img)
	}

	return img, nil
}

// imageToTensor extracts HWC float32 pixels with the red and blue channels
// swapped, so channel 0 of every pixel holds blue.
func (d *Decoder) imageToTensor(img image.Image) []float32 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	pixels := make([]float32, height*width*Channels)

	idx := 0
	switch src := img.(type) {
	case *image.NRGBA:
		// Straight channel reads keep alpha out without premultiplying.
		for y := 0; y < height; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+width*4]
			for x := 0; x < width; x++ {
				pixels[idx] = float32(row[x*4+2])
				pixels[idx+1] = float32(row[x*4+1])
				pixels[idx+2] = float32(row[x*4])
				idx += 3
			}
		}
	case *image.RGBA:
		for y := 0; y < height; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+width*4]
			for x := 0; x < width; x++ {
				pixels[idx] = float32(row[x*4+2])
				pixels[idx+1] = float32(row[x*4+1])
				pixels[idx+2] = float32(row[x*4])
				idx += 3
			}
		}
	default:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := img.At(x, y).RGBA()

				// RGBA() reports 16-bit values; take the high byte.
				pixels[idx] = float32(uint8(b >> 8))
				pixels[idx+1] = float32(uint8(g >> 8))
				pixels[idx+2] = float32(uint8(r >> 8))
				idx += 3
			}
		}
	}

	return pixels
}

// normalize subtracts the configured channel means in-place.
//
// The subtraction happens after channel reversal; the means are calibrated
// against the reversed layout.
func (d *Decoder) normalize(pixels []float32) {
	for i := 0; i < len(pixels); i += Channels {
		pixels[i] -= d.config.Means[0]
		pixels[i+1] -= d.config.Means[1]
		pixels[i+2] -= d.config.Means[2]
	}
}
