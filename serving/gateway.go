package serving

import (
	"context"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-serving/postprocess"
	"github.com/nvr-ai/go-serving/preprocess"
)

// ErrInference marks failures at the model boundary. Gateway errors
// wrap it, so errors.Is(err, ErrInference) detects the class.
var ErrInference = errors.New("inference failed")

// Invoker scores an assembled batch.
//
// Implementations return exactly one score vector per batch row, in
// row order, and never return partial results. The tensor layout is
// (N, H, W, C) float32.
type Invoker interface {
	Infer(ctx context.Context, batch *tensor.Dense) ([][]float32, error)
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, batch *tensor.Dense) ([][]float32, error)

// Infer calls the wrapped function.
func (f InvokerFunc) Infer(ctx context.Context, batch *tensor.Dense) ([][]float32, error) {
	return f(ctx, batch)
}

// Gateway turns encoded images into ranked classification results.
//
// A Gateway holds no per-request state, so one instance serves
// concurrent Predict calls.
type Gateway struct {
	config  Config
	decoder *preprocess.Decoder
	invoker Invoker
	sem     chan struct{}
}

// NewGateway builds a gateway over the given model boundary.
//
// Arguments:
// - config: The model contract and execution limits.
// - invoker: The scoring backend.
//
// Returns:
// - A ready Gateway.
// - error if the configuration is inconsistent or the invoker is nil.
//
// @example
//
//	gateway, err := serving.NewGateway(serving.DefaultConfig(), session)
//	if err != nil {
//	    return err
//	}
//
//	results, err := gateway.Predict(ctx, images, 0)
func NewGateway(config Config, invoker Invoker) (*Gateway, error) {
	if config.Height <= 0 || config.Width <= 0 {
		return nil, errors.Errorf("input dimensions must be positive, got %dx%d", config.Width, config.Height)
	}
	if config.NumClasses <= 0 {
		return nil, errors.Errorf("class count must be positive, got %d", config.NumClasses)
	}
	if config.DefaultTopK <= 0 || config.DefaultTopK > config.NumClasses {
		return nil, errors.Errorf("default top-k %d must be in 1..%d", config.DefaultTopK, config.NumClasses)
	}
	if invoker == nil {
		return nil, errors.New("invoker must not be nil")
	}

	g := &Gateway{
		config: config,
		decoder: preprocess.NewDecoder(preprocess.Config{
			Height: config.Height,
			Width:  config.Width,
			Means:  config.Means,
		}),
		invoker: invoker,
	}
	if config.MaxConcurrentInference > 0 {
		g.sem = make(chan struct{}, config.MaxConcurrentInference)
	}

	return g, nil
}

// Predict classifies a batch of encoded images.
//
// The call is atomic: it returns ranked results for every image or a
// single error, never a mix. Result order matches input order. Errors
// wrap preprocess.ErrDecode, postprocess.ErrRank, or ErrInference
// depending on the failing stage.
//
// Arguments:
// - ctx: Cancels decoding and scoring.
// - encoded: JPEG or PNG bytes, one entry per image.
// - k: The ranking depth. Zero selects the configured default.
//
// Returns:
// - One ranked prediction list per image, descending by probability.
// - error when any stage fails, wrapping that stage's sentinel.
func (g *Gateway) Predict(ctx context.Context, encoded [][]byte, k int) ([][]postprocess.Prediction, error) {
	if k == 0 {
		k = g.config.DefaultTopK
	}

	// Rank bounds are checked before any decode work so an invalid k
	// fails the same way regardless of image content.
	if k < 0 || k > g.config.NumClasses {
		return nil, errors.Wrapf(postprocess.ErrRank, "k %d must be in 1..%d", k, g.config.NumClasses)
	}

	if len(encoded) == 0 {
		return [][]postprocess.Prediction{}, nil
	}

	batch, err := g.decoder.AssembleBatch(encoded, g.config.DecodeConcurrency)
	if err != nil {
		return nil, err
	}

	scores, err := g.infer(ctx, batch)
	if err != nil {
		return nil, err
	}

	results := make([][]postprocess.Prediction, len(encoded))
	for i, row := range scores {
		if g.config.ApplySoftmax {
			row = postprocess.Softmax(row)
		}

		ranked, err := postprocess.TopK(row, k)
		if err != nil {
			return nil, err
		}
		results[i] = ranked
	}

	return results, nil
}

// infer runs the invoker under the concurrency limit and validates the
// score matrix against the model contract.
func (g *Gateway) infer(ctx context.Context, batch *tensor.Dense) ([][]float32, error) {
	if g.sem != nil {
		select {
		case g.sem <- struct{}{}:
			defer func() { <-g.sem }()
		case <-ctx.Done():
			return nil, errors.Wrapf(ErrInference, "waiting for inference slot: %v", ctx.Err())
		}
	}

	scores, err := g.invoker.Infer(ctx, batch)
	if err != nil {
		return nil, errors.Wrapf(ErrInference, "scoring batch: %v", err)
	}

	rows := batch.Shape()[0]
	if len(scores) != rows {
		return nil, errors.Wrapf(ErrInference, "model returned %d score vectors for %d images", len(scores), rows)
	}
	for i, row := range scores {
		if len(row) != g.config.NumClasses {
			return nil, errors.Wrapf(ErrInference, "score vector %d has %d classes, want %d", i, len(row), g.config.NumClasses)
		}
	}

	return scores, nil
}
