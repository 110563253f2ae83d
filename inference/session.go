// Package inference - Invoker backends for classifier execution.
package inference

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// SessionConfig configures a local onnxruntime classifier session.
type SessionConfig struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// LibraryPath points ONNX Runtime at a specific shared library.
	// Empty keeps the default search behavior.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// InputName is the model graph input tensor name.
	InputName string `json:"input_name" yaml:"input_name"`
	// OutputName is the model graph output tensor name.
	OutputName string `json:"output_name" yaml:"output_name"`
	// IntraOpThreads caps intra-op parallelism. Zero keeps the runtime default.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// WarmupRuns is how many synthetic inferences to run at startup.
	WarmupRuns int `json:"warmup_runs" yaml:"warmup_runs"`
	// WarmupShape is the synthetic input shape for warmup runs,
	// e.g. (1, 224, 224, 3). Empty disables warmup.
	WarmupShape []int64 `json:"warmup_shape" yaml:"warmup_shape"`
}

// Session is a classifier backed by a local onnxruntime session.
//
// The session accepts request-time batch sizes, so one Session serves
// every batch shape the gateway assembles.
type Session struct {
	config  SessionConfig
	session *ort.DynamicAdvancedSession
	mu      sync.Mutex
}

// NewSession loads an ONNX classifier and prepares it for serving.
//
// The ONNX Runtime environment is initialized once per process; later
// sessions reuse it.
//
// Arguments:
// - config: The session configuration.
//
// Returns:
// - A ready Session. Callers own Close.
// - error if the native runtime or the model cannot be loaded.
//
// @example
//
//	session, err := inference.NewSession(inference.SessionConfig{
//	    ModelPath:  "resnet.onnx",
//	    InputName:  "images",
//	    OutputName: "scores",
//	})
//
//	if err != nil {
//	    return err
//	}
//
// defer session.Close()
func NewSession(config SessionConfig) (*Session, error) {
	if config.LibraryPath != "" {
		ort.SetSharedLibraryPath(config.LibraryPath)
	}

	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "initializing ORT environment")
		}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "creating ORT session options")
	}
	defer options.Destroy()

	if config.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(config.IntraOpThreads); err != nil {
			return nil, errors.Wrap(err, "setting intra-op threads")
		}
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return nil, errors.Wrap(err, "setting graph optimization level")
	}

	session, err := ort.NewDynamicAdvancedSession(
		config.ModelPath,
		[]string{config.InputName},
		[]string{config.OutputName},
		options,
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating ORT session")
	}

	s := &Session{config: config, session: session}
	if err := s.warmup(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// warmup runs synthetic batches so the first real request does not pay
// for lazy kernel initialization.
func (s *Session) warmup() error {
	if s.config.WarmupRuns <= 0 || len(s.config.WarmupShape) == 0 {
		return nil
	}

	size := int64(1)
	for _, dim := range s.config.WarmupShape {
		size *= dim
	}

	for i := 0; i < s.config.WarmupRuns; i++ {
		if _, err := s.run(ort.NewShape(s.config.WarmupShape...), make([]float32, size)); err != nil {
			return errors.Wrapf(err, "warmup run %d", i)
		}
	}

	return nil
}

// Infer scores an assembled batch against the loaded model.
//
// Arguments:
// - ctx: Cancellation is honored before the native call starts.
// - batch: A float32 tensor of shape (N, H, W, C).
//
// Returns:
// - One score vector per batch row, in row order.
// - error if the native call fails or emits an unexpected output shape.
func (s *Session) Infer(ctx context.Context, batch *tensor.Dense) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, ok := batch.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("batch tensor must hold float32 data, got %v", batch.Dtype())
	}

	shape := batch.Shape()
	dims := make([]int64, len(shape))
	for i, dim := range shape {
		dims[i] = int64(dim)
	}

	return s.run(ort.NewShape(dims...), data)
}

// run executes one native inference over flat input data.
func (s *Session) run(shape ort.Shape, data []float32) ([][]float32, error) {
	input, err := ort.NewTensor(shape, data)
	if err != nil {
		return nil, errors.Wrap(err, "creating input tensor")
	}
	defer input.Destroy()

	// A nil output slot makes the runtime allocate the output for us.
	outputs := []ort.Value{nil}

	s.mu.Lock()
	err = s.session.Run([]ort.Value{input}, outputs)
	s.mu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "running ORT session")
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.New("model emitted a non-float32 output tensor")
	}

	outShape := out.GetShape()
	if len(outShape) != 2 {
		return nil, errors.Errorf("model emitted rank-%d output, want (batch, classes)", len(outShape))
	}

	n := int(outShape[0])
	numClasses := int(outShape[1])
	flat := out.GetData()

	// The native buffer dies with the output tensor, so rows are copied out.
	scores := make([][]float32, n)
	for i := 0; i < n; i++ {
		row := make([]float32, numClasses)
		copy(row, flat[i*numClasses:(i+1)*numClasses])
		scores[i] = row
	}

	return scores, nil
}

// Close releases the native session.
func (s *Session) Close() error {
	if s.session == nil {
		return nil
	}

	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return errors.Wrap(err, "destroying ORT session")
	}

	return nil
}
