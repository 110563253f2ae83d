// Package serving - Classification gateway from encoded images to ranked classes.
package serving

import (
	"runtime"

	"github.com/nvr-ai/go-serving/preprocess"
)

// Config carries the model contract and the gateway's execution limits.
type Config struct {
	// Height is the input height the model was trained on.
	Height int `json:"height" yaml:"height"`
	// Width is the input width the model was trained on.
	Width int `json:"width" yaml:"width"`
	// NumClasses is the length of every score vector the model emits.
	NumClasses int `json:"num_classes" yaml:"num_classes"`
	// DefaultTopK is the ranking depth used when a request does not ask
	// for one.
	DefaultTopK int `json:"default_top_k" yaml:"default_top_k"`
	// Means are the per-channel values subtracted during decoding, in
	// the model's channel order.
	Means [preprocess.Channels]float32 `json:"means" yaml:"means"`
	// ApplySoftmax converts raw logits to a probability distribution
	// before ranking. Leave false for models with a softmax layer.
	ApplySoftmax bool `json:"apply_softmax" yaml:"apply_softmax"`
	// DecodeConcurrency caps parallel image decodes per request.
	DecodeConcurrency int `json:"decode_concurrency" yaml:"decode_concurrency"`
	// MaxConcurrentInference caps batches in flight at the model
	// boundary. Zero means unlimited.
	MaxConcurrentInference int `json:"max_concurrent_inference" yaml:"max_concurrent_inference"`
}

// DefaultConfig returns the contract for the stock 224x224 classifier
// with a 1001-class output head.
//
// The means follow the model's expected channel order, so index 0 is
// blue, 1 is green, 2 is red.
func DefaultConfig() Config {
	return Config{
		Height:            224,
		Width:             224,
		NumClasses:        1001,
		DefaultTopK:       5,
		Means:             [preprocess.Channels]float32{103.939, 116.779, 123.68},
		DecodeConcurrency: runtime.NumCPU(),
	}
}
