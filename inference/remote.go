package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// RemoteConfig configures a classifier served over HTTP.
type RemoteConfig struct {
	// Endpoint is the full scoring URL, e.g. http://scorer:9000/score.
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	// Timeout bounds a single scoring call. Zero disables the bound.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// MaxConns caps connections to the scorer host.
	MaxConns int `json:"max_conns" yaml:"max_conns"`
}

// Remote is a classifier backed by a remote scoring service.
//
// The wire contract is one JSON document each way: the request carries
// the batch shape and the flat tensor data, the response carries one
// score vector per batch row.
type Remote struct {
	config RemoteConfig
	client *http.Client
}

type scoreRequest struct {
	Shape  []int     `json:"shape"`
	Tensor []float32 `json:"tensor"`
}

type scoreResponse struct {
	Scores [][]float32 `json:"scores"`
}

// NewRemote builds a classifier client for a remote scoring endpoint.
func NewRemote(config RemoteConfig) *Remote {
	maxConns := config.MaxConns
	if maxConns < 4 {
		maxConns = 4
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxConnsPerHost:     maxConns,
		MaxIdleConnsPerHost: maxConns,
		MaxIdleConns:        maxConns * 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Remote{
		config: config,
		client: &http.Client{Transport: transport},
	}
}

// Infer ships an assembled batch to the remote scorer.
//
// Arguments:
// - ctx: Cancels the in-flight HTTP call.
// - batch: A float32 tensor of shape (N, H, W, C).
//
// Returns:
// - One score vector per batch row, in row order.
// - error if the call fails or the scorer answers with a non-200 status.
func (r *Remote) Infer(ctx context.Context, batch *tensor.Dense) ([][]float32, error) {
	data, ok := batch.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("batch tensor must hold float32 data, got %v", batch.Dtype())
	}

	body, err := json.Marshal(scoreRequest{Shape: batch.Shape(), Tensor: data})
	if err != nil {
		return nil, errors.Wrap(err, "encoding score request")
	}

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "building score request")
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := r.client.Do(request)
	if err != nil {
		return nil, errors.Wrap(err, "calling remote scorer")
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return nil, errors.Errorf("remote scorer returned status %d: %s", response.StatusCode, detail)
	}

	var parsed scoreResponse
	if err := json.NewDecoder(response.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "decoding score response")
	}

	return parsed.Scores, nil
}

// Close releases idle connections held by the client.
func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
