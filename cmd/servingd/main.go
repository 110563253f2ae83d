// Command servingd serves image classification over HTTP.
//
// Images arrive base64-encoded in a JSON document and leave as ranked
// class lists. The scoring backend is either a local ONNX session or a
// remote scoring service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nvr-ai/go-serving/inference"
	"github.com/nvr-ai/go-serving/profiler"
	"github.com/nvr-ai/go-serving/serving"
)

const (
	// DefaultAddr is the listen address when no flag or environment
	// override is given.
	DefaultAddr = ":8080"
	// DefaultBackend selects the local ONNX session backend.
	DefaultBackend = "onnx"
	// DefaultInputName is the graph input of the stock classifier.
	DefaultInputName = "images"
	// DefaultOutputName is the graph output of the stock classifier.
	DefaultOutputName = "scores"
	// DefaultMaxBatch caps images per request at the transport.
	DefaultMaxBatch = 64
	// DefaultWarmupRuns primes the session before the listener opens.
	DefaultWarmupRuns = 2
	// ShutdownGrace bounds how long in-flight requests may drain.
	ShutdownGrace = 15 * time.Second
)

func main() {
	var (
		addr           string
		backend        string
		modelPath      string
		libraryPath    string
		inputName      string
		outputName     string
		endpoint       string
		timeout        time.Duration
		applySoft      bool
		maxBatch       int
		maxInflight    int
		warmupRuns     int
		reportInterval time.Duration
	)

	flag.StringVar(&addr, "addr", envOr("SERVING_ADDR", DefaultAddr), "Listen address for the HTTP server")
	flag.StringVar(&backend, "backend", envOr("SERVING_BACKEND", DefaultBackend), "Scoring backend: onnx or remote")
	flag.StringVar(&modelPath, "model", envOr("SERVING_MODEL", ""), "Path to the ONNX model file (onnx backend)")
	flag.StringVar(&libraryPath, "ort-library", envOr("SERVING_ORT_LIBRARY", ""), "Path to the ONNX Runtime shared library")
	flag.StringVar(&inputName, "input-name", envOr("SERVING_INPUT_NAME", DefaultInputName), "Model graph input tensor name")
	flag.StringVar(&outputName, "output-name", envOr("SERVING_OUTPUT_NAME", DefaultOutputName), "Model graph output tensor name")
	flag.StringVar(&endpoint, "endpoint", envOr("SERVING_ENDPOINT", ""), "Remote scorer URL (remote backend)")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Remote scorer request timeout")
	flag.BoolVar(&applySoft, "softmax", false, "Apply softmax to model outputs before ranking")
	flag.IntVar(&maxBatch, "max-batch", envOrInt("SERVING_MAX_BATCH", DefaultMaxBatch), "Maximum images per request, 0 disables the cap")
	flag.IntVar(&maxInflight, "max-inflight", envOrInt("SERVING_MAX_INFLIGHT", 0), "Maximum concurrent inference batches, 0 disables the cap")
	flag.IntVar(&warmupRuns, "warmup", DefaultWarmupRuns, "Warmup inference runs before serving (onnx backend)")
	flag.DurationVar(&reportInterval, "report-interval", 0, "Runtime report interval, 0 disables reporting")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	config := serving.DefaultConfig()
	config.ApplySoftmax = applySoft
	config.MaxConcurrentInference = maxInflight

	invoker, cleanup, err := buildInvoker(config, backend, sessionParams{
		modelPath:   modelPath,
		libraryPath: libraryPath,
		inputName:   inputName,
		outputName:  outputName,
		warmupRuns:  warmupRuns,
		endpoint:    endpoint,
		timeout:     timeout,
	})
	if err != nil {
		logger.Fatal("failed to build scoring backend", zap.String("backend", backend), zap.Error(err))
	}
	defer func() {
		if err := cleanup(); err != nil {
			logger.Warn("backend cleanup failed", zap.Error(err))
		}
	}()

	gateway, err := serving.NewGateway(config, invoker)
	if err != nil {
		logger.Fatal("failed to build gateway", zap.Error(err))
	}

	prof := profiler.New(logger, reportInterval)
	if reportInterval > 0 {
		prof.Start()
		defer prof.Stop()
	}

	mux := http.NewServeMux()
	serving.NewHandler(gateway, logger, maxBatch).Routes(mux)
	mux.HandleFunc("/statsz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(prof.Snapshot())
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           timeRequests(prof, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", addr),
			zap.String("backend", backend),
			zap.Int("max_batch", maxBatch),
			zap.Int("num_classes", config.NumClasses),
			zap.Int("default_top_k", config.DefaultTopK))
		errs <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutdown did not drain cleanly", zap.Error(err))
	}
}

// sessionParams bundles the backend flags so buildInvoker stays flat.
type sessionParams struct {
	modelPath   string
	libraryPath string
	inputName   string
	outputName  string
	warmupRuns  int
	endpoint    string
	timeout     time.Duration
}

// buildInvoker constructs the selected scoring backend and a cleanup
// function releasing it.
func buildInvoker(config serving.Config, backend string, params sessionParams) (serving.Invoker, func() error, error) {
	switch backend {
	case "onnx":
		if params.modelPath == "" {
			return nil, nil, errors.New("the onnx backend requires -model")
		}

		session, err := inference.NewSession(inference.SessionConfig{
			ModelPath:   params.modelPath,
			LibraryPath: params.libraryPath,
			InputName:   params.inputName,
			OutputName:  params.outputName,
			WarmupRuns:  params.warmupRuns,
			WarmupShape: []int64{1, int64(config.Height), int64(config.Width), 3},
		})
		if err != nil {
			return nil, nil, err
		}
		return session, session.Close, nil

	case "remote":
		if params.endpoint == "" {
			return nil, nil, errors.New("the remote backend requires -endpoint")
		}

		remote := inference.NewRemote(inference.RemoteConfig{
			Endpoint: params.endpoint,
			Timeout:  params.timeout,
		})
		return remote, remote.Close, nil

	default:
		return nil, nil, errors.New("unknown backend: " + backend)
	}
}

// timeRequests records request latency keyed by the mux pattern that
// served it. Paths matching no registered route share one bucket, so
// clients scanning arbitrary paths cannot grow the profiler's key set.
func timeRequests(prof *profiler.Profiler, mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := "unmatched"
		if _, pattern := mux.Handler(r); pattern != "" {
			name = pattern
		}

		defer prof.Time(name)()
		mux.ServeHTTP(w, r)
	})
}

// envOr returns the environment value for key, or fallback when unset.
func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

// envOrInt returns the integer environment value for key, or fallback
// when unset or unparsable.
func envOrInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}

	return fallback
}
