package serving

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-serving/postprocess"
	"github.com/nvr-ai/go-serving/preprocess"
)

// PredictRequest is the wire form of a classification request. Images
// travel as base64 strings inside the JSON document.
type PredictRequest struct {
	Images [][]byte `json:"images"`
	K      int      `json:"k,omitempty"`
}

// ImageResult is the ranked outcome for one image, ordered from most
// to least probable. Classes and Probabilities align by index.
type ImageResult struct {
	Classes       []int     `json:"classes"`
	Probabilities []float32 `json:"probabilities"`
}

// PredictResponse is the wire form of a classification response.
// Results align with the request's image order.
type PredictResponse struct {
	Results []ImageResult `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// DefaultMaxBodyBytes caps how much of a request document is read
// before decoding. The image-count cap only applies after the document
// is parsed, so the byte cap is what bounds memory per request.
const DefaultMaxBodyBytes = 32 << 20

// Handler exposes a Gateway over HTTP.
type Handler struct {
	gateway  *Gateway
	logger   *zap.Logger
	maxBatch int
	maxBody  int64
}

// NewHandler builds the HTTP surface for a gateway.
//
// maxBatch caps images per request at the transport. Zero disables
// the cap. Request bodies are bounded by DefaultMaxBodyBytes.
func NewHandler(gateway *Gateway, logger *zap.Logger, maxBatch int) *Handler {
	return &Handler{
		gateway:  gateway,
		logger:   logger,
		maxBatch: maxBatch,
		maxBody:  DefaultMaxBodyBytes,
	}
}

// Routes registers the handler's endpoints on the given mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/predict", h.handlePredict)
	mux.HandleFunc("/healthz", h.handleHealth)
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	requestID := uuid.NewString()
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var request PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("oversized predict request",
				zap.String("request_id", requestID),
				zap.Int64("max_body", h.maxBody))
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}

		h.logger.Warn("malformed predict request",
			zap.String("request_id", requestID),
			zap.Error(err))
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if h.maxBatch > 0 && len(request.Images) > h.maxBatch {
		h.logger.Warn("oversized predict request",
			zap.String("request_id", requestID),
			zap.Int("images", len(request.Images)),
			zap.Int("max_batch", h.maxBatch))
		writeError(w, http.StatusRequestEntityTooLarge, "too many images in one request")
		return
	}

	predictions, err := h.gateway.Predict(r.Context(), request.Images, request.K)
	if err != nil {
		status := statusForError(err)
		h.logger.Warn("predict failed",
			zap.String("request_id", requestID),
			zap.Int("images", len(request.Images)),
			zap.Int("status", status),
			zap.Error(err))
		writeError(w, status, err.Error())
		return
	}

	results := make([]ImageResult, len(predictions))
	for i, ranked := range predictions {
		classes := make([]int, len(ranked))
		probabilities := make([]float32, len(ranked))
		for j, prediction := range ranked {
			classes[j] = prediction.Class
			probabilities[j] = prediction.Probability
		}
		results[i] = ImageResult{Classes: classes, Probabilities: probabilities}
	}

	h.logger.Info("predict served",
		zap.String("request_id", requestID),
		zap.Int("images", len(request.Images)),
		zap.Duration("latency", time.Since(start)))
	writeJSON(w, http.StatusOK, PredictResponse{Results: results})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusForError maps pipeline errors onto HTTP statuses. Client-side
// failures map to 400, model boundary failures to 502.
func statusForError(err error) int {
	switch {
	case errors.Is(err, preprocess.ErrDecode), errors.Is(err, postprocess.ErrRank):
		return http.StatusBadRequest
	case errors.Is(err, ErrInference):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
