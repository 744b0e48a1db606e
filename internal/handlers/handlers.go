package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Brownie44l1/plates/internal/convert"
	"github.com/Brownie44l1/plates/internal/inference"
	"github.com/Brownie44l1/plates/internal/logging"
)

// maxUpload bounds the multipart form held in memory.
const maxUpload = 10 << 20

// PredictionRequest carries one preprocessed image scaled to [0, 1] in
// channel-first order.
type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type Handler struct {
	adapter *inference.Adapter
	log     *zap.Logger
}

func NewHandler(adapter *inference.Adapter, log *zap.Logger) *Handler {
	return &Handler{
		adapter: adapter,
		log:     logging.OrNop(log),
	}
}

// NewRouter registers the prediction endpoints and wraps them with CORS and
// request logging.
func NewRouter(h *Handler) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/labels", h.Labels).Methods(http.MethodGet)
	r.HandleFunc("/predict", h.Predict).Methods(http.MethodPost)
	r.HandleFunc("/predict/image", h.PredictFromImage).Methods(http.MethodPost)
	r.Use(h.logRequests)
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"})
}

// Labels lists the class labels ordered by id.
func (h *Handler) Labels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.adapter.Labels())
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpload))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req PredictionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if expected := h.adapter.InputSize(); len(req.Image) != expected {
		http.Error(w, fmt.Sprintf("Expected %d values, got %d", expected, len(req.Image)),
			http.StatusBadRequest)
		return
	}

	result, err := h.adapter.PredictScaled(r.Context(), req.Image)
	if err != nil {
		h.log.Error("prediction failed", zap.Error(err))
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, result)
}

func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		http.Error(w, "Invalid image format. Supported: JPEG, PNG, GIF, BMP, TIFF, WebP", http.StatusBadRequest)
		return
	}

	h.log.Debug("received image",
		zap.String("file", header.Filename),
		zap.Int64("bytes", header.Size),
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	result, err := h.adapter.PredictImage(r.Context(), img)
	if errors.Is(err, convert.ErrSize) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.log.Error("prediction failed", zap.String("file", header.Filename), zap.Error(err))
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, result)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
