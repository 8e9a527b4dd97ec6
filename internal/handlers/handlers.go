package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"
	"strconv"

	"github.com/Brownie44l1/currency-api/internal/decision"
	"github.com/Brownie44l1/currency-api/internal/detect"
	"github.com/Brownie44l1/currency-api/internal/imageio"
	"github.com/Brownie44l1/currency-api/internal/model"
	"github.com/Brownie44l1/currency-api/internal/preprocess"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/nfnt/resize"
	"go.uber.org/zap"
)

const maxUploadBytes = 10 << 20

type Handler struct {
	detector   *detect.Detector
	classifier detect.Classifier
	engine     *model.Engine // nil when running on a fixed classifier
	config     model.ModelConfig
	log        *zap.SugaredLogger
	wsUpgrader websocket.Upgrader
}

// NewHandler serves detector over HTTP. classifier is used directly by the
// synchronous /predict endpoint; engine, if not nil, is reported by /health.
func NewHandler(detector *detect.Detector, classifier detect.Classifier, engine *model.Engine, config model.ModelConfig, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		detector:   detector,
		classifier: classifier,
		engine:     engine,
		config:     config,
		log:        logger,
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router registers every endpoint.
func (h *Handler) Router() *httprouter.Router {
	router := httprouter.New()
	router.GET("/health", h.Health)
	router.POST("/predict", h.Predict)
	router.POST("/detect", h.Detect)
	router.GET("/state", h.State)
	router.DELETE("/state", h.Clear)
	router.GET("/state/image", h.Image)
	router.GET("/state/stream", h.Stream)
	return router
}

// writeJSON encodes v before writing any header, so an unencodable value is a
// 500 rather than an empty 200.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		h.log.Errorw("Failed to encode response", "type", fmt.Sprintf("%T", v), "error", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.log.Debugw("Failed to write response", "error", err)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	resp := HealthResponse{
		Status: "healthy",
		Model:  "loaded",
		Stats:  h.detector.Stats(),
	}
	if h.engine == nil {
		resp.Model = "fixed"
	} else if err := h.engine.Load(); err != nil {
		resp.Model = "unavailable"
		resp.Error = err.Error()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Predict scores a raw, already preprocessed tensor and answers synchronously.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req PredictionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	expectedSize := h.config.InputSize()
	if len(req.Image) != expectedSize {
		http.Error(w, fmt.Sprintf("Expected %d values, got %d", expectedSize, len(req.Image)),
			http.StatusBadRequest)
		return
	}

	tensor := model.Tensor{Shape: h.config.InputShape(), Data: req.Image}
	scores, err := h.classifier.Infer(r.Context(), tensor)
	if err != nil && !errors.Is(err, model.ErrModelUnavailable) {
		h.log.Errorw("Prediction error", "error", err)
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	result := decision.Decide(scores, h.config.Labels, h.config.ConfidenceThreshold)
	predictions := make(map[string]float32, len(scores))
	for i, v := range scores {
		if i < len(h.config.Labels) {
			predictions[h.config.Labels[i]] = v
		}
	}
	h.writeJSON(w, http.StatusOK, PredictionResponse{
		Class:       result.Label,
		Confidence:  result.Confidence,
		Predictions: predictions,
		Spoken:      decision.SpokenText(result),
	})
}

// Detect accepts a multipart upload in the "image" field, with an optional
// clockwise "rotation" in degrees, and submits it to the detector.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	rotation := 0
	if v := r.FormValue("rotation"); v != "" {
		rotation, err = strconv.Atoi(v)
		if err != nil {
			http.Error(w, "Invalid rotation", http.StatusBadRequest)
			return
		}
	}

	img, err := imageio.Decode(file)
	if err != nil {
		h.log.Infow("Upload rejected", "file", header.Filename, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	img = imageio.Rotate(img, rotation)

	h.log.Debugw("Received image", "file", header.Filename, "bytes", header.Size,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy(), "rotation", rotation)

	err = h.detector.Submit(img)
	switch {
	case errors.Is(err, preprocess.ErrInvalidImage):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, http.StatusAccepted, newStateResponse(h.detector.State()))
}

func (h *Handler) State(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	h.writeJSON(w, http.StatusOK, newStateResponse(h.detector.State()))
}

func (h *Handler) Clear(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	h.detector.Clear()
	h.writeJSON(w, http.StatusOK, newStateResponse(h.detector.State()))
}

// Image returns the source image of the current request as a JPEG. An optional
// "max" query parameter shrinks it to fit a max×max box for previews.
func (h *Handler) Image(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	maxSize := 0
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid max", http.StatusBadRequest)
			return
		}
		maxSize = n
	}

	s := h.detector.State()
	if s.Image == nil {
		http.Error(w, "No image", http.StatusNotFound)
		return
	}
	img := s.Image
	if maxSize > 0 {
		img = resize.Thumbnail(uint(maxSize), uint(maxSize), img, resize.Lanczos3)
	}
	w.Header().Set("Content-Type", "image/jpeg")
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: 85}); err != nil {
		h.log.Warnw("Failed to encode source image", "error", err)
	}
}

// Stream pushes every state transition to a websocket client as JSON.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := h.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("State stream websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	states, cancel := h.detector.Subscribe()
	defer cancel()

	// The client never sends anything meaningful; reading is how we notice it has gone.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case s, ok := <-states:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "detector closed"))
				return
			}
			if err := conn.WriteJSON(newStateResponse(s)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
