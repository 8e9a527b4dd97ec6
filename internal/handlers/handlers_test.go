package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Brownie44l1/currency-api/internal/detect"
	"github.com/Brownie44l1/currency-api/internal/model"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestHandler(t *testing.T, classifier detect.Classifier) *Handler {
	config := model.DefaultConfig()
	pool := detect.NewPool(1)
	detector := detect.New(config, classifier, pool, zaptest.NewLogger(t).Sugar(), detect.Options{})
	t.Cleanup(func() {
		detector.Close()
		pool.Close()
	})
	return NewHandler(detector, classifier, nil, config, zaptest.NewLogger(t).Sugar())
}

func pngUpload(t *testing.T, w, h int, fields map[string]string) (*bytes.Buffer, string) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "note.png")
	require.NoError(t, err)
	require.NoError(t, png.Encode(part, img))
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func getState(t *testing.T, h http.Handler) StateResponse {
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp StateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHealthFixed(t *testing.T) {
	router := newTestHandler(t, model.NewFixedClassifier(model.DefaultConfig(), "ten", 0.9)).Router()

	rec := do(t, router, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "healthy", resp.Status)
	require.Equal(t, "fixed", resp.Model)
}

func TestHealthUnavailableModel(t *testing.T) {
	config := model.DefaultConfig()
	engine := model.NewEngine(config, model.OpenArtifact(config, model.ArtifactOptions{Path: "missing.onnx"}, zaptest.NewLogger(t).Sugar()), zaptest.NewLogger(t).Sugar())
	pool := detect.NewPool(1)
	detector := detect.New(config, engine, pool, zaptest.NewLogger(t).Sugar(), detect.Options{})
	defer pool.Close()
	defer detector.Close()
	router := NewHandler(detector, engine, engine, config, zaptest.NewLogger(t).Sugar()).Router()

	rec := do(t, router, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "unavailable", resp.Model)
	require.NotEmpty(t, resp.Error)
}

func TestPredict(t *testing.T) {
	config := model.DefaultConfig()
	router := newTestHandler(t, model.NewFixedClassifier(config, "fifty", 0.8)).Router()

	payload, err := json.Marshal(PredictionRequest{Image: make([]float32, config.InputSize())})
	require.NoError(t, err)
	rec := do(t, router, httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(payload)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PredictionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "fifty", resp.Class)
	require.InDelta(t, 0.8, resp.Confidence, 1e-6)
	require.Len(t, resp.Predictions, len(config.Labels))
	require.Equal(t, "Fifty Indian Rupees", resp.Spoken)
}

func TestPredictBelowThreshold(t *testing.T) {
	config := model.DefaultConfig()
	router := newTestHandler(t, model.NewFixedClassifier(config, "fifty", 0.5)).Router()

	payload, err := json.Marshal(PredictionRequest{Image: make([]float32, config.InputSize())})
	require.NoError(t, err)
	rec := do(t, router, httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(payload)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PredictionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, model.UnknownLabel, resp.Class)
	require.InDelta(t, 0.5, resp.Confidence, 1e-6)
	require.Equal(t, "No familiar currency detected.", resp.Spoken)
}

func TestPredictRejectsBadInput(t *testing.T) {
	router := newTestHandler(t, model.NewFixedClassifier(model.DefaultConfig(), "ten", 0.9)).Router()

	rec := do(t, router, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"image":[0.1,0.2]}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "got 2")

	rec = do(t, router, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetectFlow(t *testing.T) {
	router := newTestHandler(t, model.NewFixedClassifier(model.DefaultConfig(), "hundred", 0.9)).Router()

	rec := do(t, router, httptest.NewRequest(http.MethodGet, "/state/image", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "idle", getState(t, router).State)

	body, contentType := pngUpload(t, 64, 48, map[string]string{"rotation": "90"})
	req := httptest.NewRequest(http.MethodPost, "/detect", body)
	req.Header.Set("Content-Type", contentType)
	rec = do(t, router, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted StateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&accepted))
	require.Equal(t, uint64(1), accepted.Seq)
	require.True(t, accepted.HasImage)

	require.Eventually(t, func() bool {
		return getState(t, router).State == "success"
	}, 5*time.Second, 10*time.Millisecond)

	s := getState(t, router)
	require.Equal(t, "hundred", s.Label)
	require.Equal(t, "90.00%", s.ConfidenceText)
	require.Equal(t, "One Hundred Indian Rupees", s.Announcement)

	rec = do(t, router, httptest.NewRequest(http.MethodGet, "/state/image", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	img, err := jpeg.Decode(rec.Body)
	require.NoError(t, err)
	// The upload was rotated a quarter turn.
	require.Equal(t, 48, img.Bounds().Dx())
	require.Equal(t, 64, img.Bounds().Dy())

	rec = do(t, router, httptest.NewRequest(http.MethodGet, "/state/image?max=16", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	thumb, err := jpeg.Decode(rec.Body)
	require.NoError(t, err)
	require.Equal(t, 16, thumb.Bounds().Dy())
	require.Equal(t, 12, thumb.Bounds().Dx())

	rec = do(t, router, httptest.NewRequest(http.MethodGet, "/state/image?max=tiny", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, httptest.NewRequest(http.MethodDelete, "/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "idle", getState(t, router).State)
}

func TestDetectRejectsBadUploads(t *testing.T) {
	router := newTestHandler(t, model.NewFixedClassifier(model.DefaultConfig(), "ten", 0.9)).Router()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "note.txt")
	require.NoError(t, err)
	part.Write([]byte("plain text"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/detect", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(t, router, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unsupported image format")

	upload, contentType := pngUpload(t, 4, 4, map[string]string{"rotation": "sideways"})
	req = httptest.NewRequest(http.MethodPost, "/detect", upload)
	req.Header.Set("Content-Type", contentType)
	rec = do(t, router, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var empty bytes.Buffer
	mw = multipart.NewWriter(&empty)
	require.NoError(t, mw.WriteField("rotation", "0"))
	require.NoError(t, mw.Close())
	req = httptest.NewRequest(http.MethodPost, "/detect", &empty)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = do(t, router, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, "idle", getState(t, router).State)
}

func TestStream(t *testing.T) {
	router := newTestHandler(t, model.NewFixedClassifier(model.DefaultConfig(), "twenty", 0.95)).Router()
	server := httptest.NewServer(router)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/state/stream", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var s StateResponse
	require.NoError(t, conn.ReadJSON(&s))
	require.Equal(t, "idle", s.State)

	body, contentType := pngUpload(t, 16, 16, nil)
	resp, err := http.Post(server.URL+"/detect", contentType, body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.NoError(t, conn.ReadJSON(&s))
	require.Equal(t, "loading", s.State)
	require.NoError(t, conn.ReadJSON(&s))
	require.Equal(t, "success", s.State)
	require.Equal(t, "twenty", s.Label)
	require.Equal(t, "Twenty Indian Rupees", s.Spoken)
}

func nanClassifier() detect.Classifier {
	return detect.ClassifierFunc(func(ctx context.Context, _ model.Tensor) (model.ScoreVector, error) {
		scores := make(model.ScoreVector, len(model.DefaultConfig().Labels))
		scores[2] = float32(math.NaN())
		return scores, nil
	})
}

func TestNaNScoresReportUnknown(t *testing.T) {
	router := newTestHandler(t, nanClassifier()).Router()

	body, contentType := pngUpload(t, 8, 8, nil)
	req := httptest.NewRequest(http.MethodPost, "/detect", body)
	req.Header.Set("Content-Type", contentType)
	require.Equal(t, http.StatusAccepted, do(t, router, req).Code)

	require.Eventually(t, func() bool {
		return getState(t, router).State == "success"
	}, 5*time.Second, 10*time.Millisecond)
	s := getState(t, router)
	require.Equal(t, model.UnknownLabel, s.Label)
	require.Zero(t, s.Confidence)
}

func TestUnencodableResponseIsLogged(t *testing.T) {
	config := model.DefaultConfig()
	classifier := nanClassifier()
	pool := detect.NewPool(1)
	detector := detect.New(config, classifier, pool, zaptest.NewLogger(t).Sugar(), detect.Options{})
	defer pool.Close()
	defer detector.Close()

	core, logs := observer.New(zap.ErrorLevel)
	router := NewHandler(detector, classifier, nil, config, zap.New(core).Sugar()).Router()

	// The raw per-label scores still carry the NaN.
	payload, err := json.Marshal(PredictionRequest{Image: make([]float32, config.InputSize())})
	require.NoError(t, err)
	rec := do(t, router, httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(payload)))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 1, logs.FilterMessage("Failed to encode response").Len())
}
