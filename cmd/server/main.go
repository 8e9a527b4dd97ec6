package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Brownie44l1/currency-api/internal/detect"
	"github.com/Brownie44l1/currency-api/internal/handlers"
	"github.com/Brownie44l1/currency-api/internal/logging"
	"github.com/Brownie44l1/currency-api/internal/model"
	"github.com/akamensky/argparse"
)

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	parser := argparse.NewParser("server", "Identify banknote denominations from uploaded photos")
	modelPath := parser.String("m", "model", &argparse.Options{Help: "Path to model artifact (.onnx or .tflite)", Default: filepath.Join("models", "currency_detector.onnx")})
	metadataPath := parser.String("", "metadata", &argparse.Options{Help: "Optional model metadata JSON to verify against the built-in configuration"})
	ortLib := parser.String("", "ort-lib", &argparse.Options{Help: "Path to the onnxruntime shared library"})
	threads := parser.Int("t", "threads", &argparse.Options{Help: "Inference threads (0 = runtime default)", Default: 0})
	workers := parser.Int("w", "workers", &argparse.Options{Help: "Concurrent detections (0 = one per CPU)", Default: 0})
	port := parser.String("p", "port", &argparse.Options{Help: "HTTP port (defaults to $PORT, then 8080)"})
	latestOnly := parser.Flag("", "latest-only", &argparse.Options{Help: "Discard results of detections superseded by a newer upload"})
	timeout := parser.Int("", "timeout", &argparse.Options{Help: "Per-detection compute timeout in milliseconds (0 = none)", Default: 0})
	fake := parser.String("", "fake", &argparse.Options{Help: "Skip the model and always report this label (preview mode)"})
	debug := parser.Flag("d", "debug", &argparse.Options{Help: "Debug logging"})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logging.NewLogger("server", *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	config := model.DefaultConfig()

	if *metadataPath != "" {
		md, err := model.LoadMetadata(*metadataPath)
		if err != nil {
			logger.Fatalf("Failed to load model metadata: %v", err)
		}
		if err := md.Check(config); err != nil {
			logger.Fatalf("Model metadata check failed: %v", err)
		}
	}

	var classifier detect.Classifier
	var engine *model.Engine
	if *fake != "" {
		logger.Infof("Preview mode, every detection reports %q", *fake)
		classifier = model.NewFixedClassifier(config, *fake, 0.9)
	} else {
		logger.Infof("Loading model from: %s", *modelPath)
		engine = model.NewEngine(config, model.OpenArtifact(config, model.ArtifactOptions{
			Path:           *modelPath,
			ORTLibraryPath: *ortLib,
			Threads:        *threads,
		}, logger.Named("model")), logger.Named("model"))
		// A failed load is not fatal: detections degrade to Unknown.
		engine.Load()
		defer engine.Close()
		classifier = engine
	}

	pool := detect.NewPool(*workers)
	defer pool.Close()

	detector := detect.New(config, classifier, pool, logger.Named("detect"), detect.Options{
		LatestOnly: *latestOnly,
		Timeout:    time.Duration(*timeout) * time.Millisecond,
	})
	defer detector.Close()

	handler := handlers.NewHandler(detector, classifier, engine, config, logger.Named("http"))

	if *port == "" {
		*port = os.Getenv("PORT")
	}
	if *port == "" {
		*port = "8080"
	}

	logger.Infof("Server starting on port %s", *port)
	logger.Infof("Classes: %v", config.Labels)
	logger.Info("Endpoints:")
	logger.Info("  GET    /health        - Health check")
	logger.Info("  POST   /predict       - Raw tensor prediction")
	logger.Info("  POST   /detect        - Submit an image upload (field 'image', optional 'rotation')")
	logger.Info("  GET    /state         - Current detection state")
	logger.Info("  DELETE /state         - Reset to idle")
	logger.Info("  GET    /state/image   - Image of the current detection")
	logger.Info("  GET    /state/stream  - Websocket stream of state changes")

	if err := http.ListenAndServe(":"+*port, enableCORS(handler.Router())); err != nil {
		logger.Errorf("Server failed: %v", err)
	}
}
