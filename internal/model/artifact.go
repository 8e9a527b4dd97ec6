package model

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ArtifactOptions locates a model artifact and the runtime used to execute it.
type ArtifactOptions struct {
	Path           string
	ORTLibraryPath string
	Threads        int
}

// OpenArtifact picks a session backend from the artifact's file extension.
// An unrecognized extension becomes a load failure when the Loader is called.
func OpenArtifact(config ModelConfig, opts ArtifactOptions, logger *zap.SugaredLogger) Loader {
	switch strings.ToLower(filepath.Ext(opts.Path)) {
	case ".onnx":
		return OpenONNX(config, ONNXOptions{
			ModelPath:   opts.Path,
			LibraryPath: opts.ORTLibraryPath,
			Threads:     opts.Threads,
		})
	case ".tflite":
		return OpenTFLite(config, TFLiteOptions{
			ModelPath: opts.Path,
			Threads:   opts.Threads,
			Logger:    logger,
		})
	default:
		return func() (Session, error) {
			return nil, fmt.Errorf("unsupported model artifact %q (expected .onnx or .tflite)", opts.Path)
		}
	}
}
