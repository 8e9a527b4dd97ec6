//go:build !tflite

package model

import (
	"errors"

	"go.uber.org/zap"
)

type TFLiteOptions struct {
	ModelPath string
	Threads   int
	Logger    *zap.SugaredLogger
}

// OpenTFLite fails in builds without the tflite tag.
func OpenTFLite(config ModelConfig, opts TFLiteOptions) Loader {
	return func() (Session, error) {
		return nil, errors.New("built without tflite support, rebuild with -tags tflite")
	}
}
