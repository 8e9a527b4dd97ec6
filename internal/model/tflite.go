//go:build tflite

package model

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	tflite "github.com/mattn/go-tflite"
	"go.uber.org/zap"
)

// TFLiteOptions configures a TensorFlow Lite interpreter.
type TFLiteOptions struct {
	ModelPath string
	Threads   int // 0 uses runtime.NumCPU()
	Logger    *zap.SugaredLogger
}

// tfliteSession serializes access to the interpreter, which is not safe for
// concurrent use.
type tfliteSession struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
}

// OpenTFLite returns a Loader for a .tflite artifact.
func OpenTFLite(config ModelConfig, opts TFLiteOptions) Loader {
	return func() (Session, error) {
		m := tflite.NewModelFromFile(opts.ModelPath)
		if m == nil {
			return nil, fmt.Errorf("failed to create model from %v", opts.ModelPath)
		}

		threads := opts.Threads
		if threads <= 0 {
			threads = runtime.NumCPU()
		}
		options := tflite.NewInterpreterOptions()
		if options == nil {
			m.Delete()
			return nil, errors.New("interpreter options failed to be created")
		}
		options.SetNumThread(threads)
		options.SetErrorReporter(func(msg string, _ interface{}) {
			if opts.Logger != nil {
				opts.Logger.Warnw("tflite", "msg", msg)
			}
		}, nil)

		interpreter := tflite.NewInterpreter(m, options)
		if interpreter == nil {
			options.Delete()
			m.Delete()
			return nil, errors.New("failed to create interpreter")
		}
		s := &tfliteSession{model: m, options: options, interpreter: interpreter}
		if status := interpreter.AllocateTensors(); status != tflite.OK {
			s.Close()
			return nil, errors.New("failed to allocate tensors")
		}

		input := interpreter.GetInputTensor(0)
		if input.Type() != tflite.Float32 || input.NumDims() != 4 ||
			input.Dim(1) != config.InputHeight || input.Dim(2) != config.InputWidth || input.Dim(3) != config.Channels {
			s.Close()
			return nil, fmt.Errorf("model input is %v [%d %d %d], expected float32 [%d %d %d]",
				input.Type(), input.Dim(1), input.Dim(2), input.Dim(3), config.InputHeight, config.InputWidth, config.Channels)
		}
		return s, nil
	}
}

func (s *tfliteSession) Run(input []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status := s.interpreter.GetInputTensor(0).CopyFromBuffer(input); status != tflite.OK {
		return nil, errors.New("copying to buffer failed")
	}
	if status := s.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.New("invoke failed")
	}
	out := s.interpreter.GetOutputTensor(0)
	if out.Type() != tflite.Float32 {
		return nil, fmt.Errorf("unexpected output type %v", out.Type())
	}
	scores := make([]float32, len(out.Float32s()))
	copy(scores, out.Float32s())
	return scores, nil
}

func (s *tfliteSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interpreter != nil {
		s.interpreter.Delete()
		s.interpreter = nil
	}
	if s.options != nil {
		s.options.Delete()
		s.options = nil
	}
	if s.model != nil {
		s.model.Delete()
		s.model = nil
	}
	return nil
}
