package model

import (
	"errors"
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
)

// ONNXOptions configures an ONNX Runtime session.
type ONNXOptions struct {
	ModelPath   string
	LibraryPath string // onnxruntime shared library; empty uses the platform default
	Threads     int    // intra-op threads, 0 lets the runtime decide
}

type onnxSession struct {
	session    *ort.DynamicAdvancedSession
	inputShape ort.Shape
}

// OpenONNX returns a Loader for an ONNX artifact. The artifact must have a single
// 4D float input of the configured shape and a single output.
func OpenONNX(config ModelConfig, opts ONNXOptions) Loader {
	return func() (Session, error) {
		if opts.ModelPath == "" {
			return nil, errors.New("empty model path")
		}
		if _, err := os.Stat(opts.ModelPath); err != nil {
			return nil, err
		}
		if opts.LibraryPath != "" {
			ort.SetSharedLibraryPath(opts.LibraryPath)
		}
		if !ort.IsInitialized() {
			if err := ort.InitializeEnvironment(); err != nil {
				return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
			}
		}

		inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read model inputs/outputs: %w", err)
		}
		if len(inputs) != 1 || len(outputs) != 1 {
			return nil, fmt.Errorf("unexpected io (in:%d out:%d)", len(inputs), len(outputs))
		}
		if err := checkIO(config, inputs[0].Dimensions, outputs[0].Dimensions); err != nil {
			return nil, err
		}

		options, err := ort.NewSessionOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create session options: %w", err)
		}
		defer options.Destroy()
		if opts.Threads > 0 {
			if err := options.SetIntraOpNumThreads(opts.Threads); err != nil {
				return nil, fmt.Errorf("failed to set thread count: %w", err)
			}
		}

		session, err := ort.NewDynamicAdvancedSession(opts.ModelPath,
			[]string{inputs[0].Name}, []string{outputs[0].Name}, options)
		if err != nil {
			return nil, fmt.Errorf("failed to create ONNX session: %w", err)
		}

		return &onnxSession{
			session:    session,
			inputShape: ort.NewShape(config.InputShape()...),
		}, nil
	}
}

// checkIO compares the artifact's input and output shapes with config.
// A negative dimension is dynamic; only the batch dimension may be dynamic.
func checkIO(config ModelConfig, input, output ort.Shape) error {
	want := config.InputShape()
	if len(input) != len(want) {
		return fmt.Errorf("model input is %v, expected %v", input, want)
	}
	for i, d := range input {
		if d == want[i] || (i == 0 && d < 0) {
			continue
		}
		return fmt.Errorf("model input is %v, expected %v", input, want)
	}

	classes := int64(1)
	for i, d := range output {
		if d < 0 && i == 0 {
			continue
		}
		classes *= d
	}
	if len(output) == 0 || classes != int64(len(config.Labels)) {
		return fmt.Errorf("model output is %v, expected %d scores", output, len(config.Labels))
	}
	return nil
}

func (s *onnxSession) Run(input []float32) ([]float32, error) {
	inputTensor, err := ort.NewTensor(s.inputShape, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.ArbitraryTensor{nil}
	if err := s.session.Run([]ort.ArbitraryTensor{inputTensor}, outputs); err != nil {
		return nil, err
	}
	defer outputs[0].Destroy()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	// The tensor's memory is released on return.
	scores := make([]float32, len(outputTensor.GetData()))
	copy(scores, outputTensor.GetData())
	return scores, nil
}

func (s *onnxSession) Close() error {
	var err error
	if s.session != nil {
		err = multierr.Append(err, s.session.Destroy())
	}
	return multierr.Append(err, ort.DestroyEnvironment())
}
