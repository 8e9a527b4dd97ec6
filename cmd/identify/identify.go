package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Brownie44l1/currency-api/internal/decision"
	"github.com/Brownie44l1/currency-api/internal/detect"
	"github.com/Brownie44l1/currency-api/internal/imageio"
	"github.com/Brownie44l1/currency-api/internal/logging"
	"github.com/Brownie44l1/currency-api/internal/model"
	"github.com/akamensky/argparse"
)

func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("identify", "Identify the banknote in a photo")
	input := parser.String("i", "input", &argparse.Options{Help: "Input image file", Required: true})
	rotation := parser.Int("r", "rotation", &argparse.Options{Help: "Clockwise rotation needed to make the image upright, in degrees", Default: 0})
	modelPath := parser.String("m", "model", &argparse.Options{Help: "Path to model artifact (.onnx or .tflite)", Default: filepath.Join("models", "currency_detector.onnx")})
	ortLib := parser.String("", "ort-lib", &argparse.Options{Help: "Path to the onnxruntime shared library"})
	debug := parser.Flag("d", "debug", &argparse.Options{Help: "Debug logging"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logging.NewLogger("identify", *debug)
	check(err)
	defer logger.Sync()

	f, err := os.Open(*input)
	check(err)
	img, err := imageio.Decode(f)
	f.Close()
	check(err)
	img = imageio.Rotate(img, *rotation)

	config := model.DefaultConfig()
	engine := model.NewEngine(config, model.OpenArtifact(config, model.ArtifactOptions{
		Path:           *modelPath,
		ORTLibraryPath: *ortLib,
	}, logger), logger)
	defer engine.Close()

	pool := detect.NewPool(1)
	defer pool.Close()
	detector := detect.New(config, engine, pool, logger, detect.Options{})
	defer detector.Close()

	states, cancel := detector.Subscribe()
	defer cancel()
	check(detector.Submit(img))

	for s := range states {
		switch s.Kind {
		case detect.Success:
			fmt.Printf("Detected: %v\n", s.Result.Label)
			fmt.Printf("Confidence: %v\n", decision.FormatConfidence(s.Result.Confidence))
			fmt.Printf("Amount in words: %v\n", decision.Announcement(s.Result.Label))
			fmt.Printf("Spoken: %v\n", decision.SpokenText(s.Result))
			return
		case detect.Error:
			fmt.Fprintf(os.Stderr, "Error: %v\n", s.Message)
			os.Exit(1)
		}
	}
}
