// Package preprocess turns a decoded image into the input tensor of the classifier.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/Brownie44l1/currency-api/internal/model"
	"golang.org/x/image/draw"
)

var ErrInvalidImage = errors.New("invalid image")

// Validate rejects images the pipeline cannot use.
func Validate(img image.Image) error {
	if img == nil {
		return fmt.Errorf("%w: nil image", ErrInvalidImage)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidImage, b.Dx(), b.Dy())
	}
	return nil
}

// Preprocess stretches img to the model input size with bilinear interpolation
// and writes normalized R,G,B values row-major into a fresh tensor.
// Aspect ratio is not preserved. Each output pixel blends the 4 source pixels
// nearest its center, however large the downscale.
func Preprocess(img image.Image, config model.ModelConfig) (model.Tensor, error) {
	if err := Validate(img); err != nil {
		return model.Tensor{}, err
	}
	if config.InputWidth <= 0 || config.InputHeight <= 0 || config.Channels != 3 || config.NormalizeScale == 0 {
		return model.Tensor{}, fmt.Errorf("unsupported model input %dx%dx%d scale %v",
			config.InputWidth, config.InputHeight, config.Channels, config.NormalizeScale)
	}

	resized := image.NewRGBA(image.Rect(0, 0, config.InputWidth, config.InputHeight))
	draw.ApproxBiLinear.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)

	data := make([]float32, config.InputSize())
	norm := func(v uint8) float32 {
		return (float32(v) - config.NormalizeOffset) / config.NormalizeScale
	}
	i := 0
	for y := 0; y < config.InputHeight; y++ {
		for x := 0; x < config.InputWidth; x++ {
			c := color.NRGBAModel.Convert(resized.RGBAAt(x, y)).(color.NRGBA)
			data[i] = norm(c.R)
			data[i+1] = norm(c.G)
			data[i+2] = norm(c.B)
			i += 3
		}
	}

	return model.Tensor{
		Shape: config.InputShape(),
		Data:  data,
	}, nil
}
