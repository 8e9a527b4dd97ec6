// Package imageio hands the pipeline an upright RGB image from an upload or a
// camera capture.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

// Decode reads an encoded image and applies its EXIF orientation, if any.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if errors.Is(err, image.ErrFormat) {
		return nil, fmt.Errorf("%w (supported: JPEG, PNG, GIF, BMP, TIFF, WebP)", ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Rotate turns img clockwise by degrees, the convention camera frames use to
// report how far they are from upright. A rotation of zero returns img itself;
// any other rotation returns a new image.
func Rotate(img image.Image, degrees int) image.Image {
	switch ((degrees % 360) + 360) % 360 {
	case 0:
		return img
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return imaging.Rotate(img, -float64(degrees), color.Black)
	}
}
