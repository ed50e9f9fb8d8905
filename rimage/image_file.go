package rimage

import (
	"image"
	// register the decoders ReadImageFromFile understands.
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	_ "github.com/lmittmann/ppm"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// ReadImageFromFile decodes a png, jpeg, ppm, bmp or tiff file.
func ReadImageFromFile(path string) (image.Image, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %q", path)
	}
	return img, nil
}

// NewBGRImageFromFile reads a color image from disk.
func NewBGRImageFromFile(path string) (*BGRImage, error) {
	img, err := ReadImageFromFile(path)
	if err != nil {
		return nil, err
	}
	return NewBGRImageFromImage(img), nil
}

// NewMaskFromFile reads a mask from a grayscale (or color) image on disk.
func NewMaskFromFile(path string) (*Mask, error) {
	img, err := ReadImageFromFile(path)
	if err != nil {
		return nil, err
	}
	return NewMaskFromImage(img), nil
}
