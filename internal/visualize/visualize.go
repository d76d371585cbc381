// Package visualize renders rasters and masks to PNG files for inspection.
package visualize

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"math"

	"groundseg/internal/fileutil"
	"groundseg/internal/tensor"
)

// MaskImage renders a single-plane raster as grayscale, stretching its own
// minimum to black and maximum to white. Constant rasters render black.
func MaskImage(t *tensor.Tensor) (*image.Gray, error) {
	if t == nil || t.Rank() < 2 {
		return nil, errors.New("mask image needs a tensor of rank 2 or more")
	}
	h, w := t.Shape[t.Rank()-2], t.Shape[t.Rank()-1]
	if t.Len() != h*w {
		return nil, fmt.Errorf("mask image needs a single plane, got shape %v", t.Shape)
	}
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range t.Data {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	span := hi - lo
	if span <= 0 {
		return img, nil
	}
	for i, v := range t.Data {
		img.Pix[i] = uint8(math.Round(float64((v - lo) / span * 255)))
	}
	return img, nil
}

// SideBySide places images left to right on a shared canvas, top aligned.
func SideBySide(images ...image.Image) *image.RGBA {
	width, height := 0, 0
	for _, img := range images {
		b := img.Bounds()
		width += b.Dx()
		height = max(height, b.Dy())
	}
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	x := 0
	for _, img := range images {
		b := img.Bounds()
		draw.Draw(out, image.Rect(x, 0, x+b.Dx(), b.Dy()), img, b.Min, draw.Src)
		x += b.Dx()
	}
	return out
}

// SavePNG encodes img to path atomically.
func SavePNG(path string, img image.Image) error {
	return fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		return png.Encode(w, img)
	})
}
