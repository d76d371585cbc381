// Package masks holds binary segmentation masks and the post-processing
// applied to detector output and fusion predictions.
package masks

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"groundseg/internal/tensor"
)

// Mask is a binary raster. Pix holds one byte per pixel, row-major, each 0 or 1.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// New returns an all-zero mask.
func New(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// At reports the mask value at (x, y).
func (m *Mask) At(x, y int) uint8 { return m.Pix[y*m.Width+x] }

// Set marks (x, y) as foreground when on is true.
func (m *Mask) Set(x, y int, on bool) {
	var v uint8
	if on {
		v = 1
	}
	m.Pix[y*m.Width+x] = v
}

// Count returns the number of foreground pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		n += int(v)
	}
	return n
}

// SameSize reports whether m and other share dimensions.
func (m *Mask) SameSize(other *Mask) bool {
	return m.Width == other.Width && m.Height == other.Height
}

// Tensor returns the mask as a float32 [1, 1, H, W] target.
func (m *Mask) Tensor() *tensor.Tensor {
	t := tensor.New(1, 1, m.Height, m.Width)
	for i, v := range m.Pix {
		t.Data[i] = float32(v)
	}
	return t
}

// Image renders the mask as 8-bit grayscale, foreground white.
func (m *Mask) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Pix {
		img.Pix[(i/m.Width)*img.Stride+i%m.Width] = v * 255
	}
	return img
}

// FromImage reads a mask image; any nonzero luminance is foreground.
func FromImage(img image.Image) *Mask {
	b := img.Bounds()
	m := New(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			m.Set(x, y, g.Y != 0)
		}
	}
	return m
}

// Threshold converts prediction logits to a binary mask: a pixel is
// foreground when its sigmoid is strictly greater than 0.5. The trailing two
// dimensions of logits are height and width; leading dimensions must be 1.
func Threshold(logits *tensor.Tensor) (*Mask, error) {
	h, w, err := planeSize(logits)
	if err != nil {
		return nil, err
	}
	m := New(w, h)
	for i, v := range logits.Data {
		if sigmoid(float64(v)) > 0.5 {
			m.Pix[i] = 1
		}
	}
	return m, nil
}

func planeSize(t *tensor.Tensor) (h, w int, err error) {
	if t == nil || t.Rank() < 2 {
		return 0, 0, errors.New("threshold needs a tensor of rank 2 or more")
	}
	for _, d := range t.Shape[:t.Rank()-2] {
		if d != 1 {
			return 0, 0, fmt.Errorf("threshold needs a single plane, got shape %v", t.Shape)
		}
	}
	return t.Shape[t.Rank()-2], t.Shape[t.Rank()-1], nil
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// IoU returns |a ∩ b| / |a ∪ b|, or 0 when the union is empty.
func IoU(a, b *Mask) (float64, error) {
	if a == nil || b == nil {
		return 0, errors.New("iou: nil mask")
	}
	if !a.SameSize(b) {
		return 0, fmt.Errorf("iou: shape mismatch %dx%d vs %dx%d", a.Width, a.Height, b.Width, b.Height)
	}
	var inter, union int
	for i := range a.Pix {
		x, y := a.Pix[i] != 0, b.Pix[i] != 0
		if x && y {
			inter++
		}
		if x || y {
			union++
		}
	}
	if union == 0 {
		return 0, nil
	}
	return float64(inter) / float64(union), nil
}
