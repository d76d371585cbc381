// Package tensor holds dense row-major float32 tensors and the small set of
// operations the harness performs on them outside the model worker.
package tensor

import (
	"fmt"
	"strings"
)

// Tensor is a dense row-major float32 array.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Named pairs a tensor with the hook or parameter name that produced it.
type Named struct {
	Name   string
	Tensor *Tensor
}

// New allocates a zero tensor of the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, Volume(shape))}
}

// FromData wraps data with shape, checking the element count.
func FromData(shape []int, data []float32) (*Tensor, error) {
	if want := Volume(shape); want != len(data) {
		return nil, fmt.Errorf("tensor shape %v needs %d values, got %d", shape, want, len(data))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Volume returns the element count for shape. An empty shape is a scalar.
func Volume(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: append([]int(nil), t.Shape...), Data: append([]float32(nil), t.Data...)}
}

// ShapeString formats the shape as "2x3x4".
func (t *Tensor) ShapeString() string {
	return FormatShape(t.Shape)
}

// FormatShape formats shape as "2x3x4"; a scalar is "scalar".
func FormatShape(shape []int) string {
	if len(shape) == 0 {
		return "scalar"
	}
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return strings.Join(parts, "x")
}

// Spatial interprets a rank-4 NCHW tensor (batch 1) or rank-3 CHW tensor and
// returns channels, height, and width.
func (t *Tensor) Spatial() (c, h, w int, err error) {
	switch t.Rank() {
	case 4:
		if t.Shape[0] != 1 {
			return 0, 0, 0, fmt.Errorf("feature map batch %d unsupported, want 1", t.Shape[0])
		}
		return t.Shape[1], t.Shape[2], t.Shape[3], nil
	case 3:
		return t.Shape[0], t.Shape[1], t.Shape[2], nil
	default:
		return 0, 0, 0, fmt.Errorf("feature map rank %d unsupported, want 3 or 4", t.Rank())
	}
}

// Repeat tiles a [1, ...] tensor n times along the leading dimension.
func (t *Tensor) Repeat(n int) (*Tensor, error) {
	if t.Rank() == 0 || t.Shape[0] != 1 {
		return nil, fmt.Errorf("repeat needs a leading dimension of 1, got shape %v", t.Shape)
	}
	if n <= 0 {
		return nil, fmt.Errorf("repeat count %d must be positive", n)
	}
	shape := append([]int(nil), t.Shape...)
	shape[0] = n
	data := make([]float32, 0, len(t.Data)*n)
	for i := 0; i < n; i++ {
		data = append(data, t.Data...)
	}
	return &Tensor{Shape: shape, Data: data}, nil
}

// Rows returns a [1, rows, cols] view's row range [from, to) as a new [1, to-from, cols] tensor.
func (t *Tensor) Rows(from, to int) (*Tensor, error) {
	if t.Rank() != 3 || t.Shape[0] != 1 {
		return nil, fmt.Errorf("rows needs shape [1, tokens, dim], got %v", t.Shape)
	}
	if from < 0 || to > t.Shape[1] || from >= to {
		return nil, fmt.Errorf("row range [%d, %d) outside %d rows", from, to, t.Shape[1])
	}
	cols := t.Shape[2]
	data := append([]float32(nil), t.Data[from*cols:to*cols]...)
	return &Tensor{Shape: []int{1, to - from, cols}, Data: data}, nil
}
