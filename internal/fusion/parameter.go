package fusion

import "gonum.org/v1/gonum/mat"

// Parameter is a named trainable matrix with its accumulated gradient.
type Parameter struct {
	Name  string
	Rows  int
	Cols  int
	Value []float64
	Grad  []float64
}

func newParameter(name string, rows, cols int) *Parameter {
	return &Parameter{
		Name:  name,
		Rows:  rows,
		Cols:  cols,
		Value: make([]float64, rows*cols),
		Grad:  make([]float64, rows*cols),
	}
}

// Shape returns [rows, cols].
func (p *Parameter) Shape() []int { return []int{p.Rows, p.Cols} }

func (p *Parameter) value() *mat.Dense { return mat.NewDense(p.Rows, p.Cols, p.Value) }

func (p *Parameter) grad() *mat.Dense { return mat.NewDense(p.Rows, p.Cols, p.Grad) }

func (p *Parameter) zeroGrad() {
	clear(p.Grad)
}
