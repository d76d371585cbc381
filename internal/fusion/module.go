package fusion

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"groundseg/internal/tensor"
)

// Config sizes the module.
type Config struct {
	// Resolution is the side of the square grid features are resized to.
	Resolution int
	// Hidden is the width of the projected activations and the text query.
	Hidden int
	// InitScale is the standard deviation of the initial weights.
	InitScale float64
	Seed      int64
}

// Module is the fusion network. Parameters are created at the first Forward,
// once the feature channel count and embedding width are known.
type Module struct {
	cfg Config
	rng *rand.Rand

	inChannels int
	embedDim   int

	proj      *Parameter // [hidden, inChannels]
	projBias  *Parameter // [hidden, 1]
	query     *Parameter // [hidden, embedDim]
	queryBias *Parameter // [hidden, 1]
	outBias   *Parameter // [1, 1]
}

// Prediction is one forward pass: logits [1, 1, H, W] at the requested output
// size plus the activations Backward needs.
type Prediction struct {
	Logits *tensor.Tensor

	height, width int
	x             *mat.Dense // [inChannels, grid]
	z             *mat.Dense // pre-activation [hidden, grid]
	a             *mat.Dense // post-ReLU [hidden, grid]
	q             *mat.VecDense
	e             *mat.VecDense
}

// New returns an uninitialised module.
func New(cfg Config) (*Module, error) {
	if cfg.Resolution <= 0 || cfg.Hidden <= 0 {
		return nil, fmt.Errorf("fusion: resolution %d and hidden %d must be positive", cfg.Resolution, cfg.Hidden)
	}
	if cfg.InitScale <= 0 {
		return nil, fmt.Errorf("fusion: init scale %v must be positive", cfg.InitScale)
	}
	seed := uint64(cfg.Seed)
	return &Module{cfg: cfg, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}, nil
}

// Parameters returns the trainable parameters in a stable order, or nil
// before the first Forward.
func (m *Module) Parameters() []*Parameter {
	if m.proj == nil {
		return nil
	}
	return []*Parameter{m.proj, m.projBias, m.query, m.queryBias, m.outBias}
}

// ZeroGrad clears every accumulated gradient.
func (m *Module) ZeroGrad() {
	for _, p := range m.Parameters() {
		p.zeroGrad()
	}
}

func (m *Module) init(inChannels, embedDim int) {
	h := m.cfg.Hidden
	m.inChannels, m.embedDim = inChannels, embedDim
	m.proj = m.randomParameter("proj.weight", h, inChannels)
	m.projBias = newParameter("proj.bias", h, 1)
	m.query = m.randomParameter("query.weight", h, embedDim)
	m.queryBias = newParameter("query.bias", h, 1)
	m.outBias = newParameter("out.bias", 1, 1)
}

func (m *Module) randomParameter(name string, rows, cols int) *Parameter {
	p := newParameter(name, rows, cols)
	for i := range p.Value {
		p.Value[i] = m.rng.NormFloat64() * m.cfg.InitScale
	}
	return p
}

// Forward predicts logits of size height x width from features (any number
// of [1, C, h, w] maps) and embedding ([batch, tokens, dim], batch 0 is used).
func (m *Module) Forward(features []tensor.Named, embedding *tensor.Tensor, height, width int) (*Prediction, error) {
	if len(features) == 0 {
		return nil, errors.New("fusion: no feature maps")
	}
	if embedding == nil || embedding.Rank() != 3 || embedding.Shape[1] == 0 {
		return nil, errors.New("fusion: embedding must have shape [batch, tokens, dim]")
	}
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("fusion: output size %dx%d must be positive", width, height)
	}

	x, err := m.stackFeatures(features)
	if err != nil {
		return nil, err
	}
	inChannels, _ := x.Dims()
	embedDim := embedding.Shape[2]
	if m.proj == nil {
		m.init(inChannels, embedDim)
	} else if inChannels != m.inChannels || embedDim != m.embedDim {
		return nil, fmt.Errorf("fusion: inputs changed from %d channels/%d dim to %d/%d",
			m.inChannels, m.embedDim, inChannels, embedDim)
	}

	grid := m.cfg.Resolution * m.cfg.Resolution
	hidden := m.cfg.Hidden

	z := mat.NewDense(hidden, grid, nil)
	z.Mul(m.proj.value(), x)
	bias := m.projBias.Value
	z.Apply(func(i, _ int, v float64) float64 { return v + bias[i] }, z)
	a := mat.DenseCopyOf(z)
	a.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, a)

	e := meanToken(embedding)
	q := mat.NewVecDense(hidden, nil)
	q.MulVec(m.query.value(), e)
	q.AddVec(q, mat.NewVecDense(hidden, m.queryBias.Value))

	scores := mat.NewVecDense(grid, nil)
	scores.MulVec(a.T(), q)
	scale := 1 / math.Sqrt(float64(hidden))
	ob := m.outBias.Value[0]
	grid32 := make([]float32, grid)
	for i := range grid32 {
		grid32[i] = float32(scores.AtVec(i)*scale + ob)
	}

	logits := tensor.ResizeBilinear(grid32, 1, m.cfg.Resolution, m.cfg.Resolution, height, width)
	out, err := tensor.FromData([]int{1, 1, height, width}, logits)
	if err != nil {
		return nil, err
	}
	return &Prediction{Logits: out, height: height, width: width, x: x, z: z, a: a, q: q, e: e}, nil
}

// stackFeatures resizes each map to the module grid and stacks channels into
// a [channels, grid] matrix.
func (m *Module) stackFeatures(features []tensor.Named) (*mat.Dense, error) {
	r := m.cfg.Resolution
	grid := r * r
	total := 0
	resized := make([][]float32, len(features))
	for i, f := range features {
		if f.Tensor == nil {
			return nil, fmt.Errorf("fusion: feature %q is empty", f.Name)
		}
		c, h, w, err := f.Tensor.Spatial()
		if err != nil {
			return nil, fmt.Errorf("fusion: feature %q: %w", f.Name, err)
		}
		resized[i] = tensor.ResizeBilinear(f.Tensor.Data, c, h, w, r, r)
		total += c
	}
	data := make([]float64, 0, total*grid)
	for _, buf := range resized {
		for _, v := range buf {
			data = append(data, float64(v))
		}
	}
	return mat.NewDense(total, grid, data), nil
}

func meanToken(embedding *tensor.Tensor) *mat.VecDense {
	tokens, dim := embedding.Shape[1], embedding.Shape[2]
	e := mat.NewVecDense(dim, nil)
	for t := 0; t < tokens; t++ {
		row := embedding.Data[t*dim : (t+1)*dim]
		for j, v := range row {
			e.SetVec(j, e.AtVec(j)+float64(v))
		}
	}
	e.ScaleVec(1/float64(tokens), e)
	return e
}

// Backward accumulates parameter gradients given d(loss)/d(logits), which must
// match the prediction's logits shape.
func (m *Module) Backward(pred *Prediction, gradLogits *tensor.Tensor) error {
	if pred == nil || m.proj == nil {
		return errors.New("fusion: backward before forward")
	}
	if gradLogits == nil || gradLogits.Len() != pred.Logits.Len() {
		return errors.New("fusion: gradient does not match logits")
	}
	r := m.cfg.Resolution
	grid := r * r
	hidden := m.cfg.Hidden
	scale := 1 / math.Sqrt(float64(hidden))

	gs32 := tensor.ResizeBilinearBackward(gradLogits.Data, 1, r, r, pred.height, pred.width)
	gs := mat.NewVecDense(grid, nil)
	sum := 0.0
	for i, v := range gs32 {
		gs.SetVec(i, float64(v))
		sum += float64(v)
	}
	m.outBias.Grad[0] += sum

	// dQ = A gs / sqrt(hidden)
	dq := mat.NewVecDense(hidden, nil)
	dq.MulVec(pred.a, gs)
	dq.ScaleVec(scale, dq)
	qg := m.query.grad()
	qg.RankOne(qg, 1, dq, pred.e)
	qb := mat.NewVecDense(hidden, m.queryBias.Grad)
	qb.AddVec(qb, dq)

	// dZ = (q gsᵀ / sqrt(hidden)) masked by ReLU.
	dz := mat.NewDense(hidden, grid, nil)
	dz.Outer(scale, pred.q, gs)
	z := pred.z
	dz.Apply(func(i, j int, v float64) float64 {
		if z.At(i, j) <= 0 {
			return 0
		}
		return v
	}, dz)

	dw := mat.NewDense(hidden, m.inChannels, nil)
	dw.Mul(dz, pred.x.T())
	pg := m.proj.grad()
	pg.Add(pg, dw)
	for i := 0; i < hidden; i++ {
		m.projBias.Grad[i] += mat.Sum(dz.RowView(i))
	}
	return nil
}
