package fusion

import (
	"fmt"
	"math"

	"groundseg/internal/tensor"
)

// BCEWithLogits returns the mean binary cross-entropy between logits and
// target (values in [0, 1]) and its gradient with respect to logits. The
// per-element form max(x, 0) - x*y + log(1 + exp(-|x|)) stays finite for any x.
func BCEWithLogits(logits, target *tensor.Tensor) (float64, *tensor.Tensor, error) {
	if logits == nil || target == nil {
		return 0, nil, fmt.Errorf("bce: nil tensor")
	}
	if logits.Len() != target.Len() || logits.Len() == 0 {
		return 0, nil, fmt.Errorf("bce: logits %s and target %s differ", logits.ShapeString(), target.ShapeString())
	}
	n := float64(logits.Len())
	grad := tensor.New(logits.Shape...)
	total := 0.0
	for i, v := range logits.Data {
		x := float64(v)
		y := float64(target.Data[i])
		total += math.Max(x, 0) - x*y + math.Log1p(math.Exp(-math.Abs(x)))
		grad.Data[i] = float32((sigmoid(x) - y) / n)
	}
	return total / n, grad, nil
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
