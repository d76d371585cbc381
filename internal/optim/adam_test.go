package optim_test

import (
	"math"
	"testing"

	"groundseg/internal/fusion"
	"groundseg/internal/optim"
)

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	adam, err := optim.NewAdam(optim.DefaultAdam(0.1))
	if err != nil {
		t.Fatal(err)
	}
	p := &fusion.Parameter{Name: "w", Rows: 1, Cols: 3, Value: []float64{1, 1, 1}, Grad: []float64{2, -0.5, 0}}
	if err := adam.Step([]*fusion.Parameter{p}); err != nil {
		t.Fatal(err)
	}
	// With bias correction the first update is lr * sign(g).
	want := []float64{0.9, 1.1, 1}
	for i, w := range want {
		if math.Abs(p.Value[i]-w) > 1e-6 {
			t.Fatalf("value[%d] = %v, want %v", i, p.Value[i], w)
		}
	}
	if adam.Steps() != 1 {
		t.Fatalf("steps = %d", adam.Steps())
	}
}

func TestAdamMinimizesQuadratic(t *testing.T) {
	adam, _ := optim.NewAdam(optim.DefaultAdam(0.05))
	p := &fusion.Parameter{Name: "x", Rows: 1, Cols: 1, Value: []float64{3}, Grad: []float64{0}}
	for i := 0; i < 1000; i++ {
		p.Grad[0] = 2 * (p.Value[0] - 1)
		if err := adam.Step([]*fusion.Parameter{p}); err != nil {
			t.Fatal(err)
		}
	}
	if math.Abs(p.Value[0]-1) > 0.1 {
		t.Fatalf("x = %v, want ~1", p.Value[0])
	}
}

func TestAdamRejectsBadConfig(t *testing.T) {
	if _, err := optim.NewAdam(optim.AdamConfig{LearningRate: 0, Beta1: 0.9, Beta2: 0.999}); err == nil {
		t.Fatal("expected error for zero learning rate")
	}
	if _, err := optim.NewAdam(optim.AdamConfig{LearningRate: 1, Beta1: 1, Beta2: 0.999}); err == nil {
		t.Fatal("expected error for beta1 = 1")
	}
}
