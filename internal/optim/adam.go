// Package optim updates fusion parameters from their accumulated gradients.
package optim

import (
	"fmt"
	"math"

	"groundseg/internal/fusion"
)

// Optimizer applies one update per call to Step.
type Optimizer interface {
	Step(params []*fusion.Parameter) error
}

// AdamConfig holds Adam hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

// DefaultAdam returns the usual Adam constants at learning rate lr.
func DefaultAdam(lr float64) AdamConfig {
	return AdamConfig{LearningRate: lr, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
}

// Adam implements bias-corrected Adam:
//
//	m = b1*m + (1-b1)*g
//	v = b2*v + (1-b2)*g²
//	p -= lr * (m/(1-b1^t)) / (sqrt(v/(1-b2^t)) + eps)
//
// Moment state is keyed by parameter name and created on first sight.
type Adam struct {
	cfg   AdamConfig
	steps int
	m     map[string][]float64
	v     map[string][]float64
}

// NewAdam validates cfg and returns an optimizer with empty state.
func NewAdam(cfg AdamConfig) (*Adam, error) {
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("adam: learning rate %v must be positive", cfg.LearningRate)
	}
	if cfg.Beta1 < 0 || cfg.Beta1 >= 1 || cfg.Beta2 < 0 || cfg.Beta2 >= 1 {
		return nil, fmt.Errorf("adam: betas (%v, %v) must be in [0, 1)", cfg.Beta1, cfg.Beta2)
	}
	return &Adam{cfg: cfg, m: map[string][]float64{}, v: map[string][]float64{}}, nil
}

// Steps returns how many updates have been applied.
func (a *Adam) Steps() int { return a.steps }

// Step updates every parameter in place.
func (a *Adam) Step(params []*fusion.Parameter) error {
	if len(params) == 0 {
		return fmt.Errorf("adam: no parameters")
	}
	a.steps++
	bias1 := 1 - math.Pow(a.cfg.Beta1, float64(a.steps))
	bias2 := 1 - math.Pow(a.cfg.Beta2, float64(a.steps))
	for _, p := range params {
		m, v, err := a.moments(p)
		if err != nil {
			return err
		}
		for i, g := range p.Grad {
			m[i] = a.cfg.Beta1*m[i] + (1-a.cfg.Beta1)*g
			v[i] = a.cfg.Beta2*v[i] + (1-a.cfg.Beta2)*g*g
			mHat := m[i] / bias1
			vHat := v[i] / bias2
			p.Value[i] -= a.cfg.LearningRate * mHat / (math.Sqrt(vHat) + a.cfg.Epsilon)
		}
	}
	return nil
}

func (a *Adam) moments(p *fusion.Parameter) ([]float64, []float64, error) {
	m, ok := a.m[p.Name]
	if !ok {
		m = make([]float64, len(p.Value))
		a.m[p.Name] = m
		a.v[p.Name] = make([]float64, len(p.Value))
	}
	if len(m) != len(p.Value) || len(p.Grad) != len(p.Value) {
		return nil, nil, fmt.Errorf("adam: parameter %s changed size", p.Name)
	}
	return m, a.v[p.Name], nil
}
