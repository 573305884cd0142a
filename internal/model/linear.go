package model

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/tensorplex-labs/templar/internal/dataset"
)

const (
	WeightName = "linear.weight"
	BiasName   = "linear.bias"
)

// Linear is least squares regression trained with plain SGD.
type Linear struct {
	weight *Tensor
	bias   *Tensor
	lr     float64
}

var _ Trainable = (*Linear)(nil)

// NewLinear builds a model of the given input dimension with weights drawn from seed.
func NewLinear(dimension int, lr float64, seed uint64) *Linear {
	rng := rand.New(rand.NewPCG(seed, ^seed))
	w := make([]float64, dimension)
	for i := range w {
		w[i] = 0.01 * rng.NormFloat64()
	}
	return &Linear{
		weight: &Tensor{Name: WeightName, Shape: []int{dimension}, Data: w, Grad: make([]float64, dimension)},
		bias:   &Tensor{Name: BiasName, Shape: []int{1}, Data: []float64{0}, Grad: []float64{0}},
		lr:     lr,
	}
}

func (l *Linear) Parameters() []*Tensor {
	return []*Tensor{l.weight, l.bias}
}

func (l *Linear) ZeroGrad() {
	for _, p := range l.Parameters() {
		clear(p.Grad)
	}
}

func (l *Linear) ForwardBackward(batch dataset.Batch) (float64, error) {
	if len(batch.Inputs) == 0 {
		return 0, fmt.Errorf("empty batch")
	}
	if len(batch.Inputs) != len(batch.Targets) {
		return 0, fmt.Errorf("batch has %d inputs and %d targets", len(batch.Inputs), len(batch.Targets))
	}

	n := float64(len(batch.Inputs))
	loss := 0.0
	for i, x := range batch.Inputs {
		if len(x) != l.weight.Size() {
			return 0, fmt.Errorf("input dimension %d, model expects %d", len(x), l.weight.Size())
		}
		residual := floats.Dot(l.weight.Data, x) + l.bias.Data[0] - batch.Targets[i]
		loss += residual * residual / n
		// d/dw of mean squared error
		floats.AddScaled(l.weight.Grad, 2*residual/n, x)
		l.bias.Grad[0] += 2 * residual / n
	}
	return loss, nil
}

func (l *Linear) Step() {
	for _, p := range l.Parameters() {
		floats.AddScaled(p.Data, -l.lr, p.Grad)
	}
}
