// Package model defines the trainable model the sync and eval engines drive,
// and a linear reference model used by the daemons and tests.
package model

import (
	"github.com/tensorplex-labs/templar/internal/dataset"
)

// Tensor is a named parameter viewed as a flat coordinate array.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float64
	Grad  []float64
}

func (t *Tensor) Size() int {
	return len(t.Data)
}

// Trainable is the model collaborator. Implementations own their optimizer state.
type Trainable interface {
	// Parameters returns the live tensors in a stable order.
	Parameters() []*Tensor
	ZeroGrad()
	// ForwardBackward accumulates gradients for batch and returns its loss.
	ForwardBackward(batch dataset.Batch) (float64, error)
	Step()
}

// Shapes returns the coordinate count of every parameter.
func Shapes(m Trainable) map[string]int {
	params := m.Parameters()
	shapes := make(map[string]int, len(params))
	for _, p := range params {
		shapes[p.Name] = p.Size()
	}
	return shapes
}

// ByName indexes the parameters of m.
func ByName(m Trainable) map[string]*Tensor {
	params := m.Parameters()
	out := make(map[string]*Tensor, len(params))
	for _, p := range params {
		out[p.Name] = p
	}
	return out
}
