package nn

import (
	"math/rand"
	"strconv"

	"github.com/lth/pure-go-elmo/internal/kernels"
)

// Highway applies gated layers y = g*x + (1-g)*f(A x), g = sigmoid(B x).
// Each layer is a single [2*Dim, Dim] linear map: the first Dim outputs feed
// the transform f, the second Dim outputs the gate.
type Highway struct {
	Dim    int
	Layers []*Linear
}

// NewHighway allocates numLayers layers. Gate biases start at 1 so an
// untrained layer mostly carries its input; transform biases start at 0.
func NewHighway(name string, dim, numLayers int, rng *rand.Rand) *Highway {
	h := &Highway{Dim: dim}
	for k := 0; k < numLayers; k++ {
		l := NewLinear(name+"."+strconv.Itoa(k), dim, 2*dim, true, rng)
		for i := range l.Bias.Data {
			if i < dim {
				l.Bias.Data[i] = 0
			} else {
				l.Bias.Data[i] = 1
			}
		}
		h.Layers = append(h.Layers, l)
	}
	return h
}

// Forward applies every layer to rows input vectors and returns a new slice.
func (h *Highway) Forward(input []float32, rows int) []float32 {
	d := h.Dim
	current := append([]float32(nil), input[:rows*d]...)
	projected := make([]float32, rows*2*d)
	for _, layer := range h.Layers {
		layer.Forward(projected, current, rows)
		for r := 0; r < rows; r++ {
			p := projected[r*2*d : (r+1)*2*d]
			transform, gate := p[:d], p[d:]
			kernels.ReLU(transform, transform, d)
			kernels.Sigmoid(gate, gate, d)
			x := current[r*d : (r+1)*d]
			for i := range x {
				x[i] = gate[i]*x[i] + (1-gate[i])*transform[i]
			}
		}
	}
	return current
}

// gate returns the gate activations of layer k for rows inputs.
func (h *Highway) gate(k int, input []float32, rows int) []float32 {
	d := h.Dim
	projected := h.Layers[k].Apply(input, rows)
	gates := make([]float32, rows*d)
	for r := 0; r < rows; r++ {
		kernels.Sigmoid(gates[r*d:(r+1)*d], projected[r*2*d+d:(r+1)*2*d], d)
	}
	return gates
}

// Parameters implements Module.
func (h *Highway) Parameters() []*Parameter {
	var ps []*Parameter
	for _, l := range h.Layers {
		ps = append(ps, l.Parameters()...)
	}
	return ps
}
