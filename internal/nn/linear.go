package nn

import (
	"math/rand"

	"github.com/lth/pure-go-elmo/internal/kernels"
)

// Linear is y = x W^T + b with W stored [Out, In].
type Linear struct {
	In, Out int
	Weight  *Parameter
	Bias    *Parameter // nil when the layer has no bias
}

// NewLinear allocates a linear layer with the default fan-in uniform
// initialization.
func NewLinear(name string, in, out int, bias bool, rng *rand.Rand) *Linear {
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: NewParameter(name+".weight", out, in),
	}
	bound := fanInBound(in)
	Uniform(l.Weight.Data, bound, rng)
	if bias {
		l.Bias = NewParameter(name+".bias", out)
		Uniform(l.Bias.Data, bound, rng)
	}
	return l
}

// Forward writes rows output vectors into dst.
func (l *Linear) Forward(dst, input []float32, rows int) {
	var bias []float32
	if l.Bias != nil {
		bias = l.Bias.Data
	}
	kernels.Linear(dst, input, l.Weight.Data, bias, rows, l.In, l.Out)
}

// Apply allocates the output for rows inputs.
func (l *Linear) Apply(input []float32, rows int) []float32 {
	dst := make([]float32, rows*l.Out)
	l.Forward(dst, input, rows)
	return dst
}

// Parameters implements Module.
func (l *Linear) Parameters() []*Parameter {
	if l.Bias == nil {
		return []*Parameter{l.Weight}
	}
	return []*Parameter{l.Weight, l.Bias}
}
