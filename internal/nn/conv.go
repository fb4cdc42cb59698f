package nn

import (
	"math/rand"

	"github.com/lth/pure-go-elmo/internal/kernels"
)

// Conv1D is a valid 1-D convolution over a position-major sequence.
// Weight is [Out, In, Width].
type Conv1D struct {
	In, Out, Width int
	Weight         *Parameter
	Bias           *Parameter
}

// NewConv1D allocates a convolution with fan-in uniform initialization.
func NewConv1D(name string, in, out, width int, rng *rand.Rand) *Conv1D {
	c := &Conv1D{
		In:     in,
		Out:    out,
		Width:  width,
		Weight: NewParameter(name+".weight", out, in, width),
		Bias:   NewParameter(name+".bias", out),
	}
	bound := fanInBound(in * width)
	Uniform(c.Weight.Data, bound, rng)
	Uniform(c.Bias.Data, bound, rng)
	return c
}

// MaxPool convolves input ([seqLen, In]) and writes the per-channel maximum
// over positions into dst ([Out]).
func (c *Conv1D) MaxPool(dst, input []float32, seqLen int) {
	kernels.Conv1DMaxPool(dst, input, c.Weight.Data, c.Bias.Data, seqLen, c.In, c.Out, c.Width)
}

// Parameters implements Module.
func (c *Conv1D) Parameters() []*Parameter {
	return []*Parameter{c.Weight, c.Bias}
}
