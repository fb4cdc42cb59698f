// Package nn holds the parameterized layers of the ELMo encoder: linear maps,
// embeddings, character convolutions, highway layers and the two LSTM cells.
//
// Tensors are flat row-major []float32 slices. Every layer exposes its weights
// as *Parameter values so the checkpoint loader can overwrite and freeze them.
package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/lth/pure-go-elmo/internal/elmoerr"
)

// Parameter is a named weight tensor.
type Parameter struct {
	Name      string
	Shape     []int
	Data      []float32
	Trainable bool
}

// NewParameter allocates a zeroed trainable parameter.
func NewParameter(name string, shape ...int) *Parameter {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Parameter{
		Name:      name,
		Shape:     append([]int(nil), shape...),
		Data:      make([]float32, n),
		Trainable: true,
	}
}

// Size returns the number of elements.
func (p *Parameter) Size() int {
	return len(p.Data)
}

// Set copies values into the parameter after checking the shape matches.
func (p *Parameter) Set(values []float32, shape []int) error {
	if !sameShape(p.Shape, shape) || len(values) != len(p.Data) {
		return elmoerr.Shapef("%s: expected shape %v, got %v", p.Name, p.Shape, shape)
	}
	copy(p.Data, values)
	return nil
}

// Freeze marks the parameter as non-trainable.
func (p *Parameter) Freeze() {
	p.Trainable = false
}

// Module is anything that owns parameters.
type Module interface {
	Parameters() []*Parameter
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Orthogonal fills dst, a row-major [rows, cols] matrix, with a random
// (semi-)orthogonal matrix: the Q factor of a QR decomposition of a standard
// normal matrix, sign-corrected by diag(R) so the distribution is uniform.
func Orthogonal(dst []float32, rows, cols int, rng *rand.Rand) {
	m, n := rows, cols
	transposed := rows < cols
	if transposed {
		m, n = cols, rows
	}

	a := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, rng.NormFloat64())
		}
	}

	var qr mat.QR
	qr.Factorize(a)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	for j := 0; j < n; j++ {
		sign := 1.0
		if r.At(j, j) < 0 {
			sign = -1.0
		}
		for i := 0; i < m; i++ {
			v := float32(sign * q.At(i, j))
			if transposed {
				dst[j*cols+i] = v
			} else {
				dst[i*cols+j] = v
			}
		}
	}
}

// Uniform fills dst with values drawn from U(-bound, bound).
func Uniform(dst []float32, bound float64, rng *rand.Rand) {
	for i := range dst {
		dst[i] = float32((rng.Float64()*2 - 1) * bound)
	}
}

// Normal fills dst with standard normal values.
func Normal(dst []float32, rng *rand.Rand) {
	for i := range dst {
		dst[i] = float32(rng.NormFloat64())
	}
}

// DropoutMask samples a [rows, cols] mask whose entries are 0 with
// probability p and 1/(1-p) otherwise.
func DropoutMask(p float64, rows, cols int, rng *rand.Rand) []float32 {
	mask := make([]float32, rows*cols)
	if p >= 1 {
		return mask
	}
	scale := float32(1 / (1 - p))
	for i := range mask {
		if rng.Float64() >= p {
			mask[i] = scale
		}
	}
	return mask
}

// fanInBound is the default initialization bound 1/sqrt(fanIn).
func fanInBound(fanIn int) float64 {
	if fanIn <= 0 {
		return 0
	}
	return 1 / math.Sqrt(float64(fanIn))
}
