// Package encoder runs contextual encoders over token embeddings: the
// projected bidirectional LM stack and a plain bidirectional LSTM.
package encoder

import (
	"sort"

	"github.com/lth/pure-go-elmo/internal/nn"
)

// Encoder is implemented by both encoder variants.
type Encoder interface {
	nn.Module
	// Encode returns one [B, T, OutputDim] sequence per exposed layer.
	Encode(inputs nn.Sequence, lengths []int) ([]nn.Sequence, error)
	OutputDim() int
	SetTraining(training bool)
}

// sortByLength returns the batch order that sorts lengths longest first.
// Ties keep their original order.
func sortByLength(lengths []int) []int {
	order := make([]int, len(lengths))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return lengths[order[a]] > lengths[order[b]]
	})
	return order
}

// gatherRows returns rows of a [batch, width] matrix in the given order.
func gatherRows(data []float32, width int, order []int) []float32 {
	out := make([]float32, len(order)*width)
	for dst, src := range order {
		copy(out[dst*width:(dst+1)*width], data[src*width:(src+1)*width])
	}
	return out
}

// scatterRows undoes gatherRows: row i of data goes to position order[i].
func scatterRows(data []float32, width int, order []int) []float32 {
	out := make([]float32, len(order)*width)
	for src, dst := range order {
		copy(out[dst*width:(dst+1)*width], data[src*width:(src+1)*width])
	}
	return out
}

func gatherSequence(s nn.Sequence, order []int) nn.Sequence {
	out := s
	out.Data = gatherRows(s.Data, s.Steps*s.Dim, order)
	return out
}

func scatterSequence(s nn.Sequence, order []int) nn.Sequence {
	out := s
	out.Data = scatterRows(s.Data, s.Steps*s.Dim, order)
	return out
}

// concatFeatures joins two [B, T, *] sequences along the feature axis.
func concatFeatures(a, b nn.Sequence) nn.Sequence {
	out := nn.NewSequence(a.Batch, a.Steps, a.Dim+b.Dim)
	for i := 0; i < a.Batch; i++ {
		for t := 0; t < a.Steps; t++ {
			dst := out.At(i, t)
			copy(dst, a.At(i, t))
			copy(dst[a.Dim:], b.At(i, t))
		}
	}
	return out
}

// concatRows joins two [batch, *] matrices row by row.
func concatRows(a []float32, aw int, b []float32, bw int, batch int) []float32 {
	out := make([]float32, batch*(aw+bw))
	for i := 0; i < batch; i++ {
		copy(out[i*(aw+bw):], a[i*aw:(i+1)*aw])
		copy(out[i*(aw+bw)+aw:], b[i*bw:(i+1)*bw])
	}
	return out
}

// splitRows is the inverse of concatRows.
func splitRows(data []float32, aw, bw, batch int) ([]float32, []float32) {
	a := make([]float32, batch*aw)
	b := make([]float32, batch*bw)
	for i := 0; i < batch; i++ {
		row := data[i*(aw+bw) : (i+1)*(aw+bw)]
		copy(a[i*aw:], row[:aw])
		copy(b[i*bw:], row[aw:])
	}
	return a, b
}
