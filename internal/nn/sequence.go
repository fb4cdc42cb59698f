package nn

import "github.com/lth/pure-go-elmo/internal/elmoerr"

// Sequence is a [Batch, Steps, Dim] tensor.
type Sequence struct {
	Data  []float32
	Batch int
	Steps int
	Dim   int
}

// NewSequence allocates a zero-filled sequence tensor.
func NewSequence(batch, steps, dim int) Sequence {
	return Sequence{
		Data:  make([]float32, batch*steps*dim),
		Batch: batch,
		Steps: steps,
		Dim:   dim,
	}
}

// At returns the feature vector of sequence b at timestep t.
func (s Sequence) At(b, t int) []float32 {
	off := (b*s.Steps + t) * s.Dim
	return s.Data[off : off+s.Dim]
}

// Row returns all timesteps of sequence b.
func (s Sequence) Row(b int) []float32 {
	off := b * s.Steps * s.Dim
	return s.Data[off : off+s.Steps*s.Dim]
}

// Clone returns a deep copy.
func (s Sequence) Clone() Sequence {
	out := s
	out.Data = append([]float32(nil), s.Data...)
	return out
}

// State is the recurrent state of one cell for a whole batch.
// Hidden is [batch, hidden], Memory is [batch, cell].
type State struct {
	Hidden []float32
	Memory []float32
}

// checkLengths validates per-sequence lengths against the batch. When sorted
// is set the lengths must also be non-increasing.
func checkLengths(lengths []int, batch, steps int, sorted bool) error {
	if len(lengths) != batch {
		return elmoerr.Inputf("got %d lengths for a batch of %d", len(lengths), batch)
	}
	for i, l := range lengths {
		if l < 0 || l > steps {
			return elmoerr.Inputf("length %d of sequence %d outside [0, %d]", l, i, steps)
		}
		if sorted && i > 0 && l > lengths[i-1] {
			return elmoerr.Inputf("lengths must be sorted longest first: %v", lengths)
		}
	}
	return nil
}
