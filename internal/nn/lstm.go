package nn

import (
	"math"
	"math/rand"

	"github.com/lth/pure-go-elmo/internal/elmoerr"
	"github.com/lth/pure-go-elmo/internal/kernels"
)

// LSTM is a plain single-direction LSTM layer with gate order input, forget,
// candidate, output and separate input and recurrent biases. Unlike
// ProjectedLSTMCell it has no projection and accepts unsorted lengths: each
// sequence is run over its own valid prefix, reversed when Reverse is set.
type LSTM struct {
	InputSize  int
	HiddenSize int
	Reverse    bool

	InputLinear *Linear // [4H, In] + bias_ih
	StateLinear *Linear // [4H, H] + bias_hh
}

// NewLSTM allocates a layer with every parameter drawn from
// U(-1/sqrt(H), 1/sqrt(H)).
func NewLSTM(name string, inputSize, hiddenSize int, reverse bool, rng *rand.Rand) *LSTM {
	l := &LSTM{
		InputSize:   inputSize,
		HiddenSize:  hiddenSize,
		Reverse:     reverse,
		InputLinear: NewLinear(name+".ih", inputSize, 4*hiddenSize, true, rng),
		StateLinear: NewLinear(name+".hh", hiddenSize, 4*hiddenSize, true, rng),
	}
	bound := 1 / math.Sqrt(float64(hiddenSize))
	for _, p := range l.Parameters() {
		Uniform(p.Data, bound, rng)
	}
	return l
}

// Parameters implements Module.
func (l *LSTM) Parameters() []*Parameter {
	return append(l.InputLinear.Parameters(), l.StateLinear.Parameters()...)
}

// Forward runs the layer. lengths may be nil, meaning every sequence spans
// all steps. Outputs past a sequence's length are zero; the returned state is
// the state after the last valid step (zero for empty sequences).
func (l *LSTM) Forward(inputs Sequence, lengths []int) (Sequence, State, error) {
	if inputs.Dim != l.InputSize {
		return Sequence{}, State{}, elmoerr.Inputf("lstm input width %d, expected %d", inputs.Dim, l.InputSize)
	}
	if lengths == nil {
		lengths = make([]int, inputs.Batch)
		for i := range lengths {
			lengths[i] = inputs.Steps
		}
	}
	if err := checkLengths(lengths, inputs.Batch, inputs.Steps, false); err != nil {
		return Sequence{}, State{}, err
	}

	H := l.HiddenSize
	out := NewSequence(inputs.Batch, inputs.Steps, H)
	final := State{
		Hidden: make([]float32, inputs.Batch*H),
		Memory: make([]float32, inputs.Batch*H),
	}
	gates := make([]float32, 4*H)
	recurrent := make([]float32, 4*H)

	for b := 0; b < inputs.Batch; b++ {
		h := final.Hidden[b*H : (b+1)*H]
		c := final.Memory[b*H : (b+1)*H]
		n := lengths[b]
		for s := 0; s < n; s++ {
			pos := s
			if l.Reverse {
				pos = n - 1 - s
			}
			l.InputLinear.Forward(gates, inputs.At(b, pos), 1)
			l.StateLinear.Forward(recurrent, h, 1)
			kernels.VecAddF32(gates, gates, recurrent, 4*H)
			kernels.Sigmoid(gates[:2*H], gates[:2*H], 2*H)
			kernels.Tanh(gates[2*H:3*H], gates[2*H:3*H], H)
			kernels.Sigmoid(gates[3*H:], gates[3*H:], H)
			for i := 0; i < H; i++ {
				c[i] = gates[H+i]*c[i] + gates[i]*gates[2*H+i]
				h[i] = gates[3*H+i] * float32(math.Tanh(float64(c[i])))
			}
			copy(out.At(b, pos), h)
		}
	}
	return out, final, nil
}
