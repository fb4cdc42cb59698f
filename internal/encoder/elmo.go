package encoder

import (
	"math/rand"
	"strconv"

	"github.com/lth/pure-go-elmo/internal/elmoerr"
	"github.com/lth/pure-go-elmo/internal/kernels"
	"github.com/lth/pure-go-elmo/internal/nn"
)

// StackConfig sizes a BiLMStack.
type StackConfig struct {
	InputSize        int
	HiddenSize       int
	CellSize         int
	NumLayers        int
	RecurrentDropout float64
	MemoryClip       float32
	StateClip        float32
}

// Layer is one encoder layer: independently parameterized forward and
// backward cells.
type Layer struct {
	Forward  *nn.ProjectedLSTMCell
	Backward *nn.ProjectedLSTMCell
}

// BiLMStack is the multi-layer bidirectional language model encoder. Each
// direction feeds its own output to the next layer; from the second layer on
// the layer input is added back to the layer output.
type BiLMStack struct {
	InputSize  int
	HiddenSize int
	CellSize   int
	Layers     []Layer
}

// StackState holds per-layer states of both directions, concatenated forward
// then backward: Hidden is [layers, batch, 2H], Memory [layers, batch, 2C].
type StackState struct {
	Layers int
	Batch  int
	Hidden []float32
	Memory []float32
}

// StackOutput is the result of a stack forward pass.
type StackOutput struct {
	// Layers holds one [B, T, 2H] sequence per layer.
	Layers []nn.Sequence
	Final  StackState
}

// NewBiLMStack builds the stack with freshly initialized cells.
func NewBiLMStack(cfg StackConfig, rng *rand.Rand) *BiLMStack {
	s := &BiLMStack{
		InputSize:  cfg.InputSize,
		HiddenSize: cfg.HiddenSize,
		CellSize:   cfg.CellSize,
	}
	in := cfg.InputSize
	for l := 0; l < cfg.NumLayers; l++ {
		cell := nn.ProjectedLSTMConfig{
			InputSize:        in,
			HiddenSize:       cfg.HiddenSize,
			CellSize:         cfg.CellSize,
			RecurrentDropout: cfg.RecurrentDropout,
			MemoryClip:       cfg.MemoryClip,
			StateClip:        cfg.StateClip,
		}
		fw, bw := cell, cell
		fw.GoForward = true
		name := "layer" + strconv.Itoa(l)
		s.Layers = append(s.Layers, Layer{
			Forward:  nn.NewProjectedLSTMCell(name+".forward", fw, rng),
			Backward: nn.NewProjectedLSTMCell(name+".backward", bw, rng),
		})
		in = cfg.HiddenSize
	}
	return s
}

// Parameters implements nn.Module.
func (s *BiLMStack) Parameters() []*nn.Parameter {
	var ps []*nn.Parameter
	for _, l := range s.Layers {
		ps = append(ps, l.Forward.Parameters()...)
		ps = append(ps, l.Backward.Parameters()...)
	}
	return ps
}

// SetTraining toggles recurrent dropout in every cell.
func (s *BiLMStack) SetTraining(training bool) {
	for _, l := range s.Layers {
		l.Forward.Training = training
		l.Backward.Training = training
	}
}

// OutputDim is the width of each layer output.
func (s *BiLMStack) OutputDim() int {
	return 2 * s.HiddenSize
}

// Encode implements Encoder.
func (s *BiLMStack) Encode(inputs nn.Sequence, lengths []int) ([]nn.Sequence, error) {
	out, err := s.Forward(inputs, lengths, nil)
	if err != nil {
		return nil, err
	}
	return out.Layers, nil
}

// Forward runs every layer over inputs ([B, T, InputSize]) with arbitrary
// batch order. initial may be nil.
func (s *BiLMStack) Forward(inputs nn.Sequence, lengths []int, initial *StackState) (*StackOutput, error) {
	H, C, B := s.HiddenSize, s.CellSize, inputs.Batch
	if initial != nil {
		if initial.Layers != len(s.Layers) {
			return nil, elmoerr.Configf("initial state has %d layers, encoder has %d", initial.Layers, len(s.Layers))
		}
		if initial.Batch != B || len(initial.Hidden) != initial.Layers*B*2*H || len(initial.Memory) != initial.Layers*B*2*C {
			return nil, elmoerr.Inputf("initial state does not match a batch of %d", B)
		}
	}
	if len(lengths) != B {
		return nil, elmoerr.Inputf("got %d lengths for a batch of %d", len(lengths), B)
	}

	order := sortByLength(lengths)
	sortedLengths := make([]int, B)
	for i, src := range order {
		sortedLengths[i] = lengths[src]
	}
	sorted := gatherSequence(inputs, order)

	result := &StackOutput{Final: StackState{Layers: len(s.Layers), Batch: B}}
	fwIn, bwIn := sorted, sorted
	for l, layer := range s.Layers {
		var fwInit, bwInit *nn.State
		if initial != nil {
			hidden := gatherRows(initial.Hidden[l*B*2*H:(l+1)*B*2*H], 2*H, order)
			memory := gatherRows(initial.Memory[l*B*2*C:(l+1)*B*2*C], 2*C, order)
			fh, bh := splitRows(hidden, H, H, B)
			fm, bm := splitRows(memory, C, C, B)
			fwInit = &nn.State{Hidden: fh, Memory: fm}
			bwInit = &nn.State{Hidden: bh, Memory: bm}
		}

		fwOut, fwState, err := layer.Forward.Forward(fwIn, sortedLengths, fwInit)
		if err != nil {
			return nil, err
		}
		bwOut, bwState, err := layer.Backward.Forward(bwIn, sortedLengths, bwInit)
		if err != nil {
			return nil, err
		}
		if l > 0 {
			kernels.VecAddF32(fwOut.Data, fwOut.Data, fwIn.Data, len(fwOut.Data))
			kernels.VecAddF32(bwOut.Data, bwOut.Data, bwIn.Data, len(bwOut.Data))
		}

		result.Layers = append(result.Layers, scatterSequence(concatFeatures(fwOut, bwOut), order))
		hidden := concatRows(fwState.Hidden, H, bwState.Hidden, H, B)
		memory := concatRows(fwState.Memory, C, bwState.Memory, C, B)
		result.Final.Hidden = append(result.Final.Hidden, scatterRows(hidden, 2*H, order)...)
		result.Final.Memory = append(result.Final.Memory, scatterRows(memory, 2*C, order)...)

		fwIn, bwIn = fwOut, bwOut
	}
	return result, nil
}
