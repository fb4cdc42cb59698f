package nn

import (
	"math/rand"

	"github.com/lth/pure-go-elmo/internal/elmoerr"
	"github.com/lth/pure-go-elmo/internal/kernels"
)

// ProjectedLSTMCell is a single-direction LSTM whose cell output is projected
// from CellSize down to HiddenSize, with optional clipping of the memory and
// the projected state and variational recurrent dropout.
//
// Gate chunks are laid out input, forget, candidate, output in both gate
// linears. Inputs must be sorted longest first: at each timestep only the
// leading rows whose sequences cover that position are computed.
type ProjectedLSTMCell struct {
	InputSize  int
	HiddenSize int
	CellSize   int
	GoForward  bool

	RecurrentDropout float64
	MemoryClip       float32 // 0 disables
	StateClip        float32 // 0 disables
	Training         bool
	Rand             *rand.Rand

	InputLinear *Linear // [4C, In], no bias
	StateLinear *Linear // [4C, H], bias
	Projection  *Linear // [H, C], no bias
}

// ProjectedLSTMConfig holds the construction parameters of a cell.
type ProjectedLSTMConfig struct {
	InputSize        int
	HiddenSize       int
	CellSize         int
	GoForward        bool
	RecurrentDropout float64
	MemoryClip       float32
	StateClip        float32
}

// NewProjectedLSTMCell allocates a cell and initializes its parameters.
func NewProjectedLSTMCell(name string, cfg ProjectedLSTMConfig, rng *rand.Rand) *ProjectedLSTMCell {
	c := &ProjectedLSTMCell{
		InputSize:        cfg.InputSize,
		HiddenSize:       cfg.HiddenSize,
		CellSize:         cfg.CellSize,
		GoForward:        cfg.GoForward,
		RecurrentDropout: cfg.RecurrentDropout,
		MemoryClip:       cfg.MemoryClip,
		StateClip:        cfg.StateClip,
		Rand:             rng,
		InputLinear:      NewLinear(name+".input_linearity", cfg.InputSize, 4*cfg.CellSize, false, rng),
		StateLinear:      NewLinear(name+".state_linearity", cfg.HiddenSize, 4*cfg.CellSize, true, rng),
		Projection:       NewLinear(name+".state_projection", cfg.CellSize, cfg.HiddenSize, false, rng),
	}
	c.Reset(rng)
	return c
}

// Reset re-initializes the gate linears orthogonally, zeroes the gate bias
// and sets the forget block of the bias to 1.
func (c *ProjectedLSTMCell) Reset(rng *rand.Rand) {
	Orthogonal(c.InputLinear.Weight.Data, 4*c.CellSize, c.InputSize, rng)
	Orthogonal(c.StateLinear.Weight.Data, 4*c.CellSize, c.HiddenSize, rng)
	bias := c.StateLinear.Bias.Data
	clear(bias)
	for i := c.CellSize; i < 2*c.CellSize; i++ {
		bias[i] = 1
	}
}

// Parameters implements Module.
func (c *ProjectedLSTMCell) Parameters() []*Parameter {
	ps := c.InputLinear.Parameters()
	ps = append(ps, c.StateLinear.Parameters()...)
	return append(ps, c.Projection.Parameters()...)
}

// ZeroState returns an all-zero state for batch sequences.
func (c *ProjectedLSTMCell) ZeroState(batch int) State {
	return State{
		Hidden: make([]float32, batch*c.HiddenSize),
		Memory: make([]float32, batch*c.CellSize),
	}
}

// Forward runs the cell over inputs ([B, T, InputSize]). lengths must be
// non-increasing. initial may be nil for a zero state. The returned outputs
// are [B, T, HiddenSize] and zero past each length; the returned state holds
// the last computed state of every sequence.
func (c *ProjectedLSTMCell) Forward(inputs Sequence, lengths []int, initial *State) (Sequence, State, error) {
	batch, steps := inputs.Batch, inputs.Steps
	if inputs.Dim != c.InputSize {
		return Sequence{}, State{}, elmoerr.Inputf("cell input width %d, expected %d", inputs.Dim, c.InputSize)
	}
	if err := checkLengths(lengths, batch, steps, true); err != nil {
		return Sequence{}, State{}, err
	}

	H, C := c.HiddenSize, c.CellSize
	cur := c.ZeroState(batch)
	if initial != nil {
		if len(initial.Hidden) != batch*H || len(initial.Memory) != batch*C {
			return Sequence{}, State{}, elmoerr.Inputf("initial state sized %d/%d, expected %d/%d",
				len(initial.Hidden), len(initial.Memory), batch*H, batch*C)
		}
		copy(cur.Hidden, initial.Hidden)
		copy(cur.Memory, initial.Memory)
	}
	next := c.ZeroState(batch)
	out := NewSequence(batch, steps, H)

	var mask []float32
	if c.RecurrentDropout > 0 && c.Training {
		mask = DropoutMask(c.RecurrentDropout, batch, H, c.rng())
	}
	memClip, stateClip := c.MemoryClip > 0, c.StateClip > 0

	stepInput := make([]float32, batch*c.InputSize)
	fromInput := make([]float32, batch*4*C)
	fromState := make([]float32, batch*4*C)
	pre := make([]float32, batch*C)
	projected := make([]float32, batch*H)

	active := 0
	if c.GoForward {
		active = batch
	}
	for t := 0; t < steps; t++ {
		index := t
		if !c.GoForward {
			index = steps - 1 - t
		}
		if c.GoForward {
			for active > 0 && lengths[active-1] <= index {
				active--
			}
		} else {
			for active < batch && lengths[active] > index {
				active++
			}
		}
		if active == 0 {
			continue
		}

		for b := 0; b < active; b++ {
			copy(stepInput[b*c.InputSize:(b+1)*c.InputSize], inputs.At(b, index))
		}
		c.InputLinear.Forward(fromInput, stepInput, active)
		c.StateLinear.Forward(fromState, cur.Hidden, active)

		copy(next.Hidden, cur.Hidden)
		copy(next.Memory, cur.Memory)

		for b := 0; b < active; b++ {
			z := fromInput[b*4*C : (b+1)*4*C]
			kernels.VecAddF32(z, z, fromState[b*4*C:(b+1)*4*C], 4*C)
			kernels.Sigmoid(z[:2*C], z[:2*C], 2*C)
			kernels.Tanh(z[2*C:3*C], z[2*C:3*C], C)
			kernels.Sigmoid(z[3*C:], z[3*C:], C)
			inGate, forget, candidate, outGate := z[:C], z[C:2*C], z[2*C:3*C], z[3*C:]

			prevMem := cur.Memory[b*C : (b+1)*C]
			mem := next.Memory[b*C : (b+1)*C]
			for i := 0; i < C; i++ {
				mem[i] = inGate[i]*candidate[i] + forget[i]*prevMem[i]
			}
			if memClip {
				kernels.Clamp(mem, c.MemoryClip)
			}
			p := pre[b*C : (b+1)*C]
			kernels.Tanh(p, mem, C)
			kernels.VecMulF32(p, p, outGate, C)
		}

		c.Projection.Forward(projected, pre, active)
		for b := 0; b < active; b++ {
			h := projected[b*H : (b+1)*H]
			if stateClip {
				kernels.Clamp(h, c.StateClip)
			}
			if mask != nil {
				kernels.VecMulF32(h, h, mask[b*H:(b+1)*H], H)
			}
			copy(next.Hidden[b*H:(b+1)*H], h)
			copy(out.At(b, index), h)
		}
		cur, next = next, cur
	}
	return out, cur, nil
}

func (c *ProjectedLSTMCell) rng() *rand.Rand {
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(1))
	}
	return c.Rand
}
