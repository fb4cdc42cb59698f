package encoder

import (
	"math/rand"
	"strconv"

	"github.com/lth/pure-go-elmo/internal/elmoerr"
	"github.com/lth/pure-go-elmo/internal/kernels"
	"github.com/lth/pure-go-elmo/internal/nn"
)

// BiLSTMConfig sizes a BiLSTM encoder.
type BiLSTMConfig struct {
	InputSize     int // projection_dim
	HiddenSize    int // dim
	NumLayers     int
	Dropout       float64
	ProjectionDim int
}

// BiLayer is one bidirectional layer of plain LSTMs.
type BiLayer struct {
	Forward  *nn.LSTM
	Backward *nn.LSTM
}

// BiLSTM is a stacked bidirectional LSTM whose last layer's forward and
// backward outputs are each mapped by one shared projection.
type BiLSTM struct {
	HiddenSize int
	Layers     []BiLayer
	Projection *nn.Linear // [P, H]
	Dropout    float64
	Training   bool
	Rand       *rand.Rand
}

// NewBiLSTM builds the encoder with fresh parameters.
func NewBiLSTM(cfg BiLSTMConfig, rng *rand.Rand) *BiLSTM {
	e := &BiLSTM{
		HiddenSize: cfg.HiddenSize,
		Projection: nn.NewLinear("encoder.projection", cfg.HiddenSize, cfg.ProjectionDim, true, rng),
		Dropout:    cfg.Dropout,
		Rand:       rng,
	}
	in := cfg.InputSize
	for l := 0; l < cfg.NumLayers; l++ {
		name := "encoder.l" + strconv.Itoa(l)
		e.Layers = append(e.Layers, BiLayer{
			Forward:  nn.NewLSTM(name, in, cfg.HiddenSize, false, rng),
			Backward: nn.NewLSTM(name+"_reverse", in, cfg.HiddenSize, true, rng),
		})
		in = 2 * cfg.HiddenSize
	}
	return e
}

// Parameters implements nn.Module.
func (e *BiLSTM) Parameters() []*nn.Parameter {
	var ps []*nn.Parameter
	for _, l := range e.Layers {
		ps = append(ps, l.Forward.Parameters()...)
		ps = append(ps, l.Backward.Parameters()...)
	}
	return append(ps, e.Projection.Parameters()...)
}

// SetTraining toggles inter-layer dropout.
func (e *BiLSTM) SetTraining(training bool) {
	e.Training = training
}

// OutputDim is twice the projection width.
func (e *BiLSTM) OutputDim() int {
	return 2 * e.Projection.Out
}

// Encode returns a single [B, T, 2P] sequence, zero past each length.
func (e *BiLSTM) Encode(inputs nn.Sequence, lengths []int) ([]nn.Sequence, error) {
	if len(lengths) != inputs.Batch {
		return nil, elmoerr.Inputf("got %d lengths for a batch of %d", len(lengths), inputs.Batch)
	}
	x := inputs
	var fw, bw nn.Sequence
	for l, layer := range e.Layers {
		var err error
		if fw, _, err = layer.Forward.Forward(x, lengths); err != nil {
			return nil, err
		}
		if bw, _, err = layer.Backward.Forward(x, lengths); err != nil {
			return nil, err
		}
		x = concatFeatures(fw, bw)
		if l < len(e.Layers)-1 && e.Training && e.Dropout > 0 {
			mask := nn.DropoutMask(e.Dropout, 1, len(x.Data), e.Rand)
			kernels.VecMulF32(x.Data, x.Data, mask, len(x.Data))
		}
	}

	P := e.Projection.Out
	out := nn.NewSequence(inputs.Batch, inputs.Steps, 2*P)
	rows := inputs.Batch * inputs.Steps
	pf := e.Projection.Apply(fw.Data, rows)
	pb := e.Projection.Apply(bw.Data, rows)
	for b, n := range lengths {
		for t := 0; t < n; t++ {
			row := b*inputs.Steps + t
			dst := out.At(b, t)
			copy(dst, pf[row*P:(row+1)*P])
			copy(dst[P:], pb[row*P:(row+1)*P])
		}
	}
	return []nn.Sequence{out}, nil
}
