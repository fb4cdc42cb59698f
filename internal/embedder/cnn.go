package embedder

import (
	"math/rand"
	"strconv"

	"github.com/lth/pure-go-elmo/internal/config"
	"github.com/lth/pure-go-elmo/internal/kernels"
	"github.com/lth/pure-go-elmo/internal/nn"
)

// CNN composes a token from its characters: one max-pooled convolution per
// filter width, an activation, a highway network and a final projection.
type CNN struct {
	Chars      *Chars
	Convs      []*nn.Conv1D
	Activation config.Activation
	Highway    *nn.Highway
	Projection *nn.Linear // [P, nFilters]
}

// NewCNN builds the embedder with fresh convolution, highway and projection
// parameters around the given character input.
func NewCNN(te config.TokenEmbedder, projectionDim int, chars *Chars, rng *rand.Rand) *CNN {
	e := &CNN{Chars: chars, Activation: te.Activation}
	charDim := chars.Embedding.Dim
	for i, f := range te.Filters {
		e.Convs = append(e.Convs, nn.NewConv1D("char_conv_"+strconv.Itoa(i), charDim, f.Channels, f.Width, rng))
	}
	n := te.NFilters()
	e.Highway = nn.NewHighway("highway", n, te.NHighway, rng)
	e.Projection = nn.NewLinear("projection", n, projectionDim, true, rng)
	return e
}

// OutputDim implements TokenEmbedder.
func (e *CNN) OutputDim() int {
	return e.Projection.Out
}

// Parameters implements nn.Module.
func (e *CNN) Parameters() []*nn.Parameter {
	ps := e.Chars.Embedding.Parameters()
	for _, c := range e.Convs {
		ps = append(ps, c.Parameters()...)
	}
	ps = append(ps, e.Highway.Parameters()...)
	return append(ps, e.Projection.Parameters()...)
}

// Embed implements TokenEmbedder.
func (e *CNN) Embed(words []int, batch, steps int) (nn.Sequence, error) {
	if err := checkWords(words, batch, steps); err != nil {
		return nn.Sequence{}, err
	}
	maxChars := e.Chars.Table.MaxChars
	charDim := e.Chars.Embedding.Dim
	n := e.Highway.Dim

	charEmb := make([]float32, maxChars*charDim)
	features := make([]float32, len(words)*n)
	for tok, w := range words {
		if err := e.Chars.lookup(charEmb, w); err != nil {
			return nn.Sequence{}, err
		}
		off := tok * n
		for _, conv := range e.Convs {
			dst := features[off : off+conv.Out]
			conv.MaxPool(dst, charEmb, maxChars)
			switch e.Activation {
			case config.ActivationTanh:
				kernels.Tanh(dst, dst, conv.Out)
			case config.ActivationReLU:
				kernels.ReLU(dst, dst, conv.Out)
			}
			off += conv.Out
		}
	}

	features = e.Highway.Forward(features, len(words))
	out := nn.NewSequence(batch, steps, e.OutputDim())
	e.Projection.Forward(out.Data, features, len(words))
	return out, nil
}
