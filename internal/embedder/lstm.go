package embedder

import (
	"math/rand"

	"github.com/lth/pure-go-elmo/internal/elmoerr"
	"github.com/lth/pure-go-elmo/internal/nn"
)

// LSTM builds a token from an optional word vector and the final states of
// a bidirectional LSTM over the word's characters, projected to the output
// width.
//
// The character LSTM runs over every one of the MaxChars positions, padding
// included, so the character part of the embedding depends on the table
// width and not only on the word.
type LSTM struct {
	Words *nn.Embedding // nil when word_dim is 0
	// Redirects maps word ids before the word lookup; nil is the identity.
	Redirects []int

	Chars    *Chars // nil when embedding.dim is 0
	Forward  *nn.LSTM
	Backward *nn.LSTM

	Projection *nn.Linear
}

// NewLSTM builds the embedder. words or chars may be nil, not both.
func NewLSTM(words *nn.Embedding, chars *Chars, projectionDim int, rng *rand.Rand) *LSTM {
	e := &LSTM{Words: words, Chars: chars}
	in := 0
	if words != nil {
		in += words.Dim
	}
	if chars != nil {
		d := chars.Embedding.Dim
		e.Forward = nn.NewLSTM("char_lstm", d, d, false, rng)
		e.Backward = nn.NewLSTM("char_lstm_reverse", d, d, true, rng)
		in += 2 * d
	}
	e.Projection = nn.NewLinear("projection", in, projectionDim, true, rng)
	return e
}

// OutputDim implements TokenEmbedder.
func (e *LSTM) OutputDim() int {
	return e.Projection.Out
}

// Parameters implements nn.Module.
func (e *LSTM) Parameters() []*nn.Parameter {
	var ps []*nn.Parameter
	if e.Words != nil {
		ps = append(ps, e.Words.Parameters()...)
	}
	if e.Chars != nil {
		ps = append(ps, e.Chars.Embedding.Parameters()...)
		ps = append(ps, e.Forward.Parameters()...)
		ps = append(ps, e.Backward.Parameters()...)
	}
	return append(ps, e.Projection.Parameters()...)
}

// Embed implements TokenEmbedder.
func (e *LSTM) Embed(words []int, batch, steps int) (nn.Sequence, error) {
	if err := checkWords(words, batch, steps); err != nil {
		return nn.Sequence{}, err
	}
	tokens := len(words)
	width := e.Projection.In
	features := make([]float32, tokens*width)
	off := 0

	if e.Words != nil {
		ids := words
		if e.Redirects != nil {
			ids = make([]int, tokens)
			for i, w := range words {
				if w < 0 || w >= len(e.Redirects) {
					return nn.Sequence{}, elmoerr.Inputf("word id %d outside redirect table of %d", w, len(e.Redirects))
				}
				ids[i] = e.Redirects[w]
			}
		}
		d := e.Words.Dim
		row := make([]float32, d)
		for i, id := range ids {
			if err := e.Words.Lookup(row, []int{id}); err != nil {
				return nn.Sequence{}, err
			}
			copy(features[i*width:], row)
		}
		off = d
	}

	if e.Chars != nil {
		d := e.Chars.Embedding.Dim
		maxChars := e.Chars.Table.MaxChars
		charSeq := nn.NewSequence(tokens, maxChars, d)
		for i, w := range words {
			if err := e.Chars.lookup(charSeq.Row(i), w); err != nil {
				return nn.Sequence{}, err
			}
		}
		_, fw, err := e.Forward.Forward(charSeq, nil)
		if err != nil {
			return nn.Sequence{}, err
		}
		_, bw, err := e.Backward.Forward(charSeq, nil)
		if err != nil {
			return nn.Sequence{}, err
		}
		for i := 0; i < tokens; i++ {
			copy(features[i*width+off:], fw.Hidden[i*d:(i+1)*d])
			copy(features[i*width+off+d:], bw.Hidden[i*d:(i+1)*d])
		}
	}

	out := nn.NewSequence(batch, steps, e.OutputDim())
	e.Projection.Forward(out.Data, features, tokens)
	return out, nil
}
