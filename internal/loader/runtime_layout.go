package loader

import (
	"github.com/lth/pure-go-elmo/internal/embedder"
	"github.com/lth/pure-go-elmo/internal/encoder"
	"github.com/lth/pure-go-elmo/internal/nn"
)

// Tensors of the LSTM variants are stored as the runtime holds them, so they
// are copied without any reordering. Each group is optional as a whole: if
// its first tensor is absent the group keeps its initialization and the
// loader reports false.

// LoadLinear copies prefix/weight ([Out, In]) and prefix/bias.
func LoadLinear(ck *Checkpoint, prefix string, l *nn.Linear) error {
	w, err := ck.Tensor(prefix+"/weight", l.Out, l.In)
	if err != nil {
		return err
	}
	if err := l.Weight.Set(w, []int{l.Out, l.In}); err != nil {
		return err
	}
	if l.Bias == nil {
		return nil
	}
	b, err := ck.Tensor(prefix+"/bias", l.Out)
	if err != nil {
		return err
	}
	return l.Bias.Set(b, []int{l.Out})
}

// LoadLSTM copies prefix/{weight_ih,weight_hh,bias_ih,bias_hh}.
func LoadLSTM(ck *Checkpoint, prefix string, l *nn.LSTM) error {
	H := l.HiddenSize
	tensors := []struct {
		name  string
		p     *nn.Parameter
		shape []int
	}{
		{"weight_ih", l.InputLinear.Weight, []int{4 * H, l.InputSize}},
		{"weight_hh", l.StateLinear.Weight, []int{4 * H, H}},
		{"bias_ih", l.InputLinear.Bias, []int{4 * H}},
		{"bias_hh", l.StateLinear.Bias, []int{4 * H}},
	}
	for _, t := range tensors {
		data, err := ck.Tensor(prefix+"/"+t.name, t.shape...)
		if err != nil {
			return err
		}
		if err := t.p.Set(data, t.shape); err != nil {
			return err
		}
	}
	return nil
}

// LoadBiLSTM loads a plain LSTM encoder if the checkpoint carries one.
func LoadBiLSTM(ck *Checkpoint, e *encoder.BiLSTM) (bool, error) {
	if !ck.Has(EncoderLSTMPrefix(0, false) + "/weight_ih") {
		return false, nil
	}
	for l, layer := range e.Layers {
		if err := LoadLSTM(ck, EncoderLSTMPrefix(l, false), layer.Forward); err != nil {
			return false, err
		}
		if err := LoadLSTM(ck, EncoderLSTMPrefix(l, true), layer.Backward); err != nil {
			return false, err
		}
	}
	if err := LoadLinear(ck, EncoderLSTMName+"/projection", e.Projection); err != nil {
		return false, err
	}
	return true, nil
}

// LoadLSTMEmbedder loads the word table, character LSTM and projection of
// an LSTM embedder if the checkpoint carries them. The character table is
// loaded separately through the lexicon.
func LoadLSTMEmbedder(ck *Checkpoint, e *embedder.LSTM) (bool, error) {
	if !ck.Has(CharLSTMPrefix + "/projection/weight") {
		return false, nil
	}
	if e.Words != nil {
		w, err := ck.Tensor(WordEmbedName, e.Words.Num, e.Words.Dim)
		if err != nil {
			return false, err
		}
		if err := e.Words.Weight.Set(w, []int{e.Words.Num, e.Words.Dim}); err != nil {
			return false, err
		}
	}
	if e.Chars != nil {
		if err := LoadLSTM(ck, CharLSTMDirection(false), e.Forward); err != nil {
			return false, err
		}
		if err := LoadLSTM(ck, CharLSTMDirection(true), e.Backward); err != nil {
			return false, err
		}
	}
	if err := LoadLinear(ck, CharLSTMPrefix+"/projection", e.Projection); err != nil {
		return false, err
	}
	return true, nil
}
