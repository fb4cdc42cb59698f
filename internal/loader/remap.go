package loader

import (
	"github.com/lth/pure-go-elmo/internal/elmoerr"
	"github.com/lth/pure-go-elmo/internal/embedder"
	"github.com/lth/pure-go-elmo/internal/encoder"
	"github.com/lth/pure-go-elmo/internal/kernels"
	"github.com/lth/pure-go-elmo/internal/nn"
	"github.com/lth/pure-go-elmo/internal/vocab"
)

// GateSourceRow maps a row of a runtime gate matrix to the checkpoint row it
// comes from. The checkpoint orders gate blocks input, candidate, forget,
// output; the runtime orders them input, forget, candidate, output.
func GateSourceRow(row, cellSize int) int {
	switch row / cellSize {
	case 1:
		return row + cellSize
	case 2:
		return row - cellSize
	}
	return row
}

// LoadCell copies one direction of one layer into cell.
//
// W_0 is [In+H, 4C] with inputs multiplied from the left; it is transposed,
// split into the input and recurrent matrices, and its gate blocks are
// reordered. The checkpoint bias lacks the +1 the runtime keeps in the forget
// block, so 1 is added before reordering. W_P_0 is [C, H] and transposed.
func LoadCell(ck *Checkpoint, cell *nn.ProjectedLSTMCell, direction, layer int) error {
	C, H, In := cell.CellSize, cell.HiddenSize, cell.InputSize

	w, err := ck.Tensor(CellTensorName(direction, layer, "W_0"), In+H, 4*C)
	if err != nil {
		return err
	}
	wt := make([]float32, len(w))
	kernels.Transpose(wt, w, In+H, 4*C)
	input := make([]float32, 4*C*In)
	recurrent := make([]float32, 4*C*H)
	for r := 0; r < 4*C; r++ {
		src := wt[GateSourceRow(r, C)*(In+H) : (GateSourceRow(r, C)+1)*(In+H)]
		copy(input[r*In:(r+1)*In], src[:In])
		copy(recurrent[r*H:(r+1)*H], src[In:])
	}

	b, err := ck.Tensor(CellTensorName(direction, layer, "B"), 4*C)
	if err != nil {
		return err
	}
	for i := 2 * C; i < 3*C; i++ {
		b[i]++
	}
	bias := make([]float32, 4*C)
	for r := range bias {
		bias[r] = b[GateSourceRow(r, C)]
	}

	p, err := ck.Tensor(CellTensorName(direction, layer, "W_P_0"), C, H)
	if err != nil {
		return err
	}
	proj := make([]float32, len(p))
	kernels.Transpose(proj, p, C, H)

	if err := cell.InputLinear.Weight.Set(input, []int{4 * C, In}); err != nil {
		return err
	}
	if err := cell.StateLinear.Weight.Set(recurrent, []int{4 * C, H}); err != nil {
		return err
	}
	if err := cell.StateLinear.Bias.Set(bias, []int{4 * C}); err != nil {
		return err
	}
	return cell.Projection.Weight.Set(proj, []int{H, C})
}

// LoadStack loads every cell of the bidirectional LM stack.
func LoadStack(ck *Checkpoint, s *encoder.BiLMStack) error {
	for l, layer := range s.Layers {
		if err := LoadCell(ck, layer.Forward, 0, l); err != nil {
			return err
		}
		if err := LoadCell(ck, layer.Backward, 1, l); err != nil {
			return err
		}
	}
	return nil
}

// LoadCharEmbedding fills the rows of emb for every character of chars from
// the checkpoint table, through the lexicon. Characters missing from the
// lexicon get its out-of-vocabulary row. The row past the last character is
// left zero. It returns how many characters the lexicon knew.
func LoadCharEmbedding(ck *Checkpoint, emb *nn.Embedding, chars *vocab.Vocabulary, lex vocab.CharLexicon) (int, error) {
	shape, err := ck.Shape(CharEmbedName)
	if err != nil {
		return 0, err
	}
	if len(shape) != 2 || shape[1] != emb.Dim {
		return 0, elmoerr.Shapef("%s: expected [*, %d], got %v", CharEmbedName, emb.Dim, shape)
	}
	if emb.Num != chars.Len()+1 {
		return 0, elmoerr.Shapef("character embedding has %d rows for %d characters", emb.Num, chars.Len())
	}
	table, err := ck.Tensor(CharEmbedName, shape...)
	if err != nil {
		return 0, err
	}

	found := 0
	for id, ch := range chars.Words() {
		row, ok := lex.Row(ch)
		if ok {
			found++
		}
		if row >= shape[0] {
			return 0, elmoerr.Shapef("char.dic row %d of %q outside %s with %d rows", row, ch, CharEmbedName, shape[0])
		}
		copy(emb.Row(id), table[row*emb.Dim:(row+1)*emb.Dim])
	}
	clear(emb.Row(chars.Len()))
	return found, nil
}

// LoadCNN loads the filters, highway layers and projection of a CNN
// embedder. Filter weights are stored [1, width, charDim, channels].
// Highway matrices multiply from the left and their carry half is negated,
// because the checkpoint's gate selects the transform where the runtime's
// selects the input.
func LoadCNN(ck *Checkpoint, e *embedder.CNN) error {
	E := e.Chars.Embedding.Dim
	for i, conv := range e.Convs {
		w, err := ck.Tensor(ConvWeightName(i), 1, conv.Width, E, conv.Out)
		if err != nil {
			return err
		}
		// [width, E, out] -> [out, E, width]
		weight := make([]float32, len(w))
		for k := 0; k < conv.Width; k++ {
			for c := 0; c < E; c++ {
				for o := 0; o < conv.Out; o++ {
					weight[(o*E+c)*conv.Width+k] = w[(k*E+c)*conv.Out+o]
				}
			}
		}
		if err := conv.Weight.Set(weight, []int{conv.Out, E, conv.Width}); err != nil {
			return err
		}
		b, err := ck.Tensor(ConvBiasName(i), conv.Out)
		if err != nil {
			return err
		}
		if err := conv.Bias.Set(b, []int{conv.Out}); err != nil {
			return err
		}
	}

	n := e.Highway.Dim
	for k, layer := range e.Highway.Layers {
		wt, err := ck.Tensor(HighwayName(k, "W_transform"), n, n)
		if err != nil {
			return err
		}
		wc, err := ck.Tensor(HighwayName(k, "W_carry"), n, n)
		if err != nil {
			return err
		}
		bt, err := ck.Tensor(HighwayName(k, "b_transform"), n)
		if err != nil {
			return err
		}
		bc, err := ck.Tensor(HighwayName(k, "b_carry"), n)
		if err != nil {
			return err
		}
		weight := make([]float32, 2*n*n)
		kernels.Transpose(weight[:n*n], wt, n, n)
		kernels.Transpose(weight[n*n:], wc, n, n)
		kernels.VecScaleF32(weight[n*n:], weight[n*n:], -1, n*n)
		bias := make([]float32, 2*n)
		copy(bias, bt)
		kernels.VecScaleF32(bias[n:], bc, -1, n)
		if err := layer.Weight.Set(weight, []int{2 * n, n}); err != nil {
			return err
		}
		if err := layer.Bias.Set(bias, []int{2 * n}); err != nil {
			return err
		}
	}

	P := e.Projection.Out
	w, err := ck.Tensor(ProjWeightName, n, P)
	if err != nil {
		return err
	}
	proj := make([]float32, len(w))
	kernels.Transpose(proj, w, n, P)
	if err := e.Projection.Weight.Set(proj, []int{P, n}); err != nil {
		return err
	}
	b, err := ck.Tensor(ProjBiasName, P)
	if err != nil {
		return err
	}
	return e.Projection.Bias.Set(b, []int{P})
}

// Freeze marks every parameter of m as non-trainable.
func Freeze(m nn.Module) {
	for _, p := range m.Parameters() {
		p.Freeze()
	}
}
