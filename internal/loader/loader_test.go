package loader_test

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lth/pure-go-elmo/internal/config"
	"github.com/lth/pure-go-elmo/internal/elmoerr"
	"github.com/lth/pure-go-elmo/internal/embedder"
	"github.com/lth/pure-go-elmo/internal/fixture"
	"github.com/lth/pure-go-elmo/internal/gguf"
	"github.com/lth/pure-go-elmo/internal/loader"
	"github.com/lth/pure-go-elmo/internal/nn"
	"github.com/lth/pure-go-elmo/internal/vocab"
)

func openBytes(t *testing.T, w *gguf.Writer) *loader.Checkpoint {
	t.Helper()
	image, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	r, err := gguf.OpenBytes(image)
	if err != nil {
		t.Fatal(err)
	}
	return loader.NewCheckpoint(r)
}

func TestLoadCellGateOrder(t *testing.T) {
	const in, hidden, cellSize = 3, 2, 2
	cell := nn.NewProjectedLSTMCell("cell", nn.ProjectedLSTMConfig{
		InputSize: in, HiddenSize: hidden, CellSize: cellSize, GoForward: true,
	}, rand.New(rand.NewSource(1)))

	// Every checkpoint gate block j holds 10*(j+1), plus 0.5 in the
	// recurrent rows; the bias block j holds j+1.
	w0 := make([]float32, (in+hidden)*4*cellSize)
	for r := 0; r < in+hidden; r++ {
		for c := 0; c < 4*cellSize; c++ {
			v := float32(10 * (c/cellSize + 1))
			if r >= in {
				v += 0.5
			}
			w0[r*4*cellSize+c] = v
		}
	}
	b := make([]float32, 4*cellSize)
	for c := range b {
		b[c] = float32(c/cellSize + 1)
	}
	proj := []float32{1, 2, 3, 4} // [C, H]

	w := gguf.NewWriter()
	w.AddTensorF32(loader.CellTensorName(0, 0, "W_0"), []int{in + hidden, 4 * cellSize}, w0)
	w.AddTensorF32(loader.CellTensorName(0, 0, "B"), []int{4 * cellSize}, b)
	w.AddTensorF32(loader.CellTensorName(0, 0, "W_P_0"), []int{cellSize, hidden}, proj)
	if err := loader.LoadCell(openBytes(t, w), cell, 0, 0); err != nil {
		t.Fatal(err)
	}

	// runtime order input, forget, candidate, output comes from checkpoint
	// blocks 0, 2, 1, 3
	wantBlock := []float32{10, 30, 20, 40}
	for r := 0; r < 4*cellSize; r++ {
		for c := 0; c < in; c++ {
			if got := cell.InputLinear.Weight.Data[r*in+c]; got != wantBlock[r/cellSize] {
				t.Fatalf("input weight row %d = %f, want %f", r, got, wantBlock[r/cellSize])
			}
		}
		for c := 0; c < hidden; c++ {
			if got := cell.StateLinear.Weight.Data[r*hidden+c]; got != wantBlock[r/cellSize]+0.5 {
				t.Fatalf("recurrent weight row %d = %f, want %f", r, got, wantBlock[r/cellSize]+0.5)
			}
		}
	}
	wantBias := []float32{1, 3 + 1, 2, 4}
	for r, got := range cell.StateLinear.Bias.Data {
		if got != wantBias[r/cellSize] {
			t.Fatalf("bias = %v, want blocks %v", cell.StateLinear.Bias.Data, wantBias)
		}
	}
	wantProj := []float32{1, 3, 2, 4} // [H, C]
	for i, got := range cell.Projection.Weight.Data {
		if got != wantProj[i] {
			t.Fatalf("projection = %v, want %v", cell.Projection.Weight.Data, wantProj)
		}
	}
}

func TestLoadCellShapeMismatch(t *testing.T) {
	cell := nn.NewProjectedLSTMCell("cell", nn.ProjectedLSTMConfig{InputSize: 2, HiddenSize: 2, CellSize: 2}, rand.New(rand.NewSource(1)))
	w := gguf.NewWriter()
	w.AddTensorF32(loader.CellTensorName(1, 0, "W_0"), []int{8, 4}, make([]float32, 32))
	err := loader.LoadCell(openBytes(t, w), cell, 1, 0)
	if !errors.Is(err, elmoerr.ErrShape) {
		t.Errorf("transposed W_0: err = %v, want ErrShape", err)
	}
	err = loader.LoadCell(openBytes(t, gguf.NewWriter()), cell, 1, 0)
	if !errors.Is(err, elmoerr.ErrShape) {
		t.Errorf("missing W_0: err = %v, want ErrShape", err)
	}
}

func newCNN(t *testing.T, words *vocab.Vocabulary, te config.TokenEmbedder) (*embedder.CNN, *vocab.Vocabulary) {
	t.Helper()
	cv := vocab.BuildCharVocab(words)
	table, err := vocab.BuildWordCharTable(words, cv, te.MaxCharactersPerToken)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(2))
	chars := &embedder.Chars{
		Embedding: nn.NewEmbedding("char_embed", cv.Len()+1, te.Embedding.Dim, cv.Len(), rng),
		Table:     table,
	}
	return embedder.NewCNN(te, 3, chars, rng), cv
}

func sequential(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func TestLoadCNN(t *testing.T) {
	te := config.TokenEmbedder{
		Embedding:             config.CharEmbedding{Dim: 2},
		Filters:               []config.Filter{{Width: 2, Channels: 3}},
		NHighway:              1,
		MaxCharactersPerToken: 5,
	}
	e, _ := newCNN(t, vocab.FromWords([]string{"ab"}), te)
	const width, charDim, out, n, proj = 2, 2, 3, 3, 3

	convW := sequential(width * charDim * out)
	w := gguf.NewWriter()
	w.AddTensorF32(loader.ConvWeightName(0), []int{1, width, charDim, out}, convW)
	w.AddTensorF32(loader.ConvBiasName(0), []int{out}, []float32{1, 2, 3})
	w.AddTensorF32(loader.HighwayName(0, "W_transform"), []int{n, n}, sequential(n*n))
	w.AddTensorF32(loader.HighwayName(0, "b_transform"), []int{n}, []float32{1, 1, 1})
	w.AddTensorF32(loader.HighwayName(0, "W_carry"), []int{n, n}, sequential(n*n))
	w.AddTensorF32(loader.HighwayName(0, "b_carry"), []int{n}, []float32{2, 2, 2})
	w.AddTensorF32(loader.ProjWeightName, []int{n, proj}, sequential(n*proj))
	w.AddTensorF32(loader.ProjBiasName, []int{proj}, []float32{0, 0, 1})
	if err := loader.LoadCNN(openBytes(t, w), e); err != nil {
		t.Fatal(err)
	}

	conv := e.Convs[0].Weight.Data
	for o := 0; o < out; o++ {
		for c := 0; c < charDim; c++ {
			for k := 0; k < width; k++ {
				if got, want := conv[(o*charDim+c)*width+k], convW[(k*charDim+c)*out+o]; got != want {
					t.Fatalf("conv[%d,%d,%d] = %f, want %f", o, c, k, got, want)
				}
			}
		}
	}

	hw := e.Highway.Layers[0]
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if got, want := hw.Weight.Data[i*n+j], float32(j*n+i); got != want {
				t.Fatalf("transform[%d,%d] = %f, want %f", i, j, got, want)
			}
			if got, want := hw.Weight.Data[(n+i)*n+j], -float32(j*n+i); got != want {
				t.Fatalf("carry[%d,%d] = %f, want %f", i, j, got, want)
			}
		}
	}
	if hw.Bias.Data[0] != 1 || hw.Bias.Data[n] != -2 {
		t.Errorf("highway bias = %v", hw.Bias.Data)
	}
	if got := e.Projection.Weight.Data[1*n+0]; got != float32(0*proj+1) {
		t.Errorf("projection[1,0] = %f, want %f", got, float32(1))
	}
}

func TestLoadCNNRejectsWrongFilterShape(t *testing.T) {
	te := config.TokenEmbedder{
		Embedding:             config.CharEmbedding{Dim: 2},
		Filters:               []config.Filter{{Width: 2, Channels: 3}},
		MaxCharactersPerToken: 5,
	}
	e, _ := newCNN(t, vocab.FromWords(nil), te)
	w := gguf.NewWriter()
	w.AddTensorF32(loader.ConvWeightName(0), []int{1, 3, 2, 3}, make([]float32, 18))
	if err := loader.LoadCNN(openBytes(t, w), e); !errors.Is(err, elmoerr.ErrShape) {
		t.Errorf("err = %v, want ErrShape", err)
	}
}

func TestLoadCharEmbedding(t *testing.T) {
	lex, err := vocab.ReadCharLexicon(strings.NewReader("<pad>\t0\n<oov>\t1\n<bow>\t2\n<eow>\t3\na\t4\n"))
	if err != nil {
		t.Fatal(err)
	}
	words := vocab.FromWords([]string{"az"})
	cv := vocab.BuildCharVocab(words)
	emb := nn.NewEmbedding("char_embed", cv.Len()+1, 2, cv.Len(), rand.New(rand.NewSource(3)))

	w := gguf.NewWriter()
	w.AddTensorF32(loader.CharEmbedName, []int{5, 2}, sequential(10))
	found, err := loader.LoadCharEmbedding(openBytes(t, w), emb, cv, lex)
	if err != nil {
		t.Fatal(err)
	}
	// <pad> <oov> <bow> <eow> and a are known; <bos> <eos> z < u n k p d > are not
	if found != 5 {
		t.Errorf("found %d characters, want 5", found)
	}
	a, _ := cv.Lookup("a")
	z, _ := cv.Lookup("z")
	if emb.Row(a)[0] != 8 || emb.Row(z)[0] != 2 {
		t.Errorf("a row %v, z row %v (want lexicon rows 4 and 1)", emb.Row(a), emb.Row(z))
	}
	for _, v := range emb.Row(cv.Len()) {
		if v != 0 {
			t.Fatal("sentinel row is not zero")
		}
	}

	w = gguf.NewWriter()
	w.AddTensorF32(loader.CharEmbedName, []int{5, 3}, make([]float32, 15))
	if _, err := loader.LoadCharEmbedding(openBytes(t, w), emb, cv, lex); !errors.Is(err, elmoerr.ErrShape) {
		t.Errorf("wrong width: err = %v", err)
	}
}

func TestFreeze(t *testing.T) {
	l := nn.NewLinear("l", 2, 2, true, rand.New(rand.NewSource(1)))
	loader.Freeze(l)
	for _, p := range l.Parameters() {
		if p.Trainable {
			t.Errorf("%s still trainable", p.Name)
		}
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	if err := fixture.Write(filepath.Join(dir, "model"), fixture.DefaultOptions()); err != nil {
		t.Fatal(err)
	}
	files, err := loader.Discover(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(files.Config) != "options.json" || filepath.Base(files.Checkpoint) != "weights.gguf" {
		t.Errorf("files = %+v", files)
	}
	if files.CharLexicon == "" || files.Vocabulary == "" {
		t.Errorf("lexicon %q vocabulary %q", files.CharLexicon, files.Vocabulary)
	}

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loader.Discover(dir); !errors.Is(err, elmoerr.ErrResource) {
		t.Errorf("two configs: err = %v, want ErrResource", err)
	}
	if _, err := loader.Discover(t.TempDir()); !errors.Is(err, elmoerr.ErrResource) {
		t.Errorf("empty dir: err = %v, want ErrResource", err)
	}
}

func TestLoadFixtureStack(t *testing.T) {
	dir := t.TempDir()
	opts := fixture.DefaultOptions()
	if err := fixture.Write(dir, opts); err != nil {
		t.Fatal(err)
	}
	ck, err := loader.OpenCheckpoint(filepath.Join(dir, "weights.gguf"))
	if err != nil {
		t.Fatal(err)
	}
	defer ck.Close()
	if !ck.Has(loader.CellTensorName(1, opts.Layers-1, "W_P_0")) {
		t.Fatal("fixture is missing the top backward projection")
	}
	shape, err := ck.Shape(loader.CellTensorName(0, 0, "W_0"))
	if err != nil {
		t.Fatal(err)
	}
	if shape[0] != 2*opts.ProjectionDim || shape[1] != 4*opts.Dim {
		t.Errorf("W_0 shape %v", shape)
	}
}
