package runtime

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/lth/pure-go-elmo/internal/config"
	"github.com/lth/pure-go-elmo/internal/elmoerr"
	"github.com/lth/pure-go-elmo/internal/embedder"
	"github.com/lth/pure-go-elmo/internal/fixture"
	"github.com/lth/pure-go-elmo/internal/vocab"
)

func loadFixture(t *testing.T, o fixture.Options, opts Options) *Model {
	t.Helper()
	dir := t.TempDir()
	if err := fixture.Write(dir, o); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	m, err := Load(dir, opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// batchOf encodes sentences into a padded [len(sentences), maxLen] matrix.
func batchOf(t *testing.T, v *vocab.Vocabulary, sentences ...[]string) ([]int, int) {
	t.Helper()
	maxLen := 0
	for _, s := range sentences {
		maxLen = max(maxLen, len(s))
	}
	words := make([]int, len(sentences)*maxLen)
	for i := range words {
		words[i] = v.PaddingIdx
	}
	for b, s := range sentences {
		for j, w := range s {
			id, err := v.Index(w)
			if err != nil {
				t.Fatal(err)
			}
			words[b*maxLen+j] = id
		}
	}
	return words, maxLen
}

func assertClose(t *testing.T, what string, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length %d, want %d", what, len(got), len(want))
	}
	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			t.Fatalf("%s[%d] = %f, want %f", what, i, got[i], want[i])
		}
	}
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func TestForwardELMoShape(t *testing.T) {
	o := fixture.DefaultOptions()
	m := loadFixture(t, o, Options{})
	if m.CharsTotal == 0 || m.CharsFound > m.CharsTotal {
		t.Errorf("found %d of %d characters", m.CharsFound, m.CharsTotal)
	}

	words, maxLen := batchOf(t, m.Vocab, []string{"a", "dog"}, []string{"the", "cat", "sat", "on", "mat"})
	out, err := m.Forward(words, 2, maxLen)
	if err != nil {
		t.Fatal(err)
	}
	if out.Layers != o.Layers+1 || out.Batch != 2 || out.Steps != 5 || out.Dim != 2*o.ProjectionDim {
		t.Fatalf("output is %dx%dx%dx%d", out.Layers, out.Batch, out.Steps, out.Dim)
	}

	P := o.ProjectionDim
	for b, n := range []int{2, 5} {
		for tok := 0; tok < out.Steps; tok++ {
			for l := 0; l < out.Layers; l++ {
				v := out.At(l, b, tok)
				if tok >= n {
					if !isZero(v) {
						t.Errorf("layer %d sentence %d token %d past length is not zero", l, b, tok)
					}
					continue
				}
				if isZero(v) {
					t.Errorf("layer %d sentence %d token %d is zero", l, b, tok)
				}
			}
			if tok < n {
				v := out.At(0, b, tok)
				assertClose(t, "token layer halves", v[P:], v[:P])
			}
		}
	}
}

func TestForwardIndependentOfBatch(t *testing.T) {
	m := loadFixture(t, fixture.DefaultOptions(), Options{Workers: 1})
	sentences := [][]string{
		{"the", "cat"},
		{"a", "dog", "sat", "on", "the", "mat"},
		{"mat"},
	}
	words, maxLen := batchOf(t, m.Vocab, sentences...)
	batched, err := m.Forward(words, len(sentences), maxLen)
	if err != nil {
		t.Fatal(err)
	}
	for b, s := range sentences {
		w, n := batchOf(t, m.Vocab, s)
		single, err := m.Forward(w, 1, n)
		if err != nil {
			t.Fatal(err)
		}
		for l := 0; l < batched.Layers; l++ {
			for tok := 0; tok < n; tok++ {
				assertClose(t, "batched vs single", batched.At(l, b, tok), single.At(l, 0, tok))
			}
		}
	}
}

func TestForwardParallelMatchesSerial(t *testing.T) {
	dir := t.TempDir()
	if err := fixture.Write(dir, fixture.DefaultOptions()); err != nil {
		t.Fatal(err)
	}
	serial, err := Load(dir, Options{Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer serial.Close()
	parallel, err := Load(dir, Options{Workers: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer parallel.Close()

	var sentences [][]string
	for i := 0; i < 13; i++ {
		s := []string{"the", "cat", "sat", "on", "a", "mat"}
		sentences = append(sentences, s[:1+i%len(s)])
	}
	words, maxLen := batchOf(t, serial.Vocab, sentences...)
	want, err := serial.Forward(words, len(sentences), maxLen)
	if err != nil {
		t.Fatal(err)
	}
	got, err := parallel.Forward(words, len(sentences), maxLen)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "parallel output", got.Data, want.Data)
}

func TestCacheMatchesCharacterEmbedder(t *testing.T) {
	tests := []struct {
		name     string
		embedder config.EmbedderKind
		wordDim  int
	}{
		{"cnn", config.EmbedderCNN, 0},
		{"lstm chars", config.EmbedderLSTM, 0},
		{"lstm words and chars", config.EmbedderLSTM, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := fixture.DefaultOptions()
			o.Embedder, o.WordDim = tt.embedder, tt.wordDim
			dir := t.TempDir()
			if err := fixture.Write(dir, o); err != nil {
				t.Fatal(err)
			}
			plain, err := Load(dir, Options{})
			if err != nil {
				t.Fatal(err)
			}
			defer plain.Close()
			cached, err := Load(dir, Options{Cache: true})
			if err != nil {
				t.Fatal(err)
			}
			defer cached.Close()

			words, maxLen := batchOf(t, plain.Vocab, []string{"the", "dog", "sat"}, []string{"cat"})
			want, err := plain.Forward(words, 2, maxLen)
			if err != nil {
				t.Fatal(err)
			}
			got, err := cached.Forward(words, 2, maxLen)
			if err != nil {
				t.Fatal(err)
			}
			assertClose(t, "cached output", got.Data, want.Data)
		})
	}
}

func TestForwardLSTMEncoder(t *testing.T) {
	tests := []struct {
		name           string
		embedder       config.EmbedderKind
		charDim        int
		wordDim        int
		runtimeTensors bool
	}{
		{"cnn embedder", config.EmbedderCNN, 4, 0, true},
		{"lstm embedder", config.EmbedderLSTM, 4, 3, true},
		{"word embedder only", config.EmbedderLSTM, 0, 5, true},
		{"random initialization", config.EmbedderLSTM, 4, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := fixture.DefaultOptions()
			o.Encoder = config.EncoderLSTM
			o.Embedder, o.CharDim, o.WordDim = tt.embedder, tt.charDim, tt.wordDim
			o.RuntimeTensors = tt.runtimeTensors
			m := loadFixture(t, o, Options{Seed: 3})

			words, maxLen := batchOf(t, m.Vocab, []string{"on", "a", "mat"}, []string{"dog"})
			out, err := m.Forward(words, 2, maxLen)
			if err != nil {
				t.Fatal(err)
			}
			if out.Layers != 1 || out.Dim != 2*o.ProjectionDim || out.Steps != 3 {
				t.Fatalf("output is %dx%dx%dx%d", out.Layers, out.Batch, out.Steps, out.Dim)
			}
			if isZero(out.At(0, 1, 0)) {
				t.Error("first token of the short sentence is zero")
			}
			for tok := 1; tok < 3; tok++ {
				if !isZero(out.At(0, 1, tok)) {
					t.Errorf("token %d past length is not zero", tok)
				}
			}
		})
	}
}

func TestLSTMEmbedderCharTableFitsLongestWord(t *testing.T) {
	for _, maxChars := range []int{0, 20} {
		o := fixture.DefaultOptions()
		o.Embedder, o.WordDim, o.MaxChars = config.EmbedderLSTM, 3, maxChars
		m := loadFixture(t, o, Options{Seed: 2})

		e, ok := m.Embedder.(*embedder.LSTM)
		if !ok {
			t.Fatalf("max chars %d: embedder is %T", maxChars, m.Embedder)
		}
		if got, want := e.Chars.Table.MaxChars, vocab.MaxWordChars(m.Vocab); got != want {
			t.Errorf("max chars %d: table width %d, want %d", maxChars, got, want)
		}
		words, maxLen := batchOf(t, m.Vocab, []string{"the", "cat"})
		if _, err := m.Forward(words, 1, maxLen); err != nil {
			t.Errorf("max chars %d: %v", maxChars, err)
		}
	}

	// the cnn table keeps the configured width
	m := loadFixture(t, fixture.DefaultOptions(), Options{})
	if got := m.Embedder.(*embedder.CNN).Chars.Table.MaxChars; got != fixture.DefaultOptions().MaxChars {
		t.Errorf("cnn table width %d, want %d", got, fixture.DefaultOptions().MaxChars)
	}
}

func TestNoCreateWordsUseUnknownEmbedding(t *testing.T) {
	o := fixture.DefaultOptions()
	o.Embedder, o.CharDim, o.WordDim = config.EmbedderLSTM, 0, 5
	o.Words = append(o.Words, "zebra")
	dir := t.TempDir()
	if err := fixture.Write(dir, o); err != nil {
		t.Fatal(err)
	}

	// same size as the fixture vocabulary, with zebra marked no-create
	v := vocab.FromWords(o.Words[:len(o.Words)-1])
	zebra := v.AddNoCreate("zebra")
	f, err := os.Create(filepath.Join(dir, "vocab.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Write(f); err != nil {
		t.Fatal(err)
	}
	f.Close()

	m, err := Load(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if !m.Vocab.IsNoCreate("zebra") {
		t.Fatal("vocabulary lost the no-create flag")
	}

	out, err := m.Forward([]int{zebra, m.Vocab.UnknownIdx}, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	for l := 0; l < out.Layers; l++ {
		assertClose(t, "no-create word", out.At(l, 0, 0), out.At(l, 1, 0))
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(dir string) error
		want   error
	}{
		{"missing char lexicon", func(dir string) error {
			return os.Remove(filepath.Join(dir, "char.dic"))
		}, elmoerr.ErrResource},
		{"missing vocabulary", func(dir string) error {
			return os.Remove(filepath.Join(dir, "vocab.txt"))
		}, elmoerr.ErrResource},
		{"bad activation", func(dir string) error {
			return os.WriteFile(filepath.Join(dir, "options.json"), []byte(`{
				"token_embedder": {"name": "cnn", "activation": "gelu", "embedding": {"dim": 4},
				"filters": [[1, 4]], "max_characters_per_token": 8},
				"encoder": {"name": "elmo", "projection_dim": 6, "dim": 10, "n_layers": 2}}`), 0o644)
		}, elmoerr.ErrConfig},
		{"filter shape", func(dir string) error {
			return os.WriteFile(filepath.Join(dir, "options.json"), []byte(`{
				"token_embedder": {"name": "cnn", "activation": "relu", "embedding": {"dim": 4},
				"filters": [[2, 4], [2, 4], [3, 8]], "n_highway": 2, "max_characters_per_token": 8},
				"encoder": {"name": "elmo", "projection_dim": 6, "dim": 10, "n_layers": 2}}`), 0o644)
		}, elmoerr.ErrShape},
		{"second checkpoint", func(dir string) error {
			return os.WriteFile(filepath.Join(dir, "extra.gguf"), nil, 0o644)
		}, elmoerr.ErrResource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := fixture.Write(dir, fixture.DefaultOptions()); err != nil {
				t.Fatal(err)
			}
			if err := tt.modify(dir); err != nil {
				t.Fatal(err)
			}
			m, err := Load(dir, Options{})
			if err == nil {
				m.Close()
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestForwardRejectsBadInput(t *testing.T) {
	m := loadFixture(t, fixture.DefaultOptions(), Options{})
	if _, err := m.Forward([]int{1, 2, 3}, 2, 2); !errors.Is(err, elmoerr.ErrInput) {
		t.Errorf("short batch: err = %v", err)
	}
	if _, err := m.Forward([]int{m.Vocab.Len() + 5}, 1, 1); !errors.Is(err, elmoerr.ErrInput) {
		t.Errorf("unknown id: err = %v", err)
	}
	out, err := m.Forward(nil, 0, 0)
	if err != nil || len(out.Data) != 0 {
		t.Errorf("empty batch: %v, %d values", err, len(out.Data))
	}
}

func TestFrozenAfterLoad(t *testing.T) {
	m := loadFixture(t, fixture.DefaultOptions(), Options{})
	for _, p := range append(m.Embedder.Parameters(), m.Encoder.Parameters()...) {
		if p.Trainable {
			t.Errorf("%s is trainable", p.Name)
		}
	}
}
