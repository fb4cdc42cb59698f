// Package fixture writes small, randomly initialized model directories: a
// configuration file, a checkpoint in the external layout, a character
// lexicon and a vocabulary.
package fixture

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lth/pure-go-elmo/internal/config"
	"github.com/lth/pure-go-elmo/internal/gguf"
	"github.com/lth/pure-go-elmo/internal/loader"
	"github.com/lth/pure-go-elmo/internal/vocab"
)

// Options describe the model to generate.
type Options struct {
	Encoder       config.EncoderKind
	Embedder      config.EmbedderKind
	Activation    config.Activation
	Words         []string
	CharDim       int
	WordDim       int
	Filters       []config.Filter
	NHighway      int
	MaxChars      int
	ProjectionDim int
	Dim           int
	Layers        int
	CellClip      float32
	ProjClip      float32
	Dropout       float64
	// LexiconChars are listed in char.dic after the reserved tokens. Word
	// characters missing here fall back to the <oov> row when loading.
	LexiconChars []string
	// RuntimeTensors adds the runtime-layout tensors of the LSTM variants.
	RuntimeTensors bool
	Seed           int64
}

// DefaultOptions is a two-layer CNN/ELMo model small enough for tests.
func DefaultOptions() Options {
	return Options{
		Encoder:        config.EncoderELMo,
		Embedder:       config.EmbedderCNN,
		Activation:     config.ActivationReLU,
		Words:          []string{"the", "cat", "sat", "on", "mat", "a", "dog"},
		CharDim:        4,
		Filters:        []config.Filter{{Width: 1, Channels: 4}, {Width: 2, Channels: 4}, {Width: 3, Channels: 8}},
		NHighway:       2,
		MaxChars:       8,
		ProjectionDim:  6,
		Dim:            10,
		Layers:         2,
		CellClip:       3,
		ProjClip:       3,
		Dropout:        0.1,
		LexiconChars:   strings.Split("abcdefghijklmnopqrstuvwxyz", ""),
		RuntimeTensors: true,
		Seed:           1,
	}
}

// Config returns the configuration the options describe.
func (o Options) Config() *config.Config {
	return &config.Config{
		TokenEmbedder: config.TokenEmbedder{
			Name:                  o.Embedder,
			Embedding:             config.CharEmbedding{Dim: o.CharDim},
			Filters:               o.Filters,
			NHighway:              o.NHighway,
			Activation:            o.Activation,
			MaxCharactersPerToken: o.MaxChars,
			WordDim:               o.WordDim,
		},
		Encoder: config.Encoder{
			Name:          o.Encoder,
			ProjectionDim: o.ProjectionDim,
			Dim:           o.Dim,
			NLayers:       o.Layers,
			CellClip:      o.CellClip,
			ProjClip:      o.ProjClip,
		},
		Dropout: o.Dropout,
	}
}

// Vocabulary returns the vocabulary built from Words.
func (o Options) Vocabulary() *vocab.Vocabulary {
	return vocab.FromWords(o.Words)
}

// Write creates dir (if needed) and writes options.json, weights.gguf,
// char.dic and vocab.txt into it.
func Write(dir string, o Options) error {
	cfg := o.Config()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	doc, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "options.json"), doc, 0o644); err != nil {
		return err
	}

	lexicon := append([]string{vocab.CharPad, vocab.CharOOV, vocab.CharBOW, vocab.CharEOW, vocab.CharBOS, vocab.CharEOS}, o.LexiconChars...)
	var dic strings.Builder
	for i, ch := range lexicon {
		dic.WriteString(ch + "\t" + strconv.Itoa(i) + "\n")
	}
	if err := os.WriteFile(filepath.Join(dir, loader.CharLexiconName), []byte(dic.String()), 0o644); err != nil {
		return err
	}

	v := o.Vocabulary()
	f, err := os.Create(filepath.Join(dir, loader.VocabularyName))
	if err != nil {
		return err
	}
	if err := v.Write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	w := gguf.NewWriter()
	if err := addTensors(w, o, cfg, len(lexicon), v.Len()); err != nil {
		return err
	}
	return w.WriteFile(filepath.Join(dir, "weights.gguf"))
}

type tensorWriter struct {
	w   *gguf.Writer
	rng *rand.Rand
	err error
}

func (t *tensorWriter) random(name string, scale float64, shape ...int) {
	if t.err != nil {
		return
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = float32((t.rng.Float64()*2 - 1) * scale)
	}
	if err := t.w.AddTensorF32(name, shape, data); err != nil {
		t.err = fmt.Errorf("tensor %s: %w", name, err)
	}
}

func addTensors(w *gguf.Writer, o Options, cfg *config.Config, lexiconRows, vocabRows int) error {
	for _, kv := range []struct{ key, value string }{
		{"general.architecture", "elmo"},
		{"elmo.token_embedder", o.Embedder.String()},
		{"elmo.encoder", o.Encoder.String()},
	} {
		if err := w.AddMetadata(kv.key, kv.value); err != nil {
			return err
		}
	}

	t := &tensorWriter{w: w, rng: rand.New(rand.NewSource(o.Seed))}
	P, D, E := o.ProjectionDim, o.Dim, o.CharDim
	if E > 0 {
		t.random(loader.CharEmbedName, 1, lexiconRows, E)
	}

	switch o.Embedder {
	case config.EmbedderCNN:
		for i, f := range o.Filters {
			t.random(loader.ConvWeightName(i), 0.5, 1, f.Width, E, f.Channels)
			t.random(loader.ConvBiasName(i), 0.1, f.Channels)
		}
		n := cfg.TokenEmbedder.NFilters()
		for k := 0; k < o.NHighway; k++ {
			t.random(loader.HighwayName(k, "W_transform"), 0.3, n, n)
			t.random(loader.HighwayName(k, "b_transform"), 0.1, n)
			t.random(loader.HighwayName(k, "W_carry"), 0.3, n, n)
			t.random(loader.HighwayName(k, "b_carry"), 0.1, n)
		}
		t.random(loader.ProjWeightName, 0.3, n, P)
		t.random(loader.ProjBiasName, 0.1, P)
	case config.EmbedderLSTM:
		if o.RuntimeTensors {
			in := 0
			if o.WordDim > 0 {
				t.random(loader.WordEmbedName, 1, vocabRows+2, o.WordDim)
				in += o.WordDim
			}
			if E > 0 {
				for _, backward := range []bool{false, true} {
					addLSTM(t, loader.CharLSTMDirection(backward), E, E)
				}
				in += 2 * E
			}
			t.random(loader.CharLSTMPrefix+"/projection/weight", 0.3, P, in)
			t.random(loader.CharLSTMPrefix+"/projection/bias", 0.1, P)
		}
	}

	switch o.Encoder {
	case config.EncoderELMo:
		for dir := 0; dir < 2; dir++ {
			for l := 0; l < o.Layers; l++ {
				t.random(loader.CellTensorName(dir, l, "W_0"), 0.3, P+P, 4*D)
				t.random(loader.CellTensorName(dir, l, "B"), 0.1, 4*D)
				t.random(loader.CellTensorName(dir, l, "W_P_0"), 0.3, D, P)
			}
		}
	case config.EncoderLSTM:
		if o.RuntimeTensors {
			in := P
			for l := 0; l < o.Layers; l++ {
				addLSTM(t, loader.EncoderLSTMPrefix(l, false), in, D)
				addLSTM(t, loader.EncoderLSTMPrefix(l, true), in, D)
				in = 2 * D
			}
			t.random(loader.EncoderLSTMName+"/projection/weight", 0.3, P, D)
			t.random(loader.EncoderLSTMName+"/projection/bias", 0.1, P)
		}
	}
	return t.err
}

func addLSTM(t *tensorWriter, prefix string, in, hidden int) {
	t.random(prefix+"/weight_ih", 0.3, 4*hidden, in)
	t.random(prefix+"/weight_hh", 0.3, 4*hidden, hidden)
	t.random(prefix+"/bias_ih", 0.1, 4*hidden)
	t.random(prefix+"/bias_hh", 0.1, 4*hidden)
}
