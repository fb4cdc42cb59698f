// Package runtime assembles a model from a model directory and runs the
// forward pass from padded word ids to per-layer representations.
package runtime

import (
	"io"
	"log"
	"math/rand"
	"runtime"

	"github.com/pkg/errors"

	"github.com/lth/pure-go-elmo/internal/config"
	"github.com/lth/pure-go-elmo/internal/elmoerr"
	"github.com/lth/pure-go-elmo/internal/embedder"
	"github.com/lth/pure-go-elmo/internal/encoder"
	"github.com/lth/pure-go-elmo/internal/loader"
	"github.com/lth/pure-go-elmo/internal/nn"
	"github.com/lth/pure-go-elmo/internal/vocab"
)

// minRowsPerTask keeps small batches on one goroutine.
const minRowsPerTask = 4

// Options control model assembly.
type Options struct {
	// Vocabulary is the runtime word vocabulary. When nil, the vocab.txt of
	// the model directory is used.
	Vocabulary *vocab.Vocabulary
	// Cache precomputes the token embedding of every vocabulary entry and
	// drops the character-level embedder.
	Cache bool
	// Seed initializes parameters the checkpoint does not provide.
	Seed int64
	// Workers bounds how many batch chunks run at once. 0 means GOMAXPROCS.
	Workers int
	// Logger receives load progress. nil discards it.
	Logger *log.Logger
}

// Model is an assembled, frozen model.
type Model struct {
	Config   *config.Config
	Vocab    *vocab.Vocabulary
	Embedder embedder.TokenEmbedder
	Encoder  encoder.Encoder

	// CharsFound of CharsTotal runtime characters had a row in char.dic;
	// the rest use its <oov> row.
	CharsFound int
	CharsTotal int

	bos, eos int
	logger   *log.Logger
	workers  *workerPool
}

// Output holds the representations of a batch, [Layers, Batch, Steps, Dim].
// The lstm encoder has a single layer.
type Output struct {
	Layers int
	Batch  int
	Steps  int
	Dim    int
	Data   []float32
}

// At returns the vector of token t of sentence b in layer l. It aliases Data.
func (o *Output) At(l, b, t int) []float32 {
	off := ((l*o.Batch+b)*o.Steps + t) * o.Dim
	return o.Data[off : off+o.Dim]
}

// Load discovers the files of dir, builds the configured components and
// copies the checkpoint into them. Every parameter of the result is frozen.
func Load(dir string, opts Options) (*Model, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	files, err := loader.Discover(dir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(files.Config)
	if err != nil {
		return nil, err
	}
	v := opts.Vocabulary
	if v == nil {
		if files.Vocabulary == "" {
			return nil, elmoerr.Resourcef("no vocabulary given and no %s in %s", loader.VocabularyName, dir)
		}
		if v, err = vocab.Load(files.Vocabulary); err != nil {
			return nil, err
		}
	}
	logger.Printf("model %s: %s embedder, %s encoder, %d words", dir, cfg.TokenEmbedder.Name, cfg.Encoder.Name, v.Len())

	ck, err := loader.OpenCheckpoint(files.Checkpoint)
	if err != nil {
		return nil, err
	}
	defer ck.Close()

	m := &Model{
		Config: cfg,
		Vocab:  v,
		bos:    v.Len(),
		eos:    v.Len() + 1,
		logger: logger,
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	if err := m.buildEmbedder(ck, files, rng); err != nil {
		return nil, errors.WithMessage(err, "token embedder")
	}
	if err := m.buildEncoder(ck, rng); err != nil {
		return nil, errors.WithMessage(err, "encoder")
	}
	loader.Freeze(m.Embedder)
	loader.Freeze(m.Encoder)

	if opts.Cache {
		if !cfg.TokenEmbedder.UsesChars() {
			logger.Printf("cache requested but the token embedder does not use characters; ignored")
		} else {
			cached, err := embedder.NewCached(m.Embedder, v.Len()+2)
			if err != nil {
				return nil, err
			}
			m.Embedder = cached
			logger.Printf("cached %d token embeddings", v.Len()+2)
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	m.workers = newWorkerPool(workers)
	return m, nil
}

func (m *Model) buildChars(ck *loader.Checkpoint, files *loader.Files, rng *rand.Rand) (*embedder.Chars, error) {
	te := m.Config.TokenEmbedder
	if files.CharLexicon == "" {
		return nil, elmoerr.Resourcef("no %s in %s", loader.CharLexiconName, files.Dir)
	}
	lex, err := vocab.LoadCharLexicon(files.CharLexicon)
	if err != nil {
		return nil, err
	}
	chars := vocab.BuildCharVocab(m.Vocab)
	// max_characters_per_token only sizes the cnn input; the lstm embedder
	// reads the longest vocabulary word plus its boundary markers.
	maxChars := te.MaxCharactersPerToken
	if te.Name == config.EmbedderLSTM {
		maxChars = vocab.MaxWordChars(m.Vocab)
	}
	table, err := vocab.BuildWordCharTable(m.Vocab, chars, maxChars)
	if err != nil {
		return nil, err
	}
	emb := nn.NewEmbedding("char_embed", chars.Len()+1, te.Embedding.Dim, chars.Len(), rng)
	found, err := loader.LoadCharEmbedding(ck, emb, chars, lex)
	if err != nil {
		return nil, err
	}
	m.CharsFound, m.CharsTotal = found, chars.Len()
	m.logger.Printf("found %d of %d characters in %s", found, chars.Len(), loader.CharLexiconName)
	return &embedder.Chars{Embedding: emb, Table: table}, nil
}

func (m *Model) buildEmbedder(ck *loader.Checkpoint, files *loader.Files, rng *rand.Rand) error {
	te := m.Config.TokenEmbedder
	P := m.Config.Encoder.ProjectionDim

	var chars *embedder.Chars
	if te.UsesChars() {
		var err error
		if chars, err = m.buildChars(ck, files, rng); err != nil {
			return err
		}
	}

	switch te.Name {
	case config.EmbedderCNN:
		e := embedder.NewCNN(te, P, chars, rng)
		if err := loader.LoadCNN(ck, e); err != nil {
			return err
		}
		m.Embedder = e
	case config.EmbedderLSTM:
		var words *nn.Embedding
		if te.WordDim > 0 {
			words = nn.NewEmbedding("word_embed", m.Vocab.Len()+2, te.WordDim, m.Vocab.PaddingIdx, rng)
		}
		e := embedder.NewLSTM(words, chars, P, rng)
		redirects, err := m.Vocab.WordRedirects()
		if err != nil {
			return err
		}
		if m.Vocab.NoCreateCount() > 0 {
			e.Redirects = redirects
			m.logger.Printf("%d no-create words redirected to the unknown word", m.Vocab.NoCreateCount())
		}
		loaded, err := loader.LoadLSTMEmbedder(ck, e)
		if err != nil {
			return err
		}
		if !loaded {
			m.logger.Printf("checkpoint has no %s tensors; lstm token embedder keeps its initialization", loader.CharLSTMPrefix)
		}
		m.Embedder = e
	default:
		return elmoerr.Configf("unknown token embedder %q", te.Name)
	}
	return nil
}

func (m *Model) buildEncoder(ck *loader.Checkpoint, rng *rand.Rand) error {
	enc := m.Config.Encoder
	switch enc.Name {
	case config.EncoderELMo:
		s := encoder.NewBiLMStack(encoder.StackConfig{
			InputSize:        enc.ProjectionDim,
			HiddenSize:       enc.ProjectionDim,
			CellSize:         enc.Dim,
			NumLayers:        enc.NLayers,
			RecurrentDropout: m.Config.Dropout,
			MemoryClip:       enc.CellClip,
			StateClip:        enc.ProjClip,
		}, rng)
		if err := loader.LoadStack(ck, s); err != nil {
			return err
		}
		m.Encoder = s
	case config.EncoderLSTM:
		e := encoder.NewBiLSTM(encoder.BiLSTMConfig{
			InputSize:     enc.ProjectionDim,
			HiddenSize:    enc.Dim,
			NumLayers:     enc.NLayers,
			Dropout:       m.Config.Dropout,
			ProjectionDim: enc.ProjectionDim,
		}, rng)
		loaded, err := loader.LoadBiLSTM(ck, e)
		if err != nil {
			return err
		}
		if !loaded {
			m.logger.Printf("checkpoint has no %s tensors; lstm encoder keeps its initialization", loader.EncoderLSTMName)
		}
		m.Encoder = e
	default:
		return elmoerr.Configf("unknown encoder %q", enc.Name)
	}
	return nil
}

// Close stops the worker goroutines.
func (m *Model) Close() error {
	if m.workers != nil {
		m.workers.Close()
		m.workers = nil
	}
	return nil
}

// OutputLayers is the number of layers Forward returns: the token layer plus
// every encoder layer for elmo, one for lstm.
func (m *Model) OutputLayers() int {
	if m.Config.Encoder.Name == config.EncoderELMo {
		return m.Config.Encoder.NLayers + 1
	}
	return 1
}

// OutputDim is the width of every returned vector.
func (m *Model) OutputDim() int {
	return m.Encoder.OutputDim()
}

// Lengths counts the non-padding ids of every row of a [batch, maxLen]
// matrix.
func (m *Model) Lengths(words []int, batch, maxLen int) []int {
	lengths := make([]int, batch)
	for b := range lengths {
		if m.Vocab.PaddingIdx < 0 {
			lengths[b] = maxLen
			continue
		}
		for _, w := range words[b*maxLen : (b+1)*maxLen] {
			if w != m.Vocab.PaddingIdx {
				lengths[b]++
			}
		}
	}
	return lengths
}

// Forward encodes a row-major [batch, maxLen] matrix of word ids padded with
// the vocabulary's padding id. Sentence boundary markers are added around
// every sentence and stripped from the result. Vectors past a sentence's
// length are zero.
func (m *Model) Forward(words []int, batch, maxLen int) (*Output, error) {
	if batch < 0 || maxLen < 0 || len(words) != batch*maxLen {
		return nil, elmoerr.Inputf("got %d word ids for a %dx%d batch", len(words), batch, maxLen)
	}
	out := &Output{
		Layers: m.OutputLayers(),
		Batch:  batch,
		Steps:  maxLen,
		Dim:    m.OutputDim(),
	}
	out.Data = make([]float32, out.Layers*batch*maxLen*out.Dim)
	if batch == 0 {
		return out, nil
	}

	lengths := m.Lengths(words, batch, maxLen)
	chunks := 1
	if m.workers != nil {
		chunks = min(m.workers.size, batch/minRowsPerTask)
	}
	if chunks <= 1 {
		return out, m.forwardRows(out, words, lengths, 0, batch)
	}

	size := (batch + chunks - 1) / chunks
	errs := make([]error, chunks)
	tasks := make([]func(), chunks)
	for i := range tasks {
		b0, b1 := i*size, min((i+1)*size, batch)
		if b0 >= b1 {
			continue
		}
		tasks[i] = func() {
			errs[i] = m.forwardRows(out, words, lengths, b0, b1)
		}
	}
	m.workers.Run(tasks...)
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// forwardRows runs sentences b0..b1-1 and writes their vectors into out.
func (m *Model) forwardRows(out *Output, words, lengths []int, b0, b1 int) error {
	B, maxLen, T := b1-b0, out.Steps, out.Steps+2
	expanded := make([]int, B*T)
	steps := make([]int, B)
	for b := 0; b < B; b++ {
		n := lengths[b0+b]
		row := expanded[b*T : (b+1)*T]
		row[0] = m.bos
		copy(row[1:], words[(b0+b)*maxLen:(b0+b+1)*maxLen])
		row[n+1] = m.eos
		steps[b] = n + 2
	}

	emb, err := m.Embedder.Embed(expanded, B, T)
	if err != nil {
		return err
	}
	layers, err := m.Encoder.Encode(emb, steps)
	if err != nil {
		return err
	}

	elmo := m.Config.Encoder.Name == config.EncoderELMo
	P := emb.Dim
	for b := 0; b < B; b++ {
		for t := 0; t < lengths[b0+b]; t++ {
			l := 0
			if elmo {
				dst := out.At(0, b0+b, t)
				copy(dst[:P], emb.At(b, t+1))
				copy(dst[P:], emb.At(b, t+1))
				l = 1
			}
			for _, layer := range layers {
				copy(out.At(l, b0+b, t), layer.At(b, t+1))
				l++
			}
		}
	}
	return nil
}
