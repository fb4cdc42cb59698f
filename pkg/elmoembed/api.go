// Package elmoembed provides a high-level API for ELMo contextual embeddings
package elmoembed

import (
	"context"
	"io"
	"log"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/lth/pure-go-elmo/internal/elmoerr"
	modelrt "github.com/lth/pure-go-elmo/internal/runtime"
	"github.com/lth/pure-go-elmo/internal/tokenizer"
	"github.com/lth/pure-go-elmo/internal/vocab"
)

// Error categories. Every error returned by the runtime matches one of them
// with errors.Is, except context errors.
var (
	ErrConfig   = elmoerr.ErrConfig
	ErrResource = elmoerr.ErrResource
	ErrShape    = elmoerr.ErrShape
	ErrInput    = elmoerr.ErrInput
)

// Runtime is the main interface for the embedding runtime
type Runtime interface {
	// Embed computes the representations of already tokenized sentences
	Embed(ctx context.Context, sentences [][]string) ([]Representation, error)

	// EmbedText splits texts into words and embeds them
	EmbedText(ctx context.Context, texts []string) ([]Representation, error)

	// Close releases resources
	Close() error

	// Layers returns how many layers every representation holds
	Layers() int

	// EmbedDim returns the width of every vector
	EmbedDim() int
}

// Representation holds the vectors of one sentence: Layers[l][t] is token t
// in layer l.
type Representation struct {
	Tokens []string
	Layers [][][]float32
}

// Layer returns the vectors of layer l. Negative l counts from the top, so
// -1 is the last layer.
func (r Representation) Layer(l int) ([][]float32, error) {
	if l < 0 {
		l += len(r.Layers)
	}
	if l < 0 || l >= len(r.Layers) {
		return nil, elmoerr.Inputf("layer %d outside %d layers", l, len(r.Layers))
	}
	return r.Layers[l], nil
}

// Average returns the per-token mean over all layers.
func (r Representation) Average() [][]float32 {
	if len(r.Layers) == 0 {
		return nil
	}
	avg := make([][]float32, len(r.Tokens))
	scale := 1 / float32(len(r.Layers))
	for t := range avg {
		avg[t] = make([]float32, len(r.Layers[0][t]))
		for _, layer := range r.Layers {
			for i, v := range layer[t] {
				avg[t][i] += v
			}
		}
		for i := range avg[t] {
			avg[t][i] *= scale
		}
	}
	return avg
}

// Options configures the runtime
type Options struct {
	// Vocabulary replaces the vocab.txt of the model directory. The padding
	// and unknown entries are added in front.
	Vocabulary []string

	// VocabularyFile is read instead of the model directory's vocab.txt.
	VocabularyFile string

	// Cache precomputes every vocabulary entry's token embedding at load
	// time. Words are then looked up instead of composed from characters.
	Cache bool

	// Verbose logs load progress to stderr unless Logger is set
	Verbose bool

	// Logger receives load progress
	Logger *log.Logger

	// Seed initializes parameters the checkpoint does not provide
	Seed int64

	// Lowercase folds words before the vocabulary lookup
	Lowercase bool

	// SplitPunctuation makes EmbedText emit punctuation as separate words
	SplitPunctuation bool

	// NumThreads bounds how many batch chunks run in parallel. 0 uses
	// GOMAXPROCS.
	NumThreads int
}

// Option is a functional option for configuring the runtime
type Option func(*Options)

// WithVocabulary sets the runtime vocabulary
func WithVocabulary(words []string) Option {
	return func(o *Options) {
		o.Vocabulary = words
	}
}

// WithVocabularyFile reads the runtime vocabulary from path
func WithVocabularyFile(path string) Option {
	return func(o *Options) {
		o.VocabularyFile = path
	}
}

// WithCache enables the token embedding cache
func WithCache(cache bool) Option {
	return func(o *Options) {
		o.Cache = cache
	}
}

// WithVerbose enables verbose logging
func WithVerbose(v bool) Option {
	return func(o *Options) {
		o.Verbose = v
	}
}

// WithLogger sends load progress to l
func WithLogger(l *log.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithSeed sets the seed of parameters missing from the checkpoint
func WithSeed(seed int64) Option {
	return func(o *Options) {
		o.Seed = seed
	}
}

// WithLowercase folds words to lower case before lookup
func WithLowercase(lower bool) Option {
	return func(o *Options) {
		o.Lowercase = lower
	}
}

// WithSplitPunctuation splits punctuation off words in EmbedText
func WithSplitPunctuation(split bool) Option {
	return func(o *Options) {
		o.SplitPunctuation = split
	}
}

// WithThreads sets the number of threads
func WithThreads(n int) Option {
	return func(o *Options) {
		o.NumThreads = n
	}
}

// embedRuntime implements Runtime
type embedRuntime struct {
	mu        sync.Mutex
	model     *modelrt.Model
	tokenizer *tokenizer.Tokenizer
	options   Options
}

// Open loads the model directory dir and returns a Runtime
func Open(dir string, opts ...Option) (Runtime, error) {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}

	logger := options.Logger
	switch {
	case logger != nil:
	case options.Verbose:
		logger = log.New(os.Stderr, "elmoembed: ", log.LstdFlags)
	default:
		logger = log.New(io.Discard, "", 0)
	}

	var v *vocab.Vocabulary
	switch {
	case options.Vocabulary != nil:
		v = vocab.FromWords(options.Vocabulary)
	case options.VocabularyFile != "":
		var err error
		if v, err = vocab.Load(options.VocabularyFile); err != nil {
			return nil, err
		}
	}

	model, err := modelrt.Load(dir, modelrt.Options{
		Vocabulary: v,
		Cache:      options.Cache,
		Seed:       options.Seed,
		Workers:    options.NumThreads,
		Logger:     logger,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "load model")
	}

	tok, err := tokenizer.New(model.Vocab, tokenizer.Config{
		Lowercase:        options.Lowercase,
		NFKC:             true,
		SplitPunctuation: options.SplitPunctuation,
	})
	if err != nil {
		model.Close()
		return nil, err
	}

	return &embedRuntime{
		model:     model,
		tokenizer: tok,
		options:   options,
	}, nil
}

// Embed computes representations for a batch of sentences
func (r *embedRuntime) Embed(ctx context.Context, sentences [][]string) ([]Representation, error) {
	if len(sentences) == 0 {
		return nil, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ids := make([][]int, len(sentences))
	for i, s := range sentences {
		encoded, err := r.tokenizer.EncodeWords(s)
		if err != nil {
			return nil, errors.WithMessagef(err, "sentence %d", i)
		}
		ids[i] = encoded
	}
	words, maxLen := r.tokenizer.Pad(ids)

	// the model is shared, one forward pass at a time
	r.mu.Lock()
	out, err := r.model.Forward(words, len(sentences), maxLen)
	r.mu.Unlock()
	if err != nil {
		return nil, errors.WithMessage(err, "forward")
	}

	reprs := make([]Representation, len(sentences))
	for b, s := range sentences {
		layers := make([][][]float32, out.Layers)
		for l := range layers {
			layers[l] = make([][]float32, len(s))
			for t := range s {
				layers[l][t] = append([]float32(nil), out.At(l, b, t)...)
			}
		}
		reprs[b] = Representation{Tokens: append([]string(nil), s...), Layers: layers}
	}
	return reprs, nil
}

// EmbedText tokenizes and embeds texts
func (r *embedRuntime) EmbedText(ctx context.Context, texts []string) ([]Representation, error) {
	sentences := make([][]string, len(texts))
	for i, text := range texts {
		sentences[i] = r.tokenizer.Split(text)
	}
	return r.Embed(ctx, sentences)
}

// Close releases resources
func (r *embedRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model.Close()
}

// Layers returns the number of output layers
func (r *embedRuntime) Layers() int {
	return r.model.OutputLayers()
}

// EmbedDim returns the embedding dimension
func (r *embedRuntime) EmbedDim() int {
	return r.model.OutputDim()
}
