package elmo

import (
	"context"
	"fmt"

	"github.com/lth/pure-go-elmo/pkg/elmoembed"
)

// Representation holds the per-layer vectors of one sentence.
type Representation = elmoembed.Representation

// Option configures the runtime.
type Option = elmoembed.Option

// Options helpers for configuring the runtime.
var (
	WithVocabulary       = elmoembed.WithVocabulary
	WithVocabularyFile   = elmoembed.WithVocabularyFile
	WithCache            = elmoembed.WithCache
	WithVerbose          = elmoembed.WithVerbose
	WithLogger           = elmoembed.WithLogger
	WithSeed             = elmoembed.WithSeed
	WithLowercase        = elmoembed.WithLowercase
	WithSplitPunctuation = elmoembed.WithSplitPunctuation
	WithThreads          = elmoembed.WithThreads
)

// Error categories, for use with errors.Is.
var (
	ErrConfig   = elmoembed.ErrConfig
	ErrResource = elmoembed.ErrResource
	ErrShape    = elmoembed.ErrShape
	ErrInput    = elmoembed.ErrInput
)

// Layer selects which vectors Vectors returns.
type Layer int

const (
	// LayerAverage averages all layers.
	LayerAverage Layer = -1
	// LayerTop is the last encoder layer.
	LayerTop Layer = -2
	// LayerToken is the context-independent token layer.
	LayerToken Layer = 0
)

// Runtime wraps the underlying embedding runtime and exposes a simplified API.
type Runtime struct {
	inner elmoembed.Runtime
}

// Open loads a model directory and returns a Runtime.
func Open(dir string, opts ...Option) (*Runtime, error) {
	rt, err := elmoembed.Open(dir, opts...)
	if err != nil {
		return nil, err
	}
	return &Runtime{inner: rt}, nil
}

// Close releases resources associated with the runtime.
func (r *Runtime) Close() error {
	return r.inner.Close()
}

// EmbedDim reports the width of every vector.
func (r *Runtime) EmbedDim() int {
	return r.inner.EmbedDim()
}

// Layers reports how many layers every representation holds.
func (r *Runtime) Layers() int {
	return r.inner.Layers()
}

// Embed returns all layers of already tokenized sentences.
func (r *Runtime) Embed(ctx context.Context, sentences [][]string) ([]Representation, error) {
	return r.inner.Embed(ctx, sentences)
}

// EmbedText splits texts into words and returns all their layers.
func (r *Runtime) EmbedText(ctx context.Context, texts []string) ([]Representation, error) {
	return r.inner.EmbedText(ctx, texts)
}

// Vectors returns one vector per word of every sentence, taken from layer.
func (r *Runtime) Vectors(ctx context.Context, sentences [][]string, layer Layer) ([][][]float32, error) {
	reprs, err := r.inner.Embed(ctx, sentences)
	if err != nil {
		return nil, err
	}
	out := make([][][]float32, len(reprs))
	for i, rep := range reprs {
		switch layer {
		case LayerAverage:
			out[i] = rep.Average()
		case LayerTop:
			out[i], err = rep.Layer(-1)
		default:
			out[i], err = rep.Layer(int(layer))
		}
		if err != nil {
			return nil, fmt.Errorf("sentence %d: %w", i, err)
		}
	}
	return out, nil
}

// Inner exposes the underlying runtime for advanced integrations.
func (r *Runtime) Inner() elmoembed.Runtime {
	return r.inner
}
