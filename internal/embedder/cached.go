package embedder

import (
	"github.com/pkg/errors"

	"github.com/lth/pure-go-elmo/internal/nn"
)

// CacheBatchSize is the number of vocabulary entries embedded per batch
// while filling a cache.
const CacheBatchSize = 320

// Cached looks tokens up in a table precomputed from another embedder.
type Cached struct {
	Table *nn.Embedding
}

// NewCached embeds ids 0..rows-1 with source and stores the results. The
// source is no longer needed afterwards.
func NewCached(source TokenEmbedder, rows int) (*Cached, error) {
	dim := source.OutputDim()
	table := nn.NewEmbedding("cached_word_embedding", rows, dim, -1, nil)
	ids := make([]int, 0, CacheBatchSize)
	for start := 0; start < rows; start += CacheBatchSize {
		end := min(start+CacheBatchSize, rows)
		ids = ids[:0]
		for id := start; id < end; id++ {
			ids = append(ids, id)
		}
		reprs, err := source.Embed(ids, len(ids), 1)
		if err != nil {
			return nil, errors.WithMessagef(err, "cache rows %d-%d", start, end)
		}
		copy(table.Weight.Data[start*dim:end*dim], reprs.Data)
	}
	table.Weight.Freeze()
	return &Cached{Table: table}, nil
}

// OutputDim implements TokenEmbedder.
func (c *Cached) OutputDim() int {
	return c.Table.Dim
}

// Parameters implements nn.Module.
func (c *Cached) Parameters() []*nn.Parameter {
	return c.Table.Parameters()
}

// Embed implements TokenEmbedder.
func (c *Cached) Embed(words []int, batch, steps int) (nn.Sequence, error) {
	if err := checkWords(words, batch, steps); err != nil {
		return nn.Sequence{}, err
	}
	out := nn.NewSequence(batch, steps, c.Table.Dim)
	if err := c.Table.Lookup(out.Data, words); err != nil {
		return nn.Sequence{}, err
	}
	return out, nil
}
