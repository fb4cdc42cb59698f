// Package embedder maps word ids to token vectors, either by composing them
// from characters (CNN or LSTM over the characters of each word) or by
// looking them up in a precomputed table.
package embedder

import (
	"github.com/lth/pure-go-elmo/internal/elmoerr"
	"github.com/lth/pure-go-elmo/internal/nn"
	"github.com/lth/pure-go-elmo/internal/vocab"
)

// TokenEmbedder is implemented by every embedder variant.
type TokenEmbedder interface {
	nn.Module
	// Embed maps a row-major [batch, steps] matrix of word ids to a
	// [batch, steps, OutputDim] sequence.
	Embed(words []int, batch, steps int) (nn.Sequence, error)
	OutputDim() int
}

// Chars is the character input shared by the character-level embedders.
type Chars struct {
	// Embedding has one row per character id plus a final all-zero row that
	// the word table uses as its sentinel.
	Embedding *nn.Embedding
	Table     *vocab.WordCharTable
}

// lookup writes the character embeddings of word into dst
// ([MaxChars, charDim]).
func (c *Chars) lookup(dst []float32, word int) error {
	if word < 0 || word >= c.Table.Rows {
		return elmoerr.Inputf("word id %d outside character table of %d rows", word, c.Table.Rows)
	}
	return c.Embedding.Lookup(dst, c.Table.Row(word))
}

func checkWords(words []int, batch, steps int) error {
	if len(words) != batch*steps {
		return elmoerr.Inputf("got %d word ids for a %dx%d batch", len(words), batch, steps)
	}
	return nil
}
