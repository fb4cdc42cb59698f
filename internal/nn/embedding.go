package nn

import (
	"math/rand"

	"github.com/lth/pure-go-elmo/internal/elmoerr"
)

// Embedding is a lookup table of Num rows of width Dim.
type Embedding struct {
	Num, Dim int
	Weight   *Parameter
}

// NewEmbedding allocates a normally initialized table. If paddingIdx is in
// range its row is zero.
func NewEmbedding(name string, num, dim, paddingIdx int, rng *rand.Rand) *Embedding {
	e := &Embedding{
		Num:    num,
		Dim:    dim,
		Weight: NewParameter(name+".weight", num, dim),
	}
	if rng != nil {
		Normal(e.Weight.Data, rng)
	}
	if paddingIdx >= 0 && paddingIdx < num {
		clear(e.Row(paddingIdx))
	}
	return e
}

// Row returns the embedding of id. It aliases the table.
func (e *Embedding) Row(id int) []float32 {
	return e.Weight.Data[id*e.Dim : (id+1)*e.Dim]
}

// Lookup writes the embeddings of ids into dst, one row per id.
func (e *Embedding) Lookup(dst []float32, ids []int) error {
	for i, id := range ids {
		if id < 0 || id >= e.Num {
			return elmoerr.Inputf("%s: id %d outside [0, %d)", e.Weight.Name, id, e.Num)
		}
		copy(dst[i*e.Dim:(i+1)*e.Dim], e.Row(id))
	}
	return nil
}

// Parameters implements Module.
func (e *Embedding) Parameters() []*Parameter {
	return []*Parameter{e.Weight}
}
