package loader

import (
	"github.com/lth/pure-go-elmo/internal/elmoerr"
	"github.com/lth/pure-go-elmo/internal/gguf"
)

// Checkpoint gives shape-checked access to the tensors of a checkpoint file.
type Checkpoint struct {
	r *gguf.Reader
}

// OpenCheckpoint maps the checkpoint at path.
func OpenCheckpoint(path string) (*Checkpoint, error) {
	r, err := gguf.Open(path)
	if err != nil {
		return nil, elmoerr.Resourcef("open checkpoint: %v", err)
	}
	return &Checkpoint{r: r}, nil
}

// NewCheckpoint wraps an already open reader.
func NewCheckpoint(r *gguf.Reader) *Checkpoint {
	return &Checkpoint{r: r}
}

// Close releases the mapping.
func (c *Checkpoint) Close() error {
	return c.r.Close()
}

// Has reports whether the tensor exists.
func (c *Checkpoint) Has(name string) bool {
	_, ok := c.r.GetTensor(name)
	return ok
}

// Shape returns the stored shape of a tensor.
func (c *Checkpoint) Shape(name string) ([]int, error) {
	desc, ok := c.r.GetTensor(name)
	if !ok {
		return nil, elmoerr.Shapef("checkpoint has no tensor %s", name)
	}
	return desc.Shape, nil
}

// Tensor decodes a tensor after checking it has exactly the given shape.
func (c *Checkpoint) Tensor(name string, shape ...int) ([]float32, error) {
	got, err := c.Shape(name)
	if err != nil {
		return nil, err
	}
	if !equalShape(got, shape) {
		return nil, elmoerr.Shapef("tensor %s: expected shape %v, got %v", name, shape, got)
	}
	view, err := c.r.View(name)
	if err != nil {
		return nil, elmoerr.Shapef("tensor %s: %v", name, err)
	}
	data, err := view.Float32s()
	if err != nil {
		return nil, elmoerr.Shapef("tensor %s: %v", name, err)
	}
	return data, nil
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
