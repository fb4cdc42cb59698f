package encoder

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/lth/pure-go-elmo/internal/elmoerr"
	"github.com/lth/pure-go-elmo/internal/nn"
)

func newTestStack(seed int64) *BiLMStack {
	return NewBiLMStack(StackConfig{
		InputSize:  4,
		HiddenSize: 4,
		CellSize:   6,
		NumLayers:  2,
		MemoryClip: 3,
		StateClip:  3,
	}, rand.New(rand.NewSource(seed)))
}

func randomInputs(seed int64, batch, steps, dim int, lengths []int) nn.Sequence {
	rng := rand.New(rand.NewSource(seed))
	s := nn.NewSequence(batch, steps, dim)
	for b, n := range lengths {
		for t := 0; t < n; t++ {
			for i := range s.At(b, t) {
				s.At(b, t)[i] = float32(rng.NormFloat64())
			}
		}
	}
	return s
}

func single(s nn.Sequence, b int) nn.Sequence {
	out := nn.NewSequence(1, s.Steps, s.Dim)
	copy(out.Data, s.Row(b))
	return out
}

func assertClose(t *testing.T, what string, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length %d, want %d", what, len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			t.Fatalf("%s: [%d] = %f, want %f", what, i, got[i], want[i])
		}
	}
}

func TestStackRestoresBatchOrder(t *testing.T) {
	stack := newTestStack(1)
	lengths := []int{2, 5, 0, 3}
	inputs := randomInputs(2, 4, 5, 4, lengths)

	batched, err := stack.Forward(inputs, lengths, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(batched.Layers) != 2 || batched.Layers[0].Dim != 8 {
		t.Fatalf("got %d layers of width %d", len(batched.Layers), batched.Layers[0].Dim)
	}

	for b, n := range lengths {
		alone, err := stack.Forward(single(inputs, b), []int{n}, nil)
		if err != nil {
			t.Fatal(err)
		}
		for l := range alone.Layers {
			assertClose(t, "layer output", batched.Layers[l].Row(b), alone.Layers[l].Data)
		}
		for l := 0; l < 2; l++ {
			assertClose(t, "final hidden", batched.Final.Hidden[(l*4+b)*8:(l*4+b+1)*8], alone.Final.Hidden[l*8:(l+1)*8])
			assertClose(t, "final memory", batched.Final.Memory[(l*4+b)*12:(l*4+b+1)*12], alone.Final.Memory[l*12:(l+1)*12])
		}
	}
}

func TestStackSkipConnection(t *testing.T) {
	stack := newTestStack(3)
	clear(stack.Layers[1].Forward.Projection.Weight.Data)
	clear(stack.Layers[1].Backward.Projection.Weight.Data)

	lengths := []int{3, 4}
	out, err := stack.Forward(randomInputs(4, 2, 4, 4, lengths), lengths, nil)
	if err != nil {
		t.Fatal(err)
	}
	// A silent second layer passes its input through unchanged.
	assertClose(t, "layer 1", out.Layers[1].Data, out.Layers[0].Data)
}

func TestStackFinalState(t *testing.T) {
	stack := newTestStack(5)
	lengths := []int{3, 5}
	out, err := stack.Forward(randomInputs(6, 2, 5, 4, lengths), lengths, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Final.Layers != 2 || len(out.Final.Hidden) != 2*2*8 || len(out.Final.Memory) != 2*2*12 {
		t.Fatalf("final state sized %d/%d", len(out.Final.Hidden), len(out.Final.Memory))
	}
	layer0 := out.Layers[0]
	for b, n := range lengths {
		h := out.Final.Hidden[b*8 : (b+1)*8]
		assertClose(t, "forward final", h[:4], layer0.At(b, n-1)[:4])
		assertClose(t, "backward final", h[4:], layer0.At(b, 0)[4:])
	}
}

func TestStackInitialState(t *testing.T) {
	stack := newTestStack(7)
	lengths := []int{1, 3}
	inputs := randomInputs(8, 2, 3, 4, lengths)

	rng := rand.New(rand.NewSource(9))
	initial := &StackState{Layers: 2, Batch: 2, Hidden: make([]float32, 2*2*8), Memory: make([]float32, 2*2*12)}
	for i := range initial.Hidden {
		initial.Hidden[i] = float32(rng.NormFloat64())
	}
	for i := range initial.Memory {
		initial.Memory[i] = float32(rng.NormFloat64())
	}
	batched, err := stack.Forward(inputs, lengths, initial)
	if err != nil {
		t.Fatal(err)
	}

	for b, n := range lengths {
		own := &StackState{Layers: 2, Batch: 1}
		for l := 0; l < 2; l++ {
			own.Hidden = append(own.Hidden, initial.Hidden[(l*2+b)*8:(l*2+b+1)*8]...)
			own.Memory = append(own.Memory, initial.Memory[(l*2+b)*12:(l*2+b+1)*12]...)
		}
		alone, err := stack.Forward(single(inputs, b), []int{n}, own)
		if err != nil {
			t.Fatal(err)
		}
		assertClose(t, "top layer", batched.Layers[1].Row(b), alone.Layers[1].Data)
	}

	bad := &StackState{Layers: 1, Batch: 2, Hidden: make([]float32, 16), Memory: make([]float32, 24)}
	if _, err := stack.Forward(inputs, lengths, bad); !errors.Is(err, elmoerr.ErrConfig) {
		t.Errorf("layer-count mismatch: err = %v, want ErrConfig", err)
	}
}

func TestBiLSTMEncode(t *testing.T) {
	enc := NewBiLSTM(BiLSTMConfig{
		InputSize:     4,
		HiddenSize:    5,
		NumLayers:     2,
		Dropout:       0.5,
		ProjectionDim: 3,
	}, rand.New(rand.NewSource(11)))
	lengths := []int{2, 4}
	inputs := randomInputs(12, 2, 4, 4, lengths)

	layers, err := enc.Encode(inputs, lengths)
	if err != nil {
		t.Fatal(err)
	}
	if len(layers) != 1 || layers[0].Dim != enc.OutputDim() || enc.OutputDim() != 6 {
		t.Fatalf("got %d outputs of width %d", len(layers), layers[0].Dim)
	}
	out := layers[0]
	for b, n := range lengths {
		for step := n; step < out.Steps; step++ {
			for _, v := range out.At(b, step) {
				if v != 0 {
					t.Fatalf("sequence %d: non-zero output at padded step %d", b, step)
				}
			}
		}
		alone, err := enc.Encode(single(inputs, b), []int{n})
		if err != nil {
			t.Fatal(err)
		}
		assertClose(t, "sequence", out.Row(b), alone[0].Data)
	}

	// dropout is inactive outside training
	again, _ := enc.Encode(inputs, lengths)
	assertClose(t, "repeat", again[0].Data, out.Data)
}

func TestSortByLengthIsStable(t *testing.T) {
	order := sortByLength([]int{2, 5, 2, 7})
	want := []int{3, 1, 0, 2}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
