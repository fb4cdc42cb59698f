package fixture_test

import (
	"reflect"
	"testing"

	"github.com/lth/pure-go-elmo/internal/config"
	"github.com/lth/pure-go-elmo/internal/fixture"
	"github.com/lth/pure-go-elmo/internal/loader"
	"github.com/lth/pure-go-elmo/internal/vocab"
)

func TestWriteProducesLoadableDirectory(t *testing.T) {
	opts := fixture.DefaultOptions()
	dir := t.TempDir()
	if err := fixture.Write(dir, opts); err != nil {
		t.Fatalf("Write: %v", err)
	}

	files, err := loader.Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if files.CharLexicon == "" || files.Vocabulary == "" {
		t.Fatalf("missing side files: %+v", files)
	}

	cfg, err := config.Load(files.Config)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if !reflect.DeepEqual(cfg.Encoder, opts.Config().Encoder) {
		t.Errorf("encoder config = %+v, want %+v", cfg.Encoder, opts.Config().Encoder)
	}

	v, err := vocab.Load(files.Vocabulary)
	if err != nil {
		t.Fatalf("vocab.Load: %v", err)
	}
	for _, w := range opts.Words {
		if _, ok := v.Lookup(w); !ok {
			t.Errorf("word %q missing from vocabulary", w)
		}
	}

	ck, err := loader.OpenCheckpoint(files.Checkpoint)
	if err != nil {
		t.Fatalf("OpenCheckpoint: %v", err)
	}
	defer ck.Close()
	P, D := opts.ProjectionDim, opts.Dim
	tests := []struct {
		name string
		want []int
	}{
		{loader.CellTensorName(0, 0, "W_0"), []int{2 * P, 4 * D}},
		{loader.CellTensorName(1, opts.Layers-1, "W_P_0"), []int{D, P}},
		{loader.ConvWeightName(2), []int{1, 3, opts.CharDim, 8}},
		{loader.ProjWeightName, []int{16, P}},
	}
	for _, tt := range tests {
		got, err := ck.Shape(tt.name)
		if err != nil {
			t.Errorf("Shape(%s): %v", tt.name, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Shape(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestWriteIsDeterministic(t *testing.T) {
	opts := fixture.DefaultOptions()
	read := func() []float32 {
		dir := t.TempDir()
		if err := fixture.Write(dir, opts); err != nil {
			t.Fatal(err)
		}
		files, err := loader.Discover(dir)
		if err != nil {
			t.Fatal(err)
		}
		ck, err := loader.OpenCheckpoint(files.Checkpoint)
		if err != nil {
			t.Fatal(err)
		}
		defer ck.Close()
		data, err := ck.Tensor(loader.CellTensorName(0, 0, "B"), 4*opts.Dim)
		if err != nil {
			t.Fatal(err)
		}
		return append([]float32(nil), data...)
	}
	if a, b := read(), read(); !reflect.DeepEqual(a, b) {
		t.Error("same seed produced different tensors")
	}
}
