package elmoembed

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/lth/pure-go-elmo/internal/fixture"
)

func writeModel(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := fixture.Write(dir, fixture.DefaultOptions()); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return dir
}

func openRuntime(t *testing.T, dir string, opts ...Option) Runtime {
	t.Helper()
	rt, err := Open(dir, opts...)
	if err != nil {
		t.Fatalf("Failed to open runtime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func sameVectors(a, b [][]float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if math.Abs(float64(a[i][j]-b[i][j])) > 1e-6 {
				return false
			}
		}
	}
	return true
}

func TestEmbed(t *testing.T) {
	rt := openRuntime(t, writeModel(t))
	opts := fixture.DefaultOptions()
	if rt.Layers() != opts.Layers+1 {
		t.Errorf("Layers() = %d, want %d", rt.Layers(), opts.Layers+1)
	}
	if rt.EmbedDim() != 2*opts.ProjectionDim {
		t.Errorf("EmbedDim() = %d, want %d", rt.EmbedDim(), 2*opts.ProjectionDim)
	}

	sentences := [][]string{{"the", "cat"}, {"a", "dog", "sat", "unseen"}, {}}
	reprs, err := rt.Embed(context.Background(), sentences)
	if err != nil {
		t.Fatal(err)
	}
	if len(reprs) != len(sentences) {
		t.Fatalf("got %d representations, want %d", len(reprs), len(sentences))
	}
	for i, r := range reprs {
		if len(r.Tokens) != len(sentences[i]) || len(r.Layers) != rt.Layers() {
			t.Fatalf("sentence %d: %d tokens, %d layers", i, len(r.Tokens), len(r.Layers))
		}
		for l, layer := range r.Layers {
			if len(layer) != len(sentences[i]) {
				t.Fatalf("sentence %d layer %d has %d vectors", i, l, len(layer))
			}
			for _, v := range layer {
				if len(v) != rt.EmbedDim() {
					t.Fatalf("vector width %d, want %d", len(v), rt.EmbedDim())
				}
			}
		}
	}

	empty, err := rt.Embed(context.Background(), nil)
	if err != nil || empty != nil {
		t.Errorf("Embed(nil) = %v, %v", empty, err)
	}
}

func TestEmbedTextMatchesEmbed(t *testing.T) {
	rt := openRuntime(t, writeModel(t), WithLowercase(true), WithSplitPunctuation(true))
	ctx := context.Background()

	fromText, err := rt.EmbedText(ctx, []string{"The CAT sat."})
	if err != nil {
		t.Fatal(err)
	}
	fromWords, err := rt.Embed(ctx, [][]string{{"the", "cat", "sat", "."}})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(fromText[0].Tokens, " "); got != "the cat sat ." {
		t.Errorf("tokens = %q", got)
	}
	for l := range fromWords[0].Layers {
		if !sameVectors(fromText[0].Layers[l], fromWords[0].Layers[l]) {
			t.Errorf("layer %d differs between EmbedText and Embed", l)
		}
	}
}

func TestEmbedContextCanceled(t *testing.T) {
	rt := openRuntime(t, writeModel(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := rt.Embed(ctx, [][]string{{"cat"}}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCacheOption(t *testing.T) {
	dir := writeModel(t)
	plain := openRuntime(t, dir)
	cached := openRuntime(t, dir, WithCache(true))

	sentences := [][]string{{"a", "cat", "on", "the", "mat"}}
	want, err := plain.Embed(context.Background(), sentences)
	if err != nil {
		t.Fatal(err)
	}
	got, err := cached.Embed(context.Background(), sentences)
	if err != nil {
		t.Fatal(err)
	}
	for l := range want[0].Layers {
		if !sameVectors(got[0].Layers[l], want[0].Layers[l]) {
			t.Errorf("layer %d differs with the cache", l)
		}
	}
}

func TestWithVocabularyAndLogger(t *testing.T) {
	var logs bytes.Buffer
	rt := openRuntime(t, writeModel(t),
		WithVocabulary([]string{"zebra", "giraffe"}),
		WithLogger(log.New(&logs, "", 0)))

	reprs, err := rt.Embed(context.Background(), [][]string{{"zebra", "giraffe", "cat"}})
	if err != nil {
		t.Fatal(err)
	}
	// cat is unknown here and zebra is not
	if sameVectors(reprs[0].Layers[0][:1], reprs[0].Layers[0][2:]) {
		t.Error("known word embeds like the unknown word")
	}
	if !strings.Contains(logs.String(), "characters in char.dic") {
		t.Errorf("log output %q lacks the character report", logs.String())
	}
}

func TestConcurrentEmbed(t *testing.T) {
	rt := openRuntime(t, writeModel(t), WithThreads(2))
	sentences := [][]string{{"the", "dog", "sat"}, {"on", "a", "mat"}}
	want, err := rt.Embed(context.Background(), sentences)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := rt.Embed(context.Background(), sentences)
			if err != nil {
				errs <- err
				return
			}
			for b := range want {
				for l := range want[b].Layers {
					if !sameVectors(got[b].Layers[l], want[b].Layers[l]) {
						errs <- errors.New("concurrent result differs")
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestOpenErrors(t *testing.T) {
	if _, err := Open(t.TempDir()); !errors.Is(err, ErrResource) {
		t.Errorf("empty directory: err = %v, want ErrResource", err)
	}
	dir := writeModel(t)
	if _, err := Open(dir, WithVocabularyFile(filepath.Join(dir, "missing.txt"))); !errors.Is(err, ErrResource) {
		t.Errorf("missing vocabulary file: err = %v, want ErrResource", err)
	}
}

func TestRepresentationLayers(t *testing.T) {
	r := Representation{
		Tokens: []string{"a", "b"},
		Layers: [][][]float32{
			{{1, 2}, {3, 4}},
			{{3, 2}, {1, 0}},
		},
	}
	top, err := r.Layer(-1)
	if err != nil || top[0][0] != 3 {
		t.Errorf("Layer(-1) = %v, %v", top, err)
	}
	if _, err := r.Layer(2); !errors.Is(err, ErrInput) {
		t.Errorf("Layer(2): err = %v, want ErrInput", err)
	}
	want := [][]float32{{2, 2}, {2, 2}}
	if avg := r.Average(); !sameVectors(avg, want) {
		t.Errorf("Average() = %v, want %v", avg, want)
	}
}
