// Command elmo-mkmodel writes a small randomly initialized model directory
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/lth/pure-go-elmo/internal/config"
	"github.com/lth/pure-go-elmo/internal/fixture"
)

var (
	outDir       = flag.String("out", "", "Output directory (required)")
	encoderName  = flag.String("encoder", "elmo", "Encoder: elmo or lstm")
	embedderName = flag.String("embedder", "cnn", "Token embedder: cnn or lstm")
	activation   = flag.String("activation", "relu", "CNN activation: tanh or relu")
	words        = flag.String("words", "", "Comma-separated vocabulary (default: a small built-in list)")
	layers       = flag.Int("layers", 2, "Encoder layers")
	projDim      = flag.Int("projection-dim", 6, "Projection width")
	dim          = flag.Int("dim", 10, "Cell width")
	charDim      = flag.Int("char-dim", 4, "Character embedding width (0 disables characters for -embedder lstm)")
	wordDim      = flag.Int("word-dim", 0, "Word embedding width for -embedder lstm")
	maxChars     = flag.Int("max-chars", 8, "Maximum characters per token, markers included")
	seed         = flag.Int64("seed", 1, "Random seed")
)

func main() {
	flag.Parse()

	if *outDir == "" {
		fmt.Fprintf(os.Stderr, "Error: -out is required\n")
		flag.Usage()
		os.Exit(1)
	}

	o := fixture.DefaultOptions()
	if err := o.Encoder.UnmarshalText([]byte(*encoderName)); err != nil {
		log.Fatalf("Invalid -encoder: %v", err)
	}
	if err := o.Embedder.UnmarshalText([]byte(*embedderName)); err != nil {
		log.Fatalf("Invalid -embedder: %v", err)
	}
	if err := o.Activation.UnmarshalText([]byte(*activation)); err != nil {
		log.Fatalf("Invalid -activation: %v", err)
	}
	if *words != "" {
		o.Words = strings.Split(*words, ",")
	}
	o.Layers = *layers
	o.ProjectionDim = *projDim
	o.Dim = *dim
	o.CharDim = *charDim
	o.WordDim = *wordDim
	o.MaxChars = *maxChars
	o.Seed = *seed
	if o.Embedder == config.EmbedderCNN && o.MaxChars < o.Config().TokenEmbedder.MaxFilterWidth() {
		log.Fatalf("-max-chars %d is narrower than the widest filter", o.MaxChars)
	}

	if err := fixture.Write(*outDir, o); err != nil {
		log.Fatalf("Failed to write model: %v", err)
	}
	fmt.Printf("Wrote %s model (%s embedder, %d layers, %d words) to %s\n",
		o.Encoder, o.Embedder, o.Layers, len(o.Words), *outDir)
}
