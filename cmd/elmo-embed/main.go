// Command elmo-embed prints contextual word vectors for sentences read one
// per line
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/lth/pure-go-elmo/pkg/elmoembed"
)

var (
	modelDir   = flag.String("model", "", "Model directory (required)")
	inputPath  = flag.String("input", "", "Input file (one sentence per line, default: stdin)")
	outputPath = flag.String("output", "", "Output file (default: stdout)")
	format     = flag.String("format", "json", "Output format: json, csv, tsv")
	layer      = flag.Int("layer", -1, "Layer to print: -1 averages all layers, -2 prints every layer")
	cache      = flag.Bool("cache", false, "Precompute token embeddings for the whole vocabulary")
	vocabPath  = flag.String("vocab", "", "Vocabulary file (default: vocab.txt of the model directory)")
	lowercase  = flag.Bool("lowercase", false, "Lowercase words before lookup")
	punct      = flag.Bool("split-punct", false, "Split punctuation off words")
	batchSize  = flag.Int("batch", 32, "Sentences per forward pass")
	threads    = flag.Int("threads", 0, "Parallel batch chunks (0: GOMAXPROCS)")
	verbose    = flag.Bool("v", false, "Verbose logging")
	showStats  = flag.Bool("stats", false, "Show performance statistics")
)

// result is one sentence of output. Vectors is [token][dim] for a single
// layer and [layer][token][dim] for -layer -2.
type result struct {
	Sentence int         `json:"sentence"`
	Tokens   []string    `json:"tokens"`
	Vectors  interface{} `json:"vectors"`
}

func main() {
	flag.Parse()

	if *modelDir == "" {
		fmt.Fprintf(os.Stderr, "Error: -model is required\n")
		flag.Usage()
		os.Exit(1)
	}
	if *batchSize <= 0 {
		*batchSize = 1
	}

	if *verbose {
		log.Printf("Loading model from %s...", *modelDir)
	}
	startLoad := time.Now()
	opts := []elmoembed.Option{
		elmoembed.WithCache(*cache),
		elmoembed.WithVerbose(*verbose),
		elmoembed.WithLowercase(*lowercase),
		elmoembed.WithSplitPunctuation(*punct),
		elmoembed.WithThreads(*threads),
	}
	if *vocabPath != "" {
		opts = append(opts, elmoembed.WithVocabularyFile(*vocabPath))
	}
	rt, err := elmoembed.Open(*modelDir, opts...)
	if err != nil {
		log.Fatalf("Failed to open model: %v", err)
	}
	defer rt.Close()

	if *layer < -2 || *layer >= rt.Layers() {
		log.Fatalf("-layer %d outside [-2, %d]", *layer, rt.Layers()-1)
	}
	if *verbose {
		log.Printf("Model loaded in %v", time.Since(startLoad))
		log.Printf("Layers: %d, vector width: %d", rt.Layers(), rt.EmbedDim())
	}

	var input io.Reader = os.Stdin
	if *inputPath != "" {
		f, err := os.Open(*inputPath)
		if err != nil {
			log.Fatalf("Failed to open input file: %v", err)
		}
		defer f.Close()
		input = f
	}

	var output io.Writer = os.Stdout
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			log.Fatalf("Failed to create output file: %v", err)
		}
		defer f.Close()
		output = f
	}

	texts := []string{}
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			texts = append(texts, line)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("Failed to read input: %v", err)
	}
	if len(texts) == 0 {
		log.Fatalf("No input sentences")
	}

	startEmbed := time.Now()
	ctx := context.Background()
	var results []result
	tokens := 0
	for start := 0; start < len(texts); start += *batchSize {
		end := min(start+*batchSize, len(texts))
		reprs, err := rt.EmbedText(ctx, texts[start:end])
		if err != nil {
			log.Fatalf("Failed to embed sentences %d-%d: %v", start, end, err)
		}
		for i, r := range reprs {
			res := result{Sentence: start + i, Tokens: r.Tokens}
			switch *layer {
			case -1:
				res.Vectors = r.Average()
			case -2:
				res.Vectors = r.Layers
			default:
				vectors, err := r.Layer(*layer)
				if err != nil {
					log.Fatalf("Failed to select layer %d: %v", *layer, err)
				}
				res.Vectors = vectors
			}
			results = append(results, res)
			tokens += len(r.Tokens)
		}
	}
	embedDuration := time.Since(startEmbed)

	if err := writeOutput(output, *format, results); err != nil {
		log.Fatalf("Failed to write output: %v", err)
	}

	if *showStats {
		fmt.Fprintf(os.Stderr, "\nStatistics:\n")
		fmt.Fprintf(os.Stderr, "  Sentences processed: %d\n", len(texts))
		fmt.Fprintf(os.Stderr, "  Tokens processed: %d\n", tokens)
		fmt.Fprintf(os.Stderr, "  Total time: %v\n", embedDuration)
		fmt.Fprintf(os.Stderr, "  Throughput: %.2f tokens/sec\n", float64(tokens)/embedDuration.Seconds())
	}
}

func writeOutput(w io.Writer, format string, results []result) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case "csv":
		return writeCSV(w, results, ',')
	case "tsv":
		return writeCSV(w, results, '\t')
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// writeCSV writes one row per token and layer.
func writeCSV(w io.Writer, results []result, delimiter rune) error {
	writer := csv.NewWriter(w)
	writer.Comma = delimiter
	if err := writer.Write([]string{"sentence", "layer", "position", "token", "vector"}); err != nil {
		return err
	}

	for _, res := range results {
		var layers [][][]float32
		switch v := res.Vectors.(type) {
		case [][]float32:
			layers = [][][]float32{v}
		case [][][]float32:
			layers = v
		}
		for l, vectors := range layers {
			for t, vec := range vectors {
				row := []string{strconv.Itoa(res.Sentence), strconv.Itoa(l), strconv.Itoa(t), res.Tokens[t]}
				for _, val := range vec {
					row = append(row, strconv.FormatFloat(float64(val), 'f', -1, 32))
				}
				if err := writer.Write(row); err != nil {
					return err
				}
			}
		}
	}

	writer.Flush()
	return writer.Error()
}
