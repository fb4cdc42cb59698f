// Command elmo-bench measures sentence embedding throughput
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/lth/pure-go-elmo/pkg/elmoembed"
)

var (
	modelDir   = flag.String("model", "", "Model directory (required)")
	duration   = flag.Int("duration", 5, "Benchmark duration in seconds")
	batchSize  = flag.Int("batch-size", 16, "Sentences per Embed call")
	threads    = flag.Int("threads", 0, "Parallel batch chunks (0: GOMAXPROCS)")
	cache      = flag.Bool("cache", false, "Precompute token embeddings for the whole vocabulary")
	seed       = flag.Int64("seed", 1, "Seed for sentence selection")
	cpuProfile = flag.String("cpuprofile", "", "Write CPU profile to file")
)

var testTexts = []string{
	"the cat sat on the mat",
	"a dog sat on a mat",
	"the dog and the cat sat on the mat near a tree",
	"language models compose words from their characters",
	"a bidirectional encoder reads the sentence in both directions",
	"on the mat",
}

func main() {
	flag.Parse()

	if *modelDir == "" {
		fmt.Fprintf(os.Stderr, "Error: -model is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if *duration <= 0 || *batchSize <= 0 {
		fmt.Fprintf(os.Stderr, "Error: -duration and -batch-size must be greater than 0\n\n")
		flag.Usage()
		os.Exit(1)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatalf("Could not create CPU profile: %v", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("Could not start CPU profile: %v", err)
		}
		defer func() {
			pprof.StopCPUProfile()
			f.Close()
			log.Printf("CPU profile written to %s", *cpuProfile)
		}()
	}

	log.Printf("Loading model from %s...", *modelDir)
	startLoad := time.Now()
	rt, err := elmoembed.Open(*modelDir, elmoembed.WithCache(*cache), elmoembed.WithThreads(*threads))
	if err != nil {
		log.Fatalf("Failed to open model: %v", err)
	}
	defer rt.Close()
	log.Printf("Model loaded in %v", time.Since(startLoad))
	log.Printf("Layers: %d, vector width: %d", rt.Layers(), rt.EmbedDim())

	sentences, tokens, elapsed, cpu := runBatches(rt)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	fmt.Fprintf(os.Stderr, "\n=== Benchmark Results ===\n")
	fmt.Fprintf(os.Stderr, "Duration: %v\n", elapsed)
	fmt.Fprintf(os.Stderr, "Sentences: %d (%d tokens)\n", sentences, tokens)
	fmt.Fprintf(os.Stderr, "Throughput: %.2f sentences/sec, %.2f tokens/sec\n",
		float64(sentences)/elapsed.Seconds(), float64(tokens)/elapsed.Seconds())
	if sentences > 0 {
		fmt.Fprintf(os.Stderr, "Average latency: %v per sentence\n", elapsed/time.Duration(sentences))
	}
	if cpu > 0 {
		fmt.Fprintf(os.Stderr, "CPU time: %v (%.2f cores busy)\n", cpu, cpu.Seconds()/elapsed.Seconds())
	}

	fmt.Fprintf(os.Stderr, "\n=== Memory Statistics ===\n")
	fmt.Fprintf(os.Stderr, "HeapAlloc: %.2f MB\n", float64(m.HeapAlloc)/1024/1024)
	fmt.Fprintf(os.Stderr, "TotalAlloc: %.2f MB\n", float64(m.TotalAlloc)/1024/1024)
	fmt.Fprintf(os.Stderr, "NumGC: %d\n", m.NumGC)
}

// runBatches embeds random batches until the deadline. It returns the
// sentence and token counts, wall time and CPU time.
func runBatches(rt elmoembed.Runtime) (int, int, time.Duration, time.Duration) {
	rng := rand.New(rand.NewSource(*seed))
	startTime := time.Now()
	startCPU := cpuTimeNow()
	ctx, cancel := context.WithDeadline(context.Background(), startTime.Add(time.Duration(*duration)*time.Second))
	defer cancel()

	sentences, tokens := 0, 0
	batch := make([]string, *batchSize)
	for ctx.Err() == nil {
		for i := range batch {
			batch[i] = testTexts[rng.Intn(len(testTexts))]
		}
		if _, err := rt.EmbedText(ctx, batch); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Fatalf("Embedding failed: %v", err)
		}
		sentences += len(batch)
		for _, s := range batch {
			tokens += len(strings.Fields(s))
		}
	}
	return sentences, tokens, time.Since(startTime), cpuTimeNow() - startCPU
}
