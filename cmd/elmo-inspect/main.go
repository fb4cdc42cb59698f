// Command elmo-inspect prints the header, metadata and tensors of a model
// checkpoint, and the CPU features the kernels will use
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"github.com/lth/pure-go-elmo/internal/gguf"
	"github.com/lth/pure-go-elmo/internal/loader"
)

var (
	all     = flag.Bool("all", false, "List every tensor instead of the first 20")
	filter  = flag.String("filter", "", "Only list tensors whose name contains this string")
	showCPU = flag.Bool("cpu", false, "Print the CPU report")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <weights.gguf | model dir>\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showCPU {
		printCPU()
	}
	if flag.NArg() < 1 {
		if *showCPU {
			return
		}
		flag.Usage()
		os.Exit(1)
	}

	path := flag.Arg(0)
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		files, err := loader.Discover(path)
		if err != nil {
			log.Fatalf("Failed to discover model files: %v", err)
		}
		fmt.Printf("Config:       %s\n", files.Config)
		fmt.Printf("Checkpoint:   %s\n", files.Checkpoint)
		fmt.Printf("Char lexicon: %s\n", orNone(files.CharLexicon))
		fmt.Printf("Vocabulary:   %s\n\n", orNone(files.Vocabulary))
		path = files.Checkpoint
	}

	reader, err := gguf.Open(path)
	if err != nil {
		log.Fatalf("Failed to open checkpoint: %v", err)
	}
	defer reader.Close()

	header := reader.Header()
	fmt.Printf("Checkpoint: %s\n", path)
	fmt.Printf("Version: %d\n", header.Version)
	fmt.Printf("Tensor Count: %d\n", header.TensorCount)
	fmt.Printf("Metadata KV Count: %d\n\n", header.MetadataKVSize)

	fmt.Println("=== Metadata ===")
	for _, key := range reader.ListMetadata() {
		val, _ := reader.GetMetadata(key)
		if arr, ok := val.([]interface{}); ok && len(arr) > 8 {
			fmt.Printf("%-30s: [%d items]\n", key, len(arr))
			continue
		}
		fmt.Printf("%-30s: %v\n", key, val)
	}
	fmt.Println()

	fmt.Println("=== Tensors ===")
	var names []string
	for _, name := range reader.ListTensors() {
		if strings.Contains(name, *filter) {
			names = append(names, name)
		}
	}
	fmt.Printf("Total: %d tensors\n\n", len(names))

	var params int
	for i, name := range names {
		desc, _ := reader.GetTensor(name)
		params += desc.NumElements()
		if !*all && i >= 20 {
			continue
		}
		fmt.Printf("%-55s  dtype=%-4s  shape=%v  size=%d bytes\n", name, desc.DType, desc.Shape, desc.Size)
	}
	if !*all && len(names) > 20 {
		fmt.Printf("... and %d more tensors\n", len(names)-20)
	}
	fmt.Printf("\nParameters: %d\n", params)
}

func printCPU() {
	fmt.Println("=== CPU ===")
	fmt.Printf("Brand:          %s\n", cpuid.CPU.BrandName)
	fmt.Printf("Vendor:         %s\n", cpuid.CPU.VendorString)
	fmt.Printf("Physical cores: %d\n", cpuid.CPU.PhysicalCores)
	fmt.Printf("Logical cores:  %d\n", cpuid.CPU.LogicalCores)
	fmt.Printf("GOMAXPROCS:     %d\n", runtime.GOMAXPROCS(0))
	fmt.Printf("L1d / L2 / L3:  %d / %d / %d bytes\n", cpuid.CPU.Cache.L1D, cpuid.CPU.Cache.L2, cpuid.CPU.Cache.L3)
	var features []string
	for _, f := range []cpuid.FeatureID{cpuid.SSE4, cpuid.AVX, cpuid.AVX2, cpuid.FMA3, cpuid.AVX512F, cpuid.ASIMD} {
		if cpuid.CPU.Supports(f) {
			features = append(features, f.String())
		}
	}
	fmt.Printf("Vector units:   %s\n\n", strings.Join(features, " "))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
