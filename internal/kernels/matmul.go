// Package kernels provides pure-Go float32 kernels for the encoder layers
package kernels

import (
	"fmt"
	"sync"
)

// parallelThreshold is the rows*outDim*inDim product above which Linear fans
// out over goroutines.
const parallelThreshold = 1 << 16

// Linear computes dst = input @ weight.T + bias.
// weight: [outDim, inDim] (row-major, one output unit per row)
// input:  [rows, inDim]
// bias:   [outDim] or nil
// dst:    [rows, outDim]
func Linear(dst, input, weight, bias []float32, rows, inDim, outDim int) {
	if len(dst) < rows*outDim {
		panic(fmt.Sprintf("kernels: dst too small: %d < %d", len(dst), rows*outDim))
	}
	if len(input) < rows*inDim {
		panic(fmt.Sprintf("kernels: input too small: %d < %d", len(input), rows*inDim))
	}
	if len(weight) < outDim*inDim {
		panic(fmt.Sprintf("kernels: weight too small: %d < %d", len(weight), outDim*inDim))
	}
	if bias != nil && len(bias) < outDim {
		panic(fmt.Sprintf("kernels: bias too small: %d < %d", len(bias), outDim))
	}
	if rows == 0 || outDim == 0 {
		return
	}

	if parallelWorkers > 1 && rows*outDim*inDim >= parallelThreshold && outDim >= parallelWorkers {
		linearParallel(dst, input, weight, bias, rows, inDim, outDim)
		return
	}
	linearRange(dst, input, weight, bias, rows, inDim, outDim, 0, outDim)
}

// linearRange computes output columns [j0, j1) for every row.
func linearRange(dst, input, weight, bias []float32, rows, inDim, outDim, j0, j1 int) {
	for i := 0; i < rows; i++ {
		in := input[i*inDim : (i+1)*inDim]
		out := dst[i*outDim : (i+1)*outDim]
		for j := j0; j < j1; j++ {
			sum := Dot(in, weight[j*inDim:(j+1)*inDim], inDim)
			if bias != nil {
				sum += bias[j]
			}
			out[j] = sum
		}
	}
}

// linearParallel splits the output dimension across workers. Each worker
// writes a disjoint column range, so no synchronization beyond the wait group
// is needed.
func linearParallel(dst, input, weight, bias []float32, rows, inDim, outDim int) {
	workers := parallelWorkers
	chunk := (outDim + workers - 1) / workers

	var wg sync.WaitGroup
	for j0 := 0; j0 < outDim; j0 += chunk {
		j1 := min(j0+chunk, outDim)
		wg.Add(1)
		go func(j0, j1 int) {
			defer wg.Done()
			linearRange(dst, input, weight, bias, rows, inDim, outDim, j0, j1)
		}(j0, j1)
	}
	wg.Wait()
}

// Transpose writes the [cols, rows] transpose of the row-major [rows, cols]
// matrix src into dst.
func Transpose(dst, src []float32, rows, cols int) {
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j*rows+i] = src[i*cols+j]
		}
	}
}

// VecAddF32 adds two vectors: dst = a + b
func VecAddF32(dst, a, b []float32, n int) {
	for i := 0; i < n; i++ {
		dst[i] = a[i] + b[i]
	}
}

// VecMulF32 element-wise multiply: dst = a * b
func VecMulF32(dst, a, b []float32, n int) {
	for i := 0; i < n; i++ {
		dst[i] = a[i] * b[i]
	}
}

// VecScaleF32 scales a vector: dst = a * scale
func VecScaleF32(dst, a []float32, scale float32, n int) {
	for i := 0; i < n; i++ {
		dst[i] = a[i] * scale
	}
}
