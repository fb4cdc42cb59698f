package kernels

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sys/cpu"
)

// Wide vector units make the 8-way unrolled dot product worthwhile; the
// compiler keeps the independent accumulators in separate registers.
var wideDot = cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD

// parallelWorkers bounds the goroutine fan-out of Linear. Hyperthreads share
// the FP units, so physical cores is the useful ceiling.
var parallelWorkers = func() int {
	n := cpuid.CPU.PhysicalCores
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if p := runtime.GOMAXPROCS(0); p < n {
		n = p
	}
	if n < 1 {
		n = 1
	}
	return n
}()

// Dot computes the dot product of the first n elements of a and b.
func Dot(a, b []float32, n int) float32 {
	if len(a) < n || len(b) < n {
		panic("kernels: vectors too small for dot product")
	}
	if wideDot && n >= 8 {
		return dotUnrolled(a[:n], b[:n])
	}
	return dotScalar(a[:n], b[:n])
}

func dotScalar(a, b []float32) float32 {
	sum := float32(0)
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func dotUnrolled(a, b []float32) float32 {
	var s0, s1, s2, s3, s4, s5, s6, s7 float32
	i := 0
	for ; i+8 <= len(a); i += 8 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
		s4 += a[i+4] * b[i+4]
		s5 += a[i+5] * b[i+5]
		s6 += a[i+6] * b[i+6]
		s7 += a[i+7] * b[i+7]
	}
	sum := (s0 + s1) + (s2 + s3) + (s4 + s5) + (s6 + s7)
	for ; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}
