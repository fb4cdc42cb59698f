package kernels

import "math"

// Sigmoid applies the logistic function
// sigmoid(x) = 1 / (1 + exp(-x))
func Sigmoid(dst, src []float32, n int) {
	for i := 0; i < n; i++ {
		dst[i] = sigmoid(src[i])
	}
}

func sigmoid(x float32) float32 {
	// Split by sign so exp never overflows.
	if x >= 0 {
		return float32(1.0 / (1.0 + math.Exp(float64(-x))))
	}
	e := math.Exp(float64(x))
	return float32(e / (1.0 + e))
}

// Tanh applies the hyperbolic tangent
func Tanh(dst, src []float32, n int) {
	for i := 0; i < n; i++ {
		dst[i] = float32(math.Tanh(float64(src[i])))
	}
}

// ReLU applies the ReLU activation function
// ReLU(x) = max(0, x)
func ReLU(dst, src []float32, n int) {
	for i := 0; i < n; i++ {
		if src[i] > 0 {
			dst[i] = src[i]
		} else {
			dst[i] = 0
		}
	}
}

// Clamp limits every element to [-limit, limit].
func Clamp(x []float32, limit float32) {
	for i, v := range x {
		if v > limit {
			x[i] = limit
		} else if v < -limit {
			x[i] = -limit
		}
	}
}
