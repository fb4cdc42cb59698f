package kernels

import "math"

// Conv1DMaxPool runs a valid (unpadded, stride 1) 1-D convolution over a
// position-major input and max-pools each output channel over positions.
//
// input:  [seqLen, inChannels]
// weight: [outChannels, inChannels, width]
// bias:   [outChannels]
// dst:    [outChannels]
//
// seqLen must be at least width.
func Conv1DMaxPool(dst, input, weight, bias []float32, seqLen, inChannels, outChannels, width int) {
	outLen := seqLen - width + 1
	for f := 0; f < outChannels; f++ {
		kernel := weight[f*inChannels*width : (f+1)*inChannels*width]
		best := float32(math.Inf(-1))
		for o := 0; o < outLen; o++ {
			sum := bias[f]
			for ic := 0; ic < inChannels; ic++ {
				k := kernel[ic*width : (ic+1)*width]
				for w := 0; w < width; w++ {
					sum += input[(o+w)*inChannels+ic] * k[w]
				}
			}
			if sum > best {
				best = sum
			}
		}
		dst[f] = best
	}
}
