package gguf

import (
	"fmt"
	"math"
)

// TensorView provides typed access to tensor data
type TensorView struct {
	desc *TensorDesc
	data []byte
}

// NewTensorView creates a view over tensor data
func NewTensorView(desc *TensorDesc, data []byte) *TensorView {
	return &TensorView{
		desc: desc,
		data: data,
	}
}

// Name returns the tensor name
func (tv *TensorView) Name() string {
	return tv.desc.Name
}

// Shape returns the tensor shape
func (tv *TensorView) Shape() []int {
	return tv.desc.Shape
}

// DType returns the tensor data type
func (tv *TensorView) DType() DType {
	return tv.desc.DType
}

// NumElements returns total number of elements
func (tv *TensorView) NumElements() int {
	return tv.desc.NumElements()
}

// Float32s decodes the tensor into a freshly allocated []float32.
// F32 and F16 tensors are supported.
func (tv *TensorView) Float32s() ([]float32, error) {
	n := tv.NumElements()
	switch tv.desc.DType {
	case DTypeF32:
		if len(tv.data) < n*4 {
			return nil, fmt.Errorf("insufficient data for F32 tensor %s", tv.desc.Name)
		}
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(byteOrder.Uint32(tv.data[i*4:]))
		}
		return out, nil
	case DTypeF16:
		if len(tv.data) < n*2 {
			return nil, fmt.Errorf("insufficient data for F16 tensor %s", tv.desc.Name)
		}
		out := make([]float32, n)
		for i := range out {
			out[i] = float16ToFloat32(byteOrder.Uint16(tv.data[i*2:]))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("tensor %s is not floating point: %s", tv.desc.Name, tv.desc.DType)
	}
}

// Int32s decodes an I32 tensor
func (tv *TensorView) Int32s() ([]int32, error) {
	if tv.desc.DType != DTypeI32 {
		return nil, fmt.Errorf("tensor is not I32: %s", tv.desc.DType)
	}

	n := tv.NumElements()
	if len(tv.data) < n*4 {
		return nil, fmt.Errorf("insufficient data for I32 tensor")
	}

	out := make([]int32, n)
	for i := range out {
		out[i] = int32(byteOrder.Uint32(tv.data[i*4:]))
	}
	return out, nil
}

// float16ToFloat32 converts float16 to float32
func float16ToFloat32(f16 uint16) float32 {
	sign := (f16 >> 15) & 0x1
	exp := (f16 >> 10) & 0x1F
	mant := f16 & 0x3FF

	var f32Bits uint32

	if exp == 0 {
		if mant == 0 {
			f32Bits = uint32(sign) << 31
		} else {
			// Subnormal - convert to normalized float32
			exp := uint32(127 - 15 + 1)
			mant := uint32(mant)
			for (mant & 0x400) == 0 {
				mant <<= 1
				exp--
			}
			mant &= 0x3FF
			f32Bits = (uint32(sign) << 31) | (exp << 23) | (mant << 13)
		}
	} else if exp == 0x1F {
		// Inf or NaN
		f32Bits = (uint32(sign) << 31) | (0xFF << 23) | (uint32(mant) << 13)
	} else {
		f32Bits = (uint32(sign) << 31) | ((uint32(exp-15+127) & 0xFF) << 23) | (uint32(mant) << 13)
	}

	return math.Float32frombits(f32Bits)
}

// float32ToFloat16 converts float32 to float16 with round-to-nearest-even.
// Values outside the half range saturate to infinity.
func float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & 0x8000)
	exp := int32((bits>>23)&0xFF) - 127 + 15
	mant := bits & 0x7FFFFF

	switch {
	case (bits>>23)&0xFF == 0xFF:
		if mant != 0 {
			return sign | 0x7E00
		}
		return sign | 0x7C00
	case exp >= 0x1F:
		return sign | 0x7C00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := uint16(mant >> shift)
		rem := mant & ((1 << shift) - 1)
		mid := uint32(1) << (shift - 1)
		if rem > mid || (rem == mid && half&1 == 1) {
			half++
		}
		return sign | half
	}

	half := sign | uint16(exp)<<10 | uint16(mant>>13)
	rem := mant & 0x1FFF
	if rem > 0x1000 || (rem == 0x1000 && half&1 == 1) {
		half++
	}
	return half
}
