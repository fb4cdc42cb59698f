// Package gguf reads and writes the tensor container used for ELMo checkpoints.
//
// The layout follows GGUF v3: a fixed header, metadata key-value pairs, tensor
// descriptors and a 32-byte aligned data section. Unlike llama.cpp files,
// shapes are stored outermost dimension first, matching the HDF5 datasets the
// checkpoints are converted from.
package gguf

import (
	"encoding/binary"
	"fmt"
)

// GGUF format constants
const (
	GGUFMagic   = 0x46554747 // "GGUF" in little-endian
	GGUFVersion = 3          // Current version

	// Alignment of the data section and of every tensor inside it.
	Alignment = 32
)

// DType represents tensor data types in GGUF
type DType uint32

const (
	DTypeF32 DType = 0
	DTypeF16 DType = 1
	DTypeI32 DType = 18
)

// String returns the name of the data type
func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "F32"
	case DTypeF16:
		return "F16"
	case DTypeI32:
		return "I32"
	}
	return fmt.Sprintf("Unknown(%d)", d)
}

// ElementSize returns the size of one element in bytes, or 0 if the type is
// not supported by this package.
func (d DType) ElementSize() int {
	switch d {
	case DTypeF32, DTypeI32:
		return 4
	case DTypeF16:
		return 2
	default:
		return 0
	}
}

// MetadataValueType represents the type of a metadata value
type MetadataValueType uint32

const (
	MetadataUint8   MetadataValueType = 0
	MetadataInt8    MetadataValueType = 1
	MetadataUint16  MetadataValueType = 2
	MetadataInt16   MetadataValueType = 3
	MetadataUint32  MetadataValueType = 4
	MetadataInt32   MetadataValueType = 5
	MetadataFloat32 MetadataValueType = 6
	MetadataBool    MetadataValueType = 7
	MetadataString  MetadataValueType = 8
	MetadataArray   MetadataValueType = 9
	MetadataUint64  MetadataValueType = 10
	MetadataInt64   MetadataValueType = 11
	MetadataFloat64 MetadataValueType = 12
)

// Header is the GGUF file header
type Header struct {
	Magic          uint32
	Version        uint32
	TensorCount    uint64
	MetadataKVSize uint64
}

// TensorInfo describes a tensor in the GGUF file
type TensorInfo struct {
	Name   string
	NDim   uint32
	Dims   []uint64
	DType  DType
	Offset uint64
}

// Metadata represents a key-value pair from GGUF metadata
type Metadata struct {
	Key   string
	Type  MetadataValueType
	Value interface{}
}

var byteOrder = binary.LittleEndian

// align rounds up to the nearest multiple of alignment
func align(offset, alignment int) int {
	return (offset + alignment - 1) &^ (alignment - 1)
}
