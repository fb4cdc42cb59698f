package gguf

import (
	"fmt"
	"math"
	"os"

	mmapgo "github.com/edsrzf/mmap-go"
)

// Writer assembles a checkpoint file in memory and writes it out in one go.
type Writer struct {
	metadata []Metadata
	tensors  []pendingTensor
	names    map[string]bool
}

type pendingTensor struct {
	name  string
	dtype DType
	shape []int
	data  []byte
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{names: make(map[string]bool)}
}

// AddMetadata records a key-value pair. Supported value types are string,
// bool, uint32, int32, uint64, int64, float32, float64 and []string.
func (w *Writer) AddMetadata(key string, value interface{}) error {
	var typ MetadataValueType
	switch v := value.(type) {
	case string:
		typ = MetadataString
	case bool:
		typ = MetadataBool
	case uint32:
		typ = MetadataUint32
	case int32:
		typ = MetadataInt32
	case uint64:
		typ = MetadataUint64
	case int64:
		typ = MetadataInt64
	case float32:
		typ = MetadataFloat32
	case float64:
		typ = MetadataFloat64
	case []string:
		typ = MetadataArray
		arr := make([]interface{}, len(v))
		for i, s := range v {
			arr[i] = s
		}
		value = arr
	default:
		return fmt.Errorf("metadata %s: unsupported value type %T", key, value)
	}
	w.metadata = append(w.metadata, Metadata{Key: key, Type: typ, Value: value})
	return nil
}

// AddTensorF32 records a float32 tensor with the given outermost-first shape.
func (w *Writer) AddTensorF32(name string, shape []int, values []float32) error {
	if err := w.checkTensor(name, shape, len(values)); err != nil {
		return err
	}
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		byteOrder.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	w.tensors = append(w.tensors, pendingTensor{name: name, dtype: DTypeF32, shape: append([]int(nil), shape...), data: buf})
	return nil
}

// AddTensorF16 records a tensor stored at half precision.
func (w *Writer) AddTensorF16(name string, shape []int, values []float32) error {
	if err := w.checkTensor(name, shape, len(values)); err != nil {
		return err
	}
	buf := make([]byte, len(values)*2)
	for i, v := range values {
		byteOrder.PutUint16(buf[i*2:], float32ToFloat16(v))
	}
	w.tensors = append(w.tensors, pendingTensor{name: name, dtype: DTypeF16, shape: append([]int(nil), shape...), data: buf})
	return nil
}

// AddTensorI32 records an int32 tensor.
func (w *Writer) AddTensorI32(name string, shape []int, values []int32) error {
	if err := w.checkTensor(name, shape, len(values)); err != nil {
		return err
	}
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		byteOrder.PutUint32(buf[i*4:], uint32(v))
	}
	w.tensors = append(w.tensors, pendingTensor{name: name, dtype: DTypeI32, shape: append([]int(nil), shape...), data: buf})
	return nil
}

func (w *Writer) checkTensor(name string, shape []int, n int) error {
	if w.names[name] {
		return fmt.Errorf("duplicate tensor name: %s", name)
	}
	total := 1
	for _, d := range shape {
		if d < 0 {
			return fmt.Errorf("tensor %s: negative dimension in %v", name, shape)
		}
		total *= d
	}
	if total != n {
		return fmt.Errorf("tensor %s: shape %v holds %d elements, got %d", name, shape, total, n)
	}
	w.names[name] = true
	return nil
}

// Bytes serializes the file image.
func (w *Writer) Bytes() ([]byte, error) {
	buf := make([]byte, 0, 1024)
	buf = byteOrder.AppendUint32(buf, GGUFMagic)
	buf = byteOrder.AppendUint32(buf, GGUFVersion)
	buf = byteOrder.AppendUint64(buf, uint64(len(w.tensors)))
	buf = byteOrder.AppendUint64(buf, uint64(len(w.metadata)))

	for _, md := range w.metadata {
		buf = appendString(buf, md.Key)
		buf = byteOrder.AppendUint32(buf, uint32(md.Type))
		var err error
		buf, err = appendValue(buf, md.Type, md.Value)
		if err != nil {
			return nil, fmt.Errorf("metadata %s: %w", md.Key, err)
		}
	}

	offsets := make([]int, len(w.tensors))
	dataSize := 0
	for i, t := range w.tensors {
		dataSize = align(dataSize, Alignment)
		offsets[i] = dataSize
		dataSize += len(t.data)
	}

	for i, t := range w.tensors {
		buf = appendString(buf, t.name)
		buf = byteOrder.AppendUint32(buf, uint32(len(t.shape)))
		for _, d := range t.shape {
			buf = byteOrder.AppendUint64(buf, uint64(d))
		}
		buf = byteOrder.AppendUint32(buf, uint32(t.dtype))
		buf = byteOrder.AppendUint64(buf, uint64(offsets[i]))
	}

	dataOff := align(len(buf), Alignment)
	out := make([]byte, dataOff+dataSize)
	copy(out, buf)
	for i, t := range w.tensors {
		copy(out[dataOff+offsets[i]:], t.data)
	}
	return out, nil
}

// WriteFile writes the file image to path through a writable memory map.
func (w *Writer) WriteFile(path string) error {
	image, err := w.Bytes()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(int64(len(image))); err != nil {
		return fmt.Errorf("truncate file: %w", err)
	}

	m, err := mmapgo.Map(f, mmapgo.RDWR, 0)
	if err != nil {
		return fmt.Errorf("mmap file: %w", err)
	}
	copy(m, image)
	if err := m.Flush(); err != nil {
		m.Unmap()
		return fmt.Errorf("flush mmap: %w", err)
	}
	if err := m.Unmap(); err != nil {
		return fmt.Errorf("unmap file: %w", err)
	}
	return f.Close()
}

func appendString(buf []byte, s string) []byte {
	buf = byteOrder.AppendUint64(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendValue(buf []byte, typ MetadataValueType, value interface{}) ([]byte, error) {
	switch typ {
	case MetadataString:
		return appendString(buf, value.(string)), nil
	case MetadataBool:
		if value.(bool) {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case MetadataUint32:
		return byteOrder.AppendUint32(buf, value.(uint32)), nil
	case MetadataInt32:
		return byteOrder.AppendUint32(buf, uint32(value.(int32))), nil
	case MetadataUint64:
		return byteOrder.AppendUint64(buf, value.(uint64)), nil
	case MetadataInt64:
		return byteOrder.AppendUint64(buf, uint64(value.(int64))), nil
	case MetadataFloat32:
		return byteOrder.AppendUint32(buf, math.Float32bits(value.(float32))), nil
	case MetadataFloat64:
		return byteOrder.AppendUint64(buf, math.Float64bits(value.(float64))), nil
	case MetadataArray:
		arr := value.([]interface{})
		buf = byteOrder.AppendUint32(buf, uint32(MetadataString))
		buf = byteOrder.AppendUint64(buf, uint64(len(arr)))
		for _, v := range arr {
			buf = appendString(buf, v.(string))
		}
		return buf, nil
	}
	return nil, fmt.Errorf("unsupported metadata type %d", typ)
}
