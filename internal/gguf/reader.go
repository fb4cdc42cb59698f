package gguf

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/mmap"
)

// Reader provides read access to a checkpoint file via memory mapping
type Reader struct {
	path     string
	mmap     *mmap.ReaderAt
	data     []byte
	header   Header
	metadata map[string]Metadata
	tensors  map[string]*TensorDesc
	order    []string
	dataOff  int64 // offset where tensor data begins
}

// TensorDesc describes a tensor with its location in the mapped file
type TensorDesc struct {
	Name   string
	DType  DType
	Shape  []int
	Offset int64 // relative to the data section
	Size   int64 // size in bytes
}

// NumElements returns the product of the tensor dimensions.
func (d *TensorDesc) NumElements() int {
	n := 1
	for _, dim := range d.Shape {
		n *= dim
	}
	return n
}

// Open opens a checkpoint file and memory-maps it
func Open(path string) (*Reader, error) {
	mmapReader, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	data := make([]byte, mmapReader.Len())
	if _, err := mmapReader.ReadAt(data, 0); err != nil {
		mmapReader.Close()
		return nil, fmt.Errorf("read mmap: %w", err)
	}

	r := &Reader{
		path:     path,
		mmap:     mmapReader,
		data:     data,
		metadata: make(map[string]Metadata),
		tensors:  make(map[string]*TensorDesc),
	}

	if err := r.parse(); err != nil {
		r.Close()
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return r, nil
}

// OpenBytes parses a checkpoint image that is already in memory.
func OpenBytes(data []byte) (*Reader, error) {
	r := &Reader{
		path:     "<memory>",
		data:     data,
		metadata: make(map[string]Metadata),
		tensors:  make(map[string]*TensorDesc),
	}
	if err := r.parse(); err != nil {
		return nil, err
	}
	return r, nil
}

// Close unmaps the file
func (r *Reader) Close() error {
	if r.mmap == nil {
		return nil
	}
	err := r.mmap.Close()
	r.mmap = nil
	return err
}

// Path returns the path the reader was opened from.
func (r *Reader) Path() string {
	return r.path
}

// need reports an error if n bytes are not available at offset.
func (r *Reader) need(offset, n int) error {
	if offset < 0 || n < 0 || offset+n > len(r.data) {
		return fmt.Errorf("truncated file: need %d bytes at offset %d, have %d", n, offset, len(r.data))
	}
	return nil
}

// parse reads the header, metadata, and tensor info
func (r *Reader) parse() error {
	offset := 0

	if len(r.data) < 24 {
		return fmt.Errorf("file too small for header")
	}

	r.header.Magic = byteOrder.Uint32(r.data[offset:])
	offset += 4
	if r.header.Magic != GGUFMagic {
		return fmt.Errorf("invalid magic: 0x%08x", r.header.Magic)
	}

	r.header.Version = byteOrder.Uint32(r.data[offset:])
	offset += 4
	if r.header.Version != GGUFVersion {
		return fmt.Errorf("unsupported version: %d", r.header.Version)
	}

	r.header.TensorCount = byteOrder.Uint64(r.data[offset:])
	offset += 8

	r.header.MetadataKVSize = byteOrder.Uint64(r.data[offset:])
	offset += 8

	for i := uint64(0); i < r.header.MetadataKVSize; i++ {
		md, n, err := r.readMetadata(offset)
		if err != nil {
			return fmt.Errorf("read metadata %d: %w", i, err)
		}
		r.metadata[md.Key] = md
		offset += n
	}

	for i := uint64(0); i < r.header.TensorCount; i++ {
		ti, n, err := r.readTensorInfo(offset)
		if err != nil {
			return fmt.Errorf("read tensor info %d: %w", i, err)
		}
		offset += n

		elemSize := ti.DType.ElementSize()
		if elemSize == 0 {
			return fmt.Errorf("tensor %s: unsupported dtype %s", ti.Name, ti.DType)
		}

		shape := make([]int, len(ti.Dims))
		totalElems := int64(1)
		for j, dim := range ti.Dims {
			shape[j] = int(dim)
			totalElems *= int64(dim)
		}

		if _, dup := r.tensors[ti.Name]; dup {
			return fmt.Errorf("duplicate tensor name: %s", ti.Name)
		}
		r.tensors[ti.Name] = &TensorDesc{
			Name:   ti.Name,
			DType:  ti.DType,
			Shape:  shape,
			Offset: int64(ti.Offset),
			Size:   totalElems * int64(elemSize),
		}
		r.order = append(r.order, ti.Name)
	}

	r.dataOff = int64(align(offset, Alignment))

	for _, desc := range r.tensors {
		end := r.dataOff + desc.Offset + desc.Size
		if desc.Offset < 0 || end > int64(len(r.data)) {
			return fmt.Errorf("tensor data out of bounds: %s", desc.Name)
		}
	}

	return nil
}

// readString reads a length-prefixed string
func (r *Reader) readString(offset int) (string, int, error) {
	if err := r.need(offset, 8); err != nil {
		return "", 0, err
	}
	strlen := int(byteOrder.Uint64(r.data[offset:]))
	offset += 8
	if err := r.need(offset, strlen); err != nil {
		return "", 0, err
	}
	return string(r.data[offset : offset+strlen]), offset + strlen, nil
}

// readMetadata reads a single metadata key-value pair
func (r *Reader) readMetadata(offset int) (Metadata, int, error) {
	start := offset
	md := Metadata{}

	var err error
	md.Key, offset, err = r.readString(offset)
	if err != nil {
		return md, 0, err
	}

	if err := r.need(offset, 4); err != nil {
		return md, 0, err
	}
	md.Type = MetadataValueType(byteOrder.Uint32(r.data[offset:]))
	offset += 4

	md.Value, offset, err = r.readMetadataValue(offset, md.Type)
	if err != nil {
		return md, 0, fmt.Errorf("key %s: %w", md.Key, err)
	}

	return md, offset - start, nil
}

// readMetadataValue reads a metadata value
func (r *Reader) readMetadataValue(offset int, typ MetadataValueType) (interface{}, int, error) {
	size := map[MetadataValueType]int{
		MetadataUint8: 1, MetadataInt8: 1, MetadataBool: 1,
		MetadataUint16: 2, MetadataInt16: 2,
		MetadataUint32: 4, MetadataInt32: 4, MetadataFloat32: 4,
		MetadataUint64: 8, MetadataInt64: 8, MetadataFloat64: 8,
	}
	if n, ok := size[typ]; ok {
		if err := r.need(offset, n); err != nil {
			return nil, offset, err
		}
	}

	switch typ {
	case MetadataUint8:
		return r.data[offset], offset + 1, nil
	case MetadataInt8:
		return int8(r.data[offset]), offset + 1, nil
	case MetadataUint16:
		return byteOrder.Uint16(r.data[offset:]), offset + 2, nil
	case MetadataInt16:
		return int16(byteOrder.Uint16(r.data[offset:])), offset + 2, nil
	case MetadataUint32:
		return byteOrder.Uint32(r.data[offset:]), offset + 4, nil
	case MetadataInt32:
		return int32(byteOrder.Uint32(r.data[offset:])), offset + 4, nil
	case MetadataFloat32:
		return math.Float32frombits(byteOrder.Uint32(r.data[offset:])), offset + 4, nil
	case MetadataUint64:
		return byteOrder.Uint64(r.data[offset:]), offset + 8, nil
	case MetadataInt64:
		return int64(byteOrder.Uint64(r.data[offset:])), offset + 8, nil
	case MetadataFloat64:
		return math.Float64frombits(byteOrder.Uint64(r.data[offset:])), offset + 8, nil
	case MetadataBool:
		return r.data[offset] != 0, offset + 1, nil
	case MetadataString:
		return r.readString(offset)
	case MetadataArray:
		if err := r.need(offset, 12); err != nil {
			return nil, offset, err
		}
		arrType := MetadataValueType(byteOrder.Uint32(r.data[offset:]))
		offset += 4
		arrLen := byteOrder.Uint64(r.data[offset:])
		offset += 8
		if arrLen > uint64(len(r.data)) {
			return nil, offset, fmt.Errorf("array length %d exceeds file size", arrLen)
		}
		arr := make([]interface{}, arrLen)
		for i := uint64(0); i < arrLen; i++ {
			var err error
			arr[i], offset, err = r.readMetadataValue(offset, arrType)
			if err != nil {
				return nil, offset, err
			}
		}
		return arr, offset, nil
	default:
		return nil, offset, fmt.Errorf("unknown metadata type: %d", typ)
	}
}

// readTensorInfo reads tensor information
func (r *Reader) readTensorInfo(offset int) (TensorInfo, int, error) {
	start := offset
	ti := TensorInfo{}

	var err error
	ti.Name, offset, err = r.readString(offset)
	if err != nil {
		return ti, 0, err
	}

	if err := r.need(offset, 4); err != nil {
		return ti, 0, err
	}
	ti.NDim = byteOrder.Uint32(r.data[offset:])
	offset += 4

	if err := r.need(offset, int(ti.NDim)*8+12); err != nil {
		return ti, 0, err
	}
	ti.Dims = make([]uint64, ti.NDim)
	for i := uint32(0); i < ti.NDim; i++ {
		ti.Dims[i] = byteOrder.Uint64(r.data[offset:])
		offset += 8
	}

	ti.DType = DType(byteOrder.Uint32(r.data[offset:]))
	offset += 4

	ti.Offset = byteOrder.Uint64(r.data[offset:])
	offset += 8

	return ti, offset - start, nil
}

// GetMetadata returns metadata value by key
func (r *Reader) GetMetadata(key string) (interface{}, bool) {
	md, ok := r.metadata[key]
	if !ok {
		return nil, false
	}
	return md.Value, true
}

// GetTensor returns tensor descriptor by name
func (r *Reader) GetTensor(name string) (*TensorDesc, bool) {
	desc, ok := r.tensors[name]
	return desc, ok
}

// ListTensors returns all tensor names in file order
func (r *Reader) ListTensors() []string {
	return append([]string(nil), r.order...)
}

// ListMetadata returns all metadata keys, sorted
func (r *Reader) ListMetadata() []string {
	keys := make([]string, 0, len(r.metadata))
	for k := range r.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetTensorData returns a view of the tensor data as a byte slice
func (r *Reader) GetTensorData(name string) ([]byte, error) {
	desc, ok := r.tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor not found: %s", name)
	}

	offset := r.dataOff + desc.Offset
	return r.data[offset : offset+desc.Size], nil
}

// View returns a typed view of the named tensor.
func (r *Reader) View(name string) (*TensorView, error) {
	desc, ok := r.tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor not found: %s", name)
	}
	data, err := r.GetTensorData(name)
	if err != nil {
		return nil, err
	}
	return NewTensorView(desc, data), nil
}

// Header returns the file header
func (r *Reader) Header() Header {
	return r.header
}
