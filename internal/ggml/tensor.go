package ggml

import (
	"errors"
	"fmt"
	"io"
)

// MaxTensorDims is the rank limit of the legacy tensor encoding.
const MaxTensorDims = 4

// TensorHeader is the per-tensor record preceding each payload in the
// tensor stream: rank, element type, dims and name.
type TensorHeader struct {
	NDims int32
	Type  TensorType
	Dims  [MaxTensorDims]int32
	Name  string
}

// Nelements returns the total element count.
func (h TensorHeader) Nelements() int {
	n := 1
	for i := int32(0); i < h.NDims; i++ {
		n *= int(h.Dims[i])
	}
	return n
}

// PayloadSize returns the byte size of the tensor payload, or 0 if the
// element type is unknown.
func (h TensorHeader) PayloadSize() int {
	rowSize := h.Type.RowSize(int(h.Dims[0]))
	if rowSize <= 0 {
		return 0
	}
	return rowSize * (h.Nelements() / int(h.Dims[0]))
}

// ReadTensorHeader decodes the next tensor header. io.EOF on the first
// field means the stream ended cleanly on a tensor boundary; callers
// should treat it as end of file rather than corruption.
func ReadTensorHeader(r *Reader) (TensorHeader, error) {
	var h TensorHeader

	nDims, err := r.ReadI32()
	if err != nil {
		return h, err // io.EOF here is a clean end of stream
	}
	nameLen, err := r.ReadI32()
	if err != nil {
		return h, fmt.Errorf("read tensor header: %w", noEOF(err))
	}
	ttype, err := r.ReadI32()
	if err != nil {
		return h, fmt.Errorf("read tensor header: %w", noEOF(err))
	}

	if nDims < 1 || nDims > MaxTensorDims {
		return h, fmt.Errorf("invalid tensor rank %d at offset %d", nDims, r.Offset())
	}
	h.NDims = nDims
	h.Type = TensorType(ttype)
	h.Dims = [MaxTensorDims]int32{1, 1, 1, 1}
	for i := int32(0); i < nDims; i++ {
		h.Dims[i], err = r.ReadI32()
		if err != nil {
			return h, fmt.Errorf("read tensor dims: %w", noEOF(err))
		}
	}
	if nameLen <= 0 || h.Nelements() <= 0 {
		return h, fmt.Errorf("invalid tensor header at offset %d", r.Offset())
	}
	name, err := r.ReadBytes(int(nameLen))
	if err != nil {
		return h, fmt.Errorf("read tensor name: %w", err)
	}
	h.Name = string(name)
	return h, nil
}

// noEOF turns a bare io.EOF into io.ErrUnexpectedEOF. EOF past the first
// header field means a truncated file, not a clean boundary.
func noEOF(err error) error {
	if errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// WriteTensorHeader encodes a tensor header in stream order.
func WriteTensorHeader(w *Writer, h TensorHeader) error {
	if err := w.WriteI32(h.NDims); err != nil {
		return err
	}
	if err := w.WriteI32(int32(len(h.Name))); err != nil {
		return err
	}
	if err := w.WriteI32(int32(h.Type)); err != nil {
		return err
	}
	for i := int32(0); i < h.NDims; i++ {
		if err := w.WriteI32(h.Dims[i]); err != nil {
			return err
		}
	}
	return w.WriteBytes([]byte(h.Name))
}
