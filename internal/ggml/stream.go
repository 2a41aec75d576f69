package ggml

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Reader decodes the little-endian scalar stream of a legacy ggml model
// file, tracking the current offset for error reporting.
type Reader struct {
	r   *bufio.Reader
	off int64
}

func NewReader(rd io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(rd, 1<<20)}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int64 { return r.off }

// ReadBytes reads exactly n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("invalid read length %d", n)
	}
	buf := make([]byte, n)
	if err := r.ReadInto(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadInto fills buf from the stream.
func (r *Reader) ReadInto(buf []byte) error {
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return err
	}
	r.off += int64(len(buf))
	return nil
}

// Skip discards n bytes without buffering them.
func (r *Reader) Skip(n int64) error {
	if n < 0 {
		return fmt.Errorf("invalid skip length %d", n)
	}
	m, err := r.r.Discard(int(n))
	r.off += int64(m)
	return err
}

func (r *Reader) ReadU32() (uint32, error) {
	var b [4]byte
	if err := r.ReadInto(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// Writer encodes the little-endian scalar stream of a legacy ggml model
// file. Flush must be called before the underlying writer is closed.
type Writer struct {
	w   *bufio.Writer
	off int64
}

func NewWriter(wr io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(wr, 1<<20)}
}

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() int64 { return w.off }

func (w *Writer) WriteBytes(b []byte) error {
	n, err := w.w.Write(b)
	w.off += int64(n)
	return err
}

func (w *Writer) WriteU32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return w.WriteBytes(b[:])
}

func (w *Writer) WriteI32(v int32) error {
	return w.WriteU32(uint32(v))
}

func (w *Writer) WriteF32(v float32) error {
	return w.WriteU32(math.Float32bits(v))
}

func (w *Writer) Flush() error {
	return w.w.Flush()
}
