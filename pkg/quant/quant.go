// Package quant implements the ggml block quantization formats in pure Go:
// the legacy 32-weight block types (q4_0, q4_1, q5_0, q5_1, q8_0) and the
// 256-weight k-quant super-block types (q2_k .. q6_k).
package quant

import (
	"errors"
	"fmt"
	"math"

	"github.com/lhpqaq/ggmlquant/internal/ggml"
)

// QK is the block size of the legacy quantization formats.
const QK = 32

// QKK is the super-block size of the k-quant formats.
const QKK = 256

var ErrUnsupportedType = errors.New("quant: unsupported tensor type")

// QuantizeRows quantizes rows*rowLen float32 weights into the wire encoding
// of t. rowLen must be a multiple of the block size of t.
func QuantizeRows(t ggml.TensorType, src []float32, rows, rowLen int) ([]byte, error) {
	if len(src) != rows*rowLen {
		return nil, fmt.Errorf("quant: have %d weights, want %d (%d x %d)", len(src), rows*rowLen, rows, rowLen)
	}
	bs := t.BlockSize()
	if bs == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	if rowLen%bs != 0 {
		return nil, fmt.Errorf("quant: row length %d is not a multiple of %s block size %d", rowLen, t, bs)
	}

	out := make([]byte, t.RowSize(rowLen)*rows)
	var quantizeBlock func(dst []byte, x []float32)
	switch t {
	case ggml.TypeF32:
		for i, v := range src {
			putLeU32(out[4*i:], math.Float32bits(v))
		}
		return out, nil
	case ggml.TypeF16:
		for i, v := range src {
			putLeU16(out[2*i:], ggml.FP32ToFP16(v))
		}
		return out, nil
	case ggml.TypeQ4_0:
		quantizeBlock = quantizeBlockQ4_0
	case ggml.TypeQ4_1:
		quantizeBlock = quantizeBlockQ4_1
	case ggml.TypeQ5_0:
		quantizeBlock = quantizeBlockQ5_0
	case ggml.TypeQ5_1:
		quantizeBlock = quantizeBlockQ5_1
	case ggml.TypeQ8_0:
		quantizeBlock = quantizeBlockQ8_0
	case ggml.TypeQ2_K:
		quantizeBlock = quantizeBlockQ2K
	case ggml.TypeQ3_K:
		quantizeBlock = quantizeBlockQ3K
	case ggml.TypeQ4_K:
		quantizeBlock = quantizeBlockQ4K
	case ggml.TypeQ5_K:
		quantizeBlock = quantizeBlockQ5K
	case ggml.TypeQ6_K:
		quantizeBlock = quantizeBlockQ6K
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}

	ts := t.TypeSize()
	nblocks := len(src) / bs
	for b := 0; b < nblocks; b++ {
		quantizeBlock(out[b*ts:(b+1)*ts], src[b*bs:(b+1)*bs])
	}
	return out, nil
}

// Dequantize decodes n weights of type t back to float32.
func Dequantize(t ggml.TensorType, data []byte, n int) ([]float32, error) {
	bs := t.BlockSize()
	if bs == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	if n%bs != 0 {
		return nil, fmt.Errorf("quant: %s: n=%d is not a multiple of block size %d", t, n, bs)
	}
	if want := t.RowSize(n); len(data) != want {
		return nil, fmt.Errorf("quant: %s: data length %d, want %d for n=%d", t, len(data), want, n)
	}

	switch t {
	case ggml.TypeF32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(leU32(data[i*4:]))
		}
		return out, nil
	case ggml.TypeF16:
		out := make([]float32, n)
		for i := range out {
			out[i] = ggml.FP16ToFP32(leU16(data[i*2:]))
		}
		return out, nil
	}

	var dequantizeBlock func(dst []float32, src []byte)
	switch t {
	case ggml.TypeQ4_0:
		dequantizeBlock = dequantizeBlockQ4_0
	case ggml.TypeQ4_1:
		dequantizeBlock = dequantizeBlockQ4_1
	case ggml.TypeQ5_0:
		dequantizeBlock = dequantizeBlockQ5_0
	case ggml.TypeQ5_1:
		dequantizeBlock = dequantizeBlockQ5_1
	case ggml.TypeQ8_0:
		dequantizeBlock = dequantizeBlockQ8_0
	case ggml.TypeQ2_K:
		dequantizeBlock = dequantizeBlockQ2K
	case ggml.TypeQ3_K:
		dequantizeBlock = dequantizeBlockQ3K
	case ggml.TypeQ4_K:
		dequantizeBlock = dequantizeBlockQ4K
	case ggml.TypeQ5_K:
		dequantizeBlock = dequantizeBlockQ5K
	case ggml.TypeQ6_K:
		dequantizeBlock = dequantizeBlockQ6K
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}

	ts := t.TypeSize()
	out := make([]float32, n)
	for b := 0; b < n/bs; b++ {
		dequantizeBlock(out[b*bs:(b+1)*bs], data[b*ts:(b+1)*ts])
	}
	return out, nil
}

func leU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putLeU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// nearestInt rounds to the nearest integer. The encoder and decoder only
// need to agree on the stored levels, so half-away-from-zero is fine here.
func nearestInt(f float32) int {
	return int(math.Round(float64(f)))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
