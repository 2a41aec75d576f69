package quantize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/lhpqaq/ggmlquant/internal/ggml"
	"github.com/lhpqaq/ggmlquant/internal/logger"
	"github.com/lhpqaq/ggmlquant/pkg/quant"
)

// Stats summarizes one quantization run.
type Stats struct {
	Tensors    int
	Quantized  int
	SizeOrig   int64 // all tensors counted at f32 width
	SizeNew    int64
	TypeCounts map[ggml.TensorType]int
}

// Processor streams the tensor section of a ggml model file, rewriting
// tensors the policy selects into their quantized encoding and passing
// everything else through unchanged.
type Processor struct {
	Policy *Policy
	Log    logger.Logger
}

// Run consumes tensors from r until EOF. EOF on a tensor boundary ends the
// stream; EOF inside a tensor is an error.
func (p *Processor) Run(ctx context.Context, r *ggml.Reader, w *ggml.Writer) (Stats, error) {
	log := p.Log
	if log == nil {
		log = logger.Default()
	}

	stats := Stats{TypeCounts: make(map[ggml.TensorType]int)}
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		hdr, err := ggml.ReadTensorHeader(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}
		nelements := hdr.Nelements()

		quantize, target := p.Policy.Resolve(hdr.Name, int(hdr.NDims))

		var payload []byte
		outType := hdr.Type
		if quantize {
			data, err := readAsF32(r, hdr.Type, nelements)
			if err != nil {
				return stats, fmt.Errorf("tensor %s: %w", hdr.Name, err)
			}
			rows := nelements / int(hdr.Dims[0])
			payload, err = quant.QuantizeRows(target, data, rows, int(hdr.Dims[0]))
			if err != nil {
				return stats, fmt.Errorf("tensor %s: %w", hdr.Name, err)
			}
			outType = target
			stats.Quantized++
			stats.TypeCounts[target]++
			log.Info("quantized tensor",
				"tensor", hdr.Name,
				"dims", fmt.Sprintf("%dx%d", hdr.Dims[0], hdr.Dims[1]),
				"from", hdr.Type.String(),
				"to", target.String(),
				"size", len(payload))
		} else {
			size := hdr.PayloadSize()
			if size <= 0 {
				return stats, fmt.Errorf("tensor %s: unsupported type %s", hdr.Name, hdr.Type)
			}
			payload, err = r.ReadBytes(size)
			if err != nil {
				return stats, fmt.Errorf("tensor %s: read data: %w", hdr.Name, err)
			}
			log.Debug("copied tensor", "tensor", hdr.Name, "type", hdr.Type.String(), "size", size)
		}

		hdr.Type = outType
		if err := ggml.WriteTensorHeader(w, hdr); err != nil {
			return stats, fmt.Errorf("tensor %s: %w", hdr.Name, err)
		}
		if err := w.WriteBytes(payload); err != nil {
			return stats, fmt.Errorf("tensor %s: %w", hdr.Name, err)
		}
		stats.Tensors++
		stats.SizeOrig += int64(nelements) * 4
		stats.SizeNew += int64(len(payload))
	}
	if err := w.Flush(); err != nil {
		return stats, err
	}

	log.Info("quantization finished",
		"tensors", stats.Tensors,
		"quantized", stats.Quantized,
		"size_orig", stats.SizeOrig,
		"size_new", stats.SizeNew)
	for t, n := range stats.TypeCounts {
		log.Info("type summary", "type", t.String(), "tensors", n)
	}
	return stats, nil
}

// readAsF32 reads a tensor payload of the given source type, returning it
// widened to float32. Only f32 and f16 sources can be requantized.
func readAsF32(r *ggml.Reader, ttype ggml.TensorType, nelements int) ([]float32, error) {
	switch ttype {
	case ggml.TypeF32:
		buf, err := r.ReadBytes(nelements * 4)
		if err != nil {
			return nil, err
		}
		out := make([]float32, nelements)
		for i := range out {
			bits := uint32(buf[4*i]) | uint32(buf[4*i+1])<<8 | uint32(buf[4*i+2])<<16 | uint32(buf[4*i+3])<<24
			out[i] = math.Float32frombits(bits)
		}
		return out, nil
	case ggml.TypeF16:
		buf, err := r.ReadBytes(nelements * 2)
		if err != nil {
			return nil, err
		}
		out := make([]float32, nelements)
		for i := range out {
			out[i] = ggml.FP16ToFP32(uint16(buf[2*i]) | uint16(buf[2*i+1])<<8)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot quantize source type %s", ttype)
	}
}
