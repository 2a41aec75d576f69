package quantize

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/lhpqaq/ggmlquant/internal/ggml"
	"github.com/lhpqaq/ggmlquant/pkg/quant"
)

func writeF32Tensor(t *testing.T, w *ggml.Writer, name string, dims []int32, data []float32) {
	t.Helper()
	hdr := ggml.TensorHeader{
		NDims: int32(len(dims)),
		Type:  ggml.TypeF32,
		Dims:  [ggml.MaxTensorDims]int32{1, 1, 1, 1},
		Name:  name,
	}
	copy(hdr.Dims[:], dims)
	if err := ggml.WriteTensorHeader(w, hdr); err != nil {
		t.Fatal(err)
	}
	for _, v := range data {
		if err := w.WriteF32(v); err != nil {
			t.Fatal(err)
		}
	}
}

func writeF16Tensor(t *testing.T, w *ggml.Writer, name string, dims []int32, data []float32) {
	t.Helper()
	hdr := ggml.TensorHeader{
		NDims: int32(len(dims)),
		Type:  ggml.TypeF16,
		Dims:  [ggml.MaxTensorDims]int32{1, 1, 1, 1},
		Name:  name,
	}
	copy(hdr.Dims[:], dims)
	if err := ggml.WriteTensorHeader(w, hdr); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 2*len(data))
	for i, v := range data {
		h := ggml.FP32ToFP16(v)
		buf[2*i] = byte(h)
		buf[2*i+1] = byte(h >> 8)
	}
	if err := w.WriteBytes(buf); err != nil {
		t.Fatal(err)
	}
}

func randWeights(n int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(rng.NormFloat64() * 0.1)
	}
	return out
}

func TestProcessorMixedPrecision(t *testing.T) {
	attn := randWeights(64*4, 1)
	posEmb := randWeights(64*2, 2)
	conv := randWeights(64*2*3, 3)
	mlp := randWeights(64*3, 4)

	var in bytes.Buffer
	w := ggml.NewWriter(&in)
	writeF32Tensor(t, w, "encoder.blocks.0.attn.query.weight", []int32{64, 4}, attn)
	writeF32Tensor(t, w, "encoder.positional_embedding", []int32{64, 2}, posEmb)
	writeF16Tensor(t, w, "encoder.conv1.weight", []int32{64, 2, 3}, conv)
	writeF32Tensor(t, w, "decoder.blocks.0.mlp.0.weight", []int32{64, 3}, mlp)
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	policy, err := NewPolicy(PolicyConfig{
		FileType: ggml.FileTypeMostlyQ5_0,
		Rules:    mustRules(t, `.*attn.*=q8_0`),
		Skip:     []string{"encoder.positional_embedding"},
	})
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	proc := &Processor{Policy: policy}
	stats, err := proc.Run(context.Background(), ggml.NewReader(&in), ggml.NewWriter(&out))
	if err != nil {
		t.Fatal(err)
	}

	if stats.Tensors != 4 {
		t.Fatalf("Tensors = %d, want 4", stats.Tensors)
	}
	if stats.Quantized != 2 {
		t.Fatalf("Quantized = %d, want 2", stats.Quantized)
	}
	if stats.TypeCounts[ggml.TypeQ8_0] != 1 || stats.TypeCounts[ggml.TypeQ5_0] != 1 {
		t.Fatalf("TypeCounts = %v", stats.TypeCounts)
	}
	// SizeNew counts tensor payloads only, not the stream headers.
	wantNew := int64(4*ggml.TypeQ8_0.RowSize(64) + // attn, quantized by rule
		len(posEmb)*4 + // skipped, stays f32
		len(conv)*2 + // 3-dim, passes through as f16
		3*ggml.TypeQ5_0.RowSize(64)) // mlp, default type
	if stats.SizeNew != wantNew {
		t.Fatalf("SizeNew = %d, want %d", stats.SizeNew, wantNew)
	}
	if stats.SizeNew >= int64(out.Len()) {
		t.Fatalf("SizeNew = %d not below stream size %d", stats.SizeNew, out.Len())
	}

	r := ggml.NewReader(&out)
	wantTypes := map[string]ggml.TensorType{
		"encoder.blocks.0.attn.query.weight": ggml.TypeQ8_0,
		"encoder.positional_embedding":       ggml.TypeF32,
		"encoder.conv1.weight":               ggml.TypeF16,
		"decoder.blocks.0.mlp.0.weight":      ggml.TypeQ5_0,
	}
	seen := 0
	for {
		hdr, err := ggml.ReadTensorHeader(r)
		if err != nil {
			break
		}
		seen++
		want, ok := wantTypes[hdr.Name]
		if !ok {
			t.Fatalf("unexpected tensor %q", hdr.Name)
		}
		if hdr.Type != want {
			t.Fatalf("tensor %q type = %v, want %v", hdr.Name, hdr.Type, want)
		}
		payload, err := r.ReadBytes(hdr.PayloadSize())
		if err != nil {
			t.Fatal(err)
		}

		if hdr.Name == "encoder.blocks.0.attn.query.weight" {
			got, err := quant.Dequantize(ggml.TypeQ8_0, payload, len(attn))
			if err != nil {
				t.Fatal(err)
			}
			for i := range attn {
				if d := math.Abs(float64(got[i] - attn[i])); d > 0.01 {
					t.Fatalf("q8_0 weight %d off by %v", i, d)
				}
			}
		}
		if hdr.Name == "encoder.positional_embedding" {
			got, err := quant.Dequantize(ggml.TypeF32, payload, len(posEmb))
			if err != nil {
				t.Fatal(err)
			}
			for i := range posEmb {
				if got[i] != posEmb[i] {
					t.Fatalf("skipped tensor modified at weight %d", i)
				}
			}
		}
	}
	if seen != 4 {
		t.Fatalf("output has %d tensors, want 4", seen)
	}
}

func TestProcessorContextCancel(t *testing.T) {
	var in bytes.Buffer
	w := ggml.NewWriter(&in)
	writeF32Tensor(t, w, "a.weight", []int32{32, 2}, randWeights(64, 5))
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	policy, err := NewPolicy(PolicyConfig{FileType: ggml.FileTypeMostlyQ4_0})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proc := &Processor{Policy: policy}
	if _, err := proc.Run(ctx, ggml.NewReader(&in), ggml.NewWriter(&bytes.Buffer{})); err == nil {
		t.Fatal("expected context error")
	}
}

func TestProcessorRejectsQuantizedSource(t *testing.T) {
	// A tensor already stored as q4_0 cannot be requantized.
	payload, err := quant.QuantizeRows(ggml.TypeQ4_0, randWeights(64, 6), 2, 32)
	if err != nil {
		t.Fatal(err)
	}

	var in bytes.Buffer
	w := ggml.NewWriter(&in)
	hdr := ggml.TensorHeader{
		NDims: 2,
		Type:  ggml.TypeQ4_0,
		Dims:  [ggml.MaxTensorDims]int32{32, 2, 1, 1},
		Name:  "a.weight",
	}
	if err := ggml.WriteTensorHeader(w, hdr); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBytes(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	policy, err := NewPolicy(PolicyConfig{FileType: ggml.FileTypeMostlyQ5_0})
	if err != nil {
		t.Fatal(err)
	}
	proc := &Processor{Policy: policy}
	if _, err := proc.Run(context.Background(), ggml.NewReader(&in), ggml.NewWriter(&bytes.Buffer{})); err == nil {
		t.Fatal("expected error quantizing a quantized source")
	}
}

func TestProcessorTruncatedStream(t *testing.T) {
	var in bytes.Buffer
	w := ggml.NewWriter(&in)
	hdr := ggml.TensorHeader{
		NDims: 2,
		Type:  ggml.TypeF32,
		Dims:  [ggml.MaxTensorDims]int32{32, 2, 1, 1},
		Name:  "a.weight",
	}
	if err := ggml.WriteTensorHeader(w, hdr); err != nil {
		t.Fatal(err)
	}
	// payload missing: only half the bytes
	if err := w.WriteBytes(make([]byte, 32*2*4/2)); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	policy, err := NewPolicy(PolicyConfig{FileType: ggml.FileTypeMostlyQ4_0})
	if err != nil {
		t.Fatal(err)
	}
	proc := &Processor{Policy: policy}
	if _, err := proc.Run(context.Background(), ggml.NewReader(&in), ggml.NewWriter(&bytes.Buffer{})); err == nil {
		t.Fatal("expected error on truncated tensor data")
	}
}
