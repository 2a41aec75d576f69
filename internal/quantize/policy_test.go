package quantize

import (
	"testing"

	"github.com/lhpqaq/ggmlquant/internal/ggml"
)

func mustRules(t *testing.T, specs ...string) []Rule {
	t.Helper()
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		r, err := ParseRule(s)
		if err != nil {
			t.Fatal(err)
		}
		rules = append(rules, r)
	}
	return rules
}

func TestPolicyResolve(t *testing.T) {
	policy, err := NewPolicy(PolicyConfig{
		FileType: ggml.FileTypeMostlyQ5_0,
		Rules: mustRules(t,
			`encoder\..*\.weight=q8_0`,
			`decoder\..*\.weight=q4_0`,
			`.*attn.*=q6_k`,
		),
		Skip: []string{
			"encoder.conv1.bias",
			"encoder.conv2.bias",
			"encoder.positional_embedding",
			"decoder.positional_embedding",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name     string
		nDims    int
		quantize bool
		want     ggml.TensorType
	}{
		// first matching rule wins, even when a later rule also matches
		{"encoder.blocks.0.attn.query.weight", 2, true, ggml.TypeQ8_0},
		{"decoder.blocks.0.cross_attn.value.weight", 2, true, ggml.TypeQ4_0},
		// rule match without the encoder/decoder weight patterns
		{"blocks.0.attn.out.weight", 2, true, ggml.TypeQ6_K},
		// default type when no rule matches
		{"decoder.token_embedding", 2, true, ggml.TypeQ5_0},
		// skip patterns beat everything
		{"encoder.positional_embedding", 2, false, 0},
		{"encoder.conv1.bias", 2, false, 0},
		// only 2D tensors are quantized
		{"encoder.blocks.0.mlp.0.weight", 1, false, 0},
		{"encoder.blocks.0.mlp.0.weight", 3, false, 0},
	}
	for _, tc := range cases {
		gotQ, gotT := policy.Resolve(tc.name, tc.nDims)
		if gotQ != tc.quantize {
			t.Errorf("Resolve(%q, %d) quantize = %v, want %v", tc.name, tc.nDims, gotQ, tc.quantize)
			continue
		}
		if gotQ && gotT != tc.want {
			t.Errorf("Resolve(%q, %d) type = %v, want %v", tc.name, tc.nDims, gotT, tc.want)
		}
	}

	if !policy.Mixed() {
		t.Error("policy with rules should report mixed output")
	}
	if policy.DefaultType() != ggml.TypeQ5_0 {
		t.Errorf("DefaultType = %v", policy.DefaultType())
	}
}

func TestPolicyQuantPatterns(t *testing.T) {
	policy, err := NewPolicy(PolicyConfig{
		FileType: ggml.FileTypeMostlyQ4_0,
		Quant:    []string{`encoder\..*`},
	})
	if err != nil {
		t.Fatal(err)
	}
	if q, _ := policy.Resolve("encoder.blocks.0.mlp.0.weight", 2); !q {
		t.Error("encoder tensor should be quantized")
	}
	if q, _ := policy.Resolve("decoder.blocks.0.mlp.0.weight", 2); q {
		t.Error("decoder tensor should not match the quant pattern")
	}
	if policy.Mixed() {
		t.Error("policy without rules should not report mixed output")
	}
}

func TestPolicyErrors(t *testing.T) {
	if _, err := NewPolicy(PolicyConfig{FileType: ggml.FileTypeMostlyF16}); err == nil {
		t.Error("expected error for non-quantized default type")
	}
	if _, err := NewPolicy(PolicyConfig{FileType: ggml.FileTypeMostlyQ4_0, Skip: []string{"["}}); err == nil {
		t.Error("expected error for invalid skip pattern")
	}
	if _, err := NewPolicy(PolicyConfig{FileType: ggml.FileTypeMostlyQ4_0, Quant: []string{"("}}); err == nil {
		t.Error("expected error for invalid quant pattern")
	}
}
