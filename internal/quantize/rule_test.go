package quantize

import (
	"testing"

	"github.com/lhpqaq/ggmlquant/internal/ggml"
)

func TestParseRule(t *testing.T) {
	cases := []struct {
		spec     string
		wantType ggml.TensorType
		wantErr  bool
	}{
		{`encoder\..*\.weight=q8_0`, ggml.TypeQ8_0, false},
		{`decoder\..*\.weight=q4_0`, ggml.TypeQ4_0, false},
		{`.*attn.*=q5_0`, ggml.TypeQ5_0, false},
		{`.*mlp.*=q4_k`, ggml.TypeQ4_K, false},
		{`.*=f16`, ggml.TypeF16, false},
		// the last '=' splits pattern from type, so patterns may contain '='
		{`a=b=q4_0`, ggml.TypeQ4_0, false},
		{`noequals`, 0, true},
		{`=q4_0`, 0, true},
		{`foo=`, 0, true},
		{`foo=iq2_xxs`, 0, true},
		{`[invalid=q4_0`, 0, true},
	}
	for _, tc := range cases {
		r, err := ParseRule(tc.spec)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseRule(%q): expected error", tc.spec)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRule(%q): %v", tc.spec, err)
			continue
		}
		if r.Type != tc.wantType {
			t.Errorf("ParseRule(%q).Type = %v, want %v", tc.spec, r.Type, tc.wantType)
		}
	}
}

func TestRuleMatchIsAnchored(t *testing.T) {
	r, err := ParseRule(`attn=q4_0`)
	if err != nil {
		t.Fatal(err)
	}
	if r.Match("encoder.blocks.0.attn.query.weight") {
		t.Error("unanchored substring matched; patterns must match the whole name")
	}
	if !r.Match("attn") {
		t.Error("exact name did not match")
	}

	r, err = ParseRule(`.*attn.*=q4_0`)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Match("encoder.blocks.0.attn.query.weight") {
		t.Error("wildcard pattern did not match")
	}
	if r.Match("decoder.token_embedding.weight") {
		t.Error("wildcard pattern matched unrelated tensor")
	}
}
