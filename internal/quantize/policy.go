package quantize

import (
	"fmt"
	"regexp"

	"github.com/lhpqaq/ggmlquant/internal/ggml"
)

// Policy decides, per tensor, whether to quantize and to which type.
type Policy struct {
	defaultType ggml.TensorType
	rules       []Rule
	quant       []*regexp.Regexp
	skip        []*regexp.Regexp
}

// PolicyConfig configures NewPolicy. Quant defaults to every tensor; Skip
// and Rules default to none.
type PolicyConfig struct {
	// FileType supplies the default quantization type.
	FileType ggml.FileType
	// Rules override the default type for matching tensor names, first
	// match wins.
	Rules []Rule
	// Quant restricts quantization to tensors matching one of these
	// patterns. Empty means all tensors are candidates.
	Quant []string
	// Skip excludes matching tensors even when they match Quant.
	Skip []string
}

func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	def, err := cfg.FileType.TensorType()
	if err != nil {
		return nil, err
	}

	p := &Policy{defaultType: def, rules: cfg.Rules}

	quant := cfg.Quant
	if len(quant) == 0 {
		quant = []string{".*"}
	}
	for _, pat := range quant {
		re, err := compileAnchored(pat)
		if err != nil {
			return nil, fmt.Errorf("quant pattern %q: %w", pat, err)
		}
		p.quant = append(p.quant, re)
	}
	for _, pat := range cfg.Skip {
		re, err := compileAnchored(pat)
		if err != nil {
			return nil, fmt.Errorf("skip pattern %q: %w", pat, err)
		}
		p.skip = append(p.skip, re)
	}
	return p, nil
}

// DefaultType is the quantization type applied when no rule matches.
func (p *Policy) DefaultType() ggml.TensorType { return p.defaultType }

// Mixed reports whether per-tensor rules are in effect, i.e. the output may
// mix quantization types beyond the default.
func (p *Policy) Mixed() bool { return len(p.rules) > 0 }

// Resolve decides the fate of one tensor. Only 2D tensors are quantized;
// skip patterns beat quant patterns; the first matching rule overrides the
// default target type.
func (p *Policy) Resolve(name string, nDims int) (bool, ggml.TensorType) {
	quantize := false
	for _, re := range p.quant {
		if re.MatchString(name) {
			quantize = true
			break
		}
	}
	for _, re := range p.skip {
		if re.MatchString(name) {
			quantize = false
			break
		}
	}
	if nDims != 2 {
		quantize = false
	}
	if !quantize {
		return false, 0
	}

	for _, r := range p.rules {
		if r.Match(name) {
			return true, r.Type
		}
	}
	return true, p.defaultType
}
