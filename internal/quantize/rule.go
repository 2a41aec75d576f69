package quantize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lhpqaq/ggmlquant/internal/ggml"
)

// Rule maps tensors whose name matches Pattern to a quantization type.
// Patterns must match the full tensor name, like std::regex_match in the
// ggml tools this replaces.
type Rule struct {
	Pattern string
	Type    ggml.TensorType

	re *regexp.Regexp
}

// ParseRule parses a PATTERN=TYPE specification such as
// "encoder\..*\.weight=q8_0". The last '=' separates pattern from type so
// patterns may themselves contain '='.
func ParseRule(spec string) (Rule, error) {
	eq := strings.LastIndex(spec, "=")
	if eq < 0 {
		return Rule{}, fmt.Errorf("invalid tensor type spec %q, expected PATTERN=TYPE", spec)
	}
	pattern, typeName := spec[:eq], spec[eq+1:]
	if pattern == "" {
		return Rule{}, fmt.Errorf("invalid tensor type spec %q: empty pattern", spec)
	}

	t, err := ggml.ParseTensorType(typeName)
	if err != nil {
		return Rule{}, err
	}
	re, err := compileAnchored(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return Rule{Pattern: pattern, Type: t, re: re}, nil
}

// Match reports whether the full tensor name matches the rule pattern.
func (r Rule) Match(name string) bool {
	return r.re != nil && r.re.MatchString(name)
}

func (r Rule) String() string {
	return r.Pattern + "=" + r.Type.String()
}

// compileAnchored compiles pattern as a full-string match.
func compileAnchored(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`\A(?:` + pattern + `)\z`)
}
