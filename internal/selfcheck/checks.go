package selfcheck

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/lhpqaq/ggmlquant/internal/ggml"
	"github.com/lhpqaq/ggmlquant/internal/quantize"
)

// patternExamples is the fixed table of mixed-precision rule examples the
// self-test validates and displays.
var patternExamples = []struct {
	Pattern     string
	Type        string
	Description string
}{
	{`encoder\..*\.weight`, "q8_0", "Encoder layers to q8_0"},
	{`decoder\..*\.weight`, "q4_0", "Decoder layers to q4_0"},
	{`.*attn.*`, "q5_0", "Attention layers to q5_0"},
	{`.*mlp.*`, "q4_k", "MLP layers to q4_k"},
}

// usageExamples is the fixed list of example invocations printed by the
// self-test.
var usageExamples = []struct {
	Name    string
	Command string
}{
	{
		"Example 1: encoder q8_0, decoder q4_0",
		`ggmlquant quantize --tensor-type 'encoder\..*\.weight=q8_0' --tensor-type 'decoder\..*\.weight=q4_0' input.bin output.bin q4_k`,
	},
	{
		"Example 2: attention layers at higher precision",
		`ggmlquant quantize --tensor-type '.*attn.*=q8_0' input.bin output.bin q4_0`,
	},
	{
		"Example 3: layer-specific quantization",
		`ggmlquant quantize --tensor-type 'encoder\.blocks\.0\..*=q8_0' --tensor-type 'encoder\.blocks\.[1-3]\..*=q5_0' input.bin output.bin q4_0`,
	},
}

// Checks returns the full self-test suite. bin is the quantizer executable
// probed by the CLI help check; helpArgs are the arguments that make it
// print usage.
func Checks(bin string, helpArgs ...string) []Check {
	if len(helpArgs) == 0 {
		helpArgs = []string{"quantize", "--help"}
	}
	return []Check{
		{Name: "CLI argument parsing", Run: func(ctx context.Context, out io.Writer) error {
			return checkCLIHelp(ctx, out, bin, helpArgs)
		}},
		{Name: "Pattern parsing", Run: checkPatterns},
		{Name: "Quantization type support", Run: checkTypes},
		{Name: "Usage examples", Run: checkExamples},
	}
}

// checkCLIHelp runs the quantizer with a help flag and asserts the usage
// text documents mixed-precision rules on its error stream.
func checkCLIHelp(ctx context.Context, out io.Writer, bin string, helpArgs []string) error {
	if _, err := os.Stat(bin); err != nil {
		return fmt.Errorf("quantize binary not found at %q", bin)
	}

	cmd := exec.CommandContext(ctx, bin, helpArgs...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = io.Discard
	_ = cmd.Run() // help may exit non-zero; only the text matters

	help := stderr.String()
	for _, want := range []string{"--tensor-type", "PATTERN=TYPE"} {
		if !strings.Contains(help, want) {
			return fmt.Errorf("help output missing %q", want)
		}
		fmt.Fprintf(out, "  ✓ help output includes %q\n", want)
	}
	return nil
}

// checkPatterns validates the example rule table against the real parser.
func checkPatterns(_ context.Context, out io.Writer) error {
	fmt.Fprintln(out, "Pattern specifications:")
	for _, p := range patternExamples {
		if _, err := quantize.ParseRule(p.Pattern + "=" + p.Type); err != nil {
			return fmt.Errorf("%s: %w", p.Description, err)
		}
		fmt.Fprintf(out, "  ✓ %s: '%s'=%s\n", p.Description, p.Pattern, p.Type)
	}
	return nil
}

// checkTypes validates every advertised quantization type name.
func checkTypes(_ context.Context, out io.Writer) error {
	fmt.Fprintln(out, "Supported quantization types:")
	for _, name := range ggml.QuantTargets() {
		if _, err := ggml.ParseTensorType(name); err != nil {
			return err
		}
		fmt.Fprintf(out, "  ✓ %s\n", name)
	}
	return nil
}

func checkExamples(_ context.Context, out io.Writer) error {
	for _, ex := range usageExamples {
		fmt.Fprintf(out, "%s:\n  %s\n\n", ex.Name, ex.Command)
	}
	return nil
}
