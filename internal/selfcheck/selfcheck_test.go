package selfcheck

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestRunnerTalliesResults(t *testing.T) {
	checks := []Check{
		{Name: "passes", Run: func(ctx context.Context, out io.Writer) error { return nil }},
		{Name: "fails", Run: func(ctx context.Context, out io.Writer) error { return errors.New("boom") }},
		{Name: "panics", Run: func(ctx context.Context, out io.Writer) error { panic("unexpected") }},
		{Name: "passes too", Run: func(ctx context.Context, out io.Writer) error { return nil }},
	}

	var buf bytes.Buffer
	runner := &Runner{Out: &buf}
	res := runner.Run(context.Background(), checks)

	if res.Passed != 2 || res.Failed != 2 {
		t.Fatalf("result = %+v, want 2 passed 2 failed", res)
	}
	if res.Passed+res.Failed != len(checks) {
		t.Fatalf("tally %d does not cover all %d checks", res.Passed+res.Failed, len(checks))
	}
	if res.ExitCode() != 1 {
		t.Fatalf("exit code = %d, want 1", res.ExitCode())
	}

	out := buf.String()
	if !strings.Contains(out, "Test results: 2 passed, 2 failed") {
		t.Errorf("missing summary line in output:\n%s", out)
	}
	if !strings.Contains(out, "✗ Some checks failed") {
		t.Errorf("missing failure banner in output:\n%s", out)
	}
	if !strings.Contains(out, "panic: unexpected") {
		t.Errorf("panic not reported as failure:\n%s", out)
	}
}

func TestRunnerAllPassed(t *testing.T) {
	checks := []Check{
		{Name: "a", Run: func(ctx context.Context, out io.Writer) error { return nil }},
		{Name: "b", Run: func(ctx context.Context, out io.Writer) error { return nil }},
	}

	var buf bytes.Buffer
	runner := &Runner{Out: &buf}
	res := runner.Run(context.Background(), checks)

	if res.ExitCode() != 0 {
		t.Fatalf("exit code = %d, want 0", res.ExitCode())
	}
	if !strings.Contains(buf.String(), "✓ All checks passed") {
		t.Errorf("missing success banner:\n%s", buf.String())
	}
}

func TestChecksMissingBinaryFailsHelpCheckOnly(t *testing.T) {
	checks := Checks("/nonexistent/ggmlquant")
	if len(checks) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(checks))
	}

	var buf bytes.Buffer
	runner := &Runner{Out: &buf}
	res := runner.Run(context.Background(), checks)

	// the help probe fails; the pattern, type and example checks run
	// against in-process code and pass
	if res.Failed != 1 {
		t.Fatalf("failed = %d, want 1\n%s", res.Failed, buf.String())
	}
	if res.Passed != 3 {
		t.Fatalf("passed = %d, want 3\n%s", res.Passed, buf.String())
	}
	if !strings.Contains(buf.String(), "quantize binary not found") {
		t.Errorf("missing binary error not surfaced:\n%s", buf.String())
	}
}

func TestPatternExamplesMatchIntendedTensors(t *testing.T) {
	var buf bytes.Buffer
	if err := checkPatterns(context.Background(), &buf); err != nil {
		t.Fatal(err)
	}
	for _, p := range patternExamples {
		if !strings.Contains(buf.String(), p.Type) {
			t.Errorf("output missing %s example:\n%s", p.Type, buf.String())
		}
	}
}

func TestCheckTypesListsAllTargets(t *testing.T) {
	var buf bytes.Buffer
	if err := checkTypes(context.Background(), &buf); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"q4_0", "q8_0", "q2_k", "q6_k", "f16"} {
		if !strings.Contains(buf.String(), "✓ "+want) {
			t.Errorf("type %s not listed:\n%s", want, buf.String())
		}
	}
}
