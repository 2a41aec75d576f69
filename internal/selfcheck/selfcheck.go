// Package selfcheck implements the installation self-test: a fixed list of
// checks run in order, each reporting pass or fail, with a summary and an
// exit code at the end. Failures never abort the run.
package selfcheck

import (
	"context"
	"fmt"
	"io"

	"github.com/lhpqaq/ggmlquant/internal/logger"
)

// Check is a single named self-test step. Run returns nil on pass; panics
// are caught by the runner and counted as failures.
type Check struct {
	Name string
	Run  func(ctx context.Context, out io.Writer) error
}

// Result tallies a completed run. Passed+Failed always equals the number
// of checks executed.
type Result struct {
	Passed int
	Failed int
}

// ExitCode is 0 when every check passed, 1 otherwise.
func (r Result) ExitCode() int {
	if r.Failed == 0 {
		return 0
	}
	return 1
}

// Runner executes checks sequentially, writing progress to Out.
type Runner struct {
	Out io.Writer
	Log logger.Logger
}

func (r *Runner) Run(ctx context.Context, checks []Check) Result {
	log := r.Log
	if log == nil {
		log = logger.Default()
	}

	var res Result
	for _, c := range checks {
		if err := r.runOne(ctx, c); err != nil {
			res.Failed++
			fmt.Fprintf(r.Out, "✗ %s failed: %v\n\n", c.Name, err)
			log.Error("check failed", "check", c.Name, "error", err)
		} else {
			res.Passed++
		}
	}

	fmt.Fprintf(r.Out, "Test results: %d passed, %d failed\n", res.Passed, res.Failed)
	if res.Failed == 0 {
		fmt.Fprintln(r.Out, "✓ All checks passed")
	} else {
		fmt.Fprintln(r.Out, "✗ Some checks failed")
	}
	return res
}

func (r *Runner) runOne(ctx context.Context, c Check) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	fmt.Fprintf(r.Out, "=== %s ===\n\n", c.Name)
	err = c.Run(ctx, r.Out)
	if err == nil {
		fmt.Fprintln(r.Out)
	}
	return err
}
