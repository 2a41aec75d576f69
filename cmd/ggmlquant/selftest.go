package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/lhpqaq/ggmlquant/internal/logger"
	"github.com/lhpqaq/ggmlquant/internal/selfcheck"
)

func selftestCmd() *cli.Command {
	var bin string

	return &cli.Command{
		Name:  "selftest",
		Usage: "Verify the installed binary handles mixed-precision flags",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "bin",
				Usage:       "binary to exercise (defaults to the running executable)",
				Destination: &bin,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if bin == "" {
				exe, err := os.Executable()
				if err != nil {
					return err
				}
				bin = exe
			}
			runner := &selfcheck.Runner{
				Out: os.Stdout,
				Log: logger.FromContext(ctx),
			}
			res := runner.Run(ctx, selfcheck.Checks(bin))
			os.Exit(res.ExitCode())
			return nil
		},
	}
}
