package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/lhpqaq/ggmlquant/internal/logger"
)

func main() {
	app := &cli.Command{
		Name:  "ggmlquant",
		Usage: "Quantize and inspect ggml whisper model files",
		// Help goes to stderr so stdout stays clean for piped output.
		Writer: os.Stderr,
		Flags:  loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg := LoadConfig()
			level, format := logLevel, logFormat
			if cfg.LogLevel != "" && !cmd.IsSet("log-level") {
				level = cfg.LogLevel
			}
			if cfg.LogFormat != "" && !cmd.IsSet("log-format") {
				format = cfg.LogFormat
			}
			if debug {
				level = "debug"
			}
			log, err := logger.ForFormat(format, os.Stderr, logger.ParseLevel(level))
			if err != nil {
				return ctx, err
			}
			return logger.WithContext(ctx, log), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			quantizeCmd(),
			inspectCmd(),
			typesCmd(),
			selftestCmd(),
			serveCmd(),
			sysinfoCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
