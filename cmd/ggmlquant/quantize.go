package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/lhpqaq/ggmlquant/internal/ggml"
	"github.com/lhpqaq/ggmlquant/internal/logger"
	"github.com/lhpqaq/ggmlquant/internal/quantize"
	"github.com/lhpqaq/ggmlquant/internal/whisperbin"
)

func quantizeCmd() *cli.Command {
	var quantizeBias bool

	return &cli.Command{
		Name:      "quantize",
		Usage:     "Quantize a ggml whisper model file",
		ArgsUsage: "model-f32.bin model-quant.bin type",
		Description: "Rewrites the tensor stream of a ggml .bin model into the requested\n" +
			"quantization type. Per-tensor overrides select a different type for\n" +
			"tensors whose name matches a pattern:\n\n" +
			"   ggmlquant quantize --tensor-type encoder\\..*\\.weight=q8_0 ggml-base.bin ggml-base-mixed.bin q4_0\n\n" +
			"Allowed quantization types:\n" +
			"   " + strings.Join(ggml.FileTargets(), ", "),
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "tensor-type",
				Aliases: []string{"tt"},
				Usage:   "quantize tensors matching PATTERN=TYPE (repeatable, first match wins)",
			},
			&cli.StringSliceFlag{
				Name:  "skip",
				Usage: "never quantize tensors matching this pattern (repeatable)",
			},
			&cli.BoolFlag{
				Name:        "allow-requantize-bias",
				Usage:       "also quantize bias and positional embedding tensors",
				Destination: &quantizeBias,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := LoadConfig()

			args := cmd.Args()
			var inPath, outPath, typeArg string
			switch args.Len() {
			case 2:
				if cfg.DefaultType == "" {
					_ = cli.ShowSubcommandHelp(cmd)
					return fmt.Errorf("expected 3 arguments, got %d", args.Len())
				}
				inPath, outPath, typeArg = args.Get(0), args.Get(1), cfg.DefaultType
			case 3:
				inPath, outPath, typeArg = args.Get(0), args.Get(1), args.Get(2)
			default:
				_ = cli.ShowSubcommandHelp(cmd)
				return fmt.Errorf("expected 3 arguments, got %d", args.Len())
			}

			ftype, err := ggml.ParseFileType(typeArg)
			if err != nil {
				return err
			}
			ruleSpecs := cmd.StringSlice("tensor-type")
			if len(ruleSpecs) == 0 {
				ruleSpecs = cfg.TensorTypes
			}
			rules := make([]quantize.Rule, 0, len(ruleSpecs))
			for _, spec := range ruleSpecs {
				r, err := quantize.ParseRule(spec)
				if err != nil {
					return err
				}
				log.Info("added tensor type rule", "pattern", r.Pattern, "type", r.Type.String())
				rules = append(rules, r)
			}
			skip := append(cmd.StringSlice("skip"), cfg.Skip...)
			if !quantizeBias {
				skip = append(skip, whisperbin.DefaultSkip()...)
			}
			policy, err := quantize.NewPolicy(quantize.PolicyConfig{
				FileType: ftype,
				Rules:    rules,
				Skip:     skip,
			})
			if err != nil {
				return err
			}

			start := time.Now()
			in, err := os.Open(inPath)
			if err != nil {
				return err
			}
			defer func() { _ = in.Close() }()
			out, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer func() { _ = out.Close() }()

			r := ggml.NewReader(in)
			w := ggml.NewWriter(out)
			h, err := whisperbin.CopyPrelude(r, w, ftype, policy.Mixed())
			if err != nil {
				return err
			}
			log.Info("loaded model",
				"input", inPath,
				"n_vocab", h.NVocab,
				"n_audio_layer", h.NAudioLayer,
				"n_text_layer", h.NTextLayer,
				"qntvr", h.QntVersion())

			proc := &quantize.Processor{Policy: policy, Log: log}
			stats, err := proc.Run(ctx, r, w)
			if err != nil {
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}

			elapsed := time.Since(start)
			fmt.Printf("%s: %d tensors, %d quantized\n", outPath, stats.Tensors, stats.Quantized)
			fmt.Printf("model size  = %8.2f MB -> %8.2f MB\n",
				float64(stats.SizeOrig)/1024.0/1024.0,
				float64(stats.SizeNew)/1024.0/1024.0)
			fmt.Printf("total time  = %8.2f ms\n", float64(elapsed.Microseconds())/1000.0)
			return nil
		},
	}
}
