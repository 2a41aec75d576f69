package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/lhpqaq/ggmlquant/internal/sysinfo"
)

func sysinfoCmd() *cli.Command {
	var (
		asJSON    bool
		modelPath string
	)

	return &cli.Command{
		Name:  "sysinfo",
		Usage: "Show host specs relevant to quantization",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "emit specs as JSON", Destination: &asJSON},
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "estimate peak memory for quantizing this model",
				Destination: &modelPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			specs, err := sysinfo.Detect()
			if err != nil {
				return err
			}

			var peakGB float64
			if modelPath != "" {
				f, err := os.Open(modelPath)
				if err != nil {
					return err
				}
				sum, err := summarizeModel(f)
				_ = f.Close()
				if err != nil {
					return err
				}
				// The streaming rewrite holds one tensor widened to f32
				// plus its quantized output; the dominant term is the
				// buffered reader and writer pages around it.
				maxTensor := 0
				for _, t := range sum.Tensors {
					if t.Bytes > maxTensor {
						maxTensor = t.Bytes
					}
				}
				peakGB = float64(maxTensor)*3/float64(1<<30) + 0.25
			}

			if asJSON {
				out := map[string]any{"system": specs}
				if modelPath != "" {
					out["peak_ram_gb"] = peakGB
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			fmt.Printf("=== System ===\n")
			fmt.Printf("CPU:  %s (%d cores, %s/%s)\n", specs.CPUName, specs.CPUs, specs.OS, specs.Arch)
			fmt.Printf("RAM:  %.1f GB total, %.1f GB available\n", specs.TotalRAMGB, specs.AvailableRAMGB)
			fmt.Printf("Go:   %s\n", specs.GoVersion)

			names := make([]string, 0, len(specs.Features))
			for name := range specs.Features {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Printf("SIMD:")
			for _, name := range names {
				if specs.Features[name] {
					fmt.Printf(" %s", name)
				}
			}
			fmt.Println()

			if modelPath != "" {
				fmt.Printf("\nestimated peak RAM for %s: %.2f GB\n", modelPath, peakGB)
			}
			return nil
		},
	}
}
