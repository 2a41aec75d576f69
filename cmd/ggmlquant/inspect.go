package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/lhpqaq/ggmlquant/internal/ggml"
	"github.com/lhpqaq/ggmlquant/internal/whisperbin"
)

type tensorSummary struct {
	Name  string  `json:"name"`
	Dims  []int32 `json:"dims"`
	Type  string  `json:"type"`
	Bytes int     `json:"bytes"`
}

type modelSummary struct {
	Hparams    whisperbin.Hparams `json:"hparams"`
	QntVersion int32              `json:"qnt_version"`
	FileType   string             `json:"file_type"`
	VocabSize  int                `json:"vocab_size"`
	Tensors    []tensorSummary    `json:"tensors"`
	TotalBytes int64              `json:"total_bytes"`
}

func inspectCmd() *cli.Command {
	var (
		asJSON       bool
		tensorFilter string
		tensorLimit  int
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Inspect the contents of a ggml .bin model file",
		ArgsUsage: "model.bin",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "emit the summary as JSON", Destination: &asJSON},
			&cli.StringFlag{Name: "tensor-filter", Usage: "substring filter for tensor listing", Destination: &tensorFilter},
			&cli.IntFlag{Name: "tensors-limit", Usage: "limit tensor listing (0 = no limit)", Value: 50, Destination: &tensorLimit},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				_ = cli.ShowSubcommandHelp(cmd)
				return errors.New("expected a model path")
			}
			path := cmd.Args().Get(0)

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			sum, err := summarizeModel(f)
			if err != nil {
				return fmt.Errorf("inspect %s: %w", path, err)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(sum)
			}
			printSummary(sum, tensorFilter, tensorLimit)
			return nil
		},
	}
}

func summarizeModel(f io.Reader) (*modelSummary, error) {
	r := ggml.NewReader(f)
	h, nVocab, err := whisperbin.SkipPrelude(r)
	if err != nil {
		return nil, err
	}

	sum := &modelSummary{
		Hparams:    h,
		QntVersion: h.QntVersion(),
		FileType:   ggml.FileType(h.FType % ggml.QntVersionFactor).String(),
		VocabSize:  nVocab,
	}
	for {
		hdr, err := ggml.ReadTensorHeader(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		size := hdr.PayloadSize()
		if size <= 0 {
			return nil, fmt.Errorf("tensor %s: unknown type %d", hdr.Name, hdr.Type)
		}
		if err := r.Skip(int64(size)); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", hdr.Name, err)
		}
		sum.Tensors = append(sum.Tensors, tensorSummary{
			Name:  hdr.Name,
			Dims:  append([]int32(nil), hdr.Dims[:hdr.NDims]...),
			Type:  hdr.Type.String(),
			Bytes: size,
		})
		sum.TotalBytes += int64(size)
	}
	return sum, nil
}

func printSummary(sum *modelSummary, filter string, limit int) {
	h := sum.Hparams
	fmt.Printf("=== Model ===\n")
	fmt.Printf("file type:  %s (qntvr %d)\n", sum.FileType, sum.QntVersion)
	fmt.Printf("vocab:      %d entries (n_vocab %d)\n", sum.VocabSize, h.NVocab)
	fmt.Printf("mels:       %d\n", h.NMels)
	fmt.Printf("audio:      ctx %d, state %d, head %d, layer %d\n",
		h.NAudioCtx, h.NAudioState, h.NAudioHead, h.NAudioLayer)
	fmt.Printf("text:       ctx %d, state %d, head %d, layer %d\n",
		h.NTextCtx, h.NTextState, h.NTextHead, h.NTextLayer)
	fmt.Printf("tensors:    %d (%.2f MB)\n\n", len(sum.Tensors), float64(sum.TotalBytes)/1024.0/1024.0)

	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.Header("Tensor", "Dims", "Type", "Bytes")
	shown, hidden := 0, 0
	for _, t := range sum.Tensors {
		if filter != "" && !strings.Contains(t.Name, filter) {
			continue
		}
		if limit > 0 && shown >= limit {
			hidden++
			continue
		}
		dims := make([]string, len(t.Dims))
		for i, d := range t.Dims {
			dims[i] = fmt.Sprint(d)
		}
		tbl.Append([]string{t.Name, strings.Join(dims, "x"), t.Type, fmt.Sprint(t.Bytes)})
		shown++
	}
	_ = tbl.Render()
	if hidden > 0 {
		fmt.Printf("... (%d more, use --tensors-limit 0 to show all)\n", hidden)
	}
}
