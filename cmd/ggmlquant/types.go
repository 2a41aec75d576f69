package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/lhpqaq/ggmlquant/internal/ggml"
)

func typesCmd() *cli.Command {
	return &cli.Command{
		Name:  "types",
		Usage: "List supported quantization types",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return renderTypes(os.Stdout)
		},
	}
}

func renderTypes(out io.Writer) error {
	tbl := tablewriter.NewWriter(out)
	tbl.Header("Type", "Ftype", "Block", "Bytes/Block", "Bytes/Weight")
	for _, name := range ggml.QuantTargets() {
		t, err := ggml.ParseTensorType(name)
		if err != nil {
			return err
		}
		var ftype ggml.FileType
		switch name {
		case "f32":
			ftype = ggml.FileTypeAllF32
		case "f16":
			ftype = ggml.FileTypeMostlyF16
		default:
			if ftype, err = ggml.ParseFileType(name); err != nil {
				return err
			}
		}
		tbl.Append([]string{
			name,
			fmt.Sprint(int32(ftype)),
			fmt.Sprint(t.BlockSize()),
			fmt.Sprint(t.TypeSize()),
			fmt.Sprintf("%.4f", float64(t.TypeSize())/float64(t.BlockSize())),
		})
	}
	return tbl.Render()
}
