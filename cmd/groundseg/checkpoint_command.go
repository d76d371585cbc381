package main

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"groundseg/internal/checkpoint"
	"groundseg/internal/tensor"
)

func newCheckpointCommand() *cobra.Command {
	checkpointCmd := &cobra.Command{
		Use:         "checkpoint",
		Short:       "Checkpoint utilities",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}
	checkpointCmd.AddCommand(&cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the parameters stored in a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if err != nil {
				return fmt.Errorf("stat checkpoint: %w", err)
			}
			rec, err := checkpoint.Read(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Step:    %d\n", rec.Step)
			fmt.Fprintf(out, "Created: %s\n", rec.Created.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Size:    %s\n", humanize.IBytes(uint64(info.Size())))

			rows := make([][]string, 0, len(rec.Tensors))
			total := 0
			for _, nt := range rec.Tensors {
				total += nt.Tensor.Len()
				rows = append(rows, []string{
					nt.Name,
					nt.Tensor.ShapeString(),
					humanize.Comma(int64(nt.Tensor.Len())),
					strconv.FormatFloat(rms(nt.Tensor), 'g', 4, 64),
				})
			}
			fmt.Fprintln(out, tableSpec{
				headers: []string{"Parameter", "Shape", "Values", "RMS"},
				aligns:  []columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
				footer:  []string{"total", "", humanize.Comma(int64(total)), ""},
			}.render(rows))
			return nil
		},
	})
	return checkpointCmd
}

func rms(t *tensor.Tensor) float64 {
	if t.Len() == 0 {
		return 0
	}
	var sum float64
	for _, v := range t.Data {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(t.Len()))
}
