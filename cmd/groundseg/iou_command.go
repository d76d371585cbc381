package main

import (
	"fmt"
	"image/png"
	"os"

	"github.com/spf13/cobra"

	"groundseg/internal/masks"
)

func newIoUCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "iou <mask-a.png> <mask-b.png>",
		Short:       "Intersection over union of two binary mask images",
		Args:        cobra.ExactArgs(2),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := readMask(args[0])
			if err != nil {
				return err
			}
			b, err := readMask(args[1])
			if err != nil {
				return err
			}
			score, err := masks.IoU(a, b)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "IoU: %.4f\n", score)
			return nil
		},
	}
}

func readMask(path string) (*masks.Mask, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mask: %w", err)
	}
	defer file.Close()
	img, err := png.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode mask %s: %w", path, err)
	}
	return masks.FromImage(img), nil
}
