package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"groundseg/internal/trainrun"
)

func newTrainCommand(ctx *commandContext) *cobra.Command {
	var maxSteps int
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the fusion module against the configured model worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if maxSteps < 0 {
				return fmt.Errorf("--max-steps must not be negative")
			}
			var configPath string
			if ctx.configSeen {
				configPath = ctx.configPath
			}
			result, err := trainrun.Run(cmd.Context(), cfg, trainrun.Options{
				ConfigPath:    configPath,
				MaxSteps:      maxSteps,
				SkipPreflight: skipPreflight,
				Progress:      trainrun.ProgressWriter(cfg, isatty.IsTerminal),
			})
			out := cmd.OutOrStdout()
			if result.Paths.Root != "" {
				fmt.Fprintf(out, "Run directory: %s\n", result.Paths.Root)
			}
			if err != nil {
				return err
			}
			s := result.Summary
			lastLoss := "-"
			if s.Supervised > 0 {
				lastLoss = strconv.FormatFloat(s.LastLoss, 'f', 4, 64)
			}
			fmt.Fprintln(out, tableSpec{
				headers: []string{"Steps", "Supervised", "Skipped", "Last Loss", "Checkpoints"},
				aligns:  []columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight},
			}.render([][]string{{
				humanize.Comma(int64(s.Steps)),
				humanize.Comma(int64(s.Supervised)),
				humanize.Comma(int64(s.Skipped)),
				lastLoss,
				strconv.Itoa(len(s.Checkpoints)),
			}}))
			return nil
		},
	}

	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "Override training.max_steps")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Start without directory and resource checks")
	return cmd
}
