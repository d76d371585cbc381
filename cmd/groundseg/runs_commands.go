package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"groundseg/internal/checkpoint"
	"groundseg/internal/config"
	"groundseg/internal/eventlog"
	"groundseg/internal/fileutil"
	"groundseg/internal/training"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect previous training runs",
	}
	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsLossCommand(ctx))
	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs under the checkpoints directory, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runs, err := training.ListRuns(cfg.Paths.CheckpointsDir)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintf(out, "No runs under %s\n", cfg.Paths.CheckpointsDir)
				return nil
			}
			if limit > 0 && len(runs) > limit {
				runs = runs[:limit]
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, runRow(cmd.Context(), run))
			}
			fmt.Fprintln(out, tableSpec{
				headers: []string{"Run", "Started", "Steps", "Last Loss", "Checkpoints", "Size"},
				aligns:  []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
			}.render(rows))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many runs")
	return cmd
}

func runRow(ctx context.Context, run training.RunPaths) []string {
	row := []string{run.ID(), "-", "-", "-", strconv.Itoa(countCheckpoints(run.Root)), "-"}
	if size, err := fileutil.DirSize(run.Root); err == nil {
		row[5] = humanize.IBytes(uint64(size))
	}
	events, err := eventlog.OpenReadOnly(ctx, run.Logs)
	if err != nil {
		return row
	}
	defer events.Close()
	if meta, err := events.Meta(ctx); err == nil {
		if started, err := time.Parse(time.RFC3339, meta[eventlog.MetaStartedAt]); err == nil {
			row[1] = humanize.Time(started)
		}
	}
	if summary, err := events.Summarize(ctx, training.LossTag); err == nil && summary.Count > 0 {
		row[2] = humanize.Comma(int64(summary.LastStep + 1))
		row[3] = strconv.FormatFloat(summary.Last, 'f', 4, 64)
	}
	return row
}

func countCheckpoints(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if _, ok := checkpoint.StepFromFileName(entry.Name()); ok && !entry.IsDir() {
			count++
		}
	}
	return count
}

func newRunsLossCommand(ctx *commandContext) *cobra.Command {
	var tag string
	var all bool

	cmd := &cobra.Command{
		Use:   "loss <run>",
		Short: "Summarize the scalars a run recorded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			root, err := resolveRunDir(cfg, args[0])
			if err != nil {
				return err
			}
			events, err := eventlog.OpenReadOnly(cmd.Context(), filepath.Join(root, "logs"))
			if err != nil {
				return err
			}
			defer events.Close()

			summary, err := events.Summarize(cmd.Context(), tag)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if summary.Count == 0 {
				tags, _ := events.Tags(cmd.Context())
				fmt.Fprintf(out, "No %q scalars recorded (available: %s)\n", tag, strings.Join(tags, ", "))
				return nil
			}
			fmt.Fprintln(out, tableSpec{
				title:   fmt.Sprintf("%s %s", filepath.Base(root), tag),
				headers: []string{"Count", "Min", "Max", "Mean", "Last Step", "Last"},
				aligns:  []columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
			}.render([][]string{{
				humanize.Comma(int64(summary.Count)),
				formatScalar(summary.Min),
				formatScalar(summary.Max),
				formatScalar(summary.Mean),
				strconv.Itoa(summary.LastStep),
				formatScalar(summary.Last),
			}}))
			if !all {
				return nil
			}
			scalars, err := events.Scalars(cmd.Context(), tag)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(scalars))
			for _, s := range scalars {
				rows = append(rows, []string{strconv.Itoa(s.Step), formatScalar(s.Value), s.WallTime.Local().Format(time.DateTime)})
			}
			fmt.Fprintln(out, tableSpec{
				headers: []string{"Step", "Value", "Recorded"},
				aligns:  []columnAlignment{alignRight, alignRight, alignLeft},
			}.render(rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&tag, "tag", training.LossTag, "Scalar tag to summarize")
	cmd.Flags().BoolVar(&all, "all", false, "Also print every recorded value")
	return cmd
}

// resolveRunDir accepts a run directory path or a run id under the
// checkpoints directory.
func resolveRunDir(cfg *config.Config, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", errors.New("run is required")
	}
	candidates := []string{filepath.Join(cfg.Paths.CheckpointsDir, arg)}
	if expanded, err := config.ExpandPath(arg); err == nil {
		candidates = append([]string{expanded}, candidates...)
	}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", fmt.Errorf("run %q not found (looked in %s)", arg, cfg.Paths.CheckpointsDir)
}

func formatScalar(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
