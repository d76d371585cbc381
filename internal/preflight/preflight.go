package preflight

import (
	"context"

	"groundseg/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// MinFreeBytes is the free space the checkpoint filesystem needs before a run starts.
const MinFreeBytes = 2 << 30

// RunAll executes the filesystem checks a training run depends on.
func RunAll(_ context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Checkpoints directory", cfg.Paths.CheckpointsDir),
		CheckDirectoryAccess("Temp directory", cfg.Paths.TempDir),
		CheckFreeSpace("Checkpoint free space", cfg.Paths.CheckpointsDir, MinFreeBytes),
		CheckReadableFile("Detector class list", cfg.Catalog.DetectorClasses),
		CheckReadableFile("Domain class split", cfg.Catalog.DomainClasses),
		CheckReadableFile("Detector config", cfg.Detector.Config),
		CheckReadableFile("Detector weights", cfg.Detector.Checkpoint),
	}
	if cfg.Paths.OutputsDir != "" {
		results = append(results, CheckDirectoryAccess("Outputs directory", cfg.Paths.OutputsDir))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
