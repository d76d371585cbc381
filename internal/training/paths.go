package training

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RunDirLayout is the timestamp layout used in run directory names.
const RunDirLayout = "Jan02_15-04-05"

// RunDirPrefix prefixes every run directory name.
const RunDirPrefix = "run-"

// RunPaths locates one run's outputs.
type RunPaths struct {
	Root     string
	Logs     string
	Training string
}

// NewRunPaths derives run paths under checkpointsDir for a run started at started.
func NewRunPaths(checkpointsDir string, started time.Time) RunPaths {
	root := filepath.Join(checkpointsDir, RunDirPrefix+started.Format(RunDirLayout))
	return RunPaths{
		Root:     root,
		Logs:     filepath.Join(root, "logs"),
		Training: filepath.Join(root, "training"),
	}
}

// Create makes the run directories.
func (p RunPaths) Create() error {
	for _, dir := range []string{p.Root, p.Logs, p.Training} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create run directory %s: %w", dir, err)
		}
	}
	return nil
}

// ID returns the run directory name.
func (p RunPaths) ID() string { return filepath.Base(p.Root) }

// ListRuns returns run directories under checkpointsDir, newest first by
// modification time.
func ListRuns(checkpointsDir string) ([]RunPaths, error) {
	entries, err := os.ReadDir(checkpointsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type run struct {
		paths RunPaths
		mod   time.Time
	}
	var runs []run
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), RunDirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		root := filepath.Join(checkpointsDir, entry.Name())
		runs = append(runs, run{
			paths: RunPaths{Root: root, Logs: filepath.Join(root, "logs"), Training: filepath.Join(root, "training")},
			mod:   info.ModTime(),
		})
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].mod.After(runs[j].mod) })
	out := make([]RunPaths, len(runs))
	for i, r := range runs {
		out[i] = r.paths
	}
	return out, nil
}
