package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"groundseg/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config rooted in a unique temp directory per test.
// Catalog files are not written unless WithCatalog is applied.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.CheckpointsDir = filepath.Join(base, "checkpoints")
	cfgVal.Paths.OutputsDir = filepath.Join(base, "outputs")
	cfgVal.Paths.TempDir = filepath.Join(base, "temp")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Catalog.DetectorClasses = filepath.Join(base, "resources", "coco_80_class.txt")
	cfgVal.Catalog.DomainClasses = filepath.Join(base, "resources", "class_split1.csv")
	cfgVal.Detector.Config = filepath.Join(base, "resources", "detector.py")
	cfgVal.Detector.Checkpoint = filepath.Join(base, "resources", "detector.pth")
	cfgVal.Training.Progress = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithCatalog writes the detector list and domain split files.
func WithCatalog(detector, domain []string) ConfigOption {
	return func(b *configBuilder) {
		WriteLines(b.t, b.cfg.Catalog.DetectorClasses, detector)
		rows := make([]string, len(domain))
		for i, name := range domain {
			rows[i] = name + "," + "1"
		}
		WriteLines(b.t, b.cfg.Catalog.DomainClasses, rows)
	}
}

// WithSplitIndex overrides the train/test split point.
func WithSplitIndex(at int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Catalog.SplitIndex = at
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the worker command is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{b.cfg.Worker.Command}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// WriteLines writes lines joined by newlines, creating parent directories.
func WriteLines(t testing.TB, path string, lines []string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.CheckpointsDir)
}
