package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"groundseg/internal/config"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	if result := CheckDirectoryAccess("test", dir); !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
	if result := CheckDirectoryAccess("test", filepath.Join(dir, "nope")); result.Passed || result.Detail == "" {
		t.Fatalf("expected failure with detail for missing dir, got %#v", result)
	}
	f := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckDirectoryAccess("test", f); result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckReadableFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "coco_80_class.txt")
	if err := os.WriteFile(f, []byte("person\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckReadableFile("classes", f); !result.Passed || !strings.Contains(result.Detail, "7 B") {
		t.Fatalf("expected pass with size detail, got %#v", result)
	}
	if result := CheckReadableFile("classes", dir); result.Passed {
		t.Fatal("expected failure for directory")
	}
	if result := CheckReadableFile("classes", filepath.Join(dir, "missing")); result.Passed {
		t.Fatal("expected failure for missing file")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("space", dir, 1); !result.Passed {
		t.Fatalf("expected at least one free byte, got %#v", result)
	}
	if result := CheckFreeSpace("space", dir, ^uint64(0)); result.Passed {
		t.Fatal("expected failure for impossible free space requirement")
	}
	if result := CheckFreeSpace("space", filepath.Join(dir, "missing"), 1); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestRunAll(t *testing.T) {
	if RunAll(context.Background(), nil) != nil {
		t.Fatal("expected nil results for nil config")
	}

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.CheckpointsDir = base
	cfg.Paths.TempDir = base
	cfg.Paths.OutputsDir = ""
	cfg.Catalog.DetectorClasses = filepath.Join(base, "missing.txt")
	cfg.Catalog.DomainClasses = filepath.Join(base, "missing.csv")

	results := RunAll(context.Background(), &cfg)
	if len(results) != 7 {
		t.Fatalf("expected 7 results, got %d", len(results))
	}
	failed := Failed(results)
	names := make([]string, 0, len(failed))
	for _, r := range failed {
		names = append(names, r.Name)
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"Detector class list", "Domain class split"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q among failures, got %v", want, names)
		}
	}
	if strings.Contains(joined, "Checkpoints directory") {
		t.Fatalf("checkpoints directory should pass, got %v", names)
	}
}

func TestCheckSystemDepsSkipsModulesWithoutInterpreter(t *testing.T) {
	cfg := config.Default()
	cfg.Worker.Command = "clearly-not-a-python"
	called := false
	runner := func(context.Context, []string, string, ...string) ([]byte, error) {
		called = true
		return nil, errors.New("unexpected")
	}
	statuses := CheckSystemDeps(context.Background(), &cfg, runner)
	if called {
		t.Fatal("module checks should not run without an interpreter")
	}
	if len(statuses) != 2 || statuses[0].Available {
		t.Fatalf("unexpected statuses: %#v", statuses)
	}
}

func TestCheckSystemDepsImportsWorkerModule(t *testing.T) {
	cfg := config.Default()
	cfg.Worker.Command = "sh"
	cfg.Worker.Dir = "/opt/groundseg/worker"
	cfg.Device.VisibleDevices = ""
	var imports []string
	var env []string
	runner := func(_ context.Context, e []string, _ string, args ...string) ([]byte, error) {
		imports = append(imports, args[len(args)-1])
		env = e
		if args[len(args)-1] == "import groundseg_worker" {
			return []byte("ModuleNotFoundError: No module named 'groundseg_worker'\n"), errors.New("exit status 1")
		}
		return nil, nil
	}
	statuses := CheckSystemDeps(context.Background(), &cfg, runner)
	if len(imports) == 0 || imports[len(imports)-1] != "import groundseg_worker" {
		t.Fatalf("worker module not checked: %v", imports)
	}
	if len(env) != 1 || !strings.HasPrefix(env[0], "PYTHONPATH=/opt/groundseg/worker") {
		t.Fatalf("unexpected import environment %v", env)
	}
	last := statuses[len(statuses)-1]
	if last.Name != "groundseg_worker" || last.Available || !strings.Contains(last.Detail, "groundseg_worker") {
		t.Fatalf("unexpected worker module status %#v", last)
	}
}
