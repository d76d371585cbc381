package deps

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}
}

func TestCheckPythonModules(t *testing.T) {
	var calls []string
	var envs [][]string
	runner := func(_ context.Context, env []string, name string, args ...string) ([]byte, error) {
		calls = append(calls, name+" "+strings.Join(args, " "))
		envs = append(envs, env)
		if args[1] == "import mmdet" {
			return []byte("Traceback (most recent call last):\nModuleNotFoundError: No module named 'mmdet'\n"), errors.New("exit status 1")
		}
		return nil, nil
	}

	env := []string{"PYTHONPATH=/opt/worker"}
	results := CheckPythonModules(context.Background(), "python3", env, []string{"torch", "mmdet"}, runner)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Available {
		t.Fatalf("expected torch available, got %#v", results[0])
	}
	if results[1].Available {
		t.Fatal("expected mmdet unavailable")
	}
	if results[1].Detail != "ModuleNotFoundError: No module named 'mmdet'" {
		t.Fatalf("unexpected detail: %q", results[1].Detail)
	}
	if calls[0] != "python3 -c import torch" {
		t.Fatalf("unexpected invocation: %q", calls[0])
	}
	if len(envs[1]) != 1 || envs[1][0] != env[0] {
		t.Fatalf("worker environment not passed to import check: %v", envs[1])
	}
}
