package services_test

import (
	"errors"
	"strings"
	"testing"

	"groundseg/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "generate", "rpc", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"generate", "rpc", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestHint(t *testing.T) {
	cfgErr := services.Wrap(services.ErrConfiguration, "catalog", "load", "missing", nil)
	if hint := services.Hint(cfgErr); !strings.Contains(hint, "config") {
		t.Fatalf("unexpected hint for configuration error: %q", hint)
	}
	if hint := services.Hint(errors.New("plain")); hint != "" {
		t.Fatalf("expected empty hint, got %q", hint)
	}
	if hint := services.Hint(nil); hint != "" {
		t.Fatalf("expected empty hint for nil, got %q", hint)
	}
}
