package logging

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"strings"
	"testing"
)

func TestNewTeeHandlerCollapses(t *testing.T) {
	if _, ok := newTeeHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler for all nil handlers")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newTeeHandler(nil, inner); h != inner {
		t.Fatal("expected single non-nil handler to be returned unwrapped")
	}
}

func TestTeeLoggerRespectsPerHandlerLevel(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	debug := slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := TeeLogger(base, debug).With("run_id", "run-a")
	logger.Debug("worker stderr")
	logger.Info("loss recorded")

	if strings.Contains(infoBuf.String(), "worker stderr") {
		t.Fatalf("info handler received debug record: %s", infoBuf.String())
	}
	if !strings.Contains(infoBuf.String(), "loss recorded") || !strings.Contains(infoBuf.String(), `"run_id":"run-a"`) {
		t.Fatalf("info handler missing record or attrs: %s", infoBuf.String())
	}
	if !strings.Contains(debugBuf.String(), "worker stderr") || !strings.Contains(debugBuf.String(), "loss recorded") {
		t.Fatalf("debug handler missing records: %s", debugBuf.String())
	}
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected tee to be enabled for debug")
	}
}

func TestStampHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newStampHandler(slog.NewJSONHandler(&buf, nil), slog.String(FieldSessionID, "session-abc"))).With("extra", "value")
	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, `"session_id":"session-abc"`) {
		t.Fatalf("expected session_id in output, got: %s", output)
	}
	if !strings.Contains(output, `"extra":"value"`) {
		t.Fatalf("expected extra attr in output, got: %s", output)
	}
	if _, ok := newStampHandler(nil, slog.String("k", "v")).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when base is nil")
	}
	base := slog.NewJSONHandler(&buf, nil)
	if newStampHandler(base) != slog.Handler(base) {
		t.Fatal("expected base handler back when there is nothing to stamp")
	}
}

func TestPrettyHandlerLiftsStepAndClass(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, level, false))
	logger = NewComponentLogger(logger, "trainer")
	logger.Info("loss recorded", Int(FieldStep, 200), String(FieldClass, "dog"), Float64("loss", 0.5))

	line := buf.String()
	if !strings.Contains(line, "INFO trainer: step 200 · dog: loss recorded") {
		t.Fatalf("unexpected prefix: %q", line)
	}
	if !strings.Contains(line, "loss=0.5") {
		t.Fatalf("expected loss attribute: %q", line)
	}
	if strings.Contains(line, "component=") || strings.Contains(line, "step=") {
		t.Fatalf("lifted attributes should not repeat: %q", line)
	}
}

func TestFormatSubject(t *testing.T) {
	cases := map[[2]string]string{
		{"3", "cat"}: "step 3 · cat",
		{"3", ""}:    "step 3",
		{"", "cat"}:  "cat",
		{"", ""}:     "",
	}
	for in, want := range cases {
		if got := formatSubject(in[0], in[1]); got != want {
			t.Fatalf("formatSubject(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(10)
	var emitted []int
	for step := 0; step < 100; step++ {
		if s.ShouldLog(step, 100) {
			emitted = append(emitted, step)
		}
	}
	if len(emitted) != 11 {
		t.Fatalf("expected 11 emissions (0%% bucket plus ten crossings), got %d: %v", len(emitted), emitted)
	}
	if emitted[1] != 9 || emitted[len(emitted)-1] != 99 {
		t.Fatalf("unexpected emission steps: %v", emitted)
	}

	var nilSampler *ProgressSampler
	if !nilSampler.ShouldLog(5, 10) {
		t.Fatal("nil sampler should always log")
	}
}

func TestJSONHandlerWritesNonFiniteFloats(t *testing.T) {
	var buf bytes.Buffer
	levels := new(slog.LevelVar)
	logger := slog.New(newJSONHandler(&buf, levels, false))
	logger.Info("training loss", slog.Float64("loss", math.NaN()), slog.Float64("lr", 1e-4))

	out := buf.String()
	for _, want := range []string{`"loss":"NaN"`, `"lr":0.0001`, `"level":"info"`, `"ts":"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}
