package eventlog_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"groundseg/internal/eventlog"
)

func TestScalarsRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "run-Oct17_09-30-00", "logs")
	store, err := eventlog.Open(ctx, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	for step, v := range []float64{0.9, 0.7, 0.8} {
		if err := store.AddScalar(ctx, "train/loss", step*10, v); err != nil {
			t.Fatalf("AddScalar: %v", err)
		}
	}
	if err := store.AddScalar(ctx, "", 0, 1); err == nil {
		t.Fatal("expected error for empty tag")
	}

	got, err := store.Scalars(ctx, "train/loss")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[1].Step != 10 || got[1].Value != 0.7 || got[1].WallTime.IsZero() {
		t.Fatalf("unexpected scalars %+v", got)
	}

	tags, err := store.Tags(ctx)
	if err != nil || len(tags) != 1 || tags[0] != "train/loss" {
		t.Fatalf("unexpected tags %v (%v)", tags, err)
	}

	sum, err := store.Summarize(ctx, "train/loss")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Count != 3 || sum.Min != 0.7 || sum.Max != 0.9 || sum.LastStep != 20 || sum.Last != 0.8 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if math.Abs(sum.Mean-0.8) > 1e-9 {
		t.Fatalf("mean = %v", sum.Mean)
	}

	empty, err := store.Summarize(ctx, "val/iou")
	if err != nil || empty.Count != 0 {
		t.Fatalf("expected empty summary, got %+v (%v)", empty, err)
	}
}

func TestMetaAndReadOnlyReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := eventlog.Open(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetMeta(ctx, eventlog.MetaSessionID, "abc"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetMeta(ctx, eventlog.MetaSessionID, "def"); err != nil {
		t.Fatal(err)
	}
	if err := store.AddScalar(ctx, "train/loss", 0, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	ro, err := eventlog.OpenReadOnly(ctx, dir)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer ro.Close()
	meta, err := ro.Meta(ctx)
	if err != nil || meta[eventlog.MetaSessionID] != "def" {
		t.Fatalf("unexpected meta %v (%v)", meta, err)
	}
	if _, err := eventlog.OpenReadOnly(ctx, t.TempDir()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist for missing db, got %v", err)
	}
}
