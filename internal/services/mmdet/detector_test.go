package mmdet_test

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"groundseg/internal/services"
	"groundseg/internal/services/mmdet"
	"groundseg/internal/services/pyworker"
)

type fakeDetector struct {
	classes  int
	hits     map[int]int
	maskSize int
	sawImage bool
}

func (f *fakeDetector) Call(_ context.Context, method string, args, reply any) error {
	if method != "Worker.Segment" {
		return errors.New("unexpected method " + method)
	}
	req := args.(pyworker.SegmentRequest)
	if _, err := os.Stat(req.Image); err == nil {
		f.sawImage = true
	}
	out := reply.(*pyworker.SegmentReply)
	out.Classes = make([][]pyworker.InstanceMask, f.classes)
	for class, n := range f.hits {
		for i := 0; i < n; i++ {
			img := image.NewGray(image.Rect(0, 0, f.maskSize, f.maskSize))
			img.Pix[i] = 1
			path := filepath.Join(req.WorkDir, fmt.Sprintf("mask_%d_%d.png", class, i))
			file, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := png.Encode(file, img); err != nil {
				return err
			}
			file.Close()
			out.Classes[class] = append(out.Classes[class], pyworker.InstanceMask{Path: path, Score: 0.9})
		}
	}
	return nil
}

func newDetector(t *testing.T, worker *fakeDetector, classes int) *mmdet.Detector {
	t.Helper()
	det, err := mmdet.New(worker, mmdet.Options{
		Config: "cfg.py", Checkpoint: "weights.pth", ScoreThreshold: 0.3,
		TempDir: t.TempDir(), Classes: classes,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return det
}

func TestSegmentReturnsEntryPerClass(t *testing.T) {
	worker := &fakeDetector{classes: 5, hits: map[int]int{2: 2}, maskSize: 4}
	det := newDetector(t, worker, 5)
	seg, err := det.Segment(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if !worker.sawImage {
		t.Fatal("worker did not receive the image file")
	}
	if len(seg) != 5 {
		t.Fatalf("got %d classes, want 5", len(seg))
	}
	if len(seg[0]) != 0 || len(seg[2]) != 2 {
		t.Fatalf("unexpected instance counts %d/%d", len(seg[0]), len(seg[2]))
	}
	if seg[2][1].Pix[1] != 1 || seg[2][1].Count() != 1 {
		t.Fatalf("mask not decoded as binary: %v", seg[2][1].Pix)
	}
}

func TestSegmentRejectsWrongClassCount(t *testing.T) {
	det := newDetector(t, &fakeDetector{classes: 3, maskSize: 4}, 5)
	_, err := det.Segment(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSegmentRejectsMaskSizeMismatch(t *testing.T) {
	det := newDetector(t, &fakeDetector{classes: 2, hits: map[int]int{0: 1}, maskSize: 3}, 2)
	_, err := det.Segment(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
