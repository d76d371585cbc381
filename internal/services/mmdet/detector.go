// Package mmdet adapts the two-stage instance segmentation detector hosted by
// the model worker.
package mmdet

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"groundseg/internal/fileutil"
	"groundseg/internal/logging"
	"groundseg/internal/masks"
	"groundseg/internal/services"
	"groundseg/internal/services/pyworker"
)

const stageName = "detect"

// Caller issues worker calls.
type Caller interface {
	Call(ctx context.Context, method string, args, reply any) error
}

// Options configures the detector adapter.
type Options struct {
	Config         string
	Checkpoint     string
	ScoreThreshold float64
	TempDir        string
	// Classes is the detector taxonomy size; every reply must carry exactly
	// this many entries.
	Classes int
}

// Detector segments images into per-class instance masks.
type Detector struct {
	worker Caller
	opts   Options
	logger *slog.Logger
}

// New returns a detector bound to worker.
func New(worker Caller, opts Options, logger *slog.Logger) (*Detector, error) {
	if worker == nil {
		return nil, errors.New("mmdet: worker is required")
	}
	if opts.Config == "" || opts.Checkpoint == "" {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "init", "detector config and checkpoint are required", nil)
	}
	if opts.Classes <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "init", "detector taxonomy is empty", nil)
	}
	return &Detector{worker: worker, opts: opts, logger: logging.NewComponentLogger(logger, "mmdet")}, nil
}

// Segment runs one detection over img. The result has one entry per detector
// class; classes without detections are empty.
func (d *Detector) Segment(ctx context.Context, img image.Image) (masks.Segmentation, error) {
	workDir, cleanup, err := pyworker.NewWorkDir(filepath.Join(d.opts.TempDir, "work"), "detect")
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "segment", "work dir", err)
	}
	defer cleanup()

	imagePath := filepath.Join(workDir, "input.png")
	if err := fileutil.WriteAtomic(imagePath, 0o644, func(w io.Writer) error {
		return png.Encode(w, img)
	}); err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "encode image", imagePath, err)
	}

	req := pyworker.SegmentRequest{
		Config:         d.opts.Config,
		Checkpoint:     d.opts.Checkpoint,
		Image:          imagePath,
		ScoreThreshold: d.opts.ScoreThreshold,
		WorkDir:        workDir,
	}
	var reply pyworker.SegmentReply
	if err := d.worker.Call(ctx, "Worker.Segment", req, &reply); err != nil {
		return nil, err
	}
	if len(reply.Classes) != d.opts.Classes {
		return nil, services.Wrap(services.ErrValidation, stageName, "segment",
			fmt.Sprintf("detector returned %d classes, taxonomy has %d", len(reply.Classes), d.opts.Classes), nil)
	}

	bounds := img.Bounds()
	seg := make(masks.Segmentation, len(reply.Classes))
	instances := 0
	for class, entries := range reply.Classes {
		for _, entry := range entries {
			m, err := readMask(entry.Path)
			if err != nil {
				return nil, services.Wrap(services.ErrExternalTool, stageName, "read mask", entry.Path, err)
			}
			if m.Width != bounds.Dx() || m.Height != bounds.Dy() {
				return nil, services.Wrap(services.ErrValidation, stageName, "read mask",
					fmt.Sprintf("mask %dx%d does not match image %dx%d", m.Width, m.Height, bounds.Dx(), bounds.Dy()), nil)
			}
			seg[class] = append(seg[class], m)
			instances++
		}
	}
	d.logger.Debug("image segmented", logging.Int("instances", instances))
	return seg, nil
}

func readMask(path string) (*masks.Mask, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	img, err := png.Decode(file)
	if err != nil {
		return nil, err
	}
	return masks.FromImage(img), nil
}
