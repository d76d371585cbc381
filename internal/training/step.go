package training

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"groundseg/internal/checkpoint"
	"groundseg/internal/logging"
	"groundseg/internal/masks"
	"groundseg/internal/services"
	"groundseg/internal/textutil"
	"groundseg/internal/visualize"
)

type stepOutcome struct {
	supervised bool
	loss       float64
	checkpoint string
}

func (t *Trainer) step(ctx context.Context, step int) (stepOutcome, error) {
	var out stepOutcome

	class := t.pickClass()
	prompt := t.Prompt(class)
	seed := t.rng.Int64()
	ctx = services.WithClass(services.WithStep(ctx, step), class)
	ctx = services.WithRequestID(ctx, fmt.Sprintf("%s/%d", t.opts.Paths.ID(), step))
	logger := logging.WithContext(ctx, t.logger)
	token := textutil.SanitizeToken(class)
	visualizing := step%t.opts.VisualizeInterval == 0

	gen, err := t.opts.Generator.Generate(services.WithStage(ctx, "generate"), prompt, seed)
	if err != nil {
		return out, stageErr("generate", err)
	}
	embedding, err := t.opts.Embedder.Embed(services.WithStage(ctx, "embed"), prompt, t.opts.BatchSize)
	if err != nil {
		return out, stageErr("embed", err)
	}
	seg, err := t.opts.Detector.Segment(services.WithStage(ctx, "detect"), gen.Image)
	if err != nil {
		return out, stageErr("detect", err)
	}

	bounds := gen.Image.Bounds()
	pred, err := t.opts.Model.Forward(gen.Features, embedding, bounds.Dy(), bounds.Dx())
	if err != nil {
		return out, stageErr("fuse", err)
	}
	predMask, err := masks.Threshold(pred.Logits)
	if err != nil {
		return out, stageErr("fuse", err)
	}

	if visualizing {
		if err := t.save(fmt.Sprintf("sd_image_%d_%s.png", step, token), gen.Image); err != nil {
			return out, err
		}
		if err := t.save(fmt.Sprintf("vis_sample_%d_%s_pred_seg.png", step, token), predMask.Image()); err != nil {
			return out, err
		}
		heat, err := visualize.MaskImage(pred.Logits)
		if err != nil {
			return out, stageErr("visualize", err)
		}
		if err := t.save(fmt.Sprintf("vis_sample_%d_%s_pred_logits.png", step, token), heat); err != nil {
			return out, err
		}
	}

	detIdx, ok := t.opts.Catalog.DetectorIndex(class)
	if !ok {
		return out, services.Wrap(services.ErrConfiguration, "training", "detect",
			fmt.Sprintf("class %q has no detector index", class), nil)
	}
	if !masks.HasMaskForClasses(seg, []int{detIdx}) {
		logging.WarnWithContext(logger, fmt.Sprintf("detector found no %s in the generated image", class), "detection_missed",
			logging.String("picked_class", class),
			logging.String("detector_class", t.opts.Catalog.DetectorName(class)),
			logging.String(logging.FieldImpact, "step skipped without a gradient update"),
		)
	} else {
		gt, _ := seg.First(detIdx)
		loss, grad, err := t.opts.Loss(pred.Logits, gt.Tensor())
		if err != nil {
			return out, stageErr("loss", err)
		}
		t.opts.Model.ZeroGrad()
		if err := t.opts.Model.Backward(pred, grad); err != nil {
			return out, stageErr("backward", err)
		}
		if err := t.opts.Optimizer.Step(t.opts.Model.Parameters()); err != nil {
			return out, stageErr("optimize", err)
		}
		if err := t.opts.Events.AddScalar(ctx, LossTag, step, loss); err != nil {
			return out, stageErr("record loss", err)
		}
		logger.Info("training loss",
			logging.String(logging.FieldEventType, "training_loss"),
			logging.Float64("loss", loss),
		)
		out.supervised = true
		out.loss = loss

		if visualizing {
			composite := visualize.SideBySide(gt.Image(), predMask.Image())
			if err := t.save(fmt.Sprintf("vis_sample_segmentation_%d_%s.png", step, token), composite); err != nil {
				return out, err
			}
			overlay := masks.Overlay(gen.Image, seg.Instances(detIdx), nil, masks.DefaultAlpha)
			if err := t.save(fmt.Sprintf("vis_sample_overlay_%d_%s.png", step, token), overlay); err != nil {
				return out, err
			}
		}
	}

	if step%t.opts.CheckpointInterval == 0 {
		rec := checkpoint.FromParameters(step, t.now(), t.opts.Model.Parameters())
		path, err := checkpoint.Write(t.opts.Paths.Root, rec)
		if err != nil {
			return out, stageErr("checkpoint", err)
		}
		logger.Info("checkpoint written",
			logging.String(logging.FieldEventType, "checkpoint_written"),
			logging.String("path", path),
		)
		out.checkpoint = path
	}
	return out, nil
}

func (t *Trainer) save(name string, img image.Image) error {
	path := filepath.Join(t.opts.Paths.Training, name)
	if err := visualize.SavePNG(path, img); err != nil {
		return stageErr("visualize", err)
	}
	return nil
}
