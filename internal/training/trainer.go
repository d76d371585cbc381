package training

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"groundseg/internal/catalog"
	"groundseg/internal/fusion"
	"groundseg/internal/logging"
	"groundseg/internal/masks"
	"groundseg/internal/services"
	"groundseg/internal/services/diffusion"
	"groundseg/internal/tensor"
)

// LossTag is the scalar tag the loop records training loss under.
const LossTag = "train/loss"

// Generator samples an image and its captured features for a prompt.
type Generator interface {
	Prepare(ctx context.Context) error
	Generate(ctx context.Context, prompt string, seed int64) (diffusion.Result, error)
}

// Embedder encodes a prompt as [batch, tokens, dim].
type Embedder interface {
	Embed(ctx context.Context, prompt string, batch int) (*tensor.Tensor, error)
}

// Detector segments an image into per-class instance masks.
type Detector interface {
	Segment(ctx context.Context, img image.Image) (masks.Segmentation, error)
}

// Model is the trainable fusion module.
type Model interface {
	Forward(features []tensor.Named, embedding *tensor.Tensor, height, width int) (*fusion.Prediction, error)
	Backward(pred *fusion.Prediction, gradLogits *tensor.Tensor) error
	ZeroGrad()
	Parameters() []*fusion.Parameter
}

// Optimizer applies one update from accumulated gradients.
type Optimizer interface {
	Step(params []*fusion.Parameter) error
}

// LossFunc returns the loss and its gradient with respect to logits.
type LossFunc func(logits, target *tensor.Tensor) (float64, *tensor.Tensor, error)

// ScalarSink records scalar events.
type ScalarSink interface {
	AddScalar(ctx context.Context, tag string, step int, value float64) error
}

// Options wires a Trainer.
type Options struct {
	Catalog   *catalog.Catalog
	Generator Generator
	Embedder  Embedder
	Detector  Detector
	Model     Model
	Optimizer Optimizer
	Loss      LossFunc
	Events    ScalarSink

	Paths              RunPaths
	Seed               int64
	BatchSize          int
	MaxSteps           int
	PromptTemplate     string
	CheckpointInterval int
	VisualizeInterval  int

	// Progress, when set, receives a terminal progress bar.
	Progress io.Writer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Summary reports what a run did.
type Summary struct {
	Steps       int
	Supervised  int
	Skipped     int
	LastLoss    float64
	Checkpoints []string
}

// Trainer owns the step counter, RNG, and run paths of one run.
type Trainer struct {
	opts    Options
	rng     *rand.Rand
	classes []string
	logger  *slog.Logger
	now     func() time.Time
	sampler *logging.ProgressSampler
}

// New validates opts and returns a trainer.
func New(opts Options) (*Trainer, error) {
	switch {
	case opts.Catalog == nil:
		return nil, errors.New("training: catalog is required")
	case opts.Generator == nil || opts.Embedder == nil || opts.Detector == nil:
		return nil, errors.New("training: generator, embedder, and detector are required")
	case opts.Model == nil || opts.Optimizer == nil:
		return nil, errors.New("training: model and optimizer are required")
	case opts.Events == nil:
		return nil, errors.New("training: event sink is required")
	case opts.Paths.Root == "":
		return nil, errors.New("training: run paths are required")
	}
	if opts.Loss == nil {
		opts.Loss = fusion.BCEWithLogits
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.MaxSteps <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "training", "init", "max steps must be positive", nil)
	}
	if opts.CheckpointInterval <= 0 || opts.VisualizeInterval <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "training", "init", "checkpoint and visualize intervals must be positive", nil)
	}
	if !strings.Contains(opts.PromptTemplate, "{class}") {
		return nil, services.Wrap(services.ErrConfiguration, "training", "init", "prompt template must contain {class}", nil)
	}
	classes := opts.Catalog.Train()
	if len(classes) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "training", "init", "no training classes", nil)
	}
	if err := opts.Catalog.Validate(); err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	seed := uint64(opts.Seed)
	return &Trainer{
		opts:    opts,
		rng:     rand.New(rand.NewPCG(seed, seed)),
		classes: classes,
		logger:  logging.NewComponentLogger(opts.Logger, "training"),
		now:     now,
		sampler: logging.NewProgressSampler(5),
	}, nil
}

// Prompt fills the prompt template for class.
func (t *Trainer) Prompt(class string) string {
	return strings.ReplaceAll(t.opts.PromptTemplate, "{class}", class)
}

// Run executes up to MaxSteps steps. It stops early, returning the context
// error, when ctx is cancelled between steps. Any other error aborts the run.
func (t *Trainer) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	if err := t.opts.Paths.Create(); err != nil {
		return summary, services.Wrap(services.ErrConfiguration, "training", "run dirs", "", err)
	}
	ctx = services.WithRunID(ctx, t.opts.Paths.ID())
	logger := logging.WithContext(ctx, t.logger)

	if err := t.opts.Generator.Prepare(services.WithStage(ctx, "prepare")); err != nil {
		return summary, err
	}

	var bar *progressbar.ProgressBar
	if t.opts.Progress != nil {
		bar = progressbar.NewOptions(t.opts.MaxSteps,
			progressbar.OptionSetWriter(t.opts.Progress),
			progressbar.OptionSetDescription("training"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("step"),
			progressbar.OptionThrottle(250*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		defer func() { _ = bar.Finish() }()
	}

	logger.Info("training started",
		logging.String(logging.FieldEventType, "training_start"),
		logging.Int("max_steps", t.opts.MaxSteps),
		logging.Int("train_classes", len(t.classes)),
		logging.String("run_dir", t.opts.Paths.Root),
	)
	started := t.now()

	for step := 0; step < t.opts.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			logger.Warn("training interrupted",
				logging.String(logging.FieldEventType, "training_interrupted"),
				logging.Int("completed_steps", summary.Steps),
				logging.String(logging.FieldImpact, "run stopped before max_steps"),
			)
			return summary, err
		}
		outcome, err := t.step(ctx, step)
		if err != nil {
			logging.ErrorWithContext(logging.WithContext(services.WithStep(ctx, step), t.logger),
				"training step failed", "training_step_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
			)
			return summary, err
		}
		summary.Steps++
		if outcome.supervised {
			summary.Supervised++
			summary.LastLoss = outcome.loss
		} else {
			summary.Skipped++
		}
		if outcome.checkpoint != "" {
			summary.Checkpoints = append(summary.Checkpoints, outcome.checkpoint)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
		if t.sampler.ShouldLog(step, t.opts.MaxSteps) {
			logger.Info("training progress",
				logging.String(logging.FieldEventType, "training_progress"),
				logging.Int("completed_steps", step+1),
				logging.Int("supervised", summary.Supervised),
				logging.Int("skipped", summary.Skipped),
				logging.Duration("elapsed", t.now().Sub(started)),
			)
		}
	}

	logger.Info("training finished",
		logging.String(logging.FieldEventType, "training_complete"),
		logging.Int("steps", summary.Steps),
		logging.Int("supervised", summary.Supervised),
		logging.Int("skipped", summary.Skipped),
		logging.Int("checkpoints", len(summary.Checkpoints)),
	)
	return summary, nil
}

func (t *Trainer) pickClass() string {
	return t.classes[t.rng.IntN(len(t.classes))]
}

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", stage, err)
}
