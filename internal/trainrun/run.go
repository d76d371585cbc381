// Package trainrun wires configuration, logging, the model worker, and the
// training loop into a single `groundseg train` invocation.
package trainrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"groundseg/internal/catalog"
	"groundseg/internal/config"
	"groundseg/internal/eventlog"
	"groundseg/internal/fileutil"
	"groundseg/internal/fusion"
	"groundseg/internal/logging"
	"groundseg/internal/optim"
	"groundseg/internal/preflight"
	"groundseg/internal/services"
	"groundseg/internal/services/diffusion"
	"groundseg/internal/services/mmdet"
	"groundseg/internal/services/pyworker"
	"groundseg/internal/services/textenc"
	"groundseg/internal/training"
)

// Worker is a started model worker.
type Worker interface {
	Call(ctx context.Context, method string, args, reply any) error
	Close() error
}

// StartFunc launches a worker.
type StartFunc func(ctx context.Context, spec pyworker.Spec, logger *slog.Logger) (Worker, error)

// Options configures one run.
type Options struct {
	// MaxSteps overrides training.max_steps when positive.
	MaxSteps int
	// Progress receives the progress bar; nil disables it.
	Progress      io.Writer
	SkipPreflight bool
	// ConfigPath, when set, is copied into the run directory as config.toml.
	ConfigPath  string
	Logger      *slog.Logger
	StartWorker StartFunc
	Now         func() time.Time
}

// ConfigSnapshot is the copy of the configuration file kept in each run directory.
const ConfigSnapshot = "config.toml"

// Result describes a finished run.
type Result struct {
	Paths     training.RunPaths
	SessionID string
	Summary   training.Summary
}

func startProcess(ctx context.Context, spec pyworker.Spec, logger *slog.Logger) (Worker, error) {
	client, err := pyworker.Start(ctx, spec, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// WorkerSpec derives the worker launch spec from cfg.
func WorkerSpec(cfg *config.Config) pyworker.Spec {
	return pyworker.Spec{
		Command:        cfg.Worker.Command,
		Args:           cfg.Worker.Args,
		Dir:            cfg.Worker.Dir,
		Env:            cfg.WorkerEnv(),
		StartupTimeout: time.Duration(cfg.Worker.StartupTimeoutSeconds) * time.Second,
		CallTimeout:    time.Duration(cfg.Worker.CallTimeoutSeconds) * time.Second,
	}
}

// Run trains until max steps or until SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) (Result, error) {
	var result Result
	if cfg == nil {
		return result, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return result, services.Wrap(services.ErrConfiguration, "startup", "config", "", err)
	}
	ctx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	started := now()
	paths := training.NewRunPaths(cfg.Paths.CheckpointsDir, started)
	if err := paths.Create(); err != nil {
		return result, err
	}
	result.Paths = paths
	result.SessionID = uuid.NewString()
	if opts.ConfigPath != "" {
		if err := fileutil.CopyFile(opts.ConfigPath, filepath.Join(paths.Root, ConfigSnapshot)); err != nil {
			return result, fmt.Errorf("snapshot config: %w", err)
		}
	}

	logger, processLog, closeLogs, err := buildLogger(cfg, paths, opts.Logger)
	if err != nil {
		return result, err
	}
	defer closeLogs()
	logger = logging.WithSession(logger, result.SessionID)

	if removed := logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTarget{
		Dir:     cfg.Paths.LogDir,
		Pattern: logging.ProcessLogPrefix + "*.log",
		Exclude: []string{processLog},
	}); removed > 0 {
		logger.Debug("pruned old process logs", logging.Int("removed", removed))
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return result, services.Wrap(services.ErrConfiguration, "startup", "directories", "", err)
	}
	if !opts.SkipPreflight {
		if err := checkPreflight(ctx, cfg, logger); err != nil {
			return result, err
		}
	}

	cat, err := catalog.Load(catalog.Options{
		DetectorPath: cfg.Catalog.DetectorClasses,
		DomainPath:   cfg.Catalog.DomainClasses,
		SplitIndex:   cfg.Catalog.SplitIndex,
		Aliases:      cfg.Catalog.Aliases,
	})
	if err != nil {
		return result, err
	}
	if err := cat.Validate(); err != nil {
		return result, err
	}
	logger.Info("class catalog loaded",
		logging.String(logging.FieldEventType, "catalog_loaded"),
		logging.Int("detector_classes", cat.DetectorSize()),
		logging.Int("train_classes", len(cat.Train())),
		logging.Int("test_classes", len(cat.Test())),
	)

	start := opts.StartWorker
	if start == nil {
		start = startProcess
	}
	worker, err := start(ctx, WorkerSpec(cfg), logger)
	if err != nil {
		return result, err
	}
	defer func() {
		if cerr := worker.Close(); cerr != nil {
			logger.Debug("worker close", logging.Error(cerr))
		}
	}()

	trainer, events, err := buildTrainer(ctx, cfg, cat, worker, paths, opts, logger, now)
	if err != nil {
		return result, err
	}
	defer events.Close()

	if err := recordMeta(ctx, events, cfg, result.SessionID, started, trainerMaxSteps(cfg, opts)); err != nil {
		return result, err
	}

	result.Summary, err = trainer.Run(ctx)
	return result, err
}

func buildLogger(cfg *config.Config, paths training.RunPaths, base *slog.Logger) (*slog.Logger, string, func(), error) {
	var processLog string
	if base == nil {
		logger, logPath, err := logging.NewFromConfig(cfg)
		if err != nil {
			return nil, "", nil, fmt.Errorf("init logger: %w", err)
		}
		base, processLog = logger, logPath
	}
	handler, closer, err := logging.NewFileHandler(filepath.Join(paths.Logs, "train.log"), "debug")
	if err != nil {
		return nil, "", nil, err
	}
	return logging.TeeLogger(base, handler), processLog, func() { _ = closer.Close() }, nil
}

func checkPreflight(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	failed := preflight.Failed(preflight.RunAll(ctx, cfg))
	if len(failed) == 0 {
		return nil
	}
	var errs []error
	for _, r := range failed {
		logging.ErrorWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "run groundseg status for the full report"),
		)
		errs = append(errs, fmt.Errorf("%s: %s", r.Name, r.Detail))
	}
	return services.Wrap(services.ErrConfiguration, "startup", "preflight", "", errors.Join(errs...))
}

func trainerMaxSteps(cfg *config.Config, opts Options) int {
	if opts.MaxSteps > 0 {
		return opts.MaxSteps
	}
	return cfg.Training.MaxSteps
}

func buildTrainer(ctx context.Context, cfg *config.Config, cat *catalog.Catalog, worker Worker, paths training.RunPaths,
	opts Options, logger *slog.Logger, now func() time.Time) (*training.Trainer, *eventlog.Store, error) {
	generator, err := diffusion.New(worker, diffusion.Options{
		Model:          cfg.Generator.Model,
		ModelType:      cfg.ModelType(),
		TempDir:        cfg.Paths.TempDir,
		Hooks:          cfg.Generator.Hooks,
		InferenceSteps: cfg.Generator.InferenceSteps,
		GuidanceScale:  cfg.Generator.GuidanceScale,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	embedder, err := textenc.New(worker, textenc.Options{
		Model:          cfg.Embedder.Model,
		TokenSelection: cfg.Embedder.TokenSelection,
		TempDir:        cfg.Paths.TempDir,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	detector, err := mmdet.New(worker, mmdet.Options{
		Config:         cfg.Detector.Config,
		Checkpoint:     cfg.Detector.Checkpoint,
		ScoreThreshold: cfg.Detector.ScoreThreshold,
		TempDir:        cfg.Paths.TempDir,
		Classes:        cat.DetectorSize(),
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	model, err := fusion.New(fusion.Config{
		Resolution: cfg.Fusion.Resolution,
		Hidden:     cfg.Fusion.HiddenChannels,
		InitScale:  cfg.Fusion.InitScale,
		Seed:       cfg.Training.Seed,
	})
	if err != nil {
		return nil, nil, services.Wrap(services.ErrConfiguration, "startup", "fusion", "", err)
	}
	adam, err := optim.NewAdam(optim.DefaultAdam(cfg.Training.LearningRate))
	if err != nil {
		return nil, nil, services.Wrap(services.ErrConfiguration, "startup", "optimizer", "", err)
	}

	events, err := eventlog.Open(ctx, paths.Logs)
	if err != nil {
		return nil, nil, err
	}
	trainer, err := training.New(training.Options{
		Catalog:            cat,
		Generator:          generator,
		Embedder:           embedder,
		Detector:           detector,
		Model:              model,
		Optimizer:          adam,
		Loss:               fusion.BCEWithLogits,
		Events:             events,
		Paths:              paths,
		Seed:               cfg.Training.Seed,
		BatchSize:          cfg.Training.BatchSize,
		MaxSteps:           trainerMaxSteps(cfg, opts),
		PromptTemplate:     cfg.Training.PromptTemplate,
		CheckpointInterval: cfg.Training.CheckpointInterval,
		VisualizeInterval:  cfg.Training.VisualizeInterval,
		Progress:           opts.Progress,
		Logger:             logger,
		Now:                now,
	})
	if err != nil {
		_ = events.Close()
		return nil, nil, err
	}
	return trainer, events, nil
}

func recordMeta(ctx context.Context, events *eventlog.Store, cfg *config.Config, sessionID string, started time.Time, maxSteps int) error {
	meta := [][2]string{
		{eventlog.MetaSessionID, sessionID},
		{eventlog.MetaStartedAt, started.UTC().Format(time.RFC3339)},
		{eventlog.MetaModel, cfg.Generator.Model},
		{eventlog.MetaSeed, strconv.FormatInt(cfg.Training.Seed, 10)},
		{eventlog.MetaMaxSteps, strconv.Itoa(maxSteps)},
	}
	for _, kv := range meta {
		if err := events.SetMeta(ctx, kv[0], kv[1]); err != nil {
			return fmt.Errorf("record run metadata: %w", err)
		}
	}
	return nil
}

// ProgressWriter returns os.Stderr when progress is enabled and stderr is a
// terminal, nil otherwise.
func ProgressWriter(cfg *config.Config, isTerminal func(uintptr) bool) io.Writer {
	if cfg == nil || !cfg.Training.Progress || isTerminal == nil {
		return nil
	}
	if !isTerminal(os.Stderr.Fd()) {
		return nil
	}
	return os.Stderr
}
