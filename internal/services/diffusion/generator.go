// Package diffusion adapts the text-to-image diffusion pipeline hosted by the
// model worker. Each Generate call returns the sampled image together with the
// feature maps captured at the configured hook points.
package diffusion

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"groundseg/internal/logging"
	"groundseg/internal/services"
	"groundseg/internal/services/pyworker"
	"groundseg/internal/tensor"
)

const stageName = "generate"

// Caller issues worker calls.
type Caller interface {
	Call(ctx context.Context, method string, args, reply any) error
}

// Options configures the generator adapter.
type Options struct {
	// Model is the pretrained pipeline id, e.g. "runwayml/stable-diffusion-v1-5".
	Model string
	// ModelType names the cache entry, conventionally the last segment of Model.
	ModelType string
	// TempDir holds the unet_model cache and per-call work directories.
	TempDir        string
	Hooks          []string
	InferenceSteps int
	GuidanceScale  float64
}

// Result is one generation: the image and the features captured while
// sampling it, in hook order.
type Result struct {
	Image    image.Image
	Features []tensor.Named
}

// Feature returns the tensor captured at hook.
func (r Result) Feature(hook string) (*tensor.Tensor, bool) {
	for _, f := range r.Features {
		if f.Name == hook {
			return f.Tensor, true
		}
	}
	return nil, false
}

// Generator samples images through the worker.
type Generator struct {
	worker Caller
	opts   Options
	logger *slog.Logger

	cacheDir string
	prepared bool
}

// New validates opts and returns a generator. Prepare must succeed before Generate.
func New(worker Caller, opts Options, logger *slog.Logger) (*Generator, error) {
	if worker == nil {
		return nil, errors.New("diffusion: worker is required")
	}
	if opts.Model == "" || opts.ModelType == "" {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "init", "model and model type are required", nil)
	}
	if len(opts.Hooks) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "init", "at least one hook is required", nil)
	}
	return &Generator{
		worker:   worker,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "diffusion"),
		cacheDir: CacheDir(opts.TempDir, opts.ModelType),
	}, nil
}

// CacheDir returns where the instrumented denoising network for modelType is cached.
func CacheDir(tempDir, modelType string) string {
	return filepath.Join(tempDir, "unet_model", modelType)
}

// Hooks returns the configured hook names in capture order.
func (g *Generator) Hooks() []string { return append([]string(nil), g.opts.Hooks...) }

// Prepare makes sure the instrumented denoising network is exported into the
// local cache. An existing cache directory is reused without re-deriving it.
// Derivation holds a file lock so concurrent processes never export into the
// same directory.
func (g *Generator) Prepare(ctx context.Context) error {
	if g.prepared {
		return nil
	}
	if exists(g.cacheDir) {
		g.logger.Info("denoising network cache hit",
			logging.String("cache_dir", g.cacheDir),
			logging.String(logging.FieldEventType, "unet_cache_hit"),
		)
		g.prepared = true
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(g.cacheDir), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, stageName, "prepare", "create cache root", err)
	}
	lock := flock.New(g.cacheDir + ".lock")
	locked, err := lock.TryLockContext(ctx, 500*time.Millisecond)
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "prepare", "acquire cache lock", err)
	}
	if !locked {
		return services.Wrap(services.ErrTransient, stageName, "prepare", "cache lock not acquired", nil)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	// Another process may have finished the export while we waited.
	if exists(g.cacheDir) {
		g.prepared = true
		return nil
	}

	g.logger.Info("exporting denoising network",
		logging.String("model", g.opts.Model),
		logging.String("cache_dir", g.cacheDir),
		logging.String(logging.FieldEventType, "unet_cache_export"),
	)
	started := time.Now()
	var reply pyworker.PrepareReply
	req := pyworker.PrepareRequest{Model: g.opts.Model, CacheDir: g.cacheDir, Hooks: g.opts.Hooks}
	if err := g.worker.Call(ctx, "Worker.Prepare", req, &reply); err != nil {
		return err
	}
	if !exists(g.cacheDir) {
		return services.Wrap(services.ErrExternalTool, stageName, "prepare",
			fmt.Sprintf("worker reported success but %s is missing", g.cacheDir), nil)
	}
	g.logger.Info("denoising network exported",
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "unet_cache_ready"),
	)
	g.prepared = true
	return nil
}

// Generate samples one image for prompt with the given seed. Features come
// from this call alone: the work directory is fresh and removed afterwards.
func (g *Generator) Generate(ctx context.Context, prompt string, seed int64) (Result, error) {
	if !g.prepared {
		return Result{}, services.Wrap(services.ErrConfiguration, stageName, "generate", "Prepare has not run", nil)
	}
	workDir, cleanup, err := pyworker.NewWorkDir(filepath.Join(g.opts.TempDir, "work"), "generate")
	if err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, stageName, "generate", "work dir", err)
	}
	defer cleanup()

	req := pyworker.GenerateRequest{
		Model:          g.opts.Model,
		CacheDir:       g.cacheDir,
		Prompt:         prompt,
		Hooks:          g.opts.Hooks,
		InferenceSteps: g.opts.InferenceSteps,
		GuidanceScale:  g.opts.GuidanceScale,
		Seed:           seed,
		WorkDir:        workDir,
	}
	var reply pyworker.GenerateReply
	if err := g.worker.Call(ctx, "Worker.Generate", req, &reply); err != nil {
		return Result{}, err
	}

	img, err := readPNG(reply.Image)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, stageName, "decode image", reply.Image, err)
	}

	byName := make(map[string]pyworker.TensorFile, len(reply.Features))
	for _, f := range reply.Features {
		byName[f.Name] = f
	}
	features := make([]tensor.Named, 0, len(g.opts.Hooks))
	for _, hook := range g.opts.Hooks {
		file, ok := byName[hook]
		if !ok {
			return Result{}, services.Wrap(services.ErrExternalTool, stageName, "features",
				fmt.Sprintf("worker did not report hook %q", hook), nil)
		}
		t, err := tensor.ReadRaw(file.Path, file.Shape)
		if err != nil {
			return Result{}, services.Wrap(services.ErrExternalTool, stageName, "features", hook, err)
		}
		features = append(features, tensor.Named{Name: hook, Tensor: t})
	}
	return Result{Image: img, Features: features}, nil
}

func readPNG(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return png.Decode(file)
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
