package diffusion_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"groundseg/internal/services"
	"groundseg/internal/services/diffusion"
	"groundseg/internal/services/pyworker"
	"groundseg/internal/tensor"
)

type fakeWorker struct {
	prepareCalls int
	skipHook     string
	workDirs     []string
}

func (f *fakeWorker) Call(_ context.Context, method string, args, reply any) error {
	switch method {
	case "Worker.Prepare":
		f.prepareCalls++
		req := args.(pyworker.PrepareRequest)
		return os.MkdirAll(req.CacheDir, 0o755)
	case "Worker.Generate":
		req := args.(pyworker.GenerateRequest)
		f.workDirs = append(f.workDirs, req.WorkDir)
		out := reply.(*pyworker.GenerateReply)
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		img.Set(1, 2, color.RGBA{R: 200, A: 255})
		imgPath := filepath.Join(req.WorkDir, "image.png")
		file, err := os.Create(imgPath)
		if err != nil {
			return err
		}
		if err := png.Encode(file, img); err != nil {
			return err
		}
		file.Close()
		out.Image = imgPath
		for i, hook := range req.Hooks {
			if hook == f.skipHook {
				continue
			}
			t := tensor.New(1, 2, 2, 2)
			for j := range t.Data {
				t.Data[j] = float32(i*10 + j)
			}
			path := filepath.Join(req.WorkDir, hook+".f32")
			file, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := tensor.WriteRaw(file, t); err != nil {
				return err
			}
			file.Close()
			out.Features = append(out.Features, pyworker.TensorFile{Name: hook, Path: path, Shape: t.Shape})
		}
		return nil
	default:
		return errors.New("unexpected method " + method)
	}
}

func newGenerator(t *testing.T, worker *fakeWorker) (*diffusion.Generator, string) {
	t.Helper()
	temp := t.TempDir()
	gen, err := diffusion.New(worker, diffusion.Options{
		Model:          "runwayml/stable-diffusion-v1-5",
		ModelType:      "stable-diffusion-v1-5",
		TempDir:        temp,
		Hooks:          []string{"up_blocks.1", "up_blocks.2"},
		InferenceSteps: 2,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return gen, temp
}

func TestPrepareExportsOnceAndReusesCache(t *testing.T) {
	worker := &fakeWorker{}
	gen, temp := newGenerator(t, worker)
	if err := gen.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if worker.prepareCalls != 1 {
		t.Fatalf("expected one export, got %d", worker.prepareCalls)
	}
	cacheDir := diffusion.CacheDir(temp, "stable-diffusion-v1-5")
	if info, err := os.Stat(cacheDir); err != nil || !info.IsDir() {
		t.Fatalf("expected cache dir %s: %v", cacheDir, err)
	}

	// A new process with the cache already on disk skips derivation.
	again, err := diffusion.New(worker, diffusion.Options{
		Model: "runwayml/stable-diffusion-v1-5", ModelType: "stable-diffusion-v1-5",
		TempDir: temp, Hooks: []string{"up_blocks.1"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := again.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if worker.prepareCalls != 1 {
		t.Fatalf("expected cache hit, got %d exports", worker.prepareCalls)
	}
}

func TestGenerateReturnsFeaturesInHookOrder(t *testing.T) {
	worker := &fakeWorker{}
	gen, _ := newGenerator(t, worker)
	if _, err := gen.Generate(context.Background(), "a photograph of a dog", 1); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected error before Prepare, got %v", err)
	}
	if err := gen.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}

	res, err := gen.Generate(context.Background(), "a photograph of a dog", 7)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if b := res.Image.Bounds(); b.Dx() != 4 || b.Dy() != 4 {
		t.Fatalf("unexpected image bounds %v", b)
	}
	if len(res.Features) != 2 || res.Features[0].Name != "up_blocks.1" || res.Features[1].Name != "up_blocks.2" {
		t.Fatalf("unexpected features %+v", res.Features)
	}
	second, ok := res.Feature("up_blocks.2")
	if !ok || second.Data[0] != 10 {
		t.Fatalf("unexpected second feature: %v %v", second, ok)
	}
	if _, err := os.Stat(worker.workDirs[0]); !os.IsNotExist(err) {
		t.Fatal("expected work dir removed after generation")
	}

	// A second call uses its own directory, so nothing can carry over.
	if _, err := gen.Generate(context.Background(), "a photograph of a cat", 8); err != nil {
		t.Fatal(err)
	}
	if worker.workDirs[0] == worker.workDirs[1] {
		t.Fatal("expected a fresh work dir per call")
	}
}

func TestGenerateMissingHook(t *testing.T) {
	worker := &fakeWorker{skipHook: "up_blocks.2"}
	gen, _ := newGenerator(t, worker)
	if err := gen.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := gen.Generate(context.Background(), "a photograph of a dog", 1)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := diffusion.New(&fakeWorker{}, diffusion.Options{Model: "m", ModelType: "m"}, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for missing hooks, got %v", err)
	}
}
