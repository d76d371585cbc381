package textenc_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"groundseg/internal/config"
	"groundseg/internal/services"
	"groundseg/internal/services/pyworker"
	"groundseg/internal/services/textenc"
	"groundseg/internal/tensor"
)

// fakeEncoder writes a [1, 4, 2] hidden state whose row i holds (i, 10+i).
type fakeEncoder struct {
	tokens   int
	idsShape []int
	err      error
}

func (f fakeEncoder) Call(_ context.Context, method string, args, reply any) error {
	if f.err != nil {
		return f.err
	}
	if method != "Worker.Embed" {
		return errors.New("unexpected method " + method)
	}
	req := args.(pyworker.EmbedRequest)
	hidden := tensor.New(1, 4, 2)
	for i := 0; i < 4; i++ {
		hidden.Data[i*2] = float32(i)
		hidden.Data[i*2+1] = float32(10 + i)
	}
	path := filepath.Join(req.WorkDir, "hidden.f32")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := tensor.WriteRaw(file, hidden); err != nil {
		return err
	}
	out := reply.(*pyworker.EmbedReply)
	out.Hidden = pyworker.TensorFile{Name: "last_hidden_state", Path: path, Shape: hidden.Shape}
	out.InputIDsShape = f.idsShape
	out.Tokens = f.tokens
	return nil
}

func TestEmbedTokenSelection(t *testing.T) {
	cases := []struct {
		selection string
		wantShape []int
		wantFirst float32
	}{
		{config.TokenSelectionEOS, []int{3, 1, 2}, 2},
		{"", []int{3, 1, 2}, 2},
		{config.TokenSelectionLegacy, []int{3, 1, 2}, 1},
		{config.TokenSelectionAll, []int{3, 4, 2}, 0},
	}
	for _, tc := range cases {
		t.Run("selection_"+tc.selection, func(t *testing.T) {
			worker := fakeEncoder{tokens: 3, idsShape: []int{1, 77}}
			emb, err := textenc.New(worker, textenc.Options{Model: "m", TokenSelection: tc.selection, TempDir: t.TempDir()}, nil)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			out, err := emb.Embed(context.Background(), "a photograph of a dog", 3)
			if err != nil {
				t.Fatalf("Embed: %v", err)
			}
			if tensor.FormatShape(out.Shape) != tensor.FormatShape(tc.wantShape) {
				t.Fatalf("shape %v, want %v", out.Shape, tc.wantShape)
			}
			if out.Data[0] != tc.wantFirst {
				t.Fatalf("first value %v, want %v", out.Data[0], tc.wantFirst)
			}
			rowLen := out.Len() / 3
			for b := 1; b < 3; b++ {
				if out.Data[b*rowLen] != out.Data[0] {
					t.Fatalf("batch %d differs from batch 0", b)
				}
			}
		})
	}
}

func TestEmbedRejectsOutOfRangeToken(t *testing.T) {
	emb, err := textenc.New(fakeEncoder{tokens: 9}, textenc.Options{Model: "m", TempDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := emb.Embed(context.Background(), "x", 1); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestEmbedPropagatesWorkerError(t *testing.T) {
	boom := services.Wrap(services.ErrExternalTool, "worker", "Worker.Embed", "encoder crashed", nil)
	emb, err := textenc.New(fakeEncoder{err: boom}, textenc.Options{Model: "m", TempDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := emb.Embed(context.Background(), "x", 1); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected worker error, got %v", err)
	}
}

func TestNewRejectsUnknownSelection(t *testing.T) {
	if _, err := textenc.New(fakeEncoder{}, textenc.Options{Model: "m", TokenSelection: "middle"}, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
