package visualize_test

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"groundseg/internal/tensor"
	"groundseg/internal/visualize"
)

func TestMaskImageNormalizes(t *testing.T) {
	raster, _ := tensor.FromData([]int{1, 1, 1, 3}, []float32{-2, 0, 2})
	img, err := visualize.MaskImage(raster)
	if err != nil {
		t.Fatal(err)
	}
	if img.Pix[0] != 0 || img.Pix[1] != 128 || img.Pix[2] != 255 {
		t.Fatalf("unexpected pixels %v", img.Pix)
	}

	flat, _ := tensor.FromData([]int{2, 2}, []float32{3, 3, 3, 3})
	img, err = visualize.MaskImage(flat)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range img.Pix {
		if p != 0 {
			t.Fatalf("constant raster should render black, got %v", img.Pix)
		}
	}
}

func TestSideBySideAndSave(t *testing.T) {
	left := image.NewGray(image.Rect(0, 0, 2, 2))
	right := image.NewGray(image.Rect(0, 0, 3, 1))
	right.SetGray(2, 0, color.Gray{Y: 255})

	combined := visualize.SideBySide(left, right)
	if b := combined.Bounds(); b.Dx() != 5 || b.Dy() != 2 {
		t.Fatalf("unexpected bounds %v", b)
	}
	if got := combined.RGBAAt(4, 0); got.R != 255 {
		t.Fatalf("right image not placed after left: %v", got)
	}

	path := filepath.Join(t.TempDir(), "training", "composite.png")
	if err := visualize.SavePNG(path, combined); err != nil {
		t.Fatalf("SavePNG: %v", err)
	}
	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	decoded, err := png.Decode(file)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Bounds().Dx() != 5 {
		t.Fatalf("decoded width %d", decoded.Bounds().Dx())
	}
}
