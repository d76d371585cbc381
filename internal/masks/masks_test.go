package masks_test

import (
	"image"
	"image/color"
	"math"
	"testing"

	"groundseg/internal/masks"
	"groundseg/internal/tensor"
)

func maskFrom(w, h int, on ...int) *masks.Mask {
	m := masks.New(w, h)
	for _, i := range on {
		m.Pix[i] = 1
	}
	return m
}

func TestIoU(t *testing.T) {
	a := maskFrom(3, 2, 0, 1, 2)
	b := maskFrom(3, 2, 1, 2, 3, 4)

	ab, err := masks.IoU(a, b)
	if err != nil {
		t.Fatal(err)
	}
	ba, _ := masks.IoU(b, a)
	if ab != ba {
		t.Fatalf("iou not symmetric: %v vs %v", ab, ba)
	}
	if math.Abs(ab-2.0/5.0) > 1e-12 {
		t.Fatalf("iou = %v, want 0.4", ab)
	}
	if self, _ := masks.IoU(a, a); self != 1 {
		t.Fatalf("self iou = %v, want 1", self)
	}
	if empty, err := masks.IoU(masks.New(3, 2), masks.New(3, 2)); err != nil || empty != 0 {
		t.Fatalf("empty union iou = %v, %v", empty, err)
	}
	if _, err := masks.IoU(a, masks.New(2, 3)); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestThreshold(t *testing.T) {
	logits, _ := tensor.FromData([]int{1, 1, 2, 2}, []float32{-3, 0, 0.01, 5})
	m, err := masks.Threshold(logits)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint8{0, 0, 1, 1}
	for i, v := range want {
		if m.Pix[i] != v {
			t.Fatalf("pix %d = %d, want %d", i, m.Pix[i], v)
		}
	}
	if m.Width != 2 || m.Height != 2 {
		t.Fatalf("size %dx%d", m.Width, m.Height)
	}

	// A binary raster passes through unchanged.
	again, err := masks.Threshold(m.Tensor())
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if again.Pix[i] != m.Pix[i] {
			t.Fatalf("threshold not idempotent at %d", i)
		}
	}

	if _, err := masks.Threshold(tensor.New(2, 1, 2, 2)); err == nil {
		t.Fatal("expected error for multi-plane logits")
	}
}

func TestHasMaskForClasses(t *testing.T) {
	one := maskFrom(2, 2, 0)
	seg := masks.Segmentation{nil, {one}, {one, one}, {}}

	cases := []struct {
		name    string
		indices []int
		want    bool
	}{
		{"empty entry", []int{0}, false},
		{"single", []int{1}, true},
		{"multi present", []int{1, 2}, true},
		{"multi with empty", []int{1, 3}, false},
		{"out of range", []int{9}, false},
		{"no indices", nil, true},
	}
	for _, tc := range cases {
		if got := masks.HasMaskForClasses(seg, tc.indices); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
	if first, ok := seg.First(2); !ok || first != one {
		t.Fatal("expected first instance of class 2")
	}
}

func TestFromImageAndBack(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 1))
	img.Pix[1] = 7
	m := masks.FromImage(img)
	if m.Pix[0] != 0 || m.Pix[1] != 1 {
		t.Fatalf("unexpected mask %v", m.Pix)
	}
	if out := m.Image(); out.Pix[1] != 255 || out.Pix[0] != 0 {
		t.Fatalf("unexpected rendering %v", out.Pix)
	}
}

func TestOverlay(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{A: 255})
	img.SetRGBA(1, 0, color.RGBA{A: 255})
	m := maskFrom(2, 1, 0)

	out := masks.Overlay(img, []*masks.Mask{m}, []color.Color{color.RGBA{R: 255, A: 255}}, masks.DefaultAlpha)
	if got := out.RGBAAt(0, 0); got.R != 204 || got.G != 0 {
		t.Fatalf("masked pixel %v, want red blend", got)
	}
	if got := out.RGBAAt(1, 0); got.R != 102 || got.G != 102 || got.B != 102 {
		t.Fatalf("background pixel %v, want 40%% toward white", got)
	}

	cycled := masks.Overlay(img, []*masks.Mask{m}, nil, 1)
	want := color.RGBA{R: 0xff, G: 0x61, B: 0x00, A: 255}
	if got := cycled.RGBAAt(0, 0); got != want {
		t.Fatalf("palette colour %v, want %v", got, want)
	}
	if len(masks.Palette) != 20 {
		t.Fatalf("palette has %d colours", len(masks.Palette))
	}
}
