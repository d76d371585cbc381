package masks

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// DefaultAlpha is the blend weight of the mask colour over masked pixels.
const DefaultAlpha = 0.8

// backgroundFade is how far unmasked pixels move toward white.
const backgroundFade = 0.4

var paletteHex = []string{
	"#ff6100", "#802a2a", "#dcdcdc", "#ff9912", "#385e0f",
	"#7fffd4", "#d2b48c", "#dda0dd", "#ff0000", "#ff8000",
	"#ffff00", "#80ff00", "#00ff00", "#00ff80", "#00ffff",
	"#0080ff", "#0000ff", "#8000ff", "#ff00ff", "#ff0080",
}

// Palette is the fixed 20 colour cycle used when Overlay gets no colours.
var Palette = buildPalette()

func buildPalette() []colorful.Color {
	out := make([]colorful.Color, len(paletteHex))
	for i, hex := range paletteHex {
		c, err := colorful.Hex(hex)
		if err != nil {
			panic(err)
		}
		out[i] = c
	}
	return out
}

// Overlay paints masks over img. Masked pixels blend toward their mask colour
// by alpha; pixels outside every mask fade toward white. colors may be nil, in
// which case mask i takes Palette[i%20]. Masks whose size differs from img are
// ignored.
func Overlay(img image.Image, ms []*Mask, colors []color.Color, alpha float64) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	covered := make([]bool, b.Dx()*b.Dy())
	for i, m := range ms {
		if m == nil || m.Width != b.Dx() || m.Height != b.Dy() {
			continue
		}
		tint := maskColor(colors, i)
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				if m.At(x, y) == 0 {
					continue
				}
				covered[y*m.Width+x] = true
				out.SetRGBA(x, y, blend(out.RGBAAt(x, y), tint, alpha))
			}
		}
	}

	white := colorful.Color{R: 1, G: 1, B: 1}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if !covered[y*b.Dx()+x] {
				out.SetRGBA(x, y, blend(out.RGBAAt(x, y), white, backgroundFade))
			}
		}
	}
	return out
}

func maskColor(colors []color.Color, i int) colorful.Color {
	if i < len(colors) && colors[i] != nil {
		if c, ok := colorful.MakeColor(colors[i]); ok {
			return c
		}
	}
	return Palette[i%len(Palette)]
}

// blend mixes linearly in sRGB space.
func blend(px color.RGBA, tint colorful.Color, alpha float64) color.RGBA {
	mix := func(v uint8, t float64) uint8 {
		f := math.Round(float64(v)*(1-alpha) + t*255*alpha)
		return uint8(max(0, min(255, f)))
	}
	return color.RGBA{R: mix(px.R, tint.R), G: mix(px.G, tint.G), B: mix(px.B, tint.B), A: 255}
}
