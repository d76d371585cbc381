package tensor

// ResizeBilinear resamples a channel-major [c, h, w] buffer to [c, oh, ow]
// using half-pixel centers (align_corners=false).
func ResizeBilinear(src []float32, c, h, w, oh, ow int) []float32 {
	dst := make([]float32, c*oh*ow)
	if h == oh && w == ow {
		copy(dst, src)
		return dst
	}
	ys := axisWeights(h, oh)
	xs := axisWeights(w, ow)
	for ch := 0; ch < c; ch++ {
		plane := src[ch*h*w : (ch+1)*h*w]
		out := dst[ch*oh*ow : (ch+1)*oh*ow]
		for oy, y := range ys {
			r0 := plane[y.lo*w : (y.lo+1)*w]
			r1 := plane[y.hi*w : (y.hi+1)*w]
			for ox, x := range xs {
				top := r0[x.lo]*(1-x.frac) + r0[x.hi]*x.frac
				bottom := r1[x.lo]*(1-x.frac) + r1[x.hi]*x.frac
				out[oy*ow+ox] = top*(1-y.frac) + bottom*y.frac
			}
		}
	}
	return dst
}

// ResizeBilinearBackward scatters a gradient on the resized [c, oh, ow] buffer
// back onto the [c, h, w] source grid. It is the adjoint of ResizeBilinear.
func ResizeBilinearBackward(grad []float32, c, h, w, oh, ow int) []float32 {
	dst := make([]float32, c*h*w)
	if h == oh && w == ow {
		copy(dst, grad)
		return dst
	}
	ys := axisWeights(h, oh)
	xs := axisWeights(w, ow)
	for ch := 0; ch < c; ch++ {
		g := grad[ch*oh*ow : (ch+1)*oh*ow]
		plane := dst[ch*h*w : (ch+1)*h*w]
		for oy, y := range ys {
			for ox, x := range xs {
				v := g[oy*ow+ox]
				plane[y.lo*w+x.lo] += v * (1 - y.frac) * (1 - x.frac)
				plane[y.lo*w+x.hi] += v * (1 - y.frac) * x.frac
				plane[y.hi*w+x.lo] += v * y.frac * (1 - x.frac)
				plane[y.hi*w+x.hi] += v * y.frac * x.frac
			}
		}
	}
	return dst
}

type sample struct {
	lo, hi int
	frac   float32
}

func axisWeights(in, out int) []sample {
	weights := make([]sample, out)
	scale := float64(in) / float64(out)
	for i := range weights {
		pos := (float64(i)+0.5)*scale - 0.5
		if pos < 0 {
			pos = 0
		}
		lo := int(pos)
		if lo > in-1 {
			lo = in - 1
		}
		hi := lo + 1
		if hi > in-1 {
			hi = in - 1
		}
		weights[i] = sample{lo: lo, hi: hi, frac: float32(pos - float64(lo))}
	}
	return weights
}
