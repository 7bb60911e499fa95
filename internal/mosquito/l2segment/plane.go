package l2segment

import (
	"image"
	"math"
	"slices"
)

// sample is the element type of a difference plane.
type sample interface {
	~int16 | ~float32
}

// pixel covers source buffers as well as difference planes.
type pixel interface {
	~uint8 | ~int16 | ~float32
}

// plane is a row-major w*h buffer. Its backing array is reused across
// frames and only grows when the region gets larger.
type plane[T pixel] struct {
	w, h int
	pix  []T
}

func (p *plane[T]) resize(w, h int) {
	n := w * h
	if cap(p.pix) < n {
		p.pix = make([]T, n)
	} else {
		p.pix = p.pix[:n]
	}
	p.w, p.h = w, h
}

// grow returns s resized to n zeroed elements, reusing capacity.
func grow[E any](s []E, n int) []E {
	if cap(s) < n {
		return make([]E, n)
	}
	s = s[:n]
	clear(s)
	return s
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// cropGray copies rect r of img into dst.
func cropGray(dst *plane[uint8], img *image.Gray, r image.Rectangle) {
	w, h := r.Dx(), r.Dy()
	dst.resize(w, h)
	for y := 0; y < h; y++ {
		off := img.PixOffset(r.Min.X, r.Min.Y+y)
		copy(dst.pix[y*w:(y+1)*w], img.Pix[off:off+w])
	}
}

func toFloat(dst *plane[float32], src *plane[uint8]) {
	dst.resize(src.w, src.h)
	for i, v := range src.pix {
		dst.pix[i] = float32(v)
	}
}

// difference writes prev-cur (blackOnWhite) or cur-prev into dst.
func difference[S pixel, T sample](dst *plane[T], cur, prev *plane[S], blackOnWhite bool) {
	dst.resize(cur.w, cur.h)
	if blackOnWhite {
		for i := range dst.pix {
			dst.pix[i] = T(prev.pix[i]) - T(cur.pix[i])
		}
		return
	}
	for i := range dst.pix {
		dst.pix[i] = T(cur.pix[i]) - T(prev.pix[i])
	}
}

// medianBlur applies a k*k median filter with replicated borders. dst
// must not alias src. The window scratch is returned for reuse.
func medianBlur[T pixel](dst, src *plane[T], k int, window []T) []T {
	dst.resize(src.w, src.h)
	r := k / 2
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			window = window[:0]
			for dy := -r; dy <= r; dy++ {
				row := clampInt(y+dy, 0, src.h-1) * src.w
				for dx := -r; dx <= r; dx++ {
					window = append(window, src.pix[row+clampInt(x+dx, 0, src.w-1)])
				}
			}
			slices.Sort(window)
			dst.pix[y*src.w+x] = window[len(window)/2]
		}
	}
	return window
}

// gaussianSigma returns sigma, or the OpenCV default for a k-wide kernel
// when sigma is not positive.
func gaussianSigma(k int, sigma float64) float64 {
	if sigma > 0 {
		return sigma
	}
	return 0.3*((float64(k)-1)*0.5-1) + 0.8
}

// gaussianKernel returns normalised 1-D weights. A non-positive sigma is
// derived from the kernel size the way OpenCV does it.
func gaussianKernel(k int, sigma float64) []float32 {
	sigma = gaussianSigma(k, sigma)
	r := k / 2
	weights := make([]float64, k)
	sum := 0.0
	for i := range weights {
		d := float64(i - r)
		weights[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += weights[i]
	}
	out := make([]float32, k)
	for i, w := range weights {
		out[i] = float32(w / sum)
	}
	return out
}

// gaussianBlur applies a separable k*k Gaussian with replicated borders.
// dst may alias src; tmp must not alias either.
func gaussianBlur(dst, tmp, src *plane[float32], k int, sigma float64) {
	kern := gaussianKernel(k, sigma)
	r := k / 2
	w, h := src.w, src.h
	tmp.resize(w, h)
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			var acc float32
			for i, kw := range kern {
				acc += kw * src.pix[row+clampInt(x+i-r, 0, w-1)]
			}
			tmp.pix[row+x] = acc
		}
	}
	dst.resize(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float32
			for i, kw := range kern {
				acc += kw * tmp.pix[clampInt(y+i-r, 0, h-1)*w+x]
			}
			dst.pix[y*w+x] = acc
		}
	}
}
