//go:build !withcv
// +build !withcv

package l2segment

// blur32 smooths a float plane with the pure Go separable Gaussian.
func blur32(dst, tmp, src *plane[float32], k int, sigma float64) {
	gaussianBlur(dst, tmp, src, k, sigma)
}
