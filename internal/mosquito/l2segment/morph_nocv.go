//go:build !withcv
// +build !withcv

package l2segment

// morphology erodes then dilates a 0/1 mask with the pure Go kernels.
func morphology(bin, tmp []uint8, w, h, erode, dilate int) ([]uint8, []uint8) {
	return morph(bin, tmp, w, h, erode, dilate)
}
