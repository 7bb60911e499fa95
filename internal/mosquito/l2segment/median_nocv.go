//go:build !withcv
// +build !withcv

package l2segment

// medianBlur8 smooths an 8-bit source crop with the pure Go kernel.
func medianBlur8(dst, src *plane[uint8], k int, window []uint8) []uint8 {
	return medianBlur(dst, src, k, window)
}
