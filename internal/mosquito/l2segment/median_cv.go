//go:build withcv
// +build withcv

package l2segment

import (
	"gocv.io/x/gocv"

	"github.com/banshee-data/mosquito.tracker/internal/monitoring"
)

// medianBlur8 smooths an 8-bit source crop with OpenCV. OpenCV replicates
// borders for 8-bit median filtering, so results match the pure Go kernel.
func medianBlur8(dst, src *plane[uint8], k int, window []uint8) []uint8 {
	in, err := gocv.NewMatFromBytes(src.h, src.w, gocv.MatTypeCV8U, src.pix)
	if err != nil {
		monitoring.Logf("segment: gocv mat: %v, using Go median", err)
		return medianBlur(dst, src, k, window)
	}
	defer in.Close()

	out := gocv.NewMat()
	defer out.Close()
	gocv.MedianBlur(in, &out, k)

	dst.resize(src.w, src.h)
	copy(dst.pix, out.ToBytes())
	return window
}
