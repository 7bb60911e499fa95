//go:build withcv
// +build withcv

package l2segment

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/banshee-data/mosquito.tracker/internal/monitoring"
)

// blur32 smooths a float plane with OpenCV's Gaussian and replicated
// borders. The sigma is resolved up front so OpenCV never swaps in its
// fixed small-kernel tables.
func blur32(dst, tmp, src *plane[float32], k int, sigma float64) {
	in := gocv.NewMatWithSize(src.h, src.w, gocv.MatTypeCV32F)
	defer in.Close()
	data, err := in.DataPtrFloat32()
	if err != nil {
		monitoring.Logf("segment: gocv mat: %v, using Go blur", err)
		gaussianBlur(dst, tmp, src, k, sigma)
		return
	}
	copy(data, src.pix)

	out := gocv.NewMat()
	defer out.Close()
	s := gaussianSigma(k, sigma)
	gocv.GaussianBlur(in, &out, image.Pt(k, k), s, s, gocv.BorderReplicate)

	res, err := out.DataPtrFloat32()
	if err != nil {
		monitoring.Logf("segment: gocv result: %v, using Go blur", err)
		gaussianBlur(dst, tmp, src, k, sigma)
		return
	}
	dst.resize(src.w, src.h)
	copy(dst.pix, res)
}
