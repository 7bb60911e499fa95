//go:build withcv
// +build withcv

package l2segment

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/banshee-data/mosquito.tracker/internal/monitoring"
)

// morphology erodes then dilates a 0/1 mask with a 3x3 rectangle in
// OpenCV. The default constant border never erodes and never dilates, as
// in erode3 and dilate3. It returns the buffer holding the result.
func morphology(bin, tmp []uint8, w, h, erode, dilate int) ([]uint8, []uint8) {
	if erode == 0 && dilate == 0 {
		return bin, tmp
	}
	src := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8U)
	dst := gocv.NewMat()
	defer func() {
		src.Close()
		dst.Close()
	}()
	data, err := src.DataPtrUint8()
	if err != nil {
		monitoring.Logf("segment: gocv mat: %v, using Go morphology", err)
		return morph(bin, tmp, w, h, erode, dilate)
	}
	copy(data, bin)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	for i := 0; i < erode; i++ {
		gocv.Erode(src, &dst, kernel)
		src, dst = dst, src
	}
	for i := 0; i < dilate; i++ {
		gocv.Dilate(src, &dst, kernel)
		src, dst = dst, src
	}
	copy(tmp, src.ToBytes())
	return tmp, bin
}
