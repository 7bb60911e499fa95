package l2segment

import (
	"image"

	"github.com/banshee-data/mosquito.tracker/internal/config"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l1frames"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l3detections"
)

// Params is the parameter bundle of one segmentation call.
type Params struct {
	MinArea      float64
	MaxArea      float64
	FracN        float64 // Fraction of the mode-to-max range used as threshold
	MinThreshold float64 // Threshold floor above the mode

	Erode  int // 3x3 erosion passes
	Dilate int // 3x3 dilation passes

	BlackOnWhite bool // Dark objects on a light background: D = prev - cur

	// Kernel sizes; values <= 1 disable the stage. Sizes are expected
	// odd (config.Normalise enforces it) and an even size is rounded down.
	MedianBlur1    int
	MedianBlur2    int
	GaussianBlur1  int
	GaussianBlur2  int
	GaussianSigma1 float64 // <= 0 derives sigma from the kernel size
	GaussianSigma2 float64

	ROI     *image.Rectangle
	Polygon l1frames.Polygon

	// MaskThreshold > 0 keeps pixels where current >= t, < 0 keeps pixels
	// where current < -t, 0 disables the mask.
	MaskThreshold int

	WithContours bool
	WhichPrev    int // Frame offset of the previous buffer; recorded only
}

// ParamsFromTuning builds segmentation params from a tuning config. ROI
// and polygon come from the frame source and are left unset.
func ParamsFromTuning(c *config.TuningConfig) Params {
	return Params{
		MinArea:        c.GetMinArea(),
		MaxArea:        c.GetMaxArea(),
		FracN:          c.GetFracN(),
		MinThreshold:   c.GetMinThreshold(),
		Erode:          c.GetErode(),
		Dilate:         c.GetDilate(),
		BlackOnWhite:   c.GetBlackOnWhite(),
		MedianBlur1:    c.GetMedianBlur1(),
		MedianBlur2:    c.GetMedianBlur2(),
		GaussianBlur1:  c.GetGaussianBlur1(),
		GaussianBlur2:  c.GetGaussianBlur2(),
		GaussianSigma1: c.GetGaussianSigma1(),
		GaussianSigma2: c.GetGaussianSigma2(),
		MaskThreshold:  c.GetMaskThreshold(),
		WithContours:   c.GetWithContours(),
		WhichPrev:      c.GetWhichPrev(),
	}
}

// usesFloat reports whether any Gaussian stage forces the float32 plane.
func (p Params) usesFloat() bool {
	return oddKernel(p.GaussianBlur1) > 1 || oddKernel(p.GaussianBlur2) > 1
}

// Info returns the segmentation record stored with a frame's detections.
func (p Params) Info(r Result) l3detections.SegmentInfo {
	return l3detections.SegmentInfo{
		MaxDiff:      r.MaxDiff,
		Threshold:    r.Threshold,
		MinArea:      p.MinArea,
		MaxArea:      p.MaxArea,
		MinThreshold: p.MinThreshold,
		WhichPrev:    p.WhichPrev,
	}
}

// oddKernel rounds an even kernel size down to the nearest odd one.
func oddKernel(k int) int {
	if k > 1 && k%2 == 0 {
		return k - 1
	}
	return k
}
