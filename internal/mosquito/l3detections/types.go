package l3detections

import (
	"image"
	"math"
)

// Detection is one segmented candidate object in one frame.
type Detection struct {
	X, Y      float64
	Intensity float64 // Peak difference value inside the blob
	Area      float64 // Pixel count
	Contour   []image.Point
}

// Dist returns the Euclidean distance between two detections.
func (d Detection) Dist(o Detection) float64 {
	return math.Hypot(d.X-o.X, d.Y-o.Y)
}

// clone deep-copies the contour.
func (d Detection) clone() Detection {
	if d.Contour != nil {
		d.Contour = append([]image.Point(nil), d.Contour...)
	}
	return d
}

// SegmentInfo records the segmentation round that produced a frame's
// detections. It is copied into every track point built from them.
type SegmentInfo struct {
	MaxDiff      float64
	Threshold    float64
	MinArea      float64
	MaxArea      float64
	MinThreshold float64
	WhichPrev    int
}

// FrameDetections is the detection set of one frame.
type FrameDetections struct {
	Frame      int
	Trigger    int
	HasTrigger bool
	Info       SegmentInfo
	Detections []Detection
}

func (f *FrameDetections) clone() *FrameDetections {
	out := *f
	out.Detections = make([]Detection, len(f.Detections))
	for i, d := range f.Detections {
		out.Detections[i] = d.clone()
	}
	return &out
}
