package l4tracks

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l1frames"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l3detections"
)

// TrackPoint is one detection committed to a track, with the frame
// timestamp and the segmentation settings that produced it.
type TrackPoint struct {
	X, Y  float64
	Frame int

	// Capture time, copied verbatim from the frame source.
	Sec  int
	Msec int
	Usec int

	Intensity float64
	Area      float64

	MaxDiff      float64
	MinArea      float64
	MaxArea      float64
	Threshold    float64
	MinThreshold float64
	WhichPrev    int
}

// NewTrackPoint builds a point from a detection in frame.
func NewTrackPoint(frame int, d l3detections.Detection, info l3detections.SegmentInfo, ts l1frames.Timestamp) TrackPoint {
	return TrackPoint{
		X:            d.X,
		Y:            d.Y,
		Frame:        frame,
		Sec:          ts.Sec,
		Msec:         ts.Msec,
		Usec:         ts.Usec,
		Intensity:    d.Intensity,
		Area:         d.Area,
		MaxDiff:      info.MaxDiff,
		MinArea:      info.MinArea,
		MaxArea:      info.MaxArea,
		Threshold:    info.Threshold,
		MinThreshold: info.MinThreshold,
		WhichPrev:    info.WhichPrev,
	}
}

func (p TrackPoint) pos() r2.Vec { return r2.Vec{X: p.X, Y: p.Y} }

// Track is an ordered sequence of points sharing one identity. Point
// frames are strictly increasing.
type Track struct {
	ID     int
	Points []TrackPoint
}

// Len returns the number of points.
func (t Track) Len() int { return len(t.Points) }

// FirstFrame returns the frame of the first point, or -1 when empty.
func (t Track) FirstFrame() int {
	if len(t.Points) == 0 {
		return -1
	}
	return t.Points[0].Frame
}

// LastFrame returns the frame of the last point, or -1 when empty.
func (t Track) LastFrame() int {
	if len(t.Points) == 0 {
		return -1
	}
	return t.Points[len(t.Points)-1].Frame
}

// PointAt returns the index of the point in frame, or -1.
func (t Track) PointAt(frame int) int {
	lo, hi := 0, len(t.Points)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.Points[mid].Frame < frame {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(t.Points) && t.Points[lo].Frame == frame {
		return lo
	}
	return -1
}

func (t *Track) clone() *Track {
	return &Track{ID: t.ID, Points: append([]TrackPoint(nil), t.Points...)}
}
