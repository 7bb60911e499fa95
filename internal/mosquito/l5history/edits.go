package l5history

import (
	"fmt"

	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l3detections"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l4tracks"
)

// Layer names the store an edit mutates, and so the history that must be
// snapshotted before it runs.
type Layer int

const (
	LayerTracks Layer = iota
	LayerDetections
)

func (l Layer) String() string {
	switch l {
	case LayerTracks:
		return "tracks"
	case LayerDetections:
		return "detections"
	default:
		return fmt.Sprintf("layer(%d)", int(l))
	}
}

// Target is the pair of stores an edit may act on.
type Target struct {
	Detections *l3detections.Store
	Tracks     *l4tracks.Registry
}

// Edit is one interactive mutation. Apply reports false, leaving the
// store untouched, when the edit refers to something that does not exist.
type Edit interface {
	Name() string
	Layer() Layer
	Apply(*Target) bool
}

// ----------------------------------------------------------------------------
// Track edits
// ----------------------------------------------------------------------------

// JoinEdit merges two tracks; the smaller id survives.
type JoinEdit struct{ A, B int }

func (e *JoinEdit) Name() string { return fmt.Sprintf("join %d+%d", e.A, e.B) }
func (e *JoinEdit) Layer() Layer { return LayerTracks }
func (e *JoinEdit) Apply(t *Target) bool { return t.Tracks.JoinTracks(e.A, e.B) }

// SplitEdit splits a track at Index. NewID is set by Apply.
type SplitEdit struct {
	ID, Index int
	NewID     int
}

func (e *SplitEdit) Name() string { return fmt.Sprintf("split %d@%d", e.ID, e.Index) }
func (e *SplitEdit) Layer() Layer { return LayerTracks }
func (e *SplitEdit) Apply(t *Target) bool {
	id, ok := t.Tracks.SplitTrack(e.ID, e.Index)
	e.NewID = id
	return ok
}

// DeleteTrackEdit removes a track.
type DeleteTrackEdit struct{ ID int }

func (e *DeleteTrackEdit) Name() string { return fmt.Sprintf("delete %d", e.ID) }
func (e *DeleteTrackEdit) Layer() Layer { return LayerTracks }
func (e *DeleteTrackEdit) Apply(t *Target) bool { return t.Tracks.DeleteTrack(e.ID) }

// RemovePointEdit removes one point from a track.
type RemovePointEdit struct{ ID, Index int }

func (e *RemovePointEdit) Name() string { return fmt.Sprintf("remove point %d@%d", e.ID, e.Index) }
func (e *RemovePointEdit) Layer() Layer { return LayerTracks }
func (e *RemovePointEdit) Apply(t *Target) bool {
	return t.Tracks.RemovePointFromTrack(e.ID, e.Index)
}

// AddPointEdit inserts a point into a track.
type AddPointEdit struct {
	ID    int
	Point l4tracks.TrackPoint
}

func (e *AddPointEdit) Name() string { return fmt.Sprintf("add point %d@%d", e.ID, e.Point.Frame) }
func (e *AddPointEdit) Layer() Layer { return LayerTracks }
func (e *AddPointEdit) Apply(t *Target) bool {
	return t.Tracks.AddPointToTrack(e.ID, e.Point)
}

// ExtrapolateEdit adds the position estimated Ahead frames past the end
// of a track (or before its start when Backward is set), averaging the
// velocity of N points. The new point copies the segmentation fields of
// the end it extends.
type ExtrapolateEdit struct {
	ID       int
	N        int
	Ahead    int
	Backward bool

	Added l4tracks.TrackPoint // Set by Apply
}

func (e *ExtrapolateEdit) Name() string {
	dir := "forward"
	if e.Backward {
		dir = "backward"
	}
	return fmt.Sprintf("extrapolate %d %s %d", e.ID, dir, e.Ahead)
}

func (e *ExtrapolateEdit) Layer() Layer { return LayerTracks }

func (e *ExtrapolateEdit) Apply(t *Target) bool {
	if e.Ahead < 1 {
		return false
	}
	tr, ok := t.Tracks.GetSingleTrack(e.ID)
	if !ok || len(tr.Points) == 0 {
		return false
	}

	var est l4tracks.Estimate
	var base l4tracks.TrackPoint
	if e.Backward {
		est, ok = t.Tracks.EstimatePrevPosition(e.ID, e.N, e.Ahead)
		base = tr.Points[0]
	} else {
		est, ok = t.Tracks.EstimateNextPosition(e.ID, e.N, e.Ahead)
		base = tr.Points[len(tr.Points)-1]
	}
	if !ok || est.Frame < 0 {
		return false
	}

	p := base
	p.X, p.Y, p.Frame = est.X, est.Y, est.Frame
	p.Sec, p.Msec, p.Usec = 0, 0, 0
	if !t.Tracks.AddPointToTrack(e.ID, p) {
		return false
	}
	e.Added = p
	return true
}

// ----------------------------------------------------------------------------
// Detection edits
// ----------------------------------------------------------------------------

// AddDetectionEdit adds a detection by hand. Index is set by Apply.
type AddDetectionEdit struct {
	Frame     int
	Detection l3detections.Detection
	Index     int
}

func (e *AddDetectionEdit) Name() string { return fmt.Sprintf("add detection @%d", e.Frame) }
func (e *AddDetectionEdit) Layer() Layer { return LayerDetections }
func (e *AddDetectionEdit) Apply(t *Target) bool {
	idx, ok := t.Detections.AddDetection(e.Frame, e.Detection)
	e.Index = idx
	return ok
}

// RemoveDetectionEdit removes one detection.
type RemoveDetectionEdit struct{ Frame, Index int }

func (e *RemoveDetectionEdit) Name() string {
	return fmt.Sprintf("remove detection %d@%d", e.Index, e.Frame)
}
func (e *RemoveDetectionEdit) Layer() Layer { return LayerDetections }
func (e *RemoveDetectionEdit) Apply(t *Target) bool {
	return t.Detections.RemoveDetection(e.Frame, e.Index)
}

// CleanClusterEdit removes every detection inside a disc over a frame
// window. It fails when nothing was removed. Removed is set by Apply.
type CleanClusterEdit struct {
	X, Y, Radius float64
	FromFrame    int
	ToFrame      int
	Removed      int
}

func (e *CleanClusterEdit) Name() string {
	return fmt.Sprintf("clean cluster (%.1f,%.1f) r=%.1f %d..%d", e.X, e.Y, e.Radius, e.FromFrame, e.ToFrame)
}
func (e *CleanClusterEdit) Layer() Layer { return LayerDetections }
func (e *CleanClusterEdit) Apply(t *Target) bool {
	e.Removed = t.Detections.CleanCluster(e.X, e.Y, e.Radius, e.FromFrame, e.ToFrame)
	return e.Removed > 0
}
