package l4tracks

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Estimate is an extrapolated track position for guided manual search.
type Estimate struct {
	X, Y  float64
	Frame int
}

// Hit is the nearest track point found by FindTrackID.
type Hit struct {
	ID    int
	Index int
	Dist  float64
}

// meanVelocity averages the per-frame step velocities of pts.
func meanVelocity(pts []TrackPoint) r2.Vec {
	var sum r2.Vec
	for k := 1; k < len(pts); k++ {
		dt := float64(pts[k].Frame - pts[k-1].Frame)
		sum = r2.Add(sum, r2.Scale(1/dt, r2.Sub(pts[k].pos(), pts[k-1].pos())))
	}
	return r2.Scale(1/float64(len(pts)-1), sum)
}

// EstimateNextPosition extrapolates track id ahead frames past its last
// point using the mean step velocity of its last n points (n >= 2,
// clamped to the track length). It fails for tracks with fewer than two
// points.
func (r *Registry) EstimateNextPosition(id, n, ahead int) (Estimate, bool) {
	t, ok := r.GetSingleTrack(id)
	if !ok || len(t.Points) < 2 {
		return Estimate{}, false
	}
	n = clampWindow(n, len(t.Points))
	last := t.Points[len(t.Points)-1]
	v := meanVelocity(t.Points[len(t.Points)-n:])
	p := r2.Add(last.pos(), r2.Scale(float64(ahead), v))
	return Estimate{X: p.X, Y: p.Y, Frame: last.Frame + ahead}, true
}

// EstimatePrevPosition extrapolates track id ahead frames before its
// first point using the mean step velocity of its first n points.
func (r *Registry) EstimatePrevPosition(id, n, ahead int) (Estimate, bool) {
	t, ok := r.GetSingleTrack(id)
	if !ok || len(t.Points) < 2 {
		return Estimate{}, false
	}
	n = clampWindow(n, len(t.Points))
	first := t.Points[0]
	v := meanVelocity(t.Points[:n])
	p := r2.Sub(first.pos(), r2.Scale(float64(ahead), v))
	return Estimate{X: p.X, Y: p.Y, Frame: first.Frame - ahead}, true
}

func clampWindow(n, length int) int {
	if n < 2 {
		return 2
	}
	if n > length {
		return length
	}
	return n
}

// FindTrackID returns the track point nearest to (x, y) within radius
// among points whose frame lies in [frameLo, frameHi]. Ties go to the
// smaller id.
func (r *Registry) FindTrackID(x, y, radius float64, frameLo, frameHi int) (Hit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	target := r2.Vec{X: x, Y: y}
	best := Hit{Dist: math.Inf(1)}
	found := false
	for _, id := range r.idsLocked() {
		for k, p := range r.tracks[id].Points {
			if p.Frame < frameLo || p.Frame > frameHi {
				continue
			}
			d := r2.Norm(r2.Sub(p.pos(), target))
			if d <= radius && d < best.Dist {
				best = Hit{ID: id, Index: k, Dist: d}
				found = true
			}
		}
	}
	return best, found
}
