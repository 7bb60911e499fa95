package l4tracks

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r2"
)

// longGapPenalty inflates costs of links that span more than one frame.
const longGapPenalty = 1.1

// Connection is one candidate link from active row Row to next-frame
// detection Col.
type Connection struct {
	Cost float64
	Row  int
	Col  int
}

// baseCost is the distance from last to b per unit of time.
func baseCost(last, b r2.Vec, dt float64) float64 {
	c := r2.Norm(r2.Sub(b, last)) / dt
	if dt > 1 {
		c *= longGapPenalty
	}
	return c
}

// motionCost is the mean deviation of the velocity implied by moving from
// last to b over dt from each historical step velocity.
func motionCost(last, b r2.Vec, dt float64, history []r2.Vec) float64 {
	v := r2.Scale(1/dt, r2.Sub(b, last))
	sum := 0.0
	for _, h := range history {
		sum += r2.Norm(r2.Sub(v, h))
	}
	return sum / float64(len(history))
}

// stepVelocities returns the velocities of the last maxSteps steps of
// pts, oldest first. dt converts a frame pair into elapsed time.
func stepVelocities(pts []TrackPoint, maxSteps int, dt func(from, to int) float64) []r2.Vec {
	if len(pts) < 2 || maxSteps <= 0 {
		return nil
	}
	start := len(pts) - 1 - maxSteps
	if start < 0 {
		start = 0
	}
	out := make([]r2.Vec, 0, len(pts)-1-start)
	for k := start + 1; k < len(pts); k++ {
		d := dt(pts[k-1].Frame, pts[k].Frame)
		out = append(out, r2.Scale(1/d, r2.Sub(pts[k].pos(), pts[k-1].pos())))
	}
	return out
}

// rowInput is what the cost model needs to know about one active row.
type rowInput struct {
	last    r2.Vec
	dt      float64  // Time from the row's last sighting to the target frame
	history []r2.Vec // Step velocities; nil when motion costing is inactive
}

// pruneRow costs every target against one row, drops targets whose base
// cost reaches maxDistance and keeps the maxCandidates cheapest,
// ascending. Equal costs keep column order.
func pruneRow(row int, in rowInput, targets []r2.Vec, maxDistance float64, maxCandidates int) []Connection {
	var conns []Connection
	for col, b := range targets {
		base := baseCost(in.last, b, in.dt)
		if base >= maxDistance {
			continue
		}
		cost := base
		if len(in.history) > 0 {
			cost = motionCost(in.last, b, in.dt, in.history)
		}
		conns = append(conns, Connection{Cost: cost, Row: row, Col: col})
	}
	sort.SliceStable(conns, func(i, j int) bool { return conns[i].Cost < conns[j].Cost })
	if maxCandidates > 0 && len(conns) > maxCandidates {
		conns = conns[:maxCandidates]
	}
	return conns
}
