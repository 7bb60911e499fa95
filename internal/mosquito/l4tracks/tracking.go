package l4tracks

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/mosquito.tracker/internal/monitoring"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l1frames"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l3detections"
	"github.com/banshee-data/mosquito.tracker/internal/timeutil"
)

// State is the lifecycle state of a tracking pass.
type State string

const (
	StateInitializing State = "initializing"
	StateStepping     State = "stepping"
	StateDone         State = "done"
	StateCancelled    State = "cancelled"
)

// seedTolerance is how close an appended pass's start detection must be
// to an existing track point to continue that track.
const seedTolerance = 1e-6

// Progress reports the position of a running pass.
type Progress struct {
	RunID  string
	State  State
	Frame  int // Target frame of the step just finished
	Step   int
	Steps  int
	Tracks int
	At     time.Time
}

// Fraction returns the completed share of the pass in [0, 1].
func (p Progress) Fraction() float64 {
	if p.Steps <= 0 {
		if p.State == StateDone {
			return 1
		}
		return 0
	}
	return float64(p.Step) / float64(p.Steps)
}

// Metrics counts what a pass did.
type Metrics struct {
	Steps        int
	Links        int // Detections linked onto an existing track
	Created      int // Tracks registered by the pass
	Dropped      int // Lost candidates abandoned after the gap window
	Cleaned      int // Detections removed by per-frame cleaning
	MeanLinkCost float64

	// Filled only with RecordAssignmentGap.
	GreedyCost   float64
	GreedyLinks  int
	OptimalCost  float64
	OptimalLinks int
}

// Summary is the outcome of a pass.
type Summary struct {
	RunID      string
	State      State
	StartFrame int
	EndFrame   int
	Tracks     int
	Metrics    Metrics
	Started    time.Time
	Finished   time.Time
}

// Tracker runs tracking passes over a detection store.
type Tracker struct {
	timestamps func(frame int) l1frames.Timestamp
	clock      timeutil.Clock
}

// NewTracker creates a tracker. timestamps supplies the capture time
// stored with each track point; nil leaves timestamps zero.
func NewTracker(timestamps func(frame int) l1frames.Timestamp) *Tracker {
	return &Tracker{timestamps: timestamps, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock used for progress and summary times.
func (t *Tracker) SetClock(c timeutil.Clock) { t.clock = c }

// lostCandidate is a track that went unmatched and may still be picked
// up within the gap window.
type lostCandidate struct {
	id       int
	det      l3detections.Detection
	lastSeen int
}

// activeEntry is one row of the cost matrix.
type activeEntry struct {
	id    int // 0 until a track is registered
	det   l3detections.Detection
	frame int
	info  l3detections.SegmentInfo
}

type pass struct {
	t         *Tracker
	store     *l3detections.Store
	reg       *Registry
	cfg       TrackerConfig
	runID     string
	metrics   Metrics
	linkCosts []float64
}

// Run links the detections of store into tracks in reg, frame by frame
// from cfg.StartFrame to cfg.EndFrame. Each frame is cleaned (area and
// minimum spacing) before it is linked; those removals are permanent.
//
// Cancellation is checked before every step. A cancelled pass keeps the
// points it already committed and returns ctx.Err() with a CANCELLED
// summary. progress may be nil.
func (t *Tracker) Run(ctx context.Context, store *l3detections.Store, reg *Registry, cfg TrackerConfig, progress func(Progress)) (Summary, error) {
	if err := cfg.Validate(); err != nil {
		return Summary{}, fmt.Errorf("tracking config: %w", err)
	}

	p := &pass{t: t, store: store, reg: reg, cfg: cfg, runID: uuid.NewString()}
	sum := Summary{RunID: p.runID, State: StateInitializing, Started: t.clock.Now()}

	start, end, ok := p.frameRange()
	steps := end - start
	p.emit(progress, StateInitializing, start, 0, steps)
	if !ok {
		monitoring.Logf("tracking: run %s has no frames to track", p.runID)
		return p.finish(sum, StateDone, start, end, progress, 0), nil
	}
	monitoring.Logf("tracking: run %s frames %d..%d append=%v", p.runID, start, end, cfg.Append)

	if !cfg.Append {
		reg.Reset()
	}
	p.clean(start)
	cur := store.Detections(start)
	markers := make(map[int]int)
	var lost []lostCandidate
	if cfg.Append {
		markers, lost = p.seed(start, cur)
	}

	for i := start; i < end; i++ {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("tracking: run %s cancelled before frame %d", p.runID, i+1)
			return p.finish(sum, StateCancelled, start, end, progress, i-start), err
		}
		cur, markers, lost = p.step(i, cur, markers, lost)
		p.emit(progress, StateStepping, i+1, i-start+1, steps)
	}
	p.finalise(end, cur, markers)

	monitoring.Logf("tracking: run %s done: %d tracks, %d links, %d created, %d dropped",
		p.runID, reg.NumOfTracks(), p.metrics.Links, p.metrics.Created, p.metrics.Dropped)
	return p.finish(sum, StateDone, start, end, progress, steps), nil
}

// frameRange resolves the configured range against the store.
func (p *pass) frameRange() (int, int, bool) {
	frames := p.store.Frames()
	if len(frames) == 0 {
		return 0, 0, false
	}
	start, end := p.cfg.StartFrame, p.cfg.EndFrame
	if start < 0 {
		start = frames[0]
	}
	if end < 0 {
		end = frames[len(frames)-1]
	}
	if end < start {
		return start, start, false
	}
	return start, end, true
}

// seed continues existing tracks in an appended pass: start detections at
// the position of a track's start-frame point take that track's id, and
// tracks that ended within the gap window become lost candidates.
func (p *pass) seed(start int, cur []l3detections.Detection) (map[int]int, []lostCandidate) {
	markers := p.owners(start, cur)
	var lost []lostCandidate
	for _, tr := range p.reg.Tracks() {
		if tr.PointAt(start) >= 0 {
			continue
		}
		last := tr.LastFrame()
		if last >= 0 && last < start && start-last < p.cfg.MaxGap {
			lp := tr.Points[len(tr.Points)-1]
			lost = append(lost, lostCandidate{
				id:       tr.ID,
				det:      l3detections.Detection{X: lp.X, Y: lp.Y, Intensity: lp.Intensity, Area: lp.Area},
				lastSeen: last,
			})
		}
	}
	return markers, lost
}

// owners maps each detection of frame that sits on an existing track's
// point in that frame to the track's id. Each track claims at most one
// detection.
func (p *pass) owners(frame int, dets []l3detections.Detection) map[int]int {
	owned := make(map[int]int)
	if len(dets) == 0 {
		return owned
	}
	for _, tr := range p.reg.Tracks() {
		k := tr.PointAt(frame)
		if k < 0 {
			continue
		}
		pt := tr.Points[k]
		for idx, d := range dets {
			if _, taken := owned[idx]; taken {
				continue
			}
			if math.Hypot(d.X-pt.X, d.Y-pt.Y) <= seedTolerance {
				owned[idx] = tr.ID
				break
			}
		}
	}
	return owned
}

// step links frame i to frame i+1 and returns the state for the next step.
func (p *pass) step(i int, cur []l3detections.Detection, markers map[int]int, lost []lostCandidate) ([]l3detections.Detection, map[int]int, []lostCandidate) {
	next := i + 1
	p.clean(next)
	targets := p.store.Detections(next)
	infoCur, _ := p.store.Info(i)

	active := make([]activeEntry, 0, len(cur)+len(lost))
	for idx, d := range cur {
		active = append(active, activeEntry{id: markers[idx], det: d, frame: i, info: infoCur})
	}
	for _, lc := range lost {
		if next-lc.lastSeen-1 < p.cfg.MaxGap {
			active = append(active, activeEntry{id: lc.id, det: lc.det, frame: lc.lastSeen})
			continue
		}
		p.metrics.Dropped++
	}

	for k := range active {
		if active[k].id != 0 {
			continue
		}
		id := p.reg.RegisterNew()
		p.reg.UpdateTrack(id, p.point(active[k].frame, active[k].det, active[k].info))
		active[k].id = id
		p.metrics.Created++
	}

	// In an appended pass, detections already on a track stay with it.
	var owned map[int]int
	if p.cfg.Append {
		owned = p.owners(next, targets)
	}
	conns := p.connections(active, targets, next, owned)
	accepted := GreedyAssign(conns)
	if p.cfg.RecordAssignmentGap {
		p.recordGap(len(active), len(targets), conns, accepted)
	}

	infoNext, _ := p.store.Info(next)
	nextMarkers := make(map[int]int, len(accepted))
	matched := make([]bool, len(active))
	for _, c := range accepted {
		a := active[c.Row]
		if owned[c.Col] == a.id {
			matched[c.Row] = true
			nextMarkers[c.Col] = a.id
			continue
		}
		if !p.reg.UpdateTrack(a.id, p.point(next, targets[c.Col], infoNext)) {
			continue // the track already owns frame next
		}
		matched[c.Row] = true
		nextMarkers[c.Col] = a.id
		p.metrics.Links++
		p.linkCosts = append(p.linkCosts, c.Cost)
	}
	carried := make(map[int]bool, len(owned))
	for col, id := range owned {
		if _, ok := nextMarkers[col]; !ok {
			nextMarkers[col] = id
		}
		carried[id] = true
	}

	var nextLost []lostCandidate
	for k, a := range active {
		if !matched[k] && !carried[a.id] {
			nextLost = append(nextLost, lostCandidate{id: a.id, det: a.det, lastSeen: a.frame})
		}
	}
	p.metrics.Steps++
	return targets, nextMarkers, nextLost
}

// finalise gives every unowned detection of the last frame its own track.
func (p *pass) finalise(end int, cur []l3detections.Detection, markers map[int]int) {
	info, _ := p.store.Info(end)
	for idx, d := range cur {
		if markers[idx] != 0 {
			continue
		}
		id := p.reg.RegisterNew()
		p.reg.UpdateTrack(id, p.point(end, d, info))
		p.metrics.Created++
	}
}

// connections builds the pruned cost list between active rows and the
// detections of frame next. Detections in owned are only offered to the
// track that owns them.
func (p *pass) connections(active []activeEntry, targets []l3detections.Detection, next int, owned map[int]int) []Connection {
	if len(active) == 0 || len(targets) == 0 {
		return nil
	}
	pos := make([]r2.Vec, len(targets))
	for k, d := range targets {
		pos[k] = r2.Vec{X: d.X, Y: d.Y}
	}

	var conns []Connection
	for row, a := range active {
		in := rowInput{
			last:    r2.Vec{X: a.det.X, Y: a.det.Y},
			dt:      p.dt(a.frame, next),
			history: p.history(a.id, a.frame),
		}
		for _, c := range pruneRow(row, in, pos, p.cfg.MaxDistance, p.cfg.MaxCandidates) {
			if id, ok := owned[c.Col]; ok && id != a.id {
				continue
			}
			conns = append(conns, c)
		}
	}
	return conns
}

// history returns the step velocities of track id up to frame upTo, or
// nil while the track is too short for motion costing.
func (p *pass) history(id, upTo int) []r2.Vec {
	tr, ok := p.reg.GetSingleTrack(id)
	if !ok {
		return nil
	}
	pts := tr.Points
	for len(pts) > 0 && pts[len(pts)-1].Frame > upTo {
		pts = pts[:len(pts)-1]
	}
	if len(pts) < 2 || len(pts) < p.cfg.MinHistory {
		return nil
	}
	return stepVelocities(pts, p.cfg.MotionHistory, p.dt)
}

// dt is the time between two frames: the trigger delta when both frames
// carry triggers, otherwise the frame delta.
func (p *pass) dt(from, to int) float64 {
	if tf, ok := p.store.Trigger(from); ok {
		if tt, ok := p.store.Trigger(to); ok && tt > tf {
			return float64(tt - tf)
		}
	}
	if d := float64(to - from); d > 0 {
		return d
	}
	return 1
}

func (p *pass) clean(frame int) {
	p.metrics.Cleaned += p.store.Clean(frame, p.cfg.MinDistance, p.cfg.MinArea, p.cfg.MaxArea)
}

func (p *pass) point(frame int, d l3detections.Detection, info l3detections.SegmentInfo) TrackPoint {
	var ts l1frames.Timestamp
	if p.t.timestamps != nil {
		ts = p.t.timestamps(frame)
	}
	return NewTrackPoint(frame, d, info, ts)
}

func (p *pass) recordGap(rows, cols int, conns, accepted []Connection) {
	for _, c := range accepted {
		p.metrics.GreedyCost += c.Cost
	}
	p.metrics.GreedyLinks += len(accepted)
	opt, links := optimalCost(rows, cols, conns)
	p.metrics.OptimalCost += opt
	p.metrics.OptimalLinks += links
}

func (p *pass) emit(progress func(Progress), state State, frame, step, steps int) {
	if progress == nil {
		return
	}
	progress(Progress{
		RunID:  p.runID,
		State:  state,
		Frame:  frame,
		Step:   step,
		Steps:  steps,
		Tracks: p.reg.NumOfTracks(),
		At:     p.t.clock.Now(),
	})
}

func (p *pass) finish(sum Summary, state State, start, end int, progress func(Progress), step int) Summary {
	if len(p.linkCosts) > 0 {
		p.metrics.MeanLinkCost = stat.Mean(p.linkCosts, nil)
	}
	sum.State = state
	sum.StartFrame = start
	sum.EndFrame = end
	sum.Tracks = p.reg.NumOfTracks()
	sum.Metrics = p.metrics
	sum.Finished = p.t.clock.Now()
	p.emit(progress, state, start+step, step, end-start)
	return sum
}
