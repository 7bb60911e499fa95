// Package session ties one frame sequence to its detection store, track
// registry and undo histories, and runs segmentation and tracking passes
// over it in the background.
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/mosquito.tracker/internal/config"
	"github.com/banshee-data/mosquito.tracker/internal/monitoring"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l1frames"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l2segment"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l3detections"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l4tracks"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l5history"
	"github.com/banshee-data/mosquito.tracker/internal/timeutil"
)

var (
	// ErrPassRunning is returned when a pass or edit is requested while
	// another pass is still running on the same session.
	ErrPassRunning = errors.New("session: pass already running")
	// ErrBadRange is returned for a detection range outside the source.
	ErrBadRange = errors.New("session: invalid frame range")
)

// Job names the kind of background pass.
type Job string

const (
	JobDetect Job = "detect"
	JobTrack  Job = "track"
)

// StateFailed marks a pass that stopped on an error other than
// cancellation.
const StateFailed l4tracks.State = "failed"

// progressBuffer is the capacity of a pass's progress channel. Events
// beyond it are dropped until the consumer catches up.
const progressBuffer = 64

// Progress is one event of a background pass.
type Progress struct {
	Job        Job            `json:"job"`
	RunID      string         `json:"run_id"`
	State      l4tracks.State `json:"state"`
	Frame      int            `json:"frame"`
	Step       int            `json:"step"`
	Steps      int            `json:"steps"`
	Detections int            `json:"detections"`
	Tracks     int            `json:"tracks"`
	Error      string         `json:"error,omitempty"`
	At         time.Time      `json:"at"`
}

// Fraction returns the completed share of the pass in [0, 1].
func (p Progress) Fraction() float64 {
	if p.Steps <= 0 {
		if p.State == l4tracks.StateDone {
			return 1
		}
		return 0
	}
	return float64(p.Step) / float64(p.Steps)
}

// Finished reports whether this is the last event of its pass.
func (p Progress) Finished() bool {
	switch p.State {
	case l4tracks.StateDone, l4tracks.StateCancelled, StateFailed:
		return true
	}
	return false
}

// DetectSummary is the outcome of a detection pass.
type DetectSummary struct {
	RunID      string
	State      l4tracks.State
	From, To   int
	Frames     int // Frames committed to the store
	Skipped    int // Frames without a usable previous frame or with no signal
	Detections int
	Started    time.Time
	Finished   time.Time
}

// Session is the explicit working context of one frame sequence.
type Session struct {
	name   string
	source l1frames.Source

	store    *l3detections.Store
	registry *l4tracks.Registry

	trackHistory *l5history.History[*l4tracks.Registry]
	detHistory   *l5history.History[*l3detections.Store]

	mu       sync.Mutex
	tuning   *config.TuningConfig
	backup   bool
	clock    timeutil.Clock
	workers  int
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	last     Progress
	detSum   *DetectSummary
	trackSum *l4tracks.Summary
}

// New creates a session over src. A nil tuning uses the defaults.
func New(name string, src l1frames.Source, tuning *config.TuningConfig) *Session {
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	depth := tuning.GetHistoryMaxDepth()
	return &Session{
		name:         name,
		source:       src,
		store:        l3detections.NewStore(),
		registry:     l4tracks.NewRegistry(),
		trackHistory: l5history.New[*l4tracks.Registry](depth),
		detHistory:   l5history.New[*l3detections.Store](depth),
		tuning:       tuning,
		backup:       tuning.GetBackupEnabled(),
		clock:        timeutil.RealClock{},
		workers:      runtime.NumCPU(),
	}
}

func (s *Session) Name() string                    { return s.name }
func (s *Session) Source() l1frames.Source         { return s.source }
func (s *Session) Detections() *l3detections.Store { return s.store }
func (s *Session) Tracks() *l4tracks.Registry      { return s.registry }

// SetClock replaces the clock used for progress times.
func (s *Session) SetClock(c timeutil.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = c
}

// SetWorkers sets the number of segmentation goroutines (minimum 1).
func (s *Session) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = n
}

// SetBackup enables or disables snapshots before edits and passes.
func (s *Session) SetBackup(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backup = on
}

// Backup reports whether snapshots are taken.
func (s *Session) Backup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backup
}

// Tuning returns the active tuning config. Callers must not mutate it.
func (s *Session) Tuning() *config.TuningConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tuning
}

// ApplyTuning validates c and makes it the active config for later
// passes. A running pass keeps the values it started with.
func (s *Session) ApplyTuning(c *config.TuningConfig) error {
	if c == nil {
		return fmt.Errorf("apply tuning: nil config")
	}
	c.Normalise()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("apply tuning: %w", err)
	}
	s.mu.Lock()
	s.tuning = c
	s.backup = c.GetBackupEnabled()
	s.mu.Unlock()

	s.trackHistory.SetMaxDepth(c.GetHistoryMaxDepth())
	s.detHistory.SetMaxDepth(c.GetHistoryMaxDepth())
	monitoring.Logf("session %s: tuning applied", s.name)
	return nil
}

// UndoDepth returns the number of stored track and detection snapshots.
func (s *Session) UndoDepth() (tracks, detections int) {
	return s.trackHistory.Len(), s.detHistory.Len()
}

// Running reports whether a pass is in progress.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastProgress returns the most recent event of the current or last pass.
func (s *Session) LastProgress() (Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.last.RunID != ""
}

// LastDetectSummary returns the outcome of the last finished detection pass.
func (s *Session) LastDetectSummary() (DetectSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detSum == nil {
		return DetectSummary{}, false
	}
	return *s.detSum, true
}

// LastTrackSummary returns the outcome of the last finished tracking pass.
func (s *Session) LastTrackSummary() (l4tracks.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trackSum == nil {
		return l4tracks.Summary{}, false
	}
	return *s.trackSum, true
}

// Wait blocks until the running pass, if any, has finished.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stop cancels the running pass, if any.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// ----------------------------------------------------------------------------
// Edits and undo
// ----------------------------------------------------------------------------

// Apply runs an interactive edit, snapshotting the store it touches first
// when backup is enabled. A failed edit leaves no snapshot behind.
func (s *Session) Apply(e l5history.Edit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false, ErrPassRunning
	}

	target := &l5history.Target{Detections: s.store, Tracks: s.registry}
	if s.backup {
		s.snapshotLocked(e.Layer())
	}
	if e.Apply(target) {
		monitoring.Logf("session %s: %s", s.name, e.Name())
		return true, nil
	}
	if s.backup {
		switch e.Layer() {
		case l5history.LayerTracks:
			s.trackHistory.Restore()
		case l5history.LayerDetections:
			s.detHistory.Restore()
		}
	}
	return false, nil
}

// Undo restores the most recent snapshot of layer. It reports false when
// the history is empty.
func (s *Session) Undo(layer l5history.Layer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false, ErrPassRunning
	}
	var ok bool
	switch layer {
	case l5history.LayerTracks:
		ok = s.trackHistory.Undo(s.registry)
	case l5history.LayerDetections:
		ok = s.detHistory.Undo(s.store)
	default:
		return false, fmt.Errorf("undo: unknown layer %v", layer)
	}
	if ok {
		monitoring.Logf("session %s: undo %s", s.name, layer)
	}
	return ok, nil
}

func (s *Session) snapshotLocked(layers ...l5history.Layer) {
	for _, l := range layers {
		switch l {
		case l5history.LayerTracks:
			s.trackHistory.Snapshot(s.registry)
		case l5history.LayerDetections:
			s.detHistory.Snapshot(s.store)
		}
	}
}

// ----------------------------------------------------------------------------
// Background passes
// ----------------------------------------------------------------------------

// passRun is what a background pass captures from the session when it
// starts.
type passRun struct {
	ctx     context.Context
	cancel  context.CancelFunc
	ch      chan Progress
	tuning  *config.TuningConfig
	clock   timeutil.Clock
	workers int
}

// begin claims the session for a pass, snapshotting the given layers
// when backup is enabled.
func (s *Session) begin(ctx context.Context, snapshot ...l5history.Layer) (*passRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, ErrPassRunning
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	if s.backup {
		s.snapshotLocked(snapshot...)
	}
	return &passRun{
		ctx:     runCtx,
		cancel:  cancel,
		ch:      make(chan Progress, progressBuffer),
		tuning:  s.tuning,
		clock:   s.clock,
		workers: s.workers,
	}, nil
}

// publish records p as the latest event and offers it to ch without
// blocking.
func (s *Session) publish(ch chan<- Progress, p Progress) {
	s.mu.Lock()
	s.last = p
	s.mu.Unlock()
	select {
	case ch <- p:
	default:
	}
}

func (s *Session) end(run *passRun) {
	run.cancel()
	s.mu.Lock()
	s.running = false
	s.cancel = nil
	close(s.done)
	s.mu.Unlock()
	close(run.ch)
}

// DetectRange segments frames [from, to] on a pool of worker goroutines
// and commits each frame's detections to the store. Frames whose previous
// frame lies before the sequence start, and frames that yield the
// no-signal sentinel, are skipped and leave the store unchanged. Progress
// is streamed on the returned channel, which is closed when the pass
// ends.
func (s *Session) DetectRange(ctx context.Context, from, to int) (<-chan Progress, context.CancelFunc, error) {
	if from < 0 || to < from || to >= s.source.Len() {
		return nil, nil, fmt.Errorf("detect %d..%d of %d frames: %w", from, to, s.source.Len(), ErrBadRange)
	}
	run, err := s.begin(ctx, l5history.LayerDetections)
	if err != nil {
		return nil, nil, err
	}

	go func() {
		defer s.end(run)
		sum := s.detect(run, from, to)
		s.mu.Lock()
		s.detSum = &sum
		s.mu.Unlock()
	}()
	return run.ch, run.cancel, nil
}

func (s *Session) detect(run *passRun, from, to int) DetectSummary {
	ctx, ch, clock, workers := run.ctx, run.ch, run.clock, run.workers
	params := l2segment.ParamsFromTuning(run.tuning)
	params.ROI = s.source.ROI()
	params.Polygon = s.source.PolyROI()
	which := params.WhichPrev
	if which < 1 {
		which = 1
	}

	sum := DetectSummary{RunID: uuid.NewString(), From: from, To: to, Started: clock.Now()}
	steps := to - from + 1
	s.publish(ch, Progress{Job: JobDetect, RunID: sum.RunID, State: l4tracks.StateInitializing, Frame: from, Steps: steps, At: clock.Now()})
	monitoring.Logf("session %s: detect run %s frames %d..%d workers=%d", s.name, sum.RunID, from, to, workers)

	pool := sync.Pool{New: func() any { return l2segment.NewSegmenter() }}
	var done, committed, skipped, found atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for f := from; f <= to; f++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			seg := pool.Get().(*l2segment.Segmenter)
			defer pool.Put(seg)

			n, ok, err := s.detectFrame(seg, f, which, params)
			if err != nil {
				return err
			}
			if ok {
				committed.Add(1)
				found.Add(int64(n))
			} else {
				skipped.Add(1)
			}
			s.publish(ch, Progress{
				Job: JobDetect, RunID: sum.RunID, State: l4tracks.StateStepping,
				Frame: f, Step: int(done.Add(1)), Steps: steps,
				Detections: int(found.Load()), At: clock.Now(),
			})
			return nil
		})
	}
	err := g.Wait()

	sum.Frames = int(committed.Load())
	sum.Skipped = int(skipped.Load())
	sum.Detections = int(found.Load())
	sum.Finished = clock.Now()
	final := Progress{
		Job: JobDetect, RunID: sum.RunID, Frame: to,
		Step: int(done.Load()), Steps: steps, Detections: sum.Detections, At: sum.Finished,
	}
	switch {
	case err == nil && ctx.Err() == nil:
		sum.State = l4tracks.StateDone
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		sum.State = l4tracks.StateCancelled
		monitoring.Logf("session %s: detect run %s cancelled after %d frames", s.name, sum.RunID, final.Step)
	default:
		sum.State = StateFailed
		final.Error = err.Error()
		monitoring.Logf("session %s: detect run %s failed: %v", s.name, sum.RunID, err)
	}
	final.State = sum.State
	s.publish(ch, final)
	monitoring.Logf("session %s: detect run %s %s: %d frames, %d skipped, %d detections",
		s.name, sum.RunID, sum.State, sum.Frames, sum.Skipped, sum.Detections)
	return sum
}

// detectFrame segments one frame against the frame which steps earlier.
// It returns the number of detections committed and whether the frame was
// committed at all. A skipped frame loses any detections an earlier run
// left in it.
func (s *Session) detectFrame(seg *l2segment.Segmenter, frame, which int, params l2segment.Params) (int, bool, error) {
	if frame-which < 0 {
		s.store.RemoveFrame(frame)
		return 0, false, nil
	}
	cur, err := s.source.Image(frame, 0)
	if err != nil {
		return 0, false, fmt.Errorf("frame %d: %w", frame, err)
	}
	prev, err := s.source.Image(frame, which)
	if err != nil {
		return 0, false, fmt.Errorf("frame %d previous: %w", frame, err)
	}

	res, err := seg.Segment(cur, prev, params)
	if err != nil {
		return 0, false, fmt.Errorf("segment frame %d: %w", frame, err)
	}
	if res.Degenerate() {
		monitoring.Logf("session %s: frame %d has no usable signal", s.name, frame)
		s.store.RemoveFrame(frame)
		return 0, false, nil
	}

	fd := l3detections.FrameDetections{
		Frame:      frame,
		Info:       params.Info(res),
		Detections: res.Detections,
	}
	fd.Trigger, fd.HasTrigger = s.source.Trigger(frame)
	s.store.SetFrame(fd)
	return len(res.Detections), true, nil
}

// RunTrackingPass links the stored detections into tracks on a background
// goroutine. Both stores are snapshotted first when backup is enabled,
// since per-frame cleaning removes detections permanently. The returned
// CancelFunc stops the pass at the next step; tracks committed so far
// are kept.
func (s *Session) RunTrackingPass(ctx context.Context, cfg l4tracks.TrackerConfig) (<-chan Progress, context.CancelFunc, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("tracking pass: %w", err)
	}
	run, err := s.begin(ctx, l5history.LayerTracks, l5history.LayerDetections)
	if err != nil {
		return nil, nil, err
	}

	tracker := l4tracks.NewTracker(s.source.Timestamp)
	tracker.SetClock(run.clock)

	go func() {
		defer s.end(run)
		sum, err := tracker.Run(run.ctx, s.store, s.registry, cfg, func(p l4tracks.Progress) {
			s.publish(run.ch, Progress{
				Job: JobTrack, RunID: p.RunID, State: p.State,
				Frame: p.Frame, Step: p.Step, Steps: p.Steps,
				Tracks: p.Tracks, At: p.At,
			})
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("session %s: tracking pass failed: %v", s.name, err)
		}
		s.mu.Lock()
		s.trackSum = &sum
		s.mu.Unlock()
	}()
	return run.ch, run.cancel, nil
}

// TrackerConfig returns a pass config built from the active tuning.
func (s *Session) TrackerConfig() l4tracks.TrackerConfig {
	return l4tracks.TrackerConfigFromTuning(s.Tuning())
}
