package session

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mosquito.tracker/internal/config"
	"github.com/banshee-data/mosquito.tracker/internal/monitoring"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l1frames"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l4tracks"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l5history"
	"github.com/banshee-data/mosquito.tracker/internal/testutil"
	"github.com/banshee-data/mosquito.tracker/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

const sceneFrames = 10

// mover is a dark disc crossing a light background 8 px per frame, so
// consecutive positions never overlap.
func mover() testutil.Scene {
	return testutil.Scene{
		W: 100, H: 40, Background: 200,
		Discs: []testutil.Disc{{X0: 10, Y0: 20, VX: 8, R: 3, Level: 20, To: -1}},
	}
}

func newSession(t *testing.T, src l1frames.Source) *Session {
	t.Helper()
	s := New("seq", src, config.EmptyTuningConfig())
	s.SetClock(timeutil.NewSteppingClock(time.Unix(1000, 0), time.Millisecond))
	return s
}

// drain collects every event until the channel closes.
func drain(t *testing.T, ch <-chan Progress) []Progress {
	t.Helper()
	var out []Progress
	timeout := time.After(10 * time.Second)
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, p)
		case <-timeout:
			t.Fatal("pass did not finish")
		}
	}
}

// gatedSource blocks every Image call until the gate is closed.
type gatedSource struct {
	*l1frames.MemorySource
	gate chan struct{}
}

func (g *gatedSource) Image(frame, offset int) (*image.Gray, error) {
	<-g.gate
	return g.MemorySource.Image(frame, offset)
}

// ----------------------------------------------------------------------------
// Detection and tracking passes
// ----------------------------------------------------------------------------

func TestDetectThenTrack(t *testing.T) {
	t.Parallel()

	s := newSession(t, l1frames.NewMemorySource(mover().Frames(sceneFrames)))
	s.SetWorkers(3)

	ch, cancel, err := s.DetectRange(context.Background(), 0, sceneFrames-1)
	require.NoError(t, err)
	defer cancel()
	events := drain(t, ch)
	s.Wait()

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, JobDetect, last.Job)
	assert.Equal(t, l4tracks.StateDone, last.State)
	assert.True(t, last.Finished())
	assert.Equal(t, 1.0, last.Fraction())

	sum, ok := s.LastDetectSummary()
	require.True(t, ok)
	assert.Equal(t, sceneFrames-1, sum.Frames)
	assert.Equal(t, 1, sum.Skipped, "frame 0 has no previous frame")
	assert.Equal(t, sceneFrames-1, sum.Detections)

	store := s.Detections()
	assert.Equal(t, sceneFrames-1, store.Len())
	d := store.Detections(5)
	require.Len(t, d, 1)
	assert.InDelta(t, 50.0, d[0].X, 1e-9)
	assert.InDelta(t, 20.0, d[0].Y, 1e-9)
	assert.Equal(t, 29.0, d[0].Area)

	ch, cancel, err = s.RunTrackingPass(context.Background(), s.TrackerConfig())
	require.NoError(t, err)
	defer cancel()
	events = drain(t, ch)
	s.Wait()

	last = events[len(events)-1]
	assert.Equal(t, JobTrack, last.Job)
	assert.Equal(t, l4tracks.StateDone, last.State)

	reg := s.Tracks()
	require.Equal(t, 1, reg.NumOfTracks())
	tr := reg.Tracks()[0]
	assert.Len(t, tr.Points, sceneFrames-1)
	assert.Equal(t, 1, tr.FirstFrame())
	assert.Equal(t, sceneFrames-1, tr.LastFrame())

	tsum, ok := s.LastTrackSummary()
	require.True(t, ok)
	assert.Equal(t, sceneFrames-2, tsum.Metrics.Links)

	p, ok := s.LastProgress()
	require.True(t, ok)
	assert.Equal(t, JobTrack, p.Job)
	assert.False(t, s.Running())
}

func TestDetectRangeValidation(t *testing.T) {
	t.Parallel()

	s := newSession(t, l1frames.NewMemorySource(mover().Frames(4)))
	for _, r := range [][2]int{{-1, 2}, {2, 1}, {0, 4}} {
		_, _, err := s.DetectRange(context.Background(), r[0], r[1])
		assert.ErrorIs(t, err, ErrBadRange, "range %v", r)
	}

	_, _, err := s.RunTrackingPass(context.Background(), l4tracks.TrackerConfig{})
	assert.Error(t, err)
	assert.False(t, s.Running())
}

func TestDegenerateFramesAreSkipped(t *testing.T) {
	t.Parallel()

	still := testutil.Scene{W: 30, H: 30, Background: 120}
	s := newSession(t, l1frames.NewMemorySource(still.Frames(5)))

	ch, _, err := s.DetectRange(context.Background(), 0, 4)
	require.NoError(t, err)
	drain(t, ch)
	s.Wait()

	sum, _ := s.LastDetectSummary()
	assert.Equal(t, 0, sum.Frames)
	assert.Equal(t, 5, sum.Skipped)
	assert.Equal(t, 0, s.Detections().Len(), "no-signal rounds are never committed")
}

func TestRedetectWithoutSignalClearsFrames(t *testing.T) {
	t.Parallel()

	src := l1frames.NewMemorySource(mover().Frames(sceneFrames))
	s := newSession(t, src)
	detect := func() DetectSummary {
		ch, _, err := s.DetectRange(context.Background(), 0, sceneFrames-1)
		require.NoError(t, err)
		drain(t, ch)
		s.Wait()
		sum, ok := s.LastDetectSummary()
		require.True(t, ok)
		return sum
	}

	detect()
	require.Len(t, s.Detections().Detections(5), 1)

	// A corner the disc never crosses has no signal.
	src.SetROI(&image.Rectangle{Max: image.Point{X: 5, Y: 5}})
	sum := detect()
	assert.Equal(t, 0, sum.Frames)
	assert.Equal(t, sceneFrames, sum.Skipped)
	assert.Empty(t, s.Detections().Detections(5))
	assert.Equal(t, 0, s.Detections().Len())

	ch, _, err := s.RunTrackingPass(context.Background(), s.TrackerConfig())
	require.NoError(t, err)
	drain(t, ch)
	s.Wait()
	assert.Equal(t, 0, s.Tracks().NumOfTracks())
}

func TestTriggersAreStored(t *testing.T) {
	t.Parallel()

	src := l1frames.NewMemorySource(mover().Frames(4))
	require.NoError(t, src.SetTriggers([]int{100, 102, 104, 106}))
	s := newSession(t, src)

	ch, _, err := s.DetectRange(context.Background(), 0, 3)
	require.NoError(t, err)
	drain(t, ch)
	s.Wait()

	trig, ok := s.Detections().Trigger(2)
	require.True(t, ok)
	assert.Equal(t, 104, trig)
	frame, ok := s.Detections().ByTrigger(106)
	require.True(t, ok)
	assert.Equal(t, 3, frame)
}

func TestSecondPassFailsFast(t *testing.T) {
	t.Parallel()

	src := &gatedSource{
		MemorySource: l1frames.NewMemorySource(mover().Frames(4)),
		gate:         make(chan struct{}),
	}
	s := newSession(t, src)

	ch, _, err := s.DetectRange(context.Background(), 0, 3)
	require.NoError(t, err)
	assert.True(t, s.Running())

	_, _, err = s.RunTrackingPass(context.Background(), s.TrackerConfig())
	assert.ErrorIs(t, err, ErrPassRunning)
	_, _, err = s.DetectRange(context.Background(), 0, 3)
	assert.ErrorIs(t, err, ErrPassRunning)
	_, err = s.Apply(&l5history.DeleteTrackEdit{ID: 1})
	assert.ErrorIs(t, err, ErrPassRunning)
	_, err = s.Undo(l5history.LayerDetections)
	assert.ErrorIs(t, err, ErrPassRunning)

	close(src.gate)
	drain(t, ch)
	s.Wait()
	assert.False(t, s.Running())
}

func TestCancelKeepsPartialResults(t *testing.T) {
	t.Parallel()

	src := &gatedSource{
		MemorySource: l1frames.NewMemorySource(mover().Frames(sceneFrames)),
		gate:         make(chan struct{}),
	}
	s := newSession(t, src)
	s.SetWorkers(1)

	ch, cancel, err := s.DetectRange(context.Background(), 1, sceneFrames-1)
	require.NoError(t, err)
	cancel()
	close(src.gate)
	events := drain(t, ch)
	s.Wait()

	last := events[len(events)-1]
	assert.Equal(t, l4tracks.StateCancelled, last.State)
	sum, ok := s.LastDetectSummary()
	require.True(t, ok)
	assert.Equal(t, l4tracks.StateCancelled, sum.State)
	assert.Less(t, sum.Frames, sceneFrames-1)
	assert.Equal(t, sum.Frames, s.Detections().Len())
}

// ----------------------------------------------------------------------------
// Edits, undo and tuning
// ----------------------------------------------------------------------------

// tracked returns a session whose single mover has been detected and
// tracked.
func tracked(t *testing.T) *Session {
	t.Helper()
	s := newSession(t, l1frames.NewMemorySource(mover().Frames(sceneFrames)))
	ch, _, err := s.DetectRange(context.Background(), 0, sceneFrames-1)
	require.NoError(t, err)
	drain(t, ch)
	s.Wait()
	ch, _, err = s.RunTrackingPass(context.Background(), s.TrackerConfig())
	require.NoError(t, err)
	drain(t, ch)
	s.Wait()
	require.Equal(t, 1, s.Tracks().NumOfTracks())
	return s
}

func TestPassesSnapshotWhenBackupEnabled(t *testing.T) {
	t.Parallel()

	s := tracked(t)
	tracks, dets := s.UndoDepth()
	assert.Equal(t, 1, tracks, "tracking pass")
	assert.Equal(t, 2, dets, "detection pass and tracking pass")

	ok, err := s.Undo(l5history.LayerTracks)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, s.Tracks().NumOfTracks())

	ok, _ = s.Undo(l5history.LayerDetections)
	require.True(t, ok)
	ok, _ = s.Undo(l5history.LayerDetections)
	require.True(t, ok)
	assert.Equal(t, 0, s.Detections().Len())

	ok, err = s.Undo(l5history.LayerDetections)
	require.NoError(t, err)
	assert.False(t, ok, "history exhausted")
}

func TestApplyAndUndoEdit(t *testing.T) {
	t.Parallel()

	s := tracked(t)
	id := s.Tracks().IDs()[0]
	before, _ := s.UndoDepth()

	split := &l5history.SplitEdit{ID: id, Index: 4}
	ok, err := s.Apply(split)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, s.Tracks().NumOfTracks())
	after, _ := s.UndoDepth()
	assert.Equal(t, before+1, after)

	ok, err = s.Apply(&l5history.JoinEdit{A: id, B: 999})
	require.NoError(t, err)
	assert.False(t, ok)
	again, _ := s.UndoDepth()
	assert.Equal(t, after, again, "failed edits leave no snapshot")

	ok, _ = s.Undo(l5history.LayerTracks)
	require.True(t, ok)
	assert.Equal(t, 1, s.Tracks().NumOfTracks())
	tr, _ := s.Tracks().GetSingleTrack(id)
	assert.Len(t, tr.Points, sceneFrames-1)
}

func TestBackupDisabled(t *testing.T) {
	t.Parallel()

	s := tracked(t)
	s.SetBackup(false)
	assert.False(t, s.Backup())
	tracksBefore, _ := s.UndoDepth()

	ok, err := s.Apply(&l5history.DeleteTrackEdit{ID: s.Tracks().IDs()[0]})
	require.NoError(t, err)
	require.True(t, ok)
	tracksAfter, _ := s.UndoDepth()
	assert.Equal(t, tracksBefore, tracksAfter)

	_, err = s.Undo(l5history.Layer(7))
	assert.Error(t, err)
}

func TestApplyTuning(t *testing.T) {
	t.Parallel()

	s := newSession(t, l1frames.NewMemorySource(mover().Frames(2)))
	assert.Error(t, s.ApplyTuning(nil))

	bad := config.EmptyTuningConfig()
	zero := 0
	bad.TrackMaxCandidates = &zero
	assert.Error(t, s.ApplyTuning(bad))

	good := config.EmptyTuningConfig()
	depth, even := 2, 4
	off := false
	good.HistoryMaxDepth = &depth
	good.MedianBlur1 = &even
	good.BackupEnabled = &off
	require.NoError(t, s.ApplyTuning(good))
	assert.Same(t, good, s.Tuning())
	assert.Equal(t, 3, s.Tuning().GetMedianBlur1(), "even kernels are normalised")
	assert.False(t, s.Backup())
}

// ----------------------------------------------------------------------------
// Project
// ----------------------------------------------------------------------------

func TestProject(t *testing.T) {
	t.Parallel()

	p := NewProject()
	_, err := p.Selected()
	assert.ErrorIs(t, err, ErrNoSelection)

	src := l1frames.NewMemorySource(mover().Frames(2))
	require.NoError(t, p.Add(New("b", src, nil)))
	require.NoError(t, p.Add(New("a", src, nil)))
	assert.ErrorIs(t, p.Add(New("a", src, nil)), ErrDuplicateSession)
	assert.Equal(t, []string{"a", "b"}, p.Names())

	sel, err := p.Selected()
	require.NoError(t, err)
	assert.Equal(t, "b", sel.Name(), "first added is selected")

	require.NoError(t, p.Select("a"))
	sel, _ = p.Selected()
	assert.Equal(t, "a", sel.Name())
	assert.ErrorIs(t, p.Select("zzz"), ErrUnknownSession)

	require.NoError(t, p.Remove("a"))
	_, err = p.Selected()
	assert.ErrorIs(t, err, ErrNoSelection)
	_, err = p.Get("a")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.ErrorIs(t, p.Remove("a"), ErrUnknownSession)

	got, err := p.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Name())
}
