package l4tracks

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pt(frame int, x, y float64) TrackPoint {
	return TrackPoint{X: x, Y: y, Frame: frame}
}

// trackWith registers a track holding pts and returns its id.
func trackWith(t *testing.T, r *Registry, pts ...TrackPoint) int {
	t.Helper()
	id := r.RegisterNew()
	for _, p := range pts {
		require.True(t, r.UpdateTrack(id, p))
	}
	return id
}

func frameList(tr Track) []int {
	out := make([]int, len(tr.Points))
	for i, p := range tr.Points {
		out[i] = p.Frame
	}
	return out
}

func assertOrdered(t *testing.T, r *Registry) {
	t.Helper()
	for _, tr := range r.Tracks() {
		for k := 1; k < len(tr.Points); k++ {
			assert.Less(t, tr.Points[k-1].Frame, tr.Points[k].Frame, "track %d", tr.ID)
		}
	}
}

// ----------------------------------------------------------------------------
// Registration and points
// ----------------------------------------------------------------------------

func TestRegisterNewIsMonotonic(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.Equal(t, 1, r.RegisterNew())
	assert.Equal(t, 2, r.RegisterNew())
	require.True(t, r.DeleteTrack(2))

	r.Reset()
	assert.Equal(t, 0, r.NumOfTracks())
	assert.Equal(t, 3, r.RegisterNew(), "ids are never reused")
	assert.Equal(t, 4, r.NextID())
}

func TestUpdateTrackKeepsFrameOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	id := trackWith(t, r, pt(2, 0, 0), pt(5, 1, 1))

	assert.True(t, r.AddPointToTrack(id, pt(3, 9, 9)))
	assert.True(t, r.UpdateTrack(id, pt(0, 7, 7)))
	assert.False(t, r.AddPointToTrack(id, pt(3, 1, 1)), "duplicate frame")
	assert.False(t, r.UpdateTrack(99, pt(1, 0, 0)))

	tr, ok := r.GetSingleTrack(id)
	require.True(t, ok)
	assert.Equal(t, []int{0, 2, 3, 5}, frameList(tr))
	assert.Equal(t, 0, tr.FirstFrame())
	assert.Equal(t, 5, tr.LastFrame())
	assert.Equal(t, 2, tr.PointAt(3))
	assert.Equal(t, -1, tr.PointAt(4))
}

func TestGetSingleTrackReturnsCopy(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	id := trackWith(t, r, pt(0, 1, 1))
	tr, _ := r.GetSingleTrack(id)
	tr.Points[0].X = 50

	again, _ := r.GetSingleTrack(id)
	assert.Equal(t, 1.0, again.Points[0].X)

	_, ok := r.GetSingleTrack(42)
	assert.False(t, ok)
}

// ----------------------------------------------------------------------------
// Edits
// ----------------------------------------------------------------------------

func TestJoinTracks(t *testing.T) {
	t.Parallel()

	t.Run("smaller id survives", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		a := trackWith(t, r, pt(0, 0, 0), pt(4, 4, 0))
		b := trackWith(t, r, pt(2, 2, 0), pt(6, 6, 0))

		require.True(t, r.JoinTracks(b, a))
		assert.Equal(t, []int{a}, r.IDs())
		tr, _ := r.GetSingleTrack(a)
		assert.Equal(t, []int{0, 2, 4, 6}, frameList(tr))
	})

	t.Run("overlapping frames rejected", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		a := trackWith(t, r, pt(0, 0, 0), pt(1, 1, 0))
		b := trackWith(t, r, pt(1, 5, 5))
		assert.False(t, r.JoinTracks(a, b))
		assert.Equal(t, 2, r.NumOfTracks())
		tr, _ := r.GetSingleTrack(a)
		assert.Len(t, tr.Points, 2, "failed join leaves tracks untouched")
	})

	t.Run("invalid references", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		a := trackWith(t, r, pt(0, 0, 0))
		assert.False(t, r.JoinTracks(a, a))
		assert.False(t, r.JoinTracks(a, 77))
		assert.False(t, r.JoinTracks(77, a))
	})
}

func TestSplitTrack(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	id := trackWith(t, r, pt(0, 0, 0), pt(1, 1, 0), pt(2, 2, 0), pt(3, 3, 0))

	_, ok := r.SplitTrack(id, 0)
	assert.False(t, ok)
	_, ok = r.SplitTrack(id, 4)
	assert.False(t, ok)
	_, ok = r.SplitTrack(99, 1)
	assert.False(t, ok)

	newID, ok := r.SplitTrack(id, 1)
	require.True(t, ok)
	assert.Greater(t, newID, id)

	head, _ := r.GetSingleTrack(id)
	tail, _ := r.GetSingleTrack(newID)
	assert.Equal(t, []int{0}, frameList(head))
	assert.Equal(t, []int{1, 2, 3}, frameList(tail))

	// Appending to the head must not clobber the tail.
	require.True(t, r.UpdateTrack(id, pt(9, 9, 9)))
	tail, _ = r.GetSingleTrack(newID)
	assert.Equal(t, 1.0, tail.Points[0].X)
}

func TestSplitThenJoinRestoresPoints(t *testing.T) {
	t.Parallel()

	for k := 1; k < 6; k++ {
		r := NewRegistry()
		var pts []TrackPoint
		for f := 0; f < 6; f++ {
			pts = append(pts, pt(f*2, float64(f), float64(-f)))
		}
		id := trackWith(t, r, pts...)
		before, _ := r.GetSingleTrack(id)

		newID, ok := r.SplitTrack(id, k)
		require.True(t, ok)
		require.True(t, r.JoinTracks(id, newID))

		after, ok := r.GetSingleTrack(id)
		require.True(t, ok)
		assert.ElementsMatch(t, before.Points, after.Points, "split at %d", k)
		assert.Equal(t, 1, r.NumOfTracks())
		assertOrdered(t, r)
	}
}

func TestDeleteAndRemovePoint(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	a := trackWith(t, r, pt(0, 0, 0), pt(1, 1, 1))
	b := trackWith(t, r, pt(3, 3, 3))

	assert.False(t, r.RemovePointFromTrack(a, 2))
	assert.False(t, r.RemovePointFromTrack(a, -1))
	require.True(t, r.RemovePointFromTrack(a, 0))
	tr, _ := r.GetSingleTrack(a)
	assert.Equal(t, []int{1}, frameList(tr))

	require.True(t, r.RemovePointFromTrack(b, 0))
	_, ok := r.GetSingleTrack(b)
	assert.False(t, ok, "empty tracks are retired")

	require.True(t, r.DeleteTrack(a))
	assert.False(t, r.DeleteTrack(a))
	assert.Equal(t, 0, r.NumOfTracks())
}

func TestCloneReplaceLoad(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	a := trackWith(t, r, pt(0, 0, 0), pt(1, 1, 0))
	c := r.Clone()

	r.DeleteTrack(a)
	r.RegisterNew()
	assert.Equal(t, 1, c.NumOfTracks())

	r.Replace(c)
	assert.Equal(t, c.Tracks(), r.Tracks())
	assert.Equal(t, c.NextID(), r.NextID())

	loaded := NewRegistry()
	loaded.Load([]Track{
		{ID: 7, Points: []TrackPoint{pt(4, 0, 0), pt(1, 0, 0), pt(4, 9, 9)}},
		{ID: 3, Points: []TrackPoint{pt(0, 0, 0)}},
	}, 0)
	assert.Equal(t, []int{3, 7}, loaded.IDs())
	tr, _ := loaded.GetSingleTrack(7)
	assert.Equal(t, []int{1, 4}, frameList(tr))
	assert.Equal(t, 8, loaded.RegisterNew())
}

// ----------------------------------------------------------------------------
// Extrapolation and lookup
// ----------------------------------------------------------------------------

func TestEstimatePositions(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	id := trackWith(t, r, pt(0, 0, 0), pt(1, 2, 1), pt(2, 4, 2))

	next, ok := r.EstimateNextPosition(id, 3, 2)
	require.True(t, ok)
	assert.InDelta(t, 8.0, next.X, 1e-9)
	assert.InDelta(t, 4.0, next.Y, 1e-9)
	assert.Equal(t, 4, next.Frame)

	prev, ok := r.EstimatePrevPosition(id, 2, 1)
	require.True(t, ok)
	assert.InDelta(t, -2.0, prev.X, 1e-9)
	assert.InDelta(t, -1.0, prev.Y, 1e-9)
	assert.Equal(t, -1, prev.Frame)

	gap := trackWith(t, r, pt(0, 0, 0), pt(2, 4, 0))
	next, ok = r.EstimateNextPosition(gap, 1, 1)
	require.True(t, ok)
	assert.InDelta(t, 6.0, next.X, 1e-9, "velocity is per frame")

	single := trackWith(t, r, pt(5, 1, 1))
	_, ok = r.EstimateNextPosition(single, 2, 1)
	assert.False(t, ok)
	_, ok = r.EstimatePrevPosition(404, 2, 1)
	assert.False(t, ok)
}

func TestFindTrackID(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	a := trackWith(t, r, pt(0, 10, 10), pt(1, 12, 10))
	b := trackWith(t, r, pt(1, 13, 10), pt(5, 30, 30))

	hit, ok := r.FindTrackID(12.8, 10, 2, 0, 3)
	require.True(t, ok)
	assert.Equal(t, b, hit.ID)
	assert.Equal(t, 0, hit.Index)
	assert.InDelta(t, 0.2, hit.Dist, 1e-9)

	hit, ok = r.FindTrackID(10, 10, 1, 0, 0)
	require.True(t, ok)
	assert.Equal(t, a, hit.ID)

	_, ok = r.FindTrackID(30, 30, 1, 0, 4)
	assert.False(t, ok, "frame window excludes the point")
	_, ok = r.FindTrackID(100, 100, 5, 0, 10)
	assert.False(t, ok)
}

func TestTracksOrderedByID(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for i := 0; i < 5; i++ {
		trackWith(t, r, pt(i, 0, 0))
	}
	r.DeleteTrack(3)
	ids := r.IDs()
	assert.True(t, sort.IntsAreSorted(ids))
	assert.Equal(t, []int{1, 2, 4, 5}, ids)
	for i, tr := range r.Tracks() {
		assert.Equal(t, ids[i], tr.ID)
	}
}
