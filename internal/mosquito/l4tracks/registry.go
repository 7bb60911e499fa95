package l4tracks

import (
	"sort"
	"sync"
)

// Registry is the track store of one sequence. Ids are allocated from a
// monotonic counter and never reused while the registry lives, not even
// after Reset. All operations on unknown ids or indices return false or
// zero values; none of them panic.
//
// A Registry assumes a single writer. Readers take copies under a read
// lock and may observe a slightly stale registry during a tracking pass.
type Registry struct {
	mu     sync.RWMutex
	tracks map[int]*Track
	nextID int
}

// NewRegistry creates an empty registry whose first id is 1.
func NewRegistry() *Registry {
	return &Registry{tracks: make(map[int]*Track), nextID: 1}
}

// RegisterNew allocates a fresh, empty track and returns its id.
func (r *Registry) RegisterNew() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked()
}

func (r *Registry) registerLocked() int {
	id := r.nextID
	r.nextID++
	r.tracks[id] = &Track{ID: id}
	return id
}

// NextID returns the id the next RegisterNew will allocate.
func (r *Registry) NextID() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextID
}

// UpdateTrack commits p to track id. Points are kept in frame order; a
// point for a frame the track already owns is rejected.
func (r *Registry) UpdateTrack(id int, p TrackPoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tracks[id]
	if !ok {
		return false
	}
	return insertPoint(t, p)
}

// AddPointToTrack inserts p into track id at its frame position.
func (r *Registry) AddPointToTrack(id int, p TrackPoint) bool {
	return r.UpdateTrack(id, p)
}

func insertPoint(t *Track, p TrackPoint) bool {
	n := len(t.Points)
	if n == 0 || t.Points[n-1].Frame < p.Frame {
		t.Points = append(t.Points, p)
		return true
	}
	i := sort.Search(n, func(i int) bool { return t.Points[i].Frame >= p.Frame })
	if t.Points[i].Frame == p.Frame {
		return false
	}
	t.Points = append(t.Points, TrackPoint{})
	copy(t.Points[i+1:], t.Points[i:])
	t.Points[i] = p
	return true
}

// GetSingleTrack returns a copy of track id.
func (r *Registry) GetSingleTrack(id int) (Track, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tracks[id]
	if !ok {
		return Track{}, false
	}
	return *t.clone(), true
}

// NumOfTracks returns the number of live tracks.
func (r *Registry) NumOfTracks() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracks)
}

// IDs returns the live track ids in ascending order.
func (r *Registry) IDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idsLocked()
}

func (r *Registry) idsLocked() []int {
	ids := make([]int, 0, len(r.tracks))
	for id := range r.tracks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Tracks returns copies of every track ordered by id.
func (r *Registry) Tracks() []Track {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Track, 0, len(r.tracks))
	for _, id := range r.idsLocked() {
		out = append(out, *r.tracks[id].clone())
	}
	return out
}

// ----------------------------------------------------------------------------
// Interactive edits
// ----------------------------------------------------------------------------

// JoinTracks merges the points of a and b into the track created first
// (the smaller id) and retires the other. It fails if either id is
// unknown, a == b, or both tracks own a point in the same frame.
func (r *Registry) JoinTracks(a, b int) bool {
	if a == b {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ta, okA := r.tracks[a]
	tb, okB := r.tracks[b]
	if !okA || !okB {
		return false
	}
	if a > b {
		ta, tb = tb, ta
	}

	merged := make([]TrackPoint, 0, len(ta.Points)+len(tb.Points))
	i, j := 0, 0
	for i < len(ta.Points) || j < len(tb.Points) {
		switch {
		case j == len(tb.Points):
			merged = append(merged, ta.Points[i])
			i++
		case i == len(ta.Points):
			merged = append(merged, tb.Points[j])
			j++
		case ta.Points[i].Frame == tb.Points[j].Frame:
			return false
		case ta.Points[i].Frame < tb.Points[j].Frame:
			merged = append(merged, ta.Points[i])
			i++
		default:
			merged = append(merged, tb.Points[j])
			j++
		}
	}

	ta.Points = merged
	delete(r.tracks, tb.ID)
	return true
}

// SplitTrack moves the points from index k onward into a new track and
// returns its id. k must leave both halves non-empty.
func (r *Registry) SplitTrack(id, k int) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tracks[id]
	if !ok || k <= 0 || k >= len(t.Points) {
		return 0, false
	}
	newID := r.registerLocked()
	nt := r.tracks[newID]
	nt.Points = append([]TrackPoint(nil), t.Points[k:]...)
	t.Points = t.Points[:k:k]
	return newID, true
}

// DeleteTrack removes track id and retires its id.
func (r *Registry) DeleteTrack(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tracks[id]; !ok {
		return false
	}
	delete(r.tracks, id)
	return true
}

// RemovePointFromTrack deletes point k of track id. A track left without
// points is retired.
func (r *Registry) RemovePointFromTrack(id, k int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tracks[id]
	if !ok || k < 0 || k >= len(t.Points) {
		return false
	}
	t.Points = append(t.Points[:k], t.Points[k+1:]...)
	if len(t.Points) == 0 {
		delete(r.tracks, id)
	}
	return true
}

// ----------------------------------------------------------------------------
// Whole-registry operations
// ----------------------------------------------------------------------------

// Reset removes every track. The id counter keeps counting.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = make(map[int]*Track)
}

// Clone returns a deep copy, id counter included.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &Registry{tracks: make(map[int]*Track, len(r.tracks)), nextID: r.nextID}
	for id, t := range r.tracks {
		out.tracks[id] = t.clone()
	}
	return out
}

// Replace overwrites the contents of r with a copy of other.
func (r *Registry) Replace(other *Registry) {
	c := other.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = c.tracks
	r.nextID = c.nextID
}

// Load replaces the registry with tracks read from storage. Points are
// sorted by frame and duplicates dropped. The id counter moves past the
// largest loaded id and never backwards.
func (r *Registry) Load(tracks []Track, nextID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = make(map[int]*Track, len(tracks))
	for _, t := range tracks {
		nt := &Track{ID: t.ID}
		pts := append([]TrackPoint(nil), t.Points...)
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].Frame < pts[j].Frame })
		for _, p := range pts {
			insertPoint(nt, p)
		}
		r.tracks[t.ID] = nt
		if t.ID >= nextID {
			nextID = t.ID + 1
		}
	}
	if nextID > r.nextID {
		r.nextID = nextID
	}
}
