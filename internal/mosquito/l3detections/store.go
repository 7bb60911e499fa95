package l3detections

import (
	"sort"
	"sync"
)

// Store holds the frame detection sets of one sequence. There is at most
// one set per frame index. A Store assumes a single writer; readers take
// copies and may observe slightly stale data while a writer is active.
type Store struct {
	mu        sync.RWMutex
	frames    map[int]*FrameDetections
	byTrigger map[int]int
	sorted    []int // frame indices, ascending; nil when stale
}

// NewStore creates an empty detection store.
func NewStore() *Store {
	return &Store{
		frames:    make(map[int]*FrameDetections),
		byTrigger: make(map[int]int),
	}
}

// SetFrame replaces the detection set of fd.Frame. Negative frame
// indices are rejected.
func (s *Store) SetFrame(fd FrameDetections) bool {
	if fd.Frame < 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.frames[fd.Frame]; ok && old.HasTrigger {
		delete(s.byTrigger, old.Trigger)
	}
	s.frames[fd.Frame] = fd.clone()
	if fd.HasTrigger {
		s.byTrigger[fd.Trigger] = fd.Frame
	}
	s.sorted = nil
	return true
}

// RemoveFrame drops the detection set of frame. It reports whether the
// frame was present.
func (s *Store) RemoveFrame(frame int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.frames[frame]
	if !ok {
		return false
	}
	if old.HasTrigger {
		delete(s.byTrigger, old.Trigger)
	}
	delete(s.frames, frame)
	s.sorted = nil
	return true
}

// Frame returns a copy of the detection set of frame.
func (s *Store) Frame(frame int) (FrameDetections, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fd, ok := s.frames[frame]
	if !ok {
		return FrameDetections{}, false
	}
	return *fd.clone(), true
}

// Detections returns a copy of the detections of frame (nil if none).
func (s *Store) Detections(frame int) []Detection {
	fd, ok := s.Frame(frame)
	if !ok {
		return nil
	}
	return fd.Detections
}

// Info returns the segmentation info recorded for frame.
func (s *Store) Info(frame int) (SegmentInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fd, ok := s.frames[frame]
	if !ok {
		return SegmentInfo{}, false
	}
	return fd.Info, true
}

// ByTrigger maps an external trigger number to its frame index.
func (s *Store) ByTrigger(trigger int) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byTrigger[trigger]
	return f, ok
}

// Trigger returns the trigger number of frame, if it has one.
func (s *Store) Trigger(frame int) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fd, ok := s.frames[frame]
	if !ok || !fd.HasTrigger {
		return 0, false
	}
	return fd.Trigger, true
}

// AddDetection appends d to frame, creating the set if needed, and
// returns its index.
func (s *Store) AddDetection(frame int, d Detection) (int, bool) {
	if frame < 0 {
		return -1, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fd, ok := s.frames[frame]
	if !ok {
		fd = &FrameDetections{Frame: frame}
		s.frames[frame] = fd
		s.sorted = nil
	}
	fd.Detections = append(fd.Detections, d.clone())
	return len(fd.Detections) - 1, true
}

// RemoveDetection deletes detection index from frame.
func (s *Store) RemoveDetection(frame, index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	fd, ok := s.frames[frame]
	if !ok || index < 0 || index >= len(fd.Detections) {
		return false
	}
	fd.Detections = append(fd.Detections[:index], fd.Detections[index+1:]...)
	return true
}

// Clean permanently removes detections of frame whose area lies outside
// [minArea, maxArea] (maxArea <= 0 means unbounded) and then, for every
// pair closer than minDist, the later detection of the pair. It returns
// the number of detections removed.
func (s *Store) Clean(frame int, minDist, minArea, maxArea float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	fd, ok := s.frames[frame]
	if !ok {
		return 0
	}

	before := len(fd.Detections)
	kept := fd.Detections[:0]
	for _, d := range fd.Detections {
		if d.Area < minArea || (maxArea > 0 && d.Area > maxArea) {
			continue
		}
		kept = append(kept, d)
	}

	if minDist > 0 {
		spaced := kept[:0]
		for _, d := range kept {
			tooClose := false
			for _, k := range spaced {
				if d.Dist(k) < minDist {
					tooClose = true
					break
				}
			}
			if !tooClose {
				spaced = append(spaced, d)
			}
		}
		kept = spaced
	}

	fd.Detections = kept
	return before - len(kept)
}

// CleanCluster removes every detection within radius of (x, y) in frames
// [lo, hi]. It is used to wipe static noise such as a speck on the lens
// that segmentation picks up in many frames. Returns the number removed.
func (s *Store) CleanCluster(x, y, radius float64, lo, hi int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	centre := Detection{X: x, Y: y}
	removed := 0
	for frame, fd := range s.frames {
		if frame < lo || frame > hi {
			continue
		}
		kept := fd.Detections[:0]
		for _, d := range fd.Detections {
			if d.Dist(centre) <= radius {
				removed++
				continue
			}
			kept = append(kept, d)
		}
		fd.Detections = kept
	}
	return removed
}

// Frames returns the frame indices that have a detection set, ascending.
func (s *Store) Frames() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sorted == nil {
		s.sorted = make([]int, 0, len(s.frames))
		for f := range s.frames {
			s.sorted = append(s.sorted, f)
		}
		sort.Ints(s.sorted)
	}
	return append([]int(nil), s.sorted...)
}

// LastFrame returns the highest frame index with a detection set, or -1.
func (s *Store) LastFrame() int {
	frames := s.Frames()
	if len(frames) == 0 {
		return -1
	}
	return frames[len(frames)-1]
}

// Len returns the number of frame sets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// Count returns the total number of detections over all frames.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, fd := range s.frames {
		n += len(fd.Detections)
	}
	return n
}

// All returns copies of every frame set in frame order.
func (s *Store) All() []FrameDetections {
	frames := s.Frames()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FrameDetections, 0, len(frames))
	for _, f := range frames {
		if fd, ok := s.frames[f]; ok {
			out = append(out, *fd.clone())
		}
	}
	return out
}

// Reset removes every frame set.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = make(map[int]*FrameDetections)
	s.byTrigger = make(map[int]int)
	s.sorted = nil
}

// Clone returns a deep copy of the store.
func (s *Store) Clone() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := NewStore()
	for f, fd := range s.frames {
		out.frames[f] = fd.clone()
	}
	for t, f := range s.byTrigger {
		out.byTrigger[t] = f
	}
	return out
}

// Replace overwrites the contents of s with those of other.
func (s *Store) Replace(other *Store) {
	c := other.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = c.frames
	s.byTrigger = c.byTrigger
	s.sorted = nil
}
