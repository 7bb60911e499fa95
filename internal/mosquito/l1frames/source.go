package l1frames

import (
	"errors"
	"fmt"
	"image"
	"sync"
)

// ErrFrameOutOfRange is returned when a frame index (after applying the
// offset) does not exist in the source.
var ErrFrameOutOfRange = errors.New("frame out of range")

// Timestamp is the capture time of a frame as reported by the source.
// The fields are carried verbatim into track points; nothing in the
// pipeline converts or normalises them.
type Timestamp struct {
	Sec  int
	Msec int
	Usec int
}

// Source supplies grayscale frames for segmentation.
type Source interface {
	// Image returns frame (frame - offset). Offset 0 is the current frame,
	// offset n the n-th previous frame used for differencing.
	Image(frame, offset int) (*image.Gray, error)
	// Timestamp returns the capture time of frame.
	Timestamp(frame int) Timestamp
	// Trigger returns the external trigger number of frame, if the
	// sequence is metadata driven.
	Trigger(frame int) (int, bool)
	// Len returns the number of frames.
	Len() int
	// ROI returns the rectangular region to process, or nil for the full frame.
	ROI() *image.Rectangle
	// PolyROI returns the polygonal region to keep, or nil.
	PolyROI() Polygon
}

// MemorySource is a Source backed by frames held in memory.
type MemorySource struct {
	mu         sync.RWMutex
	frames     []*image.Gray
	timestamps []Timestamp
	triggers   []int
	roi        *image.Rectangle
	poly       Polygon
}

// NewMemorySource creates a source over frames. Timestamps default to a
// 1 ms spacing until SetTimestamps is called.
func NewMemorySource(frames []*image.Gray) *MemorySource {
	ts := make([]Timestamp, len(frames))
	for i := range ts {
		ts[i] = Timestamp{Sec: i / 1000, Msec: i % 1000}
	}
	return &MemorySource{frames: frames, timestamps: ts}
}

// SetTimestamps replaces the per-frame timestamps.
func (s *MemorySource) SetTimestamps(ts []Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ts) != len(s.frames) {
		return fmt.Errorf("timestamps: got %d, want %d", len(ts), len(s.frames))
	}
	s.timestamps = append([]Timestamp(nil), ts...)
	return nil
}

// SetTriggers makes the sequence trigger indexed.
func (s *MemorySource) SetTriggers(triggers []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(triggers) != len(s.frames) {
		return fmt.Errorf("triggers: got %d, want %d", len(triggers), len(s.frames))
	}
	s.triggers = append([]int(nil), triggers...)
	return nil
}

// SetROI restricts processing to r. Pass nil to clear.
func (s *MemorySource) SetROI(r *image.Rectangle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roi = r
}

// SetPolyROI restricts detections to the inside of p. Pass nil to clear.
func (s *MemorySource) SetPolyROI(p Polygon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poly = p
}

// Image implements Source.
func (s *MemorySource) Image(frame, offset int) (*image.Gray, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := frame - offset
	if idx < 0 || idx >= len(s.frames) {
		return nil, fmt.Errorf("frame %d (offset %d): %w", frame, offset, ErrFrameOutOfRange)
	}
	return s.frames[idx], nil
}

// Timestamp implements Source.
func (s *MemorySource) Timestamp(frame int) Timestamp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if frame < 0 || frame >= len(s.timestamps) {
		return Timestamp{}
	}
	return s.timestamps[frame]
}

// Trigger implements Source.
func (s *MemorySource) Trigger(frame int) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.triggers == nil || frame < 0 || frame >= len(s.triggers) {
		return 0, false
	}
	return s.triggers[frame], true
}

// Len implements Source.
func (s *MemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// ROI implements Source.
func (s *MemorySource) ROI() *image.Rectangle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roi
}

// PolyROI implements Source.
func (s *MemorySource) PolyROI() Polygon {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.poly
}

// TimestampAt converts a frame index to a Timestamp for a constant frame
// rate.
func TimestampAt(frame int, fps float64) Timestamp {
	if fps <= 0 {
		return Timestamp{}
	}
	totalUsec := int64(float64(frame) * 1e6 / fps)
	return Timestamp{
		Sec:  int(totalUsec / 1_000_000),
		Msec: int(totalUsec / 1000 % 1000),
		Usec: int(totalUsec % 1000),
	}
}
