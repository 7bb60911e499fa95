package l1frames

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DirSource reads a frame sequence from the image files of one directory,
// ordered by file name. Frames are decoded on demand and a small window
// of recent frames is cached, since segmentation always asks for the
// current frame and a few previous ones.
type DirSource struct {
	paths []string
	fps   float64

	mu      sync.Mutex
	cache   map[int]*image.Gray
	order   []int
	maxKeep int
	roi     *image.Rectangle
	poly    Polygon
}

// NewDirSource lists the PNG and JPEG files in dir.
func NewDirSource(dir string, fps float64) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames found in %s", dir)
	}
	sort.Strings(paths)
	return &DirSource{
		paths:   paths,
		fps:     fps,
		cache:   make(map[int]*image.Gray),
		maxKeep: 8,
	}, nil
}

// SetROI restricts processing to r. Pass nil to clear.
func (s *DirSource) SetROI(r *image.Rectangle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roi = r
}

// SetPolyROI restricts detections to the inside of p. Pass nil to clear.
func (s *DirSource) SetPolyROI(p Polygon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poly = p
}

// Image implements Source.
func (s *DirSource) Image(frame, offset int) (*image.Gray, error) {
	idx := frame - offset
	if idx < 0 || idx >= len(s.paths) {
		return nil, fmt.Errorf("frame %d (offset %d): %w", frame, offset, ErrFrameOutOfRange)
	}

	s.mu.Lock()
	img, ok := s.cache[idx]
	s.mu.Unlock()
	if ok {
		return img, nil
	}

	// Decode without holding mu; only the cache is guarded.
	img, err := decodeGray(s.paths[idx])
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[idx]; ok {
		return cached, nil
	}
	s.cache[idx] = img
	s.order = append(s.order, idx)
	if len(s.order) > s.maxKeep {
		delete(s.cache, s.order[0])
		s.order = s.order[1:]
	}
	return img, nil
}

// Timestamp implements Source.
func (s *DirSource) Timestamp(frame int) Timestamp {
	return TimestampAt(frame, s.fps)
}

// Trigger implements Source. Directory sequences are uniformly sampled.
func (s *DirSource) Trigger(int) (int, bool) { return 0, false }

// Len implements Source.
func (s *DirSource) Len() int { return len(s.paths) }

// ROI implements Source.
func (s *DirSource) ROI() *image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roi
}

// PolyROI implements Source.
func (s *DirSource) PolyROI() Polygon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poly
}

func decodeGray(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return ToGray(img), nil
}

// ToGray returns img as an *image.Gray anchored at the origin, converting
// colour images with the standard luma weights.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
