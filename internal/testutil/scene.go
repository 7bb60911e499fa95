package testutil

import (
	"image"
	"image/color"
	"math"
	"math/rand"
)

// Disc is a filled circle moving at constant velocity through a Scene.
// It is drawn in frames [From, To]; To < 0 means every frame from From.
type Disc struct {
	X0, Y0 float64 // Centre at frame 0
	VX, VY float64 // Pixels per frame
	R      float64
	Level  uint8
	From   int
	To     int
}

// Center returns the disc centre at frame i.
func (d Disc) Center(i int) (float64, float64) {
	return d.X0 + d.VX*float64(i), d.Y0 + d.VY*float64(i)
}

// Visible reports whether the disc is drawn in frame i.
func (d Disc) Visible(i int) bool {
	return i >= d.From && (d.To < 0 || i <= d.To)
}

// Scene renders synthetic grayscale frames: a flat background with
// optional uniform noise and a set of moving discs.
type Scene struct {
	W, H       int
	Background uint8
	Noise      int // Max absolute noise added per pixel
	Seed       int64
	Discs      []Disc
}

// Frame renders frame i. Rendering is deterministic for a given Seed.
func (s Scene) Frame(i int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, s.W, s.H))
	rng := rand.New(rand.NewSource(s.Seed + int64(i)))
	for p := range img.Pix {
		v := int(s.Background)
		if s.Noise > 0 {
			v += rng.Intn(2*s.Noise+1) - s.Noise
		}
		img.Pix[p] = clampByte(v)
	}

	for _, d := range s.Discs {
		if !d.Visible(i) {
			continue
		}
		cx, cy := d.Center(i)
		minX := int(math.Floor(cx - d.R))
		maxX := int(math.Ceil(cx + d.R))
		minY := int(math.Floor(cy - d.R))
		maxY := int(math.Ceil(cy + d.R))
		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				if x < 0 || y < 0 || x >= s.W || y >= s.H {
					continue
				}
				dx, dy := float64(x)-cx, float64(y)-cy
				if dx*dx+dy*dy <= d.R*d.R {
					img.SetGray(x, y, color.Gray{Y: d.Level})
				}
			}
		}
	}
	return img
}

// Frames renders frames 0..n-1.
func (s Scene) Frames(n int) []*image.Gray {
	out := make([]*image.Gray, n)
	for i := range out {
		out[i] = s.Frame(i)
	}
	return out
}

func clampByte(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
