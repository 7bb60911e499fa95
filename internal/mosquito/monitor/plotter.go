package monitor

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/mosquito.tracker/internal/monitoring"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l4tracks"
)

// Plotter renders track trajectories as static images.
type Plotter struct {
	Width  vg.Length
	Height vg.Length
	// Tracks with fewer points are left out of the plot.
	MinPoints int
}

// NewPlotter returns a plotter with the default page size.
func NewPlotter() *Plotter {
	return &Plotter{Width: 10 * vg.Inch, Height: 8 * vg.Inch, MinPoints: 1}
}

// Plot builds a trajectory plot for reg. Y is negated so the plot reads
// like the frame, with the origin at the top left.
func (pl *Plotter) Plot(title string, reg *l4tracks.Registry) (*plot.Plot, error) {
	var tracks []l4tracks.Track
	for _, tr := range reg.Tracks() {
		if tr.Len() >= pl.MinPoints {
			tracks = append(tracks, tr)
		}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X (px)"
	p.Y.Label.Text = "-Y (px)"
	p.Add(plotter.NewGrid())

	colors := generateColors(len(tracks))
	for i, tr := range tracks {
		pts := make(plotter.XYs, len(tr.Points))
		for j, pt := range tr.Points {
			pts[j] = plotter.XY{X: pt.X, Y: -pt.Y}
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", tr.ID, err)
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		points.Color = colors[i]
		points.Radius = vg.Points(1.5)
		p.Add(line, points)
		if len(tracks) <= 20 {
			p.Legend.Add(fmt.Sprintf("track %d", tr.ID), line)
		}
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// Save writes the trajectory plot of reg to path. The format follows the
// file extension (png, svg, pdf).
func (pl *Plotter) Save(reg *l4tracks.Registry, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create plot directory: %w", err)
		}
	}
	title := filepath.Base(path)
	p, err := pl.Plot(title, reg)
	if err != nil {
		return err
	}
	if err := p.Save(pl.Width, pl.Height, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	monitoring.Logf("Saved %d-track plot to %s", reg.NumOfTracks(), path)
	return nil
}

// WritePNG writes the trajectory plot of reg to w as PNG.
func (pl *Plotter) WritePNG(w io.Writer, title string, reg *l4tracks.Registry) error {
	p, err := pl.Plot(title, reg)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(pl.Width, pl.Height, "png")
	if err != nil {
		return fmt.Errorf("png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// generateColors spreads n colours evenly around the hue wheel.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.45)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL in [0, 1] to 8-bit RGB.
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}
