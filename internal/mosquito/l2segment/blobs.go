package l2segment

import (
	"image"
	"math"

	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l3detections"
)

// moore lists the 8 neighbours clockwise (y down), starting west.
var moore = [8]image.Point{
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
}

func mooreIndex(d image.Point) int {
	for i, m := range moore {
		if m == d {
			return i
		}
	}
	return 0
}

// extractBlobs labels 8-connected components of bin in raster order and
// returns those whose area lies in [minArea, maxArea]. Coordinates are
// shifted by origin.
func extractBlobs[T sample](d *plane[T], bin []uint8, sc *scratch, p Params, origin image.Point) []l3detections.Detection {
	w, h := d.w, d.h
	sc.labels = grow(sc.labels, w*h)
	labels := sc.labels

	var dets []l3detections.Detection
	var next int32
	for start := range bin {
		if bin[start] == 0 || labels[start] != 0 {
			continue
		}
		next++
		labels[start] = next

		var sumX, sumY, area float64
		peak := math.Inf(-1)
		stack := append(sc.stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			sumX += float64(x)
			sumY += float64(y)
			area++
			if v := float64(d.pix[i]); v > peak {
				peak = v
			}
			for _, m := range moore {
				xx, yy := x+m.X, y+m.Y
				if xx < 0 || yy < 0 || xx >= w || yy >= h {
					continue
				}
				j := yy*w + xx
				if bin[j] != 0 && labels[j] == 0 {
					labels[j] = next
					stack = append(stack, j)
				}
			}
		}
		sc.stack = stack

		if area < p.MinArea || area > p.MaxArea {
			continue
		}
		det := l3detections.Detection{
			X:         sumX/area + float64(origin.X),
			Y:         sumY/area + float64(origin.Y),
			Intensity: peak,
			Area:      area,
		}
		if p.WithContours {
			first := image.Pt(start%w, start/w)
			det.Contour = traceContour(labels, w, h, next, first, 4*int(area)+16)
			for k := range det.Contour {
				det.Contour[k] = det.Contour[k].Add(origin)
			}
		}
		dets = append(dets, det)
	}
	return dets
}

// traceContour follows the outer boundary of the labelled blob clockwise
// by Moore-neighbour tracing. start must be the blob's first pixel in
// raster order, so its west neighbour is background.
func traceContour(labels []int32, w, h int, label int32, start image.Point, limit int) []image.Point {
	inside := func(p image.Point) bool {
		return p.X >= 0 && p.Y >= 0 && p.X < w && p.Y < h && labels[p.Y*w+p.X] == label
	}

	contour := []image.Point{start}
	cur, back := start, 0
	var second image.Point
	haveSecond := false

	for step := 0; step < limit; step++ {
		moved := false
		for i := 1; i <= 8; i++ {
			dir := (back + i) % 8
			n := cur.Add(moore[dir])
			if !inside(n) {
				continue
			}
			if cur == start && haveSecond && n == second {
				return contour
			}
			prev := cur.Add(moore[(dir+7)%8])
			back = mooreIndex(prev.Sub(n))
			cur = n
			moved = true
			break
		}
		if !moved {
			return contour // single pixel
		}
		if !haveSecond {
			second, haveSecond = cur, true
		}
		if cur != start {
			contour = append(contour, cur)
		}
	}
	return contour
}
