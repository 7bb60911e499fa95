package l2segment

import (
	"errors"
	"image"

	"github.com/banshee-data/mosquito.tracker/internal/monitoring"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l3detections"
)

// ErrNilImage is returned when either input frame is nil.
var ErrNilImage = errors.New("segment: nil image")

// Result is the outcome of one segmentation call. MaxDiff is -1 when the
// difference image carried no usable signal; such a round has no
// detections and must not be committed as a valid frame.
type Result struct {
	Detections []l3detections.Detection
	MaxDiff    float64
	Threshold  float64
}

// Degenerate reports whether the round produced the no-signal sentinel.
func (r Result) Degenerate() bool { return r.MaxDiff < 0 }

func degenerate() Result { return Result{MaxDiff: -1} }

// stage holds the difference planes of one numeric path.
type stage[T sample] struct {
	d, tmp plane[T]
	window []T
}

// scratch holds buffers shared by both numeric paths.
type scratch struct {
	bin, tmp, mask []uint8
	labels         []int32
	stack          []int
	hist           [histBins]int
	gauss          plane[float32]
}

// Segmenter turns pairs of frames into detections. It keeps scratch
// buffers between calls and is not safe for concurrent use; give each
// worker goroutine its own Segmenter.
type Segmenter struct {
	rawCur, rawPrev plane[uint8]
	medCur, medPrev plane[uint8]
	window8         []uint8

	fCur, fPrev, fTmp plane[float32]

	ints   stage[int16]
	floats stage[float32]
	sc     scratch
}

// NewSegmenter returns a Segmenter with empty scratch buffers.
func NewSegmenter() *Segmenter {
	return &Segmenter{}
}

// Segment finds moving objects in current relative to previous. Both
// images must have the same bounds. Mismatched or empty regions yield the
// degenerate result rather than an error. Segment never mutates its
// inputs.
func (s *Segmenter) Segment(current, previous *image.Gray, p Params) (Result, error) {
	if current == nil || previous == nil {
		return degenerate(), ErrNilImage
	}
	if current.Bounds() != previous.Bounds() {
		monitoring.Logf("segment: frame bounds differ (%v vs %v)", current.Bounds(), previous.Bounds())
		return degenerate(), nil
	}

	r := region(current.Bounds(), p)
	if r.Empty() {
		return degenerate(), nil
	}

	cropGray(&s.rawCur, current, r)
	cropGray(&s.rawPrev, previous, r)
	cur, prev := &s.rawCur, &s.rawPrev
	if k := oddKernel(p.MedianBlur1); k > 1 {
		s.window8 = medianBlur8(&s.medCur, cur, k, s.window8)
		s.window8 = medianBlur8(&s.medPrev, prev, k, s.window8)
		cur, prev = &s.medCur, &s.medPrev
	}

	if !p.usesFloat() {
		return runStage(&s.ints, cur, prev, &s.rawCur, p, r.Min, &s.sc), nil
	}

	toFloat(&s.fCur, cur)
	toFloat(&s.fPrev, prev)
	if k := oddKernel(p.GaussianBlur1); k > 1 {
		blur32(&s.fCur, &s.fTmp, &s.fCur, k, p.GaussianSigma1)
		blur32(&s.fPrev, &s.fTmp, &s.fPrev, k, p.GaussianSigma1)
	}
	return runStage(&s.floats, &s.fCur, &s.fPrev, &s.rawCur, p, r.Min, &s.sc), nil
}

// region is the processing rectangle: image bounds clipped to the ROI and
// to the polygon's bounding box.
func region(bounds image.Rectangle, p Params) image.Rectangle {
	r := bounds
	if p.ROI != nil {
		r = r.Intersect(*p.ROI)
	}
	if len(p.Polygon) >= 3 {
		r = r.Intersect(p.Polygon.Bounds())
	}
	return r
}

// runStage is the shared pipeline from the difference plane onward.
func runStage[S pixel, T sample](st *stage[T], cur, prev *plane[S], raw *plane[uint8], p Params, origin image.Point, sc *scratch) Result {
	difference(&st.d, cur, prev, p.BlackOnWhite)

	if k := oddKernel(p.MedianBlur2); k > 1 {
		st.window = medianBlur(&st.tmp, &st.d, k, st.window)
		st.d, st.tmp = st.tmp, st.d
	}
	if k := oddKernel(p.GaussianBlur2); k > 1 {
		if fd, ok := any(&st.d).(*plane[float32]); ok {
			blur32(fd, &sc.gauss, fd, k, p.GaussianSigma2)
		}
	}

	d := &st.d
	mode, last, ok := histogram(d, &sc.hist)
	if !ok || last <= mode {
		return degenerate()
	}
	t := threshold(mode, last, p.FracN, p.MinThreshold)

	n := d.w * d.h
	sc.bin = grow(sc.bin, n)
	sc.tmp = grow(sc.tmp, n)
	binarise(sc.bin, d, t)
	sc.bin, sc.tmp = morphology(sc.bin, sc.tmp, d.w, d.h, p.Erode, p.Dilate)

	if len(p.Polygon) >= 3 {
		clipPolygon(sc.bin, d.w, d.h, origin.X, origin.Y, p.Polygon)
	}
	if p.MaskThreshold != 0 {
		sc.mask = grow(sc.mask, n)
		applySecondaryMask(sc.bin, sc.mask, sc.tmp, raw, p.MaskThreshold)
	}

	return Result{
		Detections: extractBlobs(d, sc.bin, sc, p, origin),
		MaxDiff:    last,
		Threshold:  t,
	}
}
