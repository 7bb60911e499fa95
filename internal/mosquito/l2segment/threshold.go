package l2segment

import "math"

// Histogram layout: one unit bin per value in [-255, 255].
const (
	histMin  = -255
	histBins = 511
)

func binOf(v float64) int {
	b := int(math.Round(v)) - histMin
	return clampInt(b, 0, histBins-1)
}

// histogram fills hist from d and returns the value of the most populated
// bin (lowest value on ties) and the highest populated value. ok is false
// for an empty plane.
func histogram[T sample](d *plane[T], hist *[histBins]int) (mode, last float64, ok bool) {
	clear(hist[:])
	for _, v := range d.pix {
		hist[binOf(float64(v))]++
	}

	modeBin, lastBin := -1, -1
	for b, n := range hist {
		if n == 0 {
			continue
		}
		if modeBin < 0 || n > hist[modeBin] {
			modeBin = b
		}
		lastBin = b
	}
	if modeBin < 0 {
		return 0, 0, false
	}
	return float64(modeBin + histMin), float64(lastBin + histMin), true
}

// threshold places the cut fracN of the way from the mode to the maximum,
// never closer to the mode than minThreshold.
func threshold(mode, last, fracN, minThreshold float64) float64 {
	t := mode + fracN*(last-mode)
	if floor := mode + minThreshold; t < floor {
		return floor
	}
	return t
}

// binarise sets bin[i] = 1 where d >= t.
func binarise[T sample](bin []uint8, d *plane[T], t float64) {
	for i, v := range d.pix {
		if float64(v) >= t {
			bin[i] = 1
		} else {
			bin[i] = 0
		}
	}
}
