package l2segment

import "github.com/banshee-data/mosquito.tracker/internal/mosquito/l1frames"

// erode3 keeps a pixel only if it and every in-bounds 3x3 neighbour are
// set. Pixels beyond the border do not erode.
func erode3(dst, src []uint8, w, h int) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if src[i] == 0 {
				dst[i] = 0
				continue
			}
			keep := uint8(1)
		scan:
			for dy := -1; dy <= 1; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					if src[yy*w+xx] == 0 {
						keep = 0
						break scan
					}
				}
			}
			dst[i] = keep
		}
	}
}

// dilate3 sets a pixel if any in-bounds 3x3 neighbour is set.
func dilate3(dst, src []uint8, w, h int) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var hit uint8
		scan:
			for dy := -1; dy <= 1; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					if src[yy*w+xx] != 0 {
						hit = 1
						break scan
					}
				}
			}
			dst[y*w+x] = hit
		}
	}
}

// morph runs erode passes then dilate passes and returns the buffer that
// holds the result (bin or tmp).
func morph(bin, tmp []uint8, w, h, erode, dilate int) ([]uint8, []uint8) {
	for i := 0; i < erode; i++ {
		erode3(tmp, bin, w, h)
		bin, tmp = tmp, bin
	}
	for i := 0; i < dilate; i++ {
		dilate3(tmp, bin, w, h)
		bin, tmp = tmp, bin
	}
	return bin, tmp
}

// clipPolygon clears pixels whose full-frame position lies outside poly.
func clipPolygon(bin []uint8, w, h, ox, oy int, poly l1frames.Polygon) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if bin[i] != 0 && !poly.Contains(float64(x+ox), float64(y+oy)) {
				bin[i] = 0
			}
		}
	}
}

// applySecondaryMask thresholds the current crop (t > 0 keeps cur >= t,
// t < 0 keeps cur < -t), erodes the mask once and clears bin outside it.
func applySecondaryMask(bin, mask, tmp []uint8, cur *plane[uint8], t int) {
	for i, v := range cur.pix {
		var keep bool
		if t > 0 {
			keep = int(v) >= t
		} else {
			keep = int(v) < -t
		}
		if keep {
			mask[i] = 1
		} else {
			mask[i] = 0
		}
	}
	eroded, _ := morphology(mask, tmp, cur.w, cur.h, 1, 0)
	for i := range bin {
		if eroded[i] == 0 {
			bin[i] = 0
		}
	}
}
