// Package hsv converts single RGB pixels to HSV.
//
// Four kernels share one contract and differ only in numeric domain and
// branch strategy. All of them are total: black and gray pixels are handled
// by early returns or by epsilon-guarded denominators, never by errors.
package hsv

// closedEpsilon keeps the closed-form denominators away from zero.
const closedEpsilon float32 = 1e-20

// RGBToHSV converts an 8-bit pixel on the 0-255 hue wheel
// (offsets 0/85/171, 43 steps per sixth).
func RGBToHSV(r, g, b uint8) (h, s, v uint8) {
	maxc := max(r, g, b)
	minc := min(r, g, b)

	v = maxc
	if v == 0 {
		return 0, 0, 0
	}

	chroma := int(maxc) - int(minc)
	s = uint8(255 * chroma / int(v))
	if s == 0 {
		return 0, 0, v
	}

	// Negative red-sector hues wrap to the top of the wheel.
	switch maxc {
	case r:
		h = uint8(43 * (int(g) - int(b)) / chroma)
	case g:
		h = uint8(85 + 43*(int(b)-int(r))/chroma)
	default:
		h = uint8(171 + 43*(int(r)-int(g))/chroma)
	}
	return h, s, v
}

// RGBToHSVShort is RGBToHSV with min/max found by sequential
// compare-and-assign. Output is bit-identical to RGBToHSV.
func RGBToHSVShort(r, g, b uint8) (h, s, v uint8) {
	minc, maxc := r, r
	if minc > g {
		minc = g
	}
	if minc > b {
		minc = b
	}
	if maxc < g {
		maxc = g
	}
	if maxc < b {
		maxc = b
	}

	v = maxc
	if v == 0 {
		return 0, 0, 0
	}

	chroma := int(maxc - minc)
	s = uint8(255 * chroma / int(v))
	if s == 0 {
		return 0, 0, v
	}

	if r == maxc {
		return uint8(43 * (int(g) - int(b)) / chroma), s, v
	}
	if g == maxc {
		return uint8(85 + 43*(int(b)-int(r))/chroma), s, v
	}
	return uint8(171 + 43*(int(r)-int(g))/chroma), s, v
}

// RGBToHSVf converts a normalized pixel (channels in [0,1]). v and s land in
// [0,1]. The hue keeps the 8-bit multipliers 43/128/214 without sector
// offsets, so it is only an approximation of a hue wheel: red-sector hues
// span [-43,43], green [-128,128], blue [-214,214]. Use RGBToHSVClosed when
// a consistent [0,1] hue is needed.
func RGBToHSVf(r, g, b float32) (h, s, v float32) {
	maxc := max(r, g, b)
	minc := min(r, g, b)

	v = maxc
	if v == 0 {
		return 0, 0, 0
	}

	chroma := maxc - minc
	s = chroma / v
	if s == 0 {
		return 0, 0, v
	}

	switch maxc {
	case r:
		h = 43 * (g - b) / chroma
	case g:
		h = 128 * (b - r) / chroma
	default:
		h = 214 * (r - g) / chroma
	}
	return h, s, v
}

// RGBToHSVClosed converts a normalized pixel with a branch-light closed
// form. h, s and v are all in [0,1]; h is measured in turns. Black and gray
// pixels come out as h=0, s=0 through the epsilon, without explicit checks.
func RGBToHSVClosed(r, g, b float32) (h, s, v float32) {
	var k float32
	if g < b {
		g, b = b, g
		k = -1
	}
	if r < g {
		r, g = g, r
		k = -2.0/6.0 - k
	}

	chroma := r - min(g, b)
	h = k + (g-b)/(6*chroma+closedEpsilon)
	if h < 0 {
		h = -h
	}
	s = chroma / (r + closedEpsilon)
	return h, s, r
}
