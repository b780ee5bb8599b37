package squish

import (
	"math"

	"golang.org/x/exp/constraints"
)

// clamp limits v to [lo, hi].
func clamp[T constraints.Integer](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// blendChannel composites one channel of a straight-alpha pixel onto an
// opaque background: src*a + bg*(1-a), in integer math with rounding so
// results are bit-exact across platforms.
func blendChannel(src, alpha, bg uint8) uint8 {
	s := uint16(src)
	a := uint16(alpha)
	b := uint16(bg)
	return uint8((s*a + b*(255-a) + 127) / 255)
}

// ScaleToMaxSide returns the dimensions that fit w×h inside a square of
// maxSide pixels while preserving aspect ratio. It never upscales, and a
// maxSide of 0 means no limit. Neither returned dimension is below 1.
func ScaleToMaxSide(w, h, maxSide int) (int, int) {
	if maxSide <= 0 {
		return w, h
	}
	m := max(w, h)
	if m <= maxSide {
		return w, h
	}
	scale := float64(maxSide) / float64(m)
	newW := int(math.Max(1, math.Round(float64(w)*scale)))
	newH := int(math.Max(1, math.Round(float64(h)*scale)))
	return newW, newH
}
