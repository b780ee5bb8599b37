package squish

import (
	"fmt"
	"image"
	"math"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/image/draw"
)

// ResizeFilter selects the resampling kernel used when an image is
// scaled down to fit MaxSide.
type ResizeFilter int

const (
	// Lanczos3 is a separable Lanczos-3 filter with premultiplied alpha.
	Lanczos3 ResizeFilter = iota
	CatmullRom
	Bilinear
	ApproxBilinear
	Nearest
)

var resizeFilterNames = map[ResizeFilter]string{
	Lanczos3:       "lanczos",
	CatmullRom:     "catmullrom",
	Bilinear:       "bilinear",
	ApproxBilinear: "approxbilinear",
	Nearest:        "nearest",
}

func (f ResizeFilter) String() string {
	if s, ok := resizeFilterNames[f]; ok {
		return s
	}
	return fmt.Sprintf("ResizeFilter(%d)", int(f))
}

// ParseResizeFilter maps a filter name to its ResizeFilter.
func ParseResizeFilter(s string) (ResizeFilter, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "lanczos3" {
		return Lanczos3, nil
	}
	for f, name := range resizeFilterNames {
		if name == s {
			return f, nil
		}
	}
	return Lanczos3, fmt.Errorf("squish: unknown resize filter %q", s)
}

// resizeImage scales img to exactly dstW×dstH. The source is returned
// untouched when the size already matches.
func resizeImage(img *image.NRGBA, dstW, dstH int, f ResizeFilter) *image.NRGBA {
	b := img.Bounds()
	if dstW <= 0 || dstH <= 0 || b.Empty() {
		return image.NewNRGBA(image.Rect(0, 0, 0, 0))
	}
	if b.Dx() == dstW && b.Dy() == dstH {
		return img
	}

	var interp draw.Interpolator
	switch f {
	case CatmullRom:
		interp = draw.CatmullRom
	case Bilinear:
		interp = draw.BiLinear
	case ApproxBilinear:
		interp = draw.ApproxBiLinear
	case Nearest:
		interp = draw.NearestNeighbor
	default:
		return lanczosResize(img, dstW, dstH)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	interp.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// lanczosResize runs a two-pass separable Lanczos-3 filter, horizontal
// then vertical. Samples are weighted by alpha so transparent pixels do
// not bleed their color into the edges.
func lanczosResize(img *image.NRGBA, dstW, dstH int) *image.NRGBA {
	srcW, srcH := img.Bounds().Dx(), img.Bounds().Dy()

	tmp := image.NewNRGBA(image.Rect(0, 0, dstW, srcH))
	cols := lanczosWeights(srcW, dstW)
	parallelDo(0, srcH, func(y int) {
		for dx, taps := range cols {
			convolve(tmp.Pix[y*tmp.Stride+dx*4:], img.Pix, taps, func(i int) int {
				return y*img.Stride + i*4
			})
		}
	})

	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	rows := lanczosWeights(srcH, dstH)
	parallelDo(0, dstW, func(x int) {
		for dy, taps := range rows {
			convolve(dst.Pix[dy*dst.Stride+x*4:], tmp.Pix, taps, func(i int) int {
				return i*tmp.Stride + x*4
			})
		}
	})
	return dst
}

const lanczosA = 3.0

func lanczosKernel(x float64) float64 {
	x = math.Abs(x)
	if x == 0 {
		return 1
	}
	if x >= lanczosA {
		return 0
	}
	xpi := x * math.Pi
	return lanczosA * math.Sin(xpi) * math.Sin(xpi/lanczosA) / (xpi * xpi)
}

type tap struct {
	index  int
	weight float64
}

// lanczosWeights computes the normalized taps for every destination
// sample along one axis.
func lanczosWeights(srcN, dstN int) [][]tap {
	ratio := float64(srcN) / float64(dstN)
	scale := math.Max(ratio, 1)
	support := lanczosA * scale

	out := make([][]tap, dstN)
	for d := range out {
		center := (float64(d)+0.5)*ratio - 0.5
		lo := max(int(math.Ceil(center-support)), 0)
		hi := min(int(math.Floor(center+support)), srcN-1)

		taps := make([]tap, 0, hi-lo+1)
		var sum float64
		for s := lo; s <= hi; s++ {
			if w := lanczosKernel((float64(s) - center) / scale); w != 0 {
				taps = append(taps, tap{s, w})
				sum += w
			}
		}
		if sum != 0 {
			for i := range taps {
				taps[i].weight /= sum
			}
		}
		out[d] = taps
	}
	return out
}

// convolve writes one alpha-weighted output pixel to dst[0:4].
func convolve(dst, src []byte, taps []tap, offset func(int) int) {
	var r, g, b, a float64
	for _, t := range taps {
		o := offset(t.index)
		aw := float64(src[o+3]) * t.weight
		r += float64(src[o]) * aw
		g += float64(src[o+1]) * aw
		b += float64(src[o+2]) * aw
		a += aw
	}
	if a <= 0 {
		return
	}
	inv := 1 / a
	dst[0] = clampF(r * inv)
	dst[1] = clampF(g * inv)
	dst[2] = clampF(b * inv)
	dst[3] = clampF(a)
}

// parallelDo calls fn(i) for every i in [start, stop), split across
// GOMAXPROCS goroutines.
func parallelDo(start, stop int, fn func(i int)) {
	count := stop - start
	if count <= 0 {
		return
	}
	procs := min(runtime.GOMAXPROCS(0), count)
	if procs <= 1 {
		for i := start; i < stop; i++ {
			fn(i)
		}
		return
	}

	var wg sync.WaitGroup
	batch := (count + procs - 1) / procs
	for from := start; from < stop; from += batch {
		to := min(from+batch, stop)
		wg.Add(1)
		go func(from, to int) {
			defer wg.Done()
			for i := from; i < to; i++ {
				fn(i)
			}
		}(from, to)
	}
	wg.Wait()
}
