package squish

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// toNRGBA returns img as a fresh, zero-origin *image.NRGBA with straight
// alpha. The result never aliases img, so callers may mutate it.
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			s := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], src.Pix[s:s+b.Dx()*4])
		}
		return dst
	}
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// isOpaque reports whether every pixel has full alpha.
func isOpaque(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff {
			return false
		}
	}
	return true
}

// isNeutral reports whether R == G == B for every 4-byte pixel in pix.
func isNeutral(pix []byte) bool {
	for i := 0; i+2 < len(pix); i += 4 {
		if pix[i] != pix[i+1] || pix[i+1] != pix[i+2] {
			return false
		}
	}
	return true
}

// toGray keeps the red channel of a neutral image.
func toGray(img *image.NRGBA) *image.Gray {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	gray := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride:]
		dst := gray.Pix[y*gray.Stride:]
		for x := 0; x < w; x++ {
			dst[x] = src[x*4]
		}
	}
	return gray
}

func rgbaToGray(img *image.RGBA) *image.Gray {
	return toGray((*image.NRGBA)(img))
}

// clampF rounds x into the uint8 range.
func clampF(x float64) uint8 {
	return uint8(clamp(int64(math.Round(x)), 0, 255))
}

// humanBytes formats a byte count using binary units.
func humanBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	f := float64(b)
	units := []string{"B", "KB", "MB", "GB"}
	i := 0
	for f >= unit && i < len(units)-1 {
		f /= unit
		i++
	}
	return fmt.Sprintf("%.1f %s", f, units[i])
}

// remap builds a dstW×dstH image where each source pixel (x, y) lands at
// to(x, y). It backs every EXIF orientation fix.
func remap(img *image.NRGBA, dstW, dstH int, to func(x, y, w, h int) (int, int)) *image.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := to(x, y, w, h)
			s := y*img.Stride + x*4
			d := dy*dst.Stride + dx*4
			copy(dst.Pix[d:d+4], img.Pix[s:s+4])
		}
	}
	return dst
}

func rotate90(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	return remap(img, b.Dy(), b.Dx(), func(x, y, _, h int) (int, int) { return h - 1 - y, x })
}

func rotate180(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	return remap(img, b.Dx(), b.Dy(), func(x, y, w, h int) (int, int) { return w - 1 - x, h - 1 - y })
}

func rotate270(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	return remap(img, b.Dy(), b.Dx(), func(x, y, w, _ int) (int, int) { return y, w - 1 - x })
}

func flipH(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	return remap(img, b.Dx(), b.Dy(), func(x, y, w, _ int) (int, int) { return w - 1 - x, y })
}

func flipV(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	return remap(img, b.Dx(), b.Dy(), func(x, y, _, h int) (int, int) { return x, h - 1 - y })
}
