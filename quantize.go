package squish

import (
	"image"
	"image/color"
	"math"
	"sort"

	"golang.org/x/image/draw"
)

// colorBox is one node of the median-cut tree. Alpha is treated as a
// fourth axis so translucent edges get their own palette entries.
type colorBox struct {
	pixels   [][4]uint8
	min, max [4]uint8
}

func newColorBox(pixels [][4]uint8) *colorBox {
	box := &colorBox{
		pixels: pixels,
		min:    [4]uint8{255, 255, 255, 255},
	}
	for _, p := range pixels {
		for c := 0; c < 4; c++ {
			if p[c] < box.min[c] {
				box.min[c] = p[c]
			}
			if p[c] > box.max[c] {
				box.max[c] = p[c]
			}
		}
	}
	return box
}

func (b *colorBox) longestAxis() int {
	axis, best := 0, -1
	for c := 0; c < 4; c++ {
		if r := int(b.max[c]) - int(b.min[c]); r > best {
			axis, best = c, r
		}
	}
	return axis
}

func (b *colorBox) average() color.NRGBA {
	if len(b.pixels) == 0 {
		return color.NRGBA{0, 0, 0, 255}
	}
	var sum [4]int64
	for _, p := range b.pixels {
		for c := 0; c < 4; c++ {
			sum[c] += int64(p[c])
		}
	}
	n := int64(len(b.pixels))
	// Round to nearest so a uniform box reproduces its color exactly.
	return color.NRGBA{
		R: uint8((sum[0] + n/2) / n),
		G: uint8((sum[1] + n/2) / n),
		B: uint8((sum[2] + n/2) / n),
		A: uint8((sum[3] + n/2) / n),
	}
}

func (b *colorBox) volume() int {
	v := 1
	for c := 0; c < 4; c++ {
		v *= int(b.max[c]) - int(b.min[c]) + 1
	}
	return v
}

// medianCut builds a palette of at most maxColors entries.
func medianCut(img *image.NRGBA, maxColors int) color.Palette {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	maxSamples := 100000
	step := 1
	if w*h > maxSamples {
		step = max((w*h)/maxSamples, 1)
	}

	pixels := make([][4]uint8, 0, w*h/step+1)
	for i := 0; i < w*h; i += step {
		x, y := i%w, i/w
		off := y*img.Stride + x*4
		pixels = append(pixels, [4]uint8{img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3]})
	}

	if len(pixels) == 0 {
		return color.Palette{color.NRGBA{0, 0, 0, 255}}
	}

	boxes := []*colorBox{newColorBox(pixels)}

	for len(boxes) < maxColors {
		bestIdx := -1
		bestScore := -1
		for i, box := range boxes {
			if len(box.pixels) < 2 || box.volume() == 1 {
				continue
			}
			score := box.volume() * len(box.pixels)
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}

		box := boxes[bestIdx]
		axis := box.longestAxis()

		sort.Slice(box.pixels, func(i, j int) bool {
			return box.pixels[i][axis] < box.pixels[j][axis]
		})

		mid := len(box.pixels) / 2
		boxes[bestIdx] = newColorBox(box.pixels[:mid])
		boxes = append(boxes, newColorBox(box.pixels[mid:]))
	}

	palette := make(color.Palette, len(boxes))
	for i, box := range boxes {
		palette[i] = box.average()
	}
	return palette
}

// applyPalette maps every pixel to its nearest palette entry.
func applyPalette(src *image.NRGBA, palette color.Palette) *image.Paletted {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	indexed := image.NewPaletted(image.Rect(0, 0, w, h), palette)

	entries := make([][4]int, len(palette))
	for i, c := range palette {
		n := color.NRGBAModel.Convert(c).(color.NRGBA)
		entries[i] = [4]int{int(n.R), int(n.G), int(n.B), int(n.A)}
	}

	cache := make(map[[4]uint8]uint8, 256)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := y*src.Stride + x*4
			key := [4]uint8{src.Pix[off], src.Pix[off+1], src.Pix[off+2], src.Pix[off+3]}
			if idx, ok := cache[key]; ok {
				indexed.Pix[y*indexed.Stride+x] = idx
				continue
			}

			bestIdx := 0
			bestDist := math.MaxInt
			for i, e := range entries {
				dr := int(key[0]) - e[0]
				dg := int(key[1]) - e[1]
				db := int(key[2]) - e[2]
				da := int(key[3]) - e[3]
				dist := dr*dr + dg*dg + db*db + da*da
				if dist < bestDist {
					bestDist = dist
					bestIdx = i
				}
			}

			cache[key] = uint8(bestIdx)
			indexed.Pix[y*indexed.Stride+x] = uint8(bestIdx)
		}
	}
	return indexed
}

// quantize reduces img to at most maxColors colors.
func quantize(img *image.NRGBA, maxColors int, dithering bool) *image.Paletted {
	palette := medianCut(img, clamp(maxColors, 1, 256))
	if !dithering {
		return applyPalette(img, palette)
	}
	b := img.Bounds()
	dst := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), palette)
	draw.FloydSteinberg.Draw(dst, dst.Bounds(), img, b.Min)
	return dst
}
