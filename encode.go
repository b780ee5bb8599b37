package squish

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/gen2brain/jpegli"
)

// ColorMode selects the JPEG component layout.
type ColorMode int

const (
	// ColorRGB always writes a three-component JPEG.
	ColorRGB ColorMode = iota
	// ColorAuto writes a one-component JPEG when every pixel is neutral
	// gray and the preset is PresetMax.
	ColorAuto
)

// JPEGOptions configures EncodeJPEG.
type JPEGOptions struct {
	Width, Height int
	Quality       int // 1–100
	Preset        Preset
	Background    color.RGBA // transparent pixels are blended onto this
	ColorMode     ColorMode
}

func (o JPEGOptions) normalized() JPEGOptions {
	o.Quality = clamp(o.Quality, 1, 100)
	o.Preset = clamp(o.Preset, PresetFast, PresetMax)
	return o
}

// QuantizationMode controls palette reduction for PNG output.
type QuantizationMode int

const (
	// QuantizeOff keeps full color. Implied by Lossless.
	QuantizeOff QuantizationMode = iota
	// QuantizeAuto quantizes only when it produces smaller output.
	QuantizeAuto
	// QuantizeForce always quantizes.
	QuantizeForce
)

// PNGOptions configures EncodePNG.
type PNGOptions struct {
	Width, Height int
	Preset        Preset
	Lossless      bool
	Quantization  QuantizationMode
	MaxColors     int // 1–256
	Dithering     bool
}

func (o PNGOptions) normalized() PNGOptions {
	o.Preset = clamp(o.Preset, PresetFast, PresetMax)
	o.MaxColors = clamp(o.MaxColors, 1, 256)
	switch {
	case o.Lossless:
		o.Quantization = QuantizeOff
	case o.Quantization == QuantizeOff:
		o.Quantization = QuantizeAuto
	}
	return o
}

// pixelCount returns w*h, or false for an empty or overflowing area.
func pixelCount(w, h int) (int, bool) {
	if w <= 0 || h <= 0 || w > math.MaxInt/4/h {
		return 0, false
	}
	return w * h, true
}

// EncodeJPEG encodes a straight-alpha RGBA buffer as JPEG. Transparent
// pixels are composited onto opts.Background. It returns nil when the
// buffer is shorter than Width*Height*4, the area is zero, or the
// encoder fails; callers treat nil as "no output produced".
func EncodeJPEG(rgba []byte, opts JPEGOptions) []byte {
	opts = opts.normalized()
	px, ok := pixelCount(opts.Width, opts.Height)
	if !ok || len(rgba) < px*4 {
		return nil
	}
	return encodeOpaqueJPEG(composite(rgba[:px*4], opts.Width, opts.Height, opts.Background), opts)
}

// encodeRGBJPEG encodes a packed RGB buffer. It backs the PDF rewriter,
// whose image streams carry no alpha.
func encodeRGBJPEG(rgb []byte, opts JPEGOptions) []byte {
	opts = opts.normalized()
	px, ok := pixelCount(opts.Width, opts.Height)
	if !ok || len(rgb) < px*3 {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	for i, j := 0, 0; i < px; i, j = i+1, j+3 {
		o := i * 4
		img.Pix[o] = rgb[j]
		img.Pix[o+1] = rgb[j+1]
		img.Pix[o+2] = rgb[j+2]
		img.Pix[o+3] = 0xff
	}
	return encodeOpaqueJPEG(img, opts)
}

// composite flattens RGBA onto bg, producing an opaque image.
func composite(rgba []byte, w, h int, bg color.RGBA) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for o := 0; o < len(rgba); o += 4 {
		switch a := rgba[o+3]; a {
		case 0xff:
			dst.Pix[o] = rgba[o]
			dst.Pix[o+1] = rgba[o+1]
			dst.Pix[o+2] = rgba[o+2]
		case 0:
			dst.Pix[o] = bg.R
			dst.Pix[o+1] = bg.G
			dst.Pix[o+2] = bg.B
		default:
			dst.Pix[o] = blendChannel(rgba[o], a, bg.R)
			dst.Pix[o+1] = blendChannel(rgba[o+1], a, bg.G)
			dst.Pix[o+2] = blendChannel(rgba[o+2], a, bg.B)
		}
		dst.Pix[o+3] = 0xff
	}
	return dst
}

// jpegEncoding maps a preset onto encoder effort. PresetFast writes a
// baseline JPEG with the standard Huffman tables; the slower presets add
// optimized coding and progressive scans.
func jpegEncoding(quality int, p Preset) *jpegli.EncodingOptions {
	o := &jpegli.EncodingOptions{
		Quality:           quality,
		ChromaSubsampling: image.YCbCrSubsampleRatio420,
	}
	switch p {
	case PresetBalanced:
		o.ProgressiveLevel = 1
		o.OptimizeCoding = true
	case PresetMax:
		o.ProgressiveLevel = 2
		o.OptimizeCoding = true
	}
	return o
}

// encodeOpaqueJPEG encodes with jpegli and falls back to image/jpeg when
// jpegli cannot produce output.
func encodeOpaqueJPEG(img *image.RGBA, opts JPEGOptions) []byte {
	var src image.Image = img
	if opts.ColorMode == ColorAuto && opts.Preset == PresetMax && isNeutral(img.Pix) {
		src = rgbaToGray(img)
	}
	var buf bytes.Buffer
	if err := jpegli.Encode(&buf, src, jpegEncoding(opts.Quality, opts.Preset)); err == nil && buf.Len() > 0 {
		return buf.Bytes()
	}
	buf.Reset()
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil
	}
	return buf.Bytes()
}

// EncodePNG encodes a straight-alpha RGBA buffer as PNG. It returns nil
// under the same conditions as EncodeJPEG.
func EncodePNG(rgba []byte, opts PNGOptions) []byte {
	opts = opts.normalized()
	px, ok := pixelCount(opts.Width, opts.Height)
	if !ok || len(rgba) < px*4 {
		return nil
	}
	img := &image.NRGBA{
		Pix:    rgba[: px*4 : px*4],
		Stride: opts.Width * 4,
		Rect:   image.Rect(0, 0, opts.Width, opts.Height),
	}
	enc := png.Encoder{CompressionLevel: compressionLevel(opts.Preset)}

	switch opts.Quantization {
	case QuantizeOff:
		return encodeLosslessPNG(enc, img)
	case QuantizeForce:
		return encodePNGImage(enc, quantize(img, opts.MaxColors, opts.Dithering))
	default:
		full := encodeLosslessPNG(enc, img)
		quant := encodePNGImage(enc, quantize(img, opts.MaxColors, opts.Dithering))
		if len(quant) > 0 && (len(full) == 0 || len(quant) < len(full)) {
			return quant
		}
		return full
	}
}

func compressionLevel(p Preset) png.CompressionLevel {
	switch p {
	case PresetFast:
		return png.BestSpeed
	case PresetMax:
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}

// encodeLosslessPNG picks the smallest exact representation: gray when
// the image is opaque and neutral, indexed when there are at most 256
// colors, full NRGBA otherwise.
func encodeLosslessPNG(enc png.Encoder, img *image.NRGBA) []byte {
	if isOpaque(img) && isNeutral(img.Pix) {
		return encodePNGImage(enc, toGray(img))
	}
	if paletted := tryPalettize(img, 256); paletted != nil {
		return encodePNGImage(enc, paletted)
	}
	return encodePNGImage(enc, img)
}

func encodePNGImage(enc png.Encoder, img image.Image) []byte {
	var buf bytes.Buffer
	if err := enc.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

// tryPalettize converts the image to an indexed palette in first-seen
// order. Returns nil if the image has more than maxColors colors.
func tryPalettize(img *image.NRGBA, maxColors int) *image.Paletted {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()

	colorIndex := make(map[[4]uint8]uint8, maxColors)
	palette := make(color.Palette, 0, maxColors)
	paletted := image.NewPaletted(image.Rect(0, 0, w, h), nil)

	for y := 0; y < h; y++ {
		srcOff := y * img.Stride
		dstOff := y * paletted.Stride
		for x := 0; x < w; x++ {
			i := srcOff + x*4
			key := [4]uint8{img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]}
			idx, ok := colorIndex[key]
			if !ok {
				if len(palette) == maxColors {
					return nil
				}
				idx = uint8(len(palette))
				colorIndex[key] = idx
				palette = append(palette, color.NRGBA{key[0], key[1], key[2], key[3]})
			}
			paletted.Pix[dstOff+x] = idx
		}
	}

	paletted.Palette = palette
	return paletted
}

// PNGOptionsForQuality translates a perceptual quality value into PNG
// options. base supplies dimensions, preset and the manual palette
// settings.
func PNGOptionsForQuality(quality int, mode PNGMode, base PNGOptions, t Tuning) PNGOptions {
	t = t.withDefaults()
	level := clamp(quality, 1, 100)
	o := base
	switch mode {
	case PNGLossless:
		o.Lossless = true
	case PNGAuto:
		o.Lossless = false
		o.MaxColors = int(math.Round(t.PaletteFloor + float64(level)/100*t.PaletteSpan))
		o.Dithering = level <= t.DitherMaxQuality
		o.Quantization = QuantizeAuto
		if level < t.ForceQuantBelow {
			o.Quantization = QuantizeForce
		}
	default:
		o.Lossless = false
	}
	o.MaxColors = clamp(o.MaxColors, 1, 256)
	return o
}
