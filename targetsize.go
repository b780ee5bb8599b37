package squish

import (
	"context"
	"image"
	"log/slog"
	"math"
)

// Tuning holds the empirical constants of the size search and the PNG
// quality mapping. They were tuned on typical photographic and UI
// content and carry no deeper meaning. Zero fields take the defaults.
type Tuning struct {
	// SizeExponent is the assumed power law between quality and size,
	// used only to seed the upper search bound.
	SizeExponent float64
	// MinSizeRatio floors target/size before the power law is applied.
	MinSizeRatio float64
	// MaxIterations caps the bisection after the first encode.
	MaxIterations int

	// PaletteFloor and PaletteSpan map quality q to a palette of
	// round(PaletteFloor + q/100*PaletteSpan) colors in PNGAuto mode.
	PaletteFloor float64
	PaletteSpan  float64
	// DitherMaxQuality enables dithering at or below this quality.
	DitherMaxQuality int
	// ForceQuantBelow forces quantization below this quality.
	ForceQuantBelow int
}

// DefaultTuning returns the stock constants.
func DefaultTuning() Tuning {
	return Tuning{
		SizeExponent:     0.6,
		MinSizeRatio:     0.05,
		MaxIterations:    6,
		PaletteFloor:     8,
		PaletteSpan:      248,
		DitherMaxQuality: 50,
		ForceQuantBelow:  90,
	}
}

func (t Tuning) withDefaults() Tuning {
	d := DefaultTuning()
	if t.SizeExponent <= 0 {
		t.SizeExponent = d.SizeExponent
	}
	if t.MinSizeRatio <= 0 || t.MinSizeRatio > 1 {
		t.MinSizeRatio = d.MinSizeRatio
	}
	if t.MaxIterations <= 0 {
		t.MaxIterations = d.MaxIterations
	}
	if t.PaletteFloor <= 0 {
		t.PaletteFloor = d.PaletteFloor
	}
	if t.PaletteSpan <= 0 {
		t.PaletteSpan = d.PaletteSpan
	}
	if t.DitherMaxQuality <= 0 {
		t.DitherMaxQuality = d.DitherMaxQuality
	}
	if t.ForceQuantBelow <= 0 {
		t.ForceQuantBelow = d.ForceQuantBelow
	}
	return t
}

const minTargetQuality = 1

// encodeAt produces the encoding at quality q. An empty result means
// nothing was produced.
type encodeAt func(q int) []byte

// searchState is the bisection bookkeeping for one search call.
type searchState struct {
	lo, hi    int
	bestUnder []byte
	bestQ     int
	smallest  []byte
	smallestQ int
}

// searchOutcome is what a size search settled on.
type searchOutcome struct {
	data     []byte
	quality  int
	attempts int
}

// estimateQuality guesses the quality that lands on targetBytes from
// one measurement at maxQuality, assuming size ~ quality^(1/exponent).
func estimateQuality(maxQuality, currentBytes, targetBytes int, t Tuning) int {
	if currentBytes == 0 || targetBytes == 0 {
		return maxQuality
	}
	ratio := math.Min(math.Max(float64(targetBytes)/float64(currentBytes), t.MinSizeRatio), 1.0)
	predicted := int(math.Round(float64(maxQuality) * math.Pow(ratio, t.SizeExponent)))
	return clamp(predicted, minTargetQuality, maxQuality)
}

// searchQuality finds the highest quality whose encoding fits within
// targetBytes. If nothing fits, the smallest encoding seen is returned.
// The search is a bounded bisection, so among fitting qualities it
// returns the best one found, not necessarily the global optimum.
func searchQuality(ctx context.Context, maxQuality, targetBytes int, t Tuning, logger *slog.Logger, encode encodeAt) (searchOutcome, error) {
	t = t.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	maxQuality = clamp(maxQuality, 1, 100)
	minQuality := min(minTargetQuality, maxQuality)

	first := encode(maxQuality)
	out := searchOutcome{data: first, quality: maxQuality, attempts: 1}
	if len(first) <= targetBytes {
		return out, nil
	}

	s := searchState{lo: minQuality, hi: maxQuality, smallest: first, smallestQ: maxQuality}

	estimate := estimateQuality(maxQuality, len(first), targetBytes, t)
	if estimate > minQuality && estimate < maxQuality {
		s.hi = estimate
	}
	logger.Debug("size search", "target", targetBytes, "size", len(first), "estimate", estimate)

	for i := 0; s.lo <= s.hi && i < t.MaxIterations; i++ {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return out, err
			}
		}
		mid := (s.lo + s.hi) / 2
		data := encode(mid)
		out.attempts++
		logger.Debug("size search attempt", "quality", mid, "size", len(data))

		if len(data) < len(s.smallest) {
			s.smallest, s.smallestQ = data, mid
		}
		if len(data) <= targetBytes {
			s.bestUnder, s.bestQ = data, mid
			s.lo = mid + 1
		} else {
			if mid == 0 {
				break
			}
			s.hi = mid - 1
		}
	}

	if s.bestUnder != nil {
		out.data, out.quality = s.bestUnder, s.bestQ
	} else {
		out.data, out.quality = s.smallest, s.smallestQ
	}
	return out, nil
}

// compressJPEGToTarget runs the size search over EncodeJPEG.
func compressJPEGToTarget(ctx context.Context, img *image.NRGBA, base JPEGOptions, maxQuality, targetBytes int, t Tuning, logger *slog.Logger) (searchOutcome, error) {
	return searchQuality(ctx, maxQuality, targetBytes, t, logger, func(q int) []byte {
		o := base
		o.Quality = q
		return EncodeJPEG(img.Pix, o)
	})
}

// compressPNGToTarget runs the size search over EncodePNG, translating
// each quality step into PNG options.
func compressPNGToTarget(ctx context.Context, img *image.NRGBA, base PNGOptions, mode PNGMode, maxQuality, targetBytes int, t Tuning, logger *slog.Logger) (searchOutcome, error) {
	return searchQuality(ctx, maxQuality, targetBytes, t, logger, func(q int) []byte {
		return EncodePNG(img.Pix, PNGOptionsForQuality(q, mode, base, t))
	})
}

// compressPDFToTarget runs the size search over the PDF image rewriter.
// The report of the winning attempt is returned alongside.
func compressPDFToTarget(ctx context.Context, pdf []byte, opts PDFOptions, targetBytes int, t Tuning) (searchOutcome, PDFReport, error) {
	reports := make(map[int]PDFReport)
	out, err := searchQuality(ctx, opts.Quality, targetBytes, t, opts.logger(), func(q int) []byte {
		o := opts
		o.Quality = q
		data, report := RewritePDFImages(pdf, o)
		reports[q] = report
		return data
	})
	return out, reports[out.quality], err
}
