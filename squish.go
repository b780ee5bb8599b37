// Package squish shrinks JPEG, PNG and PDF files, optionally to a byte
// budget.
//
// Raster input is decoded, turned upright, scaled so its longer side
// fits a limit, and re-encoded as JPEG or PNG. PDF input stays PDF: its
// Flate-compressed RGB and gray images are re-encoded as JPEG in place
// and everything else in the document is left alone.
//
// With a target size, squish runs a bounded bisection over quality and
// returns the best encoding that fits, or the smallest it saw when
// nothing does.
//
//	res, err := squish.CompressFile(ctx, data, squish.Options{
//	    MIME:     "image/png",
//	    Quality:  85,
//	    TargetKB: 200,
//	})
package squish

import (
	"bytes"
	"context"
	"errors"
	"image"
	"strings"
)

var errEmptyImage = errors.New("image has no pixels")

// CompressFile compresses data according to opts and returns the result.
//
// The output mode is resolved from opts.Mode, opts.MIME, opts.Ext and the
// leading bytes: PDF input always yields PDF, and PNG input keeps its
// alpha when BackgroundTransparent is set. Empty input yields an empty
// JPEG result. The only error for well-formed options is a *DecodeError
// for raster input no decoder accepts, plus ctx or OnProgress errors.
func CompressFile(ctx context.Context, data []byte, opts Options) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(data) == 0 {
		return &Result{Data: []byte{}, Mode: JPEG}, nil
	}
	if err := opts.reportProgress(ctx, StageClassifying, 0); err != nil {
		return nil, err
	}

	logger := opts.logger()
	mime := normalizeMIME(opts.MIME)
	ext := normalizeExt(opts.Ext)
	kind := inputKind(mime, ext)
	mode := resolveOutMode(mime, ext, data, opts.Mode, opts.BackgroundTransparent)
	quality := clamp(opts.Quality, 1, 100)
	preset := clamp(opts.Preset, PresetFast, PresetMax)
	targetBytes := max(opts.TargetKB, 0) * 1024
	tuning := opts.Tuning.withDefaults()

	logger.Debug("compress", "mime", mime, "ext", ext, "kind", kind, "mode", mode,
		"quality", quality, "target", targetBytes)

	if mode == PDF {
		return compressPDF(ctx, data, quality, preset, targetBytes, tuning, &opts)
	}

	if err := opts.reportProgress(ctx, StageDecoding, 0.1); err != nil {
		return nil, err
	}
	img, format, err := decodeRaster(data)
	if err != nil {
		return nil, err
	}
	if opts.AutoOrient && format == "jpeg" {
		if o := ReadOrientation(data); o != OrientNormal {
			logger.Debug("exif orientation", "orientation", int(o))
			img = ApplyOrientation(img, o)
		}
	}

	res := &Result{
		Mode:               mode,
		OriginalSize:       int64(len(data)),
		OriginalDimensions: img.Bounds().Size(),
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	newW, newH := ScaleToMaxSide(w, h, opts.MaxSide)
	resized := newW != w || newH != h
	if resized {
		if err := opts.reportProgress(ctx, StageResizing, 0.3); err != nil {
			return nil, err
		}
		img = resizeImage(img, newW, newH, opts.Filter)
		logger.Debug("resized", "from", res.OriginalDimensions, "to", image.Pt(newW, newH), "filter", opts.Filter)
	}
	res.FinalDimensions = image.Pt(newW, newH)

	stage := StageEncoding
	if targetBytes > 0 {
		stage = StageSearching
	}
	if err := opts.reportProgress(ctx, stage, 0.5); err != nil {
		return nil, err
	}

	var out searchOutcome
	switch mode {
	case PNG:
		base := PNGOptions{
			Width:        newW,
			Height:       newH,
			Preset:       preset,
			MaxColors:    opts.PNGMaxColors,
			Dithering:    opts.PNGDither,
			Quantization: QuantizeAuto,
		}
		if opts.PNGForceQuant {
			base.Quantization = QuantizeForce
		}
		if targetBytes > 0 {
			out, err = compressPNGToTarget(ctx, img, base, opts.PNGMode, quality, targetBytes, tuning, logger)
		} else {
			out = searchOutcome{
				data:     EncodePNG(img.Pix, PNGOptionsForQuality(quality, opts.PNGMode, base, tuning)),
				quality:  quality,
				attempts: 1,
			}
		}
	default:
		base := JPEGOptions{
			Width:      newW,
			Height:     newH,
			Quality:    quality,
			Preset:     preset,
			Background: opts.Background,
			ColorMode:  ColorAuto,
		}
		if targetBytes > 0 {
			out, err = compressJPEGToTarget(ctx, img, base, quality, targetBytes, tuning, logger)
		} else {
			out = searchOutcome{data: EncodeJPEG(img.Pix, base), quality: quality, attempts: 1}
		}
	}
	if err != nil {
		return nil, err
	}
	if targetBytes > 0 {
		logger.Debug("size search done", "quality", out.quality, "size", len(out.data), "attempts", out.attempts)
	}

	sameFormat := (mode == PNG && kind == KindPNG) || (mode == JPEG && kind == KindJPEG)
	if targetBytes == 0 && !resized && sameFormat && len(out.data) >= len(data) {
		logger.Debug("re-encode not smaller, keeping original", "encoded", len(out.data), "original", len(data))
		res.Data = bytes.Clone(data)
		res.KeptOriginal = true
	} else {
		res.Data = out.data
		res.Quality = out.quality
	}
	if res.Data == nil {
		res.Data = []byte{}
	}
	res.computeStats()

	if err := opts.reportProgress(ctx, stage, 1); err != nil {
		return nil, err
	}
	return res, nil
}

// compressPDF is the PDF branch of CompressFile.
func compressPDF(ctx context.Context, data []byte, quality int, preset Preset, targetBytes int, t Tuning, opts *Options) (*Result, error) {
	if err := opts.reportProgress(ctx, StageRewriting, 0.1); err != nil {
		return nil, err
	}
	popts := PDFOptions{Quality: quality, Preset: preset, Logger: opts.logger()}

	var (
		out    []byte
		report PDFReport
		q      = quality
	)
	if targetBytes > 0 {
		o, r, err := compressPDFToTarget(ctx, data, popts, targetBytes, t)
		if err != nil {
			return nil, err
		}
		out, report, q = o.data, r, o.quality
	} else {
		out, report = RewritePDFImages(data, popts)
	}

	res := &Result{
		Data:         out,
		Mode:         PDF,
		Quality:      q,
		OriginalSize: int64(len(data)),
		PDF:          &report,
	}
	if aliases(out, data) {
		res.Data = bytes.Clone(data)
		res.KeptOriginal = true
		res.Quality = 0
	}
	res.computeStats()

	if err := opts.reportProgress(ctx, StageRewriting, 1); err != nil {
		return nil, err
	}
	return res, nil
}

// aliases reports whether a and b share their first element.
func aliases(a, b []byte) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}

func normalizeMIME(mime string) string {
	return strings.ToLower(strings.TrimSpace(mime))
}
