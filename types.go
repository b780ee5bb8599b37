package squish

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"strings"
)

// Version is the library version.
const Version = "0.3.0"

// OutputMode is the container the compressor produces.
type OutputMode int

const (
	// Auto infers the output from the input's MIME type and extension.
	Auto OutputMode = iota
	// JPEG output. Transparency is composited onto Options.Background.
	JPEG
	// PNG output, optionally palette-quantized.
	PNG
	// PDF output. Only valid for PDF input; images inside are re-encoded.
	PDF
)

// String returns the lower-case tag used on the wire: "auto", "jpeg",
// "png" or "pdf".
func (m OutputMode) String() string {
	switch m {
	case JPEG:
		return "jpeg"
	case PNG:
		return "png"
	case PDF:
		return "pdf"
	default:
		return "auto"
	}
}

// ParseOutputMode parses an output selection. "jpg" is accepted as an
// alias for "jpeg"; the empty string means Auto.
func ParseOutputMode(s string) (OutputMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Auto, nil
	case "jpeg", "jpg":
		return JPEG, nil
	case "png":
		return PNG, nil
	case "pdf":
		return PDF, nil
	default:
		return Auto, fmt.Errorf("squish: unknown output mode %q", s)
	}
}

// InputKind is what the classifier believes the input to be.
type InputKind int

const (
	KindUnknown InputKind = iota
	KindPDF
	KindPNG
	KindJPEG
)

func (k InputKind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindPNG:
		return "png"
	case KindJPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}

// Preset is an encoder effort tier. Higher presets spend more time for
// smaller output.
type Preset int

const (
	PresetFast Preset = iota
	PresetBalanced
	PresetMax
)

// PNGMode selects how a perceptual quality value maps onto PNG options.
type PNGMode int

const (
	// PNGAuto derives palette size, dithering and forced quantization
	// from the quality value.
	PNGAuto PNGMode = iota
	// PNGLossless never quantizes.
	PNGLossless
	// PNGManual uses PNGMaxColors, PNGDither and PNGForceQuant as given.
	PNGManual
)

func (m PNGMode) String() string {
	switch m {
	case PNGLossless:
		return "lossless"
	case PNGManual:
		return "manual"
	default:
		return "auto"
	}
}

// ParsePNGMode parses "auto" or "lossless". Any other value selects
// PNGManual, which matches how hosts pass through custom settings.
func ParsePNGMode(s string) PNGMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return PNGAuto
	case "lossless":
		return PNGLossless
	default:
		return PNGManual
	}
}

// ProgressStage describes what the compressor is currently doing.
type ProgressStage string

const (
	StageClassifying ProgressStage = "classifying"
	StageDecoding    ProgressStage = "decoding"
	StageResizing    ProgressStage = "resizing"
	StageEncoding    ProgressStage = "encoding"
	StageSearching   ProgressStage = "searching"
	StageRewriting   ProgressStage = "rewriting"
)

// ProgressFunc is called during compression to report progress.
// stage describes the current operation, percent is 0.0–1.0.
// Return a non-nil error to abort the operation.
type ProgressFunc func(stage ProgressStage, percent float64) error

// Options configures CompressFile. Every field has a usable zero value
// except Quality, which DefaultOptions sets.
type Options struct {
	// MIME is the caller-supplied content type, e.g. "image/png".
	MIME string

	// Ext is the file extension with or without the leading dot.
	Ext string

	// Mode is the requested output. Auto infers it from MIME and Ext.
	// PDF input always produces PDF output regardless of Mode.
	Mode OutputMode

	// Quality is the maximum quality, 1–100. With a target size it is the
	// upper bound of the search.
	Quality int

	// Preset is the encoder effort tier.
	Preset Preset

	// MaxSide bounds the longer side in pixels. 0 means no limit.
	// Images are never upscaled.
	MaxSide int

	// TargetKB is the byte budget in KiB. 0 disables the size search.
	TargetKB int

	// Background is the color transparent pixels are composited onto
	// for JPEG output. Alpha is ignored.
	Background color.RGBA

	// BackgroundTransparent keeps PNG input as PNG even when JPEG was
	// resolved, so transparency is not flattened away.
	BackgroundTransparent bool

	// PNGMode controls how Quality maps onto PNG quantization.
	PNGMode PNGMode

	// PNGMaxColors, PNGDither and PNGForceQuant are used as-is in
	// PNGManual mode.
	PNGMaxColors  int
	PNGDither     bool
	PNGForceQuant bool

	// Filter is the resampling kernel used when MaxSide shrinks the image.
	Filter ResizeFilter

	// AutoOrient applies the JPEG EXIF orientation before resizing.
	// DefaultOptions turns it on; leave it false to decode pixels as stored.
	AutoOrient bool

	// Tuning holds the empirical search and PNG mapping constants.
	Tuning Tuning

	// Logger receives debug diagnostics. nil means slog.Default().
	Logger *slog.Logger

	// OnProgress is called during compression to report progress.
	// Optional. Returning a non-nil error aborts the operation.
	OnProgress ProgressFunc
}

// DefaultOptions returns sensible defaults for general use.
func DefaultOptions() Options {
	return Options{
		Quality:      80,
		Preset:       PresetBalanced,
		Background:   color.RGBA{R: 255, G: 255, B: 255, A: 255},
		PNGMode:      PNGAuto,
		PNGMaxColors: 256,
		Filter:       Lanczos3,
		AutoOrient:   true,
		Tuning:       DefaultTuning(),
	}
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// reportProgress safely invokes the progress callback if set.
// Returns context error or progress callback error.
func (o *Options) reportProgress(ctx context.Context, stage ProgressStage, percent float64) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if o.OnProgress != nil {
		return o.OnProgress(stage, percent)
	}
	return nil
}

// ErrNoData is returned when a Result holds no output bytes.
var ErrNoData = errors.New("squish: no compressed data available")

// DecodeError reports raster input that no registered decoder accepted.
// It is the only hard failure of CompressFile.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "squish: decode failed: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Result contains compression output and statistics.
type Result struct {
	// Data holds the encoded output.
	Data []byte

	// Mode is the resolved output mode.
	Mode OutputMode

	// Quality is the quality that produced Data, or 0 when the original
	// bytes were kept or the value is not meaningful.
	Quality int

	// KeptOriginal is set when re-encoding did not beat the input and
	// Data is a copy of the original bytes.
	KeptOriginal bool

	// OriginalSize is the input size in bytes.
	OriginalSize int64

	// CompressedSize is len(Data).
	CompressedSize int64

	// Ratio is the compression ratio (original / compressed).
	Ratio float64

	// SavingsPercent is the percentage of bytes saved.
	SavingsPercent float64

	// OriginalDimensions is the decoded width x height (raster only).
	OriginalDimensions image.Point

	// FinalDimensions is the encoded width x height (raster only).
	FinalDimensions image.Point

	// PDF describes what the rewriter did, for PDF input.
	PDF *PDFReport
}

// WriteTo writes the compressed data to w.
func (r *Result) WriteTo(w io.Writer) (int64, error) {
	if len(r.Data) == 0 {
		return 0, ErrNoData
	}
	n, err := w.Write(r.Data)
	return int64(n), err
}

// Bytes returns the compressed data.
func (r *Result) Bytes() []byte {
	return r.Data
}

// String returns a human-readable summary of the compression result.
func (r *Result) String() string {
	qStr := ""
	if r.Quality > 0 {
		qStr = fmt.Sprintf(" Q=%d |", r.Quality)
	}
	dims := ""
	if r.FinalDimensions != (image.Point{}) {
		dims = fmt.Sprintf(" %dx%d → %dx%d |",
			r.OriginalDimensions.X, r.OriginalDimensions.Y,
			r.FinalDimensions.X, r.FinalDimensions.Y)
	}
	return fmt.Sprintf(
		"squish: %s |%s%s %s → %s | Saved: %.1f%%",
		r.Mode, qStr, dims,
		humanBytes(r.OriginalSize), humanBytes(r.CompressedSize),
		r.SavingsPercent,
	)
}

// computeStats fills in the computed fields (Ratio, SavingsPercent) from sizes.
func (r *Result) computeStats() {
	r.CompressedSize = int64(len(r.Data))
	if r.OriginalSize > 0 && r.CompressedSize > 0 {
		r.Ratio = float64(r.OriginalSize) / float64(r.CompressedSize)
		r.SavingsPercent = (1 - float64(r.CompressedSize)/float64(r.OriginalSize)) * 100
	}
}
