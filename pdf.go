package squish

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// SkipReason says why an image stream was left untouched.
type SkipReason string

const (
	SkipFilter     SkipReason = "filter"
	SkipDimensions SkipReason = "dimensions"
	SkipBitDepth   SkipReason = "bit depth"
	SkipColorSpace SkipReason = "color space"
	SkipDecode     SkipReason = "decode"
	SkipLength     SkipReason = "length mismatch"
	SkipEncode     SkipReason = "encode"
)

// ImageSkip records one image object the rewriter did not change.
type ImageSkip struct {
	Object int
	Reason SkipReason
}

// PDFReport describes one rewriter pass. It never influences the output
// bytes.
type PDFReport struct {
	// Images is the number of image XObject streams found.
	Images int
	// Rewritten lists the object numbers re-encoded as JPEG.
	Rewritten []int
	// Skipped lists the image objects left as they were, and why.
	Skipped []ImageSkip
	// Err is the parse or serialize failure that made the rewriter
	// return its input unchanged, if any.
	Err error
}

// PDFOptions configures RewritePDFImages.
type PDFOptions struct {
	Quality int // 1–100
	Preset  Preset
	// Logger receives per-object diagnostics at debug level.
	Logger *slog.Logger
}

func (o PDFOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

const (
	filterFlate = "FlateDecode"
	filterDCT   = "DCTDecode"
)

var errEncryptedPDF = errors.New("squish: encrypted pdf left unchanged")

var configOnce sync.Once

// pdfConfig returns a pdfcpu configuration that never touches the
// user's config directory.
func pdfConfig() *model.Configuration {
	configOnce.Do(api.DisableConfigDir)
	return model.NewDefaultConfiguration()
}

// CompressPDFImages re-encodes the eligible raster images of a PDF as
// JPEG at the given quality. The input is returned unchanged when it
// cannot be parsed, when no image qualifies, or when the rewritten
// document cannot be serialized.
func CompressPDFImages(pdf []byte, quality int, preset Preset) []byte {
	out, _ := RewritePDFImages(pdf, PDFOptions{Quality: quality, Preset: preset})
	return out
}

// RewritePDFImages is CompressPDFImages with a report of what happened
// to every image stream.
//
// An image is rewritten only if it is a single-filter FlateDecode
// stream, 8 bits per component, DeviceRGB or DeviceGray, with positive
// Width and Height and a decoded length that matches them exactly.
// Everything else is left byte-for-byte alone.
func RewritePDFImages(pdf []byte, opts PDFOptions) ([]byte, PDFReport) {
	var report PDFReport
	if len(pdf) == 0 {
		return nil, report
	}
	logger := opts.logger()
	jopts := JPEGOptions{
		Quality:   opts.Quality,
		Preset:    opts.Preset,
		ColorMode: ColorRGB,
	}.normalized()

	ctx, err := readPDF(pdf)
	if err != nil {
		report.Err = err
		logger.Debug("pdf left unchanged", "error", err)
		return pdf, report
	}
	if ctx.XRefTable.Encrypt != nil {
		report.Err = errEncryptedPDF
		logger.Debug("pdf left unchanged", "error", report.Err)
		return pdf, report
	}

	table := ctx.XRefTable.Table
	objNrs := make([]int, 0, len(table))
	for nr := range table {
		objNrs = append(objNrs, nr)
	}
	sort.Ints(objNrs)

	repl := make(map[int][]byte)
	for _, nr := range objNrs {
		entry := table[nr]
		if entry == nil || entry.Free || entry.Object == nil {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, _ := nameOf(sd.Dict["Subtype"]); subtype != "Image" {
			continue
		}
		report.Images++

		jpg, reason := reencodeImage(sd, jopts)
		if reason != "" {
			report.Skipped = append(report.Skipped, ImageSkip{Object: nr, Reason: reason})
			logger.Debug("pdf image skipped", "object", nr, "reason", string(reason))
			continue
		}

		setJPEGContent(&sd, jpg)
		gen := 0
		if entry.Generation != nil {
			gen = *entry.Generation
		}
		repl[nr] = streamObjectBytes(nr, gen, sd)
		report.Rewritten = append(report.Rewritten, nr)
		logger.Debug("pdf image rewritten", "object", nr, "size", len(jpg))
	}

	if len(report.Rewritten) == 0 {
		return pdf, report
	}

	out, err := writePDF(pdf, ctx, repl)
	if err != nil {
		report.Err = err
		logger.Debug("pdf left unchanged", "error", err)
		return pdf, report
	}
	return out, report
}

// readPDF parses pdf into a pdfcpu context owned by the caller.
func readPDF(pdf []byte) (ctx *model.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			ctx, err = nil, fmt.Errorf("squish: read pdf: %v", r)
		}
	}()
	ctx, err = api.ReadContext(bytes.NewReader(pdf), pdfConfig())
	if err != nil {
		return nil, fmt.Errorf("squish: read pdf: %w", err)
	}
	return ctx, nil
}

// writePDF emits pdf with the replaced objects spliced in. Objects the
// rewriter did not touch keep their exact bytes, and the header, Info
// and ID carry over as they were.
func writePDF(pdf []byte, ctx *model.Context, repl map[int][]byte) ([]byte, error) {
	out, err := spliceObjects(pdf, ctx.XRefTable, repl)
	if err != nil {
		return nil, fmt.Errorf("squish: write pdf: %w", err)
	}
	return out, nil
}

// reencodeImage checks eligibility and returns the JPEG replacement, or
// the reason the stream must stay as it is.
func reencodeImage(sd types.StreamDict, jopts JPEGOptions) ([]byte, SkipReason) {
	d := sd.Dict

	filters, ok := filterNames(d)
	if !ok || len(filters) != 1 || filters[0] != filterFlate {
		return nil, SkipFilter
	}

	w, okW := intOf(d["Width"])
	h, okH := intOf(d["Height"])
	if !okW || !okH || w <= 0 || h <= 0 {
		return nil, SkipDimensions
	}

	bits := 8
	if b, ok := intOf(d["BitsPerComponent"]); ok {
		bits = b
	}
	if bits != 8 {
		return nil, SkipBitDepth
	}

	var channels int
	switch cs, _ := nameOf(d["ColorSpace"]); cs {
	case "DeviceRGB":
		channels = 3
	case "DeviceGray":
		channels = 1
	default:
		return nil, SkipColorSpace
	}

	px, ok := pixelCount(w, h)
	if !ok {
		return nil, SkipDimensions
	}
	expected := px * channels

	decoded, err := inflate(sd.Raw, expected, decodeParms(d))
	if err != nil {
		return nil, SkipDecode
	}
	if len(decoded) != expected {
		return nil, SkipLength
	}

	rgb := decoded
	if channels == 1 {
		rgb = make([]byte, 0, px*3)
		for _, v := range decoded {
			rgb = append(rgb, v, v, v)
		}
	}

	jopts.Width, jopts.Height = w, h
	jpg := encodeRGBJPEG(rgb, jopts)
	if len(jpg) == 0 {
		return nil, SkipEncode
	}
	return jpg, ""
}

// setJPEGContent swaps the stream payload for jpg and rewrites every
// dictionary entry that described the old encoding.
func setJPEGContent(sd *types.StreamDict, jpg []byte) {
	n := int64(len(jpg))
	sd.Raw = jpg
	sd.Content = nil
	sd.FilterPipeline = []types.PDFFilter{{Name: filterDCT}}
	sd.StreamLength = &n
	sd.StreamLengthObjNr = nil

	sd.Dict["Filter"] = types.Name(filterDCT)
	sd.Dict["ColorSpace"] = types.Name("DeviceRGB")
	sd.Dict["BitsPerComponent"] = types.Integer(8)
	sd.Dict["Length"] = types.Integer(len(jpg))
	delete(sd.Dict, "DecodeParms")
}

// inflate decompresses a FlateDecode payload and undoes its predictor.
// Reading stops a little past the size the image can legitimately need.
func inflate(raw []byte, expected int, p predictorParams) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	limit := int64(expected) + 1
	if p.Predictor > 1 {
		// PNG predictors add one filter byte per row.
		limit = 2*int64(expected) + 1
	}
	data, err := io.ReadAll(io.LimitReader(zr, limit))
	if err != nil {
		return nil, err
	}
	if p.Predictor <= 1 {
		return data, nil
	}
	return unpredict(data, p)
}

func filterNames(d types.Dict) ([]string, bool) {
	switch f := d["Filter"].(type) {
	case nil:
		return nil, true
	case types.Name:
		return []string{string(f)}, true
	case types.Array:
		names := make([]string, 0, len(f))
		for _, o := range f {
			n, ok := nameOf(o)
			if !ok {
				return nil, false
			}
			names = append(names, n)
		}
		return names, true
	default:
		return nil, false
	}
}

func decodeParms(d types.Dict) predictorParams {
	p := defaultPredictorParams()
	var parms types.Dict
	switch v := d["DecodeParms"].(type) {
	case types.Dict:
		parms = v
	case types.Array:
		if len(v) == 1 {
			parms, _ = v[0].(types.Dict)
		}
	}
	if parms == nil {
		return p
	}
	if v, ok := intOf(parms["Predictor"]); ok {
		p.Predictor = v
	}
	if v, ok := intOf(parms["Colors"]); ok {
		p.Colors = v
	}
	if v, ok := intOf(parms["BitsPerComponent"]); ok {
		p.BPC = v
	}
	if v, ok := intOf(parms["Columns"]); ok {
		p.Columns = v
	}
	return p
}

func nameOf(o types.Object) (string, bool) {
	n, ok := o.(types.Name)
	return string(n), ok
}

func intOf(o types.Object) (int, bool) {
	i, ok := o.(types.Integer)
	return int(i), ok
}
