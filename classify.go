package squish

import (
	"bytes"
	"strings"
)

var pdfMagic = []byte("%PDF")

// normalizeExt lower-cases an extension and drops a leading dot.
func normalizeExt(ext string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
}

// inputKind classifies the input from its metadata. The MIME type wins
// over the extension. Both must already be lower-case.
func inputKind(mime, ext string) InputKind {
	if strings.Contains(mime, "pdf") || ext == "pdf" {
		return KindPDF
	}
	if strings.Contains(mime, "png") || ext == "png" {
		return KindPNG
	}
	if strings.Contains(mime, "jpg") || strings.Contains(mime, "jpeg") || ext == "jpg" || ext == "jpeg" {
		return KindJPEG
	}
	return KindUnknown
}

// isPDF reports whether the input is a PDF by metadata or, failing that,
// by the %PDF signature. Uploads often arrive with wrong or missing
// metadata, hence the magic-byte check.
func isPDF(mime, ext string, data []byte) bool {
	if strings.Contains(mime, "pdf") || ext == "pdf" {
		return true
	}
	return bytes.HasPrefix(data, pdfMagic)
}

// chooseOutMode honors an explicit selection verbatim and otherwise
// infers the mode from metadata, defaulting to JPEG.
func chooseOutMode(mime, ext string, sel OutputMode) OutputMode {
	if sel != Auto {
		return sel
	}
	if strings.Contains(mime, "pdf") || ext == "pdf" {
		return PDF
	}
	if strings.Contains(mime, "png") || ext == "png" {
		return PNG
	}
	return JPEG
}

// resolveOutMode applies the output policy in order:
//  1. PDF input always yields PDF.
//  2. PDF is never an output for raster input; infer instead.
//  3. Transparent PNG input that resolved to JPEG stays PNG.
func resolveOutMode(mime, ext string, data []byte, sel OutputMode, bgTransparent bool) OutputMode {
	mode := chooseOutMode(mime, ext, sel)
	if isPDF(mime, ext, data) {
		mode = PDF
	} else if mode == PDF {
		mode = chooseOutMode(mime, ext, Auto)
	}
	if bgTransparent && mode == JPEG && inputKind(mime, ext) == KindPNG {
		mode = PNG
	}
	return mode
}
