package squish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wailsapp/mimetype"
)

// DetectMIME sniffs the content type of data from its leading bytes.
// Parameters such as "; charset=" are dropped.
func DetectMIME(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.TrimSpace(mt)
}

// CompressPath compresses the file at src and writes the output to dst.
// Empty opts.MIME and opts.Ext are filled from the file's content and
// name. When dst is empty nothing is written.
func CompressPath(ctx context.Context, src, dst string, opts Options) (*Result, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("squish: read %q: %w", src, err)
	}
	if opts.MIME == "" {
		opts.MIME = DetectMIME(data)
	}
	if opts.Ext == "" {
		opts.Ext = filepath.Ext(src)
	}

	res, err := CompressFile(ctx, data, opts)
	if err != nil {
		return nil, fmt.Errorf("squish: compress %q: %w", src, err)
	}
	if dst == "" {
		return res, nil
	}
	if err := os.WriteFile(dst, res.Data, 0o644); err != nil {
		return nil, fmt.Errorf("squish: write %q: %w", dst, err)
	}
	return res, nil
}

// OutputExt returns the file extension, with dot, for a resolved mode.
func OutputExt(m OutputMode) string {
	switch m {
	case PNG:
		return ".png"
	case PDF:
		return ".pdf"
	default:
		return ".jpg"
	}
}
