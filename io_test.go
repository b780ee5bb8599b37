package squish

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDetectMIME(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"png", pngBytes(t, makeTestImage(4, 4)), "image/png"},
		{"jpeg", jpegBytes(t, makeTestImage(4, 4), 80), "image/jpeg"},
		{"pdf", []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"), "application/pdf"},
	}
	for _, tt := range tests {
		if got := DetectMIME(tt.data); got != tt.want {
			t.Errorf("%s: DetectMIME = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestCompressPathSniffsContent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "upload.bin")
	dst := filepath.Join(dir, "out")
	if err := os.WriteFile(src, pngBytes(t, makeTestImageWithAlpha(32, 32)), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := CompressPath(ctx(), src, dst, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != PNG {
		t.Fatalf("mode = %s, want png", res.Mode)
	}
	written, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !isPNG(written) || len(written) != len(res.Data) {
		t.Fatalf("written file does not match result")
	}
}

func TestCompressPathErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := CompressPath(ctx(), filepath.Join(dir, "nope.png"), "", DefaultOptions()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want ErrNotExist, got %v", err)
	}

	src := filepath.Join(dir, "junk.png")
	if err := os.WriteFile(src, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := CompressPath(ctx(), src, "", DefaultOptions())
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("want *DecodeError, got %v", err)
	}
}

func TestOutputExt(t *testing.T) {
	for m, want := range map[OutputMode]string{Auto: ".jpg", JPEG: ".jpg", PNG: ".png", PDF: ".pdf"} {
		if got := OutputExt(m); got != want {
			t.Errorf("OutputExt(%s) = %q, want %q", m, got, want)
		}
	}
}
