package squish

import (
	"image"
	"image/color"
	"sync/atomic"
	"testing"
)

var allFilters = []ResizeFilter{Lanczos3, CatmullRom, Bilinear, ApproxBilinear, Nearest}

func TestResizeDimensions(t *testing.T) {
	src := makeTestImage(120, 80)
	for _, f := range allFilters {
		got := resizeImage(src, 45, 30, f)
		if got.Bounds() != image.Rect(0, 0, 45, 30) {
			t.Errorf("%s: bounds %v", f, got.Bounds())
		}
	}
}

func TestResizeSameSizeIsNoop(t *testing.T) {
	src := makeTestImage(16, 9)
	if resizeImage(src, 16, 9, Lanczos3) != src {
		t.Fatal("same-size resize should return the source")
	}
	if got := resizeImage(src, 0, 9, Lanczos3); !got.Bounds().Empty() {
		t.Fatalf("zero width gave %v", got.Bounds())
	}
}

func TestResizeSolidStaysSolid(t *testing.T) {
	c := color.NRGBA{30, 120, 200, 255}
	src := makeSolidImage(64, 48, c)
	for _, f := range allFilters {
		got := resizeImage(src, 17, 13, f)
		for i := 0; i < len(got.Pix); i += 4 {
			p := got.Pix[i : i+4]
			if absInt(int(p[0])-int(c.R)) > 1 || absInt(int(p[1])-int(c.G)) > 1 ||
				absInt(int(p[2])-int(c.B)) > 1 || p[3] < 254 {
				t.Fatalf("%s: pixel %d = %v, want ~%v", f, i/4, p, c)
			}
		}
	}
}

func TestLanczosNoTransparentBleed(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			if x < 20 {
				src.SetNRGBA(x, y, color.NRGBA{255, 0, 0, 255})
			} else {
				src.SetNRGBA(x, y, color.NRGBA{0, 255, 0, 0})
			}
		}
	}
	got := resizeImage(src, 15, 7, Lanczos3)
	for i := 0; i < len(got.Pix); i += 4 {
		if got.Pix[i+3] == 0 {
			continue
		}
		if got.Pix[i] < 254 || got.Pix[i+1] > 1 {
			t.Fatalf("pixel %d = %v: transparent green leaked in", i/4, got.Pix[i:i+4])
		}
	}
}

func TestParseResizeFilter(t *testing.T) {
	tests := map[string]ResizeFilter{
		"":               Lanczos3,
		"Lanczos3":       Lanczos3,
		"lanczos":        Lanczos3,
		"catmullrom":     CatmullRom,
		"BILINEAR":       Bilinear,
		"approxbilinear": ApproxBilinear,
		" nearest ":      Nearest,
	}
	for in, want := range tests {
		got, err := ParseResizeFilter(in)
		if err != nil || got != want {
			t.Errorf("ParseResizeFilter(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := ParseResizeFilter("box"); err == nil {
		t.Error("expected error for unknown filter")
	}
	if s := ResizeFilter(42).String(); s != "ResizeFilter(42)" {
		t.Errorf("String() = %q", s)
	}
}

func TestParallelDoCoversRange(t *testing.T) {
	var hits [257]int32
	parallelDo(3, 257, func(i int) { atomic.AddInt32(&hits[i], 1) })
	for i, n := range hits {
		want := int32(1)
		if i < 3 {
			want = 0
		}
		if n != want {
			t.Fatalf("index %d visited %d times", i, n)
		}
	}
	parallelDo(5, 5, func(int) { t.Fatal("empty range should not call fn") })
}
