package squish_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/shamspias/squish"
)

func ExampleCompressFile() {
	img := image.NewNRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}

	opts := squish.DefaultOptions()
	opts.MIME = "image/png"
	opts.Mode = squish.JPEG
	opts.MaxSide = 320

	res, err := squish.CompressFile(context.Background(), buf.Bytes(), opts)
	if err != nil {
		panic(err)
	}
	fmt.Println(res.Mode, res.FinalDimensions, res.CompressedSize < res.OriginalSize)
	// Output: jpeg (320,240) true
}

func ExampleScaleToMaxSide() {
	fmt.Println(squish.ScaleToMaxSide(4000, 3000, 1600))
	fmt.Println(squish.ScaleToMaxSide(800, 600, 1600))
	// Output:
	// 1600 1200
	// 800 600
}

func ExampleCompressPDFImages() {
	out := squish.CompressPDFImages([]byte("not a pdf"), 70, squish.PresetBalanced)
	fmt.Println(string(out))
	// Output: not a pdf
}
