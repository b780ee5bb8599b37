package squish

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// decodeRaster decodes any registered raster format into a zero-origin
// straight-alpha NRGBA image. The format name reported by the decoder
// is returned alongside.
func decodeRaster(data []byte) (*image.NRGBA, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &DecodeError{Err: err}
	}
	if img.Bounds().Empty() {
		return nil, format, &DecodeError{Err: errEmptyImage}
	}
	return toNRGBA(img), format, nil
}
