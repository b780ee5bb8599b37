package squish

import (
	"bytes"
	"encoding/binary"
	"image"
)

// Orientation is an EXIF orientation tag value.
type Orientation int

const (
	OrientNormal      Orientation = 1
	OrientFlipH       Orientation = 2
	OrientRotate180   Orientation = 3
	OrientFlipV       Orientation = 4
	OrientTranspose   Orientation = 5
	OrientRotate90CW  Orientation = 6
	OrientTransverse  Orientation = 7
	OrientRotate270CW Orientation = 8
)

const tagOrientation = 0x0112

var exifHeader = []byte("Exif\x00\x00")

// ReadOrientation returns the EXIF orientation of a JPEG, or
// OrientNormal when data is not a JPEG or carries no usable tag.
func ReadOrientation(data []byte) Orientation {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return OrientNormal
	}
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return OrientNormal
		}
		marker := data[pos+1]
		if marker == 0xFF {
			pos++
			continue
		}
		// Start of scan: no metadata follows.
		if marker == 0xDA || marker == 0xD9 {
			return OrientNormal
		}
		segLen := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		if segLen < 2 || pos+2+segLen > len(data) {
			return OrientNormal
		}
		seg := data[pos+4 : pos+2+segLen]
		if marker == 0xE1 && bytes.HasPrefix(seg, exifHeader) {
			return tiffOrientation(seg[len(exifHeader):])
		}
		pos += 2 + segLen
	}
	return OrientNormal
}

// tiffOrientation scans IFD0 of a TIFF block for the orientation tag.
func tiffOrientation(tiff []byte) Orientation {
	if len(tiff) < 8 {
		return OrientNormal
	}
	var bo binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return OrientNormal
	}
	if bo.Uint16(tiff[2:4]) != 42 {
		return OrientNormal
	}

	ifd := int(bo.Uint32(tiff[4:8]))
	if ifd < 8 || ifd+2 > len(tiff) {
		return OrientNormal
	}
	n := int(bo.Uint16(tiff[ifd : ifd+2]))
	for i := 0; i < n; i++ {
		e := ifd + 2 + i*12
		if e+12 > len(tiff) {
			break
		}
		if bo.Uint16(tiff[e:e+2]) != tagOrientation {
			continue
		}
		// SHORT
		if bo.Uint16(tiff[e+2:e+4]) != 3 {
			return OrientNormal
		}
		if v := Orientation(bo.Uint16(tiff[e+8 : e+10])); v >= OrientNormal && v <= OrientRotate270CW {
			return v
		}
		return OrientNormal
	}
	return OrientNormal
}

// ApplyOrientation returns img turned upright for the given orientation.
// Unknown values leave img as it is.
func ApplyOrientation(img *image.NRGBA, o Orientation) *image.NRGBA {
	b := img.Bounds()
	switch o {
	case OrientFlipH:
		return flipH(img)
	case OrientRotate180:
		return rotate180(img)
	case OrientFlipV:
		return flipV(img)
	case OrientTranspose:
		return remap(img, b.Dy(), b.Dx(), func(x, y, _, _ int) (int, int) { return y, x })
	case OrientRotate90CW:
		return rotate90(img)
	case OrientTransverse:
		return remap(img, b.Dy(), b.Dx(), func(x, y, w, h int) (int, int) { return h - 1 - y, w - 1 - x })
	case OrientRotate270CW:
		return rotate270(img)
	default:
		return img
	}
}
