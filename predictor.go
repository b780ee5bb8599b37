package squish

import (
	"errors"
	"fmt"
)

// predictorParams mirrors the FlateDecode DecodeParms entries that
// affect the decoded byte layout.
type predictorParams struct {
	Predictor int // 1 = none, 2 = TIFF, 10–15 = PNG
	Colors    int
	BPC       int
	Columns   int
}

func defaultPredictorParams() predictorParams {
	return predictorParams{Predictor: 1, Colors: 1, BPC: 8, Columns: 1}
}

var errShortRow = errors.New("squish: predictor row truncated")

// unpredict reverses the predictor applied before deflation. The input
// is the inflated stream; the output is raw samples.
func unpredict(data []byte, p predictorParams) ([]byte, error) {
	if p.Colors < 1 {
		p.Colors = 1
	}
	if p.BPC < 1 {
		p.BPC = 8
	}
	if p.Columns < 1 {
		p.Columns = 1
	}
	bpp := max((p.Colors*p.BPC+7)/8, 1)
	rowBytes := (p.Columns*p.Colors*p.BPC + 7) / 8

	switch {
	case p.Predictor <= 1:
		return data, nil
	case p.Predictor == 2:
		return unpredictTIFF(data, p.BPC, bpp, rowBytes)
	case p.Predictor >= 10 && p.Predictor <= 15:
		return unpredictPNG(data, bpp, rowBytes)
	default:
		return nil, fmt.Errorf("squish: unsupported predictor %d", p.Predictor)
	}
}

func unpredictTIFF(data []byte, bpc, bpp, rowBytes int) ([]byte, error) {
	if bpc != 8 {
		return nil, fmt.Errorf("squish: TIFF predictor with %d bits per component", bpc)
	}
	if rowBytes == 0 || len(data)%rowBytes != 0 {
		return nil, errShortRow
	}
	out := make([]byte, len(data))
	copy(out, data)
	for row := 0; row < len(out); row += rowBytes {
		cur := out[row : row+rowBytes]
		for i := bpp; i < len(cur); i++ {
			cur[i] += cur[i-bpp]
		}
	}
	return out, nil
}

// unpredictPNG undoes per-row PNG filters. Each input row is one filter
// type byte followed by rowBytes of data.
func unpredictPNG(data []byte, bpp, rowBytes int) ([]byte, error) {
	stride := rowBytes + 1
	if rowBytes == 0 || len(data)%stride != 0 {
		return nil, errShortRow
	}
	rows := len(data) / stride
	out := make([]byte, rows*rowBytes)
	prev := make([]byte, rowBytes)

	for r := 0; r < rows; r++ {
		filterType := data[r*stride]
		cur := out[r*rowBytes : (r+1)*rowBytes]
		copy(cur, data[r*stride+1:(r+1)*stride])

		switch filterType {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < len(cur); i++ {
				cur[i] += cur[i-bpp]
			}
		case 2: // Up
			for i := range cur {
				cur[i] += prev[i]
			}
		case 3: // Average
			for i := range cur {
				var left int
				if i >= bpp {
					left = int(cur[i-bpp])
				}
				cur[i] += byte((left + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := range cur {
				var a, c byte
				if i >= bpp {
					a = cur[i-bpp]
					c = prev[i-bpp]
				}
				cur[i] += paeth(a, prev[i], c)
			}
		default:
			return nil, fmt.Errorf("squish: unknown PNG filter type %d", filterType)
		}
		prev = cur
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	pa := absInt(int(b) - int(c))
	pb := absInt(int(a) - int(c))
	pc := absInt(int(a) + int(b) - 2*int(c))
	if pa <= pb && pa <= pc {
		return a
	} else if pb <= pc {
		return b
	}
	return c
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
