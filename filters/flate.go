package filters

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/ir/raw"
)

type flateDecoder struct{}

func (flateDecoder) Name() string { return "FlateDecode" }
func NewFlateDecoder() Decoder    { return flateDecoder{} }

// Decode inflates a zlib stream. Truncated or checksum-damaged streams keep
// whatever was inflated before the damage, which is what most readers show.
func (flateDecoder) Decode(in []byte, params *raw.DictObj) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, errors.Wrap(err, "zlib header")
	}
	defer zr.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, zr); err != nil && out.Len() == 0 {
		return nil, errors.Wrap(err, "inflate")
	}
	return unpredict(out.Bytes(), params)
}

func (flateDecoder) Encode(in []byte, params *raw.DictObj) ([]byte, error) {
	data, err := predict(in, params)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type predictorParams struct {
	predictor int
	colors    int
	bpc       int
	columns   int
}

func readPredictor(params *raw.DictObj) predictorParams {
	return predictorParams{
		predictor: intParam(params, "Predictor", 1),
		colors:    intParam(params, "Colors", 1),
		bpc:       intParam(params, "BitsPerComponent", 8),
		columns:   intParam(params, "Columns", 1),
	}
}

func (p predictorParams) bytesPerPixel() int {
	bpp := (p.colors*p.bpc + 7) / 8
	if bpp < 1 {
		return 1
	}
	return bpp
}

func (p predictorParams) rowLength() int {
	return (p.colors*p.bpc*p.columns + 7) / 8
}

// unpredict reverses PNG (10-15) and TIFF (2) predictors.
func unpredict(data []byte, params *raw.DictObj) ([]byte, error) {
	p := readPredictor(params)
	switch {
	case p.predictor <= 1:
		return data, nil
	case p.predictor == 2:
		return unpredictTIFF(data, p)
	case p.predictor >= 10:
		return unpredictPNG(data, p)
	}
	return nil, errors.Errorf("unknown predictor %d", p.predictor)
}

func unpredictPNG(data []byte, p predictorParams) ([]byte, error) {
	rowLen := p.rowLength()
	if rowLen <= 0 {
		return nil, errors.New("invalid predictor columns")
	}
	bpp := p.bytesPerPixel()
	prev := make([]byte, rowLen)
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i += rowLen + 1 {
		end := i + rowLen + 1
		if end > len(data) {
			// short final row: pad so the predictor math stays in range
			end = len(data)
		}
		typ := data[i]
		row := make([]byte, rowLen)
		copy(row, data[i+1:end])
		for j := 0; j < rowLen; j++ {
			var left, upLeft byte
			if j >= bpp {
				left = row[j-bpp]
				upLeft = prev[j-bpp]
			}
			up := prev[j]
			switch typ {
			case 0:
			case 1:
				row[j] += left
			case 2:
				row[j] += up
			case 3:
				row[j] += byte((int(left) + int(up)) / 2)
			case 4:
				row[j] += paeth(left, up, upLeft)
			default:
				return nil, errors.Errorf("invalid PNG filter type %d", typ)
			}
		}
		out = append(out, row[:end-i-1]...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func unpredictTIFF(data []byte, p predictorParams) ([]byte, error) {
	if p.bpc != 8 && p.bpc != 16 {
		return nil, errors.Errorf("TIFF predictor with %d bits per component", p.bpc)
	}
	rowLen := p.rowLength()
	out := append([]byte(nil), data...)
	width := p.bpc / 8
	stride := p.colors * width
	for r := 0; r+rowLen <= len(out); r += rowLen {
		row := out[r : r+rowLen]
		for j := stride; j+width <= len(row); j += width {
			if width == 1 {
				row[j] += row[j-stride]
				continue
			}
			v := uint16(row[j])<<8 | uint16(row[j+1])
			l := uint16(row[j-stride])<<8 | uint16(row[j-stride+1])
			v += l
			row[j], row[j+1] = byte(v>>8), byte(v)
		}
	}
	return out, nil
}

// predict applies the PNG Up predictor when the params ask for a PNG
// predictor. Only the writer's own xref streams need it.
func predict(data []byte, params *raw.DictObj) ([]byte, error) {
	p := readPredictor(params)
	if p.predictor <= 1 {
		return data, nil
	}
	if p.predictor < 10 {
		return nil, errors.Errorf("encoding with predictor %d is not supported", p.predictor)
	}
	rowLen := p.rowLength()
	if rowLen <= 0 || len(data)%rowLen != 0 {
		return nil, errors.Errorf("data length %d is not a multiple of row length %d", len(data), rowLen)
	}
	out := make([]byte, 0, len(data)+len(data)/rowLen)
	prev := make([]byte, rowLen)
	for i := 0; i < len(data); i += rowLen {
		row := data[i : i+rowLen]
		out = append(out, 2)
		for j := range row {
			out = append(out, row[j]-prev[j])
		}
		prev = row
	}
	return out, nil
}
