package filters

import (
	"bytes"
	"compress/zlib"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfcore/ir/raw"
)

func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func pngParams(columns int) *raw.DictObj {
	return raw.DictOf(
		"Predictor", raw.NumberInt(12),
		"Colors", raw.NumberInt(1),
		"BitsPerComponent", raw.NumberInt(8),
		"Columns", raw.NumberInt(int64(columns)),
	)
}

func TestFlateDecode(t *testing.T) {
	out, err := NewFlateDecoder().Decode(deflate(t, []byte("hello world")), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))
}

func TestFlateDecodeWithPredictor(t *testing.T) {
	tests := []struct {
		name string
		rows []byte
		want []byte
	}{
		{"sub", []byte{1, 10, 12, 20}, []byte{10, 22, 42}},
		{"up", []byte{0, 1, 2, 3, 2, 1, 1, 1}, []byte{1, 2, 3, 2, 3, 4}},
		{"average", []byte{0, 2, 4, 6, 3, 1, 1, 1}, []byte{2, 4, 6, 2, 4, 6}},
		{"paeth", []byte{0, 1, 2, 3, 4, 0, 0, 0}, []byte{1, 2, 3, 1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewFlateDecoder().Decode(deflate(t, tt.rows), pngParams(3))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestTIFFPredictor(t *testing.T) {
	params := raw.DictOf("Predictor", raw.NumberInt(2), "Columns", raw.NumberInt(4))
	out, err := NewFlateDecoder().Decode(deflate(t, []byte{5, 1, 1, 1}), params)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6, 7, 8}, out)
}

func TestFlateEncodeWithPredictorRoundTrip(t *testing.T) {
	enc := NewFlateDecoder().(Encoder)
	data := []byte{1, 0, 0, 16, 0, 1, 0, 0, 200, 0, 2, 0, 1, 44, 0}
	params := raw.DictOf("Predictor", raw.NumberInt(12), "Columns", raw.NumberInt(5))
	comp, err := enc.Encode(data, params)
	require.NoError(t, err)
	out, err := NewFlateDecoder().Decode(comp, params)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestEncodersRoundTrip(t *testing.T) {
	input := []byte("hello hello hello aaaaaaaaaaaaaaaaaaaaaaa \x00\xff\x10 world")
	for _, dec := range []Decoder{NewFlateDecoder(), NewLZWDecoder(), NewASCII85Decoder(), NewASCIIHexDecoder(), NewRunLengthDecoder()} {
		t.Run(dec.Name(), func(t *testing.T) {
			enc, ok := dec.(Encoder)
			require.True(t, ok)
			encoded, err := enc.Encode(input, nil)
			require.NoError(t, err)
			out, err := dec.Decode(encoded, nil)
			require.NoError(t, err)
			assert.Equal(t, input, out)
		})
	}
}

func TestRunLengthDecode(t *testing.T) {
	// literal run of 3 bytes, then 'A' repeated twice, then EOD
	out, err := NewRunLengthDecoder().Decode([]byte{2, 'h', 'i', '!', 255, 'A', 128}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi!AA", string(out))
}

func TestASCII85Decode(t *testing.T) {
	out, err := NewASCII85Decoder().Decode([]byte("<~87cURD_*#4DfTZ)+T~>"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", string(out))
}

func TestASCIIHexDecode(t *testing.T) {
	out, err := NewASCIIHexDecoder().Decode([]byte("68 656c6c6f20776f726c64 7>"), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello worldp", string(out))
}

func TestPipelineChain(t *testing.T) {
	hexed, err := NewASCIIHexDecoder().(Encoder).Encode(deflate(t, []byte("chained")), nil)
	require.NoError(t, err)

	p := NewPipeline(nil, Limits{})
	out, rest, err := p.Decode(hexed, []string{"ASCIIHexDecode", "FlateDecode"}, nil)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, "chained", string(out))
}

func TestPipelineStopsAtImageCodec(t *testing.T) {
	p := NewPipeline(nil, Limits{})
	jpeg := []byte{0xff, 0xd8, 0xff}
	hexed, _ := NewASCIIHexDecoder().(Encoder).Encode(jpeg, nil)
	out, rest, err := p.Decode(hexed, []string{"AHx", "DCTDecode"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"DCTDecode"}, rest)
	assert.Equal(t, jpeg, out)
}

func TestPipelineUnsupportedFilter(t *testing.T) {
	p := NewPipeline(nil, Limits{})
	_, _, err := p.Decode([]byte{0}, []string{"BogusDecode"}, nil)
	assert.True(t, errors.Is(err, ErrUnsupportedFilter))
	assert.Contains(t, err.Error(), "BogusDecode")
}

func TestPipelineLimit(t *testing.T) {
	p := NewPipeline(nil, Limits{MaxDecompressedSize: 10})
	_, _, err := p.Decode(deflate(t, bytes.Repeat([]byte("x"), 100)), []string{"FlateDecode"}, nil)
	assert.True(t, errors.Is(err, ErrLimitExceeded))
}

func TestExtractFilters(t *testing.T) {
	d := raw.DictOf(
		"Filter", raw.NewArray(raw.NameLiteral("ASCII85Decode"), raw.NameLiteral("FlateDecode")),
		"DecodeParms", raw.NewArray(raw.NullObj{}, pngParams(4)),
	)
	names, params := ExtractFilters(d)
	assert.Equal(t, []string{"ASCII85Decode", "FlateDecode"}, names)
	require.Len(t, params, 2)
	assert.Nil(t, params[0])
	cols, _ := params[1].GetInt("Columns")
	assert.EqualValues(t, 4, cols)

	names, _ = ExtractFilters(raw.DictOf("Length", raw.NumberInt(3)))
	assert.Empty(t, names)
}
