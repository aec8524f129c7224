package filters

import (
	"testing"

	"github.com/wudi/pdfcore/ir/raw"
)

func FuzzFilters(f *testing.F) {
	f.Add([]byte("some compressed data"), "FlateDecode", int64(12))
	f.Add([]byte("some ascii85 data"), "ASCII85Decode", int64(1))
	f.Add([]byte("some hex data"), "ASCIIHexDecode", int64(1))
	f.Add([]byte{2, 'h', 'i', '!', 128}, "RunLengthDecode", int64(1))

	p := NewPipeline(nil, Limits{MaxDecompressedSize: 1 << 20})
	f.Fuzz(func(t *testing.T, data []byte, filterName string, predictor int64) {
		if _, ok := p.registry.Get(filterName); !ok {
			return
		}
		params := raw.DictOf("Predictor", raw.NumberInt(predictor%16), "Columns", raw.NumberInt(4))
		_, _, _ = p.Decode(data, []string{filterName}, []*raw.DictObj{params})
	})
}
