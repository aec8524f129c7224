package filters

import (
	"bytes"
	"io"

	"github.com/hhrutter/lzw"
	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/ir/raw"
)

type lzwDecoder struct{}

func (lzwDecoder) Name() string { return "LZWDecode" }
func NewLZWDecoder() Decoder    { return lzwDecoder{} }

func earlyChange(params *raw.DictObj) bool {
	return intParam(params, "EarlyChange", 1) == 1
}

func (lzwDecoder) Decode(in []byte, params *raw.DictObj) ([]byte, error) {
	rc := lzw.NewReader(bytes.NewReader(in), earlyChange(params))
	defer rc.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, rc); err != nil && out.Len() == 0 {
		return nil, errors.Wrap(err, "lzw")
	}
	return unpredict(out.Bytes(), params)
}

func (lzwDecoder) Encode(in []byte, params *raw.DictObj) ([]byte, error) {
	var buf bytes.Buffer
	wc := lzw.NewWriter(&buf, earlyChange(params))
	if _, err := wc.Write(in); err != nil {
		return nil, err
	}
	if err := wc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
