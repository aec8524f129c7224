package filters

import (
	"bytes"
	stdascii85 "encoding/ascii85"
	"encoding/hex"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/ir/raw"
)

type ascii85Decoder struct{}

func (ascii85Decoder) Name() string { return "ASCII85Decode" }
func NewASCII85Decoder() Decoder    { return ascii85Decoder{} }

func (ascii85Decoder) Decode(in []byte, _ *raw.DictObj) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	trimmed = bytes.TrimPrefix(trimmed, []byte("<~"))
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	// 'z' expands one byte to four
	out := make([]byte, len(trimmed)*4+4)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, errors.Wrap(err, "ascii85")
	}
	return out[:n], nil
}

func (ascii85Decoder) Encode(in []byte, _ *raw.DictObj) ([]byte, error) {
	out := make([]byte, stdascii85.MaxEncodedLen(len(in)))
	n := stdascii85.Encode(out, in)
	return append(out[:n], '~', '>'), nil
}

type asciiHexDecoder struct{}

func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }
func NewASCIIHexDecoder() Decoder    { return asciiHexDecoder{} }

func (asciiHexDecoder) Decode(in []byte, _ *raw.DictObj) ([]byte, error) {
	digits := make([]byte, 0, len(in))
	for _, c := range in {
		if c == '>' {
			break
		}
		switch c {
		case ' ', '\t', '\r', '\n', '\f', 0:
			continue
		}
		digits = append(digits, c)
	}
	// odd length: a final 0 is implied
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	result := make([]byte, hex.DecodedLen(len(digits)))
	n, err := hex.Decode(result, digits)
	if err != nil {
		return nil, errors.Wrap(err, "asciihex")
	}
	return result[:n], nil
}

func (asciiHexDecoder) Encode(in []byte, _ *raw.DictObj) ([]byte, error) {
	out := make([]byte, hex.EncodedLen(len(in))+1)
	hex.Encode(out, in)
	out[len(out)-1] = '>'
	return out, nil
}

type runLengthDecoder struct{}

func (runLengthDecoder) Name() string { return "RunLengthDecode" }
func NewRunLengthDecoder() Decoder    { return runLengthDecoder{} }

func (runLengthDecoder) Decode(in []byte, _ *raw.DictObj) ([]byte, error) {
	var out bytes.Buffer
	for i := 0; i < len(in); {
		n := int(in[i])
		i++
		switch {
		case n == 128:
			return out.Bytes(), nil
		case n < 128:
			end := i + n + 1
			if end > len(in) {
				return nil, errors.New("runlength: literal run past end of data")
			}
			out.Write(in[i:end])
			i = end
		default:
			if i >= len(in) {
				return nil, errors.New("runlength: missing repeated byte")
			}
			out.Write(bytes.Repeat(in[i:i+1], 257-n))
			i++
		}
	}
	return out.Bytes(), nil
}

func (runLengthDecoder) Encode(in []byte, _ *raw.DictObj) ([]byte, error) {
	var out bytes.Buffer
	for i := 0; i < len(in); {
		run := 1
		for i+run < len(in) && run < 128 && in[i+run] == in[i] {
			run++
		}
		if run > 1 {
			out.WriteByte(byte(257 - run))
			out.WriteByte(in[i])
			i += run
			continue
		}
		start := i
		for i < len(in) && i-start < 128 {
			if i+1 < len(in) && in[i+1] == in[i] {
				break
			}
			i++
		}
		if i == start {
			i++
		}
		out.WriteByte(byte(i - start - 1))
		out.Write(in[start:i])
	}
	out.WriteByte(128)
	return out.Bytes(), nil
}
