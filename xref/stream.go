package xref

import (
	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/filters"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/parser"
)

// readStreamSection reads a /Type /XRef stream object at the start of the
// parser's input. The stream dictionary doubles as the section trailer.
func (r *Resolver) readStreamSection(p *parser.Parser) (*raw.DictObj, map[int]Entry, error) {
	_, obj, err := p.ParseIndirect(0, raw.ObjectRef{}, nil)
	if err != nil {
		return nil, nil, errors.Wrap(ErrInvalidXRef, err.Error())
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, nil, errors.Wrap(ErrInvalidXRef, "neither a table nor a stream")
	}
	if typ, _ := st.Dict.GetName("Type"); typ != "XRef" {
		return nil, nil, errors.Wrapf(ErrInvalidXRef, "stream has /Type /%s", typ)
	}
	names, params := filters.ExtractFilters(st.Dict)
	data, rest, err := r.cfg.Filters.Decode(st.Data, names, params)
	if err != nil {
		return nil, nil, errors.Wrap(err, "xref stream")
	}
	if len(rest) > 0 {
		return nil, nil, errors.Wrapf(ErrInvalidXRef, "xref stream encoded with /%s", rest[0])
	}
	sec, err := DecodeStreamEntries(st.Dict, data)
	if err != nil {
		return nil, nil, err
	}
	return st.Dict, sec, nil
}

// DecodeStreamEntries unpacks the binary rows of a decoded xref stream
// according to its /W and /Index arrays.
func DecodeStreamEntries(dict *raw.DictObj, data []byte) (map[int]Entry, error) {
	wArr, ok := dict.GetArray("W")
	if !ok || wArr.Len() < 3 {
		return nil, errors.Wrap(ErrInvalidXRef, "xref stream /W missing")
	}
	ws, ok := wArr.Floats()
	if !ok {
		return nil, errors.Wrap(ErrInvalidXRef, "xref stream /W is not numeric")
	}
	var w [3]int
	rowLen := 0
	for i := 0; i < 3; i++ {
		w[i] = int(ws[i])
		if w[i] < 0 || w[i] > 8 {
			return nil, errors.Wrapf(ErrInvalidXRef, "xref stream field width %d", w[i])
		}
		rowLen += w[i]
	}
	if rowLen == 0 {
		return nil, errors.Wrap(ErrInvalidXRef, "xref stream rows are empty")
	}

	size, _ := dict.GetInt("Size")
	index := []float64{0, float64(size)}
	if arr, ok := dict.GetArray("Index"); ok {
		if index, ok = arr.Floats(); !ok || len(index)%2 != 0 {
			return nil, errors.Wrap(ErrInvalidXRef, "xref stream /Index malformed")
		}
	}

	sec := make(map[int]Entry)
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		first, count := int(index[i]), int(index[i+1])
		for j := 0; j < count; j++ {
			if pos+rowLen > len(data) {
				return sec, nil
			}
			row := data[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1)
			if w[0] > 0 {
				typ = field(row[:w[0]])
			}
			f2 := field(row[w[0] : w[0]+w[1]])
			f3 := field(row[w[0]+w[1]:])
			num := first + j
			switch typ {
			case 0:
				sec[num] = Entry{Kind: Free, Next: int(f2), Gen: int(f3)}
			case 1:
				sec[num] = Entry{Kind: InUse, Offset: f2, Gen: int(f3)}
			case 2:
				sec[num] = Entry{Kind: Compressed, Stream: int(f2), Index: int(f3)}
			}
			// other types are reserved and mean a null reference
		}
	}
	return sec, nil
}

func field(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}
