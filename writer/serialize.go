package writer

import (
	"math"
	"sort"
	"strconv"

	"github.com/wudi/pdfcore/ir/raw"
)

const hexDigits = "0123456789ABCDEF"

// AppendObject appends the PDF syntax for obj to buf. Dictionary keys are
// written in sorted order so equal objects always serialize the same way.
// Stream payloads are not written; see writeObject.
func AppendObject(buf []byte, obj raw.Object) []byte {
	switch v := obj.(type) {
	case nil, raw.NullObj:
		return append(buf, "null"...)
	case raw.BoolObj:
		return strconv.AppendBool(buf, v.V)
	case raw.NumberObj:
		if v.IsInt {
			return strconv.AppendInt(buf, v.I, 10)
		}
		return AppendReal(buf, v.F)
	case raw.NameObj:
		return AppendName(buf, v.Val)
	case raw.StringObj:
		if v.Hex {
			return appendHexString(buf, v.Bytes)
		}
		return appendLiteralString(buf, v.Bytes)
	case raw.RefObj:
		buf = strconv.AppendInt(buf, int64(v.R.Num), 10)
		buf = append(buf, ' ')
		buf = strconv.AppendInt(buf, int64(v.R.Gen), 10)
		return append(buf, " R"...)
	case *raw.ArrayObj:
		buf = append(buf, '[')
		for i, it := range v.Items {
			if i > 0 {
				buf = append(buf, ' ')
			}
			buf = AppendObject(buf, it)
		}
		return append(buf, ']')
	case *raw.DictObj:
		return appendDict(buf, v)
	case *raw.StreamObj:
		return appendDict(buf, v.Dict)
	}
	return append(buf, "null"...)
}

func appendDict(buf []byte, d *raw.DictObj) []byte {
	keys := make([]string, 0, d.Len())
	for k, v := range d.KV {
		if _, null := v.(raw.NullObj); null || v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf = append(buf, "<<"...)
	for _, k := range keys {
		buf = AppendName(buf, k)
		buf = append(buf, ' ')
		buf = AppendObject(buf, d.KV[k])
	}
	return append(buf, ">>"...)
}

// AppendReal writes f in the shortest decimal form without an exponent.
func AppendReal(buf []byte, f float64) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) || f == 0 {
		return append(buf, '0')
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.AppendInt(buf, int64(f), 10)
	}
	return strconv.AppendFloat(buf, f, 'f', -1, 64)
}

func isRegularNameByte(c byte) bool {
	if c <= 0x20 || c >= 0x7f || c == '#' {
		return false
	}
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return false
	}
	return true
}

// AppendName writes /name with irregular bytes as #xx escapes.
func AppendName(buf []byte, name string) []byte {
	buf = append(buf, '/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isRegularNameByte(c) {
			buf = append(buf, c)
			continue
		}
		buf = append(buf, '#', hexDigits[c>>4], hexDigits[c&0xf])
	}
	return buf
}

func appendHexString(buf []byte, b []byte) []byte {
	buf = append(buf, '<')
	for _, c := range b {
		buf = append(buf, hexDigits[c>>4], hexDigits[c&0xf])
	}
	return append(buf, '>')
}

func appendLiteralString(buf []byte, b []byte) []byte {
	buf = append(buf, '(')
	for _, c := range b {
		switch c {
		case '\\', '(', ')':
			buf = append(buf, '\\', c)
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		case '\b':
			buf = append(buf, '\\', 'b')
		case '\f':
			buf = append(buf, '\\', 'f')
		default:
			if c < 0x20 || c >= 0x7f {
				buf = append(buf, '\\', '0'+c>>6, '0'+(c>>3)&7, '0'+c&7)
			} else {
				buf = append(buf, c)
			}
		}
	}
	return append(buf, ')')
}
