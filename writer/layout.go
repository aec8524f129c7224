package writer

import (
	"fmt"
	"strconv"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/security"
)

// writeObject emits "num 0 obj ... endobj", encrypting first when the
// file is encrypted. The encryption dictionary itself stays in clear.
func (w *Writer) writeObject(cw *countingWriter, f *file, num int, obj raw.Object) error {
	if f.handler != nil && num != f.encrypt.R.Num {
		var err error
		obj, err = encryptObject(f.handler, num, obj)
		if err != nil {
			return errors.Wrapf(err, "write: encrypt object %d", num)
		}
	}
	buf := strconv.AppendInt(nil, int64(num), 10)
	buf = append(buf, " 0 obj\n"...)
	buf = AppendObject(buf, obj)
	if st, ok := obj.(*raw.StreamObj); ok {
		buf = append(buf, "\nstream\n"...)
		buf = append(buf, st.Data...)
		buf = append(buf, "\nendstream"...)
	}
	buf = append(buf, "\nendobj\n"...)
	_, _ = cw.Write(buf)
	return nil
}

// writeWithTable lays out every object at top level followed by a classic
// cross-reference table of 20-byte entries.
func (w *Writer) writeWithTable(cw *countingWriter, f *file) error {
	offsets := make([]int64, len(f.objects))
	for i, obj := range f.objects {
		offsets[i] = cw.n
		if err := w.writeObject(cw, f, i+1, obj); err != nil {
			return err
		}
	}
	xrefAt := cw.n
	size := len(f.objects) + 1
	fmt.Fprintf(cw, "xref\n0 %d\n0000000000 65535 f \n", size)
	for _, off := range offsets {
		fmt.Fprintf(cw, "%010d 00000 n \n", off)
	}
	cw.WriteString("trailer\n")
	_, _ = cw.Write(AppendObject(nil, f.trailer(size)))
	fmt.Fprintf(cw, "\nstartxref\n%d\n%%%%EOF\n", xrefAt)
	return nil
}

type location struct {
	container int
	index     int
}

// writeWithXRefStream lays out the objects, optionally packing non-stream
// objects into object streams, and ends with a cross-reference stream that
// also carries the trailer entries.
func (w *Writer) writeWithXRefStream(cw *countingWriter, f *file) error {
	packed := bitset.New(uint(len(f.objects) + 1))
	loc := make(map[int]location)
	if w.cfg.ObjectStreams {
		var batch []int
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			st, err := w.objectStream(f, batch)
			if err != nil {
				return err
			}
			container := f.add(st).R.Num
			for i, num := range batch {
				packed.Set(uint(num))
				loc[num] = location{container: container, index: i}
			}
			batch = batch[:0]
			return nil
		}
		count := len(f.objects)
		for num := 1; num <= count; num++ {
			if _, isStream := f.objects[num-1].(*raw.StreamObj); isStream {
				continue
			}
			if f.handler != nil && num == f.encrypt.R.Num {
				continue
			}
			batch = append(batch, num)
			if len(batch) == objStmCapacity {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := flush(); err != nil {
			return err
		}
	}

	offsets := make(map[int]int64)
	for i, obj := range f.objects {
		num := i + 1
		if packed.Test(uint(num)) {
			continue
		}
		offsets[num] = cw.n
		if err := w.writeObject(cw, f, num, obj); err != nil {
			return err
		}
	}

	xrefNum := len(f.objects) + 1
	xrefAt := cw.n
	offsets[xrefNum] = xrefAt
	size := xrefNum + 1

	w2 := byteWidth(xrefAt)
	for _, l := range loc {
		w2 = max(w2, byteWidth(int64(l.container)))
	}
	rowLen := 1 + w2 + 2
	rows := make([]byte, 0, size*rowLen)
	for num := 0; num < size; num++ {
		switch {
		case num == 0:
			rows = appendRow(rows, 0, 0, w2, 65535)
		case packed.Test(uint(num)):
			l := loc[num]
			rows = appendRow(rows, 2, int64(l.container), w2, l.index)
		default:
			rows = appendRow(rows, 1, offsets[num], w2, 0)
		}
	}
	params := raw.DictOf("Predictor", raw.NumberInt(12), "Columns", raw.NumberInt(int64(rowLen)))
	data, err := w.pipeline.Encode("FlateDecode", rows, params)
	if err != nil {
		return errors.Wrap(err, "write: xref stream")
	}
	dict := f.trailer(size)
	dict.Set("Type", raw.NameLiteral("XRef"))
	dict.Set("W", raw.NewArray(raw.NumberInt(1), raw.NumberInt(int64(w2)), raw.NumberInt(2)))
	dict.Set("Filter", raw.NameLiteral("FlateDecode"))
	dict.Set("DecodeParms", params)
	dict.Set("Length", raw.NumberInt(int64(len(data))))

	buf := strconv.AppendInt(nil, int64(xrefNum), 10)
	buf = append(buf, " 0 obj\n"...)
	buf = AppendObject(buf, dict)
	buf = append(buf, "\nstream\n"...)
	buf = append(buf, data...)
	buf = append(buf, "\nendstream\nendobj\n"...)
	_, _ = cw.Write(buf)
	fmt.Fprintf(cw, "startxref\n%d\n%%%%EOF\n", xrefAt)
	return nil
}

// objectStream packs the given objects into one Flate-compressed /ObjStm.
func (w *Writer) objectStream(f *file, nums []int) (*raw.StreamObj, error) {
	var head, body []byte
	for _, num := range nums {
		head = strconv.AppendInt(head, int64(num), 10)
		head = append(head, ' ')
		head = strconv.AppendInt(head, int64(len(body)), 10)
		head = append(head, ' ')
		body = AppendObject(body, f.objects[num-1])
		body = append(body, '\n')
	}
	first := len(head)
	data, err := w.pipeline.Encode("FlateDecode", append(head, body...), nil)
	if err != nil {
		return nil, errors.Wrap(err, "write: object stream")
	}
	return raw.NewStream(raw.DictOf(
		"Type", raw.NameLiteral("ObjStm"),
		"N", raw.NumberInt(int64(len(nums))),
		"First", raw.NumberInt(int64(first)),
		"Filter", raw.NameLiteral("FlateDecode"),
		"Length", raw.NumberInt(int64(len(data))),
	), data), nil
}

func byteWidth(v int64) int {
	n := 1
	for v > 0xff {
		v >>= 8
		n++
	}
	return n
}

func appendRow(buf []byte, typ byte, field int64, width int, last int) []byte {
	buf = append(buf, typ)
	for i := width - 1; i >= 0; i-- {
		buf = append(buf, byte(field>>(8*i)))
	}
	return append(buf, byte(last>>8), byte(last))
}

// encryptObject returns a copy of obj with every string, and the payload
// of a stream, encrypted under the key of object num.
func encryptObject(h security.Handler, num int, obj raw.Object) (raw.Object, error) {
	switch o := obj.(type) {
	case raw.StringObj:
		b, err := h.Encrypt(num, 0, o.Bytes, security.DataClassString)
		if err != nil {
			return nil, err
		}
		return raw.StringObj{Bytes: b, Hex: o.Hex}, nil
	case *raw.ArrayObj:
		out := &raw.ArrayObj{Items: make([]raw.Object, len(o.Items))}
		for i, it := range o.Items {
			v, err := encryptObject(h, num, it)
			if err != nil {
				return nil, err
			}
			out.Items[i] = v
		}
		return out, nil
	case *raw.DictObj:
		out := raw.Dict()
		for k, v := range o.KV {
			ev, err := encryptObject(h, num, v)
			if err != nil {
				return nil, err
			}
			out.KV[k] = ev
		}
		return out, nil
	case *raw.StreamObj:
		class := security.DataClassStream
		if typ, _ := o.Dict.GetName("Type"); typ == "Metadata" {
			class = security.DataClassMetadataStream
		}
		data, err := h.Encrypt(num, 0, o.Data, class)
		if err != nil {
			return nil, err
		}
		d, err := encryptObject(h, num, o.Dict)
		if err != nil {
			return nil, err
		}
		dict := d.(*raw.DictObj)
		dict.Set("Length", raw.NumberInt(int64(len(data))))
		return &raw.StreamObj{Dict: dict, Data: data}, nil
	}
	return obj, nil
}
