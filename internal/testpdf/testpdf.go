// Package testpdf assembles small PDF files byte by byte for tests.
package testpdf

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/wudi/pdfcore/ir/raw"
)

// Builder writes objects in order and remembers where each one starts.
type Builder struct {
	buf     bytes.Buffer
	offsets map[int]int
}

func New(version string) *Builder {
	b := &Builder{offsets: make(map[int]int)}
	fmt.Fprintf(&b.buf, "%%PDF-%s\n%%\xe2\xe3\xcf\xd3\n", version)
	return b
}

func (b *Builder) Bytes() []byte      { return b.buf.Bytes() }
func (b *Builder) Len() int           { return b.buf.Len() }
func (b *Builder) Offset(num int) int { return b.offsets[num] }

// Raw appends text as is.
func (b *Builder) Raw(s string) { b.buf.WriteString(s) }

// Obj writes "num 0 obj body endobj".
func (b *Builder) Obj(num int, body string) {
	b.offsets[num] = b.buf.Len()
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
}

// Stream writes a stream object. dict holds the entries other than /Length.
func (b *Builder) Stream(num int, dict string, data []byte) {
	b.offsets[num] = b.buf.Len()
	fmt.Fprintf(&b.buf, "%d 0 obj\n<< %s /Length %d >>\nstream\n", num, dict, len(data))
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
}

// Free drops num from the next table, which then lists it as free.
func (b *Builder) Free(num int) { delete(b.offsets, num) }

// SetOffset points the next table entry for num at off.
func (b *Builder) SetOffset(num, off int) { b.offsets[num] = off }

// Table writes a classic section for objects 0..size-1 and returns its offset.
func (b *Builder) Table(size int, trailer string) int {
	off := b.buf.Len()
	fmt.Fprintf(&b.buf, "xref\n0 %d\n0000000000 65535 f \n", size)
	for i := 1; i < size; i++ {
		if o, ok := b.offsets[i]; ok {
			fmt.Fprintf(&b.buf, "%010d 00000 n \n", o)
		} else {
			b.buf.WriteString("0000000000 00001 f \n")
		}
	}
	fmt.Fprintf(&b.buf, "trailer\n%s\n", trailer)
	return off
}

// XRefStream writes an uncompressed xref stream as object num covering
// 0..size-1. compressed maps object numbers to {container, index}.
func (b *Builder) XRefStream(num, size int, compressed map[int][2]int, extra string) int {
	off := b.buf.Len()
	b.offsets[num] = off
	var rows bytes.Buffer
	for i := 0; i < size; i++ {
		if c, ok := compressed[i]; ok {
			rows.Write([]byte{2, byte(c[0] >> 8), byte(c[0]), byte(c[1])})
		} else if o, ok := b.offsets[i]; ok {
			rows.Write([]byte{1, byte(o >> 8), byte(o), 0})
		} else {
			rows.Write([]byte{0, 0, 0, 0})
		}
	}
	fmt.Fprintf(&b.buf, "%d 0 obj\n<< /Type /XRef /Size %d /W [1 2 1] %s /Length %d >>\nstream\n", num, size, extra, rows.Len())
	b.buf.Write(rows.Bytes())
	b.buf.WriteString("\nendstream\nendobj\n")
	return off
}

func (b *Builder) StartXRef(off int) {
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", off)
}

// Finish writes a table sized to the highest object and the file tail.
func (b *Builder) Finish(trailer string) []byte {
	size := 1
	for num := range b.offsets {
		if num+1 > size {
			size = num + 1
		}
	}
	if !strings.Contains(trailer, "/Size") {
		trailer = strings.Replace(trailer, "<<", fmt.Sprintf("<< /Size %d", size), 1)
	}
	b.StartXRef(b.Table(size, trailer))
	return b.Bytes()
}

// ObjectStream lays out objects for an /ObjStm payload and returns the
// data with its /First value.
func ObjectStream(objs map[int]string) ([]byte, int) {
	nums := make([]int, 0, len(objs))
	for n := range objs {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	var head, body bytes.Buffer
	for _, n := range nums {
		fmt.Fprintf(&head, "%d %d ", n, body.Len())
		body.WriteString(objs[n])
		body.WriteByte(' ')
	}
	return append(head.Bytes(), body.Bytes()...), head.Len()
}

// SinglePage builds a one-page document with Helvetica as /F1 and content
// as the page's content stream.
func SinglePage(content string) []byte {
	b := New("1.7")
	b.Obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox [0 0 612 792] >>")
	b.Obj(3, "<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>")
	b.Stream(4, "", []byte(content))
	b.Obj(5, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	return b.Finish("<< /Root 1 0 R >>")
}

// Format writes obj in PDF syntax. Stream payloads are written as is.
func Format(obj raw.Object) string {
	var sb strings.Builder
	format(&sb, obj)
	return sb.String()
}

func format(sb *strings.Builder, obj raw.Object) {
	switch o := obj.(type) {
	case nil, raw.NullObj:
		sb.WriteString("null")
	case raw.BoolObj:
		sb.WriteString(strconv.FormatBool(o.V))
	case raw.NumberObj:
		if o.IsInt {
			sb.WriteString(strconv.FormatInt(o.I, 10))
		} else {
			sb.WriteString(strconv.FormatFloat(o.F, 'f', -1, 64))
		}
	case raw.NameObj:
		sb.WriteString("/" + o.Val)
	case raw.StringObj:
		fmt.Fprintf(sb, "<%X>", o.Bytes)
	case raw.RefObj:
		fmt.Fprintf(sb, "%d %d R", o.R.Num, o.R.Gen)
	case *raw.ArrayObj:
		sb.WriteString("[")
		for i, it := range o.Items {
			if i > 0 {
				sb.WriteString(" ")
			}
			format(sb, it)
		}
		sb.WriteString("]")
	case *raw.DictObj:
		sb.WriteString("<<")
		for _, k := range o.Keys() {
			sb.WriteString(" /" + k + " ")
			format(sb, o.KV[k])
		}
		sb.WriteString(" >>")
	case *raw.StreamObj:
		format(sb, o.Dict)
	}
}
