package contentstream

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/coords"
	"github.com/wudi/pdfcore/graph"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
)

// ErrNotFont reports a font resource that is not a dictionary.
var ErrNotFont = errors.New("font resource is not a dictionary")

// CharCode is one character code of a shown string.
type CharCode struct {
	Code uint32
	N    int // bytes in the code
	// Width is the horizontal displacement in text space units at size 1.
	Width float64
	Text  string
}

// Font is the part of a font dictionary needed to split shown strings into
// codes, measure them and map them to Unicode.
type Font struct {
	BaseFont  string
	Subtype   string
	Composite bool

	encoding  [256]rune
	toUnicode *CMap
	// codes is the encoding CMap of a composite font; nil means Identity.
	codes *CMap

	firstChar int
	widths    []float64
	hasWidths bool
	missing   float64

	defaultWidth float64
	cidWidths    map[uint32]float64

	// glyphScale converts glyph space widths to text space: 1/1000 except
	// for Type3 fonts, which declare their own FontMatrix.
	glyphScale float64
	monospace  float64
}

// LoadFont builds a Font from a font dictionary or a reference to one.
func LoadFont(g *graph.Graph, obj raw.Object) (*Font, error) {
	d, ok := g.Dict(obj)
	if !ok {
		return nil, ErrNotFont
	}
	f := &Font{glyphScale: 0.001, defaultWidth: 1000}
	f.Subtype, _ = d.GetName("Subtype")
	f.BaseFont, _ = g.Name(d.KV["BaseFont"])
	if strings.HasPrefix(strings.ToLower(stripSubset(f.BaseFont)), "courier") {
		f.monospace = 600
	}
	if tu, ok := g.Stream(d.KV["ToUnicode"]); ok {
		if data, err := g.StreamData(tu); err != nil {
			g.Logger().Warn("ToUnicode stream", observability.String("font", f.BaseFont), observability.Error("error", err))
		} else if cm, err := ParseCMap(data); err != nil {
			g.Logger().Warn("ToUnicode cmap", observability.String("font", f.BaseFont), observability.Error("error", err))
		} else {
			f.toUnicode = cm
		}
	}
	if f.Subtype == "Type0" {
		f.Composite = true
		f.loadComposite(g, d)
		return f, nil
	}
	f.loadSimple(g, d)
	return f, nil
}

// resolve dereferences obj, logging failures through the graph.
func resolve(g *graph.Graph, obj raw.Object) raw.Object {
	out, err := g.Deref(obj)
	if err != nil {
		g.Logger().Warn("dereference failed", observability.Error("error", err))
		return raw.NullObj{}
	}
	return out
}

func stripSubset(name string) string {
	if len(name) > 7 && name[6] == '+' {
		return name[7:]
	}
	return name
}

func (f *Font) loadSimple(g *graph.Graph, d *raw.DictObj) {
	base := "StandardEncoding"
	if f.Subtype == "TrueType" {
		base = "WinAnsiEncoding"
	}
	var diffs *raw.ArrayObj
	switch e := resolve(g, d.KV["Encoding"]).(type) {
	case raw.NameObj:
		base = e.Val
	case *raw.DictObj:
		if n, ok := g.Name(e.KV["BaseEncoding"]); ok {
			base = n
		}
		diffs, _ = g.Array(e.KV["Differences"])
	}
	f.encoding = baseEncoding(base)
	if diffs != nil {
		code := 0
		for _, it := range diffs.Items {
			switch v := resolve(g, it).(type) {
			case raw.NumberObj:
				code = int(v.Int())
			case raw.NameObj:
				if code >= 0 && code < 256 {
					if r, ok := glyphRune(v.Val); ok {
						f.encoding[code] = r
					}
				}
				code++
			}
		}
	}

	if f.Subtype == "Type3" {
		if m, ok := coords.MatrixFrom(resolve(g, d.KV["FontMatrix"])); ok {
			f.glyphScale = m[0]
		}
	}
	if fc, ok := g.Number(d.KV["FirstChar"]); ok {
		f.firstChar = int(fc)
	}
	if ws, ok := g.Array(d.KV["Widths"]); ok {
		f.hasWidths = true
		f.widths = make([]float64, len(ws.Items))
		for i, w := range ws.Items {
			f.widths[i], _ = g.Number(w)
		}
	}
	if fd, ok := g.Dict(d.KV["FontDescriptor"]); ok {
		f.missing, _ = g.Number(fd.KV["MissingWidth"])
	}
}

func (f *Font) loadComposite(g *graph.Graph, d *raw.DictObj) {
	switch e := resolve(g, d.KV["Encoding"]).(type) {
	case raw.NameObj:
		if !strings.HasPrefix(e.Val, "Identity") {
			g.Logger().Debug("predefined cmap treated as two-byte identity", observability.String("cmap", e.Val))
		}
	case *raw.StreamObj:
		if data, err := g.StreamData(e); err == nil {
			if cm, err := ParseCMap(data); err == nil {
				f.codes = cm
			}
		}
	}
	kids, ok := g.Array(d.KV["DescendantFonts"])
	if !ok || kids.Len() == 0 {
		return
	}
	cid, ok := g.Dict(kids.Items[0])
	if !ok {
		return
	}
	if dw, ok := g.Number(cid.KV["DW"]); ok {
		f.defaultWidth = dw
	}
	if w, ok := g.Array(cid.KV["W"]); ok {
		f.cidWidths = parseW(g, w)
	}
}

// parseW reads "c [w1 w2 ...]" and "cfirst clast w" runs.
func parseW(g *graph.Graph, w *raw.ArrayObj) map[uint32]float64 {
	out := make(map[uint32]float64)
	items := w.Items
	for i := 0; i < len(items); {
		first, ok := g.Number(items[i])
		if !ok || i+1 >= len(items) {
			break
		}
		if arr, ok := g.Array(items[i+1]); ok {
			for j, it := range arr.Items {
				if v, ok := g.Number(it); ok {
					out[uint32(first)+uint32(j)] = v
				}
			}
			i += 2
			continue
		}
		if i+2 >= len(items) {
			break
		}
		last, _ := g.Number(items[i+1])
		v, _ := g.Number(items[i+2])
		for c := uint32(first); c <= uint32(last) && c-uint32(first) < 1<<16; c++ {
			out[c] = v
		}
		i += 3
	}
	return out
}

// Decode splits s into character codes.
func (f *Font) Decode(s []byte) []CharCode {
	if f == nil {
		out := make([]CharCode, len(s))
		for i, b := range s {
			out[i] = CharCode{Code: uint32(b), N: 1, Width: 0.5, Text: string(rune(b))}
		}
		return out
	}
	if f.Composite {
		return f.decodeComposite(s)
	}
	out := make([]CharCode, 0, len(s))
	for _, b := range s {
		c := CharCode{Code: uint32(b), N: 1}
		c.Text = f.text(c.Code, 1)
		c.Width = f.simpleWidth(int(b), c.Text) * f.glyphScale
		out = append(out, c)
	}
	return out
}

func (f *Font) decodeComposite(s []byte) []CharCode {
	var out []CharCode
	for len(s) > 0 {
		var code uint32
		n := 0
		if f.codes.hasCodespace() {
			code, n = f.codes.NextCode(s)
		}
		if n == 0 {
			n = 2
			if len(s) < 2 {
				n = 1
			}
			code = codeOf(s[:n])
		}
		cid := code
		if c, ok := f.codes.CID(code, n); ok {
			cid = c
		}
		w, ok := f.cidWidths[cid]
		if !ok {
			w = f.defaultWidth
		}
		out = append(out, CharCode{Code: code, N: n, Width: w * f.glyphScale, Text: f.text(code, n)})
		s = s[n:]
	}
	return out
}

func (f *Font) text(code uint32, n int) string {
	if s, ok := f.toUnicode.Unicode(code, n); ok {
		return s
	}
	if f.Composite || code > 255 {
		return ""
	}
	if r := f.encoding[code]; r != 0 {
		return string(r)
	}
	return ""
}

func (f *Font) simpleWidth(code int, text string) float64 {
	if f.hasWidths {
		if i := code - f.firstChar; i >= 0 && i < len(f.widths) {
			return f.widths[i]
		}
		return f.missing
	}
	if f.monospace > 0 {
		return f.monospace
	}
	var r rune
	for _, c := range text {
		r = c
		break
	}
	return fallbackWidth(r)
}

// SpaceWidth is the width of the space character in text space units at
// size 1. Composite fonts and fonts without a space glyph use a quarter
// of the default width.
func (f *Font) SpaceWidth() float64 {
	if f == nil {
		return 0.25
	}
	if !f.Composite {
		if w := f.simpleWidth(' ', " ") * f.glyphScale; w > 0 {
			return w
		}
	}
	return f.defaultWidth * f.glyphScale / 4
}
