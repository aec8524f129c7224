package extractor

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/unicode/norm"

	"github.com/wudi/pdfcore/contentstream"
	"github.com/wudi/pdfcore/coords"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/pages"
)

// TextRun is a stretch of glyphs shown on one baseline with one font and
// size. Positions are in user space; X, Y is the origin of the first glyph.
type TextRun struct {
	Text  string
	X, Y  float64
	Width float64
	Size  float64
	Font  string

	dir   coords.Point
	space float64
}

func (r TextRun) end() coords.Point {
	return coords.Point{X: r.X + r.dir.X*r.Width, Y: r.Y + r.dir.Y*r.Width}
}

// Page returns the text of p in the configured mode, NFC-normalized.
func (e *Extractor) Page(p pages.Page) (string, error) {
	runs, err := e.Runs(p)
	if err != nil {
		return "", err
	}
	var out string
	if e.opts.Mode == ModeLayout {
		out = e.layout(runs)
	} else {
		out = e.plain(runs)
	}
	return norm.NFC.String(out), nil
}

// Runs returns the text runs of p in content stream order. Marked content
// carrying /ActualText is reported as a single run with that text.
func (e *Extractor) Runs(p pages.Page) ([]TextRun, error) {
	c := &collector{}
	err := e.run(p, c.glyph, func(in *contentstream.Interpreter) {
		in.RegisterHandler("BMC", contentstream.HandlerFunc(func(*contentstream.ExecutionContext, []raw.Object) error {
			c.marks = append(c.marks, mark{})
			return nil
		}))
		in.RegisterHandler("BDC", contentstream.HandlerFunc(func(ctx *contentstream.ExecutionContext, ops []raw.Object) error {
			c.marks = append(c.marks, e.markOf(ctx, ops))
			return nil
		}))
		in.RegisterHandler("EMC", contentstream.HandlerFunc(func(*contentstream.ExecutionContext, []raw.Object) error {
			c.pop()
			return nil
		}))
	})
	for len(c.marks) > 0 {
		c.pop()
	}
	if err != nil {
		return nil, err
	}
	return e.merge(c.glyphs), nil
}

type mark struct {
	actual string
	active bool
	glyphs []contentstream.Glyph
}

type collector struct {
	glyphs []contentstream.Glyph
	marks  []mark
}

func (c *collector) glyph(g contentstream.Glyph) {
	for i := range c.marks {
		if c.marks[i].active {
			c.marks[i].glyphs = append(c.marks[i].glyphs, g)
			return
		}
	}
	c.glyphs = append(c.glyphs, g)
}

func (c *collector) pop() {
	n := len(c.marks)
	if n == 0 {
		return
	}
	m := c.marks[n-1]
	c.marks = c.marks[:n-1]
	if !m.active || len(m.glyphs) == 0 {
		return
	}
	first, last := m.glyphs[0], m.glyphs[len(m.glyphs)-1]
	dir := direction(first)
	span := coords.Point{X: last.X - first.X, Y: last.Y - first.Y}
	first.Text = m.actual
	first.Width = dot(dir, span) + last.Width
	c.glyph(first)
}

// markOf reads the property list of a BDC, inline or named in /Properties.
func (e *Extractor) markOf(ctx *contentstream.ExecutionContext, ops []raw.Object) mark {
	if len(ops) < 2 {
		return mark{}
	}
	var props *raw.DictObj
	switch v := ops[1].(type) {
	case *raw.DictObj:
		props = v
	case raw.NameObj:
		if ctx.Resources != nil {
			if all, ok := e.g.Dict(ctx.Resources.KV["Properties"]); ok {
				props, _ = e.g.Dict(all.KV[v.Val])
			}
		}
	}
	if props == nil {
		return mark{}
	}
	s, ok := props.Get("ActualText")
	if !ok {
		return mark{}
	}
	str, err := e.g.Deref(s)
	if err != nil {
		return mark{}
	}
	if so, ok := str.(raw.StringObj); ok {
		return mark{actual: DecodeTextString(so.Bytes), active: true}
	}
	return mark{}
}

func direction(g contentstream.Glyph) coords.Point {
	l := math.Hypot(g.Trm[0], g.Trm[1])
	if l == 0 {
		return coords.Point{X: 1}
	}
	return coords.Point{X: g.Trm[0] / l, Y: g.Trm[1] / l}
}

func dot(a, b coords.Point) float64   { return a.X*b.X + a.Y*b.Y }
func cross(a, b coords.Point) float64 { return a.X*b.Y - a.Y*b.X }

// merge joins consecutive glyphs that continue each other on one baseline
// into runs.
func (e *Extractor) merge(glyphs []contentstream.Glyph) []TextRun {
	var runs []TextRun
	for _, g := range glyphs {
		if n := len(runs); n > 0 && e.continues(runs[n-1], g) {
			r := &runs[n-1]
			r.Text += g.Text
			r.Width = dot(r.dir, coords.Point{X: g.X - r.X, Y: g.Y - r.Y}) + g.Width
			continue
		}
		runs = append(runs, TextRun{
			Text:  g.Text,
			X:     g.X,
			Y:     g.Y,
			Width: g.Width,
			Size:  g.Size,
			Font:  g.FontName,
			dir:   direction(g),
			space: g.SpaceWidth,
		})
	}
	return runs
}

func (e *Extractor) continues(r TextRun, g contentstream.Glyph) bool {
	if r.Font != g.FontName || math.Abs(r.Size-g.Size) > 0.01*r.Size || direction(g) != r.dir {
		return false
	}
	d := coords.Point{X: g.X - r.end().X, Y: g.Y - r.end().Y}
	if math.Abs(cross(r.dir, d)) > e.opts.LineTolerance*r.Size {
		return false
	}
	gap := dot(r.dir, d)
	return gap <= e.opts.SpaceThreshold*r.space && gap >= -r.space
}

// plain concatenates runs in stream order: a baseline change is a newline,
// a same-line gap beyond the threshold is a space.
func (e *Extractor) plain(runs []TextRun) string {
	var sb strings.Builder
	for i, r := range runs {
		if i > 0 {
			prev := runs[i-1]
			end := prev.end()
			d := coords.Point{X: r.X - end.X, Y: r.Y - end.Y}
			size := math.Max(prev.Size, r.Size)
			switch {
			case math.Abs(cross(prev.dir, d)) > e.opts.LineTolerance*size:
				sb.WriteByte('\n')
			case math.Abs(dot(prev.dir, d)) > e.opts.SpaceThreshold*prev.space:
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(r.Text)
	}
	return collapse(sb.String())
}

// collapse squeezes runs of blanks, trims lines and drops empty ones.
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

type line struct {
	y    float64
	size float64
	runs []TextRun
}

// layout groups runs into lines by baseline, orders each line by x and
// spaces runs in proportion to their distance.
func (e *Extractor) layout(runs []TextRun) string {
	if len(runs) == 0 {
		return ""
	}
	sorted := append([]TextRun(nil), runs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y > sorted[j].Y })

	var lines []*line
	minX := math.Inf(1)
	var width float64
	var chars int
	for _, r := range sorted {
		minX = math.Min(minX, r.X)
		if n := len([]rune(r.Text)); n > 0 {
			width += r.Width
			chars += n
		}
		if k := len(lines); k > 0 && math.Abs(lines[k-1].y-r.Y) <= e.opts.LineTolerance*math.Max(lines[k-1].size, r.Size) {
			lines[k-1].runs = append(lines[k-1].runs, r)
			lines[k-1].size = math.Max(lines[k-1].size, r.Size)
			continue
		}
		lines = append(lines, &line{y: r.Y, size: r.Size, runs: []TextRun{r}})
	}
	avg := sorted[0].Size / 2
	if chars > 0 && width > 0 {
		avg = width / float64(chars)
	}

	var sb strings.Builder
	for i, l := range lines {
		if i > 0 {
			sb.WriteByte('\n')
			if lines[i-1].y-l.y > e.opts.ParagraphGap*math.Max(lines[i-1].size, l.size) {
				sb.WriteByte('\n')
			}
		}
		sort.SliceStable(l.runs, func(a, b int) bool { return l.runs[a].X < l.runs[b].X })
		var text strings.Builder
		text.WriteString(strings.Repeat(" ", spaces(l.runs[0].X-minX, avg)))
		for j, r := range l.runs {
			if j > 0 {
				prev := l.runs[j-1]
				if gap := r.X - (prev.X + prev.Width); gap > e.opts.SpaceThreshold*prev.space {
					text.WriteString(strings.Repeat(" ", max(1, spaces(gap, avg))))
				}
			}
			text.WriteString(r.Text)
		}
		sb.WriteString(strings.TrimRight(text.String(), " "))
	}
	return sb.String()
}

func spaces(gap, avg float64) int {
	if gap <= 0 || avg <= 0 {
		return 0
	}
	return int(math.Round(gap / avg))
}

var utf16BOM = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)

// pdfDocHigh holds the PDFDocEncoding characters that differ from Latin-1.
var pdfDocHigh = map[byte]rune{
	0x18: '˘', 0x19: 'ˇ', 0x1a: 'ˆ', 0x1b: '˙', 0x1c: '˝', 0x1d: '˛', 0x1e: '˚', 0x1f: '˜',
	0x80: '•', 0x81: '†', 0x82: '‡', 0x83: '…', 0x84: '—', 0x85: '–', 0x86: 'ƒ', 0x87: '⁄',
	0x88: '‹', 0x89: '›', 0x8a: '−', 0x8b: '‰', 0x8c: '„', 0x8d: '“', 0x8e: '”', 0x8f: '‘',
	0x90: '’', 0x91: '‚', 0x92: '™', 0x93: 'ﬁ', 0x94: 'ﬂ', 0x95: 'Ł', 0x96: 'Œ', 0x97: 'Š',
	0x98: 'Ÿ', 0x99: 'Ž', 0x9a: 'ı', 0x9b: 'ł', 0x9c: 'œ', 0x9d: 'š', 0x9e: 'ž', 0xa0: '€',
}

// DecodeTextString decodes a PDF text string: UTF-16 with a byte order
// mark, UTF-8 with a BOM, or PDFDocEncoding.
func DecodeTextString(b []byte) string {
	switch {
	case len(b) >= 2 && (b[0] == 0xfe && b[1] == 0xff || b[0] == 0xff && b[1] == 0xfe):
		out, err := utf16BOM.NewDecoder().Bytes(b)
		if err == nil {
			return string(out)
		}
	case len(b) >= 3 && b[0] == 0xef && b[1] == 0xbb && b[2] == 0xbf:
		return string(b[3:])
	}
	var sb strings.Builder
	for _, c := range b {
		if r, ok := pdfDocHigh[c]; ok {
			sb.WriteRune(r)
			continue
		}
		sb.WriteRune(charmap.ISO8859_1.DecodeByte(c))
	}
	return sb.String()
}
