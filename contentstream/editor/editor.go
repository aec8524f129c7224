// Package editor rewrites page content: affine transforms, page merging,
// text stamps and area redaction. Edits replace page dictionaries and add
// new content streams; objects shared with other pages are never changed.
package editor

import (
	"math"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/contentstream"
	"github.com/wudi/pdfcore/coords"
	"github.com/wudi/pdfcore/graph"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/pages"
)

var (
	ErrBadScale = errors.New("scale factors must be positive")
	// ErrEmptyPage reports a page whose media box has no area.
	ErrEmptyPage = errors.New("page has an empty media box")
)

// Transform prefixes the page content with "q <m> cm" and closes it with
// Q. Page boxes are left alone.
func Transform(g *graph.Graph, p *pages.Page, m coords.Matrix) error {
	data, err := p.Contents(g)
	if err != nil {
		return err
	}
	d := p.Dict.Clone()
	setContents(g, d, wrap(g.Logger(), data, m))
	return pages.Update(g, p, d)
}

// Rotate turns the page content clockwise by degrees about the origin and
// moves it back so the media box starts at 0 0. Boxes are transformed with
// the content, so quarter turns swap width and height; other angles grow
// the boxes to the bounding rectangle.
func Rotate(g *graph.Graph, p *pages.Page, degrees float64) error {
	m := coords.Rotate(-degrees)
	box := p.MediaBox.Transform(m)
	return transformPage(g, p, m.Multiply(coords.Translate(-box.LLX, -box.LLY)))
}

// Scale resizes the page content and every page box by sx, sy.
func Scale(g *graph.Graph, p *pages.Page, sx, sy float64) error {
	if sx <= 0 || sy <= 0 || math.IsInf(sx, 0) || math.IsInf(sy, 0) {
		return errors.Wrapf(ErrBadScale, "%g x %g", sx, sy)
	}
	return transformPage(g, p, coords.Scale(sx, sy))
}

func transformPage(g *graph.Graph, p *pages.Page, m coords.Matrix) error {
	if p.MediaBox.Width() == 0 || p.MediaBox.Height() == 0 {
		return errors.Wrapf(ErrEmptyPage, "page %d", p.Index)
	}
	data, err := p.Contents(g)
	if err != nil {
		return err
	}
	d := p.Dict.Clone()
	setContents(g, d, wrap(g.Logger(), data, m))
	transformBoxes(d, p, m)
	if err := pages.Update(g, p, d); err != nil {
		return err
	}
	p.MediaBox = p.MediaBox.Transform(m)
	p.CropBox = p.CropBox.Transform(m)
	p.BleedBox = p.BleedBox.Transform(m)
	p.TrimBox = p.TrimBox.Transform(m)
	p.ArtBox = p.ArtBox.Transform(m)
	return nil
}

// transformBoxes writes the transformed boxes into d. MediaBox is always
// written since it may have been inherited; the other boxes only when the
// page states them or, for CropBox, when it differs from the media box.
func transformBoxes(d *raw.DictObj, p *pages.Page, m coords.Matrix) {
	d.Set("MediaBox", p.MediaBox.Transform(m).Array())
	boxes := []struct {
		name string
		box  coords.Rect
	}{
		{"CropBox", p.CropBox},
		{"BleedBox", p.BleedBox},
		{"TrimBox", p.TrimBox},
		{"ArtBox", p.ArtBox},
	}
	for _, b := range boxes {
		_, own := d.Get(b.name)
		if own || (b.name == "CropBox" && b.box != p.MediaBox) {
			d.Set(b.name, b.box.Transform(m).Array())
		}
	}
}

func setContents(g *graph.Graph, d *raw.DictObj, data []byte) {
	st := raw.NewStream(raw.DictOf("Length", raw.NumberInt(int64(len(data)))), data)
	d.Set("Contents", g.Add(st))
}

// wrap encloses data in q/Q after a cm for m, balancing the nesting of the
// original so nothing it leaves on the state stack leaks out.
func wrap(log observability.Logger, data []byte, m coords.Matrix) []byte {
	var prefix []contentstream.Operation
	if !m.IsIdentity() {
		prefix = append(prefix, contentstream.Op("cm", m.Operands()...))
	}
	return contentstream.Wrap(balance(log, data), prefix...)
}

// balance drops Q operators with no matching q and closes q operators left
// open. Balanced content is returned unchanged.
func balance(log observability.Logger, data []byte) []byte {
	ops, err := contentstream.ParseWith(data, contentstream.ParseConfig{Logger: log})
	if err != nil {
		observability.OrNop(log).Warn("content stream truncated", observability.Error("error", err))
	}
	depth, under := 0, 0
	for _, op := range ops {
		switch op.Operator {
		case "q":
			depth++
		case "Q":
			if depth == 0 {
				under++
				continue
			}
			depth--
		}
	}
	if depth == 0 && under == 0 && err == nil {
		return data
	}
	out := ops[:0]
	depth = 0
	for _, op := range ops {
		switch op.Operator {
		case "q":
			depth++
		case "Q":
			if depth == 0 {
				continue
			}
			depth--
		}
		out = append(out, op)
	}
	for ; depth > 0; depth-- {
		out = append(out, contentstream.Op("Q"))
	}
	return contentstream.Serialize(out)
}
