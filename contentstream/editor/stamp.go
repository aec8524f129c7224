package editor

import (
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/wudi/pdfcore/contentstream"
	"github.com/wudi/pdfcore/coords"
	"github.com/wudi/pdfcore/graph"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/pages"
)

// ErrEmptyStamp reports a stamp without text.
var ErrEmptyStamp = errors.New("stamp text is empty")

// StampOptions describes a text watermark.
type StampOptions struct {
	Text string
	// FontSize defaults to 48.
	FontSize float64
	// Angle turns the text counter-clockwise about the page centre.
	Angle float64
	// Opacity is the fill alpha in (0, 1]. Default 0.3.
	Opacity float64
	// Color is the RGB fill colour, black when zero.
	Color [3]float64
	// Underlay draws the stamp beneath the page content.
	Underlay bool
}

// Stamp draws a line of Helvetica text centred on the crop box of p.
// Characters outside WinAnsiEncoding are replaced.
func Stamp(g *graph.Graph, p *pages.Page, opts StampOptions) error {
	if opts.Text == "" {
		return ErrEmptyStamp
	}
	if opts.FontSize <= 0 {
		opts.FontSize = 48
	}
	if opts.Opacity <= 0 || opts.Opacity > 1 {
		opts.Opacity = 0.3
	}
	text, err := encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder()).Bytes([]byte(opts.Text))
	if err != nil {
		return errors.Wrap(err, "stamp: encode text")
	}

	fontRef := g.Add(raw.DictOf(
		"Type", raw.NameLiteral("Font"),
		"Subtype", raw.NameLiteral("Type1"),
		"BaseFont", raw.NameLiteral("Helvetica"),
		"Encoding", raw.NameLiteral("WinAnsiEncoding"),
	))
	gsRef := g.Add(raw.DictOf(
		"Type", raw.NameLiteral("ExtGState"),
		"ca", raw.Number(opts.Opacity),
		"CA", raw.Number(opts.Opacity),
	))
	font, err := contentstream.LoadFont(g, fontRef)
	if err != nil {
		return errors.Wrap(err, "stamp: font")
	}
	var width float64
	for _, c := range font.Decode(text) {
		width += c.Width * opts.FontSize
	}

	res := raw.Dict()
	if p.Resources != nil {
		res = p.Resources.Clone()
	}
	fontName := addResource(g, res, "Font", "Stamp", fontRef)
	gsName := addResource(g, res, "ExtGState", "Stamp", gsRef)

	box := p.CropBox
	cx, cy := box.LLX+box.Width()/2, box.LLY+box.Height()/2
	tm := coords.Translate(-width/2, -opts.FontSize*0.35).
		Multiply(coords.Rotate(opts.Angle)).
		Multiply(coords.Translate(cx, cy))
	stamp := contentstream.Serialize([]contentstream.Operation{
		contentstream.Op("q"),
		contentstream.Op("gs", raw.NameLiteral(gsName)),
		contentstream.Op("rg", raw.Number(opts.Color[0]), raw.Number(opts.Color[1]), raw.Number(opts.Color[2])),
		contentstream.Op("BT"),
		contentstream.Op("Tf", raw.NameLiteral(fontName), raw.Number(opts.FontSize)),
		contentstream.Op("Tm", tm.Operands()...),
		contentstream.Op("Tj", raw.Str(text)),
		contentstream.Op("ET"),
		contentstream.Op("Q"),
	})

	data, err := p.Contents(g)
	if err != nil {
		return err
	}
	content := wrap(g.Logger(), data, coords.Identity())
	if opts.Underlay {
		content = append(stamp, content...)
	} else {
		content = append(content, stamp...)
	}
	d := p.Dict.Clone()
	d.Set("Resources", res)
	setContents(g, d, content)
	if err := pages.Update(g, p, d); err != nil {
		return err
	}
	p.Resources = res
	return nil
}

// addResource stores val in a copy of the category dictionary of res under
// the first free name prefix1, prefix2, ... and returns that name.
func addResource(g *graph.Graph, res *raw.DictObj, category, prefix string, val raw.Object) string {
	cat := raw.Dict()
	if cur, ok := g.Dict(res.KV[category]); ok {
		cat = cur.Clone()
	}
	var name string
	for i := 1; ; i++ {
		name = prefix + strconv.Itoa(i)
		if _, taken := cat.Get(name); !taken {
			break
		}
	}
	cat.Set(name, val)
	res.Set(category, cat)
	return name
}
