// Package extractor pulls text, image placements and font usage out of
// the pages of a graph.
package extractor

import (
	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/contentstream"
	"github.com/wudi/pdfcore/coords"
	"github.com/wudi/pdfcore/graph"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/pages"
)

// Mode selects how text runs are turned into a string.
type Mode int

const (
	// ModePlain keeps content stream order with minimal whitespace.
	ModePlain Mode = iota
	// ModeLayout approximates the visual arrangement of the page.
	ModeLayout
)

// Options tunes extraction. Thresholds are fractions of the space width or
// font size and default when zero.
type Options struct {
	Mode Mode
	// SpaceThreshold is the same-line gap, in space widths, above which a
	// space is inserted. Default 0.5.
	SpaceThreshold float64
	// LineTolerance is the baseline difference, in font sizes, still
	// treated as the same line. Default 0.5.
	LineTolerance float64
	// ParagraphGap is the baseline distance, in font sizes, above which
	// layout mode inserts a blank line. Default 1.5.
	ParagraphGap float64

	Logger          observability.Logger
	MaxXObjectDepth int
}

func (o Options) withDefaults() Options {
	if o.SpaceThreshold <= 0 {
		o.SpaceThreshold = 0.5
	}
	if o.LineTolerance <= 0 {
		o.LineTolerance = 0.5
	}
	if o.ParagraphGap <= 0 {
		o.ParagraphGap = 1.5
	}
	return o
}

// Extractor runs the content stream interpreter over pages of one graph.
type Extractor struct {
	g    *graph.Graph
	opts Options
	log  observability.Logger
}

func New(g *graph.Graph, opts Options) *Extractor {
	opts = opts.withDefaults()
	return &Extractor{g: g, opts: opts, log: observability.OrNop(opts.Logger)}
}

// PageText is the text of one page.
type PageText struct {
	Page    int
	Content string
}

// Document extracts the text of every page in order. A page whose content
// cannot be read is logged and reported empty.
func (e *Extractor) Document() ([]PageText, error) {
	list, err := pages.Enumerate(e.g)
	if err != nil && len(list) == 0 {
		return nil, errors.Wrap(err, "extract text")
	}
	out := make([]PageText, 0, len(list))
	for _, p := range list {
		txt, err := e.Page(p)
		if err != nil {
			e.log.Warn("page text skipped", observability.Int("page", p.Index), observability.Error("error", err))
		}
		out = append(out, PageText{Page: p.Index, Content: txt})
	}
	return out, nil
}

// run executes the page's content with the hooks installed by setup.
func (e *Extractor) run(p pages.Page, onGlyph func(contentstream.Glyph), setup func(*contentstream.Interpreter)) error {
	contents, err := p.Contents(e.g)
	if err != nil {
		return err
	}
	in := contentstream.NewInterpreter(e.g, contentstream.Config{
		Logger:          e.opts.Logger,
		MaxXObjectDepth: e.opts.MaxXObjectDepth,
		OnGlyph:         onGlyph,
	})
	if setup != nil {
		setup(in)
	}
	return in.Run(contents, p.Resources, coords.Identity())
}
