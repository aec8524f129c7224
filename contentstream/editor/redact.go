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

// RedactOptions controls RemoveRect.
type RedactOptions struct {
	// Fill paints the area black once the content under it is gone.
	Fill   bool
	Logger observability.Logger
}

var (
	pathConstruction = map[string]bool{"m": true, "l": true, "c": true, "v": true, "y": true, "h": true, "re": true}
	pathPainting     = map[string]bool{
		"S": true, "s": true, "f": true, "F": true, "f*": true,
		"B": true, "B*": true, "b": true, "b*": true, "n": true,
	}
	textShowing = []string{"Tj", "TJ", "'", `"`}
)

// RemoveRect deletes the page content marking r: text showing operators,
// images, form XObjects and painted paths that touch the area. Removed
// text is replaced by an equal horizontal displacement so the text after
// it keeps its place. Clipping paths are kept. It returns the number of
// operations removed.
func RemoveRect(g *graph.Graph, p *pages.Page, r coords.Rect, opts RedactOptions) (int, error) {
	log := observability.OrNop(opts.Logger)
	data, err := p.Contents(g)
	if err != nil {
		return 0, errors.Wrap(err, "redact")
	}
	ops, err := contentstream.ParseWith(data, contentstream.ParseConfig{Logger: log})
	if err != nil {
		log.Warn("content stream truncated", observability.Int("page", p.Index), observability.Error("error", err))
	}

	hit := make(map[int]bool)
	for _, i := range NewSpatialIndex(g, ops, p.Resources, p.MediaBox, log).Query(r) {
		hit[i] = true
	}
	shifts := textShifts(g, ops, p.Resources, hit, log)
	drop := paintedPaths(ops, hit)

	removed := 0
	out := make([]contentstream.Operation, 0, len(ops))
	for i, op := range ops {
		if drop[i] {
			if pathPainting[op.Operator] {
				removed++
			}
			continue
		}
		if repl, ok := shifts[i]; ok {
			out = append(out, repl...)
			removed++
			continue
		}
		if hit[i] && (op.Operator == "Do" || op.Operator == "BI") {
			removed++
			continue
		}
		out = append(out, op)
	}
	if removed == 0 && !opts.Fill {
		return 0, nil
	}

	content := wrap(log, contentstream.Serialize(out), coords.Identity())
	if opts.Fill {
		content = append(content, contentstream.Serialize([]contentstream.Operation{
			contentstream.Op("q"),
			contentstream.Op("g", raw.NumberInt(0)),
			contentstream.Op("re", raw.Number(r.LLX), raw.Number(r.LLY), raw.Number(r.Width()), raw.Number(r.Height())),
			contentstream.Op("f"),
			contentstream.Op("Q"),
		})...)
	}
	d := p.Dict.Clone()
	setContents(g, d, content)
	if err := pages.Update(g, p, d); err != nil {
		return 0, err
	}
	log.Debug("content redacted", observability.Int("page", p.Index), observability.Int("removed", removed))
	return removed, nil
}

// paintedPaths marks every operation of a painted, non-clipping path that
// has at least one hit construction operator.
func paintedPaths(ops []contentstream.Operation, hit map[int]bool) map[int]bool {
	drop := make(map[int]bool)
	start := -1
	var touched, clip bool
	for i, op := range ops {
		switch {
		case pathConstruction[op.Operator]:
			if start < 0 {
				start, touched, clip = i, false, false
			}
			touched = touched || hit[i]
		case op.Operator == "W" || op.Operator == "W*":
			clip = true
		case pathPainting[op.Operator]:
			if start >= 0 && touched && !clip && op.Operator != "n" {
				for j := start; j <= i; j++ {
					drop[j] = true
				}
			}
			start = -1
		}
	}
	return drop
}

// textShifts runs the page and, for each hit text showing operator of the
// page content, builds the operations that move the text position as far
// as the original did without painting.
func textShifts(g *graph.Graph, ops []contentstream.Operation, resources *raw.DictObj, hit map[int]bool, log observability.Logger) map[int][]contentstream.Operation {
	out := make(map[int][]contentstream.Operation)
	in := contentstream.NewInterpreter(g, contentstream.Config{Logger: log})
	for _, name := range textShowing {
		show, _ := in.Handler(name)
		in.RegisterHandler(name, contentstream.HandlerFunc(func(ctx *contentstream.ExecutionContext, operands []raw.Object) error {
			if !hit[ctx.Index] || ctx.XObjectDepth() > 0 {
				return show.Handle(ctx, operands)
			}
			before := ctx.Text.Matrix
			if err := show.Handle(ctx, operands); err != nil {
				return err
			}
			var repl []contentstream.Operation
			start := before
			switch name {
			case `"`:
				if len(operands) >= 3 {
					repl = append(repl, contentstream.Op("Tw", operands[0]), contentstream.Op("Tc", operands[1]))
				}
				fallthrough
			case "'":
				repl = append(repl, contentstream.Op("T*"))
				start = ctx.Text.LineMatrix
			}
			var n float64
			if inv, err := start.Inverse(); err == nil {
				tx := inv.Apply(ctx.Text.Matrix.Apply(coords.Point{})).X
				if scale := ctx.State.FontSize * ctx.State.HScale; scale != 0 {
					n = math.Round(-1e6*tx/scale) / 1e3
				}
			}
			out[ctx.Index] = append(repl, contentstream.Op("TJ", raw.NewArray(raw.Number(n))))
			return nil
		}))
	}
	_ = in.Execute(ops, resources, coords.Identity())
	return out
}
