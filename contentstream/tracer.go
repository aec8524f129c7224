package contentstream

import (
	"sort"

	"github.com/wudi/pdfcore/coords"
	"github.com/wudi/pdfcore/graph"
	"github.com/wudi/pdfcore/ir/raw"
)

// OpBBox is the user space area marked by one top-level operation.
type OpBBox struct {
	Op   int
	Rect coords.Rect
}

// Tracer computes the bounding boxes of the operations of a content stream.
type Tracer struct {
	g   *graph.Graph
	cfg Config
}

func NewTracer(g *graph.Graph, cfg Config) *Tracer {
	return &Tracer{g: g, cfg: cfg}
}

// Trace executes ops and returns one box per operation that paints or
// constructs something, ordered by operation index. Text contributes glyph
// boxes, paths their transformed points, images the unit square and forms
// their /BBox.
func (t *Tracer) Trace(ops []Operation, resources *raw.DictObj, ctm coords.Matrix) []OpBBox {
	boxes := make(map[int]coords.Rect)
	add := func(op int, r coords.Rect) {
		if cur, ok := boxes[op]; ok {
			r = union(cur, r)
		}
		boxes[op] = r
	}
	cfg := t.cfg
	user := cfg.OnGlyph
	cfg.OnGlyph = func(gl Glyph) {
		add(gl.Op, gl.Box)
		if user != nil {
			user(gl)
		}
	}
	in := NewInterpreter(t.g, cfg)

	var current coords.Point
	points := func(ctx *ExecutionContext, ops []raw.Object, n int, keep bool) error {
		c, ok := components(ops, n)
		if !ok {
			return ErrOperands
		}
		r := pointRect(current)
		for i := 0; i+1 < n; i += 2 {
			p := ctx.State.CTM.Apply(coords.Point{X: c[i], Y: c[i+1]})
			if i == 0 && !keep {
				r = pointRect(p)
			}
			r = union(r, pointRect(p))
			current = p
		}
		add(ctx.Index, r)
		return nil
	}
	in.RegisterHandler("m", HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error { return points(ctx, ops, 2, false) }))
	in.RegisterHandler("l", HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error { return points(ctx, ops, 2, true) }))
	in.RegisterHandler("c", HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error { return points(ctx, ops, 6, true) }))
	in.RegisterHandler("v", HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error { return points(ctx, ops, 4, true) }))
	in.RegisterHandler("y", HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error { return points(ctx, ops, 4, true) }))
	in.RegisterHandler("re", HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error {
		c, ok := components(ops, 4)
		if !ok {
			return ErrOperands
		}
		add(ctx.Index, coords.NewRect(c[0], c[1], c[0]+c[2], c[1]+c[3]).Transform(ctx.State.CTM))
		current = ctx.State.CTM.Apply(coords.Point{X: c[0], Y: c[1]})
		return nil
	}))

	unit := coords.Rect{URX: 1, URY: 1}
	in.RegisterHandler("BI", HandlerFunc(func(ctx *ExecutionContext, _ []raw.Object) error {
		add(ctx.Index, unit.Transform(ctx.State.CTM))
		return nil
	}))
	do, _ := in.Handler("Do")
	in.RegisterHandler("Do", HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error {
		if len(ops) == 1 && ctx.depth == 0 {
			if name, ok := ops[0].(raw.NameObj); ok {
				t.xobjectBox(in, ctx, name.Val, add)
			}
		}
		return do.Handle(ctx, ops)
	}))

	_ = in.Execute(ops, resources, ctm)

	out := make([]OpBBox, 0, len(boxes))
	for op, r := range boxes {
		out = append(out, OpBBox{Op: op, Rect: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Op < out[j].Op })
	return out
}

func (t *Tracer) xobjectBox(in *Interpreter, ctx *ExecutionContext, name string, add func(int, coords.Rect)) {
	obj, ok := in.resource(ctx.Resources, "XObject", name)
	if !ok {
		return
	}
	st, ok := t.g.Stream(obj)
	if !ok {
		return
	}
	box := coords.Rect{URX: 1, URY: 1}
	m := ctx.State.CTM
	if sub, _ := st.Dict.GetName("Subtype"); sub == "Form" {
		b, ok := coords.RectFrom(resolve(t.g, st.Dict.KV["BBox"]))
		if !ok {
			return
		}
		box = b
		if fm, ok := coords.MatrixFrom(resolve(t.g, st.Dict.KV["Matrix"])); ok {
			m = fm.Multiply(m)
		}
	}
	add(ctx.Index, box.Transform(m))
}

func pointRect(p coords.Point) coords.Rect { return coords.Rect{LLX: p.X, LLY: p.Y, URX: p.X, URY: p.Y} }

func union(a, b coords.Rect) coords.Rect {
	return coords.Rect{LLX: min(a.LLX, b.LLX), LLY: min(a.LLY, b.LLY), URX: max(a.URX, b.URX), URY: max(a.URY, b.URY)}
}
