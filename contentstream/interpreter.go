package contentstream

import (
	"math"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/coords"
	"github.com/wudi/pdfcore/graph"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
)

// ErrOperands reports an operator with missing or mistyped operands.
var ErrOperands = errors.New("bad operands")

// OperatorHandler executes one operator against the execution context.
type OperatorHandler interface {
	Handle(ctx *ExecutionContext, operands []raw.Object) error
}

// HandlerFunc adapts a function to OperatorHandler.
type HandlerFunc func(ctx *ExecutionContext, operands []raw.Object) error

func (f HandlerFunc) Handle(ctx *ExecutionContext, operands []raw.Object) error {
	return f(ctx, operands)
}

// Glyph is one shown character with its rendered position.
type Glyph struct {
	Text     string
	Code     uint32
	Font     *Font
	FontName string
	// Trm is the text rendering matrix for the glyph.
	Trm coords.Matrix
	// X, Y is the glyph origin in user space.
	X, Y float64
	// Size is the rendered font size and Width the advance, both in user
	// space units.
	Size       float64
	Width      float64
	SpaceWidth float64
	Box        coords.Rect
	Render     TextRenderMode
	// Op is the index of the top-level operation that produced the glyph.
	Op int
}

// ExecutionContext is the interpreter state handed to handlers.
type ExecutionContext struct {
	State     *GraphicsState
	Text      *TextState
	Resources *raw.DictObj
	// Op is the operation being executed and Index its position in the
	// top-level stream. Operations inside form XObjects report the index of
	// the Do that invoked them.
	Op    Operation
	Index int

	interp *Interpreter
	stack  *stateStack
	depth  int
	forms  map[*raw.StreamObj]bool
}

// Depth is the number of unmatched q operators.
func (ctx *ExecutionContext) Depth() int { return ctx.stack.depth() }

// XObjectDepth is the form XObject nesting level, 0 for page content.
func (ctx *ExecutionContext) XObjectDepth() int { return ctx.depth }

// Config tunes an Interpreter.
type Config struct {
	Logger observability.Logger
	// MaxXObjectDepth bounds form XObject nesting. Default 20.
	MaxXObjectDepth int
	// MaxDepth bounds operand nesting while parsing.
	MaxDepth int
	OnGlyph  func(Glyph)
}

// Interpreter executes content streams, tracking the graphics state.
type Interpreter struct {
	g        *graph.Graph
	cfg      Config
	log      observability.Logger
	handlers map[string]OperatorHandler
	fonts    map[*raw.DictObj]*Font
}

// passive operators change nothing the interpreter tracks.
var passive = map[string]bool{
	"m": true, "l": true, "c": true, "v": true, "y": true, "h": true, "re": true,
	"S": true, "s": true, "f": true, "F": true, "f*": true, "B": true, "B*": true,
	"b": true, "b*": true, "n": true, "W": true, "W*": true,
	"J": true, "j": true, "M": true, "d": true, "ri": true, "i": true, "gs": true,
	"sh": true, "BMC": true, "BDC": true, "EMC": true, "MP": true, "DP": true,
	"BX": true, "EX": true, "d0": true, "d1": true,
}

func NewInterpreter(g *graph.Graph, cfg Config) *Interpreter {
	if cfg.MaxXObjectDepth <= 0 {
		cfg.MaxXObjectDepth = 20
	}
	in := &Interpreter{
		g:        g,
		cfg:      cfg,
		log:      observability.OrNop(cfg.Logger),
		handlers: make(map[string]OperatorHandler),
		fonts:    make(map[*raw.DictObj]*Font),
	}
	in.registerDefaults()
	return in
}

// RegisterHandler installs h for op, replacing any existing handler.
func (in *Interpreter) RegisterHandler(op string, h OperatorHandler) { in.handlers[op] = h }

// Handler returns the handler registered for op.
func (in *Interpreter) Handler(op string) (OperatorHandler, bool) {
	h, ok := in.handlers[op]
	return h, ok
}

// Run parses contents and executes it with the given resources, starting
// from ctm.
func (in *Interpreter) Run(contents []byte, resources *raw.DictObj, ctm coords.Matrix) error {
	ops, err := ParseWith(contents, ParseConfig{Logger: in.cfg.Logger, MaxDepth: in.cfg.MaxDepth})
	if err != nil {
		in.log.Warn("content stream truncated", observability.Error("error", err))
	}
	return in.Execute(ops, resources, ctm)
}

// Execute runs already parsed operations. Handler failures are logged and
// the operation is skipped.
func (in *Interpreter) Execute(ops []Operation, resources *raw.DictObj, ctm coords.Matrix) error {
	ctx := &ExecutionContext{
		Text:      &TextState{Matrix: coords.Identity(), LineMatrix: coords.Identity()},
		Resources: resources,
		interp:    in,
		stack:     &stateStack{cur: newGraphicsState(ctm)},
		forms:     make(map[*raw.StreamObj]bool),
	}
	ctx.State = &ctx.stack.cur
	for i, op := range ops {
		ctx.Index = i
		in.exec(ctx, op)
	}
	if d := ctx.stack.depth(); d > 0 {
		in.log.Debug("unbalanced q at end of stream", observability.Int("depth", d))
	}
	return nil
}

func (in *Interpreter) exec(ctx *ExecutionContext, op Operation) {
	h, ok := in.handlers[op.Operator]
	if !ok {
		if !passive[op.Operator] {
			in.log.Debug("unknown operator", observability.String("op", op.Operator))
		}
		return
	}
	ctx.Op = op
	if err := h.Handle(ctx, op.Operands); err != nil {
		in.log.Warn("operator skipped", observability.String("op", op.Operator), observability.Int("index", ctx.Index), observability.Error("error", err))
	}
}

func (in *Interpreter) registerDefaults() {
	in.RegisterHandler("q", HandlerFunc(func(ctx *ExecutionContext, _ []raw.Object) error {
		ctx.stack.push()
		return nil
	}))
	in.RegisterHandler("Q", HandlerFunc(func(ctx *ExecutionContext, _ []raw.Object) error {
		return ctx.stack.pop()
	}))
	in.RegisterHandler("cm", HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error {
		m, err := matrixOperands(ops)
		if err != nil {
			return err
		}
		ctx.State.CTM = m.Multiply(ctx.State.CTM)
		return nil
	}))
	in.RegisterHandler("w", numberSetter(func(gs *GraphicsState, v float64) { gs.LineWidth = v }))

	in.RegisterHandler("BT", HandlerFunc(func(ctx *ExecutionContext, _ []raw.Object) error {
		*ctx.Text = TextState{Matrix: coords.Identity(), LineMatrix: coords.Identity(), InText: true}
		return nil
	}))
	in.RegisterHandler("ET", HandlerFunc(func(ctx *ExecutionContext, _ []raw.Object) error {
		ctx.Text.InText = false
		return nil
	}))
	in.RegisterHandler("Tf", HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error {
		if len(ops) < 2 {
			return ErrOperands
		}
		name, ok := ops[0].(raw.NameObj)
		size, ok2 := number(ops[1])
		if !ok || !ok2 {
			return ErrOperands
		}
		ctx.State.FontName = name.Val
		ctx.State.FontSize = size
		ctx.State.Font = in.font(ctx.Resources, name.Val)
		return nil
	}))
	in.RegisterHandler("Tc", numberSetter(func(gs *GraphicsState, v float64) { gs.CharSpace = v }))
	in.RegisterHandler("Tw", numberSetter(func(gs *GraphicsState, v float64) { gs.WordSpace = v }))
	in.RegisterHandler("Tz", numberSetter(func(gs *GraphicsState, v float64) { gs.HScale = v / 100 }))
	in.RegisterHandler("TL", numberSetter(func(gs *GraphicsState, v float64) { gs.Leading = v }))
	in.RegisterHandler("Ts", numberSetter(func(gs *GraphicsState, v float64) { gs.Rise = v }))
	in.RegisterHandler("Tr", numberSetter(func(gs *GraphicsState, v float64) { gs.Render = TextRenderMode(v) }))

	in.RegisterHandler("Td", HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error {
		tx, ty, err := pair(ops)
		if err != nil {
			return err
		}
		ctx.moveLine(tx, ty)
		return nil
	}))
	in.RegisterHandler("TD", HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error {
		tx, ty, err := pair(ops)
		if err != nil {
			return err
		}
		ctx.State.Leading = -ty
		ctx.moveLine(tx, ty)
		return nil
	}))
	in.RegisterHandler("Tm", HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error {
		m, err := matrixOperands(ops)
		if err != nil {
			return err
		}
		ctx.Text.Matrix, ctx.Text.LineMatrix = m, m
		return nil
	}))
	in.RegisterHandler("T*", HandlerFunc(func(ctx *ExecutionContext, _ []raw.Object) error {
		ctx.moveLine(0, -ctx.State.Leading)
		return nil
	}))

	in.RegisterHandler("Tj", HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error {
		s, ok := stringOperand(ops, 0)
		if !ok {
			return ErrOperands
		}
		ctx.show(s)
		return nil
	}))
	in.RegisterHandler("'", HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error {
		s, ok := stringOperand(ops, 0)
		if !ok {
			return ErrOperands
		}
		ctx.moveLine(0, -ctx.State.Leading)
		ctx.show(s)
		return nil
	}))
	in.RegisterHandler(`"`, HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error {
		if len(ops) < 3 {
			return ErrOperands
		}
		aw, ok1 := number(ops[0])
		ac, ok2 := number(ops[1])
		s, ok3 := stringOperand(ops, 2)
		if !ok1 || !ok2 || !ok3 {
			return ErrOperands
		}
		ctx.State.WordSpace, ctx.State.CharSpace = aw, ac
		ctx.moveLine(0, -ctx.State.Leading)
		ctx.show(s)
		return nil
	}))
	in.RegisterHandler("TJ", HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error {
		if len(ops) < 1 {
			return ErrOperands
		}
		arr, ok := ops[0].(*raw.ArrayObj)
		if !ok {
			return ErrOperands
		}
		for _, it := range arr.Items {
			switch v := it.(type) {
			case raw.StringObj:
				ctx.show(v.Bytes)
			case raw.NumberObj:
				ctx.advance(-v.Float() / 1000 * ctx.State.FontSize * ctx.State.HScale)
			}
		}
		return nil
	}))

	in.registerColor()

	in.RegisterHandler("Do", HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error {
		if len(ops) < 1 {
			return ErrOperands
		}
		name, ok := ops[0].(raw.NameObj)
		if !ok {
			return ErrOperands
		}
		return in.doXObject(ctx, name.Val)
	}))
	in.RegisterHandler("BI", HandlerFunc(func(ctx *ExecutionContext, _ []raw.Object) error {
		if ctx.Op.Image == nil {
			return ErrOperands
		}
		return nil
	}))
}

func (in *Interpreter) registerColor() {
	gray := func(stroke bool) OperatorHandler {
		return colorSetter(stroke, func(ops []raw.Object) (Color, bool) {
			c, ok := components(ops, 1)
			return Color{Space: "DeviceGray", Components: c}, ok
		})
	}
	rgb := func(stroke bool) OperatorHandler {
		return colorSetter(stroke, func(ops []raw.Object) (Color, bool) {
			c, ok := components(ops, 3)
			return Color{Space: "DeviceRGB", Components: c}, ok
		})
	}
	cmyk := func(stroke bool) OperatorHandler {
		return colorSetter(stroke, func(ops []raw.Object) (Color, bool) {
			c, ok := components(ops, 4)
			return Color{Space: "DeviceCMYK", Components: c}, ok
		})
	}
	in.RegisterHandler("g", gray(false))
	in.RegisterHandler("G", gray(true))
	in.RegisterHandler("rg", rgb(false))
	in.RegisterHandler("RG", rgb(true))
	in.RegisterHandler("k", cmyk(false))
	in.RegisterHandler("K", cmyk(true))

	space := func(stroke bool) OperatorHandler {
		return HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error {
			if len(ops) < 1 {
				return ErrOperands
			}
			name, ok := ops[0].(raw.NameObj)
			if !ok {
				return ErrOperands
			}
			c := Color{Space: name.Val, Components: initialComponents(name.Val)}
			if stroke {
				ctx.State.Stroke = c
			} else {
				ctx.State.Fill = c
			}
			return nil
		})
	}
	in.RegisterHandler("cs", space(false))
	in.RegisterHandler("CS", space(true))

	set := func(stroke bool) OperatorHandler {
		return HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error {
			target := &ctx.State.Fill
			if stroke {
				target = &ctx.State.Stroke
			}
			c := Color{Space: target.Space}
			for _, o := range ops {
				switch v := o.(type) {
				case raw.NumberObj:
					c.Components = append(c.Components, v.Float())
				case raw.NameObj:
					c.Pattern = v.Val
				default:
					return ErrOperands
				}
			}
			*target = c
			return nil
		})
	}
	in.RegisterHandler("sc", set(false))
	in.RegisterHandler("scn", set(false))
	in.RegisterHandler("SC", set(true))
	in.RegisterHandler("SCN", set(true))
}

func initialComponents(space string) []float64 {
	switch space {
	case "DeviceRGB", "CalRGB", "Lab":
		return []float64{0, 0, 0}
	case "DeviceCMYK":
		return []float64{0, 0, 0, 1}
	case "Pattern":
		return nil
	}
	return []float64{0}
}

func colorSetter(stroke bool, parse func([]raw.Object) (Color, bool)) OperatorHandler {
	return HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error {
		c, ok := parse(ops)
		if !ok {
			return ErrOperands
		}
		if stroke {
			ctx.State.Stroke = c
		} else {
			ctx.State.Fill = c
		}
		return nil
	})
}

func numberSetter(set func(gs *GraphicsState, v float64)) OperatorHandler {
	return HandlerFunc(func(ctx *ExecutionContext, ops []raw.Object) error {
		if len(ops) < 1 {
			return ErrOperands
		}
		v, ok := number(ops[len(ops)-1])
		if !ok {
			return ErrOperands
		}
		set(ctx.State, v)
		return nil
	})
}

func (ctx *ExecutionContext) moveLine(tx, ty float64) {
	ctx.Text.LineMatrix = coords.Translate(tx, ty).Multiply(ctx.Text.LineMatrix)
	ctx.Text.Matrix = ctx.Text.LineMatrix
}

func (ctx *ExecutionContext) advance(tx float64) {
	ctx.Text.Matrix = coords.Translate(tx, 0).Multiply(ctx.Text.Matrix)
}

// show renders s glyph by glyph, emitting each one and advancing the text
// matrix.
func (ctx *ExecutionContext) show(s []byte) {
	gs := ctx.State
	if !ctx.Text.InText {
		ctx.interp.log.Debug("text shown outside BT/ET", observability.Int("index", ctx.Index))
	}
	onGlyph := ctx.interp.cfg.OnGlyph
	size := gs.FontSize
	space := gs.Font.SpaceWidth()
	for _, c := range gs.Font.Decode(s) {
		if onGlyph != nil {
			trm := coords.Matrix{size * gs.HScale, 0, 0, size, 0, gs.Rise}.Multiply(ctx.Text.Matrix).Multiply(gs.CTM)
			origin := trm.Apply(coords.Point{})
			end := trm.Apply(coords.Point{X: c.Width})
			scale := math.Hypot(trm[2], trm[3])
			onGlyph(Glyph{
				Text:       c.Text,
				Code:       c.Code,
				Font:       gs.Font,
				FontName:   gs.FontName,
				Trm:        trm,
				X:          origin.X,
				Y:          origin.Y,
				Size:       scale,
				Width:      math.Hypot(end.X-origin.X, end.Y-origin.Y),
				SpaceWidth: space * scale,
				Box:        coords.NewRect(0, -0.2, c.Width, 0.8).Transform(trm),
				Render:     gs.Render,
				Op:         ctx.Index,
			})
		}
		tx := c.Width*size + gs.CharSpace
		if c.N == 1 && c.Code == ' ' {
			tx += gs.WordSpace
		}
		ctx.advance(tx * gs.HScale)
	}
}

// font returns the cached Font for a /Font resource, or nil.
func (in *Interpreter) font(resources *raw.DictObj, name string) *Font {
	obj, ok := in.resource(resources, "Font", name)
	if !ok {
		in.log.Warn("font not in resources", observability.String("font", name))
		return nil
	}
	d, ok := in.g.Dict(obj)
	if !ok {
		return nil
	}
	if f, ok := in.fonts[d]; ok {
		return f
	}
	f, err := LoadFont(in.g, d)
	if err != nil {
		in.log.Warn("font load failed", observability.String("font", name), observability.Error("error", err))
	}
	in.fonts[d] = f
	return f
}

func (in *Interpreter) resource(resources *raw.DictObj, category, name string) (raw.Object, bool) {
	if resources == nil {
		return nil, false
	}
	cat, ok := in.g.Dict(resources.KV[category])
	if !ok {
		return nil, false
	}
	obj, ok := cat.Get(name)
	return obj, ok
}

// doXObject runs a form XObject with its own resources and matrix inside
// an implicit q/Q. Images leave the state untouched.
func (in *Interpreter) doXObject(ctx *ExecutionContext, name string) error {
	obj, ok := in.resource(ctx.Resources, "XObject", name)
	if !ok {
		return errors.Errorf("xobject %s not in resources", name)
	}
	st, ok := in.g.Stream(obj)
	if !ok {
		return errors.Errorf("xobject %s is not a stream", name)
	}
	if sub, _ := st.Dict.GetName("Subtype"); sub != "Form" {
		return nil
	}
	if ctx.depth >= in.cfg.MaxXObjectDepth || ctx.forms[st] {
		return errors.Errorf("form xobject %s nested too deeply", name)
	}
	data, err := in.g.StreamData(st)
	if err != nil {
		return errors.Wrapf(err, "form xobject %s", name)
	}
	ops, err := ParseWith(data, ParseConfig{Logger: in.cfg.Logger, MaxDepth: in.cfg.MaxDepth})
	if err != nil {
		in.log.Warn("form content truncated", observability.String("xobject", name), observability.Error("error", err))
	}

	res := ctx.Resources
	if r, ok := in.g.Dict(st.Dict.KV["Resources"]); ok {
		res = r
	}
	saved := *ctx.Text
	savedRes := ctx.Resources
	savedOp := ctx.Op
	base := ctx.stack.depth()
	ctx.stack.push()
	if m, ok := coords.MatrixFrom(resolve(in.g, st.Dict.KV["Matrix"])); ok {
		ctx.State.CTM = m.Multiply(ctx.State.CTM)
	}
	ctx.Resources = res
	ctx.depth++
	ctx.forms[st] = true
	for _, op := range ops {
		in.exec(ctx, op)
	}
	delete(ctx.forms, st)
	ctx.depth--
	for ctx.stack.depth() > base {
		_ = ctx.stack.pop()
	}
	ctx.Resources = savedRes
	ctx.Op = savedOp
	*ctx.Text = saved
	return nil
}

func number(o raw.Object) (float64, bool) {
	n, ok := o.(raw.NumberObj)
	return n.Float(), ok
}

func pair(ops []raw.Object) (float64, float64, error) {
	if len(ops) < 2 {
		return 0, 0, ErrOperands
	}
	a, ok1 := number(ops[len(ops)-2])
	b, ok2 := number(ops[len(ops)-1])
	if !ok1 || !ok2 {
		return 0, 0, ErrOperands
	}
	return a, b, nil
}

func components(ops []raw.Object, n int) ([]float64, bool) {
	if len(ops) < n {
		return nil, false
	}
	out := make([]float64, n)
	for i, o := range ops[len(ops)-n:] {
		v, ok := number(o)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func matrixOperands(ops []raw.Object) (coords.Matrix, error) {
	c, ok := components(ops, 6)
	if !ok {
		return coords.Matrix{}, ErrOperands
	}
	return coords.Matrix{c[0], c[1], c[2], c[3], c[4], c[5]}, nil
}

func stringOperand(ops []raw.Object, i int) ([]byte, bool) {
	if i >= len(ops) {
		return nil, false
	}
	s, ok := ops[i].(raw.StringObj)
	return s.Bytes, ok
}
