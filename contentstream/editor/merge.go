package editor

import (
	"math"
	"strconv"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/contentstream"
	"github.com/wudi/pdfcore/coords"
	"github.com/wudi/pdfcore/graph"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/pages"
)

// MergeOptions controls MergePage.
type MergeOptions struct {
	// Underlay draws the overlay beneath the base content.
	Underlay bool
	// Fit scales the overlay uniformly so its media box fits inside the
	// base media box, centred.
	Fit bool
	// Transform is applied to the overlay after fitting. The zero matrix
	// means identity.
	Transform coords.Matrix
}

// categories are the resource subdictionaries whose keys content streams
// refer to by name.
var categories = []string{"Font", "XObject", "ExtGState", "ColorSpace", "Pattern", "Shading", "Properties"}

func isCategory(key string) bool {
	for _, c := range categories {
		if c == key {
			return true
		}
	}
	return false
}

// renames maps category, then old resource name, to the name used in the
// merged dictionary.
type renames map[string]map[string]string

func (r renames) add(category, from, to string) {
	if r[category] == nil {
		r[category] = make(map[string]string)
	}
	r[category][from] = to
}

// MergePage draws overlay, a page of src, onto base, a page of g. src may
// be g itself; otherwise everything the overlay needs is imported into g.
// Overlay resources whose names collide with different base resources are
// given fresh names and the overlay content is rewritten to match. Neither
// the overlay page nor any object it reaches is modified, so the same
// overlay can be merged any number of times.
func MergePage(g *graph.Graph, base *pages.Page, src *graph.Graph, overlay pages.Page, opts MergeOptions) error {
	log := g.Logger()
	baseData, err := base.Contents(g)
	if err != nil {
		return errors.Wrap(err, "merge: base content")
	}
	overData, err := overlay.Contents(src)
	if err != nil {
		return errors.Wrap(err, "merge: overlay content")
	}
	overRes := overlay.Resources
	if src != g && overRes != nil {
		imported, err := g.Import(src, overRes)
		if err != nil {
			return errors.Wrap(err, "merge: import overlay resources")
		}
		overRes, _ = imported.(*raw.DictObj)
	}

	res, names := mergeResources(g, base.Resources, overRes)
	if len(names) > 0 {
		overData = rename(log, overData, names)
		log.Debug("overlay resources renamed", observability.Int("page", base.Index), observability.Int("categories", len(names)))
	}

	first := wrap(log, baseData, coords.Identity())
	second := wrap(log, overData, overlayMatrix(base.MediaBox, overlay.MediaBox, opts))
	if opts.Underlay {
		first, second = second, first
	}
	d := base.Dict.Clone()
	d.Set("Resources", res)
	setContents(g, d, append(first, second...))
	if err := pages.Update(g, base, d); err != nil {
		return err
	}
	base.Resources = res
	return nil
}

// mergeResources returns a new resource dictionary holding the base
// entries and the overlay entries, renaming overlay keys that collide with
// a different base value. Neither input is modified.
func mergeResources(g *graph.Graph, base, over *raw.DictObj) (*raw.DictObj, renames) {
	out := raw.Dict()
	if base != nil {
		for k, v := range base.KV {
			out.Set(k, v)
		}
	}
	names := make(renames)
	if over == nil {
		return out, names
	}
	for _, key := range over.Keys() {
		val := over.KV[key]
		if !isCategory(key) {
			if key == "ProcSet" {
				out.Set(key, mergeProcSets(g, out.KV[key], val))
			} else if _, ok := out.Get(key); !ok {
				out.Set(key, val)
			}
			continue
		}
		entries, ok := g.Dict(val)
		if !ok {
			continue
		}
		dst := raw.Dict()
		if cur, ok := g.Dict(out.KV[key]); ok {
			dst = cur.Clone()
		}
		for _, name := range entries.Keys() {
			v := entries.KV[name]
			if cur, ok := dst.Get(name); ok {
				if raw.Equal(cur, v) {
					continue
				}
				fresh := freshName(name, dst, entries)
				names.add(key, name, fresh)
				name = fresh
			}
			dst.Set(name, v)
		}
		out.Set(key, dst)
	}
	return out, names
}

func freshName(name string, taken ...*raw.DictObj) string {
	for i := 1; ; i++ {
		cand := name + "_" + strconv.Itoa(i)
		free := true
		for _, d := range taken {
			if _, ok := d.Get(cand); ok {
				free = false
				break
			}
		}
		if free {
			return cand
		}
	}
}

func mergeProcSets(g *graph.Graph, a, b raw.Object) raw.Object {
	out := raw.NewArray()
	seen := make(map[string]bool)
	for _, obj := range []raw.Object{a, b} {
		arr, ok := g.Array(obj)
		if !ok {
			continue
		}
		for _, it := range arr.Items {
			if n, ok := it.(raw.NameObj); ok && !seen[n.Val] {
				seen[n.Val] = true
				out.Append(n)
			}
		}
	}
	return out
}

// rename rewrites the resource names operators refer to.
func rename(log observability.Logger, data []byte, names renames) []byte {
	ops, err := contentstream.ParseWith(data, contentstream.ParseConfig{Logger: log})
	if err != nil {
		observability.OrNop(log).Warn("overlay content truncated", observability.Error("error", err))
	}
	for i := range ops {
		op := &ops[i]
		switch op.Operator {
		case "Tf":
			names.operand(op.Operands, 0, "Font")
		case "Do":
			names.operand(op.Operands, 0, "XObject")
		case "gs":
			names.operand(op.Operands, 0, "ExtGState")
		case "sh":
			names.operand(op.Operands, 0, "Shading")
		case "cs", "CS":
			names.operand(op.Operands, 0, "ColorSpace")
		case "scn", "SCN":
			names.operand(op.Operands, len(op.Operands)-1, "Pattern")
		case "BDC", "DP":
			names.operand(op.Operands, 1, "Properties")
		case "BI":
			if op.Image == nil {
				continue
			}
			for _, key := range []string{"CS", "ColorSpace"} {
				if n, ok := op.Image.Dict.KV[key].(raw.NameObj); ok {
					if to, ok := names["ColorSpace"][n.Val]; ok {
						op.Image.Dict.Set(key, raw.NameLiteral(to))
					}
				}
			}
		}
	}
	return contentstream.Serialize(ops)
}

func (r renames) operand(operands []raw.Object, i int, category string) {
	if i < 0 || i >= len(operands) {
		return
	}
	n, ok := operands[i].(raw.NameObj)
	if !ok {
		return
	}
	if to, ok := r[category][n.Val]; ok {
		operands[i] = raw.NameLiteral(to)
	}
}

func overlayMatrix(base, over coords.Rect, opts MergeOptions) coords.Matrix {
	m := coords.Identity()
	if opts.Fit && over.Width() > 0 && over.Height() > 0 {
		s := math.Min(base.Width()/over.Width(), base.Height()/over.Height())
		m = coords.Translate(-over.LLX, -over.LLY).
			Multiply(coords.Scale(s, s)).
			Multiply(coords.Translate(base.LLX+(base.Width()-over.Width()*s)/2, base.LLY+(base.Height()-over.Height()*s)/2))
	}
	if opts.Transform != (coords.Matrix{}) {
		m = m.Multiply(opts.Transform)
	}
	return m
}
