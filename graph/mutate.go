package graph

import (
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/xref"
)

// Allocate reserves a fresh object number.
func (g *Graph) Allocate() raw.ObjectRef {
	ref := raw.ObjectRef{Num: g.nextNum}
	g.nextNum++
	return ref
}

// Add stores obj under a fresh number and returns a reference to it.
func (g *Graph) Add(obj raw.Object) raw.RefObj {
	ref := g.Allocate()
	g.objects[ref] = obj
	return raw.RefObj{R: ref}
}

// Replace stores obj under ref, superseding whatever the file held.
func (g *Graph) Replace(ref raw.ObjectRef, obj raw.Object) {
	if old, ok := g.objects[ref].(*raw.StreamObj); ok {
		delete(g.decoded, old)
	}
	g.objects[ref] = obj
	if ref.Num >= g.nextNum {
		g.nextNum = ref.Num + 1
	}
}

// Delete makes ref resolve to Null from now on.
func (g *Graph) Delete(ref raw.ObjectRef) {
	g.Replace(ref, raw.NullObj{})
}

// SetTrailer replaces a trailer entry such as /Root or /Info.
func (g *Graph) SetTrailer(key string, value raw.Object) {
	g.trailer.Set(key, value)
}

// Refs lists every object the graph knows, loaded or not, ordered by number.
// Deleted objects are left out.
func (g *Graph) Refs() []raw.ObjectRef {
	seen := make(map[raw.ObjectRef]bool)
	var out []raw.ObjectRef
	if g.table != nil {
		for _, num := range g.table.Objects() {
			e, _ := g.table.Lookup(num)
			ref := raw.ObjectRef{Num: num}
			if e.Kind == xref.InUse {
				ref.Gen = e.Gen
			}
			seen[ref] = true
			out = append(out, ref)
		}
	}
	for ref := range g.objects {
		if !seen[ref] {
			out = append(out, ref)
		}
	}
	kept := out[:0]
	for _, ref := range out {
		if _, null := g.objects[ref].(raw.NullObj); !null {
			kept = append(kept, ref)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Num != kept[j].Num {
			return kept[i].Num < kept[j].Num
		}
		return kept[i].Gen < kept[j].Gen
	})
	return kept
}

// Reachable walks the objects referenced from roots, breadth first, and
// returns their references in discovery order. Missing objects are skipped.
func (g *Graph) Reachable(roots ...raw.Object) ([]raw.ObjectRef, error) {
	visited := bitset.New(uint(g.nextNum) + 1)
	var order []raw.ObjectRef
	var queue []raw.ObjectRef
	push := func(obj raw.Object) {
		for _, ref := range raw.Refs(obj) {
			if ref.Num <= 0 || visited.Test(uint(ref.Num)) {
				continue
			}
			visited.Set(uint(ref.Num))
			queue = append(queue, ref)
		}
	}
	for _, r := range roots {
		push(r)
	}
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		obj, err := g.Resolve(ref)
		if err != nil {
			return nil, err
		}
		if _, null := obj.(raw.NullObj); null {
			continue
		}
		order = append(order, ref)
		push(obj)
	}
	return order, nil
}

// Import copies obj, which lives in src, into g. Every object it reaches
// in src is copied once under a fresh number of g; the returned object is
// the copy of obj with references rewritten. Callers that import a page
// should remove its /Parent first so the copy does not pull in the whole
// source page tree.
func (g *Graph) Import(src *Graph, obj raw.Object) (raw.Object, error) {
	return g.ImportWith(src, obj, ImportOptions{})
}

// ImportOptions adjusts ImportWith. Remap names source objects that already
// have a counterpart in g: references to them are rewritten, not copied.
// Skip drops entries of source dictionaries from the copy.
type ImportOptions struct {
	Remap map[raw.ObjectRef]raw.ObjectRef
	Skip  func(d *raw.DictObj, key string) bool
}

// ImportWith is Import with options.
func (g *Graph) ImportWith(src *Graph, obj raw.Object, opts ImportOptions) (raw.Object, error) {
	im := importer{dst: g, src: src, skip: opts.Skip, mapped: make(map[raw.ObjectRef]raw.ObjectRef, len(opts.Remap))}
	for from, to := range opts.Remap {
		im.mapped[from] = to
	}
	return im.copy(obj)
}

type importer struct {
	dst, src *Graph
	skip     func(d *raw.DictObj, key string) bool
	mapped   map[raw.ObjectRef]raw.ObjectRef
}

func (im *importer) copy(obj raw.Object) (raw.Object, error) {
	switch o := obj.(type) {
	case raw.RefObj:
		if to, ok := im.mapped[o.R]; ok {
			return raw.RefObj{R: to}, nil
		}
		target, err := im.src.Resolve(o.R)
		if err != nil {
			return nil, err
		}
		if _, null := target.(raw.NullObj); null {
			return raw.NullObj{}, nil
		}
		to := im.dst.Allocate()
		im.mapped[o.R] = to
		cp, err := im.copy(target)
		if err != nil {
			return nil, err
		}
		im.dst.objects[to] = cp
		return raw.RefObj{R: to}, nil
	case *raw.ArrayObj:
		out := &raw.ArrayObj{Items: make([]raw.Object, len(o.Items))}
		for i, it := range o.Items {
			v, err := im.copy(it)
			if err != nil {
				return nil, err
			}
			out.Items[i] = v
		}
		return out, nil
	case *raw.DictObj:
		out := raw.Dict()
		for k, v := range o.KV {
			if im.skip != nil && im.skip(o, k) {
				continue
			}
			cv, err := im.copy(v)
			if err != nil {
				return nil, err
			}
			out.Set(k, cv)
		}
		return out, nil
	case *raw.StreamObj:
		d, err := im.copy(o.Dict)
		if err != nil {
			return nil, err
		}
		data := make([]byte, len(o.Data))
		copy(data, o.Data)
		return &raw.StreamObj{Dict: d.(*raw.DictObj), Data: data}, nil
	}
	return raw.Clone(obj), nil
}
