// Package pages walks the page tree of a graph and resolves the attributes
// pages inherit from their ancestors.
package pages

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/coords"
	"github.com/wudi/pdfcore/graph"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
)

var (
	// ErrCyclicPageTree reports a page tree node reachable from itself.
	ErrCyclicPageTree = errors.New("cyclic page tree")
	ErrPageRange      = errors.New("page index out of range")
	ErrBadRotation    = errors.New("rotation must be a multiple of 90")
)

// Letter is the media box assumed when no node in the chain declares one.
var Letter = coords.Rect{LLX: 0, LLY: 0, URX: 612, URY: 792}

// Page is a snapshot of one leaf of the page tree with its inherited
// attributes resolved. It is recomputed by every Enumerate call.
type Page struct {
	Index int
	Ref   raw.ObjectRef
	Dict  *raw.DictObj

	Resources *raw.DictObj
	MediaBox  coords.Rect
	CropBox   coords.Rect
	BleedBox  coords.Rect
	TrimBox   coords.Rect
	ArtBox    coords.Rect
	// Rotate is the effective /Rotate normalized to [0, 360).
	Rotate int
}

// node is one arena slot. parent is -1 for the root.
type node struct {
	ref    raw.ObjectRef
	dict   *raw.DictObj
	parent int
}

type arena []node

// inherited looks key up on node i and then on each ancestor.
func (a arena) inherited(i int, key string) (raw.Object, bool) {
	for ; i >= 0; i = a[i].parent {
		if v, ok := a[i].dict.Get(key); ok {
			if _, null := v.(raw.NullObj); !null {
				return v, true
			}
		}
	}
	return nil, false
}

type kind int

const (
	kindOther kind = iota
	kindPage
	kindTree
)

// kindOf classifies a page tree node. An untyped node is a page unless it
// has /Kids; any other /Type is not part of the tree.
func kindOf(g *graph.Graph, d *raw.DictObj) (kind, *raw.ArrayObj) {
	kids, hasKids := g.Array(d.KV["Kids"])
	typ, typed := d.GetName("Type")
	switch {
	case typ == "Page":
		return kindPage, nil
	case typ == "Pages":
		return kindTree, kids
	case typed:
		return kindOther, nil
	case hasKids:
		return kindTree, kids
	}
	return kindPage, nil
}

func root(g *graph.Graph) (raw.Object, error) {
	cat, err := g.Catalog()
	if err != nil {
		return nil, err
	}
	pages, ok := cat.Get("Pages")
	if !ok {
		return nil, errors.Wrap(graph.ErrMissingObject, "catalog has no /Pages")
	}
	return pages, nil
}

// Enumerate lists every page in document order. When the tree contains a
// cycle the offending branch is skipped and the pages found are returned
// together with an error wrapping ErrCyclicPageTree.
func Enumerate(g *graph.Graph) ([]Page, error) {
	top, err := root(g)
	if err != nil {
		return nil, err
	}
	type frame struct {
		obj    raw.Object
		parent int
	}
	var (
		nodes   arena
		out     []Page
		cyclic  error
		visited = make(map[raw.ObjectRef]bool)
		stack   = []frame{{top, -1}}
	)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var ref raw.ObjectRef
		if r, ok := f.obj.(raw.RefObj); ok {
			ref = r.R
			if visited[ref] {
				cyclic = errors.Wrapf(ErrCyclicPageTree, "node %s visited twice", ref)
				g.Logger().Warn("page tree cycle", observability.String("ref", ref.String()))
				continue
			}
			visited[ref] = true
		}
		dict, ok := g.Dict(f.obj)
		if !ok {
			g.Logger().Warn("page tree node is not a dictionary", observability.String("ref", ref.String()))
			continue
		}
		nodes = append(nodes, node{ref: ref, dict: dict, parent: f.parent})
		idx := len(nodes) - 1

		k, kids := kindOf(g, dict)
		switch k {
		case kindPage:
			out = append(out, nodes.page(g, idx, len(out)))
			continue
		case kindOther:
			typ, _ := dict.GetName("Type")
			g.Logger().Warn("page tree node skipped", observability.String("ref", ref.String()), observability.String("type", typ))
			continue
		}
		if kids == nil {
			continue
		}
		for i := kids.Len() - 1; i >= 0; i-- {
			stack = append(stack, frame{kids.Items[i], idx})
		}
	}
	return out, cyclic
}

func (a arena) page(g *graph.Graph, i, index int) Page {
	p := Page{Index: index, Ref: a[i].ref, Dict: a[i].dict, MediaBox: Letter}
	if v, ok := a.inherited(i, "Resources"); ok {
		p.Resources, _ = g.Dict(v)
	}
	if p.Resources == nil {
		p.Resources = raw.Dict()
	}
	if v, ok := a.inherited(i, "MediaBox"); ok {
		if r, ok := rectOf(g, v); ok {
			p.MediaBox = r
		}
	}
	p.CropBox = p.MediaBox
	if v, ok := a.inherited(i, "CropBox"); ok {
		if r, ok := rectOf(g, v); ok {
			p.CropBox = r.Intersect(p.MediaBox)
			if p.CropBox.IsZero() {
				p.CropBox = p.MediaBox
			}
		}
	}
	p.BleedBox, p.TrimBox, p.ArtBox = p.CropBox, p.CropBox, p.CropBox
	for key, box := range map[string]*coords.Rect{"BleedBox": &p.BleedBox, "TrimBox": &p.TrimBox, "ArtBox": &p.ArtBox} {
		if r, ok := rectOf(g, a[i].dict.KV[key]); ok {
			*box = r
		}
	}
	if v, ok := a.inherited(i, "Rotate"); ok {
		if n, ok := g.Number(v); ok {
			p.Rotate = normalize(int(n))
		}
	}
	return p
}

func rectOf(g *graph.Graph, obj raw.Object) (coords.Rect, bool) {
	if obj == nil {
		return coords.Rect{}, false
	}
	arr, ok := g.Array(obj)
	if !ok {
		return coords.Rect{}, false
	}
	return coords.RectFrom(arr)
}

func normalize(deg int) int { return ((deg % 360) + 360) % 360 }

// Count returns the number of pages declared by the root /Count, falling
// back to a full walk when the entry is missing.
func Count(g *graph.Graph) (int, error) {
	top, err := root(g)
	if err != nil {
		return 0, err
	}
	if d, ok := g.Dict(top); ok {
		if n, ok := g.Number(d.KV["Count"]); ok && n >= 0 {
			return int(n), nil
		}
	}
	all, err := Enumerate(g)
	return len(all), err
}

// Get returns page index (zero-based), loading only the branch that holds
// it. Subtrees are skipped by their /Count.
func Get(g *graph.Graph, index int) (Page, error) {
	if index < 0 {
		return Page{}, errors.Wrapf(ErrPageRange, "%d", index)
	}
	top, err := root(g)
	if err != nil {
		return Page{}, err
	}
	var nodes arena
	visited := make(map[raw.ObjectRef]bool)
	remaining := index
	cur, parent := top, -1
	for {
		if r, ok := cur.(raw.RefObj); ok {
			if visited[r.R] {
				return slowGet(g, index)
			}
			visited[r.R] = true
		}
		dict, ok := g.Dict(cur)
		if !ok {
			return Page{}, errors.Wrapf(ErrPageRange, "%d", index)
		}
		ref, _ := cur.(raw.RefObj)
		nodes = append(nodes, node{ref: ref.R, dict: dict, parent: parent})
		parent = len(nodes) - 1

		k, kids := kindOf(g, dict)
		switch k {
		case kindPage:
			if remaining == 0 {
				return nodes.page(g, parent, index), nil
			}
			return Page{}, errors.Wrapf(ErrPageRange, "%d", index)
		case kindOther:
			return Page{}, errors.Wrapf(ErrPageRange, "%d", index)
		}
		next, ok := descend(g, kids, &remaining)
		if !ok {
			return slowGet(g, index)
		}
		if next == nil {
			return Page{}, errors.Wrapf(ErrPageRange, "%d", index)
		}
		cur = next
	}
}

// descend picks the kid holding page *remaining and subtracts the pages of
// the kids skipped. It reports false when a kid has no usable /Count.
func descend(g *graph.Graph, kids *raw.ArrayObj, remaining *int) (raw.Object, bool) {
	if kids == nil {
		return nil, true
	}
	for _, kid := range kids.Items {
		d, ok := g.Dict(kid)
		if !ok {
			continue
		}
		n := 1
		switch k, _ := kindOf(g, d); k {
		case kindOther:
			continue
		case kindTree:
			c, ok := g.Number(d.KV["Count"])
			if !ok || c < 0 {
				return nil, false
			}
			n = int(c)
		}
		if *remaining < n {
			return kid, true
		}
		*remaining -= n
	}
	return nil, true
}

// slowGet walks the whole tree. A cycle only matters when it hides the
// requested page, and then the index is out of range of what was found.
func slowGet(g *graph.Graph, index int) (Page, error) {
	all, err := Enumerate(g)
	if index < len(all) {
		return all[index], nil
	}
	if err != nil && !errors.Is(err, ErrCyclicPageTree) {
		return Page{}, err
	}
	return Page{}, errors.Wrapf(ErrPageRange, "%d of %d", index, len(all))
}

// Contents returns the page's content streams decoded and joined by a
// newline.
func (p Page) Contents(g *graph.Graph) ([]byte, error) {
	obj, ok := p.Dict.Get("Contents")
	if !ok {
		return nil, nil
	}
	var streams []raw.Object
	if arr, ok := g.Array(obj); ok {
		streams = arr.Items
	} else {
		streams = []raw.Object{obj}
	}
	var buf bytes.Buffer
	for i, s := range streams {
		st, ok := g.Stream(s)
		if !ok {
			continue
		}
		data, err := g.StreamData(st)
		if err != nil {
			return nil, errors.Wrapf(err, "page %d content stream %d", p.Index, i)
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// Size is the displayed width and height: the crop box with /Rotate applied.
func (p Page) Size() (float64, float64) {
	if p.Rotate == 90 || p.Rotate == 270 {
		return p.CropBox.Height(), p.CropBox.Width()
	}
	return p.CropBox.Width(), p.CropBox.Height()
}
