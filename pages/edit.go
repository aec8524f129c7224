package pages

import (
	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/graph"
	"github.com/wudi/pdfcore/ir/raw"
)

// SetRotation adds degrees to the page's effective rotation and stores the
// result on the page itself. The page dictionary is replaced, not edited in
// place, so other holders of the old dictionary see no change.
func SetRotation(g *graph.Graph, p *Page, degrees int) error {
	if degrees%90 != 0 {
		return errors.Wrapf(ErrBadRotation, "%d", degrees)
	}
	rot := normalize(p.Rotate + degrees)
	d := p.Dict.Clone()
	d.Set("Rotate", raw.NumberInt(int64(rot)))
	if err := replace(g, p, d); err != nil {
		return err
	}
	p.Rotate = rot
	return nil
}

func replace(g *graph.Graph, p *Page, d *raw.DictObj) error {
	if p.Ref.Num == 0 {
		return errors.Errorf("page %d is a direct object and cannot be replaced", p.Index)
	}
	g.Replace(p.Ref, d)
	p.Dict = d
	return nil
}

// Update stores d as the page's dictionary.
func Update(g *graph.Graph, p *Page, d *raw.DictObj) error { return replace(g, p, d) }

// Materialize returns a copy of the page dictionary carrying its inherited
// attributes and no /Parent, ready to be moved into another tree.
func Materialize(p Page) *raw.DictObj {
	d := p.Dict.Clone()
	d.Delete("Parent")
	d.Set("Type", raw.NameLiteral("Page"))
	if _, ok := d.Get("Resources"); !ok {
		d.Set("Resources", p.Resources.Clone())
	}
	if _, ok := d.Get("MediaBox"); !ok {
		d.Set("MediaBox", p.MediaBox.Array())
	}
	if _, ok := d.Get("CropBox"); !ok && p.CropBox != p.MediaBox {
		d.Set("CropBox", p.CropBox.Array())
	}
	if _, ok := d.Get("Rotate"); !ok && p.Rotate != 0 {
		d.Set("Rotate", raw.NumberInt(int64(p.Rotate)))
	}
	return d
}

// NewTree builds a flat page tree over pages, stores a catalog for it and
// points the trailer /Root at that catalog. Each page gets /Parent set.
func NewTree(g *graph.Graph, pages []raw.RefObj) raw.RefObj {
	kids := raw.NewArray()
	rootRef := g.Allocate()
	for _, ref := range pages {
		if d, ok := g.Dict(ref); ok {
			d.Set("Parent", raw.RefObj{R: rootRef})
		}
		kids.Append(ref)
	}
	g.Replace(rootRef, raw.DictOf(
		"Type", raw.NameLiteral("Pages"),
		"Kids", kids,
		"Count", raw.NumberInt(int64(len(pages))),
	))
	cat := g.Add(raw.DictOf("Type", raw.NameLiteral("Catalog"), "Pages", raw.RefObj{R: rootRef}))
	g.SetTrailer("Root", cat)
	return cat
}

// Append adds a page dictionary as the last kid of the root page node.
func Append(g *graph.Graph, d *raw.DictObj) (raw.RefObj, error) {
	ref := g.Allocate()
	g.Replace(ref, d)
	if err := AppendRef(g, raw.RefObj{R: ref}); err != nil {
		g.Delete(ref)
		return raw.RefObj{}, err
	}
	return raw.RefObj{R: ref}, nil
}

// AppendRef adds the page stored at ref as the last kid of the root page
// node and points its /Parent there.
func AppendRef(g *graph.Graph, ref raw.RefObj) error {
	d, ok := g.Dict(ref)
	if !ok {
		return errors.Wrapf(graph.ErrMissingObject, "page %s", ref.R)
	}
	top, err := root(g)
	if err != nil {
		return err
	}
	topRef, ok := top.(raw.RefObj)
	if !ok {
		return errors.New("root page node is a direct object")
	}
	rootDict, ok := g.Dict(top)
	if !ok {
		return errors.Wrap(graph.ErrMissingObject, "root page node")
	}
	rootDict = rootDict.Clone()
	kids, ok := g.Array(rootDict.KV["Kids"])
	if !ok {
		kids = raw.NewArray()
	} else {
		kids = raw.Clone(kids).(*raw.ArrayObj)
	}
	d.Set("Parent", topRef)
	kids.Append(ref)
	rootDict.Set("Kids", kids)
	count, _ := g.Number(rootDict.KV["Count"])
	rootDict.Set("Count", raw.NumberInt(int64(count)+1))
	g.Replace(topRef.R, rootDict)
	return nil
}
