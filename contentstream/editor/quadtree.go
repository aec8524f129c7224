package editor

import "github.com/wudi/pdfcore/coords"

// quadTree indexes rectangles by area. A rectangle that straddles the
// quadrants of a node stays in that node.
type quadTree struct {
	bounds   coords.Rect
	capacity int
	items    []item
	children []*quadTree
}

type item struct {
	rect  coords.Rect
	index int
}

func newQuadTree(bounds coords.Rect, capacity int) *quadTree {
	return &quadTree{bounds: bounds, capacity: capacity}
}

func (qt *quadTree) insert(r coords.Rect, index int) bool {
	if !overlaps(qt.bounds, r) {
		return false
	}
	for _, c := range qt.children {
		if contains(c.bounds, r) && c.insert(r, index) {
			return true
		}
	}
	if qt.children == nil && len(qt.items) >= qt.capacity && qt.bounds.Width() > 1 && qt.bounds.Height() > 1 {
		qt.split()
		return qt.insert(r, index)
	}
	qt.items = append(qt.items, item{rect: r, index: index})
	return true
}

// split creates the four quadrants and pushes down the items that fit.
func (qt *quadTree) split() {
	b := qt.bounds
	mx, my := (b.LLX+b.URX)/2, (b.LLY+b.URY)/2
	qt.children = []*quadTree{
		newQuadTree(coords.Rect{LLX: b.LLX, LLY: my, URX: mx, URY: b.URY}, qt.capacity),
		newQuadTree(coords.Rect{LLX: mx, LLY: my, URX: b.URX, URY: b.URY}, qt.capacity),
		newQuadTree(coords.Rect{LLX: b.LLX, LLY: b.LLY, URX: mx, URY: my}, qt.capacity),
		newQuadTree(coords.Rect{LLX: mx, LLY: b.LLY, URX: b.URX, URY: my}, qt.capacity),
	}
	old := qt.items
	qt.items = nil
	for _, it := range old {
		qt.insert(it.rect, it.index)
	}
}

// query appends the indices of rectangles overlapping r.
func (qt *quadTree) query(r coords.Rect, out []int) []int {
	if !overlaps(qt.bounds, r) {
		return out
	}
	for _, it := range qt.items {
		if overlaps(it.rect, r) {
			out = append(out, it.index)
		}
	}
	for _, c := range qt.children {
		out = c.query(r, out)
	}
	return out
}

func overlaps(a, b coords.Rect) bool {
	return b.LLX <= a.URX && b.URX >= a.LLX && b.LLY <= a.URY && b.URY >= a.LLY
}

func contains(outer, inner coords.Rect) bool {
	return inner.LLX >= outer.LLX && inner.URX <= outer.URX &&
		inner.LLY >= outer.LLY && inner.URY <= outer.URY
}
