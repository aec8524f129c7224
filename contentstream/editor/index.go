package editor

import (
	"sort"

	"github.com/wudi/pdfcore/contentstream"
	"github.com/wudi/pdfcore/coords"
	"github.com/wudi/pdfcore/graph"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
)

// SpatialIndex finds the operations of a content stream that mark a
// given area of the page.
type SpatialIndex struct {
	tree *quadTree
}

// NewSpatialIndex traces ops with the given resources and indexes the
// user space box of every operation that paints or builds a path.
func NewSpatialIndex(g *graph.Graph, ops []contentstream.Operation, resources *raw.DictObj, page coords.Rect, log observability.Logger) *SpatialIndex {
	boxes := contentstream.NewTracer(g, contentstream.Config{Logger: log}).Trace(ops, resources, coords.Identity())
	bounds := page
	for _, b := range boxes {
		bounds = coords.Rect{
			LLX: min(bounds.LLX, b.Rect.LLX), LLY: min(bounds.LLY, b.Rect.LLY),
			URX: max(bounds.URX, b.Rect.URX), URY: max(bounds.URY, b.Rect.URY),
		}
	}
	idx := &SpatialIndex{tree: newQuadTree(bounds, 8)}
	for _, b := range boxes {
		idx.tree.insert(b.Rect, b.Op)
	}
	return idx
}

// Query returns the indices of operations whose box overlaps r, ascending
// and without duplicates.
func (idx *SpatialIndex) Query(r coords.Rect) []int {
	found := idx.tree.query(r, nil)
	sort.Ints(found)
	out := found[:0]
	for i, v := range found {
		if i == 0 || v != found[i-1] {
			out = append(out, v)
		}
	}
	return out
}
