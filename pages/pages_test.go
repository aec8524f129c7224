package pages_test

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfcore/coords"
	"github.com/wudi/pdfcore/graph"
	"github.com/wudi/pdfcore/internal/testpdf"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/pages"
)

func open(t *testing.T, data []byte) *graph.Graph {
	t.Helper()
	g, err := graph.Open(bytes.NewReader(data), int64(len(data)), graph.Config{})
	require.NoError(t, err)
	return g
}

// treeDoc has two levels: the root carries /Rotate and resources, the
// middle node a media box, and page 6 overrides both.
func treeDoc() []byte {
	b := testpdf.New("1.7")
	b.Obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Obj(2, "<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 3 /Rotate 90 /Resources << /Font << /F1 9 0 R >> >> >>")
	b.Obj(3, "<< /Type /Pages /Parent 2 0 R /Kids [5 0 R 6 0 R] /Count 2 /MediaBox [0 0 595 842] >>")
	b.Obj(4, "<< /Type /Page /Parent 2 0 R /Contents [7 0 R 8 0 R] >>")
	b.Obj(5, "<< /Type /Page /Parent 3 0 R /CropBox [10 10 500 800] >>")
	b.Obj(6, "<< /Type /Page /Parent 3 0 R /MediaBox [0 0 200 100] /Rotate -90 /Resources << >> >>")
	b.Stream(7, "", []byte("BT"))
	b.Stream(8, "", []byte("ET"))
	b.Obj(9, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	return b.Finish("<< /Root 1 0 R >>")
}

func TestEnumerateInheritance(t *testing.T) {
	g := open(t, treeDoc())
	all, err := pages.Enumerate(g)
	require.NoError(t, err)
	require.Len(t, all, 3)

	tests := []struct {
		ref      int
		media    coords.Rect
		crop     coords.Rect
		rotate   int
		hasFonts bool
	}{
		{5, coords.Rect{URX: 595, URY: 842}, coords.Rect{LLX: 10, LLY: 10, URX: 500, URY: 800}, 90, true},
		{6, coords.Rect{URX: 200, URY: 100}, coords.Rect{URX: 200, URY: 100}, 270, false},
		{4, pages.Letter, pages.Letter, 90, true},
	}
	for i, tt := range tests {
		p := all[i]
		assert.Equal(t, i, p.Index)
		assert.Equal(t, tt.ref, p.Ref.Num)
		assert.Equal(t, tt.media, p.MediaBox, "page %d media box", i)
		assert.Equal(t, tt.crop, p.CropBox, "page %d crop box", i)
		assert.Equal(t, tt.crop, p.TrimBox, "page %d trim box", i)
		assert.Equal(t, tt.rotate, p.Rotate, "page %d rotation", i)
		_, hasFonts := p.Resources.Get("Font")
		assert.Equal(t, tt.hasFonts, hasFonts, "page %d resources", i)
	}

	data, err := all[2].Contents(g)
	require.NoError(t, err)
	assert.Equal(t, "BT\nET", string(data))

	w, h := all[0].Size()
	assert.Equal(t, 790.0, w)
	assert.Equal(t, 490.0, h)
}

func TestDefaultMediaBox(t *testing.T) {
	g := open(t, testpdf.SinglePage(""))
	all, err := pages.Enumerate(g)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, pages.Letter, all[0].MediaBox)
	assert.Equal(t, 0, all[0].Rotate)
}

func TestCyclicPageTree(t *testing.T) {
	b := testpdf.New("1.7")
	b.Obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Obj(2, "<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 >>")
	b.Obj(3, "<< /Type /Page /Parent 2 0 R >>")
	b.Obj(4, "<< /Type /Pages /Parent 2 0 R /Kids [2 0 R] /Count 1 >>")
	g := open(t, b.Finish("<< /Root 1 0 R >>"))

	all, err := pages.Enumerate(g)
	assert.True(t, errors.Is(err, pages.ErrCyclicPageTree), "%v", err)
	require.Len(t, all, 1)
	assert.Equal(t, 3, all[0].Ref.Num)

	p, err := pages.Get(g, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Ref.Num)
	for _, i := range []int{1, 5} {
		_, err = pages.Get(g, i)
		assert.True(t, errors.Is(err, pages.ErrPageRange), "%d: %v", i, err)
	}
}

func TestKidsOfOtherTypesAreSkipped(t *testing.T) {
	b := testpdf.New("1.7")
	b.Obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Obj(2, "<< /Type /Pages /Kids [3 0 R 1 0 R 5 0 R 7 0 R 6 0 R] /Count 3 >>")
	b.Obj(3, "<< /Type /Page /Parent 2 0 R >>")
	b.Obj(5, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	b.Obj(6, "<< /Parent 2 0 R /MediaBox [0 0 100 100] >>")
	b.Obj(7, "<< /Parent 2 0 R /Kids [8 0 R] /Count 1 >>")
	b.Obj(8, "<< /Type /Page /Parent 7 0 R >>")
	g := open(t, b.Finish("<< /Root 1 0 R >>"))

	all, err := pages.Enumerate(g)
	require.NoError(t, err)
	refs := make([]int, len(all))
	for i, p := range all {
		refs[i] = p.Ref.Num
	}
	assert.Equal(t, []int{3, 8, 6}, refs)

	for i, want := range refs {
		p, err := pages.Get(g, i)
		require.NoError(t, err)
		assert.Equal(t, want, p.Ref.Num)
	}
	_, err = pages.Get(g, 3)
	assert.True(t, errors.Is(err, pages.ErrPageRange))
}

func TestGetUsesCount(t *testing.T) {
	g := open(t, treeDoc())
	for i, want := range []int{5, 6, 4} {
		p, err := pages.Get(g, i)
		require.NoError(t, err)
		assert.Equal(t, want, p.Ref.Num)
		assert.Equal(t, i, p.Index)
	}
	p, err := pages.Get(g, 1)
	require.NoError(t, err)
	assert.Equal(t, 270, p.Rotate)

	_, err = pages.Get(g, 3)
	assert.True(t, errors.Is(err, pages.ErrPageRange))

	n, err := pages.Count(g)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSetRotation(t *testing.T) {
	tests := []struct {
		start, delta, want int
	}{
		{0, 90, 90},
		{90, 90, 180},
		{270, 180, 90},
		{90, -180, 270},
		{0, 360, 0},
	}
	for _, tt := range tests {
		g := open(t, testpdf.SinglePage(""))
		p, err := pages.Get(g, 0)
		require.NoError(t, err)
		p.Rotate = tt.start
		old := p.Dict
		require.NoError(t, pages.SetRotation(g, &p, tt.delta))
		assert.Equal(t, tt.want, p.Rotate)

		again, err := pages.Get(g, 0)
		require.NoError(t, err)
		assert.Equal(t, tt.want, again.Rotate)
		_, ok := old.Get("Rotate")
		assert.False(t, ok, "old dictionary untouched")
	}

	g := open(t, testpdf.SinglePage(""))
	p, err := pages.Get(g, 0)
	require.NoError(t, err)
	assert.True(t, errors.Is(pages.SetRotation(g, &p, 45), pages.ErrBadRotation))
}

func TestMaterializeAndNewTree(t *testing.T) {
	src := open(t, treeDoc())
	p, err := pages.Get(src, 0)
	require.NoError(t, err)
	d := pages.Materialize(p)
	_, ok := d.Get("Parent")
	assert.False(t, ok)
	rot, _ := d.GetInt("Rotate")
	assert.EqualValues(t, 90, rot)
	mb, ok := coords.RectFrom(d.KV["MediaBox"])
	require.True(t, ok)
	assert.Equal(t, p.MediaBox, mb)

	dst := graph.New()
	cp, err := dst.Import(src, d)
	require.NoError(t, err)
	pageRef := dst.Add(cp)
	pages.NewTree(dst, []raw.RefObj{pageRef})

	all, err := pages.Enumerate(dst)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 90, all[0].Rotate)
	assert.Equal(t, p.MediaBox, all[0].MediaBox)
	_, hasFonts := all[0].Resources.Get("Font")
	assert.True(t, hasFonts)

	_, err = pages.Append(dst, raw.DictOf("Type", raw.NameLiteral("Page")))
	require.NoError(t, err)
	n, err := pages.Count(dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	all, err = pages.Enumerate(dst)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
