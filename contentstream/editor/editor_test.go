package editor_test

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfcore/contentstream"
	"github.com/wudi/pdfcore/contentstream/editor"
	"github.com/wudi/pdfcore/coords"
	"github.com/wudi/pdfcore/extractor"
	"github.com/wudi/pdfcore/graph"
	"github.com/wudi/pdfcore/internal/testpdf"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/pages"
)

const hi = "BT /F1 12 Tf 72 700 Td (Hi) Tj ET"

func open(t *testing.T, data []byte) (*graph.Graph, pages.Page) {
	t.Helper()
	g, err := graph.Open(bytes.NewReader(data), int64(len(data)), graph.Config{})
	require.NoError(t, err)
	return g, page(t, g, 0)
}

func page(t *testing.T, g *graph.Graph, i int) pages.Page {
	t.Helper()
	p, err := pages.Get(g, i)
	require.NoError(t, err)
	return p
}

func content(t *testing.T, g *graph.Graph, p pages.Page) string {
	t.Helper()
	data, err := p.Contents(g)
	require.NoError(t, err)
	return string(data)
}

func runs(t *testing.T, g *graph.Graph, p pages.Page) []extractor.TextRun {
	t.Helper()
	out, err := extractor.New(g, extractor.Options{}).Runs(p)
	require.NoError(t, err)
	return out
}

func TestTransform(t *testing.T) {
	g, p := open(t, testpdf.SinglePage(hi))
	require.NoError(t, editor.Transform(g, &p, coords.Translate(10, 20)))

	p = page(t, g, 0)
	assert.True(t, strings.HasPrefix(content(t, g, p), "q\n1 0 0 1 10 20 cm\n"))
	assert.True(t, strings.HasSuffix(content(t, g, p), "Q\n"))
	assert.Equal(t, pages.Letter, p.MediaBox)

	r := runs(t, g, p)
	require.Len(t, r, 1)
	assert.InDelta(t, 82, r[0].X, 1e-9)
	assert.InDelta(t, 720, r[0].Y, 1e-9)
}

func TestTransformBalancesNesting(t *testing.T) {
	g, p := open(t, testpdf.SinglePage("Q q q 2 0 0 2 0 0 cm "+hi))
	require.NoError(t, editor.Transform(g, &p, coords.Identity()))

	ops, err := contentstream.Parse([]byte(content(t, g, page(t, g, 0))))
	require.NoError(t, err)
	depth := 0
	for _, op := range ops {
		switch op.Operator {
		case "q":
			depth++
		case "Q":
			depth--
			require.GreaterOrEqual(t, depth, 0)
		}
	}
	assert.Equal(t, 0, depth)
}

func TestRotate(t *testing.T) {
	tests := []struct {
		degrees float64
		box     coords.Rect
		x, y    float64
	}{
		{0, coords.Rect{URX: 612, URY: 792}, 72, 700},
		{90, coords.Rect{URX: 792, URY: 612}, 700, 540},
		{180, coords.Rect{URX: 612, URY: 792}, 540, 92},
		{270, coords.Rect{URX: 792, URY: 612}, 92, 72},
		{-90, coords.Rect{URX: 792, URY: 612}, 92, 72},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.degrees), func(t *testing.T) {
			g, p := open(t, testpdf.SinglePage(hi))
			require.NoError(t, editor.Rotate(g, &p, tt.degrees))
			assert.Equal(t, tt.box, p.MediaBox)

			p = page(t, g, 0)
			assert.Equal(t, tt.box, p.MediaBox)
			assert.Equal(t, tt.box, p.CropBox)
			assert.Equal(t, 0, p.Rotate)
			r := runs(t, g, p)
			require.Len(t, r, 1)
			assert.InDelta(t, tt.x, r[0].X, 1e-9)
			assert.InDelta(t, tt.y, r[0].Y, 1e-9)
		})
	}
}

func TestScale(t *testing.T) {
	g, p := open(t, testpdf.SinglePage(hi))
	require.NoError(t, editor.Scale(g, &p, 0.5, 0.5))

	p = page(t, g, 0)
	assert.Equal(t, coords.Rect{URX: 306, URY: 396}, p.MediaBox)
	r := runs(t, g, p)
	require.Len(t, r, 1)
	assert.InDelta(t, 36, r[0].X, 1e-9)
	assert.InDelta(t, 350, r[0].Y, 1e-9)
	assert.InDelta(t, 6, r[0].Size, 1e-9)

	assert.ErrorIs(t, editor.Scale(g, &p, 0, 1), editor.ErrBadScale)
}

func overlayDoc(mediaBox, body string) []byte {
	b := testpdf.New("1.7")
	b.Obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox "+mediaBox+" >>")
	b.Obj(3, "<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 5 0 R >> /ProcSet [/PDF /Text] >> /Contents 4 0 R >>")
	b.Stream(4, "", []byte(body))
	b.Obj(5, "<< /Type /Font /Subtype /Type1 /BaseFont /Courier >>")
	return b.Finish("<< /Root 1 0 R >>")
}

const over = "BT /F1 10 Tf 100 100 Td (Over) Tj ET"

func TestMergePageRenamesCollidingResources(t *testing.T) {
	g, base := open(t, testpdf.SinglePage(hi))
	src, overlay := open(t, overlayDoc("[0 0 612 792]", over))

	require.NoError(t, editor.MergePage(g, &base, src, overlay, editor.MergeOptions{}))

	p := page(t, g, 0)
	fonts, ok := p.Resources.GetDict("Font")
	require.True(t, ok)
	assert.Equal(t, []string{"F1", "F1_1"}, fonts.Keys())
	assert.Equal(t, raw.Ref(5, 0), fonts.KV["F1"])
	imported, ok := g.Dict(fonts.KV["F1_1"])
	require.True(t, ok)
	name, _ := imported.GetName("BaseFont")
	assert.Equal(t, "Courier", name)
	procs, ok := p.Resources.GetArray("ProcSet")
	require.True(t, ok)
	assert.Equal(t, 2, procs.Len())

	assert.Contains(t, content(t, g, p), "/F1_1 10 Tf")
	r := runs(t, g, p)
	require.Len(t, r, 2)
	assert.Equal(t, "Hi", r[0].Text)
	assert.Equal(t, "F1", r[0].Font)
	assert.Equal(t, "Over", r[1].Text)
	assert.Equal(t, "F1_1", r[1].Font)
}

func TestMergePageIsNonDestructive(t *testing.T) {
	src, overlay := open(t, overlayDoc("[0 0 612 792]", over))
	before := raw.Clone(overlay.Resources)

	merge := func() (string, *raw.DictObj) {
		g, base := open(t, testpdf.SinglePage(hi))
		require.NoError(t, editor.MergePage(g, &base, src, overlay, editor.MergeOptions{}))
		p := page(t, g, 0)
		return content(t, g, p), p.Resources
	}
	c1, r1 := merge()
	c2, r2 := merge()

	assert.Equal(t, c1, c2)
	assert.True(t, raw.Equal(r1, r2))
	assert.True(t, raw.Equal(before, overlay.Resources))
	again := page(t, src, 0)
	assert.True(t, raw.Equal(before, again.Resources))
	assert.Equal(t, over, content(t, src, again))
}

func TestMergePageUnderlayAndFit(t *testing.T) {
	g, base := open(t, testpdf.SinglePage(hi))
	src, overlay := open(t, overlayDoc("[0 0 1224 1584]", over))

	require.NoError(t, editor.MergePage(g, &base, src, overlay, editor.MergeOptions{Underlay: true, Fit: true}))

	p := page(t, g, 0)
	c := content(t, g, p)
	assert.Less(t, strings.Index(c, "(Over)"), strings.Index(c, "(Hi)"))

	r := runs(t, g, p)
	require.Len(t, r, 2)
	assert.Equal(t, "Over", r[0].Text)
	assert.InDelta(t, 50, r[0].X, 1e-9)
	assert.InDelta(t, 50, r[0].Y, 1e-9)
	assert.InDelta(t, 5, r[0].Size, 1e-9)
	assert.InDelta(t, 72, r[1].X, 1e-9)
}

func TestMergePageSameGraphSharesResources(t *testing.T) {
	g, base := open(t, testpdf.SinglePage(hi))
	require.NoError(t, editor.MergePage(g, &base, g, page(t, g, 0), editor.MergeOptions{Transform: coords.Translate(0, -100)}))

	p := page(t, g, 0)
	fonts, ok := p.Resources.GetDict("Font")
	require.True(t, ok)
	assert.Equal(t, []string{"F1"}, fonts.Keys())

	txt, err := extractor.New(g, extractor.Options{}).Page(p)
	require.NoError(t, err)
	assert.Equal(t, "Hi\nHi", txt)
}

func TestStamp(t *testing.T) {
	g, p := open(t, testpdf.SinglePage(hi))
	require.NoError(t, editor.Stamp(g, &p, editor.StampOptions{Text: "DRAFT", FontSize: 48}))

	p = page(t, g, 0)
	fonts, ok := p.Resources.GetDict("Font")
	require.True(t, ok)
	assert.Equal(t, []string{"F1", "Stamp1"}, fonts.Keys())
	states, ok := p.Resources.GetDict("ExtGState")
	require.True(t, ok)
	gs, ok := g.Dict(states.KV["Stamp1"])
	require.True(t, ok)
	alpha, _ := gs.GetNumber("ca")
	assert.InDelta(t, 0.3, alpha, 1e-9)

	r := runs(t, g, p)
	require.Len(t, r, 2)
	assert.Equal(t, "DRAFT", r[1].Text)
	assert.InDelta(t, 306, r[1].X+r[1].Width/2, 0.01)
	assert.InDelta(t, 396-48*0.35, r[1].Y, 0.01)

	assert.ErrorIs(t, editor.Stamp(g, &p, editor.StampOptions{}), editor.ErrEmptyStamp)
}

func TestRemoveRect(t *testing.T) {
	g, p := open(t, testpdf.SinglePage("BT /F1 12 Tf 72 700 Td (Secret) Tj (Public) Tj ET 10 10 50 50 re f"))
	font, err := contentstream.LoadFont(g, raw.Ref(5, 0))
	require.NoError(t, err)
	var secret float64
	for _, c := range font.Decode([]byte("Secret")) {
		secret += c.Width * 12
	}

	n, err := editor.RemoveRect(g, &p, coords.Rect{LLX: 72, LLY: 695, URX: 80, URY: 710}, editor.RedactOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p = page(t, g, 0)
	assert.NotContains(t, content(t, g, p), "Secret")
	r := runs(t, g, p)
	require.Len(t, r, 1)
	assert.Equal(t, "Public", r[0].Text)
	assert.InDelta(t, 72+secret, r[0].X, 1e-3)

	n, err = editor.RemoveRect(g, &p, coords.Rect{LLX: 20, LLY: 20, URX: 30, URY: 30}, editor.RedactOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotContains(t, content(t, g, page(t, g, 0)), " re\n")

	n, err = editor.RemoveRect(g, &p, coords.Rect{LLX: 300, LLY: 300, URX: 310, URY: 310}, editor.RedactOptions{Fill: true})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Contains(t, content(t, g, page(t, g, 0)), "300 300 10 10 re\nf\n")
}

func TestRemoveRectKeepsClipPaths(t *testing.T) {
	g, p := open(t, testpdf.SinglePage("q 0 0 100 100 re W n 10 10 20 20 re f Q"))
	n, err := editor.RemoveRect(g, &p, coords.Rect{LLX: 0, LLY: 0, URX: 50, URY: 50}, editor.RedactOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	c := content(t, g, page(t, g, 0))
	assert.Contains(t, c, "0 0 100 100 re\nW\nn\n")
	assert.NotContains(t, c, "10 10 20 20 re")
}

func TestSpatialIndex(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&sb, "%d 0 10 10 re f\n", i*20)
	}
	ops, err := contentstream.Parse([]byte(sb.String()))
	require.NoError(t, err)

	idx := editor.NewSpatialIndex(graph.New(), ops, nil, pages.Letter, nil)
	assert.Equal(t, []int{0, 2}, idx.Query(coords.Rect{LLX: 0, LLY: 0, URX: 35, URY: 5}))
	assert.Equal(t, []int{58}, idx.Query(coords.Rect{LLX: 585, LLY: 2, URX: 600, URY: 3}))
	assert.Empty(t, idx.Query(coords.Rect{LLX: 0, LLY: 500, URX: 600, URY: 600}))
}
