package pdfcore_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfcore"
	"github.com/wudi/pdfcore/contentstream/editor"
	"github.com/wudi/pdfcore/coords"
	"github.com/wudi/pdfcore/extractor"
	"github.com/wudi/pdfcore/internal/testpdf"
	"github.com/wudi/pdfcore/pages"
	"github.com/wudi/pdfcore/security"
	"github.com/wudi/pdfcore/writer"
)

// threePages inherits MediaBox and Resources from the root page node.
func threePages() []byte {
	b := testpdf.New("1.6")
	b.Obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Obj(2, "<< /Type /Pages /Kids [3 0 R 4 0 R 5 0 R] /Count 3 /MediaBox [0 0 612 792] /Resources << /Font << /F1 9 0 R >> >> >>")
	for i, word := range []string{"One", "Two", "Three"} {
		b.Obj(3+i, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /Contents %d 0 R >>", 6+i))
		b.Stream(6+i, "", []byte(fmt.Sprintf("BT /F1 12 Tf 72 700 Td (%s) Tj ET", word)))
	}
	b.Obj(9, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	return b.Finish("<< /Root 1 0 R >>")
}

func read(t *testing.T, data []byte, opts ...pdfcore.Option) *pdfcore.Document {
	t.Helper()
	doc, err := pdfcore.Read(bytes.NewReader(data), int64(len(data)), opts...)
	require.NoError(t, err)
	return doc
}

func texts(t *testing.T, doc *pdfcore.Document) []string {
	t.Helper()
	list, err := doc.ExtractText(extractor.Options{})
	require.NoError(t, err)
	out := make([]string, len(list))
	for i, pt := range list {
		out[i] = pt.Content
	}
	return out
}

func rewrite(t *testing.T, doc *pdfcore.Document, cfg writer.Config, opts ...pdfcore.Option) *pdfcore.Document {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, doc.Write(&buf, cfg))
	return read(t, buf.Bytes(), opts...)
}

func TestOpenMapsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.pdf")
	require.NoError(t, os.WriteFile(path, threePages(), 0o644))

	doc, err := pdfcore.Open(path)
	require.NoError(t, err)
	n, err := doc.PageCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	txt, err := doc.PageText(2, extractor.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Three", txt)
	require.NoError(t, doc.Close())
	require.NoError(t, doc.Close())

	empty := filepath.Join(t.TempDir(), "empty.pdf")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = pdfcore.Open(empty)
	assert.True(t, errors.Is(err, pdfcore.ErrEmptyFile))

	_, err = pdfcore.Open(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	doc := read(t, threePages())
	part, err := doc.Split(2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Three", "One"}, texts(t, part))

	p, err := part.Page(0)
	require.NoError(t, err)
	_, own := p.Dict.Get("MediaBox")
	assert.True(t, own)
	_, own = p.Dict.Get("Resources")
	assert.True(t, own)

	out := rewrite(t, part, writer.Config{})
	assert.Equal(t, []string{"Three", "One"}, texts(t, out))
	assert.Equal(t, []string{"One", "Two", "Three"}, texts(t, doc))

	_, err = doc.Split(7)
	assert.True(t, errors.Is(err, pages.ErrPageRange))
}

func TestAppendPages(t *testing.T) {
	doc := read(t, threePages())
	other := read(t, testpdf.SinglePage("BT /F1 12 Tf 72 700 Td (Hello) Tj ET"))
	require.NoError(t, doc.AppendPages(other))
	require.NoError(t, doc.AppendPages(doc, 0))

	want := []string{"One", "Two", "Three", "Hello", "One"}
	assert.Equal(t, want, texts(t, doc))
	assert.Equal(t, want, texts(t, rewrite(t, doc, writer.Config{ObjectStreams: true})))

	empty := pdfcore.New()
	n, err := empty.PageCount()
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, empty.AppendPages(other))
	assert.Equal(t, []string{"Hello"}, texts(t, rewrite(t, empty, writer.Config{})))
}

func TestRotate(t *testing.T) {
	doc := read(t, threePages())
	require.NoError(t, doc.Rotate(1, 90))
	assert.True(t, errors.Is(doc.Rotate(1, 45), pages.ErrBadRotation))

	out := rewrite(t, doc, writer.Config{})
	p, err := out.Page(1)
	require.NoError(t, err)
	assert.Equal(t, 90, p.Rotate)
	w, h := p.Size()
	assert.Equal(t, 792.0, w)
	assert.Equal(t, 612.0, h)

	require.NoError(t, doc.RotateContent(0, 90))
	p, err = doc.Page(0)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Rotate)
	assert.Equal(t, 792.0, p.MediaBox.Width())
}

func TestScale(t *testing.T) {
	doc := read(t, threePages())
	require.NoError(t, doc.Scale(0, 0.5, 0.5))
	p, err := doc.Page(0)
	require.NoError(t, err)
	assert.Equal(t, 306.0, p.MediaBox.Width())
	assert.Equal(t, "One", texts(t, rewrite(t, doc, writer.Config{}))[0])
}

func TestMergeAndWatermark(t *testing.T) {
	doc := read(t, threePages())
	overlay := read(t, testpdf.SinglePage("BT /F1 12 Tf 72 100 Td (Footer) Tj ET"))
	require.NoError(t, doc.Merge(0, overlay, 0, editor.MergeOptions{}))
	require.NoError(t, doc.Watermark(editor.StampOptions{Text: "DRAFT"}))

	got := texts(t, rewrite(t, doc, writer.Config{Compress: true}))
	require.Len(t, got, 3)
	assert.Equal(t, "One\nFooter\nDRAFT", got[0])
	assert.Equal(t, "Two\nDRAFT", got[1])

	assert.True(t, errors.Is(doc.Watermark(editor.StampOptions{}, 0), editor.ErrEmptyStamp))
}

func TestRedact(t *testing.T) {
	doc := read(t, threePages())
	n, err := doc.Redact(1, coords.NewRect(60, 690, 300, 720), editor.RedactOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"One", "", "Three"}, texts(t, rewrite(t, doc, writer.Config{})))
}

func TestEncryptedRoundTrip(t *testing.T) {
	doc := read(t, threePages())
	cfg := writer.Config{Encryption: &security.EncryptionConfig{
		UserPassword:  "reader",
		OwnerPassword: "admin",
		Algorithm:     security.AES_128,
		Permissions:   security.Permissions{Print: true},
	}}
	var buf bytes.Buffer
	require.NoError(t, doc.Write(&buf, cfg))

	for _, pw := range []string{"reader", "admin"} {
		out := read(t, buf.Bytes(), pdfcore.WithPassword(pw))
		assert.Equal(t, []string{"One", "Two", "Three"}, texts(t, out))
	}
	_, err := pdfcore.Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	assert.True(t, errors.Is(err, security.ErrWrongPassword))
}

func TestCyclicPageTreeIsSurvivable(t *testing.T) {
	b := testpdf.New("1.7")
	b.Obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Obj(2, "<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 /MediaBox [0 0 612 792] >>")
	b.Obj(3, "<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 6 0 R >> >> /Contents 5 0 R >>")
	b.Obj(4, "<< /Type /Pages /Parent 2 0 R /Kids [2 0 R] /Count 1 >>")
	b.Stream(5, "", []byte("BT /F1 12 Tf 72 700 Td (Kept) Tj ET"))
	b.Obj(6, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	doc := read(t, b.Finish("<< /Root 1 0 R >>"))

	list, err := doc.Pages()
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = doc.Page(5)
	assert.True(t, errors.Is(err, pages.ErrPageRange), "%v", err)
	assert.False(t, errors.Is(err, pages.ErrCyclicPageTree))

	require.NoError(t, doc.Watermark(editor.StampOptions{Text: "DRAFT"}))
	part, err := doc.Split()
	require.NoError(t, err)
	assert.Equal(t, []string{"Kept\nDRAFT"}, texts(t, rewrite(t, part, writer.Config{})))

	target := pdfcore.New()
	require.NoError(t, target.AppendPages(doc))
	n, err := target.PageCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAppendPagesKeepsSourceTreeOut(t *testing.T) {
	b := testpdf.New("1.7")
	b.Obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Obj(2, "<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 /MediaBox [0 0 612 792] /Resources << /Font << /F1 9 0 R >> >> >>")
	b.Obj(3, "<< /Type /Page /Parent 2 0 R /Contents 5 0 R /Annots [7 0 R 8 0 R] >>")
	b.Obj(4, "<< /Type /Page /Parent 2 0 R /Contents 6 0 R >>")
	b.Stream(5, "", []byte("BT /F1 12 Tf 72 700 Td (One) Tj ET"))
	b.Stream(6, "", []byte("BT /F1 12 Tf 72 700 Td (Two) Tj ET"))
	b.Obj(7, "<< /Type /Annot /Subtype /Text /Rect [0 0 10 10] /P 3 0 R >>")
	b.Obj(8, "<< /Type /Annot /Subtype /Link /Rect [0 20 10 30] /Dest [4 0 R /Fit] /P 3 0 R >>")
	b.Obj(9, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	src := read(t, b.Finish("<< /Root 1 0 R >>"))

	doc := pdfcore.New()
	require.NoError(t, doc.AppendPages(src, 0))
	var buf bytes.Buffer
	require.NoError(t, doc.Write(&buf, writer.Config{}))
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("/Type /Pages")))

	out := read(t, buf.Bytes())
	assert.Equal(t, []string{"One"}, texts(t, out))
	p, err := out.Page(0)
	require.NoError(t, err)
	annots, ok := out.Graph().Array(p.Dict.KV["Annots"])
	require.True(t, ok)
	require.Equal(t, 2, annots.Len())
	for _, a := range annots.Items {
		annot, ok := out.Graph().Dict(a)
		require.True(t, ok)
		back, ok := annot.GetRef("P")
		require.True(t, ok)
		assert.Equal(t, p.Ref, back)
	}
}
