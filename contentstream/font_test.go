package contentstream_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfcore/contentstream"
	"github.com/wudi/pdfcore/graph"
	"github.com/wudi/pdfcore/internal/testpdf"
	"github.com/wudi/pdfcore/ir/raw"
)

const identityToUnicode = `1 begincodespacerange <0000> <FFFF> endcodespacerange
1 beginbfchar <0003> <0048> endbfchar
1 beginbfrange <0010> <0011> <0069> endbfrange`

func fontDoc() []byte {
	b := testpdf.New("1.7")
	b.Obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Obj(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.Obj(3, `<< /Type /Font /Subtype /Type1 /BaseFont /ABCDEF+Custom /FirstChar 65 /Widths [500 600 7 0 R]
		/Encoding << /BaseEncoding /WinAnsiEncoding /Differences [65 /Euro /uni263A 128 /fi] >>
		/FontDescriptor << /MissingWidth 250 >> >>`)
	b.Obj(4, `<< /Type /Font /Subtype /Type0 /BaseFont /Kozuka /Encoding /Identity-H /ToUnicode 5 0 R
		/DescendantFonts [<< /Type /Font /Subtype /CIDFontType2 /DW 800 /W [3 [250] 16 17 400] >>] >>`)
	b.Stream(5, "", []byte(identityToUnicode))
	b.Obj(6, `<< /Type /Font /Subtype /Type3 /FontMatrix [0.01 0 0 0.01 0 0] /FirstChar 97 /Widths [50]
		/Encoding << /Differences [97 /a] >> >>`)
	b.Obj(7, "700")
	return b.Finish("<< /Root 1 0 R >>")
}

func loadFont(t *testing.T, num int) *contentstream.Font {
	t.Helper()
	data := fontDoc()
	g, err := graph.Open(bytes.NewReader(data), int64(len(data)), graph.Config{})
	require.NoError(t, err)
	f, err := contentstream.LoadFont(g, raw.Ref(num, 0))
	require.NoError(t, err)
	return f
}

func TestSimpleFontEncodingAndWidths(t *testing.T) {
	f := loadFont(t, 3)
	assert.False(t, f.Composite)
	codes := f.Decode([]byte{65, 66, 67, 68, 0x80, 0x93})
	require.Len(t, codes, 6)

	texts := make([]string, len(codes))
	for i, c := range codes {
		texts[i] = c.Text
	}
	assert.Equal(t, []string{"€", "☺", "C", "D", "ﬁ", "“"}, texts)
	assert.InDelta(t, 0.5, codes[0].Width, 1e-9)
	assert.InDelta(t, 0.6, codes[1].Width, 1e-9)
	assert.InDelta(t, 0.7, codes[2].Width, 1e-9)
	assert.InDelta(t, 0.25, codes[3].Width, 1e-9)
}

func TestCompositeFont(t *testing.T) {
	f := loadFont(t, 4)
	assert.True(t, f.Composite)
	codes := f.Decode([]byte{0x00, 0x03, 0x00, 0x10, 0x00, 0x11, 0x00, 0x20})
	require.Len(t, codes, 4)

	assert.Equal(t, "H", codes[0].Text)
	assert.Equal(t, "i", codes[1].Text)
	assert.Equal(t, "j", codes[2].Text)
	assert.Equal(t, "", codes[3].Text)
	assert.InDelta(t, 0.25, codes[0].Width, 1e-9)
	assert.InDelta(t, 0.4, codes[2].Width, 1e-9)
	assert.InDelta(t, 0.8, codes[3].Width, 1e-9)
	for _, c := range codes {
		assert.Equal(t, 2, c.N)
	}
}

func TestType3FontMatrix(t *testing.T) {
	f := loadFont(t, 6)
	codes := f.Decode([]byte("a"))
	require.Len(t, codes, 1)
	assert.Equal(t, "a", codes[0].Text)
	assert.InDelta(t, 0.5, codes[0].Width, 1e-9)
}

func TestFallbackWidths(t *testing.T) {
	data := testpdf.SinglePage("")
	g, err := graph.Open(bytes.NewReader(data), int64(len(data)), graph.Config{})
	require.NoError(t, err)
	f, err := contentstream.LoadFont(g, raw.Ref(5, 0))
	require.NoError(t, err)

	codes := f.Decode([]byte("iW"))
	require.Len(t, codes, 2)
	assert.Greater(t, codes[0].Width, 0.0)
	assert.Greater(t, codes[1].Width, codes[0].Width)
	assert.Greater(t, f.SpaceWidth(), 0.0)

	_, err = contentstream.LoadFont(g, raw.Ref(99, 0))
	assert.ErrorIs(t, err, contentstream.ErrNotFont)
}
