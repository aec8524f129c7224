package writer_test

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfcore/graph"
	"github.com/wudi/pdfcore/internal/testpdf"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/pages"
	"github.com/wudi/pdfcore/security"
	"github.com/wudi/pdfcore/writer"
)

const content = "BT /F1 12 Tf 72 700 Td (Hello) Tj ET"

func source(t *testing.T) *graph.Graph {
	t.Helper()
	b := testpdf.New("1.4")
	b.Obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox [0 0 612 792] >>")
	b.Obj(3, "<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>")
	b.Stream(4, "", []byte(content))
	b.Obj(5, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	b.Obj(6, "<< /Title (Quarterly report) /Broken 40 0 R >>")
	b.Obj(7, "<< /Orphan true >>")
	return open(t, b.Finish("<< /Root 1 0 R /Info 6 0 R >>"), "")
}

func open(t *testing.T, data []byte, password string) *graph.Graph {
	t.Helper()
	g, err := graph.Open(bytes.NewReader(data), int64(len(data)), graph.Config{Password: password})
	require.NoError(t, err)
	return g
}

func write(t *testing.T, g *graph.Graph, cfg writer.Config) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, writer.New(cfg).Write(g, &buf))
	return buf.Bytes()
}

// check reopens out and verifies the page content and the document info
// survived.
func check(t *testing.T, out []byte, password string) *graph.Graph {
	t.Helper()
	g := open(t, out, password)
	n, err := pages.Count(g)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	p, err := pages.Get(g, 0)
	require.NoError(t, err)
	data, err := p.Contents(g)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	assert.Equal(t, 612.0, p.MediaBox.Width())

	info, ok := g.Dict(g.Trailer().KV["Info"])
	require.True(t, ok)
	title, _ := info.GetString("Title")
	assert.Equal(t, "Quarterly report", string(title))
	_, dangling := info.Get("Broken")
	assert.False(t, dangling)
	return g
}

func TestWriteClassicTable(t *testing.T) {
	out := write(t, source(t), writer.Config{})
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-1.4\n")))
	assert.Contains(t, string(out), "\nxref\n0 7\n0000000000 65535 f \n")
	assert.True(t, bytes.HasSuffix(out, []byte("%%EOF\n")))
	assert.NotContains(t, string(out), "Orphan")

	g := check(t, out, "")
	size, _ := g.Trailer().GetInt("Size")
	assert.EqualValues(t, 7, size)
	assert.Len(t, g.Trailer().KV["ID"].(*raw.ArrayObj).Items, 2)
}

func TestWriteXRefStream(t *testing.T) {
	tests := []struct {
		name          string
		cfg           writer.Config
		objectStreams bool
	}{
		{name: "xref stream", cfg: writer.Config{XRefStream: true}},
		{name: "object streams", cfg: writer.Config{ObjectStreams: true}, objectStreams: true},
		{name: "compressed", cfg: writer.Config{ObjectStreams: true, Compress: true}, objectStreams: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := write(t, source(t), tt.cfg)
			assert.True(t, bytes.HasPrefix(out, []byte("%PDF-1.5\n")))
			assert.NotContains(t, string(out), "\nxref\n")
			assert.Contains(t, string(out), "/Type /XRef")
			assert.Equal(t, tt.objectStreams, bytes.Contains(out, []byte("/Type /ObjStm")))
			if tt.objectStreams {
				assert.NotContains(t, string(out), "/Type /Catalog")
			}
			check(t, out, "")
		})
	}
}

func TestWriteCompress(t *testing.T) {
	out := write(t, source(t), writer.Config{Compress: true})
	assert.NotContains(t, string(out), "(Hello) Tj")
	g := check(t, out, "")
	p, err := pages.Get(g, 0)
	require.NoError(t, err)
	st, ok := g.Stream(p.Dict.KV["Contents"])
	require.True(t, ok)
	filter, _ := st.Dict.GetName("Filter")
	assert.Equal(t, "FlateDecode", filter)
}

func TestWriteDeterministic(t *testing.T) {
	cfg := writer.Config{Deterministic: true, ObjectStreams: true, Compress: true}
	first := write(t, source(t), cfg)
	second := write(t, source(t), cfg)
	assert.Equal(t, first, second)

	random := write(t, source(t), writer.Config{})
	assert.NotEqual(t, write(t, source(t), writer.Config{}), random)
}

func TestWriteAfterEdit(t *testing.T) {
	g := source(t)
	p, err := pages.Get(g, 0)
	require.NoError(t, err)
	require.NoError(t, pages.SetRotation(g, &p, 90))
	extra := g.Add(raw.NewStream(raw.Dict(), []byte("0 0 m 10 10 l S")))
	d := p.Dict.Clone()
	d.Set("Contents", raw.NewArray(d.KV["Contents"], extra))
	require.NoError(t, pages.Update(g, &p, d))

	out := write(t, g, writer.Config{})
	reopened := open(t, out, "")
	q, err := pages.Get(reopened, 0)
	require.NoError(t, err)
	assert.Equal(t, 90, q.Rotate)
	data, err := q.Contents(reopened)
	require.NoError(t, err)
	assert.Contains(t, string(data), "10 10 l S")
}

func TestWriteNoRoot(t *testing.T) {
	g := graph.New()
	g.SetTrailer("Root", raw.DictOf("Type", raw.NameLiteral("Catalog")))
	err := writer.New(writer.Config{}).Write(g, &bytes.Buffer{})
	assert.True(t, errors.Is(err, writer.ErrNoRoot))

	g = graph.New()
	assert.Error(t, writer.New(writer.Config{}).Write(g, &bytes.Buffer{}))
}

func TestWriteEncrypted(t *testing.T) {
	tests := []struct {
		alg     security.Algorithm
		version string
		cfg     writer.Config
	}{
		{alg: security.RC4_40, version: "1.4"},
		{alg: security.RC4_128, version: "1.4"},
		{alg: security.AES_128, version: "1.4", cfg: writer.Config{Compress: true}},
		{alg: security.AES_256, version: "1.7"},
		{alg: security.AES_256, version: "1.7", cfg: writer.Config{ObjectStreams: true}},
	}
	for _, tt := range tests {
		t.Run(tt.alg.String(), func(t *testing.T) {
			cfg := tt.cfg
			cfg.Encryption = &security.EncryptionConfig{
				UserPassword:  "user",
				OwnerPassword: "owner",
				Algorithm:     tt.alg,
				Permissions:   security.Permissions{Print: true},
			}
			out := write(t, source(t), cfg)
			assert.Contains(t, string(out), "/Filter /Standard")
			assert.NotContains(t, string(out), "(Hello) Tj")
			assert.NotContains(t, string(out), "Quarterly report")
			if !cfg.ObjectStreams {
				assert.Contains(t, string(out), "%PDF-"+tt.version+"\n")
			}

			check(t, out, "user")
			g := check(t, out, "owner")
			assert.True(t, g.Handler().IsEncrypted())
			assert.True(t, g.Handler().Permissions().Print)

			_, err := graph.Open(bytes.NewReader(out), int64(len(out)), graph.Config{Password: "guess"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, security.ErrWrongPassword))
		})
	}
}

// TestEncryptedObjectsMatchPlain reopens encrypted output and compares every
// object reachable from the trailer with the unencrypted rendition.
func TestEncryptedObjectsMatchPlain(t *testing.T) {
	deep := func(g *graph.Graph) (raw.Object, raw.Object) {
		t.Helper()
		root, err := g.ResolveDeep(g.Trailer().KV["Root"])
		require.NoError(t, err)
		info, err := g.ResolveDeep(g.Trailer().KV["Info"])
		require.NoError(t, err)
		return root, info
	}
	for _, objStm := range []bool{false, true} {
		plain := open(t, write(t, source(t), writer.Config{ObjectStreams: objStm}), "")
		wantRoot, wantInfo := deep(plain)
		for _, alg := range []security.Algorithm{security.RC4_40, security.RC4_128, security.AES_128, security.AES_256} {
			cfg := writer.Config{ObjectStreams: objStm, Encryption: &security.EncryptionConfig{
				UserPassword:  "user",
				OwnerPassword: "owner",
				Algorithm:     alg,
			}}
			out := write(t, source(t), cfg)
			for _, pw := range []string{"user", "owner"} {
				root, info := deep(open(t, out, pw))
				assert.True(t, raw.Equal(wantRoot, root), "%s objstm=%v %s: catalog differs", alg, objStm, pw)
				assert.True(t, raw.Equal(wantInfo, info), "%s objstm=%v %s: info differs", alg, objStm, pw)
			}

			g := open(t, out, "user")
			p, err := pages.Get(g, 0)
			require.NoError(t, err)
			obj, err := g.Deref(p.Dict.KV["Contents"])
			require.NoError(t, err)
			st, ok := obj.(*raw.StreamObj)
			require.True(t, ok)
			n, _ := st.Dict.GetInt("Length")
			assert.Equal(t, int64(len(st.Data)), n, "%s: stream length", alg)
		}
	}
}

func TestWriteDeduplicate(t *testing.T) {
	b := testpdf.New("1.4")
	b.Obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Obj(2, "<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 /MediaBox [0 0 612 792] >>")
	b.Obj(3, "<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 5 0 R >> >> /Contents 7 0 R >>")
	b.Obj(4, "<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 6 0 R >> >> /Contents 8 0 R >>")
	b.Obj(5, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding 9 0 R >>")
	b.Obj(6, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding 10 0 R >>")
	b.Stream(7, "", []byte(content))
	b.Stream(8, "", []byte(content))
	b.Obj(9, "<< /Type /Encoding /BaseEncoding /WinAnsiEncoding >>")
	b.Obj(10, "<< /Type /Encoding /BaseEncoding /WinAnsiEncoding >>")
	g := open(t, b.Finish("<< /Root 1 0 R >>"), "")

	out := write(t, g, writer.Config{Deduplicate: true})
	assert.Equal(t, 1, bytes.Count(out, []byte("/BaseFont /Helvetica")))
	assert.Equal(t, 1, bytes.Count(out, []byte("/BaseEncoding /WinAnsiEncoding")))
	assert.Equal(t, 1, bytes.Count(out, []byte("(Hello) Tj")))

	reopened := open(t, out, "")
	list, err := pages.Enumerate(reopened)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.NotEqual(t, list[0].Ref, list[1].Ref)
	for _, p := range list {
		data, err := p.Contents(reopened)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	}
	size, _ := reopened.Trailer().GetInt("Size")
	assert.EqualValues(t, 8, size)
}
