// Package writer renders the objects reachable from a graph's trailer as a
// complete PDF file: renumbered, optionally compressed, packed into object
// streams and encrypted.
package writer

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/filters"
	"github.com/wudi/pdfcore/graph"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/security"
)

// ErrNoRoot reports a trailer without an indirect /Root.
var ErrNoRoot = errors.New("trailer has no /Root reference")

type Config struct {
	// Version is the header version. Default: the graph's version, raised
	// to 1.5 when cross-reference streams are written.
	Version string
	// Compress Flate-encodes streams that carry no filter.
	Compress bool
	// XRefStream writes a cross-reference stream instead of a table.
	XRefStream bool
	// ObjectStreams packs non-stream objects into /ObjStm containers. It
	// implies XRefStream.
	ObjectStreams bool
	// Deterministic derives /ID from the content instead of random bytes,
	// so equal graphs produce equal files (AES encryption aside).
	Deterministic bool
	// Deduplicate stores identical objects once.
	Deduplicate bool
	Encryption  *security.EncryptionConfig
	Logger      observability.Logger
}

// Writer serializes graphs. It holds no per-file state and may be reused.
type Writer struct {
	cfg      Config
	log      observability.Logger
	pipeline *filters.Pipeline
}

func New(cfg Config) *Writer {
	if cfg.ObjectStreams {
		cfg.XRefStream = true
	}
	return &Writer{cfg: cfg, log: observability.OrNop(cfg.Logger), pipeline: filters.NewPipeline(nil, filters.Limits{})}
}

// objStmCapacity bounds the objects packed into one object stream.
const objStmCapacity = 100

// file is the renumbered object set of one Write call. objects[i] holds
// object number i+1, all generation 0.
type file struct {
	objects []raw.Object
	root    raw.RefObj
	info    raw.Object
	id      [2][]byte
	encrypt raw.RefObj
	handler security.Handler
}

func (f *file) add(obj raw.Object) raw.RefObj {
	f.objects = append(f.objects, obj)
	return raw.Ref(len(f.objects), 0)
}

// Write renders every object reachable from the trailer /Root and /Info
// of g to out. The graph is not modified.
func (w *Writer) Write(g *graph.Graph, out io.Writer) error {
	f, err := w.collect(g)
	if err != nil {
		return err
	}
	if w.cfg.Deduplicate {
		w.deduplicate(f)
	}
	if err := w.prepareStreams(f); err != nil {
		return err
	}
	f.id = w.fileID(f)
	if w.cfg.Encryption != nil {
		h, dict, err := security.NewStandardEncryption(*w.cfg.Encryption, f.id[0])
		if err != nil {
			return errors.Wrap(err, "write: encryption")
		}
		f.handler = h
		f.encrypt = f.add(dict)
		w.log.Debug("encrypting output", observability.String("algorithm", w.cfg.Encryption.Algorithm.String()))
	}

	bw := bufio.NewWriter(out)
	cw := &countingWriter{w: bw}
	cw.WriteString("%PDF-" + w.version(g) + "\n%\xe2\xe3\xcf\xd3\n")
	if w.cfg.XRefStream {
		err = w.writeWithXRefStream(cw, f)
	} else {
		err = w.writeWithTable(cw, f)
	}
	if err != nil {
		return err
	}
	if cw.err != nil {
		return errors.Wrap(cw.err, "write")
	}
	return errors.Wrap(bw.Flush(), "write")
}

// collect renumbers the reachable objects 1..N in discovery order and
// rewrites their references. References to objects that do not exist
// become null.
func (w *Writer) collect(g *graph.Graph) (*file, error) {
	if _, err := g.Catalog(); err != nil {
		return nil, errors.Wrap(err, "write")
	}
	trailer := g.Trailer()
	root, ok := trailer.KV["Root"].(raw.RefObj)
	if !ok {
		return nil, ErrNoRoot
	}
	roots := []raw.Object{root}
	info, hasInfo := trailer.Get("Info")
	if hasInfo {
		roots = append(roots, info)
	}
	order, err := g.Reachable(roots...)
	if err != nil {
		return nil, errors.Wrap(err, "write: walk objects")
	}
	numbers := make(map[raw.ObjectRef]int, len(order))
	for i, ref := range order {
		numbers[ref] = i + 1
	}
	f := &file{objects: make([]raw.Object, len(order))}
	for i, ref := range order {
		obj, err := g.Resolve(ref)
		if err != nil {
			return nil, errors.Wrapf(err, "write: object %s", ref)
		}
		f.objects[i] = renumber(obj, numbers)
	}
	f.root = renumber(root, numbers).(raw.RefObj)
	if hasInfo {
		f.info = renumber(info, numbers)
		if _, null := f.info.(raw.NullObj); null {
			f.info = nil
		}
	}
	w.log.Debug("objects collected", observability.Int("count", len(order)))
	return f, nil
}

// renumber deep-copies obj with references mapped through numbers.
func renumber(obj raw.Object, numbers map[raw.ObjectRef]int) raw.Object {
	switch o := obj.(type) {
	case raw.RefObj:
		if n, ok := numbers[o.R]; ok {
			return raw.Ref(n, 0)
		}
		return raw.NullObj{}
	case *raw.ArrayObj:
		out := &raw.ArrayObj{Items: make([]raw.Object, len(o.Items))}
		for i, it := range o.Items {
			out.Items[i] = renumber(it, numbers)
		}
		return out
	case *raw.DictObj:
		out := raw.Dict()
		for k, v := range o.KV {
			out.KV[k] = renumber(v, numbers)
		}
		return out
	case *raw.StreamObj:
		return &raw.StreamObj{Dict: renumber(o.Dict, numbers).(*raw.DictObj), Data: o.Data}
	}
	return obj
}

// prepareStreams fixes /Length and, with Compress, Flate-encodes streams
// without filters.
func (w *Writer) prepareStreams(f *file) error {
	for i, obj := range f.objects {
		st, ok := obj.(*raw.StreamObj)
		if !ok {
			continue
		}
		_, filtered := st.Dict.Get("Filter")
		if w.cfg.Compress && !filtered && len(st.Data) > 0 {
			data, err := w.pipeline.Encode("FlateDecode", st.Data, nil)
			if err != nil {
				return errors.Wrapf(err, "write: compress object %d", i+1)
			}
			st.Data = data
			st.Dict.Set("Filter", raw.NameLiteral("FlateDecode"))
			st.Dict.Delete("DecodeParms")
		}
		st.Dict.Set("Length", raw.NumberInt(int64(len(st.Data))))
	}
	return nil
}

// fileID returns a random identifier, or with Deterministic the first 16
// bytes of a SHA-256 over the serialized objects.
func (w *Writer) fileID(f *file) [2][]byte {
	if !w.cfg.Deterministic {
		id := make([]byte, 16)
		if _, err := rand.Read(id); err == nil {
			return [2][]byte{id, append([]byte(nil), id...)}
		}
	}
	h := sha256.New()
	var buf []byte
	for _, obj := range f.objects {
		buf = AppendObject(buf[:0], obj)
		h.Write(buf)
		if st, ok := obj.(*raw.StreamObj); ok {
			h.Write(st.Data)
		}
	}
	sum := h.Sum(nil)[:16]
	return [2][]byte{sum, append([]byte(nil), sum...)}
}

func (w *Writer) version(g *graph.Graph) string {
	v := w.cfg.Version
	if v == "" {
		v = g.Version()
	}
	if v == "" {
		v = "1.7"
	}
	if w.cfg.XRefStream && v < "1.5" {
		v = "1.5"
	}
	if w.cfg.Encryption != nil && w.cfg.Encryption.Algorithm == security.AES_256 && v < "1.7" {
		v = "1.7"
	}
	return v
}

// trailer builds the trailer entries shared by tables and xref streams.
func (f *file) trailer(size int) *raw.DictObj {
	t := raw.DictOf(
		"Size", raw.NumberInt(int64(size)),
		"Root", f.root,
		"ID", raw.NewArray(raw.HexStr(f.id[0]), raw.HexStr(f.id[1])),
	)
	if f.info != nil {
		t.Set("Info", f.info)
	}
	if f.handler != nil {
		t.Set("Encrypt", f.encrypt)
	}
	return t
}

// countingWriter tracks the output offset and keeps the first error so
// callers can check once at the end.
type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return len(p), nil
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return len(p), nil
}

func (c *countingWriter) WriteString(s string) { _, _ = c.Write([]byte(s)) }
