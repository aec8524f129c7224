// Package pdfcore opens, edits and writes PDF documents. A Document wraps
// the object graph of one file and offers the page level operations:
// text extraction, rotation, scaling, overlays, watermarks, redaction,
// splitting and concatenation. The packages underneath stay available
// through Graph for work the facade does not cover.
package pdfcore

import (
	"bytes"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/contentstream/editor"
	"github.com/wudi/pdfcore/coords"
	"github.com/wudi/pdfcore/extractor"
	"github.com/wudi/pdfcore/graph"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/pages"
	"github.com/wudi/pdfcore/recovery"
	"github.com/wudi/pdfcore/security"
	"github.com/wudi/pdfcore/writer"
)

// ErrEmptyFile reports a zero-length input.
var ErrEmptyFile = errors.New("empty file")

type options struct {
	password string
	logger   observability.Logger
	recovery recovery.Strategy
	limits   security.Limits
}

// Option configures Open, Read and New.
type Option func(*options)

// WithPassword authenticates an encrypted document with the user or the
// owner password.
func WithPassword(pw string) Option { return func(o *options) { o.password = pw } }

func WithLogger(l observability.Logger) Option { return func(o *options) { o.logger = l } }

// WithRecovery selects how malformed objects are handled. The default is
// lenient: problems are logged and the damaged object reads as null.
func WithRecovery(s recovery.Strategy) Option { return func(o *options) { o.recovery = s } }

func WithLimits(l security.Limits) Option { return func(o *options) { o.limits = l } }

func collect(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	o.logger = observability.OrNop(o.logger)
	if o.recovery == nil {
		o.recovery = recovery.NewLenientStrategy(o.logger)
	}
	return o
}

// Document is one PDF object graph with its page operations. It is not
// safe for concurrent use.
type Document struct {
	g      *graph.Graph
	log    observability.Logger
	closer func() error
}

// Open memory-maps the file at path read-only and parses it. Close
// releases the mapping.
func Open(path string, opts ...Option) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "open")
	}
	if st.Size() == 0 {
		f.Close()
		return nil, errors.Wrap(ErrEmptyFile, path)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "open: map file")
	}
	closer := func() error {
		uerr := m.Unmap()
		if cerr := f.Close(); uerr == nil {
			uerr = cerr
		}
		return uerr
	}
	doc, err := Read(bytes.NewReader(m), int64(len(m)), opts...)
	if err != nil {
		closer()
		return nil, err
	}
	doc.closer = closer
	return doc, nil
}

// Read parses a document from r. Objects are loaded on demand, so r must
// stay readable until the Document is no longer used.
func Read(r io.ReaderAt, size int64, opts ...Option) (*Document, error) {
	if size == 0 {
		return nil, ErrEmptyFile
	}
	o := collect(opts)
	g, err := graph.Open(r, size, graph.Config{
		Password: o.password,
		Recovery: o.recovery,
		Limits:   o.limits,
		Logger:   o.logger,
	})
	if err != nil {
		return nil, err
	}
	return &Document{g: g, log: o.logger}, nil
}

// New returns an empty document with a page tree and no pages.
func New(opts ...Option) *Document {
	o := collect(opts)
	g := graph.New()
	pages.NewTree(g, nil)
	return &Document{g: g, log: o.logger}
}

// Close releases the memory mapping of a document from Open. It is a no-op
// otherwise.
func (d *Document) Close() error {
	if d.closer == nil {
		return nil
	}
	err := d.closer()
	d.closer = nil
	return err
}

// Graph exposes the underlying object graph.
func (d *Document) Graph() *graph.Graph { return d.g }

// Pages lists every page. A cycle in the page tree is logged and the
// pages outside it are returned.
func (d *Document) Pages() ([]pages.Page, error) {
	list, err := pages.Enumerate(d.g)
	if errors.Is(err, pages.ErrCyclicPageTree) {
		d.log.Warn("page tree has a cycle", observability.Int("pages", len(list)), observability.Error("error", err))
		return list, nil
	}
	return list, err
}

func (d *Document) PageCount() (int, error) { return pages.Count(d.g) }

func (d *Document) Page(i int) (pages.Page, error) { return pages.Get(d.g, i) }

// ExtractText returns the text of every page.
func (d *Document) ExtractText(opts extractor.Options) ([]extractor.PageText, error) {
	return extractor.New(d.g, d.withLogger(opts)).Document()
}

// PageText returns the text of page i.
func (d *Document) PageText(i int, opts extractor.Options) (string, error) {
	p, err := d.Page(i)
	if err != nil {
		return "", err
	}
	return extractor.New(d.g, d.withLogger(opts)).Page(p)
}

func (d *Document) withLogger(opts extractor.Options) extractor.Options {
	if opts.Logger == nil {
		opts.Logger = d.log
	}
	return opts
}

// Rotate adds degrees, a multiple of 90, to the /Rotate of page i. The
// content is untouched; viewers turn the page when displaying it.
func (d *Document) Rotate(i, degrees int) error {
	p, err := d.Page(i)
	if err != nil {
		return err
	}
	return pages.SetRotation(d.g, &p, degrees)
}

// RotateContent turns the content of page i clockwise and resizes the page
// boxes to hold it.
func (d *Document) RotateContent(i int, degrees float64) error {
	p, err := d.Page(i)
	if err != nil {
		return err
	}
	return editor.Rotate(d.g, &p, degrees)
}

// Scale resizes page i and its content.
func (d *Document) Scale(i int, sx, sy float64) error {
	p, err := d.Page(i)
	if err != nil {
		return err
	}
	return editor.Scale(d.g, &p, sx, sy)
}

// Merge draws page j of src onto page i. src may be d itself.
func (d *Document) Merge(i int, src *Document, j int, opts editor.MergeOptions) error {
	base, err := d.Page(i)
	if err != nil {
		return err
	}
	overlay, err := src.Page(j)
	if err != nil {
		return errors.Wrap(err, "overlay")
	}
	return editor.MergePage(d.g, &base, src.g, overlay, opts)
}

// Watermark stamps text on the given pages, or on every page when none
// are named.
func (d *Document) Watermark(opts editor.StampOptions, indices ...int) error {
	list, err := d.selectPages(indices)
	if err != nil {
		return err
	}
	for i := range list {
		if err := editor.Stamp(d.g, &list[i], opts); err != nil {
			return errors.Wrapf(err, "watermark page %d", list[i].Index)
		}
	}
	return nil
}

// Redact removes what page i paints inside r and returns the number of
// removed operations.
func (d *Document) Redact(i int, r coords.Rect, opts editor.RedactOptions) (int, error) {
	p, err := d.Page(i)
	if err != nil {
		return 0, err
	}
	if opts.Logger == nil {
		opts.Logger = d.log
	}
	return editor.RemoveRect(d.g, &p, r, opts)
}

// Split returns a new document holding copies of the given pages in the
// given order. Inherited attributes are copied onto each page.
func (d *Document) Split(indices ...int) (*Document, error) {
	out := New(WithLogger(d.log))
	out.g.SetVersion(d.g.Version())
	if err := out.AppendPages(d, indices...); err != nil {
		return nil, err
	}
	return out, nil
}

// AppendPages copies the given pages of src, or all of them when none are
// named, to the end of d. src may be d itself.
func (d *Document) AppendPages(src *Document, indices ...int) error {
	list, err := src.selectPages(indices)
	if err != nil {
		return err
	}
	for _, p := range list {
		page := pages.Materialize(p)
		if src.g == d.g {
			if _, err := pages.Append(d.g, page); err != nil {
				return errors.Wrapf(err, "append page %d", p.Index)
			}
			continue
		}
		ref := d.g.Allocate()
		cp, err := d.g.ImportWith(src.g, page, importOptions(p.Ref, ref))
		if err != nil {
			d.g.Delete(ref)
			return errors.Wrapf(err, "copy page %d", p.Index)
		}
		d.g.Replace(ref, cp)
		if err := pages.AppendRef(d.g, raw.RefObj{R: ref}); err != nil {
			d.g.Delete(ref)
			return errors.Wrapf(err, "append page %d", p.Index)
		}
	}
	d.log.Debug("pages appended", observability.Int("count", len(list)))
	return nil
}

// importOptions points references back at the source page, such as an
// annotation's /P, at its copy, and copies other page tree nodes reached
// through links without their /Parent.
func importOptions(from, to raw.ObjectRef) graph.ImportOptions {
	return graph.ImportOptions{
		Remap: map[raw.ObjectRef]raw.ObjectRef{from: to},
		Skip: func(d *raw.DictObj, key string) bool {
			if key != "Parent" {
				return false
			}
			typ, _ := d.GetName("Type")
			return typ == "Page" || typ == "Pages"
		},
	}
}

func (d *Document) selectPages(indices []int) ([]pages.Page, error) {
	if len(indices) == 0 {
		return d.Pages()
	}
	out := make([]pages.Page, 0, len(indices))
	for _, i := range indices {
		p, err := d.Page(i)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Write renders the document to w.
func (d *Document) Write(w io.Writer, cfg writer.Config) error {
	if cfg.Logger == nil {
		cfg.Logger = d.log
	}
	return writer.New(cfg).Write(d.g, w)
}

// WriteFile renders the document to the file at path.
func (d *Document) WriteFile(path string, cfg writer.Config) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "write file")
	}
	if err := d.Write(f, cfg); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "write file")
}
