// Package graph owns the objects of one document: it loads them lazily
// through the cross-reference table, decrypts and caches them, decodes
// stream payloads once, and supports the edits the writer later persists.
//
// A Graph is not safe for concurrent use.
package graph

import (
	"io"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/filters"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/parser"
	"github.com/wudi/pdfcore/recovery"
	"github.com/wudi/pdfcore/security"
	"github.com/wudi/pdfcore/xref"
)

var (
	// ErrMissingObject reports a reference with no object behind it.
	ErrMissingObject = errors.New("missing object")
	// ErrCyclicReference reports a reference met again while it is being resolved.
	ErrCyclicReference = errors.New("cyclic reference")
)

type Config struct {
	// Password authenticates encrypted documents, as user or owner password.
	Password string
	Recovery recovery.Strategy
	Limits   security.Limits
	Logger   observability.Logger
}

type Graph struct {
	src  io.ReaderAt
	size int64
	cfg  Config
	log  observability.Logger

	resolver *xref.Resolver
	table    *xref.Table
	repaired *xref.Table
	trailer  *raw.DictObj
	version  string

	objects    map[raw.ObjectRef]raw.Object
	inProgress *bitset.BitSet
	objStms    map[int][]parser.ObjectStreamEntry
	decoded    map[*raw.StreamObj][]byte
	pipeline   *filters.Pipeline

	handler    security.Handler
	encryptRef raw.ObjectRef
	nextNum    int
}

const defaultVersion = "1.7"

// New returns an empty graph for building a document from scratch.
func New() *Graph {
	return newGraph(Config{})
}

func newGraph(cfg Config) *Graph {
	cfg.Limits = cfg.Limits.WithDefaults()
	return &Graph{
		cfg:        cfg,
		log:        observability.OrNop(cfg.Logger),
		trailer:    raw.Dict(),
		version:    defaultVersion,
		objects:    make(map[raw.ObjectRef]raw.Object),
		inProgress: bitset.New(64),
		objStms:    make(map[int][]parser.ObjectStreamEntry),
		decoded:    make(map[*raw.StreamObj][]byte),
		pipeline:   filters.NewPipeline(nil, filters.Limits{MaxDecompressedSize: cfg.Limits.MaxDecompressedSize}),
		handler:    security.NoopHandler(),
		nextNum:    1,
	}
}

// Open reads the cross-reference data of the size bytes of r and, for
// encrypted files, authenticates cfg.Password. Objects are loaded on demand.
func Open(r io.ReaderAt, size int64, cfg Config) (*Graph, error) {
	g := newGraph(cfg)
	g.src, g.size = r, size
	if v := parser.HeaderVersion(r); v != "" {
		g.version = v
	}
	g.resolver = xref.NewResolver(xref.ResolverConfig{
		MaxXRefDepth: g.cfg.Limits.MaxXRefDepth,
		Recovery:     cfg.Recovery,
		Logger:       cfg.Logger,
		Filters:      g.pipeline,
	})
	table, err := g.resolver.Resolve(r, size)
	if err != nil {
		return nil, errors.Wrap(err, "read cross-reference data")
	}
	g.table = table
	g.trailer = table.Trailer()
	g.nextNum = table.Size()
	if g.nextNum < 1 {
		g.nextNum = 1
	}
	if err := g.setupEncryption(); err != nil {
		return nil, err
	}
	g.log.Debug("document opened",
		observability.String("version", g.version),
		observability.Int("objects", len(table.Objects())),
		observability.Int("revisions", table.Sections()),
	)
	return g, nil
}

func (g *Graph) setupEncryption() error {
	encObj, ok := g.trailer.Get("Encrypt")
	if !ok {
		return nil
	}
	if ref, ok := encObj.(raw.RefObj); ok {
		g.encryptRef = ref.R
	}
	// the handler is still the no-op one here, so nothing gets decrypted
	encObj, err := g.Deref(encObj)
	if err != nil {
		return err
	}
	encDict, ok := encObj.(*raw.DictObj)
	if !ok {
		return errors.Wrap(security.ErrUnsupportedEncryption, "/Encrypt is not a dictionary")
	}
	h, err := security.Open(encDict, g.FileID(), g.cfg.Password)
	if err != nil {
		return errors.Wrap(err, "open encrypted document")
	}
	g.handler = h
	// objects cached while reading /Encrypt must not stay undecrypted
	for ref := range g.objects {
		if ref != g.encryptRef {
			delete(g.objects, ref)
		}
	}
	g.log.Debug("encryption handler ready", observability.Int("revision", h.Revision()))
	return nil
}

// FileID returns the first string of the trailer /ID array.
func (g *Graph) FileID() []byte {
	arr, ok := g.trailer.GetArray("ID")
	if !ok || arr.Len() == 0 {
		return nil
	}
	if s, ok := arr.Items[0].(raw.StringObj); ok {
		return s.Bytes
	}
	return nil
}

func (g *Graph) Trailer() *raw.DictObj     { return g.trailer }
func (g *Graph) Handler() security.Handler { return g.handler }
func (g *Graph) Logger() observability.Logger {
	return g.log
}

// Table returns the cross-reference table, or nil for a graph built with New.
func (g *Graph) Table() *xref.Table { return g.table }

// Version is the later of the header version and the catalog /Version.
func (g *Graph) Version() string {
	v := g.version
	if cat, err := g.Catalog(); err == nil {
		if cv, ok := cat.GetName("Version"); ok && cv > v {
			v = cv
		}
	}
	return v
}

func (g *Graph) SetVersion(v string) { g.version = v }

// Catalog resolves the trailer /Root.
func (g *Graph) Catalog() (*raw.DictObj, error) {
	root, ok := g.trailer.Get("Root")
	if !ok {
		return nil, errors.Wrap(ErrMissingObject, "trailer has no /Root")
	}
	obj, err := g.Deref(root)
	if err != nil {
		return nil, err
	}
	cat, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, errors.Wrapf(ErrMissingObject, "/Root resolves to %s", obj.Type())
	}
	if typ, ok := cat.GetName("Type"); ok && typ != "Catalog" {
		g.log.Warn("document catalog has unexpected /Type", observability.String("type", typ))
	}
	return cat, nil
}

// Resolve returns the object behind ref. Missing and free objects are Null;
// so is a reference met again while it is still being loaded.
func (g *Graph) Resolve(ref raw.ObjectRef) (raw.Object, error) {
	if obj, ok := g.objects[ref]; ok {
		return obj, nil
	}
	if ref.Num <= 0 || g.table == nil {
		return g.missing(ref), nil
	}
	n := uint(ref.Num)
	if g.inProgress.Test(n) {
		g.log.Warn("reference resolved while in progress",
			observability.Error("error", errors.Wrapf(ErrCyclicReference, "%s", ref)))
		return raw.NullObj{}, nil
	}
	g.inProgress.Set(n)
	defer g.inProgress.Clear(n)

	obj, err := g.load(ref)
	if err != nil {
		return nil, err
	}
	g.objects[ref] = obj
	return obj, nil
}

func (g *Graph) missing(ref raw.ObjectRef) raw.Object {
	g.log.Debug("reference has no object", observability.Error("error", errors.Wrapf(ErrMissingObject, "%s", ref)))
	return raw.NullObj{}
}

// Deref follows references until it reaches a direct object.
func (g *Graph) Deref(obj raw.Object) (raw.Object, error) {
	var seen map[raw.ObjectRef]bool
	for {
		ref, ok := obj.(raw.RefObj)
		if !ok {
			if obj == nil {
				return raw.NullObj{}, nil
			}
			return obj, nil
		}
		if seen == nil {
			seen = make(map[raw.ObjectRef]bool)
		}
		if seen[ref.R] {
			g.log.Warn("reference chain loops", observability.Error("error", errors.Wrapf(ErrCyclicReference, "%s", ref.R)))
			return raw.NullObj{}, nil
		}
		seen[ref.R] = true
		next, err := g.Resolve(ref.R)
		if err != nil {
			return nil, err
		}
		obj = next
	}
}

// ResolveDeep returns a copy of obj with every reference replaced by the
// object it names. A reference to an object already being expanded becomes
// Null, as does anything nested deeper than the indirect depth limit.
func (g *Graph) ResolveDeep(obj raw.Object) (raw.Object, error) {
	return g.deep(obj, make(map[raw.ObjectRef]bool), 0)
}

func (g *Graph) deep(obj raw.Object, active map[raw.ObjectRef]bool, depth int) (raw.Object, error) {
	switch o := obj.(type) {
	case raw.RefObj:
		if active[o.R] || depth >= g.cfg.Limits.MaxIndirectDepth {
			return raw.NullObj{}, nil
		}
		target, err := g.Resolve(o.R)
		if err != nil {
			return nil, err
		}
		active[o.R] = true
		defer delete(active, o.R)
		return g.deep(target, active, depth+1)
	case *raw.ArrayObj:
		out := &raw.ArrayObj{Items: make([]raw.Object, len(o.Items))}
		for i, it := range o.Items {
			v, err := g.deep(it, active, depth)
			if err != nil {
				return nil, err
			}
			out.Items[i] = v
		}
		return out, nil
	case *raw.DictObj:
		return g.deepDict(o, active, depth)
	case *raw.StreamObj:
		d, err := g.deepDict(o.Dict, active, depth)
		if err != nil {
			return nil, err
		}
		return &raw.StreamObj{Dict: d.(*raw.DictObj), Data: o.Data}, nil
	}
	return raw.Clone(obj), nil
}

func (g *Graph) deepDict(d *raw.DictObj, active map[raw.ObjectRef]bool, depth int) (raw.Object, error) {
	out := raw.Dict()
	for k, v := range d.KV {
		rv, err := g.deep(v, active, depth)
		if err != nil {
			return nil, err
		}
		out.Set(k, rv)
	}
	return out, nil
}

// Dict dereferences obj and reports whether it is a dictionary. Stream
// dictionaries count. Resolution errors are logged.
func (g *Graph) Dict(obj raw.Object) (*raw.DictObj, bool) {
	switch o := g.deref(obj).(type) {
	case *raw.DictObj:
		return o, true
	case *raw.StreamObj:
		return o.Dict, true
	}
	return nil, false
}

func (g *Graph) Array(obj raw.Object) (*raw.ArrayObj, bool) {
	a, ok := g.deref(obj).(*raw.ArrayObj)
	return a, ok
}

func (g *Graph) Stream(obj raw.Object) (*raw.StreamObj, bool) {
	s, ok := g.deref(obj).(*raw.StreamObj)
	return s, ok
}

func (g *Graph) Number(obj raw.Object) (float64, bool) {
	n, ok := g.deref(obj).(raw.NumberObj)
	return n.Float(), ok
}

func (g *Graph) Name(obj raw.Object) (string, bool) {
	n, ok := g.deref(obj).(raw.NameObj)
	return n.Val, ok
}

func (g *Graph) deref(obj raw.Object) raw.Object {
	out, err := g.Deref(obj)
	if err != nil {
		g.log.Warn("dereference failed", observability.Error("error", err))
		return raw.NullObj{}
	}
	return out
}

// StreamData returns the decoded payload of st, decoding it only once.
// Streams ending in an image codec filter come back still encoded by that
// codec.
func (g *Graph) StreamData(st *raw.StreamObj) ([]byte, error) {
	if st == nil {
		return nil, nil
	}
	if data, ok := g.decoded[st]; ok {
		return data, nil
	}
	dict := st.Dict
	// /Filter and /DecodeParms may themselves be references
	if hasRef(dict.KV["Filter"]) || hasRef(dict.KV["DecodeParms"]) || hasRef(dict.KV["F"]) || hasRef(dict.KV["DP"]) {
		dict = dict.Clone()
		for _, k := range []string{"Filter", "DecodeParms", "F", "DP"} {
			if v, ok := dict.Get(k); ok {
				rv, err := g.ResolveDeep(v)
				if err != nil {
					return nil, err
				}
				dict.Set(k, rv)
			}
		}
	}
	names, params := filtersOf(dict)
	// a leading /Crypt entry was applied when the object was loaded
	if len(names) > 0 && names[0] == "Crypt" {
		names, params = names[1:], params[1:]
	}
	data, rest, err := g.pipeline.Decode(st.Data, names, params)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		g.log.Debug("stream left encoded for image codec", observability.String("filter", rest[0]))
	}
	g.decoded[st] = data
	return data, nil
}

// filtersOf is filters.ExtractFilters with one parameter slot per filter.
func filtersOf(dict *raw.DictObj) ([]string, []*raw.DictObj) {
	names, params := filters.ExtractFilters(dict)
	for len(params) < len(names) {
		params = append(params, nil)
	}
	return names, params[:len(names)]
}

func hasRef(obj raw.Object) bool { return obj != nil && len(raw.Refs(obj)) > 0 }

func (g *Graph) recover(err error, ref raw.ObjectRef, offset int64) bool {
	loc := recovery.Location{ByteOffset: offset, ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "graph"}
	g.log.Debug("object load failed", observability.String("at", loc.String()), observability.Error("error", err))
	if g.cfg.Recovery == nil {
		return true
	}
	return g.cfg.Recovery.OnError(err, loc).Continue()
}
