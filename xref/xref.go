package xref

import (
	"bytes"
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/filters"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/parser"
	"github.com/wudi/pdfcore/recovery"
	"github.com/wudi/pdfcore/scanner"
)

// ErrInvalidXRef reports a cross-reference section that cannot be read.
var ErrInvalidXRef = errors.New("invalid cross-reference data")

type Kind int

const (
	Free Kind = iota
	InUse
	Compressed
)

func (k Kind) String() string {
	switch k {
	case InUse:
		return "in-use"
	case Compressed:
		return "compressed"
	}
	return "free"
}

// Entry locates one object. Offset applies to InUse, Next to Free, and
// Stream/Index to Compressed entries.
type Entry struct {
	Kind   Kind
	Offset int64
	Gen    int
	Next   int
	Stream int
	Index  int
}

// Table is the merged view of every cross-reference section of a file.
type Table struct {
	entries    map[int]Entry
	trailer    *raw.DictObj
	repaired   bool
	linearized bool
	sections   int
}

func NewTable() *Table {
	return &Table{entries: make(map[int]Entry), trailer: raw.Dict()}
}

func (t *Table) Lookup(num int) (Entry, bool) {
	e, ok := t.entries[num]
	return e, ok
}

// Set records an entry, replacing any previous one.
func (t *Table) Set(num int, e Entry) { t.entries[num] = e }

// setIfAbsent records an entry unless a newer section already did.
func (t *Table) setIfAbsent(num int, e Entry) {
	if _, ok := t.entries[num]; !ok {
		t.entries[num] = e
	}
}

// Objects lists the numbers of in-use and compressed entries in order.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for num, e := range t.entries {
		if e.Kind != Free && num > 0 {
			out = append(out, num)
		}
	}
	sort.Ints(out)
	return out
}

// Size is one more than the highest object number known.
func (t *Table) Size() int {
	size := 0
	for num := range t.entries {
		if num+1 > size {
			size = num + 1
		}
	}
	if n, ok := t.trailer.GetInt("Size"); ok && int(n) > size {
		size = int(n)
	}
	return size
}

func (t *Table) Trailer() *raw.DictObj { return t.trailer }
func (t *Table) Repaired() bool        { return t.repaired }
func (t *Table) Linearized() bool      { return t.linearized }

// Sections is the number of revisions merged into the table.
func (t *Table) Sections() int { return t.sections }

// mergeTrailer folds an older trailer into the current one.
func (t *Table) mergeTrailer(d *raw.DictObj) {
	for _, k := range d.Keys() {
		switch k {
		case "Prev", "XRefStm", "Type", "W", "Index", "Filter", "DecodeParms", "Length", "F", "DP":
			continue
		}
		if _, ok := t.trailer.Get(k); !ok {
			t.trailer.Set(k, d.KV[k])
		}
	}
}

type ResolverConfig struct {
	// MaxXRefDepth bounds the number of sections followed through /Prev.
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Logger       observability.Logger
	Filters      *filters.Pipeline
}

const (
	defaultMaxXRefDepth = 256
	tailWindow          = 1024
	sectionWindow       = 16 * 1024
)

// Resolver reads the cross-reference chain of a file and falls back to a
// full scan when the chain is damaged.
type Resolver struct {
	cfg ResolverConfig
	log observability.Logger
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = defaultMaxXRefDepth
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.NewPipeline(nil, filters.Limits{})
	}
	return &Resolver{cfg: cfg, log: observability.OrNop(cfg.Logger)}
}

// Resolve builds the table for the size bytes of r. Sections are applied
// newest first so an object keeps the definition of its latest revision.
func (r *Resolver) Resolve(src io.ReaderAt, size int64) (*Table, error) {
	t, err := r.resolveChain(src, size)
	if err == nil {
		t.linearized = isLinearized(src)
		return t, nil
	}
	loc := recovery.Location{Component: "xref"}
	if r.cfg.Recovery != nil && !r.cfg.Recovery.OnError(err, loc).Continue() {
		return nil, err
	}
	r.log.Warn("cross-reference chain unusable, scanning file", observability.Error("error", err))
	return r.Repair(src, size)
}

func (r *Resolver) resolveChain(src io.ReaderAt, size int64) (*Table, error) {
	start, err := findStartXRef(src, size)
	if err != nil {
		return nil, err
	}
	t := NewTable()
	visited := make(map[int64]bool)
	for off := start; off >= 0; {
		if visited[off] {
			r.log.Warn("xref /Prev loop", observability.Int64("offset", off))
			break
		}
		if len(visited) >= r.cfg.MaxXRefDepth {
			return nil, errors.Wrapf(ErrInvalidXRef, "more than %d sections", r.cfg.MaxXRefDepth)
		}
		visited[off] = true
		if off >= size {
			return nil, errors.Wrapf(ErrInvalidXRef, "section offset %d beyond end of file", off)
		}
		trailer, sec, err := r.readSection(src, size, off)
		if err != nil {
			return nil, errors.Wrapf(err, "section at offset %d", off)
		}
		for num, e := range sec {
			t.setIfAbsent(num, e)
		}
		t.mergeTrailer(trailer)
		t.sections++
		r.log.Debug("xref section", observability.Int64("offset", off), observability.Int("entries", len(sec)))

		prev, ok := trailer.GetInt("Prev")
		if !ok {
			break
		}
		off = prev
	}
	if _, ok := t.trailer.GetRef("Root"); !ok {
		return nil, errors.Wrap(ErrInvalidXRef, "trailer has no /Root")
	}
	return t, nil
}

// sectionParser reads from off onwards only, so a section near the end of a
// large file does not pull the whole file into the scanner.
func (r *Resolver) sectionParser(src io.ReaderAt, size, off int64) *parser.Parser {
	sr := io.NewSectionReader(src, off, size-off)
	return parser.New(scanner.New(sr, scanner.Config{WindowSize: sectionWindow}), parser.Config{Recovery: recovery.NewStrictStrategy(), Logger: r.cfg.Logger})
}

// readSection reads either a classic table or an xref stream at off.
func (r *Resolver) readSection(src io.ReaderAt, size, off int64) (*raw.DictObj, map[int]Entry, error) {
	p := r.sectionParser(src, size, off)
	tok, err := p.NextToken()
	if err != nil {
		return nil, nil, errors.Wrap(ErrInvalidXRef, err.Error())
	}
	if !tok.IsKeyword("xref") {
		return r.readStreamSection(p)
	}
	trailer, sec, err := readTable(p)
	if err != nil {
		return nil, nil, err
	}
	// hybrid file: the stream holds the objects the table hides from old readers
	if stm, ok := trailer.GetInt("XRefStm"); ok {
		if stm < 0 || stm >= size {
			return nil, nil, errors.Wrapf(ErrInvalidXRef, "/XRefStm %d outside file", stm)
		}
		_, hidden, err := r.readStreamSection(r.sectionParser(src, size, stm))
		if err != nil {
			return nil, nil, errors.Wrap(err, "/XRefStm")
		}
		for num, e := range hidden {
			if cur, ok := sec[num]; !ok || cur.Kind == Free {
				sec[num] = e
			}
		}
	}
	return trailer, sec, nil
}

func readTable(p *parser.Parser) (*raw.DictObj, map[int]Entry, error) {
	sec := make(map[int]Entry)
	for {
		tok, err := p.NextToken()
		if err != nil {
			return nil, nil, errors.Wrap(ErrInvalidXRef, "table ends before trailer")
		}
		if tok.IsKeyword("trailer") {
			break
		}
		cnt, err := p.NextToken()
		if err != nil || !isUint(tok) || !isUint(cnt) {
			return nil, nil, errors.Wrap(ErrInvalidXRef, "bad subsection header")
		}
		first := int(tok.Int)
		for i := 0; i < int(cnt.Int); i++ {
			e, err := readTableEntry(p)
			if err != nil {
				return nil, nil, err
			}
			// tables written with their first subsection off by one
			if i == 0 && first == 1 && e.Kind == Free && e.Gen == 65535 {
				first = 0
			}
			sec[first+i] = e
		}
	}
	obj, err := p.ParseObject()
	if err != nil {
		return nil, nil, errors.Wrap(err, "trailer")
	}
	trailer, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, nil, errors.Wrap(ErrInvalidXRef, "trailer is not a dictionary")
	}
	return trailer, sec, nil
}

func readTableEntry(p *parser.Parser) (Entry, error) {
	off, err1 := p.NextToken()
	gen, err2 := p.NextToken()
	kind, err3 := p.NextToken()
	if err1 != nil || err2 != nil || err3 != nil || !isUint(off) || !isUint(gen) {
		return Entry{}, errors.Wrap(ErrInvalidXRef, "truncated table entry")
	}
	switch {
	case kind.IsKeyword("n"):
		return Entry{Kind: InUse, Offset: off.Int, Gen: int(gen.Int)}, nil
	case kind.IsKeyword("f"):
		return Entry{Kind: Free, Next: int(off.Int), Gen: int(gen.Int)}, nil
	}
	return Entry{}, errors.Wrapf(ErrInvalidXRef, "entry type %q", kind.Str)
}

func isUint(t scanner.Token) bool { return t.Type == scanner.TokenNumber && t.IsInt && t.Int >= 0 }

// findStartXRef reads the offset after the last startxref keyword, looking at
// a growing window at the end of the file.
func findStartXRef(src io.ReaderAt, size int64) (int64, error) {
	kw := []byte("startxref")
	for window := int64(tailWindow); ; window *= 4 {
		if window > size {
			window = size
		}
		buf := make([]byte, window)
		n, err := src.ReadAt(buf, size-window)
		if err != nil && err != io.EOF {
			return 0, errors.Wrap(err, "read file tail")
		}
		buf = buf[:n]
		if i := bytes.LastIndex(buf, kw); i >= 0 {
			s := scanner.NewBytes(buf[i+len(kw):], scanner.Config{})
			tok, err := s.Next()
			if err != nil || !isUint(tok) {
				return 0, errors.Wrap(ErrInvalidXRef, "startxref not followed by an offset")
			}
			return tok.Int, nil
		}
		if window == size {
			return 0, errors.Wrap(ErrInvalidXRef, "startxref not found")
		}
	}
}

func isLinearized(src io.ReaderAt) bool {
	head := make([]byte, tailWindow)
	n, _ := src.ReadAt(head, 0)
	return bytes.Contains(head[:n], []byte("/Linearized"))
}
