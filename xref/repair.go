package xref

import (
	"io"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/filters"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/parser"
	"github.com/wudi/pdfcore/recovery"
	"github.com/wudi/pdfcore/scanner"
)

// Repair rebuilds the table by scanning the whole file for "N G obj"
// headers. Later definitions of the same object win. The trailer is the
// last trailer dictionary or xref stream dictionary that names a /Root; if
// there is none, a catalog found during the scan becomes the /Root.
func (r *Resolver) Repair(src io.ReaderAt, size int64) (*Table, error) {
	lenient := recovery.NewLenientStrategy(nil)
	s := scanner.New(src, scanner.Config{Recovery: lenient})
	p := parser.New(s, parser.Config{Recovery: lenient, Logger: r.cfg.Logger})

	t := NewTable()
	t.repaired = true
	t.sections = 1
	packed := make(map[int]Entry)
	var trailer *raw.DictObj
	var catalog, info raw.ObjectRef

	// the two tokens before the current one
	var back [2]scanner.Token
	for {
		at := s.Position()
		tok, err := p.NextToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			if s.Position() == at {
				break
			}
			back = [2]scanner.Token{}
			continue
		}
		switch {
		case tok.IsKeyword("obj") && isUint(back[0]) && isUint(back[1]) && back[1].Int > 0:
			num, gen := int(back[1].Int), int(back[0].Int)
			t.Set(num, Entry{Kind: InUse, Offset: back[1].Pos, Gen: gen})
			obj, err := p.ParseObject()
			if err != nil {
				break
			}
			d, ok := obj.(*raw.DictObj)
			if !ok {
				break
			}
			switch typ, _ := d.GetName("Type"); typ {
			case "Catalog":
				catalog = raw.ObjectRef{Num: num, Gen: gen}
			case "XRef":
				if _, ok := d.GetRef("Root"); ok {
					trailer = d
				}
			case "ObjStm":
				if next, err := p.NextToken(); err == nil {
					if next.Type == scanner.TokenStream {
						r.indexObjectStream(num, raw.NewStream(d, next.Bytes), packed)
					} else {
						p.Unread(next)
					}
				}
			}
			if _, ok := d.Get("Producer"); ok && info.Num == 0 {
				info = raw.ObjectRef{Num: num, Gen: gen}
			}
		case tok.IsKeyword("trailer"):
			obj, err := p.ParseObject()
			if err == nil {
				if d, ok := obj.(*raw.DictObj); ok {
					if _, ok := d.GetRef("Root"); ok || trailer == nil {
						trailer = d
					}
				}
			}
		}
		back[1], back[0] = back[0], tok
		if tok.IsKeyword("obj") {
			back = [2]scanner.Token{}
		}
	}
	for num, e := range packed {
		t.setIfAbsent(num, e)
	}
	if len(t.entries) == 0 {
		return nil, errors.Wrap(ErrInvalidXRef, "repair found no objects")
	}
	if trailer != nil {
		t.mergeTrailer(trailer)
	}
	if _, ok := t.trailer.GetRef("Root"); !ok {
		if catalog.Num == 0 {
			return nil, errors.Wrap(ErrInvalidXRef, "repair found no document catalog")
		}
		t.trailer.Set("Root", raw.RefObj{R: catalog})
		if info.Num != 0 {
			t.trailer.Set("Info", raw.RefObj{R: info})
		}
	}
	t.trailer.Set("Size", raw.NumberInt(int64(t.Size())))
	r.log.Info("cross-reference table rebuilt",
		observability.Int("objects", len(t.entries)),
		observability.Int("issues", len(lenient.Errors)),
	)
	return t, nil
}

// indexObjectStream records compressed entries for the members of an object
// stream found during repair. Encrypted containers cannot be read here and
// are skipped.
func (r *Resolver) indexObjectStream(num int, st *raw.StreamObj, packed map[int]Entry) {
	names, params := filters.ExtractFilters(st.Dict)
	data, rest, err := r.cfg.Filters.Decode(st.Data, names, params)
	if err != nil || len(rest) > 0 {
		return
	}
	n, _ := st.Dict.GetInt("N")
	first, _ := st.Dict.GetInt("First")
	members, err := parser.ParseObjectStream(data, int(n), int(first), parser.Config{Recovery: recovery.NewLenientStrategy(nil)})
	if err != nil {
		r.log.Debug("object stream unreadable during repair", observability.Int("object", num), observability.Error("error", err))
		return
	}
	for i, m := range members {
		packed[m.Num] = Entry{Kind: Compressed, Stream: num, Index: i}
	}
}
