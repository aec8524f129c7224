package graph

import (
	"io"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/parser"
	"github.com/wudi/pdfcore/scanner"
	"github.com/wudi/pdfcore/security"
	"github.com/wudi/pdfcore/xref"
)

const objectWindow = 16 * 1024

func (g *Graph) load(ref raw.ObjectRef) (raw.Object, error) {
	e, ok := g.table.Lookup(ref.Num)
	if !ok || e.Kind == xref.Free {
		return g.missing(ref), nil
	}
	switch e.Kind {
	case xref.Compressed:
		if ref.Gen != 0 {
			return g.missing(ref), nil
		}
		obj, err := g.loadCompressed(ref, e)
		if err != nil {
			if !g.recover(err, ref, 0) {
				return nil, err
			}
			return raw.NullObj{}, nil
		}
		return obj, nil
	}
	if e.Gen != ref.Gen {
		return g.missing(ref), nil
	}
	obj, err := g.loadAt(ref, e.Offset)
	if err == nil {
		return g.decrypt(ref, obj)
	}
	if !g.recover(err, ref, e.Offset) {
		return nil, err
	}
	// the offset is stale; find the object by scanning the file instead
	fixed, ok := g.repairedEntry(ref)
	if !ok || fixed.Offset == e.Offset {
		return raw.NullObj{}, nil
	}
	if obj, err = g.loadAt(ref, fixed.Offset); err != nil {
		if !g.recover(err, ref, fixed.Offset) {
			return nil, err
		}
		return raw.NullObj{}, nil
	}
	g.log.Info("object found at repaired offset",
		observability.String("ref", ref.String()),
		observability.Int64("offset", fixed.Offset))
	return g.decrypt(ref, obj)
}

func (g *Graph) repairedEntry(ref raw.ObjectRef) (xref.Entry, bool) {
	if g.repaired == nil {
		t, err := g.resolver.Repair(g.src, g.size)
		if err != nil {
			g.log.Warn("file scan failed", observability.Error("error", err))
			g.repaired = xref.NewTable()
		} else {
			g.repaired = t
		}
	}
	e, ok := g.repaired.Lookup(ref.Num)
	if !ok || e.Kind != xref.InUse || e.Gen != ref.Gen {
		return xref.Entry{}, false
	}
	return e, true
}

func (g *Graph) loadAt(ref raw.ObjectRef, off int64) (raw.Object, error) {
	if off < 0 || off >= g.size {
		return nil, errors.Wrapf(ErrMissingObject, "%s: offset %d outside file", ref, off)
	}
	sr := io.NewSectionReader(g.src, off, g.size-off)
	s := scanner.New(sr, scanner.Config{
		WindowSize:      objectWindow,
		MaxStringLength: g.cfg.Limits.MaxStringLength,
		MaxStreamLength: g.cfg.Limits.MaxStreamLength,
		Recovery:        g.cfg.Recovery,
		Logger:          g.cfg.Logger,
	})
	p := parser.New(s, g.parserConfig())
	_, obj, err := p.ParseIndirect(0, ref, g.streamLength)
	return obj, err
}

func (g *Graph) parserConfig() parser.Config {
	return parser.Config{Recovery: g.cfg.Recovery, Logger: g.cfg.Logger, MaxDepth: g.cfg.Limits.MaxNestingDepth}
}

// streamLength resolves an indirect /Length while its stream is parsed.
func (g *Graph) streamLength(ref raw.ObjectRef) (int64, bool) {
	obj, err := g.Resolve(ref)
	if err != nil {
		return 0, false
	}
	n, ok := obj.(raw.NumberObj)
	if !ok {
		return 0, false
	}
	return n.Int(), true
}

func (g *Graph) loadCompressed(ref raw.ObjectRef, e xref.Entry) (raw.Object, error) {
	entries, err := g.objectStream(e.Stream)
	if err != nil {
		return nil, err
	}
	if e.Index >= 0 && e.Index < len(entries) && entries[e.Index].Num == ref.Num {
		return entries[e.Index].Obj, nil
	}
	for _, it := range entries {
		if it.Num == ref.Num {
			return it.Obj, nil
		}
	}
	return nil, errors.Wrapf(ErrMissingObject, "%s not in object stream %d", ref, e.Stream)
}

func (g *Graph) objectStream(num int) ([]parser.ObjectStreamEntry, error) {
	if entries, ok := g.objStms[num]; ok {
		return entries, nil
	}
	obj, err := g.Resolve(raw.ObjectRef{Num: num})
	if err != nil {
		return nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, errors.Wrapf(ErrMissingObject, "object stream %d is %s", num, obj.Type())
	}
	data, err := g.StreamData(st)
	if err != nil {
		return nil, errors.Wrapf(err, "object stream %d", num)
	}
	n, _ := st.Dict.GetInt("N")
	first, _ := st.Dict.GetInt("First")
	entries, err := parser.ParseObjectStream(data, int(n), int(first), g.parserConfig())
	if err != nil {
		return nil, errors.Wrapf(err, "object stream %d", num)
	}
	g.objStms[num] = entries
	return entries, nil
}

// decrypt applies the security handler to the strings and stream payload
// of a freshly loaded object. Objects inside object streams were decrypted
// with their container.
func (g *Graph) decrypt(ref raw.ObjectRef, obj raw.Object) (raw.Object, error) {
	if !g.handler.IsEncrypted() || ref == g.encryptRef {
		return obj, nil
	}
	if st, ok := obj.(*raw.StreamObj); ok {
		if typ, _ := st.Dict.GetName("Type"); typ == "XRef" {
			return obj, nil
		}
		class := security.DataClassStream
		if typ, _ := st.Dict.GetName("Type"); typ == "Metadata" {
			class = security.DataClassMetadataStream
		}
		data, err := g.handler.DecryptWithFilter(ref.Num, ref.Gen, st.Data, class, cryptFilterName(st.Dict))
		if err != nil {
			return nil, errors.Wrapf(err, "decrypt stream %s", ref)
		}
		dict, err := g.decryptStrings(ref, st.Dict)
		if err != nil {
			return nil, err
		}
		d := dict.(*raw.DictObj)
		d.Set("Length", raw.NumberInt(int64(len(data))))
		return &raw.StreamObj{Dict: d, Data: data}, nil
	}
	return g.decryptStrings(ref, obj)
}

func (g *Graph) decryptStrings(ref raw.ObjectRef, obj raw.Object) (raw.Object, error) {
	switch o := obj.(type) {
	case raw.StringObj:
		b, err := g.handler.Decrypt(ref.Num, ref.Gen, o.Bytes, security.DataClassString)
		if err != nil {
			return nil, errors.Wrapf(err, "decrypt string in %s", ref)
		}
		return raw.StringObj{Bytes: b, Hex: o.Hex}, nil
	case *raw.ArrayObj:
		for i, it := range o.Items {
			v, err := g.decryptStrings(ref, it)
			if err != nil {
				return nil, err
			}
			o.Items[i] = v
		}
	case *raw.DictObj:
		for k, v := range o.KV {
			dv, err := g.decryptStrings(ref, v)
			if err != nil {
				return nil, err
			}
			o.KV[k] = dv
		}
	}
	return obj, nil
}

// cryptFilterName returns the crypt filter named by a leading /Crypt entry
// in the stream's filter chain, or "" for the document default.
func cryptFilterName(dict *raw.DictObj) string {
	names, params := filtersOf(dict)
	if len(names) == 0 || names[0] != "Crypt" {
		return ""
	}
	if params[0] != nil {
		if name, ok := params[0].GetName("Name"); ok {
			return name
		}
	}
	return "Identity"
}
