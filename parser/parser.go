package parser

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/recovery"
	"github.com/wudi/pdfcore/scanner"
)

// ErrMalformedSyntax reports a token sequence that does not form an object.
var ErrMalformedSyntax = errors.New("malformed syntax")

// Config controls object parsing.
type Config struct {
	Recovery recovery.Strategy
	Logger   observability.Logger
	// MaxDepth bounds array/dictionary nesting.
	MaxDepth int
}

const defaultMaxDepth = 256

// LengthResolver resolves an indirect stream /Length while the stream
// dictionary is being parsed.
type LengthResolver func(ref raw.ObjectRef) (int64, bool)

// Parser turns a token stream into objects.
type Parser struct {
	s        scanner.Scanner
	cfg      Config
	log      observability.Logger
	buf      []scanner.Token
	objNum   int
	objGen   int
	depth    int
	maxDepth int
	fatal    error
}

func New(s scanner.Scanner, cfg Config) *Parser {
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	return &Parser{s: s, cfg: cfg, log: observability.OrNop(cfg.Logger), maxDepth: maxDepth}
}

// NewBytes parses objects from an in-memory buffer.
func NewBytes(b []byte, scfg scanner.Config, cfg Config) *Parser {
	if scfg.Recovery == nil {
		scfg.Recovery = cfg.Recovery
	}
	return New(scanner.NewBytes(b, scfg), cfg)
}

// Scanner exposes the underlying scanner.
func (p *Parser) Scanner() scanner.Scanner { return p.s }

// NextToken returns the next token, honouring unread tokens first.
func (p *Parser) NextToken() (scanner.Token, error) {
	if l := len(p.buf); l > 0 {
		t := p.buf[l-1]
		p.buf = p.buf[:l-1]
		return t, nil
	}
	return p.s.Next()
}

// Unread pushes tok back so the next NextToken returns it.
func (p *Parser) Unread(tok scanner.Token) { p.buf = append(p.buf, tok) }

// Seek repositions the parser and drops any unread tokens.
func (p *Parser) Seek(offset int64) error {
	p.buf = p.buf[:0]
	return p.s.Seek(offset)
}

// ParseObject parses one direct object. Stream payloads are only attached by
// ParseIndirect.
func (p *Parser) ParseObject() (raw.Object, error) {
	tok, err := p.NextToken()
	if err != nil {
		return nil, err
	}
	p.fatal = nil
	obj, err := p.objectFrom(tok)
	if p.fatal != nil {
		return nil, p.fatal
	}
	return obj, err
}

func (p *Parser) objectFrom(tok scanner.Token) (raw.Object, error) {
	switch tok.Type {
	case scanner.TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return raw.NumberInt(tok.Int), nil
		}
		return raw.NumberFloat(tok.Float), nil
	case scanner.TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case scanner.TokenNull:
		return raw.NullObj{}, nil
	case scanner.TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenRef:
		return raw.RefObj{R: tok.Ref}, nil
	case scanner.TokenArray:
		return p.parseArray()
	case scanner.TokenDict:
		return p.parseDict()
	}
	return nil, errors.Wrapf(ErrMalformedSyntax, "unexpected %s %q at offset %d", tok.Type, tok.Str, tok.Pos)
}

func (p *Parser) enter() error {
	p.depth++
	if p.depth > p.maxDepth {
		p.fatal = errors.Wrapf(ErrMalformedSyntax, "nesting deeper than %d", p.maxDepth)
		return p.fatal
	}
	return nil
}

func (p *Parser) parseArray() (raw.Object, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer func() { p.depth-- }()
	arr := &raw.ArrayObj{}
	for {
		tok, err := p.NextToken()
		if err == io.EOF || isObjectEnd(tok) {
			if err == nil {
				p.Unread(tok)
			}
			if rerr := p.recover(errors.Wrap(ErrMalformedSyntax, "unterminated array"), tok.Pos); rerr != nil {
				return nil, rerr
			}
			return arr, nil
		}
		if err != nil {
			return nil, err
		}
		if tok.IsKeyword("]") {
			return arr, nil
		}
		item, err := p.objectFrom(tok)
		if p.fatal != nil {
			return nil, p.fatal
		}
		if err != nil {
			if rerr := p.recover(err, tok.Pos); rerr != nil {
				return nil, rerr
			}
			continue
		}
		arr.Append(item)
	}
}

func (p *Parser) parseDict() (raw.Object, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer func() { p.depth-- }()
	d := raw.Dict()
	for {
		tok, err := p.NextToken()
		if err == io.EOF || isObjectEnd(tok) {
			if err == nil {
				p.Unread(tok)
			}
			if rerr := p.recover(errors.Wrap(ErrMalformedSyntax, "unterminated dictionary (missing >>)"), tok.Pos); rerr != nil {
				return nil, rerr
			}
			return d, nil
		}
		if err != nil {
			return nil, err
		}
		if tok.IsKeyword(">>") {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			if rerr := p.recover(errors.Wrapf(ErrMalformedSyntax, "dictionary key is a %s", tok.Type), tok.Pos); rerr != nil {
				return nil, rerr
			}
			continue
		}
		key := tok.Str
		vtok, err := p.NextToken()
		if err != nil && err != io.EOF {
			return nil, err
		}
		if err == io.EOF || vtok.IsKeyword(">>") || isObjectEnd(vtok) {
			// key without a value
			if err == nil {
				p.Unread(vtok)
			}
			if rerr := p.recover(errors.Wrapf(ErrMalformedSyntax, "no value for /%s", key), tok.Pos); rerr != nil {
				return nil, rerr
			}
			continue
		}
		val, err := p.objectFrom(vtok)
		if p.fatal != nil {
			return nil, p.fatal
		}
		if err != nil {
			if rerr := p.recover(err, vtok.Pos); rerr != nil {
				return nil, rerr
			}
			continue
		}
		// a null value is equivalent to an absent key
		if _, isNull := val.(raw.NullObj); isNull {
			continue
		}
		d.Set(key, val)
	}
}

func isObjectEnd(tok scanner.Token) bool {
	return tok.IsKeyword("endobj") || tok.Type == scanner.TokenStream || tok.IsKeyword("obj")
}

// ParseIndirect reads "N G obj <object> endobj" at offset. When expect is
// non-zero the header must name that object. A dictionary followed by stream
// data becomes a *raw.StreamObj whose payload length comes from /Length,
// resolved through lengthOf when it is an indirect reference.
func (p *Parser) ParseIndirect(offset int64, expect raw.ObjectRef, lengthOf LengthResolver) (raw.ObjectRef, raw.Object, error) {
	if err := p.Seek(offset); err != nil {
		return raw.ObjectRef{}, nil, errors.Wrap(ErrMalformedSyntax, err.Error())
	}
	ref, err := p.parseHeader()
	if err != nil {
		return raw.ObjectRef{}, nil, errors.Wrapf(err, "object header at offset %d", offset)
	}
	if expect.Num != 0 && (ref.Num != expect.Num || ref.Gen != expect.Gen) {
		return ref, nil, errors.Wrapf(ErrMalformedSyntax, "offset %d holds %d %d obj, want %d %d", offset, ref.Num, ref.Gen, expect.Num, expect.Gen)
	}
	p.objNum, p.objGen = ref.Num, ref.Gen
	p.s.SetRecoveryLocation(recovery.Location{ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "parser"})
	defer func() {
		p.objNum, p.objGen = 0, 0
		p.s.SetRecoveryLocation(recovery.Location{})
	}()

	obj, err := p.ParseObject()
	if err != nil {
		return ref, nil, errors.Wrapf(err, "object %d %d", ref.Num, ref.Gen)
	}
	if dict, ok := obj.(*raw.DictObj); ok && len(p.buf) == 0 {
		p.s.SetNextStreamLength(streamLength(dict, lengthOf))
	}
	tok, err := p.NextToken()
	p.s.SetNextStreamLength(-1)
	if err != nil {
		if err == io.EOF {
			return ref, obj, nil
		}
		return ref, nil, err
	}
	if tok.Type == scanner.TokenStream {
		dict, ok := obj.(*raw.DictObj)
		if !ok {
			return ref, nil, errors.Wrapf(ErrMalformedSyntax, "object %d %d: stream data without dictionary", ref.Num, ref.Gen)
		}
		obj = raw.NewStream(dict, tok.Bytes)
		if tok, err = p.NextToken(); err != nil {
			return ref, obj, nil
		}
	}
	if !tok.IsKeyword("endobj") {
		p.Unread(tok)
		if rerr := p.recover(errors.Wrapf(ErrMalformedSyntax, "object %d %d: missing endobj", ref.Num, ref.Gen), tok.Pos); rerr != nil {
			return ref, nil, rerr
		}
	}
	return ref, obj, nil
}

func (p *Parser) parseHeader() (raw.ObjectRef, error) {
	num, err := p.NextToken()
	if err != nil {
		return raw.ObjectRef{}, errors.Wrap(ErrMalformedSyntax, err.Error())
	}
	gen, err := p.NextToken()
	if err != nil {
		return raw.ObjectRef{}, errors.Wrap(ErrMalformedSyntax, err.Error())
	}
	kw, err := p.NextToken()
	if err != nil {
		return raw.ObjectRef{}, errors.Wrap(ErrMalformedSyntax, err.Error())
	}
	if num.Type != scanner.TokenNumber || !num.IsInt || num.Int <= 0 ||
		gen.Type != scanner.TokenNumber || !gen.IsInt || gen.Int < 0 ||
		!kw.IsKeyword("obj") {
		return raw.ObjectRef{}, errors.Wrap(ErrMalformedSyntax, "expected 'N G obj'")
	}
	return raw.ObjectRef{Num: int(num.Int), Gen: int(gen.Int)}, nil
}

func streamLength(dict *raw.DictObj, lengthOf LengthResolver) int64 {
	switch v := dict.KV["Length"].(type) {
	case raw.NumberObj:
		if v.IsInt && v.I >= 0 {
			return v.I
		}
	case raw.RefObj:
		if lengthOf != nil {
			if n, ok := lengthOf(v.R); ok && n >= 0 {
				return n
			}
		}
	}
	return -1
}

func (p *Parser) recover(err error, offset int64) error {
	loc := recovery.Location{ByteOffset: offset, ObjectNum: p.objNum, ObjectGen: p.objGen, Component: "parser"}
	p.log.Debug("parse error", observability.String("at", loc.String()), observability.Error("error", err))
	if p.cfg.Recovery == nil || p.cfg.Recovery.OnError(err, loc).Continue() {
		return nil
	}
	return err
}

// ObjectStreamEntry is one object held by an /ObjStm container.
type ObjectStreamEntry struct {
	Num int
	Obj raw.Object
}

// ParseObjectStream splits the decoded payload of an object stream into its
// objects. n and first are the container's /N and /First values.
func ParseObjectStream(data []byte, n, first int, cfg Config) ([]ObjectStreamEntry, error) {
	if first < 0 || first > len(data) {
		return nil, errors.Wrapf(ErrMalformedSyntax, "object stream /First %d outside %d bytes", first, len(data))
	}
	hp := NewBytes(data[:first], scanner.Config{}, cfg)
	pairs := make([][2]int, 0, n)
	for len(pairs) < n {
		a, err := hp.NextToken()
		if err != nil {
			break
		}
		b, err := hp.NextToken()
		if err != nil {
			break
		}
		if a.Type != scanner.TokenNumber || b.Type != scanner.TokenNumber || !a.IsInt || !b.IsInt {
			return nil, errors.Wrap(ErrMalformedSyntax, "object stream header is not integer pairs")
		}
		pairs = append(pairs, [2]int{int(a.Int), int(b.Int)})
	}
	if len(pairs) < n {
		if rerr := (&Parser{cfg: cfg, log: observability.OrNop(cfg.Logger)}).recover(
			errors.Wrapf(ErrMalformedSyntax, "object stream declares %d objects, header has %d", n, len(pairs)), 0); rerr != nil {
			return nil, rerr
		}
	}
	body := data[first:]
	out := make([]ObjectStreamEntry, 0, len(pairs))
	for _, pr := range pairs {
		off := pr[1]
		if off < 0 || off > len(body) {
			return nil, errors.Wrapf(ErrMalformedSyntax, "object %d offset %d outside object stream", pr[0], off)
		}
		bp := NewBytes(body[off:], scanner.Config{}, cfg)
		bp.objNum = pr[0]
		obj, err := bp.ParseObject()
		if err != nil {
			return nil, errors.Wrapf(err, "object %d in object stream", pr[0])
		}
		out = append(out, ObjectStreamEntry{Num: pr[0], Obj: obj})
	}
	return out, nil
}

// HeaderVersion returns the version from a leading "%PDF-x.y" comment, or ""
// when the first kilobyte holds none.
func HeaderVersion(r io.ReaderAt) string {
	buf := make([]byte, 1024)
	n, _ := r.ReadAt(buf, 0)
	buf = buf[:n]
	i := bytes.Index(buf, []byte("%PDF-"))
	if i < 0 {
		return ""
	}
	v := buf[i+5:]
	end := 0
	for end < len(v) && (v[end] == '.' || (v[end] >= '0' && v[end] <= '9')) {
		end++
	}
	return string(v[:end])
}
