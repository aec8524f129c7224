package scanner

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/tdewolff/parse/v2/strconv"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/recovery"
)

// ErrMalformedToken reports a byte region that does not form a valid token.
var ErrMalformedToken = errors.New("malformed token")

type TokenType int

const (
	TokenDict        TokenType = iota // '<<'
	TokenArray                        // '['
	TokenName                         // '/Name'
	TokenString                       // literal or hex string
	TokenNumber                       // numeric value
	TokenBoolean                      // true/false
	TokenNull                         // null
	TokenRef                          // indirect ref '5 0 R'
	TokenStream                       // 'stream' keyword plus payload
	TokenInlineImage                  // inline image data following ID ... EI (content stream only)
	TokenKeyword                      // other keywords (obj, endobj, >>, ], operators)
)

var tokenNames = [...]string{"dict", "array", "name", "string", "number", "boolean", "null", "ref", "stream", "inline-image", "keyword"}

func (t TokenType) String() string {
	if int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return "unknown"
}

// Token is a single lexical unit. Only the fields relevant to Type are set.
type Token struct {
	Type  TokenType
	Pos   int64
	Str   string // names and keywords
	Bytes []byte // strings, stream and inline image payloads
	Int   int64
	Float float64
	IsInt bool
	Hex   bool
	Bool  bool
	Ref   raw.ObjectRef
}

// Number returns the numeric value of a TokenNumber.
func (t Token) Number() float64 {
	if t.IsInt {
		return float64(t.Int)
	}
	return t.Float
}

// IsKeyword reports whether t is the keyword kw.
func (t Token) IsKeyword(kw string) bool { return t.Type == TokenKeyword && t.Str == kw }

type Scanner interface {
	Next() (Token, error)
	Position() int64
	Seek(offset int64) error
	SetNextStreamLength(n int64)
	SetRecoveryLocation(loc recovery.Location)
}

type Config struct {
	MaxStringLength int64
	MaxArrayDepth   int
	MaxDictDepth    int
	MaxStreamLength int64
	MaxStreamScan   int64
	MaxInlineImage  int64
	WindowSize      int64
	Recovery        recovery.Strategy
	Logger          observability.Logger
}

// pdfScanner incrementally buffers PDF data from a ReaderAt in fixed-size windows.
type pdfScanner struct {
	reader        io.ReaderAt
	data          []byte
	pos           int64
	cfg           Config
	log           observability.Logger
	nextStreamLen int64
	chunkSize     int64
	eof           bool
	arrayDepth    int
	dictDepth     int
	recLoc        recovery.Location
}

// New returns a scanner reading r lazily, one window at a time.
func New(r io.ReaderAt, cfg Config) Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	return &pdfScanner{reader: r, cfg: cfg, log: observability.OrNop(cfg.Logger), nextStreamLen: -1, chunkSize: chunk}
}

// NewBytes scans an in-memory buffer such as a decoded content stream.
func NewBytes(b []byte, cfg Config) Scanner {
	return New(bytes.NewReader(b), cfg)
}

func (s *pdfScanner) Position() int64 { return s.pos }
func (s *pdfScanner) Seek(offset int64) error {
	if offset < 0 {
		return errors.Errorf("seek to negative offset %d", offset)
	}
	if err := s.ensure(offset - 1); err != nil && errors.Cause(err) != io.EOF {
		return err
	}
	if offset > int64(len(s.data)) {
		return errors.Errorf("seek offset %d beyond end of input (%d)", offset, len(s.data))
	}
	s.pos = offset
	s.arrayDepth, s.dictDepth = 0, 0
	s.nextStreamLen = -1
	return nil
}
func (s *pdfScanner) SetNextStreamLength(n int64)               { s.nextStreamLen = n }
func (s *pdfScanner) SetRecoveryLocation(loc recovery.Location) { s.recLoc = loc }

func (s *pdfScanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peekAhead(1) == '<' {
			s.pos += 2
			return s.emit(Token{Type: TokenDict, Str: "<<", Pos: start})
		}
		return s.scanHexString()
	case '>':
		if s.peekAhead(1) == '>' {
			s.pos += 2
			return s.emit(Token{Type: TokenKeyword, Str: ">>", Pos: start})
		}
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: ">", Pos: start})
	case '[':
		s.pos++
		return s.emit(Token{Type: TokenArray, Str: "[", Pos: start})
	case ']':
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: "]", Pos: start})
	case '{', '}':
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case ')':
		s.pos++
		if err := s.recover(errors.Wrap(ErrMalformedToken, "unbalanced ')'"), "literal"); err != nil {
			return Token{}, err
		}
		return s.Next()
	case '/':
		return s.scanName()
	}
	if isDigitStart(c) {
		return s.scanNumberOrRef()
	}
	return s.scanKeyword()
}

func (s *pdfScanner) skipWSAndComments() error {
	for {
		if err := s.ensure(s.pos); err != nil {
			return err
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			// a comment runs to the end of the line, nested '%' included
			for {
				s.pos++
				if err := s.ensure(s.pos); err != nil {
					return err
				}
				if isEOL(s.data[s.pos]) {
					break
				}
			}
			continue
		}
		return nil
	}
}

// ensure makes data[n] addressable, returning io.EOF if the input is shorter.
func (s *pdfScanner) ensure(n int64) error {
	for int64(len(s.data)) <= n {
		if s.eof {
			return io.EOF
		}
		if err := s.loadMore(); err != nil {
			return err
		}
	}
	return nil
}

func (s *pdfScanner) loadMore() error {
	buf := make([]byte, s.chunkSize)
	off := int64(len(s.data))
	n, err := s.reader.ReadAt(buf, off)
	if n > 0 {
		s.data = append(s.data, buf[:n]...)
	}
	if err == io.EOF || (err == nil && n == 0) {
		s.eof = true
		return nil
	}
	return errors.Wrapf(err, "read at %d", off)
}

func (s *pdfScanner) atEnd() bool { return s.ensure(s.pos) != nil }

func isDigitStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for !s.atEnd() {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' {
			a, okA := s.hexAt(s.pos + 1)
			b, okB := s.hexAt(s.pos + 2)
			if okA && okB {
				out.WriteByte(a<<4 | b)
				s.pos += 3
				continue
			}
			if err := s.recover(errors.Wrap(ErrMalformedToken, "bad #xx escape in name"), "name"); err != nil {
				return Token{}, err
			}
		}
		out.WriteByte(c)
		s.pos++
	}
	return s.emit(Token{Type: TokenName, Str: out.String(), Pos: start})
}

func (s *pdfScanner) hexAt(i int64) (byte, bool) {
	if s.ensure(i) != nil {
		return 0, false
	}
	return fromHex(s.data[i])
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	for depth > 0 && !s.atEnd() {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.atEnd() {
				continue
			}
			esc := s.data[s.pos]
			s.pos++
			switch {
			case esc == '\r':
				// line continuation
				if !s.atEnd() && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				for k := 0; k < 2 && !s.atEnd(); k++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				b, ok := translateEscape(esc)
				if !ok {
					if err := s.recover(errors.Wrapf(ErrMalformedToken, "invalid escape \\%c", esc), "literal"); err != nil {
						return Token{}, err
					}
				}
				buf.WriteByte(b)
			}
		case '(':
			depth++
			buf.WriteByte(c)
		case ')':
			depth--
			if depth > 0 {
				buf.WriteByte(c)
			}
		default:
			buf.WriteByte(c)
		}
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, s.fail(errors.Wrap(ErrMalformedToken, "literal string too long"), "literal")
		}
	}
	if depth != 0 {
		if err := s.recover(errors.Wrap(ErrMalformedToken, "unterminated literal string"), "literal"); err != nil {
			return Token{}, err
		}
	}
	return s.emit(Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start})
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var out []byte
	var hi byte
	half := false
	closed := false
	for !s.atEnd() {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			closed = true
			break
		}
		if isWhitespace(c) {
			continue
		}
		v, ok := fromHex(c)
		if !ok {
			if err := s.recover(errors.Wrapf(ErrMalformedToken, "invalid hex digit %q", c), "hex"); err != nil {
				return Token{}, err
			}
			continue
		}
		if half {
			out = append(out, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
		if s.cfg.MaxStringLength > 0 && int64(len(out)) > s.cfg.MaxStringLength {
			return Token{}, s.fail(errors.Wrap(ErrMalformedToken, "hex string too long"), "hex")
		}
	}
	if !closed {
		if err := s.recover(errors.Wrap(ErrMalformedToken, "unterminated hex string"), "hex"); err != nil {
			return Token{}, err
		}
	}
	// odd number of digits: the last one is followed by an implicit 0
	if half {
		out = append(out, hi<<4)
	}
	return s.emit(Token{Type: TokenString, Bytes: out, Hex: true, Pos: start})
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

// skipEOL consumes one CR, LF or CRLF at the cursor.
func (s *pdfScanner) skipEOL() bool {
	if s.atEnd() {
		return false
	}
	switch s.data[s.pos] {
	case '\r':
		s.pos++
		if !s.atEnd() && s.data[s.pos] == '\n' {
			s.pos++
		}
		return true
	case '\n':
		s.pos++
		return true
	}
	return false
}

var endstream = []byte("endstream")

// scanStream consumes the payload after the 'stream' keyword. A length hint
// set by the caller is trusted when 'endstream' follows it, otherwise the
// payload runs to the next 'endstream' marker.
func (s *pdfScanner) scanStream(start int64) (Token, error) {
	if !s.skipEOL() {
		// some writers put a single space or nothing before the data
		if !s.atEnd() && s.data[s.pos] == ' ' {
			s.pos++
		}
		if err := s.recover(errors.Wrap(ErrMalformedToken, "stream keyword not followed by EOL"), "stream"); err != nil {
			return Token{}, err
		}
	}
	dataStart := s.pos
	hint := s.nextStreamLen
	s.nextStreamLen = -1
	if hint >= 0 {
		if s.cfg.MaxStreamLength > 0 && hint > s.cfg.MaxStreamLength {
			return Token{}, s.fail(errors.Errorf("stream length %d exceeds limit", hint), "stream")
		}
		end := dataStart + hint
		if s.ensure(end-1) == nil && s.matchesEndstream(end) {
			payload := append([]byte(nil), s.data[dataStart:end]...)
			s.pos = end
			for isWhitespace(s.data[s.pos]) {
				s.pos++
			}
			s.pos += int64(len(endstream))
			return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
		}
		if err := s.recover(errors.Wrapf(ErrMalformedToken, "stream /Length %d does not reach endstream", hint), "stream"); err != nil {
			return Token{}, err
		}
	}
	idx := s.findEndstream(dataStart)
	if idx < 0 {
		if err := s.recover(errors.Wrap(ErrMalformedToken, "endstream not found"), "stream"); err != nil {
			return Token{}, err
		}
		payload := append([]byte(nil), s.data[dataStart:]...)
		s.pos = int64(len(s.data))
		return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
	}
	end := idx
	if end > dataStart && s.data[end-1] == '\n' {
		end--
	}
	if end > dataStart && s.data[end-1] == '\r' {
		end--
	}
	payload := append([]byte(nil), s.data[dataStart:end]...)
	if s.cfg.MaxStreamLength > 0 && int64(len(payload)) > s.cfg.MaxStreamLength {
		return Token{}, s.fail(errors.New("stream too long"), "stream")
	}
	s.pos = idx + int64(len(endstream))
	return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
}

// matchesEndstream reports whether optional whitespace then 'endstream'
// follows position i.
func (s *pdfScanner) matchesEndstream(i int64) bool {
	for s.ensure(i) == nil && isWhitespace(s.data[i]) {
		i++
	}
	if s.ensure(i+int64(len(endstream))-1) != nil {
		return false
	}
	return bytes.Equal(s.data[i:i+int64(len(endstream))], endstream)
}

func (s *pdfScanner) findEndstream(from int64) int64 {
	i := from
	for {
		if j := bytes.Index(s.data[i:], endstream); j >= 0 {
			return i + int64(j)
		}
		if s.eof || (s.cfg.MaxStreamScan > 0 && int64(len(s.data))-from > s.cfg.MaxStreamScan) {
			return -1
		}
		// keep a tail so a marker spanning two windows is still found
		if next := int64(len(s.data)) - int64(len(endstream)) + 1; next > i {
			i = next
		}
		if err := s.loadMore(); err != nil {
			return -1
		}
	}
}

// scanInlineImage consumes bytes after the ID keyword until an EI delimited
// by whitespace on both sides.
func (s *pdfScanner) scanInlineImage(start int64) (Token, error) {
	if s.atEnd() || !isWhitespace(s.data[s.pos]) {
		return Token{}, s.fail(errors.Wrap(ErrMalformedToken, "inline image missing whitespace after ID"), "inline_image")
	}
	s.pos++
	dataStart := s.pos
	for {
		if err := s.ensure(s.pos + 1); err != nil {
			return Token{}, s.fail(errors.Wrap(ErrMalformedToken, "unterminated inline image"), "inline_image")
		}
		if s.data[s.pos] == 'E' && s.data[s.pos+1] == 'I' {
			prevOK := s.pos > dataStart && isWhitespace(s.data[s.pos-1])
			nextOK := s.ensure(s.pos+2) != nil || isDelimiter(s.data[s.pos+2])
			if prevOK && nextOK {
				end := s.pos - 1
				payload := append([]byte(nil), s.data[dataStart:end]...)
				s.pos += 2
				return s.emit(Token{Type: TokenInlineImage, Bytes: payload, Pos: start})
			}
		}
		s.pos++
		if s.cfg.MaxInlineImage > 0 && s.pos-dataStart > s.cfg.MaxInlineImage {
			return Token{}, s.fail(errors.New("inline image too long"), "inline_image")
		}
	}
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}
func isEOL(c byte) bool { return c == '\r' || c == '\n' }
func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

// IsWhitespace reports whether c is PDF whitespace.
func IsWhitespace(c byte) bool { return isWhitespace(c) }

// IsDelimiter reports whether c ends a regular token.
func IsDelimiter(c byte) bool { return isDelimiter(c) }

func translateEscape(c byte) (byte, bool) {
	switch c {
	case 'n':
		return '\n', true
	case 'r':
		return '\r', true
	case 't':
		return '\t', true
	case 'b':
		return '\b', true
	case 'f':
		return '\f', true
	case '(', ')', '\\':
		return c, true
	default:
		return c, false
	}
}

func (s *pdfScanner) peekAhead(n int64) byte {
	if s.ensure(s.pos+n) != nil {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	for !s.atEnd() && !isDelimiter(s.data[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		// a lone delimiter we do not otherwise handle
		s.pos++
		return Token{Type: TokenKeyword, Str: string(s.data[start]), Pos: start}, nil
	}
	kw := string(s.data[start:s.pos])
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	case "ID":
		return s.scanInlineImage(start)
	default:
		return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
	}
}

func (s *pdfScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	first := s.scanNumberBytes()
	if first == nil {
		s.pos++
		if err := s.recover(errors.Wrapf(ErrMalformedToken, "stray %q", s.data[start]), "number"); err != nil {
			return Token{}, err
		}
		return s.Next()
	}
	tok, err := s.numberToken(first, start)
	if err != nil {
		return Token{}, err
	}
	if !tok.IsInt || tok.Int < 0 {
		return s.emit(tok)
	}
	// lookahead for "gen R"
	after := s.pos
	if s.skipWSAndComments() == nil {
		second := s.scanNumberBytes()
		if second != nil && isPlainUint(second) {
			s.skipWSAndComments()
			if !s.atEnd() && s.data[s.pos] == 'R' && (s.ensure(s.pos+1) != nil || isDelimiter(s.data[s.pos+1])) {
				s.pos++
				gen, _ := strconv.ParseUint(second)
				return Token{Type: TokenRef, Ref: raw.ObjectRef{Num: int(tok.Int), Gen: int(gen)}, Pos: start}, nil
			}
		}
	}
	s.pos = after
	return s.emit(tok)
}

func (s *pdfScanner) numberToken(b []byte, start int64) (Token, error) {
	if bytes.IndexByte(b, '.') < 0 {
		i, n := strconv.ParseInt(b)
		if n == len(b) {
			return Token{Type: TokenNumber, Int: i, IsInt: true, Pos: start}, nil
		}
	}
	f, n := strconv.ParseFloat(b)
	if n != len(b) {
		// "--5", "1.2.3": keep whatever prefix parsed
		if err := s.recover(errors.Wrapf(ErrMalformedToken, "bad number %q", b), "number"); err != nil {
			return Token{}, err
		}
	}
	return Token{Type: TokenNumber, Float: f, Pos: start}, nil
}

func isPlainUint(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(b) > 0
}

func (s *pdfScanner) scanNumberBytes() []byte {
	start := s.pos
	seenDigit := false
	for !s.atEnd() {
		c := s.data[s.pos]
		if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
			if c >= '0' && c <= '9' {
				seenDigit = true
			}
			s.pos++
			continue
		}
		break
	}
	if !seenDigit {
		s.pos = start
		return nil
	}
	return s.data[start:s.pos]
}

// recover consults the recovery strategy. A nil return means the caller may
// continue with its best-effort result.
func (s *pdfScanner) recover(err error, component string) error {
	loc := s.location(component)
	s.log.Debug("malformed input",
		observability.String("component", loc.Component),
		observability.Int64("offset", loc.ByteOffset),
		observability.Error("error", err),
		observability.Hexdump("bytes", observability.Window(s.data, s.pos)),
	)
	if s.cfg.Recovery == nil {
		return nil
	}
	if s.cfg.Recovery.OnError(err, loc).Continue() {
		return nil
	}
	return err
}

// fail reports an unrecoverable condition; the strategy is informed but
// cannot override it.
func (s *pdfScanner) fail(err error, component string) error {
	if s.cfg.Recovery != nil {
		s.cfg.Recovery.OnError(err, s.location(component))
	}
	return err
}

func (s *pdfScanner) location(component string) recovery.Location {
	loc := s.recLoc
	loc.ByteOffset = s.pos
	if loc.Component != "" {
		loc.Component += "->"
	}
	loc.Component += "scanner:" + component
	return loc
}

func (s *pdfScanner) emit(tok Token) (Token, error) {
	switch tok.Type {
	case TokenArray:
		s.arrayDepth++
		if s.cfg.MaxArrayDepth > 0 && s.arrayDepth > s.cfg.MaxArrayDepth {
			return Token{}, s.fail(errors.New("array depth exceeded"), "array")
		}
	case TokenDict:
		s.dictDepth++
		if s.cfg.MaxDictDepth > 0 && s.dictDepth > s.cfg.MaxDictDepth {
			return Token{}, s.fail(errors.New("dict depth exceeded"), "dict")
		}
	case TokenKeyword:
		if tok.Str == "]" && s.arrayDepth > 0 {
			s.arrayDepth--
		}
		if tok.Str == ">>" && s.dictDepth > 0 {
			s.dictDepth--
		}
	}
	return tok, nil
}
