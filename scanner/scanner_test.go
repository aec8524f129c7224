package scanner

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/recovery"
)

func newScanner(t *testing.T, data string, cfg Config) Scanner {
	t.Helper()
	return New(bytes.NewReader([]byte(data)), cfg)
}

func nextToken(t *testing.T, s Scanner) Token {
	t.Helper()
	tok, err := s.Next()
	require.NoError(t, err)
	return tok
}

func TestScanner_BasicTokens(t *testing.T) {
	s := newScanner(t, "%PDF-1.7\n1 0 obj\n<< /Name /Value /Nums [1 -2 3.5] /Flag true /Null null >>\nendobj", Config{})

	tok := nextToken(t, s)
	require.Equal(t, TokenNumber, tok.Type)
	assert.True(t, tok.IsInt)
	assert.EqualValues(t, 1, tok.Int)
	tok = nextToken(t, s)
	assert.EqualValues(t, 0, tok.Int)
	assert.True(t, nextToken(t, s).IsKeyword("obj"))
	assert.Equal(t, TokenDict, nextToken(t, s).Type)
	assert.Equal(t, "Name", nextToken(t, s).Str)
	assert.Equal(t, "Value", nextToken(t, s).Str)
	assert.Equal(t, "Nums", nextToken(t, s).Str)
	assert.Equal(t, TokenArray, nextToken(t, s).Type)
	assert.EqualValues(t, 1, nextToken(t, s).Int)
	assert.EqualValues(t, -2, nextToken(t, s).Int)
	tok = nextToken(t, s)
	assert.False(t, tok.IsInt)
	assert.Equal(t, 3.5, tok.Number())
	assert.True(t, nextToken(t, s).IsKeyword("]"))
	assert.Equal(t, "Flag", nextToken(t, s).Str)
	tok = nextToken(t, s)
	assert.Equal(t, TokenBoolean, tok.Type)
	assert.True(t, tok.Bool)
	assert.Equal(t, "Null", nextToken(t, s).Str)
	assert.Equal(t, TokenNull, nextToken(t, s).Type)
	assert.True(t, nextToken(t, s).IsKeyword(">>"))
	assert.True(t, nextToken(t, s).IsKeyword("endobj"))
	_, err := s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestScanner_WhitespaceVariants(t *testing.T) {
	s := newScanner(t, "1\x00\t2\x0c3\r\n4 % comment % nested\n5", Config{})
	for i := int64(1); i <= 5; i++ {
		assert.EqualValues(t, i, nextToken(t, s).Int)
	}
}

func TestScanner_NameHexEscapes(t *testing.T) {
	tok := nextToken(t, newScanner(t, "/Name#20With#23Hash", Config{}))
	assert.Equal(t, TokenName, tok.Type)
	assert.Equal(t, "Name With#Hash", tok.Str)
}

func TestScanner_LiteralStrings(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"escapes", `(Hi\n\050\051\t)`, "Hi\n()\t"},
		{"continuation", "(Line\\\r\ncontinued)", "Linecontinued"},
		{"nested parens", "(a (b) c)", "a (b) c"},
		{"octal short", `(\7x)`, "\x07x"},
		{"invalid escape kept literally", `(a\qb)`, "aqb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := nextToken(t, newScanner(t, tt.in, Config{}))
			require.Equal(t, TokenString, tok.Type)
			assert.False(t, tok.Hex)
			assert.Equal(t, tt.want, string(tok.Bytes))
		})
	}
}

func TestScanner_InvalidEscapeReported(t *testing.T) {
	rec := recovery.NewLenientStrategy(nil)
	tok := nextToken(t, newScanner(t, `(a\qb)`, Config{Recovery: rec}))
	assert.Equal(t, "aqb", string(tok.Bytes))
	require.Len(t, rec.Errors, 1)
	assert.True(t, errors.Is(rec.Errors[0], ErrMalformedToken))

	_, err := newScanner(t, `(a\qb)`, Config{Recovery: recovery.NewStrictStrategy()}).Next()
	assert.True(t, errors.Is(err, ErrMalformedToken))
}

func TestScanner_HexStrings(t *testing.T) {
	tok := nextToken(t, newScanner(t, "<48656c6c6f3>", Config{}))
	assert.True(t, tok.Hex)
	assert.Equal(t, "Hello0", string(tok.Bytes))

	tok = nextToken(t, newScanner(t, "<41 42\n43>", Config{}))
	assert.Equal(t, "ABC", string(tok.Bytes))
}

func TestScanner_ReferenceDetection(t *testing.T) {
	tok := nextToken(t, newScanner(t, "12 5 R %comment\n", Config{}))
	require.Equal(t, TokenRef, tok.Type)
	assert.Equal(t, raw.ObjectRef{Num: 12, Gen: 5}, tok.Ref)
}

func TestScanner_NumbersBeforeOperatorStartingWithR(t *testing.T) {
	s := newScanner(t, "1 0 0 RG", Config{})
	for _, want := range []int64{1, 0, 0} {
		tok := nextToken(t, s)
		require.Equal(t, TokenNumber, tok.Type)
		assert.Equal(t, want, tok.Int)
	}
	assert.True(t, nextToken(t, s).IsKeyword("RG"))
}

func TestScanner_StreamWithLength(t *testing.T) {
	s := newScanner(t, "stream\r\nabcde\r\nendstream", Config{})
	s.SetNextStreamLength(5)
	tok := nextToken(t, s)
	require.Equal(t, TokenStream, tok.Type)
	assert.Equal(t, "abcde", string(tok.Bytes))
}

func TestScanner_StreamWrongLengthFallsBackToEndstream(t *testing.T) {
	s := newScanner(t, "stream\nabcdefgh\nendstream\nendobj", Config{})
	s.SetNextStreamLength(3)
	tok := nextToken(t, s)
	assert.Equal(t, "abcdefgh", string(tok.Bytes))
	assert.True(t, nextToken(t, s).IsKeyword("endobj"))
}

func TestScanner_StreamFallbackToEndstream(t *testing.T) {
	tests := map[string]string{
		"crlf": "stream\nabc\r\nendstream\n",
		"cr":   "stream\rabc\rendstream\r",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			tok := nextToken(t, newScanner(t, data, Config{}))
			assert.Equal(t, "abc", string(tok.Bytes))
		})
	}
}

func TestScanner_StreamAcrossWindows(t *testing.T) {
	payload := strings.Repeat("x", 100)
	s := newScanner(t, "stream\n"+payload+"\nendstream", Config{WindowSize: 16})
	tok := nextToken(t, s)
	assert.Equal(t, payload, string(tok.Bytes))
}

func TestScanner_Limits(t *testing.T) {
	strict := recovery.NewStrictStrategy()
	tests := []struct {
		name string
		in   string
		cfg  Config
		want string
	}{
		{"hex", "<000102>", Config{MaxStringLength: 2}, "hex string too long"},
		{"literal", "(abcdef)", Config{MaxStringLength: 3}, "literal string too long"},
		{"inline image", "ID \nabcdefghijk\nEI", Config{MaxInlineImage: 5}, "inline image too long"},
		{"unterminated", "(abc", Config{Recovery: strict}, "unterminated literal string"},
		{"unterminated hex", "<abc", Config{Recovery: strict}, "unterminated hex string"},
		{"scan limit", "stream\nabc", Config{MaxStreamScan: 2, Recovery: strict}, "endstream not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newScanner(t, tt.in, tt.cfg).Next()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestScanner_DepthLimits(t *testing.T) {
	s := newScanner(t, "<< /A << /B << >> >> >>", Config{MaxDictDepth: 2})
	var err error
	for err == nil {
		_, err = s.Next()
	}
	assert.Contains(t, err.Error(), "dict depth exceeded")
}

func TestScanner_InlineImage(t *testing.T) {
	s := newScanner(t, "ID \nabc\nEI\nBT", Config{MaxInlineImage: 10})
	tok := nextToken(t, s)
	require.Equal(t, TokenInlineImage, tok.Type)
	assert.Equal(t, "\nabc", string(tok.Bytes))
	assert.True(t, nextToken(t, s).IsKeyword("BT"))
}

func TestScanner_LenientRecovery(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"unterminated literal", "(abc", "abc"},
		{"unterminated hex", "<4142", "AB"},
		{"bad hex digit", "<41zz42>", "AB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := nextToken(t, newScanner(t, tt.in, Config{Recovery: recovery.NewLenientStrategy(nil)}))
			assert.Equal(t, tt.want, string(tok.Bytes))
		})
	}
}

type recordRecovery struct {
	loc recovery.Location
	err error
}

func (r *recordRecovery) OnError(err error, loc recovery.Location) recovery.Action {
	r.loc = loc
	r.err = err
	return recovery.ActionFail
}

func TestScanner_RecoveryContextIncludesObject(t *testing.T) {
	rec := &recordRecovery{}
	s := newScanner(t, "<abc", Config{Recovery: rec})
	s.SetRecoveryLocation(recovery.Location{ObjectNum: 5, ObjectGen: 2, Component: "parser"})
	_, err := s.Next()
	require.Error(t, err)
	assert.Equal(t, 5, rec.loc.ObjectNum)
	assert.Equal(t, 2, rec.loc.ObjectGen)
	assert.Contains(t, rec.loc.Component, "parser->scanner:hex")
}

func TestScanner_SeekRestarts(t *testing.T) {
	s := newScanner(t, "1 2 3", Config{})
	nextToken(t, s)
	nextToken(t, s)
	require.NoError(t, s.Seek(0))
	assert.EqualValues(t, 1, nextToken(t, s).Int)
	assert.Error(t, s.Seek(100))
}
